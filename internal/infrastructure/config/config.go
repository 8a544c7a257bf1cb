package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root of the service configuration, mirroring the
// top-level sections of config.yaml.
type Config struct {
	Motor     MotorConfig     `yaml:"motor"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// MotorConfig describes the PoE motor controller this service drives
// and the timing of its TCP link.
type MotorConfig struct {
	// ID identifies this motor in MQTT topics and telemetry.
	ID string `yaml:"id"`

	// Host is the controller's IP address or hostname. Required.
	Host string `yaml:"host"`

	// Port is the controller's TCP port. Default: 17002.
	Port int `yaml:"port"`

	// CommandTimeout is the per-command response deadline in seconds.
	// Default: 10.
	CommandTimeout int `yaml:"command_timeout"`

	// ReconnectInterval is the fixed delay between reconnection
	// attempts in seconds. Default: 10.
	ReconnectInterval int `yaml:"reconnect_interval"`

	// HealthCheckInterval is the period between liveness probes in
	// seconds. 0 disables the health monitor. Default: 60.
	HealthCheckInterval int `yaml:"health_check_interval"`

	// StabiliseDelayMs is how long to wait after socket establishment
	// before the connection is considered usable, in milliseconds.
	// The controller needs a settling period after accept. Default: 500.
	StabiliseDelayMs int `yaml:"stabilise_delay_ms"`
}

// DatabaseConfig configures the SQLite store for position history and
// the command audit log.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig configures the Home Assistant bridge's broker link.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig identifies the broker to connect to.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig holds broker credentials. Leave empty for an open
// broker; set the password through RENKEI_MQTT_PASSWORD in production.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig shapes the broker reconnect backoff, in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig configures the HTTP listener.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig holds the HTTP server deadlines, in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig restricts which browser origins may call the API. Empty
// lists fall back to permissive defaults suited to a LAN dashboard.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig tunes the event stream endpoint.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB time-series database settings.
// Telemetry is optional; when disabled, position samples are kept only
// in SQLite history.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig selects log level, format (text or json) and
// destination (stdout, stderr or a file path).
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig groups the authentication settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT bearer token settings for the HTTP API.
// An empty secret disables API authentication.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// Load reads the YAML file at path into a Config. Defaults are applied
// first, the file overrides them, RENKEI_* environment variables
// override the file, and the result is validated before being returned.
// A non-nil Config is always valid.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults. The motor
// timings match the controller documentation.
func defaultConfig() *Config {
	return &Config{
		Motor: MotorConfig{
			ID:                  "renkei-motor",
			Port:                17002,
			CommandTimeout:      10,
			ReconnectInterval:   10,
			HealthCheckInterval: 60,
			StabiliseDelayMs:    500,
		},
		Database: DatabaseConfig{
			Path:        "./data/renkei.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "renkei-poe",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0, // unlimited
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			URL:           "http://localhost:8086",
			Org:           "renkei",
			Bucket:        "motor",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 15,
			},
		},
	}
}

// applyEnvOverrides lets RENKEI_SECTION_KEY environment variables
// override the file. Only fields that plausibly differ per deployment
// (addresses and secrets) are overridable; behavioural tuning stays in
// the file.
func applyEnvOverrides(cfg *Config) {
	overrideString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	overrideString("RENKEI_MOTOR_HOST", &cfg.Motor.Host)
	overrideString("RENKEI_DATABASE_PATH", &cfg.Database.Path)
	overrideString("RENKEI_MQTT_HOST", &cfg.MQTT.Broker.Host)
	overrideString("RENKEI_MQTT_USERNAME", &cfg.MQTT.Auth.Username)
	overrideString("RENKEI_MQTT_PASSWORD", &cfg.MQTT.Auth.Password)
	overrideString("RENKEI_API_HOST", &cfg.API.Host)
	overrideString("RENKEI_INFLUXDB_TOKEN", &cfg.InfluxDB.Token)
	overrideString("RENKEI_JWT_SECRET", &cfg.Security.JWT.Secret)

	if v := os.Getenv("RENKEI_MOTOR_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Motor.Port = port
		}
	}
}

// Validate collects every problem with the configuration into one
// error, so a misconfigured deployment fails with the full list rather
// than one complaint per restart.
func (c *Config) Validate() error {
	var errs []string

	if c.Motor.Host == "" {
		errs = append(errs, "motor.host is required (set RENKEI_MOTOR_HOST environment variable)")
	}
	if c.Motor.Port < 1 || c.Motor.Port > 65535 {
		errs = append(errs, "motor.port must be between 1 and 65535")
	}
	if c.Motor.CommandTimeout < 1 {
		errs = append(errs, "motor.command_timeout must be at least 1 second")
	}
	if c.Motor.ReconnectInterval < 1 {
		errs = append(errs, "motor.reconnect_interval must be at least 1 second")
	}
	if c.Motor.HealthCheckInterval < 0 {
		errs = append(errs, "motor.health_check_interval must be 0 (disabled) or positive")
	}
	if c.Motor.StabiliseDelayMs < 0 {
		errs = append(errs, "motor.stabilise_delay_ms must not be negative")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Token == "" {
			errs = append(errs, "influxdb.token is required when influxdb is enabled (set RENKEI_INFLUXDB_TOKEN)")
		}
	}

	// An empty secret disables API auth, which is acceptable on a
	// trusted LAN; a set secret must not be trivially brute-forceable.
	const minJWTSecretLength = 32
	if s := c.Security.JWT.Secret; s != "" && len(s) < minJWTSecretLength {
		errs = append(errs, fmt.Sprintf("security.jwt.secret must be at least %d characters when set", minJWTSecretLength))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// AuthEnabled reports whether API requests must carry a JWT bearer token.
func (c *Config) AuthEnabled() bool {
	return c.Security.JWT.Secret != ""
}

// CommandTimeoutDuration returns the motor command timeout as a Duration.
func (m MotorConfig) CommandTimeoutDuration() time.Duration {
	return time.Duration(m.CommandTimeout) * time.Second
}

// ReconnectIntervalDuration returns the reconnect interval as a Duration.
func (m MotorConfig) ReconnectIntervalDuration() time.Duration {
	return time.Duration(m.ReconnectInterval) * time.Second
}

// HealthCheckIntervalDuration returns the health probe interval as a
// Duration. Zero means the health monitor is disabled.
func (m MotorConfig) HealthCheckIntervalDuration() time.Duration {
	return time.Duration(m.HealthCheckInterval) * time.Second
}

// StabiliseDelayDuration returns the post-connect settling delay as a Duration.
func (m MotorConfig) StabiliseDelayDuration() time.Duration {
	return time.Duration(m.StabiliseDelayMs) * time.Millisecond
}

// HTTP server timeouts, converted from the seconds stored in YAML.

func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

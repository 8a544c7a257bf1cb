// RENKEI PoE HA - Motor Control Service
//
// This is the main entry point for the RENKEI PoE HA service. It owns a
// persistent TCP connection to one RENKEI PoE motor controller and
// exposes the motor over:
//   - MQTT (Home Assistant style command/state/availability topics)
//   - REST + WebSocket API (direct control and live position streaming)
//
// Position history and command audit rows land in SQLite; time-series
// samples go to InfluxDB when enabled.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/dendo-systems/renkei-poe-ha/migrations"

	"github.com/dendo-systems/renkei-poe-ha/internal/api"
	"github.com/dendo-systems/renkei-poe-ha/internal/bridge"
	"github.com/dendo-systems/renkei-poe-ha/internal/infrastructure/config"
	"github.com/dendo-systems/renkei-poe-ha/internal/infrastructure/database"
	"github.com/dendo-systems/renkei-poe-ha/internal/infrastructure/influxdb"
	"github.com/dendo-systems/renkei-poe-ha/internal/infrastructure/logging"
	"github.com/dendo-systems/renkei-poe-ha/internal/infrastructure/mqtt"
	"github.com/dendo-systems/renkei-poe-ha/internal/motor"
	"github.com/dendo-systems/renkei-poe-ha/internal/renkei"
)

// Set at build time:
// go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the service together and blocks until ctx is cancelled.
// Split out of main so tests can drive a full startup/shutdown cycle
// and so exit codes stay in one place.
func run(ctx context.Context) error {
	// Bootstrap logger; replaced once config is loaded.
	log := logging.Default()
	log.Info("starting RENKEI PoE HA",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("config loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logging configured",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing SQLite database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("database close failed", "error", closeErr)
		}
	}()
	log.Info("database open", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("schema migrations applied")

	// Telemetry is optional; the coordinator runs without it.
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("flushing and closing InfluxDB")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("InfluxDB close failed", "error", closeErr)
			}
		}()
		log.Info("telemetry sink connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("telemetry write failed", "error", err)
		})
	} else {
		log.Info("telemetry disabled, skipping InfluxDB")
	}

	client := renkei.New(renkei.Config{
		Host:                cfg.Motor.Host,
		Port:                cfg.Motor.Port,
		CommandTimeout:      time.Duration(cfg.Motor.CommandTimeout) * time.Second,
		ReconnectInterval:   time.Duration(cfg.Motor.ReconnectInterval) * time.Second,
		HealthCheckInterval: time.Duration(cfg.Motor.HealthCheckInterval) * time.Second,
		StabiliseDelay:      time.Duration(cfg.Motor.StabiliseDelayMs) * time.Millisecond,
	})
	client.SetLogger(log)

	coordCfg := motor.Config{
		MotorID: cfg.Motor.ID,
		Client:  client,
		History: motor.NewSQLiteHistoryRepository(db.DB),
		Logger:  log,
	}
	if influxClient != nil {
		coordCfg.Telemetry = influxClient
	}
	coord, err := motor.NewCoordinator(coordCfg)
	if err != nil {
		return fmt.Errorf("creating coordinator: %w", err)
	}
	if startErr := coord.Start(ctx); startErr != nil {
		return fmt.Errorf("starting coordinator: %w", startErr)
	}
	defer func() {
		log.Info("disconnecting from motor")
		if closeErr := coord.Close(); closeErr != nil {
			log.Error("error disconnecting from motor", "error", closeErr)
		}
	}()
	log.Info("motor coordinator started",
		"motor_id", cfg.Motor.ID,
		"controller", fmt.Sprintf("%s:%d", cfg.Motor.Host, cfg.Motor.Port),
	)

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT, mqtt.WithAvailabilityWill(cfg.Motor.ID))
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from broker")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("broker disconnect failed", "error", closeErr)
			}
		}()
		log.Info("broker connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetOnConnect(func() {
			log.Info("broker connection restored")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("broker connection lost", "error", err)
		})

		mqttBridge, bridgeErr := bridge.New(bridge.Options{
			MQTTClient:  mqttClient,
			Coordinator: coord,
			Logger:      log,
		})
		if bridgeErr != nil {
			return fmt.Errorf("creating MQTT bridge: %w", bridgeErr)
		}
		if startErr := mqttBridge.Start(ctx); startErr != nil {
			return fmt.Errorf("starting MQTT bridge: %w", startErr)
		}
		defer func() {
			log.Info("stopping MQTT bridge")
			mqttBridge.Stop()
		}()
		log.Info("MQTT bridge started", "motor_id", cfg.Motor.ID)
	} else {
		log.Info("MQTT disabled")
	}

	apiServer, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Security:    cfg.Security,
		Logger:      log,
		Coordinator: coord,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()
	log.Info("API server started",
		"addr", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		"auth", cfg.AuthEnabled(),
	)

	// Verify infrastructure connections are healthy. The motor link is
	// deliberately excluded: the client reconnects in the background and
	// the service is useful while it does.
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("infrastructure health checks passed")

	log.Info("startup complete, serving")

	<-ctx.Done()
	log.Info("shutdown requested")

	// Teardown happens in the deferred Close calls, in reverse order
	// of construction: API, bridge and broker, coordinator, InfluxDB,
	// database.
	log.Info("RENKEI PoE HA stopped")
	return nil
}

// getConfigPath honours RENKEI_CONFIG, falling back to the bundled
// default path.
func getConfigPath() string {
	if path := os.Getenv("RENKEI_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck probes each infrastructure connection once after
// startup. The optional clients may be nil when their feature is
// disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

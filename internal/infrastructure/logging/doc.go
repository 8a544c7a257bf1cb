// Package logging wraps log/slog for the RENKEI service.
//
// Every record carries service and version fields. Because Logger
// embeds *slog.Logger, it plugs straight into the Logger interfaces the
// renkei client, motor coordinator, MQTT bridge and broker client
// declare for themselves.
//
// Configured via the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, or a file path
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("motor connected", "motor_id", "blind-office")
//
// Never log secrets: broker passwords, JWT secrets and InfluxDB tokens
// stay out of log fields.
package logging

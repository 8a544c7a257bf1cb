package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/dendo-systems/renkei-poe-ha/internal/infrastructure/config"
)

// logFilePermissions restricts log files to the service user.
const logFilePermissions = 0600

// Logger is the service's structured logger. It embeds slog.Logger, so
// it satisfies the Logger interfaces declared by the renkei, motor,
// bridge and mqtt packages directly, and is safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New builds a Logger from config: level filtering, text or JSON
// format, destination (stdout, stderr, or a file path), and service and
// version fields stamped on every record.
func New(cfg config.LoggingConfig, version string) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	output := openOutput(cfg.Output)

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(output, opts)
	default:
		handler = slog.NewJSONHandler(output, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", "renkei"),
		slog.String("version", version),
	})

	return &Logger{Logger: slog.New(handler)}
}

// openOutput resolves the configured destination. Anything that isn't
// stdout/stderr is treated as a file path, appended to across restarts.
// If the file cannot be opened, logging falls back to stdout rather
// than losing the boot sequence.
func openOutput(dest string) io.Writer {
	switch strings.ToLower(dest) {
	case "", "stdout":
		return os.Stdout
	case "stderr":
		return os.Stderr
	}

	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermissions)
	if err != nil {
		return os.Stdout
	}
	return f
}

// parseLevel maps debug/info/warn/error to slog levels, defaulting to
// info for anything unrecognised.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a Logger that stamps the given attributes on every
// record, for per-component child loggers.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Default is the early-startup logger used before config is loaded:
// JSON to stdout at info level.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}

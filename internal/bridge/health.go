package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/dendo-systems/renkei-poe-ha/internal/infrastructure/mqtt"
	"github.com/dendo-systems/renkei-poe-ha/internal/motor"
)

// defaultHealthInterval is used when HealthReporterConfig leaves
// Interval unset.
const defaultHealthInterval = 30 * time.Second

// HealthPublisher is the publishing side of the MQTT client.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// HealthSource provides the link state and counters for health reports.
// Satisfied by *motor.Coordinator.
type HealthSource interface {
	Diagnostics() motor.Diagnostics
	Connected() bool
}

// HealthReporterConfig configures a HealthReporter.
type HealthReporterConfig struct {
	// MotorID is the motor identifier for health messages.
	MotorID string

	// Interval between reports. Defaults to 30 seconds.
	Interval time.Duration

	// Publisher delivers reports to the broker.
	Publisher HealthPublisher

	// Coordinator supplies connection state and link counters.
	Coordinator HealthSource

	// Logger for publish failures. Optional.
	Logger motor.Logger
}

// HealthReporter publishes a retained link health report on the motor's
// health topic at a fixed interval, plus one on startup and a final
// "stopping" report on shutdown. The report is degraded whenever either
// leg of the bridge (broker or motor) is down.
type HealthReporter struct {
	motorID   string
	startTime time.Time
	interval  time.Duration
	publisher HealthPublisher
	coord     HealthSource
	logger    motor.Logger

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewHealthReporter creates a health reporter. Call Start to begin
// reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultHealthInterval
	}

	return &HealthReporter{
		motorID:   cfg.MotorID,
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		coord:     cfg.Coordinator,
		logger:    cfg.Logger,
		done:      make(chan struct{}),
	}
}

// Start begins periodic health reporting. Call Stop to shut down.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop halts reporting and publishes a final "stopping" status. Safe to
// call more than once.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		// Best-effort during shutdown, nothing we can do if it fails
		//nolint:errcheck
		h.publishStatus(HealthStopping, "service shutting down")
	})
}

// PublishNow publishes the current health status immediately, outside
// the regular cadence. Used after significant link events.
func (h *HealthReporter) PublishNow() error {
	return h.publishStatus(h.currentStatus())
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logError("failed to publish initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

// currentStatus folds both link legs into one status. Broker loss wins
// over motor loss because a report about the latter may not even reach
// anyone.
func (h *HealthReporter) currentStatus() (HealthStatus, string) {
	switch {
	case h.publisher == nil || !h.publisher.IsConnected():
		return HealthDegraded, "MQTT disconnected"
	case h.coord == nil || !h.coord.Connected():
		return HealthDegraded, "motor disconnected"
	default:
		return HealthHealthy, ""
	}
}

func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.publisher == nil {
		return nil
	}

	var diag motor.Diagnostics
	if h.coord != nil {
		diag = h.coord.Diagnostics()
	}

	msg := NewHealthMessage(h.motorID, status, diag.Stats, h.startTime)
	msg.Reason = reason

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return h.publisher.Publish(mqtt.Topics{}.MotorHealth(h.motorID), payload, defaultQoS, true)
}

func (h *HealthReporter) logError(msg string, err error) {
	if h.logger != nil {
		h.logger.Error(msg, "error", err)
	}
}

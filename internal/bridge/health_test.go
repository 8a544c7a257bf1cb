package bridge

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/dendo-systems/renkei-poe-ha/internal/motor"
	"github.com/dendo-systems/renkei-poe-ha/internal/renkei"
)

func newTestReporter(broker *MockMQTTClient, coord *fakeCoordinator) *HealthReporter {
	return NewHealthReporter(HealthReporterConfig{
		MotorID:     "blind-office",
		Interval:    time.Hour,
		Publisher:   broker,
		Coordinator: coord,
	})
}

func decodeHealth(t *testing.T, broker *MockMQTTClient) HealthMessage {
	t.Helper()

	healths := broker.PublishedTo("/health")
	if len(healths) == 0 {
		t.Fatal("expected a health publish")
	}
	last := healths[len(healths)-1]
	if !last.Retained {
		t.Error("health publishes should be retained")
	}
	var msg HealthMessage
	if err := json.Unmarshal(last.Payload, &msg); err != nil {
		t.Fatalf("failed to unmarshal health: %v", err)
	}
	return msg
}

func TestHealthReporterHealthy(t *testing.T) {
	broker := NewMockMQTTClient()
	coord := newFakeCoordinator()
	coord.diag = motor.Diagnostics{
		MotorID: "blind-office",
		Stats: renkei.ClientStats{
			FramesTx:        10,
			FramesRx:        12,
			ReconnectsTotal: 1,
			State:           renkei.StateConnected,
		},
	}

	h := newTestReporter(broker, coord)
	if err := h.PublishNow(); err != nil {
		t.Fatalf("PublishNow() error: %v", err)
	}

	msg := decodeHealth(t, broker)
	if msg.Status != HealthHealthy {
		t.Errorf("status = %s, want %s", msg.Status, HealthHealthy)
	}
	if msg.MotorID != "blind-office" {
		t.Errorf("motor_id = %s, want blind-office", msg.MotorID)
	}
	if msg.Connection != "connected" {
		t.Errorf("connection = %s, want connected", msg.Connection)
	}
	if msg.Statistics == nil {
		t.Fatal("expected statistics in health report")
	}
	if msg.Statistics.FramesSent != 10 || msg.Statistics.FramesReceived != 12 {
		t.Errorf("statistics = %+v, want 10 sent / 12 received", msg.Statistics)
	}
	if msg.Statistics.Reconnects != 1 {
		t.Errorf("reconnects = %d, want 1", msg.Statistics.Reconnects)
	}
}

func TestHealthReporterDegradedWhenMotorDown(t *testing.T) {
	broker := NewMockMQTTClient()
	coord := newFakeCoordinator()
	coord.connected = false

	h := newTestReporter(broker, coord)
	if err := h.PublishNow(); err != nil {
		t.Fatalf("PublishNow() error: %v", err)
	}

	msg := decodeHealth(t, broker)
	if msg.Status != HealthDegraded {
		t.Errorf("status = %s, want %s", msg.Status, HealthDegraded)
	}
	if msg.Reason != "motor disconnected" {
		t.Errorf("reason = %q, want %q", msg.Reason, "motor disconnected")
	}
}

func TestHealthReporterDegradedWhenBrokerDown(t *testing.T) {
	broker := NewMockMQTTClient()
	broker.SetConnected(false)
	coord := newFakeCoordinator()

	h := newTestReporter(broker, coord)
	if err := h.PublishNow(); err != nil {
		t.Fatalf("PublishNow() error: %v", err)
	}

	msg := decodeHealth(t, broker)
	if msg.Status != HealthDegraded {
		t.Errorf("status = %s, want %s", msg.Status, HealthDegraded)
	}
	if msg.Reason != "MQTT disconnected" {
		t.Errorf("reason = %q, want %q", msg.Reason, "MQTT disconnected")
	}
}

func TestHealthReporterStopPublishesStopping(t *testing.T) {
	broker := NewMockMQTTClient()
	coord := newFakeCoordinator()

	h := newTestReporter(broker, coord)
	h.Start(t.Context())
	h.Stop()

	msg := decodeHealth(t, broker)
	if msg.Status != HealthStopping {
		t.Errorf("final status = %s, want %s", msg.Status, HealthStopping)
	}
}

func TestNewHealthMessageLastSeen(t *testing.T) {
	seen := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	msg := NewHealthMessage("blind-office", HealthHealthy, renkei.ClientStats{LastSeen: seen}, time.Now())
	if msg.LastSeen == nil || !msg.LastSeen.Equal(seen) {
		t.Errorf("last_seen = %v, want %v", msg.LastSeen, seen)
	}

	msg = NewHealthMessage("blind-office", HealthHealthy, renkei.ClientStats{}, time.Now())
	if msg.LastSeen != nil {
		t.Errorf("last_seen = %v, want nil for zero LastSeen", msg.LastSeen)
	}
}

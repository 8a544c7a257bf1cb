//go:build integration

package mqtt

import (
	"sync"
	"testing"
	"time"

	"github.com/dendo-systems/renkei-poe-ha/internal/infrastructure/config"
)

// Integration tests against a live broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -count=1 -v ./internal/infrastructure/mqtt/...

func integrationConfig(clientID string) config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: clientID,
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// TestIntegration_SubscriptionTracking verifies the bookkeeping that
// reconnect restoration relies on.
func TestIntegration_SubscriptionTracking(t *testing.T) {
	client, err := Connect(integrationConfig("renkei-int-sub-track"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	topics := []string{
		Topics{}.MotorCommand("int-a"),
		Topics{}.MotorCommand("int-b"),
		Topics{}.MotorState("int-a"),
	}
	handler := func(topic string, payload []byte) error { return nil }

	for _, topic := range topics {
		if err := client.Subscribe(topic, 1, handler); err != nil {
			t.Fatalf("Subscribe(%s) error = %v", topic, err)
		}
	}
	if got := client.SubscriptionCount(); got != len(topics) {
		t.Errorf("SubscriptionCount() = %d, want %d", got, len(topics))
	}

	if err := client.Unsubscribe(topics[0]); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if client.HasSubscription(topics[0]) {
		t.Errorf("HasSubscription(%s) = true after unsubscribe", topics[0])
	}
	if got := client.SubscriptionCount(); got != len(topics)-1 {
		t.Errorf("SubscriptionCount() = %d, want %d", got, len(topics)-1)
	}
}

// TestIntegration_CommandRoundtrip publishes a command the way the
// bridge receives one and checks it arrives intact.
func TestIntegration_CommandRoundtrip(t *testing.T) {
	pub, err := Connect(integrationConfig("renkei-int-pub"))
	if err != nil {
		t.Fatalf("Connect() publisher error = %v", err)
	}
	defer pub.Close()

	sub, err := Connect(integrationConfig("renkei-int-sub"))
	if err != nil {
		t.Fatalf("Connect() subscriber error = %v", err)
	}
	defer sub.Close()

	topic := Topics{}.MotorCommand("int-roundtrip")
	command := `{"id":"cmd-1","action":"move","position":50}`

	received := make(chan string, 1)
	var once sync.Once
	err = sub.Subscribe(topic, 1, func(_ string, p []byte) error {
		once.Do(func() { received <- string(p) })
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	// Give the broker a moment to register the subscription.
	time.Sleep(100 * time.Millisecond)

	if err := pub.PublishString(topic, command, 1, false); err != nil {
		t.Fatalf("PublishString() error = %v", err)
	}

	select {
	case msg := <-received:
		if msg != command {
			t.Errorf("received %q, want %q", msg, command)
		}
	case <-time.After(5 * time.Second):
		t.Error("timeout waiting for command")
	}
}

// TestIntegration_RetainedState verifies a late subscriber sees the
// retained motor state immediately.
func TestIntegration_RetainedState(t *testing.T) {
	pub, err := Connect(integrationConfig("renkei-int-retain-pub"))
	if err != nil {
		t.Fatalf("Connect() publisher error = %v", err)
	}
	defer pub.Close()

	topic := Topics{}.MotorState("int-retained")
	state := `{"position_percent":42.5}`
	if err := pub.PublishRetained(topic, []byte(state)); err != nil {
		t.Fatalf("PublishRetained() error = %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	late, err := Connect(integrationConfig("renkei-int-retain-sub"))
	if err != nil {
		t.Fatalf("Connect() subscriber error = %v", err)
	}
	defer late.Close()

	received := make(chan string, 1)
	var once sync.Once
	err = late.Subscribe(topic, 1, func(_ string, p []byte) error {
		once.Do(func() { received <- string(p) })
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	select {
	case msg := <-received:
		if msg != state {
			t.Errorf("retained state = %q, want %q", msg, state)
		}
	case <-time.After(5 * time.Second):
		t.Error("timeout waiting for retained state")
	}
}

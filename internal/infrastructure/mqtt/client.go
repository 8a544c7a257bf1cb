package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/dendo-systems/renkei-poe-ha/internal/infrastructure/config"
)

// Client wraps paho.mqtt.golang for the RENKEI service.
//
// It adds subscription tracking (restored automatically after a broker
// reconnect), a last-will tied to the motor's availability topic, and
// panic recovery around message handlers.
//
// Safe for concurrent use.
type Client struct {
	client  pahomqtt.Client
	options *pahomqtt.ClientOptions
	cfg     config.MQTTConfig

	// mu guards connection state, callbacks and the logger. The
	// subscription table has its own lock in subscribe.go so a slow
	// re-subscribe never blocks state queries.
	mu           sync.RWMutex
	connected    bool
	onConnect    func()
	onDisconnect func(err error)
	logger       Logger

	subMu         sync.RWMutex
	subscriptions map[string]subscription
}

// Logger is the subset of logging.Logger the client needs. slog.Logger
// satisfies it too.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// subscription remembers enough to re-subscribe after a reconnect.
type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// MessageHandler is the callback signature for received messages. The
// topic has wildcards expanded; the payload is typically JSON.
//
// Handlers run on paho's goroutines and should not block for long; a
// slow handler delays every later message on the connection. A returned
// error is logged but does not affect acknowledgement.
type MessageHandler func(topic string, payload []byte) error

// Option adjusts connection behaviour beyond what config.MQTTConfig
// expresses.
type Option func(*connectSettings)

type connectSettings struct {
	willTopic   string
	willPayload string
}

// WithAvailabilityWill points the broker's last-will at the given
// motor's availability topic with an "offline" payload. If the service
// dies without a clean disconnect, Home Assistant style subscribers see
// the motor drop to unavailable instead of a stale "online".
func WithAvailabilityWill(motorID string) Option {
	return func(s *connectSettings) {
		s.willTopic = Topics{}.MotorAvailability(motorID)
		s.willPayload = "offline"
	}
}

// Connect establishes a connection to the MQTT broker.
//
// On success the client is connected, has its will registered, and has
// published a retained "online" announcement to renkei/system/status.
// Reconnection after broker loss is automatic with exponential backoff;
// tracked subscriptions are restored on every reconnect.
func Connect(cfg config.MQTTConfig, opts ...Option) (*Client, error) {
	settings := defaultConnectSettings(cfg.Broker.ClientID)
	for _, opt := range opts {
		opt(&settings)
	}

	pahoOpts := buildClientOptions(cfg)
	pahoOpts.SetWill(settings.willTopic, settings.willPayload, 1, true)

	c := &Client{
		cfg:           cfg,
		options:       pahoOpts,
		subscriptions: make(map[string]subscription),
	}

	pahoOpts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	pahoOpts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})

	c.client = pahomqtt.NewClient(pahoOpts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The OnConnect handler runs asynchronously and may not have fired
	// yet; mark connected here so IsConnected() is true on return.
	c.setConnected(true)
	return c, nil
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

// handleConnect runs on initial connect and every reconnect.
func (c *Client) handleConnect() {
	c.setConnected(true)

	c.restoreSubscriptions()
	c.publishOnlineStatus()

	c.mu.RLock()
	callback := c.onConnect
	c.mu.RUnlock()
	if callback != nil {
		callback()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.setConnected(false)

	c.mu.RLock()
	callback := c.onDisconnect
	c.mu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// restoreSubscriptions re-subscribes to all tracked topics after reconnect.
func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for _, sub := range c.subscriptions {
		// Errors here are transient; the next reconnect retries.
		c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler))
	}
}

// publishOnlineStatus announces the service on the system status topic.
func (c *Client) publishOnlineStatus() {
	c.client.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true,
		buildOnlinePayload(c.cfg.Broker.ClientID))
}

// Close disconnects from the broker after announcing a graceful
// shutdown. A graceful offline carries a different reason than the
// broker-published will, so subscribers can tell a restart from a crash.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		token := c.client.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true,
			buildOfflinePayload(c.cfg.Broker.ClientID))
		token.WaitTimeout(defaultPublishTimeout)
	}

	c.client.Disconnect(defaultDisconnectQuiesce)
	c.setConnected(false)
	return nil
}

// HealthCheck reports whether the broker connection is up. Nothing is
// sent; paho's keepalive already probes the link.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.client.IsConnected()
}

// SetOnConnect sets a callback invoked on initial connect and on every
// reconnect.
func (c *Client) SetOnConnect(callback func()) {
	c.mu.Lock()
	c.onConnect = callback
	c.mu.Unlock()
}

// SetOnDisconnect sets a callback invoked when the connection is lost.
// The error describes why.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.mu.Lock()
	c.onDisconnect = callback
	c.mu.Unlock()
}

// SetLogger sets a logger for handler errors and recovered panics.
// Without one, handler errors are dropped.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logger
}

// awaitToken waits on a paho token with the standard operation timeout
// and folds both failure modes into the given sentinel.
func awaitToken(token pahomqtt.Token, sentinel error) error {
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", sentinel, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", sentinel, err)
	}
	return nil
}

// wrapHandler adds panic recovery and error logging around a handler.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("MQTT handler panic recovered",
						"topic", msg.Topic(),
						"panic", r,
					)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT handler returned error",
					"topic", msg.Topic(),
					"error", err,
				)
			}
		}
	}
}

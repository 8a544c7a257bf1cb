package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/dendo-systems/renkei-poe-ha/internal/infrastructure/mqtt"
	"github.com/dendo-systems/renkei-poe-ha/internal/motor"
	"github.com/dendo-systems/renkei-poe-ha/internal/renkei"
)

// Bridge operation constants.
const (
	// commandTimeout bounds a single command round-trip to the controller.
	commandTimeout = 15 * time.Second

	// defaultQoS is used for all bridge publishes and subscriptions.
	defaultQoS = 1
)

// MQTTClient is the interface for MQTT operations.
// Satisfied by *mqtt.Client; narrowed for mocking in tests.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// Coordinator is the motor-side surface the bridge drives.
// Satisfied by *motor.Coordinator.
type Coordinator interface {
	Move(ctx context.Context, position, delaySeconds int) error
	AbsoluteMove(ctx context.Context, position, delayMs int) error
	Stop(ctx context.Context) error
	Jog(ctx context.Context, count int) error
	Refresh(ctx context.Context) (motor.Snapshot, error)
	Snapshot() motor.Snapshot
	Diagnostics() motor.Diagnostics
	Subscribe(fn func(motor.Snapshot)) func()
	Connected() bool
	MotorID() string
}

// Options holds configuration for creating a bridge.
type Options struct {
	// MQTTClient is the broker connection.
	MQTTClient MQTTClient

	// Coordinator is the motor coordinator to drive.
	Coordinator Coordinator

	// HealthInterval is how often to publish health reports.
	// Default: 30 seconds.
	HealthInterval time.Duration

	// Logger is optional structured logging.
	Logger motor.Logger
}

// Bridge connects the motor coordinator to an MQTT broker.
// It translates command payloads into coordinator calls and mirrors
// coordinator snapshots out as retained state messages.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	mqtt   MQTTClient
	coord  Coordinator
	topics mqtt.Topics
	health *HealthReporter
	logger motor.Logger

	// lastAvailability dedupes availability publishes across snapshots.
	lastAvailability   string
	lastAvailabilityMu sync.Mutex

	unsubscribe func()
	ctx         context.Context
	ctxCancel   context.CancelFunc
	stopOnce    sync.Once
}

// New creates a bridge. Call Start to begin operation.
func New(opts Options) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, ErrMQTTRequired
	}
	if opts.Coordinator == nil {
		return nil, ErrCoordinatorRequired
	}

	ctx, cancel := context.WithCancel(context.Background())

	b := &Bridge{
		mqtt:      opts.MQTTClient,
		coord:     opts.Coordinator,
		logger:    opts.Logger,
		ctx:       ctx,
		ctxCancel: cancel,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		MotorID:     opts.Coordinator.MotorID(),
		Interval:    opts.HealthInterval,
		Publisher:   opts.MQTTClient,
		Coordinator: opts.Coordinator,
		Logger:      opts.Logger,
	})

	return b, nil
}

// Start subscribes to the command topic, registers the snapshot listener,
// and begins health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	motorID := b.coord.MotorID()

	commandTopic := b.topics.MotorCommand(motorID)
	if err := b.mqtt.Subscribe(commandTopic, defaultQoS, b.handleCommand); err != nil {
		return err
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	b.unsubscribe = b.coord.Subscribe(b.handleSnapshot)

	// Seed retained topics with the current view so late subscribers
	// are not left waiting for the first change.
	b.handleSnapshot(b.coord.Snapshot())

	b.health.Start(ctx)

	b.logInfo("bridge started", "motor_id", motorID)
	return nil
}

// Stop gracefully shuts down the bridge. The retained availability topic
// is flipped to offline so consumers see the motor disappear.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.ctxCancel()
		if b.unsubscribe != nil {
			b.unsubscribe()
		}
		b.health.Stop()
		b.publishAvailability(AvailabilityOffline)
		b.logInfo("bridge stopped")
	})
}

// handleCommand parses and executes a command payload.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logError("failed to parse command", err)
		b.publishAckError(CommandMessage{}, ErrCodeInvalidPayload, "malformed JSON payload", 0)
		return nil
	}

	b.logInfo("received command",
		"action", cmd.Action,
		"command_id", cmd.ID,
		"source", cmd.Source)

	// Derive timeout from the bridge context so in-flight commands are
	// cancelled on shutdown.
	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	var err error
	switch cmd.Action {
	case ActionMove:
		err = b.coord.Move(ctx, cmd.Position, cmd.Delay)
	case ActionAbsoluteMove:
		err = b.coord.AbsoluteMove(ctx, cmd.Position, cmd.DelayMs)
	case ActionStop:
		err = b.coord.Stop(ctx)
	case ActionJog:
		err = b.coord.Jog(ctx, cmd.Count)
	case ActionRefresh:
		_, err = b.coord.Refresh(ctx)
	default:
		b.publishAckError(cmd, ErrCodeInvalidAction, "unknown action: "+cmd.Action, 0)
		return nil
	}

	if err != nil {
		b.logError("command execution failed", err)
		code, deviceCode := classifyCommandError(err)
		b.publishAckError(cmd, code, err.Error(), deviceCode)
		return nil
	}

	b.publishAck(cmd, AckAccepted, nil)
	return nil
}

// classifyCommandError maps a coordinator error to an ack error code and,
// for controller-reported failures, the device's numeric code.
func classifyCommandError(err error) (code string, deviceCode int) {
	var verr *renkei.ValidationError
	if errors.As(err, &verr) {
		return ErrCodeInvalidParameters, 0
	}
	var derr *renkei.DeviceError
	if errors.As(err, &derr) {
		return ErrCodeDeviceError, derr.Code
	}
	switch {
	case errors.Is(err, renkei.ErrTimeout):
		return ErrCodeTimeout, 0
	case errors.Is(err, renkei.ErrNotConnected),
		errors.Is(err, renkei.ErrConnectionLost),
		errors.Is(err, renkei.ErrClientClosed):
		return ErrCodeMotorUnreachable, 0
	default:
		return ErrCodeBridgeError, 0
	}
}

// handleSnapshot publishes a retained state message and keeps the
// availability topic in sync with the connection state.
func (b *Bridge) handleSnapshot(snap motor.Snapshot) {
	payload, err := json.Marshal(snap)
	if err != nil {
		b.logError("failed to marshal snapshot", err)
		return
	}

	stateTopic := b.topics.MotorState(snap.MotorID)
	if err := b.mqtt.Publish(stateTopic, payload, defaultQoS, true); err != nil {
		b.logError("failed to publish state", err)
	}

	availability := AvailabilityOffline
	if snap.Connection == renkei.StateConnected.String() {
		availability = AvailabilityOnline
	}
	b.publishAvailability(availability)
}

// publishAvailability publishes the retained availability payload,
// skipping repeats of the last published value.
func (b *Bridge) publishAvailability(availability string) {
	b.lastAvailabilityMu.Lock()
	changed := b.lastAvailability != availability
	if changed {
		b.lastAvailability = availability
	}
	b.lastAvailabilityMu.Unlock()

	if !changed {
		return
	}

	topic := b.topics.MotorAvailability(b.coord.MotorID())
	if err := b.mqtt.Publish(topic, []byte(availability), defaultQoS, true); err != nil {
		b.logError("failed to publish availability", err)
	}
}

// publishAck publishes a command acknowledgement.
func (b *Bridge) publishAck(cmd CommandMessage, status AckStatus, ackErr *AckError) {
	msg := AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		MotorID:   b.coord.MotorID(),
		Action:    cmd.Action,
		Status:    status,
		Error:     ackErr,
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}

	topic := b.topics.MotorAck(b.coord.MotorID())
	if err := b.mqtt.Publish(topic, payload, defaultQoS, false); err != nil {
		b.logError("failed to publish ack", err)
	}
}

// publishAckError publishes a failed acknowledgement with error details.
func (b *Bridge) publishAckError(cmd CommandMessage, code, message string, deviceCode int) {
	b.publishAck(cmd, AckFailed, &AckError{
		Code:       code,
		Message:    message,
		DeviceCode: deviceCode,
	})
}

func (b *Bridge) logInfo(msg string, args ...any) {
	if b.logger != nil {
		b.logger.Info(msg, args...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	if b.logger != nil {
		b.logger.Error(msg, "error", err)
	}
}

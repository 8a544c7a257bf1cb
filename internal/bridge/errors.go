package bridge

import "errors"

// Domain errors for the MQTT bridge package.
var (
	// ErrInvalidPayload is returned when a command payload cannot be
	// parsed as JSON.
	ErrInvalidPayload = errors.New("bridge: invalid command payload")

	// ErrUnknownAction is returned when a command names an action the
	// bridge does not implement.
	ErrUnknownAction = errors.New("bridge: unknown action")

	// ErrCoordinatorRequired is returned when a bridge is created
	// without a motor coordinator.
	ErrCoordinatorRequired = errors.New("bridge: coordinator is required")

	// ErrMQTTRequired is returned when a bridge is created without an
	// MQTT client.
	ErrMQTTRequired = errors.New("bridge: MQTT client is required")
)

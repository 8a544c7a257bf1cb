package renkei

import (
	"errors"
	"fmt"
)

// Domain errors for the motor client package.
var (
	// ErrNotConnected is returned when a command is attempted while the
	// client is not in the connected state. This includes the
	// stabilisation window after socket establishment.
	ErrNotConnected = errors.New("renkei: not connected to motor")

	// ErrConnectionFailed is returned when a connection attempt fails.
	ErrConnectionFailed = errors.New("renkei: connection to motor failed")

	// ErrConnectionLost is delivered to every pending command when the
	// established connection drops.
	ErrConnectionLost = errors.New("renkei: connection lost")

	// ErrTimeout is returned when no correlated response arrives within
	// the command deadline.
	ErrTimeout = errors.New("renkei: command timed out")

	// ErrCommandPending is returned when a command of the same name is
	// already in flight. The protocol correlates by name only, so
	// concurrent same-name commands cannot be told apart.
	ErrCommandPending = errors.New("renkei: command already pending")

	// ErrClientClosed is returned for operations after Disconnect.
	ErrClientClosed = errors.New("renkei: client closed")

	// ErrInvalidFrame marks a malformed inbound frame. It is logged and
	// the frame dropped; it never surfaces to callers.
	ErrInvalidFrame = errors.New("renkei: invalid frame")
)

// ValidationError reports a caller-supplied parameter outside its
// documented range. Validation happens before any network I/O.
type ValidationError struct {
	Param string
	Value int
	Min   int
	Max   int
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("renkei: %s=%d outside range %d-%d", e.Param, e.Value, e.Min, e.Max)
}

// DeviceError is a failure reported by the motor controller itself.
// Codes 100-104 are parameter/command failures, 300-304 hardware
// failures. The code is passed through verbatim.
type DeviceError struct {
	Code        int
	Description string
}

func (e *DeviceError) Error() string {
	desc := e.Description
	if desc == "" {
		desc = deviceErrorDescription(e.Code)
	}
	return fmt.Sprintf("renkei: device error %d: %s", e.Code, desc)
}

// deviceErrorDescription returns the documented meaning of a device
// error code, per the controller API documentation.
func deviceErrorDescription(code int) string {
	switch code {
	case 100:
		return "unknown command"
	case 101:
		return "invalid parameters"
	case 102:
		return "motor busy"
	case 103:
		return "motor unreachable"
	case 104:
		return "checksum error"
	case 300:
		return "limits not set"
	case 301:
		return "UART error"
	case 302:
		return "voltage error"
	case 303:
		return "over-current error"
	case 304:
		return "over-temperature error"
	default:
		return "unknown error"
	}
}

// validateRange checks an integer parameter against its inclusive range.
func validateRange(param string, value, minVal, maxVal int) error {
	if value < minVal || value > maxVal {
		return &ValidationError{Param: param, Value: value, Min: minVal, Max: maxVal}
	}
	return nil
}

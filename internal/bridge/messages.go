package bridge

import (
	"time"

	"github.com/dendo-systems/renkei-poe-ha/internal/renkei"
)

// Command actions accepted on the command topic.
const (
	ActionMove         = "move"
	ActionAbsoluteMove = "absolute_move"
	ActionStop         = "stop"
	ActionJog          = "jog"
	ActionRefresh      = "refresh"
)

// CommandMessage is a command received on the motor command topic.
// Topic: renkei/motor/{motor_id}/command
type CommandMessage struct {
	// ID optionally correlates the command with its acknowledgement.
	// Echoed back verbatim on the ack topic when present.
	ID string `json:"id,omitempty"`

	// Action is the command name (move, absolute_move, stop, jog, refresh).
	Action string `json:"action"`

	// Position is the target position. Percent of travel for move,
	// raw encoder pulses for absolute_move.
	Position int `json:"position,omitempty"`

	// Delay is the pre-move delay in seconds (move only).
	Delay int `json:"delay,omitempty"`

	// DelayMs is the pre-move delay in milliseconds (absolute_move only).
	DelayMs int `json:"delay_ms,omitempty"`

	// Count is the number of jog pulses (jog only).
	Count int `json:"count,omitempty"`

	// Source optionally records where the command originated
	// (e.g. "homeassistant", "node-red").
	Source string `json:"source,omitempty"`
}

// AckStatus represents the acknowledgement outcome of a command.
type AckStatus string

const (
	// AckAccepted indicates the command was sent to the controller.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"
)

// Error codes for command failures.
const (
	ErrCodeInvalidPayload    = "INVALID_PAYLOAD"
	ErrCodeInvalidAction     = "INVALID_ACTION"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeMotorUnreachable  = "MOTOR_UNREACHABLE"
	ErrCodeDeviceError       = "DEVICE_ERROR"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// AckMessage acknowledges a received command.
// Topic: renkei/motor/{motor_id}/ack
type AckMessage struct {
	// CommandID is the ID from the original command, if one was supplied.
	CommandID string `json:"command_id,omitempty"`

	// Timestamp is when the acknowledgement was sent (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// MotorID identifies the motor the command addressed.
	MotorID string `json:"motor_id"`

	// Action is the command action being acknowledged.
	Action string `json:"action"`

	// Status is the acknowledgement outcome.
	Status AckStatus `json:"status"`

	// Error contains details when Status is "failed".
	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	// Code is the error code (e.g. "MOTOR_UNREACHABLE", "DEVICE_ERROR").
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// DeviceCode is the controller's numeric error code, when the
	// failure originated on the device (e.g. 301 for out of range).
	DeviceCode int `json:"device_code,omitempty"`
}

// Availability payloads published retained on the availability topic.
const (
	AvailabilityOnline  = "online"
	AvailabilityOffline = "offline"
)

// HealthStatus represents the operational status of the motor link.
type HealthStatus string

const (
	// HealthHealthy indicates broker and controller are both reachable.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates one side of the bridge is down.
	HealthDegraded HealthStatus = "degraded"

	// HealthStopping indicates the service is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is the periodic link health report.
// Topic: renkei/motor/{motor_id}/health
// QoS: 1, Retained: Yes
type HealthMessage struct {
	// MotorID identifies the motor this report describes.
	MotorID string `json:"motor_id"`

	// Timestamp is when the report was generated (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Status is the overall link status.
	Status HealthStatus `json:"status"`

	// Reason explains the status (especially for degraded).
	Reason string `json:"reason,omitempty"`

	// UptimeSeconds is how long the bridge has been running.
	UptimeSeconds int64 `json:"uptime_seconds"`

	// Connection is the TCP client's connection state name.
	Connection string `json:"connection"`

	// LastSeen is when the controller last produced a frame.
	LastSeen *time.Time `json:"last_seen,omitempty"`

	// Statistics contains link counters.
	Statistics *LinkStatistics `json:"statistics,omitempty"`
}

// LinkStatistics contains motor link counters.
type LinkStatistics struct {
	// FramesSent is the total number of frames written to the controller.
	FramesSent uint64 `json:"frames_sent"`

	// FramesReceived is the total number of frames read from the controller.
	FramesReceived uint64 `json:"frames_received"`

	// EventsDropped counts push events dropped under callback backpressure.
	EventsDropped uint64 `json:"events_dropped"`

	// DecodeErrors counts lines that failed to parse.
	DecodeErrors uint64 `json:"decode_errors"`

	// ErrorsTotal counts error responses from the controller.
	ErrorsTotal uint64 `json:"errors_total"`

	// Reconnects counts completed reconnection cycles.
	Reconnects uint64 `json:"reconnects"`
}

// NewHealthMessage builds a health report from client statistics.
func NewHealthMessage(motorID string, status HealthStatus, stats renkei.ClientStats, startTime time.Time) HealthMessage {
	msg := HealthMessage{
		MotorID:       motorID,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		UptimeSeconds: int64(time.Since(startTime).Seconds()),
		Connection:    stats.State.String(),
		Statistics: &LinkStatistics{
			FramesSent:     stats.FramesTx,
			FramesReceived: stats.FramesRx,
			EventsDropped:  stats.EventsDropped,
			DecodeErrors:   stats.DecodeErrors,
			ErrorsTotal:    stats.ErrorsTotal,
			Reconnects:     stats.ReconnectsTotal,
		},
	}
	if !stats.LastSeen.IsZero() {
		seen := stats.LastSeen.UTC()
		msg.LastSeen = &seen
	}
	return msg
}

package renkei

import "time"

// ConnectionState describes the client's position in the connection
// lifecycle. Exactly one value holds at any instant; transitions are
// made only by the connection state machine.
type ConnectionState int

// Connection states in lifecycle order.
const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

// String returns the lowercase state name used in logs and wire payloads.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// MotorStatus is a decoded status snapshot from the motor.
//
// Positions are raw encoder values in the 0-65536 range. RunFlags and
// ErrFlags are device bitfields passed through uninterpreted.
type MotorStatus struct {
	CurrentPos int `json:"current_pos"`
	LimitPos   int `json:"limit_pos"`
	TargetPos  int `json:"target_pos"`
	RunFlags   int `json:"run_flags"`
	ErrFlags   int `json:"err_flags"`
}

// MotorInfo holds device identity returned by GET_INFO.
type MotorInfo struct {
	IP       string `json:"ip"`
	MAC      string `json:"mac"`
	Firmware string `json:"firmware"`
}

// EventType discriminates unsolicited push frames.
type EventType string

// Push event discriminators recognised by the dispatcher.
const (
	EventStatus     EventType = "GET_STATUS"
	EventCurrentPos EventType = "CURRENT_POS"
	EventError      EventType = "ERROR"
)

// StatusUpdate is delivered to the registered status callback for every
// push frame. Event names which status fields are populated: a
// CURRENT_POS update carries only position fields, an ERROR update only
// error flags, a full status push carries everything.
type StatusUpdate struct {
	Event  EventType
	Status MotorStatus
}

// Command is one outbound protocol command. Immutable once sent.
type Command struct {
	Name            string
	Params          map[string]any
	ExpectsResponse bool
}

// ClientStats is a point-in-time snapshot of client counters.
type ClientStats struct {
	FramesTx        uint64
	FramesRx        uint64
	EventsDropped   uint64 // Push events dropped due to a full callback queue
	DecodeErrors    uint64
	ErrorsTotal     uint64
	ReconnectsTotal uint64
	LastSeen        time.Time
	State           ConnectionState
}

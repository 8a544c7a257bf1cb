package motor

import (
	"context"
	"time"

	"github.com/dendo-systems/renkei-poe-ha/internal/renkei"
)

// Client is the subset of the RENKEI TCP client the coordinator uses.
// Satisfied by *renkei.Client; tests substitute a fake.
type Client interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Move(ctx context.Context, position, delaySeconds int) error
	AbsoluteMove(ctx context.Context, position, delayMs int) error
	Stop(ctx context.Context) error
	Jog(ctx context.Context, count int) error
	GetStatus(ctx context.Context) (renkei.MotorStatus, error)
	GetInfo(ctx context.Context) (renkei.MotorInfo, error)
	SetStatusCallback(callback func(renkei.StatusUpdate))
	SetConnectionCallback(callback func(renkei.ConnectionState))
	State() renkei.ConnectionState
	IsConnected() bool
	ConsumeJustReconnected() bool
	Stats() renkei.ClientStats
}

// Logger is the minimal logging surface the coordinator needs.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Snapshot is the coordinator's merged view of the motor at an instant.
type Snapshot struct {
	// MotorID identifies the motor this snapshot describes.
	MotorID string `json:"motor_id"`

	// Status holds the raw encoder-level fields from the controller.
	Status renkei.MotorStatus `json:"status"`

	// Percent is the travel position as a percentage of limit_pos.
	// Zero when limit_pos is unknown or zero.
	Percent float64 `json:"percent"`

	// Moving reports whether any run flag is set.
	Moving bool `json:"moving"`

	// Fault reports whether any error flag is set.
	Fault bool `json:"fault"`

	// Connection is the client's connection state name.
	Connection string `json:"connection"`

	// UpdatedAt is when the last status update was applied (UTC).
	// Zero until the first update arrives.
	UpdatedAt time.Time `json:"updated_at"`
}

// Diagnostics bundles link counters and identity for the API surface.
type Diagnostics struct {
	MotorID string             `json:"motor_id"`
	Stats   renkei.ClientStats `json:"stats"`
	Info    *renkei.MotorInfo  `json:"info,omitempty"`
}

// PositionEntry is one stored position history row.
type PositionEntry struct {
	ID         int64     `json:"id"`
	MotorID    string    `json:"motor_id"`
	CurrentPos int       `json:"current_pos"`
	LimitPos   int       `json:"limit_pos"`
	TargetPos  int       `json:"target_pos"`
	RunFlags   int       `json:"run_flags"`
	ErrFlags   int       `json:"err_flags"`
	Source     string    `json:"source"`
	RecordedAt time.Time `json:"recorded_at"`
}

// CommandEntry is one stored command audit row.
type CommandEntry struct {
	ID       int64     `json:"id"`
	MotorID  string    `json:"motor_id"`
	Command  string    `json:"command"`
	Params   string    `json:"params"`
	Outcome  string    `json:"outcome"`
	Detail   string    `json:"detail,omitempty"`
	IssuedAt time.Time `json:"issued_at"`
}

// History source values.
const (
	SourcePush    = "push"    // unsolicited controller update
	SourcePoll    = "poll"    // explicit GET_STATUS
	SourceCommand = "command" // state observed after a command
)

// Command audit outcome values.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// HistoryRepository stores position history and command audit rows.
//
// Implementations must be thread-safe and use UTC timestamps.
type HistoryRepository interface {
	// RecordPosition records a position snapshot.
	RecordPosition(ctx context.Context, motorID string, status renkei.MotorStatus, source string) error

	// GetPositionHistory returns recent position rows, newest first.
	// Implementations may clamp the limit.
	GetPositionHistory(ctx context.Context, motorID string, limit int) ([]PositionEntry, error)

	// PrunePositions deletes position rows older than the duration.
	PrunePositions(ctx context.Context, olderThan time.Duration) (int64, error)

	// RecordCommand records one issued command and its outcome.
	RecordCommand(ctx context.Context, motorID, command, params, outcome, detail string) error

	// GetCommandAudit returns recent command rows, newest first.
	GetCommandAudit(ctx context.Context, motorID string, limit int) ([]CommandEntry, error)
}

// TelemetryWriter writes motor samples to a time-series store.
// Satisfied by *influxdb.Client. All methods are non-blocking.
type TelemetryWriter interface {
	WriteMotorPosition(motorID string, currentPos, limitPos, targetPos int, percent float64)
	WriteMotorFlags(motorID string, runFlags, errFlags int)
	WriteLinkStats(motorID string, commandsSent, responses, reconnects, eventsDropped uint64)
}

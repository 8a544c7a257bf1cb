package motor

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dendo-systems/renkei-poe-ha/internal/renkei"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// SQLiteHistoryRepository implements HistoryRepository using SQLite.
//
// Rows live in the position_history and command_audit tables created by
// the initial schema migration.
type SQLiteHistoryRepository struct {
	db *sql.DB
}

// NewSQLiteHistoryRepository creates a new SQLite history repository.
//
// Parameters:
//   - db: Open SQLite connection used for queries
//
// Returns:
//   - *SQLiteHistoryRepository: Repository instance ready for use
func NewSQLiteHistoryRepository(db *sql.DB) *SQLiteHistoryRepository {
	return &SQLiteHistoryRepository{db: db}
}

// RecordPosition inserts a new position history row.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - motorID: Motor identifier
//   - status: Decoded status snapshot to persist
//   - source: Origin of the sample (push, poll, command)
//
// Returns:
//   - error: nil on success, otherwise the underlying database error
func (r *SQLiteHistoryRepository) RecordPosition(ctx context.Context, motorID string, status renkei.MotorStatus, source string) error {
	if motorID == "" {
		return fmt.Errorf("motor id is required")
	}
	if source == "" {
		source = SourcePush
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO position_history
		 (motor_id, current_pos, limit_pos, target_pos, run_flags, err_flags, source, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		motorID,
		status.CurrentPos,
		status.LimitPos,
		status.TargetPos,
		status.RunFlags,
		status.ErrFlags,
		source,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting position history: %w", err)
	}

	return nil
}

// GetPositionHistory returns recent position rows, ordered newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - motorID: Motor identifier
//   - limit: Maximum entries to return (default 50, max 500)
//
// Returns:
//   - []PositionEntry: Rows ordered by recorded_at DESC
//   - error: nil on success, otherwise the underlying query error
func (r *SQLiteHistoryRepository) GetPositionHistory(ctx context.Context, motorID string, limit int) ([]PositionEntry, error) {
	if motorID == "" {
		return nil, fmt.Errorf("motor id is required")
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, motor_id, current_pos, limit_pos, target_pos, run_flags, err_flags, source, recorded_at
		 FROM position_history
		 WHERE motor_id = ?
		 ORDER BY recorded_at DESC, id DESC
		 LIMIT ?`,
		motorID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying position history: %w", err)
	}
	defer rows.Close()

	entries := make([]PositionEntry, 0, limit)
	for rows.Next() {
		var entry PositionEntry
		var recordedAt string

		if err := rows.Scan(&entry.ID, &entry.MotorID,
			&entry.CurrentPos, &entry.LimitPos, &entry.TargetPos,
			&entry.RunFlags, &entry.ErrFlags,
			&entry.Source, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning position history: %w", err)
		}

		timestamp, err := parseHistoryTimestamp(recordedAt)
		if err != nil {
			return nil, err
		}
		entry.RecordedAt = timestamp

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating position history: %w", err)
	}

	return entries, nil
}

// PrunePositions deletes position rows older than the given duration.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - olderThan: Retention window (rows older than now-olderThan are deleted)
//
// Returns:
//   - int64: Number of rows deleted
//   - error: nil on success, otherwise the underlying database error
func (r *SQLiteHistoryRepository) PrunePositions(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM position_history WHERE recorded_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting position history: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}

	return rowsAffected, nil
}

// RecordCommand inserts a command audit row.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - motorID: Motor identifier
//   - command: Protocol command name (MOVE, STOP, ...)
//   - params: JSON-encoded command parameters
//   - outcome: ok or error
//   - detail: Error text when outcome is error
func (r *SQLiteHistoryRepository) RecordCommand(ctx context.Context, motorID, command, params, outcome, detail string) error {
	if motorID == "" {
		return fmt.Errorf("motor id is required")
	}
	if command == "" {
		return fmt.Errorf("command is required")
	}
	if params == "" {
		params = "{}"
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO command_audit (motor_id, command, params, outcome, detail, issued_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		motorID,
		command,
		params,
		outcome,
		detail,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting command audit: %w", err)
	}

	return nil
}

// GetCommandAudit returns recent command rows, ordered newest first.
func (r *SQLiteHistoryRepository) GetCommandAudit(ctx context.Context, motorID string, limit int) ([]CommandEntry, error) {
	if motorID == "" {
		return nil, fmt.Errorf("motor id is required")
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, motor_id, command, params, outcome, COALESCE(detail, ''), issued_at
		 FROM command_audit
		 WHERE motor_id = ?
		 ORDER BY issued_at DESC, id DESC
		 LIMIT ?`,
		motorID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying command audit: %w", err)
	}
	defer rows.Close()

	entries := make([]CommandEntry, 0, limit)
	for rows.Next() {
		var entry CommandEntry
		var issuedAt string

		if err := rows.Scan(&entry.ID, &entry.MotorID, &entry.Command,
			&entry.Params, &entry.Outcome, &entry.Detail, &issuedAt); err != nil {
			return nil, fmt.Errorf("scanning command audit: %w", err)
		}

		timestamp, err := parseHistoryTimestamp(issuedAt)
		if err != nil {
			return nil, err
		}
		entry.IssuedAt = timestamp

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating command audit: %w", err)
	}

	return entries, nil
}

// parseHistoryTimestamp parses a timestamp stored in SQLite.
func parseHistoryTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("timestamp is empty")
	}

	timestamp, err := time.Parse(time.RFC3339, value)
	if err == nil {
		return timestamp, nil
	}

	fallback, fallbackErr := time.Parse("2006-01-02 15:04:05", value)
	if fallbackErr == nil {
		return fallback, nil
	}

	return time.Time{}, fmt.Errorf("parsing timestamp: %w", err)
}

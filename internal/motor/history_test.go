package motor

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dendo-systems/renkei-poe-ha/internal/renkei"
)

// setupHistoryTestDB creates an in-memory SQLite database with the
// position_history and command_audit tables.
func setupHistoryTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	schema := `
		CREATE TABLE position_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			motor_id TEXT NOT NULL,
			current_pos INTEGER NOT NULL,
			limit_pos INTEGER NOT NULL,
			target_pos INTEGER NOT NULL,
			run_flags INTEGER NOT NULL DEFAULT 0,
			err_flags INTEGER NOT NULL DEFAULT 0,
			source TEXT NOT NULL,
			recorded_at TEXT NOT NULL
		);
		CREATE INDEX idx_position_history_motor_time ON position_history(motor_id, recorded_at);
		CREATE TABLE command_audit (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			motor_id TEXT NOT NULL,
			command TEXT NOT NULL,
			params TEXT NOT NULL DEFAULT '{}',
			outcome TEXT NOT NULL,
			detail TEXT,
			issued_at TEXT NOT NULL
		);
	`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// insertPositionRow inserts a position row with a specific timestamp.
func insertPositionRow(t *testing.T, db *sql.DB, motorID string, pos int, recordedAt time.Time) {
	t.Helper()

	_, err := db.Exec(
		`INSERT INTO position_history
		 (motor_id, current_pos, limit_pos, target_pos, run_flags, err_flags, source, recorded_at)
		 VALUES (?, ?, 65536, ?, 0, 0, 'push', ?)`,
		motorID,
		pos,
		pos,
		recordedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		t.Fatalf("failed to insert position row: %v", err)
	}
}

func TestRecordPosition(t *testing.T) {
	db := setupHistoryTestDB(t)
	repo := NewSQLiteHistoryRepository(db)
	ctx := context.Background()

	status := renkei.MotorStatus{
		CurrentPos: 32768,
		LimitPos:   65536,
		TargetPos:  32768,
		RunFlags:   0,
		ErrFlags:   0,
	}

	if err := repo.RecordPosition(ctx, "blind-office", status, SourcePoll); err != nil {
		t.Fatalf("RecordPosition() error = %v", err)
	}

	entries, err := repo.GetPositionHistory(ctx, "blind-office", 10)
	if err != nil {
		t.Fatalf("GetPositionHistory() error = %v", err)
	}

	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}

	entry := entries[0]
	if entry.CurrentPos != 32768 {
		t.Errorf("CurrentPos = %d, want 32768", entry.CurrentPos)
	}
	if entry.LimitPos != 65536 {
		t.Errorf("LimitPos = %d, want 65536", entry.LimitPos)
	}
	if entry.Source != SourcePoll {
		t.Errorf("Source = %q, want %q", entry.Source, SourcePoll)
	}
	if entry.RecordedAt.IsZero() {
		t.Error("RecordedAt should not be zero")
	}
}

func TestRecordPositionEmptyMotorID(t *testing.T) {
	db := setupHistoryTestDB(t)
	repo := NewSQLiteHistoryRepository(db)

	err := repo.RecordPosition(context.Background(), "", renkei.MotorStatus{}, SourcePush)
	if err == nil {
		t.Error("RecordPosition() expected error for empty motor id")
	}
}

func TestRecordPositionDefaultSource(t *testing.T) {
	db := setupHistoryTestDB(t)
	repo := NewSQLiteHistoryRepository(db)
	ctx := context.Background()

	if err := repo.RecordPosition(ctx, "m1", renkei.MotorStatus{}, ""); err != nil {
		t.Fatalf("RecordPosition() error = %v", err)
	}

	entries, err := repo.GetPositionHistory(ctx, "m1", 1)
	if err != nil {
		t.Fatalf("GetPositionHistory() error = %v", err)
	}
	if entries[0].Source != SourcePush {
		t.Errorf("Source = %q, want default %q", entries[0].Source, SourcePush)
	}
}

func TestGetPositionHistoryOrdering(t *testing.T) {
	db := setupHistoryTestDB(t)
	repo := NewSQLiteHistoryRepository(db)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	insertPositionRow(t, db, "m1", 100, base)
	insertPositionRow(t, db, "m1", 200, base.Add(time.Minute))
	insertPositionRow(t, db, "m1", 300, base.Add(2*time.Minute))
	insertPositionRow(t, db, "other", 999, base.Add(3*time.Minute))

	entries, err := repo.GetPositionHistory(ctx, "m1", 10)
	if err != nil {
		t.Fatalf("GetPositionHistory() error = %v", err)
	}

	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}

	// Newest first
	if entries[0].CurrentPos != 300 || entries[2].CurrentPos != 100 {
		t.Errorf("entries not ordered newest first: %d, %d, %d",
			entries[0].CurrentPos, entries[1].CurrentPos, entries[2].CurrentPos)
	}
}

func TestGetPositionHistoryLimitClamp(t *testing.T) {
	db := setupHistoryTestDB(t)
	repo := NewSQLiteHistoryRepository(db)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		insertPositionRow(t, db, "m1", i, base.Add(time.Duration(i)*time.Second))
	}

	// Zero limit falls back to the default
	entries, err := repo.GetPositionHistory(ctx, "m1", 0)
	if err != nil {
		t.Fatalf("GetPositionHistory() error = %v", err)
	}
	if len(entries) != 5 {
		t.Errorf("expected 5 entries with default limit, got %d", len(entries))
	}

	entries, err = repo.GetPositionHistory(ctx, "m1", 2)
	if err != nil {
		t.Fatalf("GetPositionHistory() error = %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("expected 2 entries, got %d", len(entries))
	}
}

func TestPrunePositions(t *testing.T) {
	db := setupHistoryTestDB(t)
	repo := NewSQLiteHistoryRepository(db)
	ctx := context.Background()

	now := time.Now().UTC()
	insertPositionRow(t, db, "m1", 100, now.Add(-48*time.Hour))
	insertPositionRow(t, db, "m1", 200, now.Add(-10*time.Minute))

	deleted, err := repo.PrunePositions(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("PrunePositions() error = %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	entries, err := repo.GetPositionHistory(ctx, "m1", 10)
	if err != nil {
		t.Fatalf("GetPositionHistory() error = %v", err)
	}
	if len(entries) != 1 || entries[0].CurrentPos != 200 {
		t.Errorf("unexpected surviving entries: %+v", entries)
	}
}

func TestPrunePositionsInvalidDuration(t *testing.T) {
	db := setupHistoryTestDB(t)
	repo := NewSQLiteHistoryRepository(db)

	if _, err := repo.PrunePositions(context.Background(), 0); err == nil {
		t.Error("PrunePositions() expected error for zero duration")
	}
}

func TestRecordCommand(t *testing.T) {
	db := setupHistoryTestDB(t)
	repo := NewSQLiteHistoryRepository(db)
	ctx := context.Background()

	err := repo.RecordCommand(ctx, "m1", "MOVE", `{"pos":50,"delay":0}`, OutcomeOK, "")
	if err != nil {
		t.Fatalf("RecordCommand() error = %v", err)
	}

	err = repo.RecordCommand(ctx, "m1", "JOG", `{"count":3}`, OutcomeError, "device error 102: motor obstructed")
	if err != nil {
		t.Fatalf("RecordCommand() error = %v", err)
	}

	entries, err := repo.GetCommandAudit(ctx, "m1", 10)
	if err != nil {
		t.Fatalf("GetCommandAudit() error = %v", err)
	}

	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	// Newest first: the JOG failure
	if entries[0].Command != "JOG" {
		t.Errorf("Command = %q, want JOG", entries[0].Command)
	}
	if entries[0].Outcome != OutcomeError {
		t.Errorf("Outcome = %q, want %q", entries[0].Outcome, OutcomeError)
	}
	if entries[0].Detail == "" {
		t.Error("Detail should be populated for failed command")
	}
	if entries[1].Command != "MOVE" || entries[1].Outcome != OutcomeOK {
		t.Errorf("unexpected second entry: %+v", entries[1])
	}
}

func TestRecordCommandValidation(t *testing.T) {
	db := setupHistoryTestDB(t)
	repo := NewSQLiteHistoryRepository(db)
	ctx := context.Background()

	if err := repo.RecordCommand(ctx, "", "MOVE", "{}", OutcomeOK, ""); err == nil {
		t.Error("RecordCommand() expected error for empty motor id")
	}
	if err := repo.RecordCommand(ctx, "m1", "", "{}", OutcomeOK, ""); err == nil {
		t.Error("RecordCommand() expected error for empty command")
	}
}

func TestParseHistoryTimestamp(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"rfc3339", "2026-08-15T12:00:00Z", false},
		{"sqlite datetime", "2026-08-15 12:00:00", false},
		{"empty", "", true},
		{"garbage", "not-a-time", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseHistoryTimestamp(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("parseHistoryTimestamp(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

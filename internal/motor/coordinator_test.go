package motor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dendo-systems/renkei-poe-ha/internal/renkei"
)

// fakeClient implements Client for coordinator tests.
type fakeClient struct {
	mu sync.Mutex

	statusCallback func(renkei.StatusUpdate)
	connCallback   func(renkei.ConnectionState)

	state            renkei.ConnectionState
	justReconnected  bool
	status           renkei.MotorStatus
	statusErr        error
	commandErr       error
	getStatusCalls   int
	moveCalls        [][2]int
	stopCalls        int
	disconnectCalled bool
}

func (f *fakeClient) Connect(ctx context.Context) error { return nil }

func (f *fakeClient) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnectCalled = true
	return nil
}

func (f *fakeClient) Move(ctx context.Context, position, delaySeconds int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moveCalls = append(f.moveCalls, [2]int{position, delaySeconds})
	return f.commandErr
}

func (f *fakeClient) AbsoluteMove(ctx context.Context, position, delayMs int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commandErr
}

func (f *fakeClient) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	return f.commandErr
}

func (f *fakeClient) Jog(ctx context.Context, count int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commandErr
}

func (f *fakeClient) GetStatus(ctx context.Context) (renkei.MotorStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getStatusCalls++
	return f.status, f.statusErr
}

func (f *fakeClient) GetInfo(ctx context.Context) (renkei.MotorInfo, error) {
	return renkei.MotorInfo{IP: "192.168.1.50", MAC: "aa:bb:cc:dd:ee:ff", Firmware: "1.2"}, nil
}

func (f *fakeClient) SetStatusCallback(callback func(renkei.StatusUpdate)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCallback = callback
}

func (f *fakeClient) SetConnectionCallback(callback func(renkei.ConnectionState)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connCallback = callback
}

func (f *fakeClient) State() renkei.ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeClient) IsConnected() bool {
	return f.State() == renkei.StateConnected
}

func (f *fakeClient) ConsumeJustReconnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := f.justReconnected
	f.justReconnected = false
	return v
}

func (f *fakeClient) Stats() renkei.ClientStats {
	return renkei.ClientStats{FramesTx: 10, FramesRx: 9, ReconnectsTotal: 1}
}

func (f *fakeClient) pushStatus(u renkei.StatusUpdate) {
	f.mu.Lock()
	cb := f.statusCallback
	f.mu.Unlock()
	if cb != nil {
		cb(u)
	}
}

func (f *fakeClient) pushConnection(state renkei.ConnectionState) {
	f.mu.Lock()
	f.state = state
	cb := f.connCallback
	f.mu.Unlock()
	if cb != nil {
		cb(state)
	}
}

// fakeHistory implements HistoryRepository recording calls in memory.
type fakeHistory struct {
	mu        sync.Mutex
	positions []PositionEntry
	commands  []CommandEntry
}

func (h *fakeHistory) RecordPosition(ctx context.Context, motorID string, status renkei.MotorStatus, source string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.positions = append(h.positions, PositionEntry{
		MotorID:    motorID,
		CurrentPos: status.CurrentPos,
		LimitPos:   status.LimitPos,
		Source:     source,
	})
	return nil
}

func (h *fakeHistory) GetPositionHistory(ctx context.Context, motorID string, limit int) ([]PositionEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]PositionEntry(nil), h.positions...), nil
}

func (h *fakeHistory) PrunePositions(ctx context.Context, olderThan time.Duration) (int64, error) {
	return 0, nil
}

func (h *fakeHistory) RecordCommand(ctx context.Context, motorID, command, params, outcome, detail string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commands = append(h.commands, CommandEntry{
		MotorID: motorID,
		Command: command,
		Params:  params,
		Outcome: outcome,
		Detail:  detail,
	})
	return nil
}

func (h *fakeHistory) GetCommandAudit(ctx context.Context, motorID string, limit int) ([]CommandEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]CommandEntry(nil), h.commands...), nil
}

func (h *fakeHistory) lastCommand() (CommandEntry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.commands) == 0 {
		return CommandEntry{}, false
	}
	return h.commands[len(h.commands)-1], true
}

func newTestCoordinator(t *testing.T, client *fakeClient, history HistoryRepository) *Coordinator {
	t.Helper()

	coord, err := NewCoordinator(Config{
		MotorID: "test-motor",
		Client:  client,
		History: history,
	})
	if err != nil {
		t.Fatalf("NewCoordinator() error = %v", err)
	}

	if err := coord.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { coord.Close() }) //nolint:errcheck // Test cleanup

	return coord
}

func TestNewCoordinatorValidation(t *testing.T) {
	if _, err := NewCoordinator(Config{MotorID: "m1"}); err == nil {
		t.Error("NewCoordinator() expected error for nil client")
	}
	if _, err := NewCoordinator(Config{Client: &fakeClient{}}); err == nil {
		t.Error("NewCoordinator() expected error for empty motor id")
	}
}

func TestStatusMergeFullThenPartial(t *testing.T) {
	client := &fakeClient{state: renkei.StateConnected}
	coord := newTestCoordinator(t, client, nil)

	// Full status establishes the baseline
	client.pushStatus(renkei.StatusUpdate{
		Event: renkei.EventStatus,
		Status: renkei.MotorStatus{
			CurrentPos: 10000,
			LimitPos:   65536,
			TargetPos:  32768,
			RunFlags:   1,
		},
	})

	// Partial CURRENT_POS update carries only the moving position
	client.pushStatus(renkei.StatusUpdate{
		Event:  renkei.EventCurrentPos,
		Status: renkei.MotorStatus{CurrentPos: 20000},
	})

	snap := coord.Snapshot()
	if snap.Status.CurrentPos != 20000 {
		t.Errorf("CurrentPos = %d, want 20000", snap.Status.CurrentPos)
	}
	if snap.Status.LimitPos != 65536 {
		t.Errorf("LimitPos = %d, want 65536 (preserved from full status)", snap.Status.LimitPos)
	}
	if snap.Status.TargetPos != 32768 {
		t.Errorf("TargetPos = %d, want 32768 (preserved)", snap.Status.TargetPos)
	}
	if !snap.Moving {
		t.Error("Moving = false, want true (run flags preserved)")
	}
	if snap.UpdatedAt.IsZero() {
		t.Error("UpdatedAt should be set")
	}
}

func TestStatusMergeErrorEvent(t *testing.T) {
	client := &fakeClient{state: renkei.StateConnected}
	coord := newTestCoordinator(t, client, nil)

	client.pushStatus(renkei.StatusUpdate{
		Event:  renkei.EventStatus,
		Status: renkei.MotorStatus{CurrentPos: 100, LimitPos: 65536},
	})
	client.pushStatus(renkei.StatusUpdate{
		Event:  renkei.EventError,
		Status: renkei.MotorStatus{ErrFlags: 4},
	})

	snap := coord.Snapshot()
	if !snap.Fault {
		t.Error("Fault = false, want true")
	}
	if snap.Status.CurrentPos != 100 {
		t.Errorf("CurrentPos = %d, want 100 (preserved)", snap.Status.CurrentPos)
	}
}

func TestTravelPercent(t *testing.T) {
	tests := []struct {
		name   string
		status renkei.MotorStatus
		want   float64
	}{
		{"half travel", renkei.MotorStatus{CurrentPos: 32768, LimitPos: 65536}, 50},
		{"full travel", renkei.MotorStatus{CurrentPos: 65536, LimitPos: 65536}, 100},
		{"closed", renkei.MotorStatus{CurrentPos: 0, LimitPos: 65536}, 0},
		{"uncalibrated limit", renkei.MotorStatus{CurrentPos: 1000, LimitPos: 0}, 0},
		{"overshoot clamps", renkei.MotorStatus{CurrentPos: 70000, LimitPos: 65536}, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := travelPercent(tt.status)
			if got != tt.want {
				t.Errorf("travelPercent(%+v) = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestRefreshRecordsPoll(t *testing.T) {
	client := &fakeClient{
		state:  renkei.StateConnected,
		status: renkei.MotorStatus{CurrentPos: 5000, LimitPos: 65536},
	}
	history := &fakeHistory{}
	coord := newTestCoordinator(t, client, history)

	snap, err := coord.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	if snap.Status.CurrentPos != 5000 {
		t.Errorf("CurrentPos = %d, want 5000", snap.Status.CurrentPos)
	}

	history.mu.Lock()
	defer history.mu.Unlock()
	if len(history.positions) != 1 {
		t.Fatalf("expected 1 recorded position, got %d", len(history.positions))
	}
	if history.positions[0].Source != SourcePoll {
		t.Errorf("Source = %q, want %q", history.positions[0].Source, SourcePoll)
	}
}

func TestRefreshFailureKeepsSnapshot(t *testing.T) {
	client := &fakeClient{state: renkei.StateConnected}
	coord := newTestCoordinator(t, client, nil)

	client.pushStatus(renkei.StatusUpdate{
		Event:  renkei.EventStatus,
		Status: renkei.MotorStatus{CurrentPos: 123, LimitPos: 65536},
	})

	client.mu.Lock()
	client.statusErr = renkei.ErrTimeout
	client.mu.Unlock()

	if _, err := coord.Refresh(context.Background()); !errors.Is(err, renkei.ErrTimeout) {
		t.Errorf("Refresh() error = %v, want ErrTimeout", err)
	}

	if got := coord.Snapshot().Status.CurrentPos; got != 123 {
		t.Errorf("CurrentPos = %d, want 123 (unchanged after failed refresh)", got)
	}
}

func TestCommandAudit(t *testing.T) {
	client := &fakeClient{state: renkei.StateConnected}
	history := &fakeHistory{}
	coord := newTestCoordinator(t, client, history)

	if err := coord.Move(context.Background(), 50, 0); err != nil {
		t.Fatalf("Move() error = %v", err)
	}

	entry, ok := history.lastCommand()
	if !ok {
		t.Fatal("expected command audit entry")
	}
	if entry.Command != renkei.CmdMove {
		t.Errorf("Command = %q, want %q", entry.Command, renkei.CmdMove)
	}
	if entry.Outcome != OutcomeOK {
		t.Errorf("Outcome = %q, want %q", entry.Outcome, OutcomeOK)
	}

	// Failed command records the error
	client.mu.Lock()
	client.commandErr = renkei.ErrNotConnected
	client.mu.Unlock()

	if err := coord.Stop(context.Background()); !errors.Is(err, renkei.ErrNotConnected) {
		t.Errorf("Stop() error = %v, want ErrNotConnected", err)
	}

	entry, _ = history.lastCommand()
	if entry.Command != renkei.CmdStop {
		t.Errorf("Command = %q, want %q", entry.Command, renkei.CmdStop)
	}
	if entry.Outcome != OutcomeError {
		t.Errorf("Outcome = %q, want %q", entry.Outcome, OutcomeError)
	}
	if entry.Detail == "" {
		t.Error("Detail should describe the failure")
	}
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	client := &fakeClient{state: renkei.StateConnected}
	coord := newTestCoordinator(t, client, nil)

	received := make(chan Snapshot, 4)
	unsubscribe := coord.Subscribe(func(s Snapshot) {
		received <- s
	})

	client.pushStatus(renkei.StatusUpdate{
		Event:  renkei.EventStatus,
		Status: renkei.MotorStatus{CurrentPos: 1000, LimitPos: 65536},
	})

	select {
	case snap := <-received:
		if snap.Status.CurrentPos != 1000 {
			t.Errorf("CurrentPos = %d, want 1000", snap.Status.CurrentPos)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for snapshot")
	}

	unsubscribe()

	client.pushStatus(renkei.StatusUpdate{
		Event:  renkei.EventStatus,
		Status: renkei.MotorStatus{CurrentPos: 2000, LimitPos: 65536},
	})

	select {
	case <-received:
		t.Error("listener invoked after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestListenerPanicContained(t *testing.T) {
	client := &fakeClient{state: renkei.StateConnected}
	coord := newTestCoordinator(t, client, nil)

	coord.Subscribe(func(Snapshot) {
		panic("bad listener")
	})

	received := make(chan struct{}, 1)
	coord.Subscribe(func(Snapshot) {
		select {
		case received <- struct{}{}:
		default:
		}
	})

	// Must not propagate the panic, and the healthy listener still runs
	client.pushStatus(renkei.StatusUpdate{
		Event:  renkei.EventStatus,
		Status: renkei.MotorStatus{CurrentPos: 1},
	})

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("healthy listener was not invoked")
	}
}

func TestReconnectTriggersResync(t *testing.T) {
	client := &fakeClient{
		status: renkei.MotorStatus{CurrentPos: 7777, LimitPos: 65536},
	}
	coord := newTestCoordinator(t, client, nil)

	client.mu.Lock()
	client.justReconnected = true
	client.mu.Unlock()

	client.pushConnection(renkei.StateConnected)

	// The resync runs asynchronously
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if coord.Snapshot().Status.CurrentPos == 7777 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("snapshot not resynced after reconnect")
}

func TestConnectionChangeNotifiesListeners(t *testing.T) {
	client := &fakeClient{}
	coord := newTestCoordinator(t, client, nil)

	received := make(chan Snapshot, 4)
	coord.Subscribe(func(s Snapshot) {
		received <- s
	})

	client.pushConnection(renkei.StateReconnecting)

	select {
	case snap := <-received:
		if snap.Connection != "reconnecting" {
			t.Errorf("Connection = %q, want reconnecting", snap.Connection)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for connection snapshot")
	}
}

func TestDiagnostics(t *testing.T) {
	client := &fakeClient{state: renkei.StateConnected}
	coord := newTestCoordinator(t, client, nil)

	diag := coord.Diagnostics()
	if diag.MotorID != "test-motor" {
		t.Errorf("MotorID = %q, want test-motor", diag.MotorID)
	}
	if diag.Info != nil {
		t.Error("Info should be nil before GetInfo is called")
	}

	if _, err := coord.Info(context.Background()); err != nil {
		t.Fatalf("Info() error = %v", err)
	}

	diag = coord.Diagnostics()
	if diag.Info == nil || diag.Info.MAC != "aa:bb:cc:dd:ee:ff" {
		t.Errorf("Info not cached: %+v", diag.Info)
	}
}

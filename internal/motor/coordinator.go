package motor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dendo-systems/renkei-poe-ha/internal/renkei"
)

const (
	// recordTimeout bounds history writes so a slow disk cannot block
	// the update path.
	recordTimeout = 5 * time.Second

	// resyncTimeout bounds the post-reconnect GET_STATUS probe.
	resyncTimeout = 10 * time.Second

	// linkStatsInterval is how often link counters are written to the
	// time-series store.
	linkStatsInterval = 60 * time.Second
)

// Config holds the coordinator's dependencies.
type Config struct {
	// MotorID identifies the motor in topics, storage, and telemetry.
	MotorID string

	// Client is the RENKEI TCP client. Required.
	Client Client

	// History stores position and command audit rows. Optional.
	History HistoryRepository

	// Telemetry writes time-series samples. Optional.
	Telemetry TelemetryWriter

	// Logger receives coordinator log output. Optional.
	Logger Logger
}

// Coordinator owns the merged motor state and mediates between the TCP
// client and the service's outward surfaces.
type Coordinator struct {
	motorID   string
	client    Client
	history   HistoryRepository
	telemetry TelemetryWriter
	logger    Logger

	mu         sync.RWMutex
	latest     renkei.MotorStatus
	haveStatus bool
	updatedAt  time.Time
	info       *renkei.MotorInfo

	listenersMu sync.RWMutex
	listeners   map[int]func(Snapshot)
	nextID      int

	wg sync.WaitGroup
}

// NewCoordinator creates a coordinator for one motor.
//
// Parameters:
//   - cfg: Dependencies; Client is required, the rest optional
//
// Returns:
//   - *Coordinator: Ready to Start
//   - error: If required dependencies are missing
func NewCoordinator(cfg Config) (*Coordinator, error) {
	if cfg.Client == nil {
		return nil, errors.New("motor: client is required")
	}
	if cfg.MotorID == "" {
		return nil, errors.New("motor: motor id is required")
	}

	return &Coordinator{
		motorID:   cfg.MotorID,
		client:    cfg.Client,
		history:   cfg.History,
		telemetry: cfg.Telemetry,
		logger:    cfg.Logger,
		listeners: make(map[int]func(Snapshot)),
	}, nil
}

// Start registers callbacks on the client, connects to the controller
// and launches background recording. It returns once the connection
// attempt completes; on dial failure the client keeps retrying in the
// background and Start returns nil so the service can come up with the
// motor offline.
//
// Parameters:
//   - ctx: Bounds the initial connection attempt and background work
//
// Returns:
//   - error: Only for errors that make retrying pointless
func (c *Coordinator) Start(ctx context.Context) error {
	c.client.SetStatusCallback(c.handleStatusUpdate)
	c.client.SetConnectionCallback(func(state renkei.ConnectionState) {
		c.handleConnectionChange(ctx, state)
	})

	if err := c.client.Connect(ctx); err != nil {
		// Dial failures are retried by the client's reconnect loop.
		if errors.Is(err, renkei.ErrConnectionFailed) {
			c.logWarn("initial connection failed, retrying in background", "error", err)
		} else {
			return fmt.Errorf("connecting to motor: %w", err)
		}
	}

	if c.telemetry != nil {
		c.wg.Add(1)
		go c.linkStatsLoop(ctx)
	}

	return nil
}

// Close disconnects from the controller and waits for background work.
func (c *Coordinator) Close() error {
	err := c.client.Disconnect()
	c.wg.Wait()
	return err
}

// handleStatusUpdate merges one push update into the cached snapshot.
//
// The event type names which fields are authoritative in the update:
// everything else keeps its previous value.
func (c *Coordinator) handleStatusUpdate(u renkei.StatusUpdate) {
	c.mu.Lock()
	switch u.Event {
	case renkei.EventCurrentPos:
		c.latest.CurrentPos = u.Status.CurrentPos
		if u.Status.TargetPos != 0 {
			c.latest.TargetPos = u.Status.TargetPos
		}
		if u.Status.RunFlags != 0 {
			c.latest.RunFlags = u.Status.RunFlags
		}
	case renkei.EventError:
		c.latest.ErrFlags = u.Status.ErrFlags
	default:
		c.latest = u.Status
	}
	c.haveStatus = true
	c.updatedAt = time.Now().UTC()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.record(snap, SourcePush)
	c.notify(snap)
}

// handleConnectionChange reacts to client state transitions.
func (c *Coordinator) handleConnectionChange(ctx context.Context, state renkei.ConnectionState) {
	c.logInfo("motor connection state changed", "state", state.String())

	if state == renkei.StateConnected && c.client.ConsumeJustReconnected() {
		// The motor may have been moved by its wall switch while the
		// link was down; the cached snapshot cannot be trusted.
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			resyncCtx, cancel := context.WithTimeout(ctx, resyncTimeout)
			defer cancel()
			if _, err := c.Refresh(resyncCtx); err != nil {
				c.logWarn("post-reconnect status resync failed", "error", err)
			}
		}()
	}

	c.notify(c.Snapshot())
}

// Snapshot returns the current merged view of the motor.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

// snapshotLocked builds a Snapshot. Callers must hold c.mu.
func (c *Coordinator) snapshotLocked() Snapshot {
	return Snapshot{
		MotorID:    c.motorID,
		Status:     c.latest,
		Percent:    travelPercent(c.latest),
		Moving:     c.latest.RunFlags != 0,
		Fault:      c.latest.ErrFlags != 0,
		Connection: c.client.State().String(),
		UpdatedAt:  c.updatedAt,
	}
}

// travelPercent converts a raw encoder position into a percentage of
// the configured travel limit. A motor without a calibrated limit
// reports limit_pos 0; percent is meaningless then and reported as 0.
func travelPercent(s renkei.MotorStatus) float64 {
	if s.LimitPos <= 0 {
		return 0
	}
	pct := float64(s.CurrentPos) / float64(s.LimitPos) * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// Move commands a relative move to a percentage of travel.
//
// Parameters:
//   - ctx: Bounds the command round trip
//   - position: Target position, 0-100 percent
//   - delaySeconds: Start delay, 0-30 seconds
//
// Returns:
//   - error: Validation, connection, timeout, or device error
func (c *Coordinator) Move(ctx context.Context, position, delaySeconds int) error {
	err := c.client.Move(ctx, position, delaySeconds)
	c.audit(renkei.CmdMove, map[string]any{"pos": position, "delay": delaySeconds}, err)
	return err
}

// AbsoluteMove commands a move to a raw encoder position.
//
// Parameters:
//   - ctx: Bounds the command round trip
//   - position: Target encoder position, 0-65536
//   - delayMs: Start delay, 0-10000 milliseconds
func (c *Coordinator) AbsoluteMove(ctx context.Context, position, delayMs int) error {
	err := c.client.AbsoluteMove(ctx, position, delayMs)
	c.audit(renkei.CmdAbsoluteMove, map[string]any{"pos": position, "delay": delayMs}, err)
	return err
}

// Stop halts motion immediately.
func (c *Coordinator) Stop(ctx context.Context) error {
	err := c.client.Stop(ctx)
	c.audit(renkei.CmdStop, nil, err)
	return err
}

// Jog nudges the motor for calibration.
//
// Parameters:
//   - ctx: Bounds the command round trip
//   - count: Jog step count, 1-10
func (c *Coordinator) Jog(ctx context.Context, count int) error {
	err := c.client.Jog(ctx, count)
	c.audit(renkei.CmdJog, map[string]any{"count": count}, err)
	return err
}

// Refresh queries the controller for a full status snapshot and merges
// it into the cached state.
//
// Returns:
//   - Snapshot: The refreshed view
//   - error: If the query fails; the cached snapshot is left untouched
func (c *Coordinator) Refresh(ctx context.Context) (Snapshot, error) {
	status, err := c.client.GetStatus(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	c.mu.Lock()
	c.latest = status
	c.haveStatus = true
	c.updatedAt = time.Now().UTC()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.record(snap, SourcePoll)
	c.notify(snap)
	return snap, nil
}

// Info queries device identity and caches it for diagnostics.
func (c *Coordinator) Info(ctx context.Context) (renkei.MotorInfo, error) {
	info, err := c.client.GetInfo(ctx)
	if err != nil {
		return renkei.MotorInfo{}, err
	}

	c.mu.Lock()
	c.info = &info
	c.mu.Unlock()
	return info, nil
}

// Diagnostics returns link counters and cached device identity.
func (c *Coordinator) Diagnostics() Diagnostics {
	c.mu.RLock()
	info := c.info
	c.mu.RUnlock()

	return Diagnostics{
		MotorID: c.motorID,
		Stats:   c.client.Stats(),
		Info:    info,
	}
}

// Connected reports whether the controller link is up.
func (c *Coordinator) Connected() bool {
	return c.client.IsConnected()
}

// MotorID returns the configured motor identifier.
func (c *Coordinator) MotorID() string {
	return c.motorID
}

// History returns the configured history repository (may be nil).
func (c *Coordinator) History() HistoryRepository {
	return c.history
}

// Subscribe registers a listener for snapshot changes. The listener is
// invoked on status updates and connection transitions; it must not
// block. The returned function removes the listener.
func (c *Coordinator) Subscribe(fn func(Snapshot)) func() {
	c.listenersMu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.listenersMu.Unlock()

	return func() {
		c.listenersMu.Lock()
		delete(c.listeners, id)
		c.listenersMu.Unlock()
	}
}

// notify fans a snapshot out to all listeners. Listener panics are
// contained so one bad subscriber cannot take down the update path.
func (c *Coordinator) notify(snap Snapshot) {
	c.listenersMu.RLock()
	fns := make([]func(Snapshot), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.listenersMu.RUnlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logError("snapshot listener panicked", "panic", r)
				}
			}()
			fn(snap)
		}()
	}
}

// record persists a snapshot to history and telemetry.
func (c *Coordinator) record(snap Snapshot, source string) {
	if c.history != nil {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		if err := c.history.RecordPosition(ctx, c.motorID, snap.Status, source); err != nil {
			c.logWarn("recording position history failed", "error", err)
		}
		cancel()
	}

	if c.telemetry != nil {
		c.telemetry.WriteMotorPosition(c.motorID,
			snap.Status.CurrentPos, snap.Status.LimitPos, snap.Status.TargetPos, snap.Percent)
		c.telemetry.WriteMotorFlags(c.motorID, snap.Status.RunFlags, snap.Status.ErrFlags)
	}
}

// audit records one issued command and its outcome.
func (c *Coordinator) audit(command string, params map[string]any, cmdErr error) {
	if c.history == nil {
		return
	}

	paramsJSON := "{}"
	if len(params) > 0 {
		if b, err := json.Marshal(params); err == nil {
			paramsJSON = string(b)
		}
	}

	outcome := OutcomeOK
	detail := ""
	if cmdErr != nil {
		outcome = OutcomeError
		detail = cmdErr.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := c.history.RecordCommand(ctx, c.motorID, command, paramsJSON, outcome, detail); err != nil {
		c.logWarn("recording command audit failed", "error", err)
	}
}

// linkStatsLoop periodically writes link counters to telemetry.
func (c *Coordinator) linkStatsLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(linkStatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := c.client.Stats()
			c.telemetry.WriteLinkStats(c.motorID,
				stats.FramesTx, stats.FramesRx, stats.ReconnectsTotal, stats.EventsDropped)
		}
	}
}

func (c *Coordinator) logInfo(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Info(msg, args...)
	}
}

func (c *Coordinator) logWarn(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, args...)
	}
}

func (c *Coordinator) logError(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Error(msg, args...)
	}
}

package renkei

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

func (c *closeOnce) isClosed() bool {
	select {
	case <-c.ch:
		return true
	default:
		return false
	}
}

// Protocol command names.
const (
	CmdMove         = "MOVE"
	CmdAbsoluteMove = "A_MOVE"
	CmdStop         = "STOP"
	CmdGetStatus    = "GET_STATUS"
	CmdGetInfo      = "GET_INFO"
	CmdJog          = "JOG"
)

// Defaults and internal timings.
const (
	// DefaultPort is the controller's TCP listen port.
	DefaultPort = 17002

	// defaultConnectTimeout bounds a single dial attempt.
	defaultConnectTimeout = 5 * time.Second

	// defaultCommandTimeout is the per-command response deadline.
	defaultCommandTimeout = 10 * time.Second

	// defaultReconnectInterval is the fixed delay between reconnection
	// attempts. The controller accepts a single connection, so retrying
	// faster only races other clients for the slot.
	defaultReconnectInterval = 10 * time.Second

	// defaultWriteTimeout bounds a single frame write.
	defaultWriteTimeout = 5 * time.Second

	// expireTick is how often the pending table is swept for overdue
	// command deadlines.
	expireTick = 500 * time.Millisecond
)

// Logger interface for optional logging.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Config holds motor connection configuration.
type Config struct {
	// Host is the controller's IP address or hostname.
	Host string

	// Port is the controller's TCP port. Default: 17002.
	Port int

	// ConnectTimeout bounds each dial attempt. Default: 5 seconds.
	ConnectTimeout time.Duration

	// CommandTimeout is the deadline for a correlated response.
	// Default: 10 seconds.
	CommandTimeout time.Duration

	// ReconnectInterval is the fixed delay between reconnection
	// attempts. Default: 10 seconds.
	ReconnectInterval time.Duration

	// HealthCheckInterval is the period between GET_INFO liveness
	// probes on an established connection. Zero disables the monitor.
	HealthCheckInterval time.Duration

	// StabiliseDelay is how long to wait after socket establishment
	// before the connection is considered usable. The controller is
	// unreliable immediately after accept. Zero skips the delay.
	StabiliseDelay time.Duration
}

// Client is a persistent connection to one RENKEI PoE motor controller.
//
// One client owns exactly one socket and one connection state value.
// Commands issued concurrently are multiplexed over the single
// connection and correlated by command name.
type Client struct {
	cfg Config

	// mu guards state, conn and session: the single serialisation point
	// for everything the read loop, the health monitor and callers share.
	mu      sync.Mutex
	state   ConnectionState
	conn    net.Conn
	session *closeOnce

	// writeMu serialises frame writes on the socket.
	writeMu sync.Mutex

	pending    *pendingTable
	eventQueue chan StatusUpdate
	wg         sync.WaitGroup

	// Callback slots, one of each kind.
	onStatus     func(StatusUpdate)
	statusMu     sync.RWMutex
	onConnection func(ConnectionState)
	connCbMu     sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex

	// Statistics (atomic for lock-free reads)
	framesTx        atomic.Uint64
	framesRx        atomic.Uint64
	eventsDropped   atomic.Uint64
	decodeErrors    atomic.Uint64
	errorsTotal     atomic.Uint64
	reconnectsTotal atomic.Uint64
	lastSeen        atomic.Int64
	justReconnected atomic.Bool
}

// New creates a client for the given controller. No connection is made
// until Connect is called.
func New(cfg Config) *Client {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = defaultCommandTimeout
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}

	return &Client{
		cfg:        cfg,
		state:      StateDisconnected,
		pending:    newPendingTable(),
		eventQueue: make(chan StatusUpdate, eventQueueSize),
	}
}

// Connect establishes the connection to the motor.
//
// On dial failure the client transitions to reconnecting and keeps
// retrying at the configured interval; the dial error is returned so
// the caller knows the first attempt failed. Calling Connect while a
// session is already active is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	session := newCloseOnce()
	c.session = session
	c.mu.Unlock()

	c.wg.Add(2)
	go c.eventWorker(session)
	go c.expireLoop(session)

	c.setState(StateConnecting)
	c.logInfo("connecting to motor", "host", c.cfg.Host, "port", c.cfg.Port)

	conn, err := c.dial(ctx)
	if err != nil {
		c.errorsTotal.Add(1)
		c.logWarn("connect failed, scheduling reconnect", "error", err)
		c.setState(StateReconnecting)
		c.wg.Add(1)
		go c.reconnectLoop(session)
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	if err := c.establish(ctx, conn, session); err != nil {
		c.errorsTotal.Add(1)
		c.setState(StateReconnecting)
		c.wg.Add(1)
		go c.reconnectLoop(session)
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.logInfo("connected to motor", "host", c.cfg.Host, "port", c.cfg.Port)
	return nil
}

// dial opens the TCP connection with the configured timeout.
func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	var dialer net.Dialer
	return dialer.DialContext(dialCtx, "tcp", addr)
}

// establish takes ownership of a freshly dialled socket: waits out the
// stabilisation window, publishes the connection and starts the
// per-connection goroutines. The state stays CONNECTING until the
// stabilisation delay elapses, so commands issued meanwhile are
// rejected as not connected.
func (c *Client) establish(ctx context.Context, conn net.Conn, session *closeOnce) error {
	// Nagle off: motor moves should not wait for coalescing.
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}

	if c.cfg.StabiliseDelay > 0 {
		c.logDebug("waiting for motor to stabilise", "delay", c.cfg.StabiliseDelay.String())
		timer := time.NewTimer(c.cfg.StabiliseDelay)
		defer timer.Stop()
		select {
		case <-session.Done():
			conn.Close()
			return ErrClientClosed
		case <-ctx.Done():
			conn.Close()
			return ctx.Err()
		case <-timer.C:
		}
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.lastSeen.Store(time.Now().Unix())

	c.setState(StateConnected)

	c.wg.Add(1)
	go c.readLoop(conn, session)

	if c.cfg.HealthCheckInterval > 0 {
		c.wg.Add(1)
		go c.healthLoop(conn, session)
	}
	return nil
}

// readLoop owns the socket for the lifetime of one connection. It never
// blocks on anything but the socket read; Disconnect and connection
// loss unblock it by closing the socket.
func (c *Client) readLoop(conn net.Conn, session *closeOnce) {
	defer c.wg.Done()

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if session.isClosed() {
				return
			}
			c.errorsTotal.Add(1)
			c.logWarn("read failed", "error", err)
			c.handleConnectionLoss(conn, session)
			return
		}

		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		c.framesRx.Add(1)
		c.lastSeen.Store(time.Now().Unix())

		f, derr := decodeFrame(line)
		if derr != nil {
			// Malformed frames are dropped; the next newline
			// resynchronises the stream.
			c.decodeErrors.Add(1)
			c.logWarn("dropping malformed frame", "error", derr)
			continue
		}
		c.handleFrame(f)
	}
}

// expireLoop sweeps the pending table on a steady tick, failing
// commands whose response deadline has passed.
func (c *Client) expireLoop(session *closeOnce) {
	defer c.wg.Done()

	ticker := time.NewTicker(expireTick)
	defer ticker.Stop()

	for {
		select {
		case <-session.Done():
			return
		case now := <-ticker.C:
			if expired := c.pending.expire(now); expired > 0 {
				c.logWarn("commands timed out", "count", expired)
			}
		}
	}
}

// handleConnectionLoss tears down a lost connection and starts the
// reconnect loop. The conn identity check makes the teardown, and with
// it abandonAll, happen exactly once per loss even when the read loop
// and the health monitor detect the failure concurrently.
func (c *Client) handleConnectionLoss(conn net.Conn, session *closeOnce) {
	if session.isClosed() {
		return
	}

	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.mu.Unlock()

	conn.Close()

	if abandoned := c.pending.abandonAll(ErrConnectionLost); abandoned > 0 {
		c.logWarn("abandoned pending commands", "count", abandoned)
	}

	c.logInfo("connection lost, reconnecting", "interval", c.cfg.ReconnectInterval.String())
	c.setState(StateReconnecting)

	c.wg.Add(1)
	go c.reconnectLoop(session)
}

// reconnectLoop retries the connection indefinitely at the configured
// fixed interval until it succeeds or the session is shut down.
func (c *Client) reconnectLoop(session *closeOnce) {
	defer c.wg.Done()

	for attempt := 1; ; attempt++ {
		select {
		case <-session.Done():
			return
		case <-time.After(c.cfg.ReconnectInterval):
		}

		c.setState(StateConnecting)
		c.logInfo("attempting reconnection", "attempt", attempt)

		conn, err := c.dial(context.Background())
		if err != nil {
			c.errorsTotal.Add(1)
			c.logWarn("reconnect attempt failed", "attempt", attempt, "error", err)
			c.setState(StateReconnecting)
			continue
		}

		if err := c.establish(context.Background(), conn, session); err != nil {
			if session.isClosed() {
				return
			}
			c.setState(StateReconnecting)
			continue
		}

		c.reconnectsTotal.Add(1)
		c.justReconnected.Store(true)
		c.logInfo("reconnection successful", "total_reconnects", c.reconnectsTotal.Load())
		return
	}
}

// Disconnect shuts the client down: all loops stop, every pending
// command fails immediately and the state becomes DISCONNECTED. A
// subsequent Connect starts a fresh session.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	session := c.session
	conn := c.conn
	c.session = nil
	c.conn = nil
	c.mu.Unlock()

	if session == nil {
		c.setState(StateDisconnected)
		return nil
	}

	session.Close()
	if conn != nil {
		conn.Close()
	}
	c.pending.abandonAll(ErrConnectionLost)
	c.wg.Wait()

	c.setState(StateDisconnected)
	c.logInfo("disconnected from motor")
	return nil
}

// setState transitions the connection state and notifies the connection
// callback. The callback runs outside every client lock.
func (c *Client) setState(next ConnectionState) {
	c.mu.Lock()
	if c.state == next {
		c.mu.Unlock()
		return
	}
	prev := c.state
	c.state = next
	c.mu.Unlock()

	c.logDebug("connection state changed", "from", prev.String(), "to", next.String())

	c.connCbMu.RLock()
	callback := c.onConnection
	c.connCbMu.RUnlock()

	if callback != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logError("connection callback panic", fmt.Errorf("%v", r))
				}
			}()
			callback(next)
		}()
	}
}

// sendCommand writes one command and, when a response is expected,
// suspends the caller until resolution, timeout, cancellation or
// connection loss. Different command names pipeline concurrently.
func (c *Client) sendCommand(ctx context.Context, cmd Command) (json.RawMessage, error) {
	c.mu.Lock()
	state := c.state
	conn := c.conn
	session := c.session
	c.mu.Unlock()

	if state != StateConnected || conn == nil {
		return nil, fmt.Errorf("%w: state %s", ErrNotConnected, state)
	}

	var w *waiter
	if cmd.ExpectsResponse {
		var err error
		w, err = c.pending.register(cmd.Name, time.Now().Add(c.cfg.CommandTimeout))
		if err != nil {
			return nil, fmt.Errorf("%w: %s", err, cmd.Name)
		}
	}

	payload, err := encodeCommand(cmd)
	if err != nil {
		if w != nil {
			c.pending.fail(cmd.Name, err)
		}
		return nil, err
	}

	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
	_, err = conn.Write(payload)
	c.writeMu.Unlock()

	if err != nil {
		if w != nil {
			c.pending.fail(cmd.Name, ErrConnectionLost)
		}
		c.errorsTotal.Add(1)
		c.handleConnectionLoss(conn, session)
		return nil, fmt.Errorf("%w: write %s: %w", ErrConnectionLost, cmd.Name, err)
	}

	c.framesTx.Add(1)
	c.logDebug("command sent", "command", cmd.Name)

	if w == nil {
		return nil, nil
	}

	select {
	case result := <-w.ch:
		if result.err != nil {
			return nil, fmt.Errorf("%s: %w", cmd.Name, result.err)
		}
		return result.data, nil
	case <-ctx.Done():
		c.pending.fail(cmd.Name, ctx.Err())
		return nil, fmt.Errorf("renkei: %s: %w", cmd.Name, ctx.Err())
	case <-session.Done():
		return nil, fmt.Errorf("%s: %w", cmd.Name, ErrConnectionLost)
	}
}

// Move drives the motor to a percentage-open position.
//
// Parameters:
//   - position: target in percent, 0-100
//   - delaySeconds: start delay, 0-30 seconds
func (c *Client) Move(ctx context.Context, position, delaySeconds int) error {
	if err := validateRange("pos", position, 0, 100); err != nil {
		return err
	}
	if err := validateRange("delay", delaySeconds, 0, 30); err != nil {
		return err
	}
	_, err := c.sendCommand(ctx, Command{
		Name:            CmdMove,
		Params:          map[string]any{"pos": position, "delay": delaySeconds},
		ExpectsResponse: true,
	})
	return err
}

// AbsoluteMove drives the motor to a raw encoder position.
//
// Parameters:
//   - position: encoder target, 0-65536
//   - delayMs: start delay, 0-10000 milliseconds
func (c *Client) AbsoluteMove(ctx context.Context, position, delayMs int) error {
	if err := validateRange("pos", position, 0, 65536); err != nil {
		return err
	}
	if err := validateRange("delay", delayMs, 0, 10000); err != nil {
		return err
	}
	_, err := c.sendCommand(ctx, Command{
		Name:            CmdAbsoluteMove,
		Params:          map[string]any{"pos": position, "delay": delayMs},
		ExpectsResponse: true,
	})
	return err
}

// Stop halts the motor immediately.
func (c *Client) Stop(ctx context.Context) error {
	_, err := c.sendCommand(ctx, Command{Name: CmdStop, ExpectsResponse: true})
	return err
}

// Jog pulses the motor for physical identification.
//
// Parameters:
//   - count: number of jog pulses, 1-10
func (c *Client) Jog(ctx context.Context, count int) error {
	if err := validateRange("count", count, 1, 10); err != nil {
		return err
	}
	_, err := c.sendCommand(ctx, Command{
		Name:            CmdJog,
		Params:          map[string]any{"count": count},
		ExpectsResponse: true,
	})
	return err
}

// GetStatus queries the motor's current status snapshot.
func (c *Client) GetStatus(ctx context.Context) (MotorStatus, error) {
	data, err := c.sendCommand(ctx, Command{Name: CmdGetStatus, ExpectsResponse: true})
	if err != nil {
		return MotorStatus{}, err
	}
	return decodeStatus(data)
}

// GetInfo queries the controller's network identity.
func (c *Client) GetInfo(ctx context.Context) (MotorInfo, error) {
	data, err := c.sendCommand(ctx, Command{Name: CmdGetInfo, ExpectsResponse: true})
	if err != nil {
		return MotorInfo{}, err
	}
	return decodeInfo(data)
}

// SetStatusCallback registers the status update callback. At most one
// is active; passing nil clears it.
func (c *Client) SetStatusCallback(callback func(StatusUpdate)) {
	c.statusMu.Lock()
	c.onStatus = callback
	c.statusMu.Unlock()
}

// SetConnectionCallback registers the connection state callback. At
// most one is active; passing nil clears it.
func (c *Client) SetConnectionCallback(callback func(ConnectionState)) {
	c.connCbMu.Lock()
	c.onConnection = callback
	c.connCbMu.Unlock()
}

// SetLogger sets the logger for this client.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the client is in the connected state.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// LastSeen returns the time of the last inbound traffic.
func (c *Client) LastSeen() time.Time {
	return time.Unix(c.lastSeen.Load(), 0)
}

// ConsumeJustReconnected reports whether the client reconnected since
// the last call, clearing the flag. The coordinator uses it to resync
// motor state after a reconnection boundary.
func (c *Client) ConsumeJustReconnected() bool {
	return c.justReconnected.CompareAndSwap(true, false)
}

// Stats returns current operational statistics.
func (c *Client) Stats() ClientStats {
	return ClientStats{
		FramesTx:        c.framesTx.Load(),
		FramesRx:        c.framesRx.Load(),
		EventsDropped:   c.eventsDropped.Load(),
		DecodeErrors:    c.decodeErrors.Load(),
		ErrorsTotal:     c.errorsTotal.Load(),
		ReconnectsTotal: c.reconnectsTotal.Load(),
		LastSeen:        c.LastSeen(),
		State:           c.State(),
	}
}

// logDebug logs a debug message if a logger is set.
func (c *Client) logDebug(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if a logger is set.
func (c *Client) logInfo(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logWarn logs a warning if a logger is set.
func (c *Client) logWarn(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

// logError logs an error message if a logger is set.
func (c *Client) logError(msg string, err error) {
	if logger := c.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

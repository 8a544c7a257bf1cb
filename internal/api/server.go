package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dendo-systems/renkei-poe-ha/internal/infrastructure/config"
	"github.com/dendo-systems/renkei-poe-ha/internal/infrastructure/logging"
	"github.com/dendo-systems/renkei-poe-ha/internal/motor"
	"github.com/dendo-systems/renkei-poe-ha/internal/renkei"
)

// gracefulShutdownTimeout bounds how long Close waits for in-flight
// requests before dropping remaining connections.
const gracefulShutdownTimeout = 10 * time.Second

// Coordinator is the motor-side surface the API server drives.
// Satisfied by *motor.Coordinator.
type Coordinator interface {
	Move(ctx context.Context, position, delaySeconds int) error
	AbsoluteMove(ctx context.Context, position, delayMs int) error
	Stop(ctx context.Context) error
	Jog(ctx context.Context, count int) error
	Refresh(ctx context.Context) (motor.Snapshot, error)
	Snapshot() motor.Snapshot
	Info(ctx context.Context) (renkei.MotorInfo, error)
	Diagnostics() motor.Diagnostics
	Subscribe(fn func(motor.Snapshot)) func()
	Connected() bool
	MotorID() string
	History() motor.HistoryRepository
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config      config.APIConfig
	WS          config.WebSocketConfig
	Security    config.SecurityConfig
	Logger      *logging.Logger
	Coordinator Coordinator
	Version     string
}

// Server exposes the motor over HTTP: a REST surface under /api/v1 and
// a WebSocket event stream fed by coordinator snapshots. Construct with
// New, bring up with Start, tear down with Close. Safe for concurrent
// use.
type Server struct {
	cfg     config.APIConfig
	wsCfg   config.WebSocketConfig
	secCfg  config.SecurityConfig
	logger  *logging.Logger
	coord   Coordinator
	version string
	server  *http.Server
	hub     *Hub
	tickets *ticketStore

	unsubscribe func()             // detaches the coordinator listener on Close()
	cancel      context.CancelFunc // cancels background goroutines on Close()
}

// New validates deps and returns an unstarted server.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Coordinator == nil {
		return nil, fmt.Errorf("motor coordinator is required")
	}

	return &Server{
		cfg:     deps.Config,
		wsCfg:   deps.WS,
		secCfg:  deps.Security,
		logger:  deps.Logger,
		coord:   deps.Coordinator,
		version: deps.Version,
		tickets: newTicketStore(),
	}, nil
}

// Start builds the router, attaches the snapshot listener that feeds
// the WebSocket hub, and begins serving in a background goroutine. The
// listener's lifetime is governed by Close, not ctx; ctx only scopes
// the hub and ticket-cleanup goroutines.
func (s *Server) Start(ctx context.Context) error {
	// Derive an internal context so Close can stop the background
	// goroutines even when the parent outlives the server.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.hub = NewHub(s.wsCfg, s.logger)
	go s.hub.Run(srvCtx)
	go s.tickets.cleanLoop(srvCtx)

	s.subscribeMotorUpdates()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close detaches from the coordinator, stops the background goroutines
// and drains the HTTP listener.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.unsubscribe != nil {
		s.unsubscribe()
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck reports whether the listener has been started.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}

// authEnabled reports whether bearer authentication is configured.
// An empty JWT secret disables auth (trusted installation network).
func (s *Server) authEnabled() bool {
	return s.secCfg.JWT.Secret != ""
}

// subscribeMotorUpdates registers a coordinator listener that broadcasts
// snapshots to WebSocket clients subscribed to "motor.state".
func (s *Server) subscribeMotorUpdates() {
	s.unsubscribe = s.coord.Subscribe(func(snap motor.Snapshot) {
		if s.hub == nil {
			return
		}
		s.hub.Broadcast(ChannelMotorState, snap)
	})
}

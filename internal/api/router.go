package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter assembles the middleware chain and the /api/v1 route tree.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Unauthenticated: liveness probe and the login endpoint itself.
		r.Get("/health", s.handleHealth)
		if s.authEnabled() {
			r.Post("/auth/login", s.handleLogin)
		}

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			// A ticket can only be minted by an authenticated caller;
			// the upgrade handler then validates the ticket itself.
			r.Post("/auth/ws-ticket", s.handleWSTicket)
			r.Get("/ws", s.handleWebSocket)

			r.Route("/motor", func(r chi.Router) {
				r.Get("/", s.handleGetMotor)
				r.Get("/info", s.handleGetMotorInfo)
				r.Get("/diagnostics", s.handleGetDiagnostics)
				r.Get("/history", s.handleGetHistory)
				r.Get("/audit", s.handleGetAudit)
				r.Post("/refresh", s.handleRefresh)
				r.Post("/move", s.handleMove)
				r.Post("/absolute-move", s.handleAbsoluteMove)
				r.Post("/stop", s.handleStop)
				r.Post("/jog", s.handleJog)
			})
		})
	})

	return r
}

// handleHealth reports service liveness plus the controller link state,
// so a dashboard can distinguish "service down" from "motor unreachable".
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   s.version,
		"motor_id":  s.coord.MotorID(),
		"connected": s.coord.Connected(),
	})
}

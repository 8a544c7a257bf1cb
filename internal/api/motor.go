package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

// History query limits. The repository clamps harder limits of its own;
// these bound what a single HTTP response will carry.
const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// moveRequest is the request body for POST /motor/move.
type moveRequest struct {
	// Position is the target as a percentage of travel (0-100).
	Position int `json:"position"`

	// Delay is an optional pre-move delay in seconds.
	Delay int `json:"delay"`
}

// absoluteMoveRequest is the request body for POST /motor/absolute-move.
type absoluteMoveRequest struct {
	// Position is the target in raw encoder pulses.
	Position int `json:"position"`

	// DelayMs is an optional pre-move delay in milliseconds.
	DelayMs int `json:"delay_ms"`
}

// jogRequest is the request body for POST /motor/jog.
type jogRequest struct {
	// Count is the number of jog pulses to issue.
	Count int `json:"count"`
}

// handleGetMotor returns the coordinator's current snapshot.
func (s *Server) handleGetMotor(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.Snapshot())
}

// handleGetMotorInfo returns controller identity (model, firmware, MAC).
func (s *Server) handleGetMotorInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.coord.Info(r.Context())
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleGetDiagnostics returns link counters and cached controller identity.
func (s *Server) handleGetDiagnostics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.Diagnostics())
}

// handleRefresh polls the controller and returns the fresh snapshot.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	snap, err := s.coord.Refresh(r.Context())
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleMove starts a percentage move.
func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.coord.Move(r.Context(), req.Position, req.Delay); err != nil {
		writeCommandError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":   "accepted",
		"position": req.Position,
		"delay":    req.Delay,
	})
}

// handleAbsoluteMove starts a pulse-addressed move.
func (s *Server) handleAbsoluteMove(w http.ResponseWriter, r *http.Request) {
	var req absoluteMoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.coord.AbsoluteMove(r.Context(), req.Position, req.DelayMs); err != nil {
		writeCommandError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":   "accepted",
		"position": req.Position,
		"delay_ms": req.DelayMs,
	})
}

// handleStop halts any motion in progress.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.Stop(r.Context()); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "stopped"})
}

// handleJog issues fine-adjustment pulses.
func (s *Server) handleJog(w http.ResponseWriter, r *http.Request) {
	var req jogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.coord.Jog(r.Context(), req.Count); err != nil {
		writeCommandError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "accepted",
		"count":  req.Count,
	})
}

// handleGetHistory returns recent position history rows, newest first.
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimitParam(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	history := s.coord.History()
	if history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "position history unavailable")
		return
	}

	entries, err := history.GetPositionHistory(r.Context(), s.coord.MotorID(), limit)
	if err != nil {
		writeInternalError(w, "failed to load position history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"motor_id": s.coord.MotorID(),
		"history":  entries,
		"count":    len(entries),
	})
}

// handleGetAudit returns recent command audit rows, newest first.
func (s *Server) handleGetAudit(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimitParam(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	history := s.coord.History()
	if history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "command audit unavailable")
		return
	}

	entries, err := history.GetCommandAudit(r.Context(), s.coord.MotorID(), limit)
	if err != nil {
		writeInternalError(w, "failed to load command audit")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"motor_id": s.coord.MotorID(),
		"audit":    entries,
		"count":    len(entries),
	})
}

// parseLimitParam parses the limit query parameter, applying the default
// and upper bound.
func parseLimitParam(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return limit, nil
}

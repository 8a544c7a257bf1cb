package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dendo-systems/renkei-poe-ha/internal/renkei"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`

	// DeviceCode is the controller's numeric error code, present when
	// the failure originated on the motor controller.
	DeviceCode int `json:"device_code,omitempty"`
}

// Common error codes.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeUnauthorized     = "unauthorised"
	ErrCodeConflict         = "conflict"
	ErrCodeInternal         = "internal_error"
	ErrCodeValidation       = "validation_error"
	ErrCodeDeviceError      = "device_error"
	ErrCodeMotorUnavailable = "motor_unavailable"
	ErrCodeTimeout          = "timeout"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeCommandError maps a motor command failure onto an HTTP response.
//
// The client error taxonomy maps as follows:
//   - ValidationError            -> 400 validation_error
//   - DeviceError                -> 502 device_error (numeric code passed through)
//   - ErrCommandPending          -> 409 conflict
//   - ErrTimeout                 -> 504 timeout
//   - ErrNotConnected / lost /
//     client closed              -> 503 motor_unavailable
//   - anything else              -> 500 internal_error
func writeCommandError(w http.ResponseWriter, err error) {
	var verr *renkei.ValidationError
	if errors.As(err, &verr) {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, verr.Error())
		return
	}

	var derr *renkei.DeviceError
	if errors.As(err, &derr) {
		writeJSON(w, http.StatusBadGateway, Error{
			Status:     http.StatusBadGateway,
			Code:       ErrCodeDeviceError,
			Message:    derr.Error(),
			DeviceCode: derr.Code,
		})
		return
	}

	switch {
	case errors.Is(err, renkei.ErrCommandPending):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, renkei.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, err.Error())
	case errors.Is(err, renkei.ErrNotConnected),
		errors.Is(err, renkei.ErrConnectionLost),
		errors.Is(err, renkei.ErrConnectionFailed),
		errors.Is(err, renkei.ErrClientClosed):
		writeError(w, http.StatusServiceUnavailable, ErrCodeMotorUnavailable, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}

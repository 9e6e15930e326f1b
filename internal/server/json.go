package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/playperu/questhunt/internal/hunt"
)

// ErrorResponse is returned for all error responses. Code is set for game
// rule violations so clients can branch on it.
type ErrorResponse struct {
	Error string    `json:"error"`
	Code  hunt.Code `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func statusFor(code hunt.Code) int {
	switch code {
	case hunt.CodeNotFound:
		return http.StatusNotFound
	case hunt.CodeIncorrectAnswer, hunt.CodeInvalidCoordinates, hunt.CodeInvalidTarget,
		hunt.CodeConfigurationError, hunt.CodeMalformedDocument:
		return http.StatusUnprocessableEntity
	case hunt.CodePermissionDenied:
		return http.StatusForbidden
	case hunt.CodeLocationTimeout:
		return http.StatusGatewayTimeout
	case hunt.CodePartialTransfer:
		return http.StatusInternalServerError
	case "":
		return http.StatusInternalServerError
	default:
		return http.StatusConflict
	}
}

// writeDomainError maps a game error to its status. Errors without a code
// are logged and reported as internal errors.
func writeDomainError(w http.ResponseWriter, logger *slog.Logger, err error) {
	code := hunt.CodeOf(err)
	if code == "" {
		logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if code == hunt.CodePartialTransfer {
		logger.Error("partial transfer reported to client", "error", err)
	}
	writeJSON(w, statusFor(code), ErrorResponse{Error: err.Error(), Code: code})
}

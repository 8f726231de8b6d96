package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/curaition/bitcoin-newsletter/internal/core"
)

const contentTypeJSON = "application/json"

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response encode failed", "error", err)
	}
}

// errorEnvelope is the wire shape of every error response.
type errorEnvelope struct {
	Error *core.PipelineError `json:"error"`
}

// WriteError maps a domain error onto an HTTP status and writes the error
// envelope. Unknown errors become opaque 500s; their detail stays in the
// server log.
func WriteError(w http.ResponseWriter, err error) {
	var perr *core.PipelineError
	if !errors.As(err, &perr) {
		slog.Error("unhandled error", "error", err)
		perr = core.NewInternalError("An unexpected error occurred.")
	}

	WriteJSON(w, statusForCode(perr.Code), errorEnvelope{Error: perr})
}

func statusForCode(code string) int {
	switch code {
	case core.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case core.ErrCodeNotFound:
		return http.StatusNotFound
	case core.ErrCodeConflict:
		return http.StatusConflict
	case core.ErrCodeBudgetExceeded, core.ErrCodeValidationFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

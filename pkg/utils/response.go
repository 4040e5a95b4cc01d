// Package utils holds the small HTTP response helpers shared by all handlers.
package utils

import (
	"encoding/json"
	"net/http"

	"github.com/quadai/quad/internal/apperr"
	"github.com/quadai/quad/internal/logging"
)

// ErrorPayload is the envelope every failing endpoint returns.
type ErrorPayload struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the stable machine code and a human-readable message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RespondJSON writes payload as a JSON response.
func RespondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.Error().Err(err).Msg("failed to encode response")
	}
}

// RespondError writes the error envelope with the given status.
func RespondError(w http.ResponseWriter, status int, code, message string) {
	RespondJSON(w, status, ErrorPayload{Error: ErrorDetail{Code: code, Message: message}})
}

// RespondAppError maps err onto the error taxonomy and writes the envelope.
// Unclassified errors surface as opaque internal failures; their cause is
// logged here because the generic message hides it.
func RespondAppError(w http.ResponseWriter, err error) {
	code := apperr.CodeOf(err)
	if code == apperr.CodeInternal {
		logging.Error().Err(err).Msg("internal error")
	}
	RespondError(w, apperr.HTTPStatus(code), string(code), apperr.MessageOf(err))
}

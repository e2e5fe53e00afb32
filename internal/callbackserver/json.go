package callbackserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/florianilch/implicitauth/internal/renewal"
)

// callbackResult is the body returned to the callback page.
type callbackResult struct {
	Type   string       `json:"type"`
	Status string       `json:"status"`
	Error  *errorDetail `json:"error,omitempty"`
}

type errorDetail struct {
	Code        string `json:"code"`
	Description string `json:"description,omitempty"`
}

// writeJSON writes data with the given status. Encoding failures are logged
// with ctx; the client may then see a truncated body.
func writeJSON(ctx context.Context, w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.ErrorContext(ctx, "failed to encode JSON response", "error", err)
	}
}

// writeJSONError maps a callback handling error onto a status code.
func writeJSONError(ctx context.Context, w http.ResponseWriter, requestType string, err error) {
	var (
		status int
		detail errorDetail
	)

	var providerErr *renewal.ProviderError
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.As(err, &providerErr):
		status = http.StatusUnauthorized
		detail = errorDetail{Code: providerErr.Code, Description: providerErr.Description}
	case errors.Is(err, renewal.ErrStateMismatch):
		status = http.StatusConflict
		detail = errorDetail{Code: "state_mismatch", Description: err.Error()}
	case errors.As(err, &maxBytesErr):
		status = http.StatusRequestEntityTooLarge
		detail = errorDetail{Code: "request_too_large"}
	case errors.Is(err, errMalformedResponse):
		status = http.StatusBadRequest
		detail = errorDetail{Code: "invalid_response", Description: err.Error()}
	default:
		status = http.StatusInternalServerError
		detail = errorDetail{Code: "server_error"}
	}

	writeJSON(ctx, w, callbackResult{Type: requestType, Status: "error", Error: &detail}, status)
}

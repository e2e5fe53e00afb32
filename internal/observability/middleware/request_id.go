package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

// Headers that carry a correlation id. client-request-id is what the
// authorize requests send, so provider-side logs line up with ours.
const (
	HeaderRequestID       = "X-Request-ID"
	HeaderClientRequestID = "client-request-id"
)

// RequestIDContextKey is the context key of the request id.
type RequestIDContextKey struct{}

// RequestIDFromContext returns the request id stored by RequestIDGeneration.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(RequestIDContextKey{}).(string)
	return id, ok && id != ""
}

func requestID(r *http.Request) string {
	for _, header := range []string{HeaderRequestID, HeaderClientRequestID} {
		if id := r.Header.Get(header); id != "" {
			return id
		}
	}
	if id, ok := RequestIDFromContext(r.Context()); ok {
		return id
	}
	return uuid.NewString()
}

// RequestIDGeneration stores the caller's request id in the request context,
// generating one when the caller sent none.
func RequestIDGeneration(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), RequestIDContextKey{}, requestID(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestIDPropagation echoes the request id in the response and adds it to
// the request log.
func RequestIDPropagation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, ok := RequestIDFromContext(r.Context()); ok {
			// Set before the handler runs so recovered panics carry it too.
			w.Header().Set(HeaderRequestID, id)
			SetLogAttrs(r.Context(), slog.String("request_id", id))
		}

		next.ServeHTTP(w, r)
	})
}

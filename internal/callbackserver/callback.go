package callbackserver

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/florianilch/implicitauth/internal/authcontext"
	"github.com/florianilch/implicitauth/internal/authorize"
	"github.com/florianilch/implicitauth/internal/observability/middleware"
)

//go:embed templates/callback.html
var callbackHTML string

var callbackTemplate = template.Must(template.New("callback").Parse(callbackHTML))

var errMalformedResponse = errors.New("malformed authorize response")

// Handler consumes authorize responses delivered to the redirect URI.
type Handler interface {
	HandleCallback(ctx context.Context, resp *authorize.Response) (authcontext.RequestType, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, resp *authorize.Response) (authcontext.RequestType, error)

// HandleCallback calls f.
func (f HandlerFunc) HandleCallback(ctx context.Context, resp *authorize.Response) (authcontext.RequestType, error) {
	return f(ctx, resp)
}

// callbackPage serves the redirect URI. Implicit-flow responses arrive in the
// URL fragment, which never reaches the server, so the page posts it back to
// responsePath. Responses in the query string are handled directly.
func callbackPage(h Handler, responsePath string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data := map[string]string{"ResponsePath": responsePath}

		if r.URL.RawQuery != "" {
			requestType, err := handleRaw(r.Context(), h, "?"+r.URL.RawQuery)
			middleware.SetLogAttrs(r.Context(), slog.String("callback_type", string(requestType)))
			if err != nil {
				data["Error"] = "Sign-in failed"
				data["Description"] = err.Error()
			}
		}

		w.Header().Set("Content-Security-Policy", "default-src 'none'; script-src 'unsafe-inline'; style-src 'unsafe-inline'; connect-src 'self'")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := callbackTemplate.Execute(w, data); err != nil {
			slog.ErrorContext(r.Context(), "failed to render callback page", "error", err)
		}
	}
}

// callbackResponse receives the fragment posted by the callback page.
func callbackResponse(h Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if err := r.ParseForm(); err != nil {
			writeJSONError(ctx, w, string(authcontext.RequestUnknown), fmt.Errorf("%w: %w", errMalformedResponse, err))
			return
		}

		requestType, err := handleRaw(ctx, h, "#"+r.PostForm.Get("response"))
		middleware.SetLogAttrs(ctx, slog.String("callback_type", string(requestType)))
		if err != nil {
			writeJSONError(ctx, w, string(requestType), err)
			return
		}

		writeJSON(ctx, w, callbackResult{Type: string(requestType), Status: "ok"}, http.StatusOK)
	}
}

func handleRaw(ctx context.Context, h Handler, raw string) (authcontext.RequestType, error) {
	resp, err := authorize.ParseResponse(raw)
	if err != nil {
		return authcontext.RequestUnknown, fmt.Errorf("%w: %w", errMalformedResponse, err)
	}
	return h.HandleCallback(ctx, resp)
}

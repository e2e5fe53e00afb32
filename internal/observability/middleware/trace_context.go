package middleware

import (
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// TraceContextExtraction joins a callback to the caller's trace. A tool that
// starts a login from inside a traced operation can pass traceparent through
// the redirect page; the ids then land on the callback's request log line and
// on everything logged with the request context. No span is started here.
func TraceContextExtraction(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			SetLogAttrs(ctx, traceAttrs(sc)...)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// traceAttrs names the correlation ids the same way the slog handler does.
func traceAttrs(sc trace.SpanContext) []slog.Attr {
	return []slog.Attr{
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	}
}

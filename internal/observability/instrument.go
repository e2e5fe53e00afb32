// Package observability configures process-wide structured logging: a stdout
// handler for people and, optionally, an OpenTelemetry log pipeline for
// collectors. Both enrich records with trace correlation ids.
package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// instrumentationName identifies records emitted through the OTel bridge.
const instrumentationName = "github.com/florianilch/implicitauth"

// Log exporters accepted by Instrument.
const (
	ExporterNone       = ""
	ExporterOTelStdout = "otel-stdout"
	ExporterOTLPHTTP   = "otlp-http"
	ExporterOTLPGRPC   = "otlp-grpc"
)

// Options selects the logging setup.
type Options struct {
	Level    slog.Level
	Format   string // text or json
	Exporter string // one of the Exporter constants
	Output   io.Writer
}

// ShutdownFunc flushes and stops the log pipeline.
type ShutdownFunc func(context.Context) error

// Instrument installs the default slog logger described by opts. The
// returned ShutdownFunc must be called before exit to flush exported records.
func Instrument(ctx context.Context, opts Options) (ShutdownFunc, error) {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	handler, err := newOutputHandler(out, opts.Level, opts.Format)
	if err != nil {
		return nil, err
	}

	shutdown := func(context.Context) error { return nil }

	if opts.Exporter != ExporterNone {
		exporter, err := newExporter(ctx, opts.Exporter)
		if err != nil {
			return nil, err
		}

		provider := sdklog.NewLoggerProvider(
			sdklog.WithProcessor(minsev.NewLogProcessor(sdklog.NewBatchProcessor(exporter), severity(opts.Level))),
		)
		global.SetLoggerProvider(provider)

		handler = fanout{handler, otelslog.NewHandler(instrumentationName, otelslog.WithLoggerProvider(provider))}
		shutdown = provider.Shutdown
	}

	slog.SetDefault(slog.New(newTraceContextHandler(handler)))
	return shutdown, nil
}

// newOutputHandler creates the human-facing handler.
func newOutputHandler(out io.Writer, level slog.Level, format string) (slog.Handler, error) {
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(format) {
	case "json":
		return slog.NewJSONHandler(out, opts), nil
	case "text", "":
		return slog.NewTextHandler(out, opts), nil
	default:
		return nil, fmt.Errorf("unsupported log format %q (expected: json, text)", format)
	}
}

// newExporter creates the exporter named by name. The OTLP exporters read
// their endpoint and headers from the standard OTEL_EXPORTER_OTLP_* variables.
func newExporter(ctx context.Context, name string) (sdklog.Exporter, error) {
	var (
		exporter sdklog.Exporter
		err      error
	)
	switch strings.ToLower(name) {
	case ExporterOTelStdout:
		exporter, err = stdoutlog.New()
	case ExporterOTLPHTTP:
		exporter, err = otlploghttp.New(ctx)
	case ExporterOTLPGRPC:
		exporter, err = otlploggrpc.New(ctx)
	default:
		return nil, fmt.Errorf("unsupported log exporter %q (expected: %s, %s, %s)",
			name, ExporterOTelStdout, ExporterOTLPHTTP, ExporterOTLPGRPC)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s log exporter: %w", name, err)
	}
	return exporter, nil
}

// severity maps a slog level onto the exporter's minimum severity.
func severity(level slog.Level) minsev.Severity {
	switch {
	case level <= slog.LevelDebug:
		return minsev.SeverityDebug
	case level <= slog.LevelInfo:
		return minsev.SeverityInfo
	case level <= slog.LevelWarn:
		return minsev.SeverityWarn
	default:
		return minsev.SeverityError
	}
}

// fanout sends every record to each handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, record.Level) {
			if err := h.Handle(ctx, record.Clone()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}

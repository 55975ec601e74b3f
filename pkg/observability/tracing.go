// Package observability wires OpenTelemetry tracing into a run.
//
// Tracing is off unless a trace file is configured. When it is on, every
// finished span is written to the file as one JSON object, so a run can be
// inspected without a collector.
package observability

import (
	"context"
	"os"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/ajitpratap0/healthetl/pkg/etlerrors"
)

// TracingConfig contains tracing configuration.
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	// File receives finished spans. Empty disables tracing.
	File string
	// SampleRatio is the fraction of traces recorded, 0 to 1.
	SampleRatio float64
	// PrettyPrint indents each exported span.
	PrettyPrint bool
}

// ShutdownFunc flushes pending spans and releases the exporter.
type ShutdownFunc func(context.Context) error

// InitTracing installs the global tracer provider. With no file configured
// it installs a no-op provider. The returned function must be called before
// the process exits to flush spans.
func InitTracing(cfg TracingConfig, logger *zap.Logger) (ShutdownFunc, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.File == "" {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	f, err := os.Create(cfg.File)
	if err != nil {
		return nil, etlerrors.Wrap(err, etlerrors.ErrorTypeIO, "failed to create trace file").
			WithDetail("path", cfg.File)
	}

	opts := []stdouttrace.Option{stdouttrace.WithWriter(f)}
	if cfg.PrettyPrint {
		opts = append(opts, stdouttrace.WithPrettyPrint())
	}
	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		_ = f.Close()
		return nil, etlerrors.Wrap(err, etlerrors.ErrorTypeInternal, "failed to create span exporter")
	}

	res := resource.NewWithAttributes(semconv.SchemaURL,
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.ServiceVersionKey.String(cfg.ServiceVersion),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)

	logger.Debug("tracing enabled",
		zap.String("component", "observability"),
		zap.String("file", cfg.File),
		zap.Float64("sample_ratio", cfg.SampleRatio))

	var once sync.Once
	var shutdownErr error
	return func(ctx context.Context) error {
		once.Do(func() {
			if err := tp.Shutdown(ctx); err != nil {
				shutdownErr = etlerrors.Wrap(err, etlerrors.ErrorTypeIO, "failed to flush spans")
			}
			if err := f.Close(); err != nil && shutdownErr == nil {
				shutdownErr = etlerrors.Wrap(err, etlerrors.ErrorTypeIO, "failed to close trace file")
			}
		})
		return shutdownErr
	}, nil
}

func sampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio <= 0:
		return sdktrace.NeverSample()
	case ratio >= 1:
		return sdktrace.AlwaysSample()
	default:
		return sdktrace.TraceIDRatioBased(ratio)
	}
}

// Tracer returns a named tracer from the global provider.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

package observability

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/Skryldev/mcp-user-tools/db"
)

// InitTracing configures an OTLP HTTP exporter when endpoint is set.
// Without an endpoint tracing stays a no-op. The returned function flushes
// and stops the provider.
func InitTracing(ctx context.Context, logger *slog.Logger, endpoint, serviceName, version string) (func(context.Context) error, error) {
	if endpoint == "" {
		logger.Info("tracing disabled: OTEL_EXPORTER_OTLP_ENDPOINT not set")
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	logger.Info("tracing initialized", slog.String("endpoint", endpoint))
	return tp.Shutdown, nil
}

// QueryTracer turns db statements into client spans.
type QueryTracer struct {
	tracer trace.Tracer
	system string
}

// NewQueryTracer returns a db.Tracer using the global tracer provider.
// system is the db.system attribute, e.g. "sqlite".
func NewQueryTracer(system string) *QueryTracer {
	return &QueryTracer{
		tracer: otel.Tracer("github.com/Skryldev/mcp-user-tools/db"),
		system: system,
	}
}

// RecordSpan implements db.Tracer.
func (t *QueryTracer) RecordSpan(ctx context.Context, query string, start time.Time, err error) {
	verb := db.StatementVerb(query)
	_, span := t.tracer.Start(ctx, "db."+verb,
		trace.WithTimestamp(start),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", t.system),
			attribute.String("db.operation", verb),
			attribute.String("db.statement", query),
		),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

var _ db.Tracer = (*QueryTracer)(nil)

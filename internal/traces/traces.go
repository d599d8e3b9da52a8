// Package traces wires OpenTelemetry tracing for the platform. Spans are
// named "<registry>.<operation>" and carry the tenant scope they ran under.
package traces

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName  = "github.com/mbd888/agentplatform"
	serviceName = "agentplatform"
)

// Settings describes the exporter and the process being traced.
type Settings struct {
	// Endpoint is the OTLP/gRPC collector address. Empty disables export.
	Endpoint string
	Version  string
	Env      string
}

// Init installs a global tracer provider for the platform. With no
// endpoint the no-op provider stays in place. The returned function
// flushes pending spans and stops the exporter.
func Init(ctx context.Context, s Settings, logger *slog.Logger) (func(context.Context) error, error) {
	if s.Endpoint == "" {
		logger.Info("tracing disabled (no OTEL_EXPORTER_OTLP_ENDPOINT set)")
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(s.Endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	version := s.Version
	if version == "" {
		version = "dev"
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(version),
	}
	if s.Env != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(s.Env))
	}
	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	logger.Info("tracing enabled", "endpoint", s.Endpoint, "env", s.Env)
	return tp.Shutdown, nil
}

// StartSpan starts a span named name on the platform tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

// StartRegistrySpan starts "<registry>.<op>" for a write against one
// record, tagged with the caller's tenant scope.
func StartRegistrySpan(ctx context.Context, registry, op, recordID, tenantID string, admin bool) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{Resource(registry), Admin(admin)}
	if recordID != "" {
		attrs = append(attrs, RecordID(recordID))
	}
	if tenantID != "" {
		attrs = append(attrs, TenantID(tenantID))
	}
	return StartSpan(ctx, registry+"."+op, attrs...)
}

// Fail marks span as failed with err. A nil err is a no-op, so callers can
// defer it over a named error result.
func Fail(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func TenantID(id string) attribute.KeyValue {
	return attribute.String("tenant.id", id)
}

func UserID(id string) attribute.KeyValue {
	return attribute.String("user.id", id)
}

// Admin records whether the caller acted with cross-tenant rights.
func Admin(admin bool) attribute.KeyValue {
	return attribute.Bool("tenant.admin", admin)
}

// Resource names the registry a span operates on ("agents", "plugins", ...).
func Resource(name string) attribute.KeyValue {
	return attribute.String("registry.resource", name)
}

func RecordID(id string) attribute.KeyValue {
	return attribute.String("registry.record_id", id)
}

func Count(n int) attribute.KeyValue {
	return attribute.Int("count", n)
}

// ImportOutcome summarises a declarative import batch.
func ImportOutcome(imported, updated, skipped, failed int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int("import.imported", imported),
		attribute.Int("import.updated", updated),
		attribute.Int("import.skipped", skipped),
		attribute.Int("import.failed", failed),
	}
}

// Copyright 2026 fanjia1024
// OpenTelemetry integration for distributed tracing

package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// OTelConfig OpenTelemetry 配置
type OTelConfig struct {
	ServiceName    string
	ExportEndpoint string
	Insecure       bool
}

// InitTracer 初始化 OpenTelemetry tracer
func InitTracer(config OTelConfig) (*sdktrace.TracerProvider, error) {
	ctx := context.Background()

	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(config.ExportEndpoint),
	}
	if config.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
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
	return tp, nil
}

// StartDispatchSpan 开始 job dispatch span
func StartDispatchSpan(ctx context.Context, jobID string, payloadKind string) (context.Context, trace.Span) {
	tracer := otel.Tracer("agent-gateway")
	ctx, span := tracer.Start(ctx, "job.dispatch",
		trace.WithAttributes(
			attribute.String("job.id", jobID),
			attribute.String("payload.kind", payloadKind),
		),
	)
	return ctx, span
}

// StartSubagentSpan 开始 subagent run span
func StartSubagentSpan(ctx context.Context, runID string, childSessionKey string) (context.Context, trace.Span) {
	tracer := otel.Tracer("agent-gateway")
	ctx, span := tracer.Start(ctx, "subagent.run",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("session.key", childSessionKey),
		),
	)
	return ctx, span
}

// StartSweepSpan 开始 checkpoint sweep span
func StartSweepSpan(ctx context.Context) (context.Context, trace.Span) {
	tracer := otel.Tracer("agent-gateway")
	return tracer.Start(ctx, "checkpoint.sweep")
}

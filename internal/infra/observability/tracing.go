package observability

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracerName is the instrumentation scope used by every ccflow span.
const TracerName = "ccflow"

const (
	SpanResolve = "ccflow.environment.resolve"
	SpanInstall = "ccflow.environment.install"
	SpanExecute = "ccflow.claude.execute"
	SpanBatch   = "ccflow.claude.batch"
)

const (
	AttrMode         = "ccflow.mode"
	AttrSessionID    = "ccflow.session_id"
	AttrModel        = "ccflow.model"
	AttrExitCode     = "ccflow.exit_code"
	AttrTimedOut     = "ccflow.timed_out"
	AttrInputTokens  = "ccflow.input_tokens"
	AttrOutputTokens = "ccflow.output_tokens"
	AttrCost         = "ccflow.cost_usd"
	AttrStructured   = "ccflow.structured"
	AttrSource       = "ccflow.resolve_source"
	AttrError        = "ccflow.error"
)

// TracingConfig configures span export.
type TracingConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Exporter       string  `yaml:"exporter"` // otlp, zipkin
	OTLPEndpoint   string  `yaml:"otlp_endpoint"`
	ZipkinEndpoint string  `yaml:"zipkin_endpoint"`
	SampleRate     float64 `yaml:"sample_rate"` // 0.0 to 1.0
	ServiceName    string  `yaml:"service_name"`
	ServiceVersion string  `yaml:"service_version"`
}

func (c TracingConfig) withDefaults() TracingConfig {
	c.Exporter = strings.ToLower(strings.TrimSpace(c.Exporter))
	if c.Exporter == "" {
		c.Exporter = "otlp"
	}
	if c.OTLPEndpoint == "" {
		c.OTLPEndpoint = "localhost:4318"
	}
	if c.ZipkinEndpoint == "" {
		c.ZipkinEndpoint = "http://localhost:9411/api/v2/spans"
	}
	if c.SampleRate <= 0 || c.SampleRate > 1.0 {
		c.SampleRate = 1.0
	}
	if c.ServiceName == "" {
		c.ServiceName = TracerName
	}
	return c
}

// TracerProvider owns the SDK provider when tracing is enabled. When it is
// disabled Tracer returns a no-op tracer and Shutdown does nothing.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracerProvider builds a provider exporting through the configured
// exporter and installs it as the global provider.
func NewTracerProvider(ctx context.Context, config TracingConfig) (*TracerProvider, error) {
	if !config.Enabled {
		return &TracerProvider{tracer: noop.NewTracerProvider().Tracer(TracerName)}, nil
	}
	config = config.withDefaults()

	exporter, err := newSpanExporter(ctx, config)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(config.ServiceName),
		semconv.ServiceVersion(config.ServiceVersion),
	))
	if err != nil {
		_ = exporter.Shutdown(ctx)
		return nil, fmt.Errorf("build trace resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(config.SampleRate))),
	)
	otel.SetTracerProvider(provider)

	return &TracerProvider{provider: provider, tracer: provider.Tracer(TracerName)}, nil
}

func newSpanExporter(ctx context.Context, config TracingConfig) (sdktrace.SpanExporter, error) {
	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	switch config.Exporter {
	case "otlp":
		exporter, err = otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(config.OTLPEndpoint),
			otlptracehttp.WithInsecure(),
		)
	case "zipkin":
		exporter, err = zipkin.New(config.ZipkinEndpoint)
	default:
		return nil, fmt.Errorf("unsupported exporter: %s", config.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s exporter: %w", config.Exporter, err)
	}
	return exporter, nil
}

// Enabled reports whether spans are exported.
func (tp *TracerProvider) Enabled() bool {
	return tp != nil && tp.provider != nil
}

func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if !tp.Enabled() {
		return nil
	}
	return tp.provider.Shutdown(ctx)
}

func (tp *TracerProvider) Tracer() trace.Tracer {
	if tp == nil || tp.tracer == nil {
		return noop.NewTracerProvider().Tracer(TracerName)
	}
	return tp.tracer
}

// UsageAttrs returns token attributes, plus cost when it is positive.
func UsageAttrs(inputTokens, outputTokens int, cost float64) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Int(AttrInputTokens, inputTokens),
		attribute.Int(AttrOutputTokens, outputTokens),
	}
	if cost > 0 {
		attrs = append(attrs, attribute.Float64(AttrCost, cost))
	}
	return attrs
}

// RecordSpanError marks span as failed with err.
func RecordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.Bool(AttrError, true))
}

package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNewTracerProviderDisabled(t *testing.T) {
	tp, err := NewTracerProvider(context.Background(), TracingConfig{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, tp.Tracer())
	assert.False(t, tp.Enabled())

	_, span := tp.Tracer().Start(context.Background(), SpanExecute)
	assert.False(t, span.SpanContext().IsValid())
	span.End()
	require.NoError(t, tp.Shutdown(context.Background()))
}

func TestNewTracerProviderRejectsUnknownExporter(t *testing.T) {
	_, err := NewTracerProvider(context.Background(), TracingConfig{Enabled: true, Exporter: "carrier-pigeon"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported exporter")
}

func TestNilTracerProviderIsUsable(t *testing.T) {
	var tp *TracerProvider
	require.NotNil(t, tp.Tracer())
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestTracingConfigDefaults(t *testing.T) {
	cfg := TracingConfig{Exporter: " Zipkin ", SampleRate: 4}.withDefaults()
	assert.Equal(t, "zipkin", cfg.Exporter)
	assert.Equal(t, 1.0, cfg.SampleRate)
	assert.Equal(t, TracerName, cfg.ServiceName)
	assert.Equal(t, "localhost:4318", cfg.OTLPEndpoint)
}

func TestRecordSpanError(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	_, span := provider.Tracer(TracerName).Start(context.Background(), SpanResolve)
	RecordSpanError(span, nil)
	RecordSpanError(span, errors.New("npm missing"))
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, "npm missing", ended[0].Status().Description)
}

func TestUsageAttrs(t *testing.T) {
	attrs := UsageAttrs(3, 4, 0)
	assert.Len(t, attrs, 2)

	attrs = UsageAttrs(3, 4, 0.5)
	assert.Len(t, attrs, 3)
	assert.Equal(t, AttrCost, string(attrs[2].Key))
}

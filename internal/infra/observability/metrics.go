package observability

import (
	"context"
	"fmt"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsConfig configures the metrics collector
type MetricsConfig struct {
	Enabled        bool   `yaml:"enabled"`
	PushgatewayURL string `yaml:"pushgateway_url"`
	Job            string `yaml:"job"`
}

// MetricsCollector records CLI invocation and provisioning metrics.
// A zero MetricsCollector is valid and records nothing.
type MetricsCollector struct {
	provider *sdkmetric.MeterProvider
	registry *promclient.Registry

	invocations        metric.Int64Counter
	invocationDuration metric.Float64Histogram
	tokens             metric.Int64Counter
	cost               metric.Float64Counter
	provisioning       metric.Int64Counter
}

// NewMetricsCollector creates a collector backed by its own Prometheus registry.
func NewMetricsCollector(config MetricsConfig) (*MetricsCollector, error) {
	if !config.Enabled {
		return &MetricsCollector{}, nil
	}

	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry), prometheus.WithoutScopeInfo())
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("ccflow")

	collector := &MetricsCollector{provider: provider, registry: registry}
	if err := collector.init(meter); err != nil {
		return nil, err
	}
	return collector, nil
}

func (m *MetricsCollector) init(meter metric.Meter) error {
	var err error
	m.invocations, err = meter.Int64Counter(
		"ccflow.claude.invocations",
		metric.WithDescription("Total number of claude CLI invocations"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create invocations counter: %w", err)
	}

	m.invocationDuration, err = meter.Float64Histogram(
		"ccflow.claude.invocation.duration",
		metric.WithDescription("Wall-clock time of claude CLI invocations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create invocation duration histogram: %w", err)
	}

	m.tokens, err = meter.Int64Counter(
		"ccflow.claude.tokens",
		metric.WithDescription("Tokens reported by the claude CLI"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create tokens counter: %w", err)
	}

	m.cost, err = meter.Float64Counter(
		"ccflow.claude.cost",
		metric.WithDescription("Cost reported by the claude CLI in USD"),
	)
	if err != nil {
		return fmt.Errorf("failed to create cost counter: %w", err)
	}

	m.provisioning, err = meter.Int64Counter(
		"ccflow.claude.provisioning",
		metric.WithDescription("Executable resolutions by source"),
		metric.WithUnit("{resolution}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create provisioning counter: %w", err)
	}
	return nil
}

// Registry exposes the backing Prometheus registry; nil when metrics are disabled.
func (m *MetricsCollector) Registry() *promclient.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordInvocation records one CLI invocation.
func (m *MetricsCollector) RecordInvocation(ctx context.Context, mode, outcome string, latency time.Duration, inputTokens, outputTokens int, cost float64) {
	if m == nil || m.invocations == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("mode", mode),
		attribute.String("outcome", outcome),
	}
	m.invocations.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.invocationDuration.Record(ctx, latency.Seconds(), metric.WithAttributes(attribute.String("mode", mode)))
	if inputTokens > 0 {
		m.tokens.Add(ctx, int64(inputTokens), metric.WithAttributes(attribute.String("direction", "input")))
	}
	if outputTokens > 0 {
		m.tokens.Add(ctx, int64(outputTokens), metric.WithAttributes(attribute.String("direction", "output")))
	}
	if cost > 0 {
		m.cost.Add(ctx, cost)
	}
}

// RecordProvisioning records how the executable was resolved
// (context, cache, private, path, install, failed).
func (m *MetricsCollector) RecordProvisioning(ctx context.Context, source string) {
	if m == nil || m.provisioning == nil {
		return
	}
	m.provisioning.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// Push sends the collected metrics to a Prometheus Pushgateway. No-op when no
// gateway is configured.
func (m *MetricsCollector) Push(ctx context.Context, config MetricsConfig) error {
	if m == nil || m.registry == nil || config.PushgatewayURL == "" {
		return nil
	}
	job := config.Job
	if job == "" {
		job = "ccflow"
	}
	if err := push.New(config.PushgatewayURL, job).Gatherer(m.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}

// Shutdown flushes and stops the meter provider.
func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

package observability

import (
	"context"
	"strings"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findFamily(t *testing.T, families []*dto.MetricFamily, prefix string) *dto.MetricFamily {
	t.Helper()
	for _, family := range families {
		if strings.HasPrefix(family.GetName(), prefix) {
			return family
		}
	}
	return nil
}

func labelValue(m *dto.Metric, name string) string {
	for _, label := range m.GetLabel() {
		if label.GetName() == name {
			return label.GetValue()
		}
	}
	return ""
}

func TestMetricsCollectorDisabledIsNoop(t *testing.T) {
	collector, err := NewMetricsCollector(MetricsConfig{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, collector.Registry())

	collector.RecordInvocation(context.Background(), "print", "success", time.Second, 1, 2, 0.1)
	collector.RecordProvisioning(context.Background(), "path")
	require.NoError(t, collector.Push(context.Background(), MetricsConfig{PushgatewayURL: "http://unused"}))
	require.NoError(t, collector.Shutdown(context.Background()))
}

func TestMetricsCollectorRecordsInvocations(t *testing.T) {
	collector, err := NewMetricsCollector(MetricsConfig{Enabled: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = collector.Shutdown(context.Background()) })

	ctx := context.Background()
	collector.RecordInvocation(ctx, "print", "success", 1500*time.Millisecond, 42, 8, 0.02)
	collector.RecordInvocation(ctx, "print", "failure", 200*time.Millisecond, 0, 0, 0)
	collector.RecordProvisioning(ctx, "install")

	families, err := collector.Registry().Gather()
	require.NoError(t, err)

	invocations := findFamily(t, families, "ccflow_claude_invocations")
	require.NotNil(t, invocations, "invocations family missing")
	require.Len(t, invocations.GetMetric(), 2)
	for _, m := range invocations.GetMetric() {
		assert.Equal(t, "print", labelValue(m, "mode"))
		assert.Equal(t, 1.0, m.GetCounter().GetValue())
	}

	tokens := findFamily(t, families, "ccflow_claude_tokens")
	require.NotNil(t, tokens, "tokens family missing")
	byDirection := map[string]float64{}
	for _, m := range tokens.GetMetric() {
		byDirection[labelValue(m, "direction")] = m.GetCounter().GetValue()
	}
	assert.Equal(t, 42.0, byDirection["input"])
	assert.Equal(t, 8.0, byDirection["output"])

	provisioning := findFamily(t, families, "ccflow_claude_provisioning")
	require.NotNil(t, provisioning, "provisioning family missing")
	assert.Equal(t, "install", labelValue(provisioning.GetMetric()[0], "source"))
}

func TestDisabledMetricsAcceptRecords(t *testing.T) {
	collector, err := NewMetricsCollector(MetricsConfig{Enabled: false})
	require.NoError(t, err)
	collector.RecordInvocation(context.Background(), "interactive", "timeout", time.Second, 0, 0, 0)
	collector.RecordProvisioning(context.Background(), "path")
	assert.Nil(t, collector.Registry())
	assert.NoError(t, collector.Push(context.Background(), MetricsConfig{PushgatewayURL: "http://127.0.0.1:1"}))
	assert.NoError(t, collector.Shutdown(context.Background()))

	var nilCollector *MetricsCollector
	nilCollector.RecordProvisioning(context.Background(), "cache")
}

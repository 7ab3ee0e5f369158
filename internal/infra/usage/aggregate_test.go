package usage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil)
	assert.Equal(t, Summary{}, s)
	assert.Zero(t, s.AverageCostUSD)
	assert.Zero(t, s.SuccessRate)
}

func TestSummarize(t *testing.T) {
	s := Summarize([]Record{
		{Success: true, InputTokens: 1000, OutputTokens: 234, CostUSD: 0.01},
		{Success: false, InputTokens: 10, CostUSD: 0.02},
		{Success: true, OutputTokens: 6},
		{Success: true, CostUSD: 0.01},
	})

	assert.Equal(t, 4, s.TotalOperations)
	assert.Equal(t, 3, s.Successful)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1250, s.TotalTokens)
	assert.InDelta(t, 0.04, s.TotalCostUSD, 1e-9)
	assert.InDelta(t, 0.01, s.AverageCostUSD, 1e-9)
	assert.InDelta(t, 75.0, s.SuccessRate, 1e-9)
}

func TestSummaryString(t *testing.T) {
	s := Summarize([]Record{
		{Success: true, InputTokens: 1200, OutputTokens: 34, CostUSD: 0.5},
		{Success: false},
	})

	want := "Claude Code Usage Summary:\n" +
		"Total Operations: 2\n" +
		"Successful: 1\n" +
		"Failed: 1\n" +
		"Total Tokens Used: 1,234\n" +
		"Total Cost: $0.5000\n" +
		"Average Cost per Operation: $0.2500\n" +
		"Success Rate: 50.0%"
	assert.Equal(t, want, s.String())
}

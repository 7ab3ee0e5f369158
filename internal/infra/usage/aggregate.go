// Package usage reduces per-invocation outcomes into totals.
package usage

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Record is the per-invocation input to Summarize.
type Record struct {
	Success      bool    `json:"success"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Tokens returns input plus output tokens.
func (r Record) Tokens() int {
	return r.InputTokens + r.OutputTokens
}

// Summary aggregates a sequence of records.
type Summary struct {
	TotalOperations int     `json:"total_operations"`
	Successful      int     `json:"successful"`
	Failed          int     `json:"failed"`
	TotalTokens     int     `json:"total_tokens"`
	TotalCostUSD    float64 `json:"total_cost_usd"`
	AverageCostUSD  float64 `json:"average_cost_usd"`
	SuccessRate     float64 `json:"success_rate"`
}

// Summarize is a pure reduction; an empty input yields a zero Summary.
func Summarize(records []Record) Summary {
	var s Summary
	for _, r := range records {
		s.TotalOperations++
		if r.Success {
			s.Successful++
		}
		s.TotalTokens += r.Tokens()
		s.TotalCostUSD += r.CostUSD
	}
	s.Failed = s.TotalOperations - s.Successful
	if s.TotalOperations > 0 {
		s.AverageCostUSD = s.TotalCostUSD / float64(s.TotalOperations)
		s.SuccessRate = float64(s.Successful) / float64(s.TotalOperations) * 100
	}
	return s
}

var printer = message.NewPrinter(language.English)

// String renders the human-readable usage report.
func (s Summary) String() string {
	var sb strings.Builder
	sb.WriteString("Claude Code Usage Summary:\n")
	printer.Fprintf(&sb, "Total Operations: %d\n", s.TotalOperations)
	printer.Fprintf(&sb, "Successful: %d\n", s.Successful)
	printer.Fprintf(&sb, "Failed: %d\n", s.Failed)
	printer.Fprintf(&sb, "Total Tokens Used: %d\n", s.TotalTokens)
	printer.Fprintf(&sb, "Total Cost: $%.4f\n", s.TotalCostUSD)
	printer.Fprintf(&sb, "Average Cost per Operation: $%.4f\n", s.AverageCostUSD)
	printer.Fprintf(&sb, "Success Rate: %.1f%%", s.SuccessRate)
	return sb.String()
}

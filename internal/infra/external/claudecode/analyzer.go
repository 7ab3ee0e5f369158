package claudecode

import (
	"fmt"
	"strings"

	"ccflow/internal/infra/external/subprocess"
	"ccflow/internal/infra/usage"
)

// Analysis is the normalized outcome of one invocation.
type Analysis struct {
	ResponseText string   `json:"response_text"`
	Success      bool     `json:"success"`
	InputTokens  int      `json:"input_tokens"`
	OutputTokens int      `json:"output_tokens"`
	TotalCostUSD float64  `json:"total_cost_usd"`
	FilesEdited  []string `json:"files_edited"`
	EditSummary  string   `json:"edit_summary"`
	HasErrors    bool     `json:"has_errors"`
	SessionID    string   `json:"session_id,omitempty"`
	// Structured is true when stdout decoded as a JSON result document.
	Structured bool `json:"structured"`
}

// TotalTokens returns input plus output tokens.
func (a Analysis) TotalTokens() int {
	return a.InputTokens + a.OutputTokens
}

// UsageRecord adapts the analysis for usage.Summarize.
func (a Analysis) UsageRecord() usage.Record {
	return usage.Record{
		Success:      a.Success,
		InputTokens:  a.InputTokens,
		OutputTokens: a.OutputTokens,
		CostUSD:      a.TotalCostUSD,
	}
}

// Analyze derives an Analysis from a raw result without any I/O.
//
// Structured output succeeds when it is not flagged as an error, its subtype is
// not error_during_execution and the process exited 0. Free-text output
// succeeds when stderr is empty. HasErrors is set for any stderr or timeout.
func Analyze(raw subprocess.RawResult) Analysis {
	var analysis Analysis
	switch resp := Parse(raw.Stdout).(type) {
	case StructuredResponse:
		analysis = Analysis{
			Success:      !resp.IsError && !resp.ErrorSubtype() && raw.ExitCode == 0,
			InputTokens:  max(resp.Usage.InputTokens, 0),
			OutputTokens: max(resp.Usage.OutputTokens, 0),
			TotalCostUSD: max(resp.TotalCostUSD, 0),
			FilesEdited:  resp.EditedFiles(),
			SessionID:    strings.TrimSpace(resp.SessionID),
			Structured:   true,
		}
		switch {
		case resp.Result != nil:
			analysis.ResponseText = *resp.Result
		case resp.ErrorSubtype():
			analysis.ResponseText = executionErrorPlaceholder
		default:
			analysis.ResponseText = raw.Stdout
		}
	case FreeTextResponse:
		analysis = Analysis{
			ResponseText: resp.Text,
			Success:      raw.Stderr == "",
			InputTokens:  resp.InputTokens,
			OutputTokens: resp.OutputTokens,
			TotalCostUSD: resp.TotalCostUSD,
			FilesEdited:  resp.FilesEdited,
		}
	}

	analysis.HasErrors = raw.Stderr != "" || raw.TimedOut
	analysis.EditSummary = EditSummary(analysis.FilesEdited)
	return analysis
}

// EditSummary renders the one-line description of edited files.
func EditSummary(files []string) string {
	if len(files) == 0 {
		return "No files were edited"
	}
	return fmt.Sprintf("Edited %d file(s): %s", len(files), strings.Join(files, ", "))
}

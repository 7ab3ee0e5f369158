package claudecode

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// subtypeErrorDuringExecution is the only result subtype treated as a failure.
const subtypeErrorDuringExecution = "error_during_execution"

const executionErrorPlaceholder = "Execution error occurred"

var editToolNames = map[string]struct{}{
	"Edit":      {},
	"Write":     {},
	"MultiEdit": {},
}

// Response is either a StructuredResponse or a FreeTextResponse.
type Response interface {
	isResponse()
}

// Usage is the token block of a structured response.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ToolCall is one entry of tool_calls.
type ToolCall struct {
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters"`
}

// FilePath returns parameters.file_path when it is a non-empty string.
func (c ToolCall) FilePath() string {
	path, _ := c.Parameters["file_path"].(string)
	return strings.TrimSpace(path)
}

// StructuredResponse is the JSON document printed by `claude -p --output-format json`.
type StructuredResponse struct {
	Type         string     `json:"type"`
	Subtype      string     `json:"subtype"`
	IsError      bool       `json:"is_error"`
	Result       *string    `json:"result"`
	SessionID    string     `json:"session_id"`
	TotalCostUSD float64    `json:"total_cost_usd"`
	Usage        Usage      `json:"usage"`
	ToolCalls    []ToolCall `json:"tool_calls"`
	DurationMS   int64      `json:"duration_ms"`
	NumTurns     int        `json:"num_turns"`
}

func (StructuredResponse) isResponse() {}

// ErrorSubtype reports whether Subtype marks an execution failure.
func (r StructuredResponse) ErrorSubtype() bool {
	return r.Subtype == subtypeErrorDuringExecution
}

// EditedFiles returns file paths touched by edit tools, deduplicated and sorted.
func (r StructuredResponse) EditedFiles() []string {
	set := make(map[string]struct{})
	for _, call := range r.ToolCalls {
		if _, ok := editToolNames[call.Name]; !ok {
			continue
		}
		if path := call.FilePath(); path != "" {
			set[path] = struct{}{}
		}
	}
	return sortedKeys(set)
}

// FreeTextResponse holds facts scraped from non-JSON output.
type FreeTextResponse struct {
	Text         string
	InputTokens  int
	OutputTokens int
	TotalCostUSD float64
	FilesEdited  []string
}

func (FreeTextResponse) isResponse() {}

// ParseError explains why stdout was not a structured response.
type ParseError struct {
	Offset int64
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	msg := "invalid structured response"
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Offset > 0 {
		msg += fmt.Sprintf(" (offset %d)", e.Offset)
	}
	return msg
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Decode parses stdout as a structured response. Any failure is a *ParseError.
func Decode(stdout string) (StructuredResponse, error) {
	trimmed := strings.TrimSpace(stdout)
	if trimmed == "" {
		return StructuredResponse{}, &ParseError{Reason: "empty output"}
	}
	if !strings.HasPrefix(trimmed, "{") {
		return StructuredResponse{}, &ParseError{Reason: "not a JSON object"}
	}

	var resp StructuredResponse
	if err := json.Unmarshal([]byte(trimmed), &resp); err != nil {
		parseErr := &ParseError{Err: err}
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.As(err, &syntaxErr):
			parseErr.Offset = syntaxErr.Offset
		case errors.As(err, &typeErr):
			parseErr.Offset = typeErr.Offset
		}
		return StructuredResponse{}, parseErr
	}
	return resp, nil
}

// Parse returns the structured response when stdout decodes, otherwise the
// free-text scan of stdout.
func Parse(stdout string) Response {
	if resp, err := Decode(stdout); err == nil {
		return resp
	}
	return ScanFreeText(stdout)
}

var (
	inputTokensLabel   = regexp.MustCompile(`(?i)input tokens:[ \t]*(\d+)`)
	inputTokensSuffix  = regexp.MustCompile(`(?i)(\d+)[ \t]*input[ \t]*tokens`)
	outputTokensLabel  = regexp.MustCompile(`(?i)output tokens:[ \t]*(\d+)`)
	outputTokensSuffix = regexp.MustCompile(`(?i)(\d+)[ \t]*output[ \t]*tokens`)
	costPattern        = regexp.MustCompile(`(?i)(?:total\s+)?cost:[ \t]*\$?(\d+(?:\.\d+)?)`)

	fileEvidencePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)Edited:[ \t]*([^\n]+)`),
		regexp.MustCompile(`(?i)Modified:[ \t]*([^\n]+)`),
		regexp.MustCompile(`(?i)Writing to:[ \t]*([^\n]+)`),
		regexp.MustCompile(`(?i)Created:[ \t]*([^\n]+)`),
	}
)

// ScanFreeText extracts token counts, cost and edited files from free text.
// For token counts the "Label: N" form takes precedence over "N label".
func ScanFreeText(text string) FreeTextResponse {
	resp := FreeTextResponse{Text: text}
	resp.InputTokens = firstInt(text, inputTokensLabel, inputTokensSuffix)
	resp.OutputTokens = firstInt(text, outputTokensLabel, outputTokensSuffix)
	if m := costPattern.FindStringSubmatch(text); m != nil {
		if cost, err := strconv.ParseFloat(m[1], 64); err == nil {
			resp.TotalCostUSD = cost
		}
	}

	set := make(map[string]struct{})
	for _, pattern := range fileEvidencePatterns {
		for _, m := range pattern.FindAllStringSubmatch(text, -1) {
			if path := strings.TrimSpace(m[1]); path != "" {
				set[path] = struct{}{}
			}
		}
	}
	resp.FilesEdited = sortedKeys(set)
	return resp
}

func firstInt(text string, patterns ...*regexp.Regexp) int {
	for _, pattern := range patterns {
		m := pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n
		}
	}
	return 0
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

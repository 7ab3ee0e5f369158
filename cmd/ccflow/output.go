package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/fatih/color"
	"golang.org/x/term"

	"ccflow/internal/infra/external/claudecode"
	"ccflow/internal/infra/external/subprocess"
	"ccflow/internal/infra/usage"
	cerrors "ccflow/internal/shared/errors"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func stdinIsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// stdoutMarkdownWidth returns the terminal width used for markdown rendering,
// or 0 when stdout is not a terminal.
func stdoutMarkdownWidth() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return 0
	}
	width, _, err := term.GetSize(fd)
	if err != nil || width <= 0 {
		return 80
	}
	return width
}

// renderMarkdown styles text for a terminal of the given width. A width of 0
// or any renderer failure returns text unchanged.
func renderMarkdown(text string, width int) string {
	if width <= 0 || strings.TrimSpace(text) == "" {
		return text
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(max(width-4, 20)),
	)
	if err != nil {
		return text
	}
	rendered, err := renderer.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimSpace(rendered)
}

// resultView is the JSON shape printed with --json.
type resultView struct {
	claudecode.Analysis
	Prompt         string   `json:"prompt,omitempty"`
	Args           []string `json:"args"`
	ExitCode       int      `json:"exit_code"`
	TimedOut       bool     `json:"timed_out"`
	ElapsedSeconds float64  `json:"elapsed_seconds"`
}

func newResultView(result claudecode.Result) resultView {
	return resultView{
		Analysis:       result.Analysis,
		Prompt:         result.Intent.Prompt,
		Args:           result.Command.Args,
		ExitCode:       result.Raw.ExitCode,
		TimedOut:       result.Raw.TimedOut,
		ElapsedSeconds: result.Raw.ElapsedSeconds(),
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// renderResult prints the response text followed by a status block. The text
// is rendered as markdown when markdownWidth is positive.
func renderResult(w io.Writer, result claudecode.Result, markdownWidth int) {
	a := result.Analysis
	if text := strings.TrimRight(a.ResponseText, "\n"); text != "" {
		fmt.Fprintln(w, renderMarkdown(text, markdownWidth))
		fmt.Fprintln(w)
	}
	renderStatus(w, a, result.Raw)
}

func renderStatus(w io.Writer, a claudecode.Analysis, raw subprocess.RawResult) {
	status := green("ok")
	if !a.Success {
		status = red("failed")
	}
	line := fmt.Sprintf("%s  tokens %d in / %d out  $%.4f", status, a.InputTokens, a.OutputTokens, a.TotalCostUSD)
	if raw.Elapsed > 0 {
		line += fmt.Sprintf("  %.1fs", raw.ElapsedSeconds())
	}
	if raw.TimedOut {
		line += "  " + yellow("timed out")
	} else if raw.ExitCode != 0 {
		line += "  " + yellow(fmt.Sprintf("exit %d", raw.ExitCode))
	}
	fmt.Fprintln(w, line)
	fmt.Fprintln(w, gray(a.EditSummary))
	if a.SessionID != "" {
		fmt.Fprintf(w, "%s %s\n", gray("session:"), cyan(a.SessionID))
	}
	if a.HasErrors && raw.Stderr != "" {
		fmt.Fprintf(w, "%s %s\n", yellow("stderr:"), strings.TrimSpace(raw.Stderr))
	}
}

func renderSummary(w io.Writer, summary usage.Summary) {
	fmt.Fprintln(w, bold(summary.String()))
}

func printError(w io.Writer, err error) {
	fmt.Fprintf(w, "%s %v\n", red("Error:"), err)
	if hint := cerrors.Remediation(err); hint != "" && !strings.Contains(err.Error(), hint) {
		fmt.Fprintf(w, "%s %s\n", yellow("Hint:"), hint)
	}
}

package claudecode

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"ccflow/internal/infra/observability"
	"ccflow/internal/infra/usage"
)

// ChatRequest is a print-mode conversation turn.
type ChatRequest struct {
	Prompt       string
	Model        string
	SystemPrompt string
	// ContinueConversation takes precedence over SessionID and SessionLabel.
	ContinueConversation bool
	SessionID            string
	// SessionLabel resumes the last session recorded under the label when
	// SessionID is empty, and records the returned session id under it. A
	// failed resume without a new session id forgets the label.
	SessionLabel string
	ExtraFlags   []string
}

// Chat sends one prompt, honoring the session directive.
func (e *Executor) Chat(ctx context.Context, req ChatRequest) (Result, error) {
	intent := Intent{
		Prompt:       req.Prompt,
		Mode:         ModePrint,
		SystemPrompt: req.SystemPrompt,
		ExtraFlags:   req.ExtraFlags,
		Model:        req.Model,
	}

	resumedFromLabel := false
	switch {
	case req.ContinueConversation:
		intent.Session = Continue()
	case strings.TrimSpace(req.SessionID) != "":
		intent.Session = Resume(req.SessionID)
	case req.SessionLabel != "":
		if entry, ok := e.sessions.Lookup(req.SessionLabel); ok {
			intent.Session = Resume(entry.ID)
			resumedFromLabel = true
		}
	}

	result, err := e.Execute(ctx, intent)
	if err != nil {
		return result, err
	}
	switch {
	case req.SessionLabel == "":
	case result.Analysis.SessionID != "":
		e.sessions.Record(req.SessionLabel, result.Analysis.SessionID)
	case resumedFromLabel && !result.Analysis.Success:
		// The recorded session could not be resumed; the next turn starts fresh.
		e.logger.Warn("dropping session label %q: resume of %s failed", req.SessionLabel, intent.Session.ID)
		e.sessions.Forget(req.SessionLabel)
	}
	return result, nil
}

// EditRequest asks the CLI to edit one file.
type EditRequest struct {
	Path        string
	Instruction string
	Model       string
}

// EditPrompt is the prompt sent for a file edit.
func EditPrompt(path, instruction string) string {
	return fmt.Sprintf("Edit the file %s: %s", path, instruction)
}

// EditFile runs a print-mode edit of a single file.
func (e *Executor) EditFile(ctx context.Context, req EditRequest) (Result, error) {
	return e.Execute(ctx, Intent{
		Prompt: EditPrompt(req.Path, req.Instruction),
		Mode:   ModePrint,
		Model:  req.Model,
	})
}

// RawRequest is an interactive pass-through invocation.
type RawRequest struct {
	// Args is split on whitespace and appended as extra flags.
	Args string
	// Input is written to stdin when non-empty.
	Input string
}

// Run invokes the CLI in interactive mode with caller-supplied arguments.
func (e *Executor) Run(ctx context.Context, req RawRequest) (Result, error) {
	return e.Execute(ctx, Intent{
		Prompt:     req.Input,
		Mode:       ModeInteractive,
		ExtraFlags: strings.Fields(req.Args),
	})
}

// BatchRequest runs several independent prompts.
type BatchRequest struct {
	Prompts      []string
	Model        string
	SystemPrompt string
}

// BatchResult holds per-prompt results in input order plus their summary.
type BatchResult struct {
	Results []Result
	Summary usage.Summary
}

// Batch runs each prompt sequentially in print mode. It stops early only when
// ctx is cancelled or the context is not initialized, returning the results
// collected so far.
func (e *Executor) Batch(ctx context.Context, req BatchRequest) (BatchResult, error) {
	ctx, span := e.tracer.Start(ctx, observability.SpanBatch)
	defer span.End()
	span.SetAttributes(attribute.Int("ccflow.batch.size", len(req.Prompts)))

	start := time.Now()
	out := BatchResult{Results: make([]Result, 0, len(req.Prompts))}
	records := make([]usage.Record, 0, len(req.Prompts))
	finish := func(err error) (BatchResult, error) {
		out.Summary = usage.Summarize(records)
		span.SetAttributes(
			attribute.Int("ccflow.batch.succeeded", out.Summary.Successful),
			attribute.Int("ccflow.batch.total_tokens", out.Summary.TotalTokens),
			attribute.Float64(observability.AttrCost, out.Summary.TotalCostUSD),
		)
		if err != nil {
			observability.RecordSpanError(span, err)
		}
		e.logger.Info("batch finished: %d/%d succeeded in %s", out.Summary.Successful, len(req.Prompts), time.Since(start).Round(time.Millisecond))
		return out, err
	}

	for i, prompt := range req.Prompts {
		if err := ctx.Err(); err != nil {
			return finish(fmt.Errorf("batch interrupted after %d of %d prompts: %w", i, len(req.Prompts), err))
		}
		result, err := e.Execute(ctx, Intent{
			Prompt:       prompt,
			Mode:         ModePrint,
			SystemPrompt: req.SystemPrompt,
			Model:        req.Model,
		})
		if err != nil {
			return finish(err)
		}
		out.Results = append(out.Results, result)
		records = append(records, result.Analysis.UsageRecord())
	}
	return finish(nil)
}

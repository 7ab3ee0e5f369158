package claudecode

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"ccflow/internal/app/execctx"
	"ccflow/internal/infra/environment"
	"ccflow/internal/infra/external/subprocess"
	"ccflow/internal/infra/observability"
	"ccflow/internal/shared/config"
	cerrors "ccflow/internal/shared/errors"
	"ccflow/internal/shared/logging"
)

// Resolver locates a usable claude executable.
type Resolver interface {
	ResolveDetailed(ctx context.Context) (environment.Resolution, error)
}

// Executor runs intents against the executable recorded in an execution context.
type Executor struct {
	execCtx  *execctx.Context
	resolver Resolver
	runner   subprocess.Runner
	sessions *SessionRegistry

	logger  logging.Logger
	metrics *observability.MetricsCollector
	tracer  trace.Tracer

	getwd  func() (string, error)
	setEnv func(string, string) error
}

// Option customises an Executor.
type Option func(*Executor)

// WithRunner injects the process runner.
func WithRunner(runner subprocess.Runner) Option {
	return func(e *Executor) {
		if runner != nil {
			e.runner = runner
		}
	}
}

// WithSessions replaces the session registry.
func WithSessions(sessions *SessionRegistry) Option {
	return func(e *Executor) {
		if sessions != nil {
			e.sessions = sessions
		}
	}
}

// WithLogger sets the component logger.
func WithLogger(logger logging.Logger) Option {
	return func(e *Executor) {
		e.logger = logging.OrNop(logger)
	}
}

// WithMetrics records invocation metrics.
func WithMetrics(metrics *observability.MetricsCollector) Option {
	return func(e *Executor) {
		e.metrics = metrics
	}
}

// WithTracer sets the tracer for execute and batch spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Executor) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// WithProcessEnv overrides the working-directory and environment hooks used by Initialize.
func WithProcessEnv(getwd func() (string, error), setEnv func(string, string) error) Option {
	return func(e *Executor) {
		if getwd != nil {
			e.getwd = getwd
		}
		if setEnv != nil {
			e.setEnv = setEnv
		}
	}
}

// New binds an executor to execCtx. resolver may be nil when the context is
// populated by other means.
func New(execCtx *execctx.Context, resolver Resolver, opts ...Option) *Executor {
	if execCtx == nil {
		execCtx = execctx.New()
	}
	sessions, _ := NewSessionRegistry(config.DefaultSessionRegistrySize)
	e := &Executor{
		execCtx:  execCtx,
		resolver: resolver,
		runner:   subprocess.ExecRunner{},
		sessions: sessions,
		logger:   logging.NewComponentLogger("claudecode"),
		tracer:   otel.Tracer(observability.TracerName),
		getwd:    os.Getwd,
		setEnv:   os.Setenv,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Context returns the execution context the executor reads from.
func (e *Executor) Context() *execctx.Context {
	return e.execCtx
}

// Sessions returns the session registry.
func (e *Executor) Sessions() *SessionRegistry {
	return e.sessions
}

// InitOptions configures Initialize.
type InitOptions struct {
	Settings config.Settings
	// APIKey, when set, is exported as ANTHROPIC_API_KEY before resolution.
	APIKey string
}

// InitResult reports the outcome of Initialize.
type InitResult struct {
	ExecutablePath string
	Source         environment.Source
	Version        string
	Settings       config.Settings
	ConfigSummary  string
}

// Initialize resolves the executable and populates the execution context.
func (e *Executor) Initialize(ctx context.Context, opts InitOptions) (InitResult, error) {
	if key := strings.TrimSpace(opts.APIKey); key != "" {
		if err := e.setEnv(config.CredentialEnvVar, key); err != nil {
			return InitResult{}, &cerrors.ConfigurationError{Key: config.CredentialEnvVar, Message: "export API key", Err: err}
		}
		e.logger.Debug("exported %s=%s", config.CredentialEnvVar, observability.SanitizeAPIKey(key))
	}

	settings := opts.Settings.WithDefaults(e.getwd)
	if err := settings.Validate(); err != nil {
		return InitResult{}, &cerrors.ConfigurationError{Key: "timeout_seconds", Message: err.Error(), Err: err}
	}
	if e.resolver == nil {
		return InitResult{}, cerrors.NewConfigurationError("resolver", "no executable resolver configured")
	}

	res, err := e.resolver.ResolveDetailed(ctx)
	if err != nil {
		return InitResult{}, err
	}

	e.execCtx.Populate(res.Path, settings)
	e.logger.Info("initialized: executable=%s model=%q workdir=%s timeout=%ds",
		res.Path, settings.Model, settings.WorkingDir, settings.TimeoutSeconds)

	return InitResult{
		ExecutablePath: res.Path,
		Source:         res.Source,
		Version:        res.Version,
		Settings:       settings,
		ConfigSummary:  settings.Summary(res.Path),
	}, nil
}

// Result is the full record of one invocation.
type Result struct {
	Intent   Intent
	Command  Command
	Raw      subprocess.RawResult
	Analysis Analysis
}

// Execute builds, runs and analyzes one intent. It fails only when the
// execution context was never initialized; process failures are reported in
// the Result.
func (e *Executor) Execute(ctx context.Context, intent Intent) (Result, error) {
	path, err := e.execCtx.ExecutablePath()
	if err != nil {
		return Result{}, err
	}
	settings, err := e.execCtx.Settings()
	if err != nil {
		return Result{}, err
	}

	cmd := Build(intent, settings)
	model := intent.Model
	if model == "" {
		model = settings.Model
	}

	ctx, span := e.tracer.Start(ctx, observability.SpanExecute, trace.WithAttributes(
		attribute.String(observability.AttrMode, intent.Mode.String()),
		attribute.String(observability.AttrModel, model),
	))
	defer span.End()
	if intent.Session.Kind == SessionResume {
		span.SetAttributes(attribute.String(observability.AttrSessionID, intent.Session.ID))
	}

	e.logger.Debug("running %s %s", path, strings.Join(redactPrompt(cmd.Args, intent), " "))
	raw := e.runner.Run(ctx, subprocess.Spec{
		Command:    path,
		Args:       cmd.Args,
		Stdin:      cmd.Stdin,
		HasStdin:   cmd.HasStdin,
		WorkingDir: settings.WorkingDir,
		Timeout:    settings.Timeout(),
	})
	analysis := Analyze(raw)

	span.SetAttributes(
		attribute.Int(observability.AttrExitCode, raw.ExitCode),
		attribute.Bool(observability.AttrTimedOut, raw.TimedOut),
		attribute.Bool(observability.AttrStructured, analysis.Structured),
	)
	span.SetAttributes(observability.UsageAttrs(analysis.InputTokens, analysis.OutputTokens, analysis.TotalCostUSD)...)
	if raw.Failed() {
		detail := formatProcessFailure(raw)
		observability.RecordSpanError(span, fmt.Errorf("%s", detail))
		e.logger.Warn("%s", detail)
	}

	e.metrics.RecordInvocation(ctx, intent.Mode.String(), outcome(raw, analysis), raw.Elapsed,
		analysis.InputTokens, analysis.OutputTokens, analysis.TotalCostUSD)

	return Result{Intent: intent, Command: cmd, Raw: raw, Analysis: analysis}, nil
}

func outcome(raw subprocess.RawResult, analysis Analysis) string {
	switch {
	case raw.TimedOut:
		return "timeout"
	case analysis.Success:
		return "success"
	default:
		return "failure"
	}
}

// redactPrompt drops the trailing positional prompt from debug logs.
func redactPrompt(args []string, intent Intent) []string {
	if intent.Mode != ModePrint || len(args) == 0 {
		return args
	}
	out := append([]string(nil), args[:len(args)-1]...)
	return append(out, fmt.Sprintf("<prompt %d bytes>", len(intent.Prompt)))
}

func formatProcessFailure(raw subprocess.RawResult) string {
	msg := fmt.Sprintf("claude exited: exit=%d", raw.ExitCode)
	if raw.TimedOut {
		msg = "claude timed out"
	}
	if tail := compactTail(raw.Stderr, 400); tail != "" {
		msg = fmt.Sprintf("%s | stderr tail: %s", msg, tail)
	}
	return maybeAppendClaudeAuthHint(msg, raw.Stderr)
}

func maybeAppendClaudeAuthHint(msg string, stderrTail string) string {
	if !containsAny(stderrTail, []string{"not logged", "unauthorized", "invalid api key"}) {
		return msg
	}
	return fmt.Sprintf("%s Hint: check %s or run `claude login`.", msg, config.CredentialEnvVar)
}

func containsAny(input string, needles []string) bool {
	lower := strings.ToLower(input)
	for _, needle := range needles {
		if needle == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(needle)) {
			return true
		}
	}
	return false
}

func compactTail(tail string, limit int) string {
	trimmed := strings.TrimSpace(tail)
	if trimmed == "" {
		return ""
	}
	compact := strings.Join(strings.Fields(trimmed), " ")
	if limit > 0 && len(compact) > limit {
		return compact[len(compact)-limit:]
	}
	return compact
}

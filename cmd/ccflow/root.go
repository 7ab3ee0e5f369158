package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ccflow/internal/app/execctx"
	"ccflow/internal/infra/environment"
	"ccflow/internal/infra/external/claudecode"
	"ccflow/internal/infra/external/subprocess"
	"ccflow/internal/infra/observability"
	"ccflow/internal/shared/config"
	"ccflow/internal/shared/logging"
)

const (
	flagModel    = "model"
	flagWorkdir  = "workdir"
	flagTimeout  = "timeout"
	flagVerbose  = "verbose"
	flagDebug    = "debug"
	flagConfig   = "config"
	flagLogLevel = "log-level"
	flagLogDir   = "log-dir"
	flagJSON     = "json"
)

// CLI holds the command line interface state.
type CLI struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer
	v      *viper.Viper

	// Overrides used by tests; nil means the real implementation.
	runner      subprocess.Runner
	resolver    claudecode.Resolver
	stdinTTY    func() bool
	stdoutWidth func() int
}

func newCLI(in io.Reader, out, errOut io.Writer) *CLI {
	return &CLI{
		in:          in,
		out:         out,
		errOut:      errOut,
		v:           viper.New(),
		stdinTTY:    stdinIsTerminal,
		stdoutWidth: stdoutMarkdownWidth,
	}
}

// NewRootCommand creates the root cobra command.
func NewRootCommand(cli *CLI) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ccflow",
		Short: "Run the Claude Code CLI and analyze what it did",
		Long: fmt.Sprintf(`%s

ccflow locates (or installs) the claude CLI, runs it with the right flags and
extracts token usage, cost and edited files from its output.

%s
  ccflow init                              # Locate or install claude, print config
  ccflow chat "explain main.go"            # One-shot prompt
  ccflow chat -r <session-id> "and now?"   # Resume a session
  ccflow edit main.go "add error handling" # Ask for a file edit
  ccflow batch prompts.yaml                # Run several prompts, print totals
  ccflow analyze --stdout out.txt          # Analyze captured output`,
			bold("ccflow "+appVersion()),
			bold("EXAMPLES:")),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetIn(cli.in)
	rootCmd.SetOut(cli.out)
	rootCmd.SetErr(cli.errOut)

	flags := rootCmd.PersistentFlags()
	flags.StringP(flagModel, "m", "", "Model to use (default: tool default)")
	flags.StringP(flagWorkdir, "w", "", "Working directory for the CLI (default: current directory)")
	flags.IntP(flagTimeout, "t", config.DefaultTimeoutSeconds, "Timeout in seconds for each invocation")
	flags.BoolP(flagVerbose, "v", false, "Pass --verbose to the CLI")
	flags.BoolP(flagDebug, "d", false, "Pass --debug to the CLI")
	flags.String(flagConfig, "", "Config file (default: $CCFLOW_CONFIG or ~/.ccflow/config.yaml)")
	flags.String(flagLogLevel, "", "Log level: debug, info, warn, error")
	flags.String(flagLogDir, "", "Directory for ccflow.log ('-' for stderr)")

	cli.v.SetEnvPrefix("CCFLOW")
	cli.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	cli.v.AutomaticEnv()
	_ = cli.v.BindPFlags(flags)

	rootCmd.AddCommand(
		newInitCommand(cli),
		newChatCommand(cli),
		newEditCommand(cli),
		newExecCommand(cli),
		newBatchCommand(cli),
		newAnalyzeCommand(cli),
		newVersionCommand(cli),
	)
	return rootCmd
}

// runtime is everything a command needs to run the CLI.
type runtime struct {
	settings config.Settings
	obs      observability.Config
	metrics  *observability.MetricsCollector
	tracing  *observability.TracerProvider
	executor *claudecode.Executor
	logger   logging.Logger
	closers  []func(context.Context) error
}

// Close flushes telemetry and releases log outputs.
func (rt *runtime) Close(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := rt.metrics.Push(ctx, rt.obs.Metrics); err != nil {
		rt.logger.Warn("%v", err)
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		_ = rt.closers[i](ctx)
	}
	logging.SetBase(nil)
}

// configPath returns the explicit config path, if any.
func (cli *CLI) configPath() string {
	if path := strings.TrimSpace(cli.v.GetString(flagConfig)); path != "" {
		return path
	}
	path, _ := config.ResolveConfigPath(config.DefaultEnvLookup, os.UserHomeDir)
	return path
}

// setup loads configuration and wires logging, telemetry and the executor.
// Precedence: flags, then CCFLOW_* env, then the config file, then defaults.
func (cli *CLI) setup(ctx context.Context) (*runtime, error) {
	path := cli.configPath()

	fileCfg, _, err := config.LoadFileConfig(config.WithConfigPath(path))
	if err != nil {
		return nil, err
	}
	claudeCfg := config.ClaudeConfig{}
	if fileCfg.Claude != nil {
		claudeCfg = *fileCfg.Claude
	}

	obsCfg, err := observability.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	rt := &runtime{obs: obsCfg}
	if err := cli.setupLogging(rt); err != nil {
		return nil, err
	}

	rt.settings = cli.mergeSettings(claudeCfg.Settings)

	rt.metrics, err = observability.NewMetricsCollector(obsCfg.Metrics)
	if err != nil {
		rt.Close(ctx)
		return nil, err
	}
	rt.closers = append(rt.closers, rt.metrics.Shutdown)

	obsCfg.Tracing.ServiceVersion = appVersion()
	rt.tracing, err = observability.NewTracerProvider(ctx, obsCfg.Tracing)
	if err != nil {
		rt.Close(ctx)
		return nil, err
	}
	rt.closers = append(rt.closers, rt.tracing.Shutdown)

	execCtx := execctx.New()
	runner := cli.runner
	if runner == nil {
		runner = subprocess.ExecRunner{}
	}
	resolver := cli.resolver
	if resolver == nil {
		resolver = environment.NewResolver(execCtx, claudeCfg.Resolver,
			environment.WithRunner(runner),
			environment.WithMetrics(rt.metrics),
			environment.WithTracer(rt.tracing.Tracer()),
		)
	}
	sessions, err := claudecode.NewSessionRegistry(claudeCfg.Sessions.RegistrySize)
	if err != nil {
		rt.Close(ctx)
		return nil, err
	}
	rt.executor = claudecode.New(execCtx, resolver,
		claudecode.WithRunner(runner),
		claudecode.WithSessions(sessions),
		claudecode.WithMetrics(rt.metrics),
		claudecode.WithTracer(rt.tracing.Tracer()),
	)
	return rt, nil
}

func (cli *CLI) setupLogging(rt *runtime) error {
	logCfg := rt.obs.Logging
	if level := strings.TrimSpace(cli.v.GetString(flagLogLevel)); level != "" {
		logCfg.Level = level
	} else if cli.v.GetBool(flagDebug) {
		logCfg.Level = "debug"
	}
	if dir := strings.TrimSpace(cli.v.GetString(flagLogDir)); dir != "" {
		logCfg.Dir = dir
	}
	if logCfg.Dir == "-" {
		logCfg.Dir = ""
	}

	output, closeOutput, err := observability.OpenLogOutput(logCfg)
	if err != nil {
		return err
	}
	if logCfg.Dir == "" {
		output = cli.errOut
	}
	rt.closers = append(rt.closers, func(context.Context) error { return closeOutput() })

	base := observability.NewLogger(observability.LogConfig{
		Level:  logCfg.Level,
		Format: logCfg.Format,
		Output: output,
	})
	logging.SetBase(base)
	rt.logger = logging.NewComponentLogger("cli")
	if logCfg.Dir != "" {
		// CLI warnings still reach the terminal when logs go to a file.
		console := observability.NewLogger(observability.LogConfig{Level: "warn", Output: cli.errOut})
		rt.logger = logging.Multi(rt.logger, logging.FromObservabilityWithComponent(console, "cli"))
	}
	rt.obs.Logging = logCfg
	return nil
}

// mergeSettings layers viper-bound flags and env over file settings.
func (cli *CLI) mergeSettings(file config.Settings) config.Settings {
	cli.v.SetDefault(flagModel, file.Model)
	cli.v.SetDefault(flagWorkdir, file.WorkingDir)
	if file.TimeoutSeconds > 0 {
		cli.v.SetDefault(flagTimeout, file.TimeoutSeconds)
	}
	cli.v.SetDefault(flagVerbose, file.Verbose)
	cli.v.SetDefault(flagDebug, file.Debug)

	settings := config.Settings{
		Model:          strings.TrimSpace(cli.v.GetString(flagModel)),
		WorkingDir:     strings.TrimSpace(cli.v.GetString(flagWorkdir)),
		TimeoutSeconds: cli.v.GetInt(flagTimeout),
		Verbose:        cli.v.GetBool(flagVerbose),
		Debug:          cli.v.GetBool(flagDebug),
	}
	return settings
}

// initialize runs setup and Initialize, returning a ready runtime.
func (cli *CLI) initialize(ctx context.Context, apiKey string) (*runtime, claudecode.InitResult, error) {
	rt, err := cli.setup(ctx)
	if err != nil {
		return nil, claudecode.InitResult{}, err
	}
	result, err := rt.executor.Initialize(ctx, claudecode.InitOptions{Settings: rt.settings, APIKey: apiKey})
	if err != nil {
		rt.Close(ctx)
		return nil, claudecode.InitResult{}, err
	}
	return rt, result, nil
}

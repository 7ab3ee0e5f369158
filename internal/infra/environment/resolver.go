// Package environment locates, provisions and verifies the claude CLI.
package environment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"ccflow/internal/app/execctx"
	"ccflow/internal/infra/external/subprocess"
	"ccflow/internal/infra/observability"
	"ccflow/internal/shared/config"
	cerrors "ccflow/internal/shared/errors"
	"ccflow/internal/shared/logging"
)

// Source records where a resolved executable came from.
type Source string

const (
	SourceContext Source = "context"
	SourceCache   Source = "cache"
	SourcePrivate Source = "private"
	SourcePath    Source = "path"
	SourceInstall Source = "install"
	sourceFailed  Source = "failed"
)

// Resolution describes a usable executable.
type Resolution struct {
	Path    string
	Source  Source
	Version string
}

// Resolver finds a working claude executable and memoizes it into an
// execution context.
type Resolver struct {
	cfg     config.ResolverConfig
	execCtx *execctx.Context

	runner    subprocess.Runner
	lookPath  func(string) (string, error)
	lookupEnv config.EnvLookup
	setEnv    func(string, string) error

	logger  logging.Logger
	metrics *observability.MetricsCollector
	tracer  trace.Tracer

	group singleflight.Group
}

// Option customises a Resolver.
type Option func(*Resolver)

// WithRunner injects the process runner used for probes and installs.
func WithRunner(runner subprocess.Runner) Option {
	return func(r *Resolver) {
		if runner != nil {
			r.runner = runner
		}
	}
}

// WithLookPath overrides PATH lookup.
func WithLookPath(lookPath func(string) (string, error)) Option {
	return func(r *Resolver) {
		if lookPath != nil {
			r.lookPath = lookPath
		}
	}
}

// WithEnv overrides environment reads and writes.
func WithEnv(lookup config.EnvLookup, set func(string, string) error) Option {
	return func(r *Resolver) {
		if lookup != nil {
			r.lookupEnv = lookup
		}
		if set != nil {
			r.setEnv = set
		}
	}
}

// WithLogger sets the component logger.
func WithLogger(logger logging.Logger) Option {
	return func(r *Resolver) {
		r.logger = logging.OrNop(logger)
	}
}

// WithMetrics records resolutions by source.
func WithMetrics(metrics *observability.MetricsCollector) Option {
	return func(r *Resolver) {
		r.metrics = metrics
	}
}

// WithTracer sets the tracer used for resolve and install spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Resolver) {
		if tracer != nil {
			r.tracer = tracer
		}
	}
}

// NewResolver builds a resolver bound to execCtx.
func NewResolver(execCtx *execctx.Context, cfg config.ResolverConfig, opts ...Option) *Resolver {
	if execCtx == nil {
		execCtx = execctx.New()
	}
	r := &Resolver{
		cfg:       cfg.WithDefaults(os.UserHomeDir),
		execCtx:   execCtx,
		runner:    subprocess.ExecRunner{},
		lookPath:  exec.LookPath,
		lookupEnv: config.DefaultEnvLookup,
		setEnv:    os.Setenv,
		logger:    logging.NewComponentLogger("environment"),
		tracer:    otel.Tracer(observability.TracerName),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Config returns the effective resolver configuration.
func (r *Resolver) Config() config.ResolverConfig {
	return r.cfg
}

// Resolve returns a usable executable path. See ResolveDetailed.
func (r *Resolver) Resolve(ctx context.Context) (string, error) {
	res, err := r.ResolveDetailed(ctx)
	return res.Path, err
}

// ResolveDetailed checks the credential, then returns the memoized path or
// searches the cache variable, the private install dir and PATH, installing
// into the private dir when nothing usable is found. Every path it returns has
// passed a --version probe. Concurrent callers share a single search.
func (r *Resolver) ResolveDetailed(ctx context.Context) (Resolution, error) {
	if err := r.checkCredential(); err != nil {
		r.metrics.RecordProvisioning(ctx, string(sourceFailed))
		return Resolution{}, err
	}
	if path := r.memoized(); path != "" {
		return Resolution{Path: path, Source: SourceContext}, nil
	}

	value, err, _ := r.group.Do("resolve", func() (any, error) {
		if path := r.memoized(); path != "" {
			return Resolution{Path: path, Source: SourceContext}, nil
		}
		return r.locate(ctx)
	})
	if err != nil {
		return Resolution{}, err
	}
	return value.(Resolution), nil
}

func (r *Resolver) checkCredential() error {
	value, ok := r.lookupEnv(config.CredentialEnvVar)
	if !ok || strings.TrimSpace(value) == "" {
		return cerrors.NewConfigurationError(config.CredentialEnvVar,
			"%s environment variable is required", config.CredentialEnvVar)
	}
	return nil
}

func (r *Resolver) memoized() string {
	value, _ := r.execCtx.Get(execctx.KeyExecutablePath, "")
	path, _ := value.(string)
	return path
}

func (r *Resolver) locate(ctx context.Context) (res Resolution, err error) {
	ctx, span := r.tracer.Start(ctx, observability.SpanResolve)
	defer func() {
		if err != nil {
			observability.RecordSpanError(span, err)
			r.metrics.RecordProvisioning(ctx, string(sourceFailed))
		} else {
			span.SetAttributes(attribute.String(observability.AttrSource, string(res.Source)))
			r.metrics.RecordProvisioning(ctx, string(res.Source))
		}
		span.End()
	}()

	res, found := r.search(ctx)
	if !found {
		res, err = r.install(ctx)
		if err != nil {
			return Resolution{}, err
		}
	}

	r.execCtx.Set(execctx.KeyExecutablePath, res.Path)
	if err := r.setEnv(config.ExecutableCacheEnvVar, res.Path); err != nil {
		r.logger.Warn("export %s failed: %v", config.ExecutableCacheEnvVar, err)
	}
	r.logger.Info("resolved claude CLI at %s (source=%s, version=%s)", res.Path, res.Source, res.Version)
	return res, nil
}

func (r *Resolver) search(ctx context.Context) (Resolution, bool) {
	if cached, ok := r.lookupEnv(config.ExecutableCacheEnvVar); ok {
		cached = strings.TrimSpace(cached)
		if cached != "" && isExecutable(cached) {
			version, err := r.probe(ctx, cached)
			if err == nil {
				return Resolution{Path: cached, Source: SourceCache, Version: version}, true
			}
			r.logger.Warn("cached executable %s is not usable: %v", cached, err)
		}
	}

	if private := r.privateBinary(); private != "" {
		version, err := r.probe(ctx, private)
		if err == nil {
			return Resolution{Path: private, Source: SourcePrivate, Version: version}, true
		}
		r.logger.Warn("private install %s is not usable: %v", private, err)
	}

	for _, name := range r.cfg.BinaryNames {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		path, err := r.lookPath(name)
		if err != nil {
			continue
		}
		version, err := r.probe(ctx, path)
		if err != nil {
			r.logger.Warn("%s on PATH failed health probe: %v", path, err)
			continue
		}
		return Resolution{Path: path, Source: SourcePath, Version: version}, true
	}
	return Resolution{}, false
}

// privateBinary returns the first executable binary inside the private install dir.
func (r *Resolver) privateBinary() string {
	for _, name := range r.cfg.BinaryNames {
		candidate := PrivateBinaryPath(r.cfg.InstallDir, name)
		if isExecutable(candidate) {
			return candidate
		}
	}
	return ""
}

// PrivateBinaryPath is where npm links name inside installDir.
func PrivateBinaryPath(installDir, name string) string {
	return filepath.Join(installDir, "node_modules", ".bin", name)
}

// probe runs `<path> --version` under the probe timeout.
func (r *Resolver) probe(ctx context.Context, path string) (string, error) {
	raw := r.runner.Run(ctx, subprocess.Spec{
		Command: path,
		Args:    []string{"--version"},
		Timeout: r.cfg.ProbeTimeout,
	})
	if raw.TimedOut {
		return "", errors.New(raw.Stderr)
	}
	if raw.ExitCode != 0 {
		detail := strings.TrimSpace(raw.Stderr)
		if detail == "" {
			detail = strings.TrimSpace(raw.Stdout)
		}
		if detail == "" {
			return "", fmt.Errorf("--version exited with code %d", raw.ExitCode)
		}
		return "", fmt.Errorf("--version exited with code %d: %s", raw.ExitCode, detail)
	}
	return normalizeVersionOutput(filepath.Base(path), raw.Stdout), nil
}

// normalizeVersionOutput keeps the first line and prefixes the program name
// when the tool prints a bare version number.
func normalizeVersionOutput(program, output string) string {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return ""
	}
	trimmed = strings.TrimSpace(strings.Split(trimmed, "\n")[0])
	if !strings.HasPrefix(strings.ToLower(trimmed), strings.ToLower(program)) {
		return fmt.Sprintf("%s %s", program, trimmed)
	}
	return trimmed
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular() && info.Mode().Perm()&0o111 != 0
}

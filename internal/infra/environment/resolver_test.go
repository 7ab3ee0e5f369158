package environment

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ccflow/internal/app/execctx"
	"ccflow/internal/infra/external/subprocess"
	"ccflow/internal/shared/config"
	cerrors "ccflow/internal/shared/errors"
)

type fakeRunner struct {
	mu     sync.Mutex
	specs  []subprocess.Spec
	handle func(spec subprocess.Spec) subprocess.RawResult
}

func (f *fakeRunner) Run(_ context.Context, spec subprocess.Spec) subprocess.RawResult {
	f.mu.Lock()
	f.specs = append(f.specs, spec)
	handle := f.handle
	f.mu.Unlock()
	if handle == nil {
		return subprocess.RawResult{Stdout: "1.0.0 (Claude Code)\n"}
	}
	return handle(spec)
}

func (f *fakeRunner) calls() []subprocess.Spec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]subprocess.Spec(nil), f.specs...)
}

func (f *fakeRunner) count(command string, arg string) int {
	n := 0
	for _, spec := range f.calls() {
		if spec.Command == command && len(spec.Args) > 0 && spec.Args[0] == arg {
			n++
		}
	}
	return n
}

type fakeEnv struct {
	mu     sync.Mutex
	values map[string]string
}

func newFakeEnv(values map[string]string) *fakeEnv {
	if values == nil {
		values = map[string]string{}
	}
	return &fakeEnv{values: values}
}

func (e *fakeEnv) lookup(key string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.values[key]
	return v, ok
}

func (e *fakeEnv) set(key, value string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.values[key] = value
	return nil
}

func writeExecutable(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\necho 1.0.0\n"), 0o755))
}

func notFound(string) (string, error) {
	return "", errors.New("executable file not found in $PATH")
}

func newTestResolver(t *testing.T, runner *fakeRunner, env *fakeEnv, lookPath func(string) (string, error)) (*Resolver, *execctx.Context, string) {
	t.Helper()
	installDir := filepath.Join(t.TempDir(), "claude-code")
	execCtx := execctx.New()
	r := NewResolver(execCtx, config.ResolverConfig{
		InstallDir:   installDir,
		ProbeTimeout: time.Second,
	},
		WithRunner(runner),
		WithLookPath(lookPath),
		WithEnv(env.lookup, env.set),
	)
	return r, execCtx, installDir
}

func TestResolveMissingCredentialSpawnsNothing(t *testing.T) {
	runner := &fakeRunner{}
	lookups := 0
	r, _, _ := newTestResolver(t, runner, newFakeEnv(nil), func(string) (string, error) {
		lookups++
		return "/usr/bin/claude", nil
	})

	_, err := r.Resolve(context.Background())
	require.Error(t, err)
	assert.True(t, cerrors.IsConfiguration(err))
	assert.Contains(t, err.Error(), config.CredentialEnvVar)
	assert.Empty(t, runner.calls())
	assert.Zero(t, lookups)
}

func TestResolveFromPathProbesAndMemoizes(t *testing.T) {
	runner := &fakeRunner{}
	env := newFakeEnv(map[string]string{config.CredentialEnvVar: "sk-test"})
	r, execCtx, _ := newTestResolver(t, runner, env, func(name string) (string, error) {
		if name == "claude" {
			return "/usr/local/bin/claude", nil
		}
		return notFound(name)
	})

	res, err := r.ResolveDetailed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/usr/local/bin/claude", res.Path)
	assert.Equal(t, SourcePath, res.Source)
	assert.Equal(t, "claude 1.0.0 (Claude Code)", res.Version)

	stored, err := execCtx.Get(execctx.KeyExecutablePath)
	require.NoError(t, err)
	assert.Equal(t, "/usr/local/bin/claude", stored)
	cached, _ := env.lookup(config.ExecutableCacheEnvVar)
	assert.Equal(t, "/usr/local/bin/claude", cached)

	again, err := r.ResolveDetailed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, res.Path, again.Path)
	assert.Equal(t, SourceContext, again.Source)
	assert.Len(t, runner.calls(), 1)
}

func TestResolveSkipsBrokenPathCandidate(t *testing.T) {
	runner := &fakeRunner{handle: func(spec subprocess.Spec) subprocess.RawResult {
		if spec.Command == "/usr/bin/claude" {
			return subprocess.RawResult{ExitCode: 1, Stderr: "node: not found"}
		}
		return subprocess.RawResult{Stdout: "claude-code 2.0.1"}
	}}
	env := newFakeEnv(map[string]string{config.CredentialEnvVar: "sk-test"})
	r, _, _ := newTestResolver(t, runner, env, func(name string) (string, error) {
		return "/usr/bin/" + name, nil
	})

	res, err := r.ResolveDetailed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/claude-code", res.Path)
	assert.Equal(t, "claude-code 2.0.1", res.Version)
}

func TestResolvePrefersPrivateInstall(t *testing.T) {
	runner := &fakeRunner{}
	env := newFakeEnv(map[string]string{config.CredentialEnvVar: "sk-test"})
	r, _, installDir := newTestResolver(t, runner, env, func(string) (string, error) {
		t.Fatalf("PATH should not be consulted when the private install works")
		return "", nil
	})
	private := PrivateBinaryPath(installDir, "claude")
	writeExecutable(t, private)

	res, err := r.ResolveDetailed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, private, res.Path)
	assert.Equal(t, SourcePrivate, res.Source)
}

func TestResolveUsesCacheVariable(t *testing.T) {
	cached := filepath.Join(t.TempDir(), "claude")
	writeExecutable(t, cached)

	runner := &fakeRunner{}
	env := newFakeEnv(map[string]string{
		config.CredentialEnvVar:      "sk-test",
		config.ExecutableCacheEnvVar: cached,
	})
	r, _, _ := newTestResolver(t, runner, env, notFound)

	res, err := r.ResolveDetailed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cached, res.Path)
	assert.Equal(t, SourceCache, res.Source)
}

func TestResolveInstallsOnceWhenNothingFound(t *testing.T) {
	env := newFakeEnv(map[string]string{config.CredentialEnvVar: "sk-test"})
	runner := &fakeRunner{}
	r, _, installDir := newTestResolver(t, runner, env, func(name string) (string, error) {
		if name == "npm" {
			return "/usr/bin/npm", nil
		}
		return notFound(name)
	})
	runner.handle = func(spec subprocess.Spec) subprocess.RawResult {
		if spec.Command == "/usr/bin/npm" {
			writeExecutable(t, PrivateBinaryPath(installDir, "claude"))
			return subprocess.RawResult{Stdout: "added 1 package"}
		}
		return subprocess.RawResult{Stdout: "1.0.0"}
	}

	first, err := r.ResolveDetailed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SourceInstall, first.Source)
	assert.Equal(t, PrivateBinaryPath(installDir, "claude"), first.Path)

	second, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.Path, second)

	assert.Equal(t, 1, runner.count("/usr/bin/npm", "install"))
	calls := runner.calls()
	require.NotEmpty(t, calls)
	assert.Equal(t, []string{"install", "--prefix", installDir, config.DefaultPackage}, calls[0].Args)
	assert.FileExists(t, filepath.Join(installDir, installLockName))
}

func TestResolveReinstallsBrokenPrivateBinary(t *testing.T) {
	env := newFakeEnv(map[string]string{config.CredentialEnvVar: "sk-test"})
	runner := &fakeRunner{}
	r, _, installDir := newTestResolver(t, runner, env, func(name string) (string, error) {
		if name == "npm" {
			return "/usr/bin/npm", nil
		}
		return notFound(name)
	})
	private := PrivateBinaryPath(installDir, "claude")
	writeExecutable(t, private)

	var mu sync.Mutex
	installed := false
	runner.handle = func(spec subprocess.Spec) subprocess.RawResult {
		mu.Lock()
		defer mu.Unlock()
		if spec.Command == "/usr/bin/npm" {
			installed = true
			return subprocess.RawResult{Stdout: "added 1 package"}
		}
		if !installed {
			return subprocess.RawResult{ExitCode: 1, Stderr: "broken"}
		}
		return subprocess.RawResult{Stdout: "1.0.0"}
	}

	res, err := r.ResolveDetailed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SourceInstall, res.Source)
	assert.Equal(t, private, res.Path)
	assert.Equal(t, 1, runner.count("/usr/bin/npm", "install"))
}

func TestResolveUsesInstallFinishedWhileWaitingForLock(t *testing.T) {
	env := newFakeEnv(map[string]string{config.CredentialEnvVar: "sk-test"})
	runner := &fakeRunner{}
	r, _, installDir := newTestResolver(t, runner, env, func(name string) (string, error) {
		if name == "npm" {
			return "/usr/bin/npm", nil
		}
		return notFound(name)
	})
	private := PrivateBinaryPath(installDir, "claude")

	require.NoError(t, os.MkdirAll(filepath.Dir(private), 0o755))
	unlock, err := lockInstallDir(context.Background(), installDir)
	require.NoError(t, err)
	go func() {
		time.Sleep(150 * time.Millisecond)
		assert.NoError(t, os.WriteFile(private, []byte("#!/bin/sh\necho 1.0.0\n"), 0o755))
		unlock()
	}()

	res, err := r.ResolveDetailed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SourcePrivate, res.Source)
	assert.Equal(t, private, res.Path)
	assert.Zero(t, runner.count("/usr/bin/npm", "install"))
}

func TestLockInstallDirHonorsCancellation(t *testing.T) {
	dir := t.TempDir()
	unlock, err := lockInstallDir(context.Background(), dir)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = lockInstallDir(ctx, dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestLockInstallDirReacquiresAfterUnlock(t *testing.T) {
	dir := t.TempDir()
	unlock, err := lockInstallDir(context.Background(), dir)
	require.NoError(t, err)
	unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	again, err := lockInstallDir(ctx, dir)
	require.NoError(t, err)
	again()
}

func TestResolveConcurrentCallsShareOneSearch(t *testing.T) {
	env := newFakeEnv(map[string]string{config.CredentialEnvVar: "sk-test"})
	release := make(chan struct{})
	runner := &fakeRunner{handle: func(subprocess.Spec) subprocess.RawResult {
		<-release
		return subprocess.RawResult{Stdout: "1.0.0"}
	}}
	r, _, _ := newTestResolver(t, runner, env, func(string) (string, error) {
		return "/usr/bin/claude", nil
	})

	var wg sync.WaitGroup
	paths := make([]string, 8)
	for i := range paths {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			path, err := r.Resolve(context.Background())
			assert.NoError(t, err)
			paths[i] = path
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, path := range paths {
		assert.Equal(t, "/usr/bin/claude", path)
	}
	assert.Len(t, runner.calls(), 1)
}

func TestResolveMissingPackageManager(t *testing.T) {
	env := newFakeEnv(map[string]string{config.CredentialEnvVar: "sk-test"})
	runner := &fakeRunner{}
	r, _, _ := newTestResolver(t, runner, env, notFound)

	_, err := r.Resolve(context.Background())
	require.Error(t, err)
	assert.True(t, cerrors.IsProvisioning(err))
	assert.Contains(t, cerrors.Remediation(err), "Install Node.js")
	assert.Empty(t, runner.calls())
}

func TestResolveInstallFailure(t *testing.T) {
	env := newFakeEnv(map[string]string{config.CredentialEnvVar: "sk-test"})
	runner := &fakeRunner{handle: func(spec subprocess.Spec) subprocess.RawResult {
		return subprocess.RawResult{ExitCode: 1, Stderr: "npm ERR! network"}
	}}
	r, execCtx, _ := newTestResolver(t, runner, env, func(name string) (string, error) {
		if name == "npm" {
			return "/usr/bin/npm", nil
		}
		return notFound(name)
	})

	_, err := r.Resolve(context.Background())
	require.Error(t, err)
	assert.True(t, cerrors.IsProvisioning(err))
	assert.Contains(t, err.Error(), "npm ERR! network")

	value, _ := execCtx.Get(execctx.KeyExecutablePath, "")
	assert.Equal(t, "", value)
}

func TestResolveFinalProbeFailure(t *testing.T) {
	env := newFakeEnv(map[string]string{config.CredentialEnvVar: "sk-test"})
	runner := &fakeRunner{}
	r, _, installDir := newTestResolver(t, runner, env, func(name string) (string, error) {
		if name == "npm" {
			return "/usr/bin/npm", nil
		}
		return notFound(name)
	})
	runner.handle = func(spec subprocess.Spec) subprocess.RawResult {
		if spec.Command == "/usr/bin/npm" {
			writeExecutable(t, PrivateBinaryPath(installDir, "claude"))
			return subprocess.RawResult{}
		}
		return subprocess.RawResult{ExitCode: -1, TimedOut: true, Stderr: "Command timed out after 1 seconds"}
	}

	_, err := r.Resolve(context.Background())
	require.Error(t, err)
	var provErr *cerrors.ProvisioningError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, "verify", provErr.Stage)
	assert.Contains(t, err.Error(), "timed out")
}

func TestNormalizeVersionOutput(t *testing.T) {
	tests := []struct {
		program, output, want string
	}{
		{"claude", "1.0.3 (Claude Code)\nextra", "claude 1.0.3 (Claude Code)"},
		{"claude", "Claude 2.0", "Claude 2.0"},
		{"claude", "  ", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeVersionOutput(tt.program, tt.output))
	}
}

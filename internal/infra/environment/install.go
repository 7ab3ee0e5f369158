package environment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"ccflow/internal/infra/external/subprocess"
	"ccflow/internal/infra/observability"
	cerrors "ccflow/internal/shared/errors"
)

const (
	installLockName  = ".install.lock"
	lockPollInterval = 100 * time.Millisecond
)

const (
	remediationPackageManager = "Install Node.js and npm (https://nodejs.org) or put the claude CLI on PATH, then retry."
	remediationInstall        = "Check network access to the npm registry, or install the CLI manually with `npm install -g @anthropic-ai/claude-code`."
)

// install provisions the package into the private dir under an exclusive
// file lock, then verifies and probes the installed binary.
func (r *Resolver) install(ctx context.Context) (res Resolution, err error) {
	ctx, span := r.tracer.Start(ctx, observability.SpanInstall)
	defer func() {
		if err != nil {
			observability.RecordSpanError(span, err)
		}
		span.End()
	}()

	npm, err := r.lookPath(r.cfg.PackageManager)
	if err != nil {
		return Resolution{}, cerrors.NewProvisioningError("install",
			fmt.Errorf("%s not found on PATH: %w", r.cfg.PackageManager, err), remediationPackageManager)
	}

	dir := r.cfg.InstallDir
	if strings.TrimSpace(dir) == "" {
		return Resolution{}, cerrors.NewProvisioningError("install",
			fmt.Errorf("no install directory configured"), "Set claude.resolver.install_dir in the config file.")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Resolution{}, cerrors.NewProvisioningError("install",
			fmt.Errorf("create install dir: %w", err), fmt.Sprintf("Make %s writable.", dir))
	}

	unlock, err := lockInstallDir(ctx, dir)
	if err != nil {
		return Resolution{}, cerrors.NewProvisioningError("install", err, fmt.Sprintf("Make %s writable.", dir))
	}
	defer unlock()

	// Another process may have finished an install while we waited for the lock.
	if private := r.privateBinary(); private != "" {
		if version, err := r.probe(ctx, private); err == nil {
			return Resolution{Path: private, Source: SourcePrivate, Version: version}, nil
		}
	}

	span.SetAttributes(attribute.String("ccflow.package", r.cfg.Package))
	r.logger.Info("installing %s into %s", r.cfg.Package, dir)
	raw := r.runner.Run(ctx, subprocess.Spec{
		Command: npm,
		Args:    []string{"install", "--prefix", dir, r.cfg.Package},
		Timeout: r.cfg.InstallTimeout,
	})
	if raw.Failed() {
		return Resolution{}, cerrors.NewProvisioningError("install", installFailure(r.cfg.PackageManager, raw), remediationInstall)
	}

	private := r.privateBinary()
	if private == "" {
		return Resolution{}, cerrors.NewProvisioningError("verify",
			fmt.Errorf("no executable found under %s", filepath.Join(dir, "node_modules", ".bin")),
			fmt.Sprintf("Remove %s and retry.", dir))
	}
	version, err := r.probe(ctx, private)
	if err != nil {
		return Resolution{}, cerrors.NewProvisioningError("verify", err, fmt.Sprintf("Remove %s and retry.", dir))
	}
	return Resolution{Path: private, Source: SourceInstall, Version: version}, nil
}

func installFailure(tool string, raw subprocess.RawResult) error {
	if raw.TimedOut {
		return fmt.Errorf("%s install: %s", tool, raw.Stderr)
	}
	detail := strings.TrimSpace(raw.Stderr)
	if detail == "" {
		return fmt.Errorf("%s install exited with code %d", tool, raw.ExitCode)
	}
	return fmt.Errorf("%s install exited with code %d: %s", tool, raw.ExitCode, detail)
}

// lockInstallDir takes an exclusive advisory lock on <dir>/.install.lock,
// polling until it is free or ctx is done.
func lockInstallDir(ctx context.Context, dir string) (func(), error) {
	lockPath := filepath.Join(dir, installLockName)
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock: %w", err)
	}
	fd := int(lockFile.Fd())

	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()
	for {
		err := syscall.Flock(fd, syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			break
		}
		if !errors.Is(err, syscall.EWOULDBLOCK) && !errors.Is(err, syscall.EINTR) {
			_ = lockFile.Close()
			return nil, fmt.Errorf("flock: %w", err)
		}
		select {
		case <-ctx.Done():
			_ = lockFile.Close()
			return nil, fmt.Errorf("wait for install lock: %w", ctx.Err())
		case <-ticker.C:
		}
	}
	return func() {
		_ = syscall.Flock(fd, syscall.LOCK_UN)
		_ = lockFile.Close()
	}, nil
}

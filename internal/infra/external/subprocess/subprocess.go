package subprocess

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// DefaultKillGrace is how long a process group has to exit after SIGTERM
// before it receives SIGKILL.
const DefaultKillGrace = 5 * time.Second

// Spec defines one external process invocation.
type Spec struct {
	Command    string
	Args       []string
	Stdin      string
	HasStdin   bool
	WorkingDir string
	Timeout    time.Duration
	Env        map[string]string
}

// RawResult is the captured outcome of a single invocation.
type RawResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Elapsed  time.Duration
	TimedOut bool
}

// ElapsedSeconds returns Elapsed as fractional seconds.
func (r RawResult) ElapsedSeconds() float64 {
	return r.Elapsed.Seconds()
}

// Failed reports whether the process did not exit cleanly.
func (r RawResult) Failed() bool {
	return r.ExitCode != 0 || r.TimedOut
}

// Runner executes a Spec. Implementations never return an error: every failure
// is folded into the RawResult.
type Runner interface {
	Run(ctx context.Context, spec Spec) RawResult
}

// ExecRunner runs specs as real child processes, each in its own process group.
type ExecRunner struct {
	// KillGrace overrides DefaultKillGrace when positive.
	KillGrace time.Duration
}

var defaultRunner = ExecRunner{}

// Run executes spec with the default ExecRunner.
func Run(ctx context.Context, spec Spec) RawResult {
	return defaultRunner.Run(ctx, spec)
}

// Run spawns exactly one child and blocks until it exits, the timeout expires
// or ctx is cancelled. On expiry the whole process group is stopped.
func (r ExecRunner) Run(ctx context.Context, spec Spec) RawResult {
	if ctx == nil {
		ctx = context.Background()
	}
	grace := r.KillGrace
	if grace <= 0 {
		grace = DefaultKillGrace
	}

	runCtx := ctx
	cancel := func() {}
	if spec.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
	}
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.Command(spec.Command, spec.Args...)
	if spec.WorkingDir != "" {
		cmd.Dir = spec.WorkingDir
	}
	if len(spec.Env) > 0 {
		cmd.Env = mergeEnv(os.Environ(), spec.Env)
	}
	if spec.HasStdin {
		cmd.Stdin = strings.NewReader(spec.Stdin)
	}
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = grace

	start := time.Now()
	if err := runCtx.Err(); err != nil {
		return RawResult{ExitCode: -1, Stderr: err.Error(), Elapsed: time.Since(start)}
	}
	if err := cmd.Start(); err != nil {
		return RawResult{ExitCode: -1, Stderr: err.Error(), Elapsed: time.Since(start)}
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case err := <-done:
		return completed(cmd, err, stdout.String(), stderr.String(), time.Since(start))
	case <-runCtx.Done():
	}

	stopGroup(cmd.Process.Pid, done, grace)
	elapsed := time.Since(start)

	if ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return RawResult{
			Stdout:   stdout.String(),
			Stderr:   TimeoutMessage(spec.Timeout),
			ExitCode: -1,
			Elapsed:  elapsed,
			TimedOut: true,
		}
	}
	return RawResult{
		Stdout:   stdout.String(),
		Stderr:   ctx.Err().Error(),
		ExitCode: -1,
		Elapsed:  elapsed,
	}
}

// TimeoutMessage is the stderr text reported for a timed-out invocation.
func TimeoutMessage(timeout time.Duration) string {
	return fmt.Sprintf("Command timed out after %s seconds", strconv.FormatFloat(timeout.Seconds(), 'f', -1, 64))
}

func completed(cmd *exec.Cmd, err error, stdout, stderr string, elapsed time.Duration) RawResult {
	result := RawResult{Stdout: stdout, Stderr: stderr, Elapsed: elapsed}
	if err == nil {
		return result
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result
	}
	// Wait failed after a successful start, e.g. I/O left open past WaitDelay.
	result.ExitCode = -1
	if cmd.ProcessState != nil && cmd.ProcessState.Exited() {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}
	if result.Stderr == "" {
		result.Stderr = err.Error()
	}
	return result
}

// stopGroup sends SIGTERM to the process group and escalates to SIGKILL when
// the group has not exited within grace.
func stopGroup(pid int, done <-chan error, grace time.Duration) {
	pgid, err := syscall.Getpgid(pid)
	if err != nil || pgid == 0 {
		pgid = pid
	}
	_ = syscall.Kill(-pgid, syscall.SIGTERM)

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
		<-done
	}
}

func mergeEnv(base []string, overrides map[string]string) []string {
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(base)+len(keys))
	for _, kv := range base {
		name, _, _ := strings.Cut(kv, "=")
		if _, overridden := overrides[name]; overridden {
			continue
		}
		env = append(env, kv)
	}
	for _, k := range keys {
		env = append(env, k+"="+overrides[k])
	}
	return env
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	cerrors "ccflow/internal/shared/errors"
)

const (
	exitFailure       = 1
	exitConfiguration = 2
	exitProvisioning  = 3
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCommand(newCLI(os.Stdin, os.Stdout, os.Stderr))
	if err := root.ExecuteContext(ctx); err != nil {
		printError(os.Stderr, err)
		stop()
		os.Exit(exitCodeFor(err))
	}
}

// ExitCodeError wraps an error with a specific process exit code.
type ExitCodeError struct {
	Code int
	Err  error
}

func (e *ExitCodeError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *ExitCodeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func exitCodeFor(err error) int {
	var exitErr *ExitCodeError
	if errors.As(err, &exitErr) && exitErr.Code != 0 {
		return exitErr.Code
	}
	switch cerrors.KindOf(err) {
	case cerrors.KindConfiguration:
		return exitConfiguration
	case cerrors.KindProvisioning:
		return exitProvisioning
	default:
		return exitFailure
	}
}

func failedInvocation(format string, args ...any) error {
	return &ExitCodeError{Code: exitFailure, Err: fmt.Errorf(format, args...)}
}

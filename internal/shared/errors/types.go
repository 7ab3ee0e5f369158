package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies errors surfaced by the invocation core.
type Kind int

const (
	// KindUnknown - not produced by this package
	KindUnknown Kind = iota
	// KindConfiguration - missing credential or missing initialization; fatal, never retried
	KindConfiguration
	// KindProvisioning - CLI could not be located, installed or verified; fatal, never retried
	KindProvisioning
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindProvisioning:
		return "provisioning"
	default:
		return "unknown"
	}
}

// ConfigurationError reports a missing credential or a context that was never initialized.
type ConfigurationError struct {
	Key     string // Environment variable or context key that was missing
	Message string // Human readable explanation
	Err     error
}

func (e *ConfigurationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Key != "" {
		return fmt.Sprintf("configuration error: %s is not set", e.Key)
	}
	return fmt.Sprintf("configuration error: %v", e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// ProvisioningError reports that the external CLI could not be made usable.
type ProvisioningError struct {
	Stage       string // locate, install, verify
	Remediation string // Actionable next step for the operator
	Err         error
}

func (e *ProvisioningError) Error() string {
	var sb strings.Builder
	sb.WriteString("provisioning failed")
	if e.Stage != "" {
		sb.WriteString(" during ")
		sb.WriteString(e.Stage)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	if e.Remediation != "" {
		sb.WriteString(". ")
		sb.WriteString(e.Remediation)
	}
	return sb.String()
}

func (e *ProvisioningError) Unwrap() error {
	return e.Err
}

// NewConfigurationError builds a ConfigurationError for a missing key.
func NewConfigurationError(key, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Key: key, Message: fmt.Sprintf(format, args...)}
}

// NewProvisioningError builds a ProvisioningError wrapping err.
func NewProvisioningError(stage string, err error, remediation string) *ProvisioningError {
	return &ProvisioningError{Stage: stage, Err: err, Remediation: remediation}
}

// IsConfiguration reports whether err is (or wraps) a ConfigurationError.
func IsConfiguration(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}

// IsProvisioning reports whether err is (or wraps) a ProvisioningError.
func IsProvisioning(err error) bool {
	var provErr *ProvisioningError
	return errors.As(err, &provErr)
}

// KindOf classifies an error.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case IsConfiguration(err):
		return KindConfiguration
	case IsProvisioning(err):
		return KindProvisioning
	default:
		return KindUnknown
	}
}

// Remediation returns the operator-facing hint carried by err, if any.
func Remediation(err error) string {
	var provErr *ProvisioningError
	if errors.As(err, &provErr) {
		return provErr.Remediation
	}
	var cfgErr *ConfigurationError
	if errors.As(err, &cfgErr) && cfgErr.Key != "" {
		return fmt.Sprintf("Set %s and try again.", cfgErr.Key)
	}
	return ""
}

package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	// CredentialEnvVar must be present before the CLI is located or spawned.
	CredentialEnvVar = "ANTHROPIC_API_KEY"
	// ExecutableCacheEnvVar caches the resolved executable path within a process.
	ExecutableCacheEnvVar = "CCFLOW_CLAUDE_PATH"
	// ConfigPathEnvVar overrides the config file location.
	ConfigPathEnvVar = "CCFLOW_CONFIG"

	DefaultTimeoutSeconds      = 120
	DefaultPackage             = "@anthropic-ai/claude-code"
	DefaultProbeTimeout        = 10 * time.Second
	DefaultInstallTimeout      = 5 * time.Minute
	DefaultInstallDirName      = "claude-code"
	DefaultPackageManager      = "npm"
	DefaultSessionRegistrySize = 128
)

// DefaultBinaryNames are tried in order on PATH and inside the private install dir.
var DefaultBinaryNames = []string{"claude", "claude-code"}

// Settings is the shared invocation configuration stored in the execution context.
type Settings struct {
	Model          string `json:"model,omitempty" yaml:"model,omitempty"`
	WorkingDir     string `json:"working_dir" yaml:"working_dir"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
	Verbose        bool   `json:"verbose" yaml:"verbose"`
	Debug          bool   `json:"debug" yaml:"debug"`
}

// Timeout returns TimeoutSeconds as a duration.
func (s Settings) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// WithDefaults fills zero values: working dir from cwd, timeout from DefaultTimeoutSeconds.
func (s Settings) WithDefaults(cwd func() (string, error)) Settings {
	if strings.TrimSpace(s.WorkingDir) == "" && cwd != nil {
		if dir, err := cwd(); err == nil {
			s.WorkingDir = dir
		}
	}
	if s.TimeoutSeconds <= 0 {
		s.TimeoutSeconds = DefaultTimeoutSeconds
	}
	return s
}

// Validate reports settings that cannot be used for an invocation.
func (s Settings) Validate() error {
	if s.TimeoutSeconds <= 0 {
		return fmt.Errorf("timeout_seconds must be positive, got %d", s.TimeoutSeconds)
	}
	return nil
}

// Summary renders the human-readable configuration block printed after init.
func (s Settings) Summary(executable string) string {
	model := s.Model
	if model == "" {
		model = "(tool default)"
	}
	var sb strings.Builder
	sb.WriteString("Claude Code Configuration:\n")
	fmt.Fprintf(&sb, "Executable: %s\n", executable)
	fmt.Fprintf(&sb, "Model: %s\n", model)
	fmt.Fprintf(&sb, "Working Directory: %s\n", s.WorkingDir)
	fmt.Fprintf(&sb, "Timeout: %d seconds\n", s.TimeoutSeconds)
	fmt.Fprintf(&sb, "Verbose: %t\n", s.Verbose)
	fmt.Fprintf(&sb, "Debug: %t", s.Debug)
	return sb.String()
}

// ResolverConfig controls how the executable is located and provisioned.
type ResolverConfig struct {
	InstallDir     string        `yaml:"install_dir"`
	Package        string        `yaml:"package"`
	PackageManager string        `yaml:"package_manager"`
	BinaryNames    []string      `yaml:"binary_names"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
	InstallTimeout time.Duration `yaml:"install_timeout"`
}

// WithDefaults fills zero values; the install dir defaults to ~/.ccflow/claude-code.
func (r ResolverConfig) WithDefaults(homeDir func() (string, error)) ResolverConfig {
	if strings.TrimSpace(r.InstallDir) == "" && homeDir != nil {
		if home, err := homeDir(); err == nil && strings.TrimSpace(home) != "" {
			r.InstallDir = DefaultInstallDir(home)
		}
	}
	if strings.TrimSpace(r.Package) == "" {
		r.Package = DefaultPackage
	}
	if strings.TrimSpace(r.PackageManager) == "" {
		r.PackageManager = DefaultPackageManager
	}
	if len(r.BinaryNames) == 0 {
		r.BinaryNames = append([]string(nil), DefaultBinaryNames...)
	}
	if r.ProbeTimeout <= 0 {
		r.ProbeTimeout = DefaultProbeTimeout
	}
	if r.InstallTimeout <= 0 {
		r.InstallTimeout = DefaultInstallTimeout
	}
	return r
}

// SessionConfig sizes the in-memory session registry.
type SessionConfig struct {
	RegistrySize int `yaml:"registry_size"`
}

// ClaudeConfig is the `claude:` section of the config file.
type ClaudeConfig struct {
	Settings `yaml:",inline"`
	Resolver ResolverConfig `yaml:"resolver"`
	Sessions SessionConfig  `yaml:"sessions"`
}

// FileConfig mirrors the YAML config file. Sections other than `claude` are
// loaded by their owning packages.
type FileConfig struct {
	Claude *ClaudeConfig `yaml:"claude"`
}

// EnvLookup resolves the value for an environment variable.
type EnvLookup func(string) (string, bool)

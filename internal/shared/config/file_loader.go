package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Option customises the loader behaviour.
type Option func(*loadOptions)

type loadOptions struct {
	envLookup  EnvLookup
	readFile   func(string) ([]byte, error)
	homeDir    func() (string, error)
	configPath string
}

// WithEnv supplies a custom environment lookup implementation.
func WithEnv(lookup EnvLookup) Option {
	return func(o *loadOptions) {
		o.envLookup = lookup
	}
}

// WithConfigPath forces the loader to read configuration from a specific file.
func WithConfigPath(path string) Option {
	return func(o *loadOptions) {
		o.configPath = path
	}
}

// WithFileReader injects a custom reader, used primarily for tests.
func WithFileReader(reader func(string) ([]byte, error)) Option {
	return func(o *loadOptions) {
		o.readFile = reader
	}
}

// WithHomeDir overrides how the loader resolves the user's home directory.
func WithHomeDir(resolver func() (string, error)) Option {
	return func(o *loadOptions) {
		o.homeDir = resolver
	}
}

// LoadFileConfig loads the YAML config file and applies ${VAR} interpolation.
// A missing or empty file yields a zero FileConfig and no error.
func LoadFileConfig(opts ...Option) (FileConfig, string, error) {
	options := loadOptions{
		envLookup: DefaultEnvLookup,
		readFile:  os.ReadFile,
		homeDir:   os.UserHomeDir,
	}
	for _, opt := range opts {
		opt(&options)
	}

	configPath := strings.TrimSpace(options.configPath)
	if configPath == "" {
		configPath, _ = ResolveConfigPath(options.envLookup, options.homeDir)
	}
	if configPath == "" {
		return FileConfig{}, "", nil
	}

	data, err := options.readFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return FileConfig{}, configPath, nil
		}
		return FileConfig{}, configPath, fmt.Errorf("read config file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return FileConfig{}, configPath, nil
	}

	var parsed FileConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return FileConfig{}, configPath, fmt.Errorf("parse config file: %w", err)
	}

	if parsed.Claude != nil {
		expanded := expandClaudeConfigEnv(options.envLookup, *parsed.Claude)
		parsed.Claude = &expanded
	}
	return parsed, configPath, nil
}

func expandClaudeConfigEnv(lookup EnvLookup, parsed ClaudeConfig) ClaudeConfig {
	parsed.Model = expandEnvValue(lookup, parsed.Model)
	parsed.WorkingDir = expandEnvValue(lookup, parsed.WorkingDir)
	parsed.Resolver.InstallDir = expandEnvValue(lookup, parsed.Resolver.InstallDir)
	parsed.Resolver.Package = expandEnvValue(lookup, parsed.Resolver.Package)
	parsed.Resolver.PackageManager = expandEnvValue(lookup, parsed.Resolver.PackageManager)
	if len(parsed.Resolver.BinaryNames) > 0 {
		names := make([]string, 0, len(parsed.Resolver.BinaryNames))
		for _, name := range parsed.Resolver.BinaryNames {
			names = append(names, expandEnvValue(lookup, name))
		}
		parsed.Resolver.BinaryNames = names
	}
	return parsed
}

// expandEnvValue replaces ${VAR} and $VAR references; unknown variables expand to "".
func expandEnvValue(lookup EnvLookup, value string) string {
	if lookup == nil || !strings.Contains(value, "$") {
		return value
	}
	return os.Expand(value, func(key string) string {
		if resolved, ok := lookup(key); ok {
			return resolved
		}
		return ""
	})
}

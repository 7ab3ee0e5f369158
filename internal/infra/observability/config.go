package observability

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the complete observability configuration
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig configures logging
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
	Dir    string `yaml:"dir"`    // empty = stderr
}

// DefaultConfig returns the default observability configuration
func DefaultConfig() Config {
	return Config{
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Job:     "ccflow",
		},
		Tracing: TracingConfig{
			Enabled:        false,
			Exporter:       "otlp",
			OTLPEndpoint:   "localhost:4318",
			SampleRate:     1.0,
			ServiceName:    "ccflow",
			ServiceVersion: "dev",
		},
	}
}

// LoadConfig reads the observability section of the ccflow config file over
// DefaultConfig. Keys absent from the file keep their defaults; a missing file
// yields the defaults.
func LoadConfig(configPath string) (Config, error) {
	if configPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return DefaultConfig(), nil
		}
		configPath = filepath.Join(homeDir, ".ccflow", "config.yaml")
	}

	data, err := os.ReadFile(configPath)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return DefaultConfig(), fmt.Errorf("failed to read config file: %w", err)
	}

	doc := struct {
		Observability Config `yaml:"observability"`
	}{Observability: DefaultConfig()}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return DefaultConfig(), fmt.Errorf("failed to parse config file: %w", err)
	}

	config := doc.Observability
	// sample_rate 0 cannot be expressed; disable tracing instead
	if config.Tracing.SampleRate <= 0 || config.Tracing.SampleRate > 1.0 {
		config.Tracing.SampleRate = 1.0
	}
	return config, nil
}

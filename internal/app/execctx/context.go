// Package execctx holds the caller-owned execution state shared by every
// invocation: the resolved executable path and the invocation settings.
package execctx

import (
	"sync"

	"ccflow/internal/shared/config"
	cerrors "ccflow/internal/shared/errors"
)

const (
	KeyExecutablePath = "executable_path"
	KeyConfig         = "config"
)

// Context is a string-keyed store, read-mostly after initialization.
// The zero value is ready to use.
type Context struct {
	mu          sync.RWMutex
	values      map[string]any
	initialized bool
}

// New returns an empty context.
func New() *Context {
	return &Context{values: make(map[string]any)}
}

// Get returns the value stored under key. When the key is absent the first
// fallback is returned if one was supplied; otherwise a ConfigurationError is
// returned if the context was never initialized, and (nil, nil) if it was.
func (c *Context) Get(key string, fallback ...any) (any, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if value, ok := c.values[key]; ok {
		return value, nil
	}
	if len(fallback) > 0 {
		return fallback[0], nil
	}
	if !c.initialized {
		return nil, notInitialized(key)
	}
	return nil, nil
}

// Set stores value under key.
func (c *Context) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.values == nil {
		c.values = make(map[string]any)
	}
	c.values[key] = value
}

// MarkInitialized records that initialization has completed.
func (c *Context) MarkInitialized() {
	c.mu.Lock()
	c.initialized = true
	c.mu.Unlock()
}

// Initialized reports whether MarkInitialized has been called.
func (c *Context) Initialized() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.initialized
}

// Populate stores the executable path and settings and marks the context initialized.
func (c *Context) Populate(executablePath string, settings config.Settings) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.values == nil {
		c.values = make(map[string]any)
	}
	c.values[KeyExecutablePath] = executablePath
	c.values[KeyConfig] = settings
	c.initialized = true
}

// ExecutablePath returns the memoized executable path.
func (c *Context) ExecutablePath() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	path, ok := c.values[KeyExecutablePath].(string)
	if !ok || path == "" {
		return "", notInitialized(KeyExecutablePath)
	}
	return path, nil
}

// Settings returns the stored invocation settings.
func (c *Context) Settings() (config.Settings, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	settings, ok := c.values[KeyConfig].(config.Settings)
	if !ok {
		return config.Settings{}, notInitialized(KeyConfig)
	}
	return settings, nil
}

func notInitialized(key string) error {
	return cerrors.NewConfigurationError(key, "%s is not set: run initialization first", key)
}

package config

import (
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	// global holds the process configuration. Readers never block.
	global atomic.Pointer[Config]

	// initMu serializes Initialize so a failed attempt can be retried.
	initMu sync.Mutex
)

// Initialize loads configuration from path with environment overrides and
// stores it as the process configuration. Once a load has succeeded, later
// calls are no-ops; use ReloadConfig to replace it.
func Initialize(path string) error {
	initMu.Lock()
	defer initMu.Unlock()

	if global.Load() != nil {
		return nil
	}

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		return err
	}
	global.Store(cfg)
	return nil
}

// GetConfig returns the process configuration, or nil before Initialize.
// The returned value must be treated as read-only.
func GetConfig() *Config {
	return global.Load()
}

// SetConfig replaces the process configuration. Intended for tests and for
// callers that loaded a Config themselves.
func SetConfig(cfg *Config) {
	global.Store(cfg)
}

// ReloadConfig reloads the configuration from path. The previous
// configuration stays in place when loading or validation fails.
func ReloadConfig(path string) (*Config, error) {
	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		return nil, fmt.Errorf("failed to reload configuration: %w", err)
	}
	global.Store(cfg)
	return cfg, nil
}

// MustGetConfig returns the process configuration and panics when it has not
// been initialized.
func MustGetConfig() *Config {
	cfg := GetConfig()
	if cfg == nil {
		panic("configuration not initialized: call Initialize first")
	}
	return cfg
}

// Package source provides recorded-callback source abstractions for the
// replay harness. It implements the Strategy Pattern where each source
// type (file, kafka, http) is a concrete strategy implementing the
// CallbackSource interface — the host engine itself is out of scope for
// this module, so integration tests and the `ambacore run` CLI subcommand
// need some way to feed a stream of recorded host callbacks into a
// plugin.Boundary.
package source

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SourceType defines the type of recorded-callback source.
type SourceType string

// CallbackSource defines the strategy interface for callback sources.
type CallbackSource interface {
	// Type returns the source type constant defined by the strategy.
	Type() SourceType

	// Name returns the instance name (for distinguishing multiple
	// instances of the same type).
	Name() string

	// Start starts the callback source.
	Start(ctx context.Context) error

	// Stop stops the callback source gracefully.
	Stop() error

	// Callbacks returns a channel that emits recorded callback events.
	Callbacks() <-chan *CallbackEvent

	// Ack acknowledges that a callback has been successfully dispatched.
	Ack(ctx context.Context, event *CallbackEvent) error

	// Nack indicates that dispatch failed and may need retry.
	Nack(ctx context.Context, event *CallbackEvent, reason string) error

	// HealthCheck performs a health check on the source.
	HealthCheck(ctx context.Context) error
}

// SourceConfig holds the configuration for a callback source.
type SourceConfig struct {
	Type    SourceType             `yaml:"type" mapstructure:"type"`
	Name    string                 `yaml:"name" mapstructure:"name"`
	Enabled bool                   `yaml:"enabled" mapstructure:"enabled"`
	Options map[string]interface{} `yaml:"options" mapstructure:"options"`
}

// GetString retrieves a string option with a default value.
func (c *SourceConfig) GetString(key, defaultValue string) string {
	if c.Options == nil {
		return defaultValue
	}
	if v, ok := c.Options[key].(string); ok {
		return v
	}
	return defaultValue
}

// GetInt retrieves an int option with a default value.
func (c *SourceConfig) GetInt(key string, defaultValue int) int {
	if c.Options == nil {
		return defaultValue
	}
	switch v := c.Options[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return defaultValue
}

// GetDuration retrieves a duration option with a default value. Accepts a
// string (e.g. "2s") or an int (seconds).
func (c *SourceConfig) GetDuration(key string, defaultValue time.Duration) time.Duration {
	if c.Options == nil {
		return defaultValue
	}
	switch v := c.Options[key].(type) {
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	case int:
		return time.Duration(v) * time.Second
	case int64:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v) * time.Second
	}
	return defaultValue
}

// GetBool retrieves a bool option with a default value.
func (c *SourceConfig) GetBool(key string, defaultValue bool) bool {
	if c.Options == nil {
		return defaultValue
	}
	if v, ok := c.Options[key].(bool); ok {
		return v
	}
	return defaultValue
}

// SourceCreator is a function that creates a CallbackSource from
// configuration.
type SourceCreator func(cfg *SourceConfig) (CallbackSource, error)

var (
	registry   = make(map[SourceType]SourceCreator)
	registryMu sync.RWMutex
)

// Register registers a source creator for a given source type. Called
// from the init() of each strategy implementation.
func Register(sourceType SourceType, creator SourceCreator) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[sourceType] = creator
}

// RegisteredTypes returns all registered source types.
func RegisteredTypes() []SourceType {
	registryMu.RLock()
	defer registryMu.RUnlock()
	types := make([]SourceType, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	return types
}

// CreateSource creates a CallbackSource from the given configuration.
func CreateSource(cfg *SourceConfig) (CallbackSource, error) {
	registryMu.RLock()
	creator, exists := registry[cfg.Type]
	registryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown source type: %s (registered types: %v)", cfg.Type, RegisteredTypes())
	}
	return creator(cfg)
}

// CreateSources creates multiple CallbackSources from configurations.
// Only enabled sources are created.
func CreateSources(configs []*SourceConfig) ([]CallbackSource, error) {
	var sources []CallbackSource
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		src, err := CreateSource(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create source %q: %w", cfg.Name, err)
		}
		sources = append(sources, src)
	}
	return sources, nil
}

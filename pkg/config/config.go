// Package config provides configuration management for the ambacore plugin
// boundary and its optional durable collaborators.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config holds all configuration for the running plugin process.
type Config struct {
	Plugin     PluginConfig     `mapstructure:"plugin"`
	GraphStore GraphStoreConfig `mapstructure:"graphstore"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Harness    HarnessConfig    `mapstructure:"harness"`
	Log        LogConfig        `mapstructure:"log"`
}

// PluginConfig holds the single required configuration key the plugin
// boundary consumes, plus the transport and health-check details needed to
// attach it to a running host engine.
type PluginConfig struct {
	// ModulePath selects the guest module whose callbacks the plugin
	// boundary acts on; all others are ignored. Required.
	ModulePath string `mapstructure:"module_path"`

	// TransportAddr is the address of the external graph consumer the
	// IpcTransport dials (host:port, or a unix socket path prefixed
	// "unix://").
	TransportAddr string `mapstructure:"transport_addr"`

	// Compress enables zstd compression of outbound/inbound frames.
	Compress bool `mapstructure:"compress"`

	// HealthPort serves the gRPC health-checking protocol, 0 disables it.
	HealthPort int `mapstructure:"health_port"`

	// StatusPort serves the HTTP status/summary endpoint, 0 disables it.
	StatusPort int `mapstructure:"status_port"`
}

// GraphStoreConfig holds the optional durable mirror's database
// connection. When Enabled is false, flushed batches are never persisted
// beyond the transport.
type GraphStoreConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Type     string `mapstructure:"type"` // postgres, mysql, or sqlite
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	MaxConns int    `mapstructure:"max_conns"`
}

// ArchiveConfig holds the optional object-storage sink batches are
// archived to while the transport is disconnected.
type ArchiveConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Type      string `mapstructure:"type"` // cos or local
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	SecretID  string `mapstructure:"secret_id"`
	SecretKey string `mapstructure:"secret_key"`
	Domain    string `mapstructure:"domain"`
	Scheme    string `mapstructure:"scheme"`
	LocalPath string `mapstructure:"local_path"`
}

// HarnessConfig configures the offline replay harness, used in place of a
// live host engine for development and testing.
type HarnessConfig struct {
	Sources      []SourceConfig `mapstructure:"sources"`
	PollInterval int            `mapstructure:"poll_interval"` // seconds
	WorkerCount  int            `mapstructure:"worker_count"`
	BatchSize    int            `mapstructure:"batch_size"`
	DataDir      string         `mapstructure:"data_dir"`
}

// SourceConfig describes one callback replay source.
type SourceConfig struct {
	Type    string                 `mapstructure:"type"`
	Name    string                 `mapstructure:"name"`
	Enabled bool                   `mapstructure:"enabled"`
	Options map[string]interface{} `mapstructure:"options"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"` // json or text
}

// Load reads configuration from the specified file path.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/ambacore")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Println("Config file not found, using defaults")
		} else if os.IsNotExist(err) {
			fmt.Printf("Config file %s not found, using defaults\n", configPath)
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadFromReader loads configuration from raw bytes (useful for testing).
func LoadFromReader(configType string, content []byte) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType(configType)
	if err := v.ReadConfig(bytes.NewReader(content)); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("plugin.compress", false)
	v.SetDefault("plugin.health_port", 8090)
	v.SetDefault("plugin.status_port", 8091)

	v.SetDefault("graphstore.enabled", false)
	v.SetDefault("graphstore.type", "sqlite")
	v.SetDefault("graphstore.max_conns", 10)

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.type", "local")
	v.SetDefault("archive.local_path", "./archive")

	v.SetDefault("harness.poll_interval", 2)
	v.SetDefault("harness.worker_count", 5)
	v.SetDefault("harness.batch_size", 10)
	v.SetDefault("harness.data_dir", "./data")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.output_path", "./logs")
	v.SetDefault("log.format", "text")
}

// Validate validates the configuration. A missing module_path is not a
// validation error: the error-handling design requires the plugin to stay
// inactive rather than fail to start.
func (c *Config) Validate() error {
	if c.GraphStore.Enabled {
		switch c.GraphStore.Type {
		case "postgres", "mysql", "sqlite":
		default:
			return fmt.Errorf("unsupported graphstore type: %s", c.GraphStore.Type)
		}
	}

	if c.Harness.WorkerCount < 0 {
		return fmt.Errorf("harness worker count cannot be negative")
	}

	return nil
}

// EnsureDataDir creates the harness data directory if it doesn't exist.
func (c *Config) EnsureDataDir() error {
	if c.Harness.DataDir == "" {
		return nil
	}
	return os.MkdirAll(c.Harness.DataDir, 0755)
}

// GetTaskDir returns the directory for one replay session's artifacts.
func (c *Config) GetTaskDir(sessionID string) string {
	return filepath.Join(c.Harness.DataDir, sessionID)
}

// Package config provides YAML-based configuration loading for the bridge.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. BRIDGE_LOG_LEVEL=debug.
const EnvPrefix = "BRIDGE"

// Config is the root configuration.
type Config struct {
	// ServerInteractions is passed to the runtime's Init.
	ServerInteractions bool `mapstructure:"server_interactions" yaml:"server_interactions"`

	Storage    StorageConfig    `mapstructure:"storage" yaml:"storage"`
	Runtime    RuntimeConfig    `mapstructure:"runtime" yaml:"runtime"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher" yaml:"dispatcher"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
}

// StorageConfig selects the storage delegate.
type StorageConfig struct {
	// Path is the badger directory. Empty means a map-backed store.
	Path     string `mapstructure:"path" yaml:"path"`
	InMemory bool   `mapstructure:"in_memory" yaml:"in_memory"`
}

// RuntimeConfig configures the in-process runtime loop.
type RuntimeConfig struct {
	Name      string `mapstructure:"name" yaml:"name"`
	QueueSize int    `mapstructure:"queue_size" yaml:"queue_size"`
	// LogPrefix is prepended to runtime module names in logs.
	LogPrefix string `mapstructure:"log_prefix" yaml:"log_prefix"`
}

// DispatcherConfig holds call defaults.
type DispatcherConfig struct {
	CallTimeout  time.Duration `mapstructure:"call_timeout" yaml:"-"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"-"`
}

// MarshalYAML writes durations as strings ("250ms").
func (d DispatcherConfig) MarshalYAML() (any, error) {
	return map[string]string{
		"call_timeout":  d.CallTimeout.String(),
		"poll_interval": d.PollInterval.String(),
	}, nil
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level" yaml:"level"`
	// Format: console or json
	Format string `mapstructure:"format" yaml:"format"`
	// Outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs" yaml:"outputs"`

	Rotation    RotationConfig `mapstructure:"rotation" yaml:"rotation"`
	Development bool           `mapstructure:"development" yaml:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable" yaml:"enable"`
	Filename   string `mapstructure:"filename" yaml:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// MetricsConfig controls the Prometheus exporter.
type MetricsConfig struct {
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
	// Listen is the address the /metrics endpoint is served on; empty disables it.
	Listen       string        `mapstructure:"listen" yaml:"listen"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"-"`
}

// MarshalYAML writes the poll interval as a string like DispatcherConfig.
func (m MetricsConfig) MarshalYAML() (any, error) {
	return map[string]string{
		"namespace":     m.Namespace,
		"listen":        m.Listen,
		"poll_interval": m.PollInterval.String(),
	}, nil
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		Runtime: RuntimeConfig{
			Name:      "runtime",
			QueueSize: 1024,
			LogPrefix: "CHIP",
		},
		Dispatcher: DispatcherConfig{
			CallTimeout:  10 * time.Second,
			PollInterval: 50 * time.Millisecond,
		},
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stderr"},
			Rotation: RotationConfig{
				Filename:   "logs/bridge.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Metrics: MetricsConfig{
			Namespace:    "bridge",
			Listen:       ":2112",
			PollInterval: 5 * time.Second,
		},
	}
}

// Load reads configuration from path (if non-empty) or from bridge.yaml in
// the usual places, after loading .env into the environment. Environment
// variables use the BRIDGE prefix with "." replaced by "_", for example
// BRIDGE_DISPATCHER_CALL_TIMEOUT=2s.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults so env-only configs work
	v.SetDefault("server_interactions", cfg.ServerInteractions)
	v.SetDefault("storage.path", cfg.Storage.Path)
	v.SetDefault("storage.in_memory", cfg.Storage.InMemory)
	v.SetDefault("runtime.name", cfg.Runtime.Name)
	v.SetDefault("runtime.queue_size", cfg.Runtime.QueueSize)
	v.SetDefault("runtime.log_prefix", cfg.Runtime.LogPrefix)
	v.SetDefault("dispatcher.call_timeout", cfg.Dispatcher.CallTimeout)
	v.SetDefault("dispatcher.poll_interval", cfg.Dispatcher.PollInterval)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("metrics.namespace", cfg.Metrics.Namespace)
	v.SetDefault("metrics.listen", cfg.Metrics.Listen)
	v.SetDefault("metrics.poll_interval", cfg.Metrics.PollInterval)

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("bridge")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".bridge"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate normalizes fields and rejects invalid values.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stderr"}
	}
	if c.Runtime.QueueSize < 0 {
		return fmt.Errorf("invalid runtime.queue_size: %d", c.Runtime.QueueSize)
	}
	if c.Dispatcher.CallTimeout < 0 {
		return fmt.Errorf("invalid dispatcher.call_timeout: %s", c.Dispatcher.CallTimeout)
	}
	if c.Dispatcher.PollInterval <= 0 {
		c.Dispatcher.PollInterval = 50 * time.Millisecond
	}
	return nil
}

// YAML renders the effective configuration.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

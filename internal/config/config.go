// Package config loads runtime settings from defaults, an optional YAML
// file, a .env file and TOGGLR_ environment variables, in increasing order
// of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
	"go.uber.org/multierr"

	togglr "github.com/togglr-project/togglr-sub001"
)

const (
	EnvPrefix = "TOGGLR"

	DriverBadger = "badger"
	DriverSQLite = "sqlite"
)

type Config struct {
	Storage   StorageConfig   `mapstructure:"storage"`
	Evaluator EvaluatorConfig `mapstructure:"evaluator"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Log       LogConfig       `mapstructure:"log"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

type EvaluatorConfig struct {
	MaxWindow     time.Duration `mapstructure:"max_window"`
	DefaultWindow time.Duration `mapstructure:"default_window"`
}

type SchedulerConfig struct {
	MaxConcurrent  int           `mapstructure:"max_concurrent"`
	ResyncInterval time.Duration `mapstructure:"resync_interval"`
	Lookahead      time.Duration `mapstructure:"lookahead"`
	NodeID         string        `mapstructure:"node_id"`
	Retry          RetryConfig   `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxRetries    int           `mapstructure:"max_retries"`
	Interval      time.Duration `mapstructure:"interval"`
	BackoffFactor float64       `mapstructure:"backoff_factor"`
}

type LogConfig struct {
	Development bool `mapstructure:"development"`
}

// Load reads the configuration. An empty file searches ./togglr.yaml and
// $HOME/.togglr/togglr.yaml and tolerates neither existing; an explicit
// file must be readable.
func Load(file string) (*Config, error) {
	// A missing .env is fine
	_ = gotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("togglr")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".togglr"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if cfg.Scheduler.NodeID == "" {
		cfg.Scheduler.NodeID, _ = os.Hostname()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	retry := togglr.DefaultRetryPolicy()

	v.SetDefault("storage.driver", DriverBadger)
	v.SetDefault("storage.path", "./data/togglr")
	v.SetDefault("evaluator.max_window", togglr.DefaultMaxWindow)
	v.SetDefault("evaluator.default_window", togglr.DefaultQueryWindow)
	v.SetDefault("scheduler.max_concurrent", togglr.DefaultMaxConcurrent)
	v.SetDefault("scheduler.resync_interval", togglr.DefaultResync)
	v.SetDefault("scheduler.lookahead", togglr.DefaultLookahead)
	v.SetDefault("scheduler.node_id", "")
	v.SetDefault("scheduler.retry.max_retries", retry.MaxRetries)
	v.SetDefault("scheduler.retry.interval", retry.RetryInterval)
	v.SetDefault("scheduler.retry.backoff_factor", retry.BackoffFactor)
	v.SetDefault("log.development", false)
}

// Validate reports every invalid setting at once
func (c *Config) Validate() error {
	var err error
	invalid := func(format string, args ...any) {
		err = multierr.Append(err, fmt.Errorf(format, args...))
	}

	switch c.Storage.Driver {
	case DriverBadger, DriverSQLite:
	default:
		invalid("storage.driver must be one of: %s, %s", DriverBadger, DriverSQLite)
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		invalid("storage.path is required")
	}

	if c.Evaluator.MaxWindow <= 0 {
		invalid("evaluator.max_window must be positive")
	}
	if c.Evaluator.DefaultWindow <= 0 {
		invalid("evaluator.default_window must be positive")
	} else if c.Evaluator.DefaultWindow > c.Evaluator.MaxWindow {
		invalid("evaluator.default_window %s exceeds evaluator.max_window %s", c.Evaluator.DefaultWindow, c.Evaluator.MaxWindow)
	}

	if c.Scheduler.MaxConcurrent <= 0 {
		invalid("scheduler.max_concurrent must be positive")
	}
	if c.Scheduler.ResyncInterval <= 0 {
		invalid("scheduler.resync_interval must be positive")
	}
	if c.Scheduler.Lookahead <= 0 {
		invalid("scheduler.lookahead must be positive")
	} else if c.Scheduler.Lookahead > c.Evaluator.MaxWindow {
		invalid("scheduler.lookahead %s exceeds evaluator.max_window %s", c.Scheduler.Lookahead, c.Evaluator.MaxWindow)
	}
	if c.Scheduler.Retry.MaxRetries < 0 {
		invalid("scheduler.retry.max_retries must not be negative")
	}
	if c.Scheduler.Retry.BackoffFactor < 1 {
		invalid("scheduler.retry.backoff_factor must be at least 1")
	}

	if err != nil {
		return togglr.ErrValidation.Wrap(err, "invalid configuration")
	}
	return nil
}

func (c *Config) EvaluatorConfig() togglr.EvaluatorConfig {
	return togglr.EvaluatorConfig{
		MaxWindow:     c.Evaluator.MaxWindow,
		DefaultWindow: c.Evaluator.DefaultWindow,
	}
}

func (c *Config) SchedulerConfig() togglr.SchedulerConfig {
	return togglr.SchedulerConfig{
		MaxConcurrent:  c.Scheduler.MaxConcurrent,
		ResyncInterval: c.Scheduler.ResyncInterval,
		Lookahead:      c.Scheduler.Lookahead,
		NodeID:         c.Scheduler.NodeID,
		RetryPolicy: togglr.RetryPolicy{
			MaxRetries:    c.Scheduler.Retry.MaxRetries,
			RetryInterval: c.Scheduler.Retry.Interval,
			BackoffFactor: c.Scheduler.Retry.BackoffFactor,
		},
	}
}

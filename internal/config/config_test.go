package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	togglr "github.com/togglr-project/togglr-sub001"
)

// isolate runs the test from an empty directory with an empty home so no
// stray togglr.yaml or .env is picked up
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })
	t.Setenv("HOME", dir)
	return dir
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DriverBadger, cfg.Storage.Driver)
	assert.Equal(t, "./data/togglr", cfg.Storage.Path)
	assert.Equal(t, togglr.DefaultEvaluatorConfig(), cfg.EvaluatorConfig())

	sc := cfg.SchedulerConfig()
	assert.Equal(t, togglr.DefaultMaxConcurrent, sc.MaxConcurrent)
	assert.Equal(t, togglr.DefaultResync, sc.ResyncInterval)
	assert.Equal(t, togglr.DefaultLookahead, sc.Lookahead)
	assert.Equal(t, togglr.DefaultRetryPolicy(), sc.RetryPolicy)
	assert.NotEmpty(t, sc.NodeID)
	assert.False(t, cfg.Log.Development)
}

func TestLoadFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  driver: sqlite
  path: /var/lib/togglr/togglr.db
evaluator:
  max_window: 72h
  default_window: 12h
scheduler:
  max_concurrent: 3
  lookahead: 6h
  node_id: node-a
  retry:
    max_retries: 5
    interval: 1s
log:
  development: true
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, "/var/lib/togglr/togglr.db", cfg.Storage.Path)
	assert.Equal(t, 72*time.Hour, cfg.Evaluator.MaxWindow)
	assert.Equal(t, 12*time.Hour, cfg.Evaluator.DefaultWindow)
	assert.Equal(t, 3, cfg.Scheduler.MaxConcurrent)
	assert.Equal(t, 6*time.Hour, cfg.Scheduler.Lookahead)
	assert.Equal(t, "node-a", cfg.Scheduler.NodeID)
	assert.Equal(t, 5, cfg.Scheduler.Retry.MaxRetries)
	assert.Equal(t, time.Second, cfg.Scheduler.Retry.Interval)
	// Unset keys keep their defaults
	assert.Equal(t, togglr.DefaultResync, cfg.Scheduler.ResyncInterval)
	assert.Equal(t, 2.0, cfg.Scheduler.Retry.BackoffFactor)
	assert.True(t, cfg.Log.Development)
}

func TestLoadSearchesWorkingDirectory(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "togglr.yaml"), []byte("scheduler:\n  node_id: found\n"), 0o644))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "found", cfg.Scheduler.NodeID)
}

func TestEnvironmentOverrides(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "togglr.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scheduler:\n  max_concurrent: 3\n"), 0o644))

	t.Setenv("TOGGLR_SCHEDULER_MAX_CONCURRENT", "7")
	t.Setenv("TOGGLR_STORAGE_DRIVER", "sqlite")
	t.Setenv("TOGGLR_SCHEDULER_RESYNC_INTERVAL", "30s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Scheduler.MaxConcurrent)
	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.ResyncInterval)
}

func TestDotEnv(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("TOGGLR_SCHEDULER_NODE_ID=from-dotenv\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("TOGGLR_SCHEDULER_NODE_ID") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Scheduler.NodeID)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	dir := isolate(t)
	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Storage:   StorageConfig{Driver: DriverBadger, Path: "data"},
			Evaluator: EvaluatorConfig{MaxWindow: togglr.DefaultMaxWindow, DefaultWindow: togglr.DefaultQueryWindow},
			Scheduler: SchedulerConfig{
				MaxConcurrent:  1,
				ResyncInterval: time.Minute,
				Lookahead:      time.Hour,
				Retry:          RetryConfig{BackoffFactor: 2},
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		message string
	}{
		{"unknown driver", func(c *Config) { c.Storage.Driver = "postgres" }, "storage.driver"},
		{"empty path", func(c *Config) { c.Storage.Path = " " }, "storage.path"},
		{"default beyond max", func(c *Config) { c.Evaluator.DefaultWindow = 8 * 24 * time.Hour }, "evaluator.default_window"},
		{"zero workers", func(c *Config) { c.Scheduler.MaxConcurrent = 0 }, "scheduler.max_concurrent"},
		{"lookahead beyond max", func(c *Config) { c.Scheduler.Lookahead = 30 * 24 * time.Hour }, "scheduler.lookahead"},
		{"shrinking backoff", func(c *Config) { c.Scheduler.Retry.BackoffFactor = 0.5 }, "backoff_factor"},
	}

	require.NoError(t, valid().Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, togglr.ErrValidation)
			assert.Contains(t, err.Error(), tt.message)
		})
	}

	// Every problem is reported
	cfg := valid()
	cfg.Storage.Driver = "postgres"
	cfg.Scheduler.MaxConcurrent = 0
	err := cfg.Validate()
	assert.Contains(t, err.Error(), "storage.driver")
	assert.Contains(t, err.Error(), "scheduler.max_concurrent")
}

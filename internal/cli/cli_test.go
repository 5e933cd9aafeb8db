package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	togglr "github.com/togglr-project/togglr-sub001"
)

const features = `features:
  - key: checkout
    environment: production
    master_enabled: true
    schedules:
      - kind: recurring
        cron: "0 9 * * *"
        duration: 8h
        action: enable
        timezone: UTC
  - key: launch
    master_enabled: true
    schedules:
      - kind: one_shot
        action: enable
        timezone: UTC
        starts_at: 2024-01-03T12:00:00Z
        ends_at: 2024-01-03T14:00:00Z
`

const broken = `features:
  - key: checkout
    master_enabled: true
    schedules:
      - kind: recurring
        cron: "61 * * * *"
        duration: forever
        action: enable
        timezone: UTC
  - key: search
    master_enabled: true
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	root := NewRootCmd()
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return buf.String(), err
}

func TestVersion(t *testing.T) {
	SetVersionInfo("1.0.0", "abc1234", "2025-01-01")
	t.Cleanup(func() { SetVersionInfo("dev", "none", "unknown") })

	out, err := execute(t, context.Background(), "version")
	require.NoError(t, err)
	assert.Equal(t, "togglr 1.0.0 (commit: abc1234, built: 2025-01-01)\n", out)
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, context.Background(), "validate", writeFile(t, dir, "ok.yaml", features))
	require.NoError(t, err)
	assert.Contains(t, out, "checkout")
	assert.Contains(t, out, "launch")
	assert.NotContains(t, out, "invalid")
	assert.Contains(t, out, `enable "0 9 * * *" for 8h in UTC`)
	assert.Contains(t, out, "1 one-shot window(s) from 2024-01-03T12:00:00Z")

	out, err = execute(t, context.Background(), "validate", writeFile(t, dir, "broken.yaml", broken))
	require.Error(t, err)
	assert.ErrorIs(t, err, togglr.ErrValidation)
	assert.Contains(t, err.Error(), "1 of 2")
	assert.Contains(t, out, string(togglr.ErrInvalidCronExpression))
	assert.Contains(t, out, string(togglr.ErrInvalidDuration))

	_, err = execute(t, context.Background(), "validate", filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestReadFeatureFileRejectsDuplicates(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "dup.yaml", "features:\n  - key: a\n  - key: a\n    environment: production\n")
	_, err := readFeatureFile(path)
	assert.ErrorIs(t, err, togglr.ErrValidation)

	path = writeFile(t, dir, "nokey.yaml", "features:\n  - environment: production\n")
	_, err = readFeatureFile(path)
	assert.ErrorIs(t, err, togglr.ErrValidation)
}

func TestEvaluateFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "features.yaml", features)

	out, err := execute(t, context.Background(), "evaluate", "checkout", "--file", path,
		"--from", "2024-01-03T00:00:00Z", "--to", "2024-01-04T00:00:00Z", "--json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"events":[
		{"timestamp":"2024-01-03T00:00:00Z","enabled":false},
		{"timestamp":"2024-01-03T09:00:00Z","enabled":true},
		{"timestamp":"2024-01-03T17:00:00Z","enabled":false}
	]}`, out)

	out, err = execute(t, context.Background(), "evaluate", "launch", "--file", path,
		"--from", "2024-01-03T00:00:00Z", "--to", "2024-01-04T00:00:00Z", "--tz", "Asia/Tokyo")
	require.NoError(t, err)
	assert.Contains(t, out, "launch")
	assert.Contains(t, out, "2024-01-03 21:00 JST")
	assert.Contains(t, out, "2024-01-03 23:00 JST")

	_, err = execute(t, context.Background(), "evaluate", "checkout", "--file", path,
		"--from", "2024-01-01T00:00:00Z", "--to", "2024-01-10T00:00:00Z")
	assert.ErrorIs(t, err, togglr.ErrWindowTooLarge)

	_, err = execute(t, context.Background(), "evaluate", "checkout", "--file", path, "--from", "yesterday")
	assert.ErrorIs(t, err, togglr.ErrValidation)

	_, err = execute(t, context.Background(), "evaluate", "unknown", "--file", path)
	assert.ErrorIs(t, err, togglr.ErrFeatureNotFound)
}

func TestLoadAndEvaluateStored(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "togglr.yaml", "storage:\n  driver: sqlite\n  path: "+filepath.Join(dir, "togglr.db")+"\n")
	path := writeFile(t, dir, "features.yaml", features)
	ctx := context.Background()

	out, err := execute(t, ctx, "--config", cfg, "load", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Loaded")
	assert.Contains(t, out, "2")

	// Existing features are kept unless replaced
	_, err = execute(t, ctx, "--config", cfg, "load", path)
	assert.ErrorIs(t, err, togglr.ErrValidation)
	_, err = execute(t, ctx, "--config", cfg, "load", "--replace", path)
	require.NoError(t, err)

	out, err = execute(t, ctx, "--config", cfg, "evaluate", "launch",
		"--from", "2024-01-03T00:00:00Z", "--to", "2024-01-04T00:00:00Z", "--json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"events":[
		{"timestamp":"2024-01-03T00:00:00Z","enabled":false},
		{"timestamp":"2024-01-03T12:00:00Z","enabled":true},
		{"timestamp":"2024-01-03T14:00:00Z","enabled":false}
	]}`, out)
}

func TestLoadRejectsInvalidSchedules(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "togglr.yaml", "storage:\n  driver: sqlite\n  path: "+filepath.Join(dir, "togglr.db")+"\n")
	path := writeFile(t, dir, "broken.yaml", broken)

	_, err := execute(t, context.Background(), "--config", cfg, "load", path)
	require.Error(t, err)
	assert.ErrorIs(t, err, togglr.ErrInvalidCronExpression)
	assert.Contains(t, err.Error(), "imported 0 of 2")
}

func TestRunStopsWithContext(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "togglr.yaml", "storage:\n  driver: badger\n  path: "+filepath.Join(dir, "badger")+"\nscheduler:\n  node_id: node-test\n")
	path := writeFile(t, dir, "features.yaml", features)

	_, err := execute(t, context.Background(), "--config", cfg, "load", path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := execute(t, ctx, "--config", cfg, "run", "--shutdown-timeout", "5s")
	require.NoError(t, err)
	assert.Contains(t, out, "Scheduling")
	assert.Contains(t, out, "node-test")
	assert.Contains(t, out, "Shutting down")
}

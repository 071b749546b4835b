package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "scheduler:\n  base_url: http://scheduler:8080\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://scheduler:8080", cfg.Scheduler.BaseURL)
	assert.Equal(t, RetryBackoffExponential, cfg.Scheduler.RetryBackoff)
	assert.Equal(t, 2, cfg.Scheduler.MaxRetries)
	assert.Equal(t, "1m", cfg.Reconcile.Interval)
	assert.True(t, *cfg.Reconcile.Enabled)
	assert.Equal(t, ":8844", cfg.Server.Listen)
	assert.Equal(t, "buildcoord.status", cfg.Notify.Subject)
}

func TestLoadRejectsMissingSchedulerURL(t *testing.T) {
	path := writeConfig(t, "reconcile:\n  interval: 30s\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheduler.base_url")
}

func TestLoadRejectsBadDurations(t *testing.T) {
	path := writeConfig(t, `
scheduler:
  base_url: http://scheduler:8080
  retry_initial_delay: not-a-duration
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry_initial_delay")
}

func TestLoadNotifyRequiresURL(t *testing.T) {
	path := writeConfig(t, `
scheduler:
  base_url: http://scheduler:8080
notify:
  enabled: true
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notify.url")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BUILDCOORD_SCHEDULER_URL", "http://override:9090")
	t.Setenv("BUILDCOORD_SCHEDULER_TOKEN", "secret")
	path := writeConfig(t, "scheduler:\n  base_url: http://scheduler:8080\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://override:9090", cfg.Scheduler.BaseURL)
	assert.Equal(t, "secret", cfg.Scheduler.Token)
}

func TestNormalizeRetryBackoff(t *testing.T) {
	cases := map[string]RetryBackoffMode{
		"fixed":       RetryBackoffFixed,
		"Linear":      RetryBackoffLinear,
		"EXPONENTIAL": RetryBackoffExponential,
		"exp":         RetryBackoffExponential,
		"bogus":       "",
		"":            "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeRetryBackoff(in), "input %q", in)
	}
}

func TestParsedDurationHelpers(t *testing.T) {
	cfg := &Config{}
	cfg.Scheduler.BaseURL = "http://scheduler:8080"
	ApplyDefaults(cfg)
	require.NoError(t, cfg.Validate())

	initial, max := cfg.SchedulerRetryDelays()
	assert.Equal(t, "1s", initial.String())
	assert.Equal(t, "30s", max.String())
	assert.Equal(t, "1m0s", cfg.ReconcileInterval().String())
	assert.Equal(t, "30s", cfg.SchedulerRequestTimeout().String())
}

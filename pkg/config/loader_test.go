package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testYAML = `
router:
  expand_threshold: 0.25
  teacher_threshold: 0.55
  decompose_threshold: 0.7
  context_threshold: 0.4
  recurse_threshold: 0.8
  recursion_enabled: true
  recursion_depth_max: 1
scheduler:
  retry_max_attempts: 3
  retry_base_backoff_ms: 100
  retry_jitter_ms: 25
  stage_grace_ms: 250
cache:
  max_entries: 500
  default_ttl_ms: 60000
memory:
  similarity_merge_threshold: 0.9
  backend: memory
budget_defaults:
  max_wall_ms: 20000
  max_cost_micros: 10000
  max_teacher_calls: 2
  max_student_calls: 4
  max_stages: 8
model_clients:
  teacher:
    provider: anthropic
    model: claude-opus
    api_key_env: ANTHROPIC_API_KEY
    rate_limit_rps: 5
    rate_limit_burst: 10
    breaker_max_fails: 5
    breaker_open_ms: 30000
    breaker_window_ms: 60000
tenants:
  acme:
    budget_defaults:
      max_wall_ms: 5000
`

func writeTestConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, "config.yaml", testYAML)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.25, cfg.Router.ExpandThreshold)
	assert.Equal(t, 3, cfg.Scheduler.RetryMaxAttempts)
	assert.Equal(t, 500, cfg.Cache.MaxEntries)
	assert.Contains(t, cfg.ModelClients, "teacher")
	assert.True(t, cfg.Features.Expand, "features section omitted from file, default should survive")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, "bad.yaml", "router: [this is not a map")

	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestLoadDir_NoYAMLFiles(t *testing.T) {
	dir := t.TempDir()
	writeTestConfig(t, dir, "notes.txt", "hello")

	_, err := LoadDir(dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestForTenant_AppliesOverride(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, "config.yaml", testYAML)
	cfg, err := Load(path)
	require.NoError(t, err)

	effective, err := ForTenant(cfg, "acme")
	require.NoError(t, err)
	assert.Equal(t, int64(5000), effective.Budget.MaxWallMs)
	assert.Equal(t, cfg.Budget.MaxTeacherCalls, effective.Budget.MaxTeacherCalls, "non-overridden fields unchanged")
}

func TestForTenant_UnknownTenant(t *testing.T) {
	cfg := validConfigWithClients()
	effective, err := ForTenant(cfg, "nonexistent")
	require.NoError(t, err)
	assert.Same(t, cfg, effective)
}

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestConfigDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	yaml := `
store:
  url: ""
defaults:
  model: gpt-4.1-mini
  max_file_size_mb: 50
  max_files: 20
  max_concurrent_analyses: 10
  parse_deadline_seconds: 120
concurrency:
  parseworkers: 5
  extractworkers: 5
  chunkextractworkers: 3
llm_providers:
  gpt-4.1-mini:
    base_url: https://api.openai.com/v1
    api_key_env: OPENAI_API_KEY
    family: strict_schema
    context_window: 128000
    supports_json_schema: true
    price_per_token_in: 0.0000005
    price_per_token_out: 0.0000015
    always_include: true
`
	err := os.WriteFile(filepath.Join(dir, "analyzer.yaml"), []byte(yaml), 0644)
	require.NoError(t, err)
	return dir
}

func TestLoad(t *testing.T) {
	configDir := setupTestConfigDir(t)
	t.Setenv("OPENAI_API_KEY", "test-key")

	ctx := context.Background()
	cfg, err := Load(ctx, configDir)

	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "gpt-4.1-mini", cfg.DefaultModel)
	assert.Equal(t, 5, cfg.Concurrency.ParseWorkers)
	assert.Equal(t, 5, cfg.Concurrency.ExtractWorkers)
	assert.Equal(t, 3, cfg.Concurrency.ChunkExtractWorkers)

	stats := cfg.Stats()
	assert.Equal(t, 1, stats.Providers)

	p, err := cfg.GetProvider("gpt-4.1-mini")
	require.NoError(t, err)
	assert.Equal(t, FamilyStrictSchema, p.Family)
}

func TestLoadConfigNotFound(t *testing.T) {
	ctx := context.Background()
	_, err := Load(ctx, "/nonexistent/directory")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load configuration")
}

func TestLoadInvalidYAML(t *testing.T) {
	configDir := t.TempDir()

	err := os.WriteFile(filepath.Join(configDir, "analyzer.yaml"), []byte("{{{"), 0644)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = Load(ctx, configDir)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load configuration")
}

func TestLoadValidationFailure(t *testing.T) {
	configDir := t.TempDir()

	// No llm_providers at all -> validation should fail with an aggregated error.
	yaml := `
defaults:
  model: gpt-4.1-mini
`
	err := os.WriteFile(filepath.Join(configDir, "analyzer.yaml"), []byte(yaml), 0644)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = Load(ctx, configDir)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration validation failed")
}

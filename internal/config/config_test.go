package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Setenv("LOVABLE_API_KEY", "")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "google/gemini-2.5-flash", cfg.AI.Model)
	assert.Equal(t, DefaultSystemPrompt, cfg.AI.SystemPrompt)
	assert.Equal(t, []string{"*"}, cfg.CORS.AllowOrigins)
	assert.Contains(t, cfg.CORS.AllowHeaders, "x-client-info")
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, 60*time.Second, cfg.AI.DialTimeout)
	assert.Zero(t, cfg.AI.ResponseHeaderTimeout)
	assert.ErrorIs(t, cfg.Validate(), ErrMissingAPIKey)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9090"
ai:
  model: "openai/gpt-5-mini"
  system_prompt: "plan trips"
rate_limit:
  enabled: true
  requests: 5
  window: 30s
`)
	t.Setenv("LOVABLE_API_KEY", "secret-key")
	t.Setenv("YATRI_SERVER_MODE", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Server.Mode)
	assert.Equal(t, "openai/gpt-5-mini", cfg.AI.Model)
	assert.Equal(t, "plan trips", cfg.AI.SystemPrompt)
	assert.Equal(t, "secret-key", cfg.AI.APIKey)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.Window)
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, ":9090", cfg.Address())
}

func TestValidateRateLimit(t *testing.T) {
	cfg := Config{
		AI:        AIConfig{APIKey: "k", BaseURL: "http://upstream"},
		RateLimit: RateLimitConfig{Enabled: true, Requests: 0, Window: time.Minute},
	}
	assert.Error(t, cfg.Validate())

	cfg.RateLimit.Requests = 10
	assert.NoError(t, cfg.Validate())
}

func TestLoadRejectsBrokenYAML(t *testing.T) {
	path := writeConfig(t, "server: [unclosed")
	_, err := Load(path)
	assert.Error(t, err)
}

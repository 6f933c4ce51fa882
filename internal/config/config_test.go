package config

import (
	"bytes"
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

func TestLoad_FileOverlaysDefaults(t *testing.T) {
	t.Setenv(EnvAPIKey, "")
	t.Setenv(EnvModel, "")
	t.Setenv(EnvPort, "")

	path := writeConfig(t, `
server:
  port: 8080
upstream:
  api_key: sk-test
  timeout: 5s
  headers:
    OpenAI-Organization: org-1
reply:
  temperature: 0.9
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sk-test", cfg.Upstream.APIKey)
	assert.Equal(t, 5*time.Second, cfg.Upstream.Timeout)
	assert.Equal(t, "org-1", cfg.Upstream.Headers["OpenAI-Organization"])
	assert.Equal(t, defaultPrimaryModel, cfg.Upstream.PrimaryModel)
	assert.Equal(t, defaultFallbackModel, cfg.Upstream.FallbackModel)
	assert.Equal(t, 180, cfg.Reply.MaxTokens)
	assert.InDelta(t, 0.9, cfg.Reply.Temperature, 1e-9)
	assert.Equal(t, 240, cfg.Score.MaxTokens)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv(EnvAPIKey, "sk-env")
	t.Setenv(EnvModel, "gpt-4o")
	t.Setenv(EnvPort, "9090")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sk-env", cfg.Upstream.APIKey)
	assert.Equal(t, "gpt-4o", cfg.Upstream.PrimaryModel)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoad_InvalidPortEnv(t *testing.T) {
	t.Setenv(EnvAPIKey, "sk-env")
	t.Setenv(EnvPort, "eighty")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), EnvPort)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() Config {
		cfg := Default()
		cfg.Upstream.APIKey = "sk-test"
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		substr string
	}{
		{name: "missing api key", mutate: func(c *Config) { c.Upstream.APIKey = " " }, substr: "api_key"},
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 70000 }, substr: "server.port"},
		{name: "empty base url", mutate: func(c *Config) { c.Upstream.BaseURL = "" }, substr: "base_url"},
		{name: "empty primary model", mutate: func(c *Config) { c.Upstream.PrimaryModel = "" }, substr: "primary_model"},
		{name: "zero timeout", mutate: func(c *Config) { c.Upstream.Timeout = 0 }, substr: "timeout"},
		{name: "bad header", mutate: func(c *Config) { c.Upstream.Headers = Headers{"X Bad": "1"} }, substr: "header"},
		{name: "reply tokens", mutate: func(c *Config) { c.Reply.MaxTokens = 0 }, substr: "reply.max_tokens"},
		{name: "score temperature", mutate: func(c *Config) { c.Score.Temperature = 2.5 }, substr: "score.temperature"},
		{name: "log level", mutate: func(c *Config) { c.Logging.Level = "banana" }, substr: "log level"},
		{name: "log format", mutate: func(c *Config) { c.Logging.Format = "xml" }, substr: "logging.format"},
	}

	require.NoError(t, valid().Validate())

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.substr)
		})
	}
}

func TestCandidates(t *testing.T) {
	t.Parallel()

	u := UpstreamConfig{PrimaryModel: "a", FallbackModel: "b"}
	assert.Equal(t, []string{"a", "b"}, u.Candidates())

	u.FallbackModel = "a"
	assert.Equal(t, []string{"a"}, u.Candidates())

	u.FallbackModel = ""
	assert.Equal(t, []string{"a"}, u.Candidates())
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, err := NewLogger(LoggingConfig{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Warn("kept", "k", "v")
	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), `"msg":"kept"`)

	_, err = NewLogger(LoggingConfig{Level: "debug", Format: "text"}, &buf)
	require.NoError(t, err)

	_, err = NewLogger(LoggingConfig{Level: "banana"}, &buf)
	assert.Error(t, err)

	_, err = NewLogger(LoggingConfig{Format: "xml"}, &buf)
	assert.Error(t, err)
}

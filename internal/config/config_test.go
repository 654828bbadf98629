package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if got := cfg.ListenAddr(); got != "127.0.0.1:37780" {
		t.Errorf("ListenAddr = %q", got)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	data := `
[server]
port = 9000

[storage]
data_dir = "` + filepath.ToSlash(filepath.Join(dir, "users")) + `"
io_timeout = "3s"
pattern_window = 14

[maintenance]
sweep_interval = "1m"
verify_interval = "0s"

[logging]
level = "debug"
format = "json"

[mentor]
provider = "ollama"
model = "llama3.2"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path, false)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Bind, "unset keys keep defaults")
	assert.Equal(t, 3*time.Second, cfg.Storage.IOTimeout)
	assert.Equal(t, 14, cfg.Storage.PatternWindow)
	assert.Equal(t, 20, cfg.Storage.ConversationCap)
	assert.Equal(t, time.Minute, cfg.Maintenance.SweepInterval)
	assert.Zero(t, cfg.Maintenance.VerifyInterval)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "ollama", cfg.Mentor.Provider)
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("SANCTUM_DATA_DIR", t.TempDir())
	path := filepath.Join(t.TempDir(), "absent.toml")

	cfg, err := Load(path, true)
	require.NoError(t, err)
	assert.Equal(t, os.Getenv("SANCTUM_DATA_DIR"), cfg.Storage.DataDir)

	_, err = Load(path, false)
	assert.Error(t, err)
}

func TestLoadRejectsBadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server\nport = "), 0o600))
	_, err := Load(path, false)
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"SANCTUM_DATA_DIR":        "/srv/sanctum",
		"SANCTUM_PORT":            "8081",
		"SANCTUM_LOG_LEVEL":       "warn",
		"SANCTUM_MENTOR_PROVIDER": "openai",
		"SANCTUM_IO_TIMEOUT":      "250ms",
		"OPENAI_API_KEY":          "sk-test",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(lookup))
	assert.Equal(t, "/srv/sanctum", cfg.Storage.DataDir)
	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "openai", cfg.Mentor.Provider)
	assert.Equal(t, "sk-test", cfg.Mentor.APIKey)
	assert.Equal(t, 250*time.Millisecond, cfg.Storage.IOTimeout)
}

func TestApplyEnvKeepsExplicitKey(t *testing.T) {
	cfg := Default()
	cfg.Mentor.Provider = "openai"
	cfg.Mentor.APIKey = "from-file"
	lookup := func(k string) (string, bool) {
		if k == "OPENAI_API_KEY" {
			return "from-env", true
		}
		return "", false
	}
	require.NoError(t, cfg.ApplyEnv(lookup))
	assert.Equal(t, "from-file", cfg.Mentor.APIKey)
}

func TestApplyEnvBadPort(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(func(k string) (string, bool) {
		if k == "SANCTUM_PORT" {
			return "eighty", true
		}
		return "", false
	})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }},
		{"io timeout", func(c *Config) { c.Storage.IOTimeout = 0 }},
		{"conversation cap", func(c *Config) { c.Storage.ConversationCap = 0 }},
		{"pattern window", func(c *Config) { c.Storage.PatternWindow = -1 }},
		{"sweep interval", func(c *Config) { c.Maintenance.SweepInterval = 0 }},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"provider", func(c *Config) { c.Mentor.Provider = "oracle" }},
		{"metrics path", func(c *Config) { c.Metrics.Path = "metrics" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := Default()
	cfg.Maintenance.Enabled = false
	cfg.Maintenance.SweepInterval = 0
	assert.NoError(t, cfg.Validate(), "sweep interval only matters when maintenance runs")
}

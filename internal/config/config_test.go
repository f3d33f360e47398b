package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ANIMA_PORT", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "*", cfg.Server.CORSOrigins)
	assert.Equal(t, "https://api.openai.com/v1", cfg.Upstream.BaseURL)
	assert.Equal(t, "gpt-4o-mini", cfg.Upstream.Model)
	assert.Equal(t, 12, cfg.Upstream.MaxTurns)
	assert.Empty(t, cfg.Upstream.APIKey)
	assert.Equal(t, 15*time.Minute, cfg.Client.DailyCap)
	assert.Equal(t, time.Second, cfg.Client.TickInterval)
	assert.Equal(t, 3, cfg.Client.FreeDialogues)
	assert.Equal(t, "ru", cfg.Client.Lang)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("ANIMA_PORT", "8089")
	t.Setenv("ANIMA_UPSTREAM_URL", "http://127.0.0.1:9999/v1")
	t.Setenv("ANIMA_STORE_DRIVER", "memory")
	t.Setenv("POSTGRES_PORT", "6543")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sk-test", cfg.Upstream.APIKey)
	assert.Equal(t, 8089, cfg.Server.Port)
	assert.Equal(t, "http://127.0.0.1:9999/v1", cfg.Upstream.BaseURL)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 6543, cfg.Store.Database.Port)
}

func TestLoadFile(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
		"server": {"port": 4000, "rate_limit": 5},
		"upstream": {"model": "gpt-4o", "max_turns": 6},
		"client": {"lang": "en", "free_dialogues": 5}
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 4000, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Server.RateLimit)
	assert.Equal(t, "gpt-4o", cfg.Upstream.Model)
	assert.Equal(t, 6, cfg.Upstream.MaxTurns)
	assert.Equal(t, "en", cfg.Client.Lang)
	assert.Equal(t, 5, cfg.Client.FreeDialogues)
	// untouched keys keep their defaults
	assert.Equal(t, 15*time.Minute, cfg.Client.DailyCap)
}

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
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFromMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, def.App.PollIntervalForeground, cfg.App.PollIntervalForeground)
	assert.Equal(t, 100*time.Millisecond, cfg.App.Debounce)
	assert.Equal(t, 2*time.Second, cfg.App.SeekThreshold)
	assert.Equal(t, []string{"netease", "kugou"}, cfg.Lyrics.Providers)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromOverridesAndBadDuration(t *testing.T) {
	path := writeConfig(t, `
[app]
player = "playerctl"
poll_interval_foreground = "500ms"
cache_ttl = "forever"
signal_number = 12

[lyrics]
providers = ["kugou"]
breaker_threshold = 3

[redis]
enabled = true
addr = "10.0.0.1:6379"
`)
	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	assert.Equal(t, 500*time.Millisecond, cfg.App.PollIntervalForeground)
	assert.Equal(t, Default().App.CacheTTL, cfg.App.CacheTTL, "invalid duration keeps default")
	assert.Equal(t, 12, cfg.App.SignalNumber)
	assert.Equal(t, []string{"kugou"}, cfg.Lyrics.Providers)
	assert.Equal(t, 3, cfg.Lyrics.BreakerThreshold)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "10.0.0.1:6379", cfg.Redis.Addr)
}

func TestLoadFromBrokenToml(t *testing.T) {
	_, err := LoadFrom(writeConfig(t, "[app\nplayer="))
	assert.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("LYRICSYNC_CLIENT_ID", "env-client")
	t.Setenv("LYRICSYNC_PLAYER", "spotify")
	t.Setenv("LYRICSYNC_LISTEN", "127.0.0.1:9999")

	cfg, err := LoadFrom(writeConfig(t, "[spotify]\nclient_id = \"file-client\"\n"))
	require.NoError(t, err)
	assert.Equal(t, "env-client", cfg.Spotify.ClientID)
	assert.Equal(t, "spotify", cfg.App.Player)
	assert.Equal(t, "127.0.0.1:9999", cfg.HTTP.Listen)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.App.Player = "winamp"
	cfg.AI.Enabled = true
	cfg.App.LineInterval = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "winamp")
	assert.Contains(t, err.Error(), "ai.api_key")
	assert.Contains(t, err.Error(), "line_interval")

	cfg = Default()
	cfg.App.Player = "spotify"
	assert.ErrorContains(t, cfg.Validate(), "client_id")
}

func TestXDGPaths(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/x/config")
	t.Setenv("XDG_CACHE_HOME", "/x/cache")
	t.Setenv("XDG_DATA_HOME", "/x/data")

	assert.Equal(t, "/x/config/lyricsync/config.toml", GetConfigPath())
	cfg := Default()
	assert.Equal(t, "/x/cache/lyricsync/lyrics", cfg.LyricsCacheDir())
	assert.Equal(t, "/x/data/lyricsync/credentials.db", cfg.CredentialPath())
}

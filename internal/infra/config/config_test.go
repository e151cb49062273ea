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
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_DefaultsApplied(t *testing.T) {
	path := writeConfig(t, `
library:
  type: spotify
  settings:
    client_id: id
    client_secret: secret
    refresh_token: token
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "stdout", cfg.Logger.Output)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, 70, cfg.Player.Volume)
	assert.Equal(t, 1.0, cfg.Player.Speed)
	assert.Equal(t, "gapless", cfg.Player.Transition)
	assert.Equal(t, 6.0, cfg.Player.CrossfadeSec)
	assert.Equal(t, "off", cfg.Player.Repeat)
	assert.Equal(t, 300, cfg.Player.ProgressIntervalMs)
	assert.Equal(t, 5, cfg.AutoDJ.Threshold)
	assert.Equal(t, 10, cfg.AutoDJ.Batch)
	assert.Equal(t, "beep", cfg.Engine.Type)
}

func TestLoad_FileValuesWin(t *testing.T) {
	path := writeConfig(t, `
logger:
  level: debug
player:
  volume: 30
  transition: crossfade
  crossfade_sec: 12
  repeat: all
  shuffle: true
autodj:
  enabled: true
  threshold: 3
  batch: 20
library:
  type: spotify
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, 30, cfg.Player.Volume)
	assert.Equal(t, "crossfade", cfg.Player.Transition)
	assert.Equal(t, 12.0, cfg.Player.CrossfadeSec)
	assert.Equal(t, "all", cfg.Player.Repeat)
	assert.True(t, cfg.Player.Shuffle)
	assert.True(t, cfg.AutoDJ.Enabled)
	assert.Equal(t, 3, cfg.AutoDJ.Threshold)
	assert.Equal(t, 20, cfg.AutoDJ.Batch)
}

func TestLoad_EnvOverridesLibrarySettings(t *testing.T) {
	path := writeConfig(t, `
library:
  type: spotify
  settings:
    client_id: from-file
`)
	t.Setenv("SPOTIFY_CLIENT_ID", "from-env")
	t.Setenv("SPOTIFY_CLIENT_SECRET", "secret-from-env")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Library.Settings["client_id"])
	assert.Equal(t, "secret-from-env", cfg.Library.Settings["client_secret"])
}

func TestLoad_EnvIgnoredForOtherLibraries(t *testing.T) {
	path := writeConfig(t, `
library:
  type: local
`)
	t.Setenv("SPOTIFY_CLIENT_ID", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Nil(t, cfg.Library.Settings)
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		yaml   string
		errMsg string
	}{
		{
			name:   "missing library type",
			yaml:   "player:\n  volume: 50\n",
			errMsg: "Type",
		},
		{
			name:   "volume out of range",
			yaml:   "player:\n  volume: 150\nlibrary:\n  type: spotify\n",
			errMsg: "Volume",
		},
		{
			name:   "unknown transition",
			yaml:   "player:\n  transition: wobble\nlibrary:\n  type: spotify\n",
			errMsg: "Transition",
		},
		{
			name:   "unknown repeat mode",
			yaml:   "player:\n  repeat: sometimes\nlibrary:\n  type: spotify\n",
			errMsg: "Repeat",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.yaml)
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestConfig_Validate_CrossfadeNeedsWindow(t *testing.T) {
	cfg := Config{
		Logger:  LoggerConfig{Output: "stdout", Level: "info"},
		Player:  PlayerConfig{Volume: 50, Speed: 1.0, Transition: "crossfade", Repeat: "off", ProgressIntervalMs: 300},
		AutoDJ:  AutoDJConfig{Threshold: 5, Batch: 10},
		Library: LibraryConfig{Type: "spotify"},
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "crossfade_sec")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

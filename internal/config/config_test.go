package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "automator", cfg.Database.Database)
	assert.Equal(t, "Shift", cfg.Recording.StopModifier)
	assert.Equal(t, "S", cfg.Recording.StopKey)
	assert.Equal(t, 200, cfg.Recording.ClickDeltaMs)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("RECORDING_STOP_KEY", "Q")
	t.Setenv("RECORDING_CLICK_DELTA_MS", "350")
	t.Setenv("CHROME_HEADLESS", "true")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "Q", cfg.Recording.StopKey)
	assert.Equal(t, 350, cfg.Recording.ClickDeltaMs)
	assert.True(t, cfg.Chrome.HeadlessMode)
}

func TestLoadConfigIgnoresMalformedInt(t *testing.T) {
	t.Setenv("RECORDING_CLICK_DELTA_MS", "soon")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 200, cfg.Recording.ClickDeltaMs)
}

func TestGetDSN(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t,
		"root:root@tcp(127.0.0.1:3306)/automator?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.GetDSN())
}

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	v, err := InitConfig()
	require.NoError(t, err)

	cfg, err := GetApplicationConfig(v)
	require.NoError(t, err)

	assert.Equal(t, "listen-api", cfg.Name)
	assert.Equal(t, "openai", cfg.SttProvider)
	assert.Equal(t, "openai", cfg.LlmProvider)
	assert.Equal(t, "en", cfg.Listen.Language)
	assert.Equal(t, 2000, cfg.Listen.CompletionDebounceMs)
	assert.Equal(t, 5000, cfg.Listen.ScreenshotIntervalMs)
	assert.Equal(t, 100, cfg.Listen.HistorySize)
	assert.False(t, cfg.Listen.ClearOnResume)
}

func TestListenConfigDurations(t *testing.T) {
	lc := ListenConfig{CompletionDebounceMs: 2000, ScreenshotIntervalMs: 5000}
	assert.Equal(t, "2s", lc.CompletionDebounce().String())
	assert.Equal(t, "5s", lc.ScreenshotInterval().String())
}

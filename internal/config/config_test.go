package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "not-the-default")
	t.Setenv("HUB_IDLE_TIMEOUT", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.Hub.IdleTimeout)
	assert.Equal(t, time.Minute, cfg.Hub.SweepInterval)
	assert.Equal(t, 10, cfg.Hub.LowStockThreshold)
	assert.Equal(t, 48*time.Hour, cfg.Metrics.HourlyTTL)
	assert.Equal(t, 720*time.Minute, cfg.JWT.Expiration)
	assert.Empty(t, cfg.Warnings)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "not-the-default")
	t.Setenv("HUB_IDLE_TIMEOUT", "90s")
	t.Setenv("HUB_LOW_STOCK_THRESHOLD", "3")
	t.Setenv("HUB_SEND_BUFFER", "-1")
	t.Setenv("ALLOWED_ORIGINS", "https://pos.example.com, ,https://admin.example.com")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, cfg.Hub.IdleTimeout)
	assert.Equal(t, 3, cfg.Hub.LowStockThreshold)
	assert.Equal(t, 256, cfg.Hub.SendBuffer)
	assert.Equal(t, []string{"https://pos.example.com", "https://admin.example.com"}, cfg.Server.AllowedOrigins)
}

func TestLoadConfigWarnings(t *testing.T) {
	t.Setenv("JWT_SECRET", defaultJWTSecret)
	t.Setenv("HUB_SWEEP_INTERVAL", "soon")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("REDIS_ADDR", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, time.Minute, cfg.Hub.SweepInterval)
	assert.False(t, cfg.Redis.Enabled)
	assert.Len(t, cfg.Warnings, 3)
}

func TestLoadConfigClampsMessageBurst(t *testing.T) {
	for _, raw := range []string{"forty", "0", "-3"} {
		t.Run(raw, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "not-the-default")
			t.Setenv("HUB_MESSAGES_PER_SECOND", "20")
			t.Setenv("HUB_MESSAGE_BURST", raw)

			cfg, err := LoadConfig()
			require.NoError(t, err)

			assert.GreaterOrEqual(t, cfg.Hub.MessageBurst, 1)
			assert.NotEmpty(t, cfg.Warnings)
		})
	}
}

func TestLoadConfigWarnsOnUnparsableNumbers(t *testing.T) {
	t.Setenv("JWT_SECRET", "not-the-default")
	t.Setenv("HUB_LOW_STOCK_THRESHOLD", "ten")
	t.Setenv("HUB_MESSAGES_PER_SECOND", "fast")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Hub.LowStockThreshold)
	assert.Equal(t, 20.0, cfg.Hub.MessagesPerSecond)
	assert.Len(t, cfg.Warnings, 2)
}

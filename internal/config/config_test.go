package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("IDEMPOTENCY_TTL", "")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, 100, cfg.RateLimitPerMin)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("IDEMPOTENCY_TTL", "10m")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "5")
	t.Setenv("OUTBOX_INTERVAL", "garbage")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, 10*time.Minute, cfg.IdempotencyTTL)
	assert.Equal(t, 5, cfg.RateLimitPerMin)
	assert.Equal(t, 2*time.Second, cfg.OutboxInterval)
}

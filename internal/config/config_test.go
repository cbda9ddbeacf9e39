package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.LLMMaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.LLMAttemptTimeout)
	assert.Equal(t, 5*time.Minute, cfg.ContextCacheTTL)
	assert.Equal(t, 100, cfg.ContextCacheMaxSize)
	assert.Equal(t, 10, cfg.ContextMaxTurns)
	assert.Equal(t, "@every 1m", cfg.ContextCacheSweep)
	assert.False(t, cfg.LLMBreakerEnabled)
}

func TestParse_Overrides(t *testing.T) {
	t.Setenv("LLM_MAX_ATTEMPTS", "5")
	t.Setenv("CONTEXT_CACHE_TTL", "30s")
	t.Setenv("ALLOWED_USERS", "1:2:3")

	cfg, err := Parse()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.LLMMaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.ContextCacheTTL)
	assert.Equal(t, []int64{1, 2, 3}, cfg.AllowedUsers)
}

func TestParse_InvalidDuration(t *testing.T) {
	t.Setenv("LLM_ATTEMPT_TIMEOUT", "soon")

	_, err := Parse()
	require.Error(t, err)
}

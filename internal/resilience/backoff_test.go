package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff(t *testing.T) {
	assert.Equal(t, 2*time.Second, Backoff(1, time.Second, 8*time.Second))
	assert.Equal(t, 4*time.Second, Backoff(2, time.Second, 8*time.Second))
	assert.Equal(t, 8*time.Second, Backoff(3, time.Second, 8*time.Second))
	assert.Equal(t, 8*time.Second, Backoff(4, time.Second, 8*time.Second))
	assert.Equal(t, 8*time.Second, Backoff(200, time.Second, 8*time.Second))
	assert.Equal(t, 20*time.Millisecond, Backoff(1, 10*time.Millisecond, time.Second))
}

func TestRateLimitDelay(t *testing.T) {
	assert.Equal(t, 2*time.Second, RateLimitDelay(1))
	assert.Equal(t, 8*time.Second, RateLimitDelay(3))
}

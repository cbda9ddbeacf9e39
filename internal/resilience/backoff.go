package resilience

import "time"

const maxShift = 30

// Backoff returns the delay before the attempt following attempt (1-based):
// min(2^attempt * base, max).
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > maxShift {
		return max
	}
	d := base * time.Duration(1<<attempt)
	if d > max || d <= 0 {
		return max
	}
	return d
}

// RateLimitDelay is the wait used when a throttled response names no delay.
func RateLimitDelay(attempt int) time.Duration {
	return Backoff(attempt, time.Second, time.Duration(1<<maxShift)*time.Second)
}

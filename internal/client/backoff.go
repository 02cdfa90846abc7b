package client

import (
	"math/rand"
	"time"
)

// Backoff returns the delay before reconnection attempt n (numbered from 0):
// base*2^n + jitter, capped at maxDelay.
func Backoff(attempt int, base, maxDelay, jitter time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 62 {
		return maxDelay
	}
	exp := base << uint(attempt)
	if exp>>uint(attempt) != base {
		return maxDelay
	}
	d := exp + jitter
	if d > maxDelay || d < 0 {
		return maxDelay
	}
	return d
}

// randomJitter picks a jitter in [0, base).
func randomJitter(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(base)))
}

// Package bandwidth provides bandwidth rate limiting for egress traffic.
package bandwidth

import (
	"sync"
	"time"
)

// Limiter implements token bucket rate limiting for bandwidth.
// A limit of 0 means unlimited.
type Limiter struct {
	mu                sync.Mutex
	maxBytesPerSecond int64
	tokens            float64
	lastRefillTime    time.Time
}

// NewLimiter creates a new bandwidth limiter with the given bytes-per-second limit.
func NewLimiter(maxBytesPerSecond int64) *Limiter {
	return &Limiter{
		maxBytesPerSecond: maxBytesPerSecond,
		tokens:            float64(maxBytesPerSecond),
		lastRefillTime:    time.Now(),
	}
}

// Allow consumes n bytes from the rate limit and returns how long the
// caller must wait before sending them. Returns 0 when tokens are
// available immediately.
func (l *Limiter) Allow(n int64) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.maxBytesPerSecond <= 0 {
		return 0
	}

	// Refill tokens based on elapsed time.
	now := time.Now()
	elapsed := now.Sub(l.lastRefillTime).Seconds()
	l.tokens += elapsed * float64(l.maxBytesPerSecond)
	if l.tokens > float64(l.maxBytesPerSecond) {
		l.tokens = float64(l.maxBytesPerSecond)
	}
	l.lastRefillTime = now

	if l.tokens >= float64(n) {
		l.tokens -= float64(n)
		return 0
	}

	// Not enough tokens; the caller owes the deficit in wait time.
	deficit := float64(n) - l.tokens
	waitSeconds := deficit / float64(l.maxBytesPerSecond)
	waitDuration := time.Duration(waitSeconds * float64(time.Second))

	// Account as if the caller waited out the deficit.
	l.tokens = 0
	l.lastRefillTime = now.Add(waitDuration)

	return waitDuration
}

// Update changes the bandwidth limit. 0 means unlimited.
func (l *Limiter) Update(maxBytesPerSecond int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.maxBytesPerSecond = maxBytesPerSecond
	if maxBytesPerSecond > 0 && l.tokens > float64(maxBytesPerSecond) {
		l.tokens = float64(maxBytesPerSecond)
	}
}

package server

import (
	"sync"
	"time"
)

// rateLimiter is a token bucket refilled continuously at capacity/interval.
type rateLimiter struct {
	mu        sync.Mutex
	tokens    float64
	capacity  float64
	rate      float64
	lastCheck time.Time
	now       func() time.Time
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	capacity, interval := cfg.Burst, cfg.RefillInterval
	if capacity <= 0 {
		capacity = 1
	}
	if interval <= 0 {
		interval = time.Second
	}

	rl := &rateLimiter{
		tokens:   float64(capacity),
		capacity: float64(capacity),
		rate:     float64(capacity) / interval.Seconds(),
		now:      time.Now,
	}
	rl.lastCheck = rl.now()
	return rl
}

func (rl *rateLimiter) allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if elapsed := now.Sub(rl.lastCheck).Seconds(); elapsed > 0 {
		rl.tokens = min(rl.capacity, rl.tokens+elapsed*rl.rate)
	}
	rl.lastCheck = now

	if rl.tokens < 1 {
		return false
	}
	rl.tokens--
	return true
}

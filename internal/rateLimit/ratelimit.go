package rateLimit

import (
	"context"
	"time"
)

// Counter increments key within a fixed window and returns the new count.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

type RateLimiter struct {
	counter Counter
	rate    int
	period  time.Duration
}

func NewRateLimiter(counter Counter, rate int, period time.Duration) *RateLimiter {
	return &RateLimiter{counter: counter, rate: rate, period: period}
}

// Allow reports whether key is still under its budget for the current
// window. A non-positive rate disables limiting.
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if rl.rate <= 0 {
		return true, nil
	}
	n, err := rl.counter.Incr(ctx, key, rl.period)
	if err != nil {
		return false, err
	}
	return n <= int64(rl.rate), nil
}

package ratelimit

import (
	"context"
	"time"

	"github.com/robertarktes/smarthost-reservations/internal/observability"
)

// Counter counts hits per fixed window. The Redis cache implements it.
type Counter interface {
	IncrWindow(ctx context.Context, key string, period time.Duration) (int64, error)
}

type RateLimiter struct {
	counter Counter
	rate    int
	period  time.Duration
	logger  observability.Logger
}

func NewRateLimiter(counter Counter, rate int, period time.Duration, logger observability.Logger) *RateLimiter {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &RateLimiter{counter: counter, rate: rate, period: period, logger: logger}
}

// Allow reports whether key is still within its budget for the current window.
// A counter failure lets the request through.
func (rl *RateLimiter) Allow(ctx context.Context, key string) bool {
	if rl.rate <= 0 {
		return true
	}
	n, err := rl.counter.IncrWindow(ctx, "rl:"+key, rl.period)
	if err != nil {
		rl.logger.WithError(err).Warn("rate limiter unavailable")
		return true
	}
	if n > int64(rl.rate) {
		observability.RateLimitExceeded.Inc()
		return false
	}
	return true
}

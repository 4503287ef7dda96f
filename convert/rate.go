package convert

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	maxRequestsPerMinute = 20
	rateWindow           = time.Minute
)

// RateLimiter enforces a sliding-window request budget for the generative
// backend.
type RateLimiter struct {
	max    int
	window time.Duration

	mu    sync.Mutex
	times []time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)

	logger *slog.Logger
}

// NewRateLimiter creates a limiter allowing 20 requests per minute.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		max:    maxRequestsPerMinute,
		window: rateWindow,
		now:    time.Now,
		sleep:  sleepCtx,
		logger: slog.Default().With("component", "rate-limiter"),
	}
}

// Wait blocks until a request slot is available or the context is cancelled,
// then claims the slot.
func (r *RateLimiter) Wait(ctx context.Context) {
	r.mu.Lock()
	now := r.now()

	live := r.times[:0]
	for _, t := range r.times {
		if now.Sub(t) < r.window {
			live = append(live, t)
		}
	}
	r.times = live

	var wait time.Duration
	if len(r.times) >= r.max {
		wait = r.window - now.Sub(r.times[0])
	}
	r.mu.Unlock()

	if wait > 0 {
		r.logger.Info("rate limiting", "sleep", wait.Round(100*time.Millisecond))
		r.sleep(ctx, wait)
	}

	r.mu.Lock()
	r.times = append(r.times, r.now())
	r.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// Package limiter throttles how fast the watcher starts dehusk operations.
package limiter

import (
	"context"
	"math"

	"golang.org/x/time/rate"
)

// OpLimiter caps operations per second. A zero-rate limiter never waits.
type OpLimiter struct {
	limiter *rate.Limiter
}

// NewOpLimiter creates a limiter allowing perSecond operations with the given
// burst. perSecond <= 0 disables throttling.
func NewOpLimiter(perSecond float64, burst int) *OpLimiter {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Limit(perSecond)
	if perSecond <= 0 || math.IsInf(perSecond, 1) {
		limit = rate.Inf
	}
	return &OpLimiter{limiter: rate.NewLimiter(limit, burst)}
}

// Wait blocks until the next operation may start or ctx is done.
func (l *OpLimiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// SetRate updates the operations-per-second cap
func (l *OpLimiter) SetRate(perSecond float64) {
	if perSecond <= 0 {
		l.limiter.SetLimit(rate.Inf)
		return
	}
	l.limiter.SetLimit(rate.Limit(perSecond))
}

// Unlimited reports whether the limiter never waits.
func (l *OpLimiter) Unlimited() bool {
	return l.limiter.Limit() == rate.Inf
}

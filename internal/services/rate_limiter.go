package services

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/codyseavey/albion-tracker/internal/metrics"
)

// Albion Online Data's published limit is 300 requests per 5 minutes; stay under it
const (
	defaultRateLimit  = 280
	defaultRatePeriod = 300 * time.Second
)

// RateLimiter is a token bucket shared by every outbound API call.
// It holds up to `limit` tokens and refills continuously at limit/period.
type RateLimiter struct {
	limiter *rate.Limiter
	limit   int
	period  time.Duration
}

// NewRateLimiter allows `limit` calls per `period`. The bucket starts full.
func NewRateLimiter(limit int, period time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = defaultRateLimit
	}
	if period <= 0 {
		period = defaultRatePeriod
	}

	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Every(period/time.Duration(limit)), limit),
		limit:   limit,
		period:  period,
	}
}

// Acquire blocks until a token is available and consumes it.
// rate.Limiter serializes the refill and deduction, so concurrent callers see exact accounting.
func (l *RateLimiter) Acquire(ctx context.Context) error {
	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	metrics.RateLimiterWait.Observe(time.Since(start).Seconds())
	return nil
}

// Interval is the steady-state spacing between calls
func (l *RateLimiter) Interval() time.Duration {
	return l.period / time.Duration(l.limit)
}

// Available returns the tokens currently in the bucket
func (l *RateLimiter) Available() float64 {
	return l.limiter.Tokens()
}

func (l *RateLimiter) String() string {
	return fmt.Sprintf("%d per %v", l.limit, l.period)
}

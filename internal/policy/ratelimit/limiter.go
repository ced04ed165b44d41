// Package ratelimit implements token bucket admission control for fetches.
// One bucket is shared across every worker and across parent and expanded
// identifiers, so recursion cannot evade the configured politeness rate.
package ratelimit

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Config holds rate limiter configuration.
type Config struct {
	// RPS is the sustained request rate in tokens per second. Zero or
	// negative disables limiting.
	RPS float64
	// Burst is the bucket size. Values below 1 are raised to 1.
	Burst int
}

// Limiter is a single shared token bucket.
type Limiter struct {
	limiter *rate.Limiter
}

// New creates a Limiter from cfg.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{limiter: rate.NewLimiter(r, burst)}
}

// Wait blocks until a token is available, respecting the context.
func (l *Limiter) Wait(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

// Allow reports whether a token is available right now, consuming it if so.
func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}

// UpdateLimits replaces the rate and burst at runtime, e.g. after a server
// signals throttling.
func (l *Limiter) UpdateLimits(rps float64, burst int) {
	r := rate.Limit(rps)
	if rps <= 0 {
		r = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	l.limiter.SetLimit(r)
	l.limiter.SetBurst(burst)
}

// Package ratelimit paces calls to external model providers.
//
// Callers queue behind a token bucket rather than failing fast; a request
// only errors when its context expires while waiting.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/manavgup/rag-modulo-sub005/internal/core"
)

// Limiter wraps a token bucket shared by all callers of one provider.
type Limiter struct {
	bucket *rate.Limiter
}

// New returns a limiter allowing requestsPerSecond sustained throughput
// with a burst of the same size. A non-positive rate disables limiting.
func New(requestsPerSecond float64) *Limiter {
	if requestsPerSecond <= 0 {
		return &Limiter{bucket: rate.NewLimiter(rate.Inf, 1)}
	}
	burst := int(requestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &Limiter{bucket: rate.NewLimiter(rate.Limit(requestsPerSecond), burst)}
}

// Wait blocks until a token is available or the context is done. Context
// expiry while queued surfaces as a rate-limited error so callers can
// tell it apart from their own deadline handling.
func (l *Limiter) Wait(ctx context.Context) error {
	if err := l.bucket.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return core.WrapError(core.CodeRateLimited, "rate limit wait aborted", ctx.Err())
		}
		return core.WrapError(core.CodeRateLimited, "rate limit wait failed", err)
	}
	return nil
}

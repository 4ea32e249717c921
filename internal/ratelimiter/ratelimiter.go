// Package ratelimiter throttles transfer throughput using the token bucket
// algorithm.
package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"
)

// minBurst keeps the bucket large enough for a full copy chunk even at very
// low configured rates.
const minBurst = 256 * 1024

// Limiter caps sustained byte throughput while allowing short bursts.
//
// The token bucket algorithm works as follows:
//  1. Tokens (bytes) are added to the bucket at a constant rate
//  2. Each transferred byte consumes one token
//  3. When the bucket is empty, transfers wait for replenishment
//  4. Burst capacity absorbs temporary spikes above the sustained rate
//
// Thread safety:
// All methods are safe for concurrent use.
type Limiter struct {
	limiter *rate.Limiter
}

// New creates a Limiter capping throughput at bytesPerSecond.
//
// A zero rate means unlimited: waits return immediately. The burst size is
// the larger of the configured rate and a fixed floor, so a single copy
// chunk always fits the bucket.
func New(bytesPerSecond uint64) *Limiter {
	if bytesPerSecond == 0 {
		return &Limiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}

	burst := bytesPerSecond
	if burst < minBurst {
		burst = minBurst
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), int(burst))}
}

// WaitN blocks until n bytes worth of tokens are available or the context
// is cancelled. Requests larger than the burst size are split so they can
// never fail outright.
func (l *Limiter) WaitN(ctx context.Context, n int) error {
	burst := l.limiter.Burst()
	if l.limiter.Limit() == rate.Inf {
		return ctx.Err()
	}

	for n > 0 {
		chunk := n
		if chunk > burst {
			chunk = burst
		}
		if err := l.limiter.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

// SetRate updates the sustained throughput cap. A zero rate removes the
// cap.
func (l *Limiter) SetRate(bytesPerSecond uint64) {
	if bytesPerSecond == 0 {
		l.limiter.SetLimit(rate.Inf)
		return
	}

	burst := bytesPerSecond
	if burst < minBurst {
		burst = minBurst
	}
	l.limiter.SetLimit(rate.Limit(bytesPerSecond))
	l.limiter.SetBurst(int(burst))
}

// Tokens returns the bytes currently available without waiting, for
// monitoring and tests.
func (l *Limiter) Tokens() float64 {
	return l.limiter.Tokens()
}

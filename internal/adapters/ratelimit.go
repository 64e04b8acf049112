// Package adapters supplies the concrete venue-facing boundary the rest
// of the kernel depends on through interfaces: a REST execution/data
// client, a streaming WebSocket feed, an instrument-discovery poller,
// and a sqlx-backed historical catalog. It generalizes
// internal/exchange and internal/market from the teacher's single
// hardcoded Polymarket CLOB integration into the "one reference venue
// adapter" spec.md §6 describes, reusable against any REST+WS venue
// that speaks a similar shape.
package adapters

import (
	"context"
	"sync"
	"time"
)

// TokenBucket implements a token-bucket rate limiter with continuous
// refill, kept near-verbatim from the teacher's internal/exchange/
// ratelimit.go — the shape needs no domain-specific change to serve any
// venue's published per-window rate limits.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	rate     float64
	lastTime time.Time
}

// NewTokenBucket creates a rate limiter with the given burst capacity
// and refill rate (tokens per second).
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(tb.lastTime).Seconds()
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTime = now

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// RateLimiter groups token buckets by REST endpoint category, the
// generalized form of the teacher's Polymarket-specific Order/Cancel/
// Book buckets: any venue's published limits map onto these three
// categories (order placement, cancellation, market-data reads).
type RateLimiter struct {
	Order  *TokenBucket
	Cancel *TokenBucket
	Query  *TokenBucket
}

// NewRateLimiter builds a RateLimiter from per-category burst/refill
// pairs, taking the venue's published limits as parameters rather than
// hardcoding Polymarket's numbers.
func NewRateLimiter(orderBurst, orderRate, cancelBurst, cancelRate, queryBurst, queryRate float64) *RateLimiter {
	return &RateLimiter{
		Order:  NewTokenBucket(orderBurst, orderRate),
		Cancel: NewTokenBucket(cancelBurst, cancelRate),
		Query:  NewTokenBucket(queryBurst, queryRate),
	}
}

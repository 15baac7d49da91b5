package merchant

import (
	"context"
	"sync"
	"time"
)

// RateLimiter paces outbound remote calls with a token bucket per action, so
// a backfill hammering the analytics actions cannot starve batch syncs and
// vice versa. This is independent of the daily quota: the quota bounds total
// volume, the limiter bounds instantaneous rate.
type RateLimiter struct {
	buckets map[string]*tokenBucket
	mu      sync.RWMutex
	config  RateLimitConfig
}

// RateLimitConfig holds per-action rate limits.
type RateLimitConfig struct {
	// Default rate limit (requests per second)
	DefaultRPS int
	// Burst size (maximum requests that can be made at once)
	DefaultBurst int
	// Custom limits per action
	ActionLimits map[string]ActionLimit
}

// ActionLimit defines the rate limit for a specific remote action.
type ActionLimit struct {
	RPS   int
	Burst int
}

// DefaultRateLimitConfig returns limits matching the remote platform's
// published guidance.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		DefaultRPS:   5,
		DefaultBurst: 10,
		ActionLimits: map[string]ActionLimit{
			// Batch pushes carry large payloads; the remote throttles them hard.
			"gmc_products_batch": {RPS: 1, Burst: 2},
			// Paginated analytics reads tolerate a faster page cadence.
			"gmc_analytics_products": {RPS: 5, Burst: 10},
			"gmc_analytics_pricing":  {RPS: 5, Burst: 10},
		},
	}
}

// tokenBucket implements the token bucket algorithm.
type tokenBucket struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	mu         sync.Mutex
}

func newTokenBucket(rps, burst int) *tokenBucket {
	return &tokenBucket{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: float64(rps),
		lastRefill: time.Now(),
	}
}

// take attempts to take a token from the bucket.
// Returns the time to wait if no tokens are available.
func (tb *tokenBucket) take() time.Duration {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	tb.tokens += elapsed * tb.refillRate
	if tb.tokens > tb.maxTokens {
		tb.tokens = tb.maxTokens
	}
	tb.lastRefill = now

	if tb.tokens >= 1 {
		tb.tokens--
		return 0
	}

	deficit := 1 - tb.tokens
	waitSeconds := deficit / tb.refillRate
	return time.Duration(waitSeconds * float64(time.Second))
}

// NewRateLimiter creates a rate limiter with the given configuration.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*tokenBucket),
		config:  config,
	}
}

// Wait blocks until a call for the given action may proceed. Returns an
// error only if the context is cancelled while waiting.
func (rl *RateLimiter) Wait(ctx context.Context, action string) error {
	bucket := rl.getBucket(action)
	waitTime := bucket.take()
	if waitTime == 0 {
		return nil
	}

	timer := time.NewTimer(waitTime)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (rl *RateLimiter) getBucket(action string) *tokenBucket {
	rl.mu.RLock()
	bucket, exists := rl.buckets[action]
	rl.mu.RUnlock()
	if exists {
		return bucket
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if bucket, exists = rl.buckets[action]; exists {
		return bucket
	}

	rps, burst := rl.config.DefaultRPS, rl.config.DefaultBurst
	if limit, ok := rl.config.ActionLimits[action]; ok {
		rps, burst = limit.RPS, limit.Burst
	}
	bucket = newTokenBucket(rps, burst)
	rl.buckets[action] = bucket
	return bucket
}

package relay

import (
	"math"
	"sync"
	"time"
)

// RateLimiterConfig holds token-bucket tunables (§4.9, §6 defaults).
type RateLimiterConfig struct {
	MaxTokens      int32
	RefillInterval time.Duration
	RefillAmount   int32
}

// DefaultRateLimiterConfig returns the §6-documented defaults: 100 max
// tokens, 1s refill interval, 10 tokens per refill.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{MaxTokens: 100, RefillInterval: time.Second, RefillAmount: 10}
}

type bucket struct {
	tokens     int32
	lastRefill time.Time
}

// RateLimiter is a classic per-peer token bucket (§4.9). Hand-rolled rather
// than golang.org/x/time/rate because the spec's exact discrete
// floor(elapsed/refill_interval) refill semantics and zero-token, non-
// destructive probe don't map onto x/time/rate's continuous model.
type RateLimiter struct {
	cfg RateLimiterConfig

	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewRateLimiter constructs an empty RateLimiter.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	return &RateLimiter{cfg: cfg, buckets: make(map[string]*bucket)}
}

// TryConsume refills peer's bucket by floor(elapsed/refill_interval)*refill_amount
// (capped at max_tokens), then attempts to subtract tokens. tokens=0 is a
// non-destructive probe. Buckets are created lazily at max capacity (§4.9).
func (r *RateLimiter) TryConsume(peer string, tokens int32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.buckets[peer]
	now := time.Now()
	if !ok {
		b = &bucket{tokens: r.cfg.MaxTokens, lastRefill: now}
		r.buckets[peer] = b
	} else {
		elapsed := now.Sub(b.lastRefill)
		periods := int32(math.Floor(elapsed.Seconds() / r.cfg.RefillInterval.Seconds()))
		if periods > 0 {
			b.tokens += periods * r.cfg.RefillAmount
			if b.tokens > r.cfg.MaxTokens {
				b.tokens = r.cfg.MaxTokens
			}
			b.lastRefill = b.lastRefill.Add(time.Duration(periods) * r.cfg.RefillInterval)
		}
	}

	if tokens == 0 {
		return b.tokens > 0
	}
	if b.tokens >= tokens {
		b.tokens -= tokens
		return true
	}
	return false
}

package webhooks

import (
	"sync"
	"time"
)

// RateLimiter implements token bucket rate limiting per endpoint
type RateLimiter struct {
	buckets      map[string]*TokenBucket
	mutex        sync.Mutex
	maxTokens    int
	refillPeriod time.Duration
	now          func() time.Time
}

// TokenBucket represents a token bucket for rate limiting
type TokenBucket struct {
	tokens       int
	maxTokens    int
	refillPeriod time.Duration
	lastRefill   time.Time
	mutex        sync.Mutex
}

// NewRateLimiter allows maxRequests per endpoint, refilling one token
// every period
func NewRateLimiter(maxRequests int, period time.Duration) *RateLimiter {
	return &RateLimiter{
		buckets:      make(map[string]*TokenBucket),
		maxTokens:    maxRequests,
		refillPeriod: period,
		now:          time.Now,
	}
}

// Allow checks if a request is allowed for the given endpoint
func (rl *RateLimiter) Allow(key string) bool {
	now := rl.now()

	rl.mutex.Lock()
	bucket, exists := rl.buckets[key]
	if !exists {
		bucket = &TokenBucket{
			tokens:       rl.maxTokens,
			maxTokens:    rl.maxTokens,
			refillPeriod: rl.refillPeriod,
			lastRefill:   now,
		}
		rl.buckets[key] = bucket
	}
	rl.mutex.Unlock()

	return bucket.take(now)
}

func (tb *TokenBucket) take(now time.Time) bool {
	tb.mutex.Lock()
	defer tb.mutex.Unlock()

	if elapsed := now.Sub(tb.lastRefill); elapsed >= tb.refillPeriod {
		periods := int(elapsed / tb.refillPeriod)
		tb.tokens = min(tb.tokens+periods, tb.maxTokens)
		tb.lastRefill = tb.lastRefill.Add(time.Duration(periods) * tb.refillPeriod)
	}

	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

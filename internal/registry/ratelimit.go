package registry

import (
	"sync"
	"time"
)

// RateLimiter bounds per-client request rates using token buckets.
// The credential endpoints use it keyed by client IP to slow down
// password guessing.
type RateLimiter struct {
	mu      sync.RWMutex
	buckets map[string]*tokenBucket
	limit   int
	period  time.Duration
}

type tokenBucket struct {
	mu         sync.Mutex
	tokens     int
	lastRefill time.Time
}

// NewRateLimiter creates a rate limiter allowing limit requests per
// period for each key
func NewRateLimiter(limit int, period time.Duration) *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*tokenBucket),
		limit:   limit,
		period:  period,
	}
}

// Allow reports whether a request for the given key may proceed,
// consuming a token when it does
func (rl *RateLimiter) Allow(key string) bool {
	bucket := rl.getBucket(key)

	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(bucket.lastRefill)

	if elapsed >= rl.period {
		bucket.tokens = rl.limit
		bucket.lastRefill = now
	} else if tokensToAdd := int(elapsed.Nanoseconds() * int64(rl.limit) / rl.period.Nanoseconds()); tokensToAdd > 0 {
		bucket.tokens = min(bucket.tokens+tokensToAdd, rl.limit)
		bucket.lastRefill = now
	}

	if bucket.tokens > 0 {
		bucket.tokens--
		return true
	}
	return false
}

func (rl *RateLimiter) getBucket(key string) *tokenBucket {
	rl.mu.RLock()
	bucket, ok := rl.buckets[key]
	rl.mu.RUnlock()
	if ok {
		return bucket
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if bucket, ok := rl.buckets[key]; ok {
		return bucket
	}

	bucket = &tokenBucket{tokens: rl.limit, lastRefill: time.Now()}
	rl.buckets[key] = bucket
	return bucket
}

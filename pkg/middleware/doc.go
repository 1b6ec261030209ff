// Package middleware provides the API's traffic controls: per-caller rate
// limiting and idempotent replay of retried POSTs.
//
// # Rate Limiting
//
// RateLimit keys callers by X-User-ID, or by client IP for anonymous
// requests. Two Limiter implementations exist:
//
//	limiter := middleware.NewRateLimiter(middleware.DefaultRateLimitConfig())
//	limiter := middleware.NewDistributedRateLimiter(redisClient, cfg, "")
//
// The in-process limiter is a token bucket holding RequestsPerWindow plus
// BurstSize tokens. The Redis limiter is a fixed-window counter shared by
// every instance. Both set X-RateLimit-Limit and X-RateLimit-Remaining;
// rejected requests get 429 with Retry-After.
//
// # Idempotency
//
//	cache := middleware.NewIdempotencyCache(10000, 24*time.Hour)
//	router.Use(cache.Middleware)
//
// A POST retried with the same Idempotency-Key by the same user replays
// the first response with Idempotent-Replayed: true instead of deducting
// credits twice.
package middleware

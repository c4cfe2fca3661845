// Package ratelimit throttles API requests per client address with token
// buckets and reports the bucket state in X-RateLimit-* response headers.
package ratelimit

import "time"

// Limiter defines the rate limiting contract. Implementations must be safe for
// concurrent use.
type Limiter interface {
	// Allow reports whether one more request for key fits in its bucket,
	// along with the state used for the response headers.
	Allow(key string) (allowed bool, info Info)

	// Close stops background goroutines and releases resources.
	Close()
}

// Info contains rate limit state for populating response headers.
type Info struct {
	Limit      int           // Maximum requests per minute
	Remaining  int           // Whole tokens left after this request
	ResetAt    time.Time     // When the bucket will be full again
	RetryAfter time.Duration // Wait before the next token; set only when denied
}

package ratelimit

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"keyhub/internal/logger"
	"keyhub/internal/models"
)

// KeyFunc names the bucket a request draws from. An empty key bypasses
// the limiter.
type KeyFunc func(r *http.Request) string

// Middleware enforces limiter per key and always sets the X-RateLimit-*
// headers. Denied requests get a 429 JSON error with Retry-After.
func Middleware(limiter Limiter, keyFunc KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			allowed, info := limiter.Allow(key)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(info.ResetAt.Unix(), 10))

			if !allowed {
				retryAfterSecs := int(info.RetryAfter.Seconds()) + 1
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSecs))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)

				errorResp := models.NewErrorResponse("rate limit exceeded", models.ErrorCodeRateLimitExceeded)
				errorResp.RequestID = logger.RequestID(r.Context())
				_ = json.NewEncoder(w).Encode(errorResp)

				slog.Warn("Rate limit exceeded",
					"address", logger.AddressFingerprint(key),
					"limit", info.Limit,
					"retry_after", retryAfterSecs,
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

package api

import (
	"net/http"

	"keyhub/internal/clientip"
	"keyhub/internal/models"
	"keyhub/internal/ratelimit"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
)

// RouteOption configures optional route behavior.
type RouteOption func(*mux.Router)

// probePaths are served without tracing or rate limiting.
var probePaths = map[string]bool{
	"/health":           true,
	"/api/health":       true,
	"/api/openapi.yaml": true,
	"/api/docs":         true,
}

// WithOTelMiddleware adds OpenTelemetry HTTP instrumentation middleware.
func WithOTelMiddleware(serviceName string) RouteOption {
	return func(r *mux.Router) {
		r.Use(otelmux.Middleware(serviceName,
			otelmux.WithFilter(func(r *http.Request) bool {
				return !probePaths[r.URL.Path]
			}),
		))
	}
}

// WithRateLimiter adds rate limiting middleware to the router.
func WithRateLimiter(middleware func(http.Handler) http.Handler) RouteOption {
	return func(r *mux.Router) {
		r.Use(middleware)
	}
}

// RateLimitKey buckets requests by resolved client address. Probe paths
// are exempt.
func RateLimitKey(resolver *clientip.Resolver) ratelimit.KeyFunc {
	return func(r *http.Request) string {
		if probePaths[r.URL.Path] {
			return ""
		}
		return resolver.Address(r)
	}
}

// SetupRoutes configures the HTTP routes for the API. Every operation is
// served under /api and again at the root for older clients.
func SetupRoutes(handlers *Handlers, config *models.Config, opts ...RouteOption) *mux.Router {
	router := mux.NewRouter()

	base := []mux.MiddlewareFunc{requestIDMiddleware, recoveryMiddleware, loggingMiddleware}
	if config.Server.CORS.Enabled {
		base = append(base, corsMiddleware(config.Server.CORS))
	}
	router.Use(base...)

	for _, opt := range opts {
		opt(router)
	}

	for _, prefix := range []string{"/api", ""} {
		router.HandleFunc(prefix+"/get-key", handlers.AllocateKey).Methods(http.MethodPost)
		router.HandleFunc(prefix+"/verify-key", handlers.VerifyKey).Methods(http.MethodPost)
		router.HandleFunc(prefix+"/key-count", handlers.KeyCount).Methods(http.MethodGet)
		router.HandleFunc(prefix+"/usage-stats", handlers.UsageStats).Methods(http.MethodGet)
	}

	router.HandleFunc("/health", handlers.HealthCheck).Methods(http.MethodGet)
	router.HandleFunc("/api/health", handlers.HealthCheck).Methods(http.MethodGet)
	router.HandleFunc("/api/openapi.yaml", handlers.ServeOpenAPISpec).Methods(http.MethodGet)
	router.HandleFunc("/api/docs", handlers.ServeSwaggerUI).Methods(http.MethodGet)

	// Router middleware only wraps matched routes, so the fallbacks get
	// the base chain applied by hand.
	fallback := chain(http.HandlerFunc(notFoundHandler), base)
	router.NotFoundHandler = fallback
	router.MethodNotAllowedHandler = fallback

	return router
}

func chain(h http.Handler, middlewares []mux.MiddlewareFunc) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

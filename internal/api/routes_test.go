package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"keyhub/internal/clientip"
	"keyhub/internal/models"
	"keyhub/internal/ratelimit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newRoutedService() *MockService {
	svc := &MockService{}
	svc.On("AllocateKey", mock.Anything, mock.Anything).Return(&models.AllocationResponse{Key: "sk-k", TodayUsage: 1}, nil)
	svc.On("VerifyKey", mock.Anything, mock.Anything).Return(&models.VerificationResponse{VerifyCount: 1}, nil)
	svc.On("KeyCount", mock.Anything).Return(&models.KeyCountResponse{Count: 3}, nil)
	svc.On("UsageStats", mock.Anything).Return(&models.UsageStatsResponse{}, nil)
	svc.On("Health", mock.Anything).Return(models.NewHealthCheckResponse(models.StatusHealthy))
	return svc
}

func TestSetupRoutes_PrefixedAndAliases(t *testing.T) {
	router := SetupRoutes(NewHandlers(newRoutedService(), nil, false), models.NewDefaultConfig())

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/get-key"},
		{http.MethodPost, "/get-key"},
		{http.MethodPost, "/api/verify-key"},
		{http.MethodPost, "/verify-key"},
		{http.MethodGet, "/api/key-count"},
		{http.MethodGet, "/key-count"},
		{http.MethodGet, "/api/usage-stats"},
		{http.MethodGet, "/usage-stats"},
		{http.MethodGet, "/health"},
		{http.MethodGet, "/api/health"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
			assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
		})
	}
}

func TestSetupRoutes_NotFound(t *testing.T) {
	router := SetupRoutes(NewHandlers(newRoutedService(), nil, false), models.NewDefaultConfig())

	tests := []struct {
		name   string
		method string
		path   string
	}{
		{"unknown path", http.MethodGet, "/api/nothing"},
		{"wrong method", http.MethodGet, "/api/get-key"},
		{"wrong method on alias", http.MethodDelete, "/key-count"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))

			assert.Equal(t, http.StatusNotFound, rec.Code)
			errResp := decodeError(t, rec)
			assert.Equal(t, "not found", errResp.Error)
			assert.Equal(t, models.ErrorCodeNotFound, errResp.Code)
			assert.NotEmpty(t, errResp.RequestID)
			assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestSetupRoutes_Preflight(t *testing.T) {
	router := SetupRoutes(NewHandlers(newRoutedService(), nil, false), models.NewDefaultConfig())

	for _, path := range []string{"/api/get-key", "/verify-key", "/api/key-count"} {
		t.Run(path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, path, nil))

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Empty(t, rec.Body.String())
			assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestSetupRoutes_CORSDisabled(t *testing.T) {
	cfg := models.NewDefaultConfig()
	cfg.Server.CORS.Enabled = false
	router := SetupRoutes(NewHandlers(newRoutedService(), nil, false), cfg)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/key-count", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestSetupRoutes_WithRateLimiter(t *testing.T) {
	resolver := clientip.NewResolver(nil)
	limiter := ratelimit.NewMemoryLimiter(1, 1, 0)
	t.Cleanup(limiter.Close)

	router := SetupRoutes(NewHandlers(newRoutedService(), resolver, false), models.NewDefaultConfig(),
		WithRateLimiter(ratelimit.Middleware(limiter, RateLimitKey(resolver))))

	serve := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	require.Equal(t, http.StatusOK, serve("/api/key-count").Code)

	denied := serve("/key-count")
	assert.Equal(t, http.StatusTooManyRequests, denied.Code)
	assert.NotEmpty(t, denied.Header().Get("Retry-After"))

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, serve("/health").Code, "probes are not limited")
	}
}

func TestRateLimitKey(t *testing.T) {
	key := RateLimitKey(clientip.NewResolver(nil))

	assert.Empty(t, key(httptest.NewRequest(http.MethodGet, "/health", nil)))
	assert.Empty(t, key(httptest.NewRequest(http.MethodGet, "/api/openapi.yaml", nil)))
	assert.Equal(t, "192.0.2.1", key(httptest.NewRequest(http.MethodPost, "/api/get-key", nil)))
}

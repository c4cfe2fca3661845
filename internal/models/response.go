// Package models - API response types and error handling.
// Every endpoint answers with one of these JSON shapes; field names follow
// the wire format existing clients already consume (camelCase).
package models

import (
	"time"
)

// AllocationResponse is returned by a successful key allocation.
type AllocationResponse struct {
	Key        string `json:"key"`
	TodayUsage int    `json:"todayUsage"`
}

// VerificationResponse reports the outcome of a key check. A failed check is
// still a 200 response; IsValid carries the outcome.
type VerificationResponse struct {
	IsValid     bool    `json:"isValid"`
	Message     string  `json:"message,omitempty"`
	Balance     *string `json:"balance,omitempty"`
	VerifyCount int     `json:"verifyCount"`
}

type KeyCountResponse struct {
	Count int `json:"count"`
}

// UsageStatsResponse mirrors the stored usage document as-is.
type UsageStatsResponse struct {
	Date        string `json:"date"`
	Count       int    `json:"count"`
	VerifyCount int    `json:"verifyCount"`
}

// ErrorResponse is the body of every non-2xx response. Error carries the
// human-readable message so clients that only read {error} keep working.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Code      string    `json:"code,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

type HealthCheckResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
	Metrics    map[string]interface{}     `json:"metrics,omitempty"`
}

type ComponentHealth struct {
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Health Status Constants
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusDegraded  = "degraded"
)

// Error codes, upper-case with underscores.
const (
	ErrorCodeNotFound          = "NOT_FOUND"           // 404: unknown route
	ErrorCodeMissingAddress    = "MISSING_ADDRESS"     // 400: no client address
	ErrorCodeMissingKey        = "MISSING_KEY"         // 400: no key to verify
	ErrorCodeBadRequest        = "BAD_REQUEST"         // 400: unreadable body
	ErrorCodeAlreadyClaimed    = "ALREADY_CLAIMED"     // 403: address already received a key
	ErrorCodePoolExhausted     = "POOL_EXHAUSTED"      // 404: no keys left
	ErrorCodeInternalError     = "INTERNAL_ERROR"      // 500: store or unexpected failure
	ErrorCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED" // 429
)

func NewErrorResponse(message string, code string) *ErrorResponse {
	return &ErrorResponse{
		Error:     message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

func NewHealthCheckResponse(status string) *HealthCheckResponse {
	return &HealthCheckResponse{
		Status:     status,
		Timestamp:  time.Now(),
		Components: make(map[string]ComponentHealth),
		Metrics:    make(map[string]interface{}),
	}
}

func (h *HealthCheckResponse) AddComponent(name, status, message string) {
	h.Components[name] = ComponentHealth{
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	}
	if status != StatusHealthy {
		h.Status = StatusDegraded
	}
}

func (h *HealthCheckResponse) AddMetric(name string, value interface{}) {
	h.Metrics[name] = value
}

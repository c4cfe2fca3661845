package dispense

import (
	"context"

	"keyhub/internal/models"
)

// ServiceInterface defines the operations exposed over HTTP
type ServiceInterface interface {
	// AllocateKey admits addr through the gate and hands it one key
	AllocateKey(ctx context.Context, addr string) (*models.AllocationResponse, error)

	// VerifyKey checks a candidate key and counts the attempt
	VerifyKey(ctx context.Context, key string) (*models.VerificationResponse, error)

	// KeyCount returns the number of keys left in the pool
	KeyCount(ctx context.Context) (*models.KeyCountResponse, error)

	// UsageStats returns the stored usage record without rolling it over
	UsageStats(ctx context.Context) (*models.UsageStatsResponse, error)

	// Health reports store reachability and pool size
	Health(ctx context.Context) *models.HealthCheckResponse
}

// Ensure Service implements ServiceInterface
var _ ServiceInterface = (*Service)(nil)

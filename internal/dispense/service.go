// Package dispense ties the gate, the allocator, usage accounting and the
// verifier together into the operations served over HTTP.
package dispense

import (
	"context"
	"errors"
	"log/slog"

	"keyhub/internal/gate"
	"keyhub/internal/logger"
	"keyhub/internal/models"
	"keyhub/internal/pool"
	"keyhub/internal/usage"
	"keyhub/internal/verify"
)

// Pinger reports whether the document store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Service implements ServiceInterface.
type Service struct {
	gate      *gate.Gate
	allocator *pool.Allocator
	verifier  *verify.Verifier
	usage     *usage.Accountant
	store     Pinger
}

// NewService creates a new dispense service
func NewService(g *gate.Gate, allocator *pool.Allocator, verifier *verify.Verifier, accountant *usage.Accountant, store Pinger) *Service {
	return &Service{
		gate:      g,
		allocator: allocator,
		verifier:  verifier,
		usage:     accountant,
		store:     store,
	}
}

// AllocateKey runs the gate first. A denied address never reaches the pool;
// an admitted address stays recorded even when the pool turns out empty.
func (s *Service) AllocateKey(ctx context.Context, addr string) (*models.AllocationResponse, error) {
	// Store mutations complete even if the client goes away.
	ctx = context.WithoutCancel(ctx)
	fingerprint := logger.AddressFingerprint(addr)

	decision, err := s.gate.CheckAndRecord(ctx, addr)
	if err != nil {
		return nil, NewInternalError("internal server error", err)
	}
	if !decision.Allowed {
		slog.Warn("Key allocation denied",
			"event", "key_audit",
			"address", fingerprint,
			"reason", decision.Reason.Error())

		switch {
		case errors.Is(decision.Reason, gate.ErrMissingAddress):
			return nil, NewValidationError(models.ErrorCodeMissingAddress, "missing address", decision.Reason)
		case errors.Is(decision.Reason, gate.ErrAlreadyClaimed):
			return nil, NewPolicyDeniedError("already claimed", decision.Reason)
		default:
			return nil, NewInternalError("internal server error", decision.Reason)
		}
	}

	allocation, err := s.allocator.Allocate(ctx)
	if err != nil {
		if errors.Is(err, pool.ErrPoolExhausted) {
			slog.Warn("Key pool exhausted", "event", "key_audit", "address", fingerprint)
			return nil, NewExhaustedError("pool exhausted", err)
		}
		return nil, NewInternalError("internal server error", err)
	}

	slog.Info("Key allocated",
		"event", "key_audit",
		"address", fingerprint,
		"key_suffix", verify.KeySuffix(allocation.Key),
		"today_usage", allocation.TodayUsage)

	return &models.AllocationResponse{
		Key:        allocation.Key,
		TodayUsage: allocation.TodayUsage,
	}, nil
}

func (s *Service) VerifyKey(ctx context.Context, key string) (*models.VerificationResponse, error) {
	ctx = context.WithoutCancel(ctx)

	result, err := s.verifier.Verify(ctx, key)
	if err != nil {
		if errors.Is(err, verify.ErrKeyRequired) {
			return nil, NewValidationError(models.ErrorCodeMissingKey, "key required", err)
		}
		return nil, NewInternalError("internal server error", err)
	}

	return &models.VerificationResponse{
		IsValid:     result.Valid,
		Message:     result.Message,
		Balance:     result.Balance,
		VerifyCount: result.VerifyCount,
	}, nil
}

func (s *Service) KeyCount(ctx context.Context) (*models.KeyCountResponse, error) {
	count, err := s.allocator.Count(ctx)
	if err != nil {
		return nil, NewInternalError("internal server error", err)
	}
	return &models.KeyCountResponse{Count: count}, nil
}

func (s *Service) UsageStats(ctx context.Context) (*models.UsageStatsResponse, error) {
	record, err := s.usage.Stats(ctx)
	if err != nil {
		return nil, NewInternalError("internal server error", err)
	}
	return &models.UsageStatsResponse{
		Date:        record.Date,
		Count:       record.Count,
		VerifyCount: record.VerifyCount,
	}, nil
}

func (s *Service) Health(ctx context.Context) *models.HealthCheckResponse {
	response := models.NewHealthCheckResponse(models.StatusHealthy)

	if err := s.store.Ping(ctx); err != nil {
		response.AddComponent("storage", models.StatusUnhealthy, err.Error())
		response.Status = models.StatusUnhealthy
		return response
	}
	response.AddComponent("storage", models.StatusHealthy, "Storage is operational")

	count, err := s.allocator.Count(ctx)
	if err != nil {
		response.AddComponent("pool", models.StatusUnhealthy, err.Error())
		return response
	}
	if count == 0 {
		response.AddComponent("pool", models.StatusDegraded, "Key pool is empty")
	} else {
		response.AddComponent("pool", models.StatusHealthy, "Keys available")
	}
	response.AddMetric("pool_size", count)

	return response
}

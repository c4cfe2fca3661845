package observability

import (
	"context"
	"errors"
	"testing"

	"keyhub/internal/dispense"
	"keyhub/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) AllocateKey(ctx context.Context, addr string) (*models.AllocationResponse, error) {
	args := m.Called(ctx, addr)
	resp, _ := args.Get(0).(*models.AllocationResponse)
	return resp, args.Error(1)
}

func (m *MockService) VerifyKey(ctx context.Context, key string) (*models.VerificationResponse, error) {
	args := m.Called(ctx, key)
	resp, _ := args.Get(0).(*models.VerificationResponse)
	return resp, args.Error(1)
}

func (m *MockService) KeyCount(ctx context.Context) (*models.KeyCountResponse, error) {
	args := m.Called(ctx)
	resp, _ := args.Get(0).(*models.KeyCountResponse)
	return resp, args.Error(1)
}

func (m *MockService) UsageStats(ctx context.Context) (*models.UsageStatsResponse, error) {
	args := m.Called(ctx)
	resp, _ := args.Get(0).(*models.UsageStatsResponse)
	return resp, args.Error(1)
}

func (m *MockService) Health(ctx context.Context) *models.HealthCheckResponse {
	args := m.Called(ctx)
	return args.Get(0).(*models.HealthCheckResponse)
}

func TestInstrumentedService_AllocationOutcomes(t *testing.T) {
	tel := newTelemetry(t)
	inner := new(MockService)
	inner.On("AllocateKey", mock.Anything, "1.1.1.1").Return(&models.AllocationResponse{Key: "sk-1", TodayUsage: 1}, nil)
	inner.On("AllocateKey", mock.Anything, "").Return(nil, dispense.NewValidationError(models.ErrorCodeMissingAddress, "missing address", nil))
	inner.On("AllocateKey", mock.Anything, "2.2.2.2").Return(nil, dispense.NewPolicyDeniedError("already claimed", nil))
	inner.On("AllocateKey", mock.Anything, "3.3.3.3").Return(nil, dispense.NewExhaustedError("pool exhausted", nil))
	inner.On("AllocateKey", mock.Anything, "4.4.4.4").Return(nil, errors.New("unexpected"))

	svc, err := newInstrumentedService(inner, tel.tp, tel.mp)
	require.NoError(t, err)

	ctx := context.Background()
	resp, err := svc.AllocateKey(ctx, "1.1.1.1")
	require.NoError(t, err)
	assert.Equal(t, "sk-1", resp.Key)

	for _, addr := range []string{"", "2.2.2.2", "3.3.3.3", "4.4.4.4"} {
		_, err := svc.AllocateKey(ctx, addr)
		assert.Error(t, err)
	}

	for _, outcome := range []string{OutcomeAllocated, OutcomeMissingAddress, OutcomeAlreadyClaimed, OutcomeExhausted, OutcomeError} {
		assert.Equal(t, int64(1), tel.counter(t, "keyhub.allocations", "outcome", outcome), outcome)
	}
	assert.Len(t, tel.spans.Ended(), 5)
	inner.AssertExpectations(t)
}

func TestInstrumentedService_VerificationOutcomes(t *testing.T) {
	tel := newTelemetry(t)
	inner := new(MockService)
	inner.On("VerifyKey", mock.Anything, "good").Return(&models.VerificationResponse{IsValid: true, VerifyCount: 1}, nil)
	inner.On("VerifyKey", mock.Anything, "bad").Return(&models.VerificationResponse{IsValid: false, Message: "invalid format", VerifyCount: 2}, nil)
	inner.On("VerifyKey", mock.Anything, "").Return(nil, dispense.NewValidationError(models.ErrorCodeMissingKey, "key required", nil))

	svc, err := newInstrumentedService(inner, tel.tp, tel.mp)
	require.NoError(t, err)

	ctx := context.Background()
	for _, key := range []string{"good", "bad", "bad", ""} {
		_, _ = svc.VerifyKey(ctx, key)
	}

	assert.Equal(t, int64(1), tel.counter(t, "keyhub.verifications", "outcome", OutcomeValid))
	assert.Equal(t, int64(2), tel.counter(t, "keyhub.verifications", "outcome", OutcomeInvalid))
	assert.Equal(t, int64(1), tel.counter(t, "keyhub.verifications", "outcome", OutcomeMissingKey))
}

func TestInstrumentedService_PassThrough(t *testing.T) {
	tel := newTelemetry(t)
	inner := new(MockService)
	inner.On("KeyCount", mock.Anything).Return(&models.KeyCountResponse{Count: 7}, nil)
	inner.On("UsageStats", mock.Anything).Return(&models.UsageStatsResponse{Date: "2026-10-01", Count: 2}, nil)
	inner.On("Health", mock.Anything).Return(models.NewHealthCheckResponse(models.StatusHealthy))

	svc, err := newInstrumentedService(inner, tel.tp, tel.mp)
	require.NoError(t, err)
	ctx := context.Background()

	count, err := svc.KeyCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, count.Count)

	stats, err := svc.UsageStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Count)

	assert.Equal(t, models.StatusHealthy, svc.Health(ctx).Status)
	assert.Equal(t, []string{"dispense.KeyCount", "dispense.UsageStats"}, tel.spanNames())
}

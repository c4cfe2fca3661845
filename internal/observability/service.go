package observability

import (
	"context"
	"errors"
	"time"

	"keyhub/internal/dispense"
	"keyhub/internal/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Outcome labels attached to the allocation and verification counters.
const (
	OutcomeAllocated      = "allocated"
	OutcomeMissingAddress = "missing_address"
	OutcomeAlreadyClaimed = "already_claimed"
	OutcomeExhausted      = "exhausted"
	OutcomeValid          = "valid"
	OutcomeInvalid        = "invalid"
	OutcomeMissingKey     = "missing_key"
	OutcomeError          = "error"
)

// InstrumentedService counts allocations and verifications by outcome and
// traces every dispense operation.
type InstrumentedService struct {
	inner         dispense.ServiceInterface
	tracer        trace.Tracer
	duration      metric.Float64Histogram
	allocations   metric.Int64Counter
	verifications metric.Int64Counter
}

var _ dispense.ServiceInterface = (*InstrumentedService)(nil)

func NewInstrumentedService(inner dispense.ServiceInterface) (*InstrumentedService, error) {
	return newInstrumentedService(inner, otel.GetTracerProvider(), otel.GetMeterProvider())
}

func newInstrumentedService(inner dispense.ServiceInterface, tp trace.TracerProvider, mp metric.MeterProvider) (*InstrumentedService, error) {
	meter := mp.Meter(instrumentationName + "/dispense")

	duration, err := meter.Float64Histogram(
		"keyhub.operation.duration",
		metric.WithDescription("Duration of dispense operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	allocations, err := meter.Int64Counter(
		"keyhub.allocations",
		metric.WithDescription("Key allocation requests by outcome"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	verifications, err := meter.Int64Counter(
		"keyhub.verifications",
		metric.WithDescription("Key verification requests by outcome"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedService{
		inner:         inner,
		tracer:        tp.Tracer(instrumentationName + "/dispense"),
		duration:      duration,
		allocations:   allocations,
		verifications: verifications,
	}, nil
}

func (s *InstrumentedService) finish(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	s.duration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("operation", operation)))

	var svcErr *dispense.ServiceError
	switch {
	case err == nil:
		span.SetStatus(codes.Ok, "")
	case errors.As(err, &svcErr) && svcErr.StatusCode < 500:
		// Client errors are expected outcomes, not span failures.
		span.SetAttributes(attribute.String("keyhub.error_code", svcErr.Code))
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *InstrumentedService) AllocateKey(ctx context.Context, addr string) (*models.AllocationResponse, error) {
	ctx, span := s.tracer.Start(ctx, "dispense.AllocateKey")
	start := time.Now()
	resp, err := s.inner.AllocateKey(ctx, addr)
	s.finish(ctx, span, "AllocateKey", start, err)

	s.allocations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", allocationOutcome(err))))
	return resp, err
}

func (s *InstrumentedService) VerifyKey(ctx context.Context, key string) (*models.VerificationResponse, error) {
	ctx, span := s.tracer.Start(ctx, "dispense.VerifyKey")
	start := time.Now()
	resp, err := s.inner.VerifyKey(ctx, key)
	s.finish(ctx, span, "VerifyKey", start, err)

	outcome := OutcomeError
	switch {
	case err == nil && resp.IsValid:
		outcome = OutcomeValid
	case err == nil:
		outcome = OutcomeInvalid
	case errorCode(err) == models.ErrorCodeMissingKey:
		outcome = OutcomeMissingKey
	}
	s.verifications.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	return resp, err
}

func (s *InstrumentedService) KeyCount(ctx context.Context) (*models.KeyCountResponse, error) {
	ctx, span := s.tracer.Start(ctx, "dispense.KeyCount")
	start := time.Now()
	resp, err := s.inner.KeyCount(ctx)
	s.finish(ctx, span, "KeyCount", start, err)
	return resp, err
}

func (s *InstrumentedService) UsageStats(ctx context.Context) (*models.UsageStatsResponse, error) {
	ctx, span := s.tracer.Start(ctx, "dispense.UsageStats")
	start := time.Now()
	resp, err := s.inner.UsageStats(ctx)
	s.finish(ctx, span, "UsageStats", start, err)
	return resp, err
}

func (s *InstrumentedService) Health(ctx context.Context) *models.HealthCheckResponse {
	return s.inner.Health(ctx)
}

func allocationOutcome(err error) string {
	if err == nil {
		return OutcomeAllocated
	}
	switch errorCode(err) {
	case models.ErrorCodeMissingAddress:
		return OutcomeMissingAddress
	case models.ErrorCodeAlreadyClaimed:
		return OutcomeAlreadyClaimed
	case models.ErrorCodePoolExhausted:
		return OutcomeExhausted
	default:
		return OutcomeError
	}
}

func errorCode(err error) string {
	var svcErr *dispense.ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Code
	}
	return ""
}

package observability

import (
	"context"
	"errors"
	"time"

	"keyhub/internal/storage"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentedStorage wraps a storage.Storage with a span, a latency
// histogram sample and, on failure, an error count per operation.
type InstrumentedStorage struct {
	inner    storage.Storage
	tracer   trace.Tracer
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

var _ storage.Storage = (*InstrumentedStorage)(nil)

// NewInstrumentedStorage instruments inner using the global providers.
func NewInstrumentedStorage(inner storage.Storage) (*InstrumentedStorage, error) {
	return newInstrumentedStorage(inner, otel.GetTracerProvider(), otel.GetMeterProvider())
}

func newInstrumentedStorage(inner storage.Storage, tp trace.TracerProvider, mp metric.MeterProvider) (*InstrumentedStorage, error) {
	meter := mp.Meter(instrumentationName + "/storage")

	duration, err := meter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Duration of storage operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"storage.operation.errors",
		metric.WithDescription("Number of storage operation errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedStorage{
		inner:    inner,
		tracer:   tp.Tracer(instrumentationName + "/storage"),
		duration: duration,
		errors:   errCounter,
	}, nil
}

func (s *InstrumentedStorage) startSpan(ctx context.Context, operation, document string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{attribute.String("storage.operation", operation)}
	if document != "" {
		attrs = append(attrs, attribute.String("storage.document", document))
	}
	return s.tracer.Start(ctx, "storage."+operation, trace.WithAttributes(attrs...))
}

// record ends span and feeds the histogram and error counter.
func (s *InstrumentedStorage) record(ctx context.Context, span trace.Span, operation, document string, start time.Time, err error) {
	elapsed := time.Since(start).Seconds()
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("document", document),
	)

	s.duration.Record(ctx, elapsed, attrs)

	if err != nil {
		s.errors.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

func (s *InstrumentedStorage) Load(ctx context.Context, name string) ([]byte, error) {
	ctx, span := s.startSpan(ctx, "Load", name)
	start := time.Now()
	data, err := s.inner.Load(ctx, name)
	// A missing document is the normal first-read path.
	recorded := err
	if errors.Is(err, storage.ErrDocumentNotFound) {
		recorded = nil
	}
	s.record(ctx, span, "Load", name, start, recorded)
	return data, err
}

func (s *InstrumentedStorage) Save(ctx context.Context, name string, data []byte) error {
	ctx, span := s.startSpan(ctx, "Save", name)
	start := time.Now()
	err := s.inner.Save(ctx, name, data)
	s.record(ctx, span, "Save", name, start, err)
	return err
}

func (s *InstrumentedStorage) Update(ctx context.Context, name string, fn storage.UpdateFunc) error {
	ctx, span := s.startSpan(ctx, "Update", name)
	start := time.Now()
	err := s.inner.Update(ctx, name, fn)
	s.record(ctx, span, "Update", name, start, err)
	return err
}

func (s *InstrumentedStorage) Ping(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "Ping", "")
	start := time.Now()
	err := s.inner.Ping(ctx)
	s.record(ctx, span, "Ping", "", start, err)
	return err
}

func (s *InstrumentedStorage) Close() error {
	return s.inner.Close()
}

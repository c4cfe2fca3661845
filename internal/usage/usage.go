// Package usage maintains the daily allocation and verification counters.
//
// The usage document always describes a single calendar day. Any write that
// finds a record dated before today first zeroes both counters and moves the
// date forward, then applies its own increment.
package usage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"keyhub/internal/models"
	"keyhub/internal/storage"
)

// Clock supplies the current time; tests inject a fixed one.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in a fixed location.
type SystemClock struct {
	Location *time.Location
}

func (c SystemClock) Now() time.Time {
	if c.Location == nil {
		return time.Now()
	}
	return time.Now().In(c.Location)
}

// Accountant records allocations and verifications against the usage document.
type Accountant struct {
	docs  *storage.Documents
	clock Clock
}

// NewAccountant creates an Accountant. docs should be built with the same
// clock so freshly created records carry the right date.
func NewAccountant(docs *storage.Documents, clock Clock) *Accountant {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Accountant{docs: docs, clock: clock}
}

// RecordAllocation increments today's allocation count and returns it.
func (a *Accountant) RecordAllocation(ctx context.Context) (int, error) {
	var count int
	err := a.apply(ctx, func(record *models.UsageRecord) {
		record.Count++
		count = record.Count
	})
	if err != nil {
		return 0, fmt.Errorf("failed to record allocation: %w", err)
	}
	return count, nil
}

// RecordVerification increments today's verification count and returns it.
func (a *Accountant) RecordVerification(ctx context.Context) (int, error) {
	var count int
	err := a.apply(ctx, func(record *models.UsageRecord) {
		record.VerifyCount++
		count = record.VerifyCount
	})
	if err != nil {
		return 0, fmt.Errorf("failed to record verification: %w", err)
	}
	return count, nil
}

// Stats returns the stored record without rolling it over, so a record
// from a previous day is reported as stored.
func (a *Accountant) Stats(ctx context.Context) (models.UsageRecord, error) {
	record, err := a.docs.Usage(ctx)
	if err != nil {
		return models.UsageRecord{}, fmt.Errorf("failed to read usage: %w", err)
	}
	return record, nil
}

// Rollover resets the record when it belongs to a previous day. It returns
// the record that was replaced and whether a reset happened.
func (a *Accountant) Rollover(ctx context.Context) (models.UsageRecord, bool, error) {
	var (
		previous models.UsageRecord
		reset    bool
	)
	now := a.clock.Now()
	err := a.docs.UpdateUsage(ctx, func(record *models.UsageRecord) error {
		if record.IsCurrent(now) {
			return storage.ErrUnchanged
		}
		previous = *record
		reset = true
		*record = models.NewUsageRecord(now)
		return nil
	})
	if err != nil {
		return models.UsageRecord{}, false, fmt.Errorf("failed to roll over usage: %w", err)
	}
	return previous, reset, nil
}

// apply rolls the record forward to today if needed, then runs fn.
func (a *Accountant) apply(ctx context.Context, fn func(record *models.UsageRecord)) error {
	now := a.clock.Now()
	return a.docs.UpdateUsage(ctx, func(record *models.UsageRecord) error {
		if !record.IsCurrent(now) {
			slog.Debug("Usage day changed", "previous_date", record.Date, "date", now.Format(models.DateLayout))
			*record = models.NewUsageRecord(now)
		}
		fn(record)
		return nil
	})
}

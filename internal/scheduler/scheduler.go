// Package scheduler runs the daily usage rollover on a cron schedule, so the
// usage record shows the new day even when no traffic arrives.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"keyhub/internal/models"

	"github.com/robfig/cron/v3"
)

// jobTimeout bounds a single rollover run.
const jobTimeout = 30 * time.Second

// Roller resets the usage record when its date is stale.
type Roller interface {
	Rollover(ctx context.Context) (models.UsageRecord, bool, error)
}

type Scheduler struct {
	roller Roller
	c      *cron.Cron
	spec   string
}

// New validates spec (standard five-field cron or a descriptor such as
// @midnight) and schedules it in loc. Nothing runs until Start.
func New(roller Roller, spec string, loc *time.Location) (*Scheduler, error) {
	if loc == nil {
		loc = time.Local
	}
	s := &Scheduler{
		roller: roller,
		c:      cron.New(cron.WithLocation(loc), cron.WithChain(cron.Recover(cron.DefaultLogger))),
		spec:   spec,
	}
	if _, err := s.c.AddFunc(spec, s.run); err != nil {
		return nil, fmt.Errorf("invalid rollover schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.c.Start()
	slog.Info("Usage rollover scheduled", "schedule", s.spec, "next", s.Next())
}

// Stop halts scheduling and waits for a running job, up to ctx's deadline.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.c.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		slog.Warn("Rollover job still running at shutdown")
	}
}

// Next returns the time of the next scheduled run, zero before Start.
func (s *Scheduler) Next() time.Time {
	entries := s.c.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// RunOnce performs a rollover immediately.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	previous, reset, err := s.roller.Rollover(ctx)
	if err != nil {
		return err
	}
	if reset {
		slog.Info("Usage rolled over",
			"previous_date", previous.Date,
			"allocations", previous.Count,
			"verifications", previous.VerifyCount)
	}
	return nil
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	if err := s.RunOnce(ctx); err != nil {
		slog.Error("Usage rollover failed", "error", err)
	}
}

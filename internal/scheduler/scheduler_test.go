package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"keyhub/internal/models"
	"keyhub/internal/storage"
	"keyhub/internal/usage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRoller struct {
	calls atomic.Int32
	err   error
}

func (f *fakeRoller) Rollover(ctx context.Context) (models.UsageRecord, bool, error) {
	f.calls.Add(1)
	if f.err != nil {
		return models.UsageRecord{}, false, f.err
	}
	return models.UsageRecord{Date: "2026-07-09", Count: 3}, true, nil
}

func TestNew_InvalidSpec(t *testing.T) {
	_, err := New(&fakeRoller{}, "not a schedule", time.UTC)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid rollover schedule")
}

func TestNew_AcceptsDescriptorsAndFields(t *testing.T) {
	for _, spec := range []string{"@midnight", "@daily", "0 0 * * *", "30 4 * * *"} {
		t.Run(spec, func(t *testing.T) {
			_, err := New(&fakeRoller{}, spec, nil)
			assert.NoError(t, err)
		})
	}
}

func TestRunOnce(t *testing.T) {
	roller := &fakeRoller{}
	s, err := New(roller, "@midnight", time.UTC)
	require.NoError(t, err)

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, int32(1), roller.calls.Load())

	roller.err = errors.New("store down")
	assert.ErrorIs(t, s.RunOnce(context.Background()), roller.err)
}

func TestStartStop_NextRunInLocation(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	s, err := New(&fakeRoller{}, "@midnight", loc)
	require.NoError(t, err)

	s.Start()
	next := s.Next()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)

	require.False(t, next.IsZero())
	local := next.In(loc)
	assert.Equal(t, 0, local.Hour())
	assert.Equal(t, 0, local.Minute())
	assert.True(t, next.After(time.Now()))
}

func TestRunOnce_ResetsStaleUsage(t *testing.T) {
	store, err := storage.NewMemoryStorage(storage.Config{})
	require.NoError(t, err)
	now := time.Date(2026, 7, 10, 0, 0, 1, 0, time.UTC)
	clock := usage.SystemClock{Location: time.UTC}
	docs := storage.NewDocuments(store, func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, docs.UpdateUsage(ctx, func(r *models.UsageRecord) error {
		*r = models.UsageRecord{Date: "2000-01-01", Count: 7, VerifyCount: 2}
		return nil
	}))

	s, err := New(usage.NewAccountant(docs, clock), "@midnight", time.UTC)
	require.NoError(t, err)
	require.NoError(t, s.RunOnce(ctx))

	record, err := docs.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, time.Now().In(time.UTC).Format(models.DateLayout), record.Date)
	assert.Zero(t, record.Count)
	assert.Zero(t, record.VerifyCount)
}

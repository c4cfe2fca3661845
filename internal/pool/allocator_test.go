package pool

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"keyhub/internal/models"
	"keyhub/internal/storage"
	"keyhub/internal/usage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type failingRecorder struct{}

func (failingRecorder) RecordAllocation(ctx context.Context) (int, error) {
	return 0, errors.New("usage unavailable")
}

func newTestAllocator(t *testing.T, keys []string, pick Picker) (*Allocator, *storage.Documents) {
	t.Helper()
	store, err := storage.NewMemoryStorage(storage.Config{})
	require.NoError(t, err)
	clock := fixedClock{t: time.Date(2026, 9, 1, 10, 0, 0, 0, time.Local)}
	docs := storage.NewDocuments(store, clock.Now)
	if keys != nil {
		_, err := docs.SeedKeys(context.Background(), keys)
		require.NoError(t, err)
	}
	return NewAllocator(docs, usage.NewAccountant(docs, clock), pick), docs
}

func TestAllocate_RemovesExactlyOne(t *testing.T) {
	alloc, docs := newTestAllocator(t, []string{"sk-a", "sk-b", "sk-c"}, func(n int) int { return 1 })
	ctx := context.Background()

	got, err := alloc.Allocate(ctx)
	require.NoError(t, err)
	assert.Equal(t, Allocation{Key: "sk-b", TodayUsage: 1}, got)

	keys, err := docs.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"sk-a", "sk-c"}, keys)

	stats, err := docs.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Count)
}

func TestAllocate_Exhausted(t *testing.T) {
	alloc, docs := newTestAllocator(t, []string{"sk-only"}, nil)
	ctx := context.Background()

	got, err := alloc.Allocate(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sk-only", got.Key)

	_, err = alloc.Allocate(ctx)
	assert.ErrorIs(t, err, ErrPoolExhausted)

	count, err := alloc.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	stats, err := docs.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Count, "failed allocation is not counted")
}

func TestAllocate_MissingPoolDocument(t *testing.T) {
	alloc, docs := newTestAllocator(t, nil, nil)
	ctx := context.Background()

	_, err := alloc.Allocate(ctx)
	assert.ErrorIs(t, err, ErrPoolExhausted)

	count, err := alloc.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	data, err := docs.Store().Load(ctx, models.DocumentKeys)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(data))
}

func TestAllocate_UsageFailureSurfaces(t *testing.T) {
	store, err := storage.NewMemoryStorage(storage.Config{})
	require.NoError(t, err)
	docs := storage.NewDocuments(store, time.Now)
	_, err = docs.SeedKeys(context.Background(), []string{"sk-a"})
	require.NoError(t, err)

	alloc := NewAllocator(docs, failingRecorder{}, nil)
	_, err = alloc.Allocate(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrPoolExhausted)
}

func TestAllocate_ConcurrentNoDuplicates(t *testing.T) {
	const n = 30
	keys := make([]string, n)
	for i := range keys {
		keys[i] = fmt.Sprintf("sk-%02d", i)
	}
	alloc, _ := newTestAllocator(t, keys, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make(chan Allocation, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, err := alloc.Allocate(ctx)
			assert.NoError(t, err)
			results <- a
		}()
	}
	wg.Wait()
	close(results)

	seenKeys := make(map[string]bool)
	seenCounts := make(map[int]bool)
	for a := range results {
		assert.False(t, seenKeys[a.Key], "key %s handed out twice", a.Key)
		seenKeys[a.Key] = true
		seenCounts[a.TodayUsage] = true
	}
	assert.Len(t, seenKeys, n)
	assert.Len(t, seenCounts, n)

	count, err := alloc.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestAllocate_BadPicker(t *testing.T) {
	alloc, docs := newTestAllocator(t, []string{"sk-a"}, func(n int) int { return n })
	_, err := alloc.Allocate(context.Background())
	require.Error(t, err)

	keys, err := docs.Keys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"sk-a"}, keys)
}

func TestContains(t *testing.T) {
	alloc, _ := newTestAllocator(t, []string{"sk-a", "sk-b"}, nil)
	ctx := context.Background()

	ok, err := alloc.Contains(ctx, "sk-a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = alloc.Contains(ctx, "sk-z")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLoadSeedFile(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		want    []string
		wantErr bool
	}{
		{"json array", `["sk-1", "sk-2"]`, []string{"sk-1", "sk-2"}, false},
		{"json with bom", "\xEF\xBB\xBF[\"sk-1\"]", []string{"sk-1"}, false},
		{"lines", "# pool\nsk-1\n\n  sk-2  \n#sk-3\n", []string{"sk-1", "sk-2"}, false},
		{"bad json", `["sk-1",`, nil, true},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, fmt.Sprintf("seed-%d", i))
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0600))

			got, err := LoadSeedFile(path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := LoadSeedFile(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestMergeSeeds(t *testing.T) {
	got := MergeSeeds([]string{"sk-1", " sk-2 ", ""}, []string{"sk-2", "sk-3"}, nil)
	assert.Equal(t, []string{"sk-1", "sk-2", "sk-3"}, got)
	assert.Equal(t, []string{}, MergeSeeds())
}

func TestSeed(t *testing.T) {
	_, docs := newTestAllocator(t, nil, nil)
	ctx := context.Background()

	created, err := Seed(ctx, docs, []string{"sk-1"})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = Seed(ctx, docs, []string{"sk-2"})
	require.NoError(t, err)
	assert.False(t, created)

	keys, err := docs.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"sk-1"}, keys)
}

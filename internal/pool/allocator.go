// Package pool hands out keys from the key pool document.
package pool

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"

	"keyhub/internal/storage"
)

// ErrPoolExhausted is returned when no keys are left.
var ErrPoolExhausted = errors.New("pool exhausted")

// Picker returns an index in [0, n). rand.IntN is the default.
type Picker func(n int) int

// UsageRecorder is the part of usage accounting the allocator needs.
type UsageRecorder interface {
	RecordAllocation(ctx context.Context) (int, error)
}

// Allocation is a key removed from the pool together with today's
// allocation count after this allocation.
type Allocation struct {
	Key        string
	TodayUsage int
}

// Allocator removes keys uniformly at random from the pool.
type Allocator struct {
	docs  *storage.Documents
	usage UsageRecorder
	pick  Picker

	// mu spans the pool update and the usage increment so the reported
	// count always corresponds to this allocation within the process.
	mu sync.Mutex
}

func NewAllocator(docs *storage.Documents, usage UsageRecorder, pick Picker) *Allocator {
	if pick == nil {
		pick = rand.IntN
	}
	return &Allocator{docs: docs, usage: usage, pick: pick}
}

// Allocate removes one key from the pool and records the allocation. A
// failure to record usage after the key was removed is returned as an error
// together with nothing else; the key is already gone from the pool.
func (a *Allocator) Allocate(ctx context.Context) (Allocation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var key string
	err := a.docs.UpdateKeys(ctx, func(keys []string) ([]string, error) {
		if len(keys) == 0 {
			return nil, ErrPoolExhausted
		}
		i := a.pick(len(keys))
		if i < 0 || i >= len(keys) {
			return nil, fmt.Errorf("picker returned index %d for pool of %d", i, len(keys))
		}
		key = keys[i]
		return slices.Delete(slices.Clone(keys), i, i+1), nil
	})
	if err != nil {
		if errors.Is(err, ErrPoolExhausted) {
			return Allocation{}, ErrPoolExhausted
		}
		return Allocation{}, fmt.Errorf("failed to remove key from pool: %w", err)
	}

	count, err := a.usage.RecordAllocation(ctx)
	if err != nil {
		return Allocation{}, fmt.Errorf("key removed but allocation not counted: %w", err)
	}

	return Allocation{Key: key, TodayUsage: count}, nil
}

// Count returns the number of keys left.
func (a *Allocator) Count(ctx context.Context) (int, error) {
	keys, err := a.docs.Keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read key pool: %w", err)
	}
	return len(keys), nil
}

// Contains reports whether key is still in the pool.
func (a *Allocator) Contains(ctx context.Context, key string) (bool, error) {
	keys, err := a.docs.Keys(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read key pool: %w", err)
	}
	return slices.Contains(keys, key), nil
}

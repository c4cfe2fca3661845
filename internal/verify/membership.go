package verify

import (
	"context"
)

// PoolLookup reports whether a key is still unissued.
type PoolLookup interface {
	Contains(ctx context.Context, key string) (bool, error)
}

// PoolChecker is the offline mode: a key is valid while it is in the pool.
type PoolChecker struct {
	pool PoolLookup
}

func NewPoolChecker(pool PoolLookup) *PoolChecker {
	return &PoolChecker{pool: pool}
}

func (p *PoolChecker) Check(ctx context.Context, key string) (Outcome, error) {
	found, err := p.pool.Contains(ctx, key)
	if err != nil {
		return Outcome{}, err
	}
	if !found {
		return Outcome{Message: "key not found"}, nil
	}
	return Outcome{Valid: true, Message: "key is valid"}, nil
}

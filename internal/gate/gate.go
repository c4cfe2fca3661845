// Package gate enforces that each client address receives at most one key.
// Ledger entries are written once and never updated or removed.
package gate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"keyhub/internal/models"
	"keyhub/internal/storage"
	"keyhub/internal/usage"
)

var (
	ErrMissingAddress = errors.New("missing address")
	ErrAlreadyClaimed = errors.New("already claimed")
)

// Decision is the outcome of CheckAndRecord.
type Decision struct {
	Allowed bool
	// Reason is set when Allowed is false; it wraps one of the sentinel errors.
	Reason error
}

// Gate checks and records client addresses in the ip_records document.
type Gate struct {
	docs  *storage.Documents
	clock usage.Clock
}

func New(docs *storage.Documents, clock usage.Clock) *Gate {
	if clock == nil {
		clock = usage.SystemClock{}
	}
	return &Gate{docs: docs, clock: clock}
}

// CheckAndRecord admits addr once. The lookup and the insert happen inside
// one atomic update of the ledger, so two concurrent calls for the same
// address cannot both be allowed.
func (g *Gate) CheckAndRecord(ctx context.Context, addr string) (Decision, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return Decision{Reason: ErrMissingAddress}, nil
	}

	now := g.clock.Now()
	claimed := false
	err := g.docs.UpdateIPLedger(ctx, func(ledger *models.IPLedger) error {
		if ledger.Has(addr) {
			claimed = true
			return storage.ErrUnchanged
		}
		ledger.Records[addr] = models.IPRecord{
			Timestamp: now.UTC(),
			Date:      now.Format(models.DateLayout),
		}
		return nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("failed to update ip ledger: %w", err)
	}

	if claimed {
		return Decision{Reason: ErrAlreadyClaimed}, nil
	}
	return Decision{Allowed: true}, nil
}

// Claimed reports whether addr already has a ledger entry.
func (g *Gate) Claimed(ctx context.Context, addr string) (bool, error) {
	ledger, err := g.docs.IPLedger(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read ip ledger: %w", err)
	}
	return ledger.Has(strings.TrimSpace(addr)), nil
}

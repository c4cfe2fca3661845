package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"keyhub/internal/models"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Documents is a typed view over the keys, usage and ip_records documents.
// Every read materializes and persists the document default when the
// document does not exist yet.
type Documents struct {
	store Storage
	now   func() time.Time
}

// NewDocuments wraps a Storage backend. now supplies the date used for a
// freshly created usage record; nil means time.Now.
func NewDocuments(store Storage, now func() time.Time) *Documents {
	if now == nil {
		now = time.Now
	}
	return &Documents{store: store, now: now}
}

// Store returns the underlying backend.
func (d *Documents) Store() Storage {
	return d.store
}

// Keys returns the current key pool.
func (d *Documents) Keys(ctx context.Context) ([]string, error) {
	keys, err := load(ctx, d.store, models.DocumentKeys, emptyKeys)
	if err != nil {
		return nil, err
	}
	if keys == nil {
		keys = []string{}
	}
	return keys, nil
}

// UpdateKeys atomically replaces the key pool with the result of fn.
func (d *Documents) UpdateKeys(ctx context.Context, fn func(keys []string) ([]string, error)) error {
	return mutate(ctx, d.store, models.DocumentKeys, emptyKeys, func(keys *[]string) error {
		if *keys == nil {
			*keys = []string{}
		}
		next, err := fn(*keys)
		if err != nil {
			return err
		}
		if next == nil {
			next = []string{}
		}
		*keys = next
		return nil
	})
}

// SeedKeys creates the keys document from seed when it does not exist.
// An existing pool is never touched, even when it is empty.
func (d *Documents) SeedKeys(ctx context.Context, seed []string) (created bool, err error) {
	err = d.store.Update(ctx, models.DocumentKeys, func(current []byte, exists bool) ([]byte, error) {
		if exists {
			return nil, ErrUnchanged
		}
		created = true
		keys := append([]string{}, seed...)
		return encode(keys)
	})
	if err != nil {
		return false, fmt.Errorf("failed to seed keys: %w", err)
	}
	return created, nil
}

// Usage returns the stored usage record as-is, without any rollover.
func (d *Documents) Usage(ctx context.Context) (models.UsageRecord, error) {
	return load(ctx, d.store, models.DocumentUsage, d.newUsage)
}

// UpdateUsage atomically modifies the usage record.
func (d *Documents) UpdateUsage(ctx context.Context, fn func(record *models.UsageRecord) error) error {
	return mutate(ctx, d.store, models.DocumentUsage, d.newUsage, fn)
}

// IPLedger returns every recorded client address.
func (d *Documents) IPLedger(ctx context.Context) (models.IPLedger, error) {
	ledger, err := load(ctx, d.store, models.DocumentIPRecords, models.NewIPLedger)
	if err != nil {
		return models.IPLedger{}, err
	}
	if ledger.Records == nil {
		ledger.Records = make(map[string]models.IPRecord)
	}
	return ledger, nil
}

// UpdateIPLedger atomically modifies the ledger.
func (d *Documents) UpdateIPLedger(ctx context.Context, fn func(ledger *models.IPLedger) error) error {
	return mutate(ctx, d.store, models.DocumentIPRecords, models.NewIPLedger, func(ledger *models.IPLedger) error {
		if ledger.Records == nil {
			ledger.Records = make(map[string]models.IPRecord)
		}
		return fn(ledger)
	})
}

func (d *Documents) newUsage() models.UsageRecord {
	return models.NewUsageRecord(d.now())
}

func emptyKeys() []string {
	return []string{}
}

// load reads a document, creating it from def when it is absent. Stored
// content is decoded into a zero value, so fields missing from it stay
// empty instead of taking their defaults.
func load[T any](ctx context.Context, s Storage, name string, def func() T) (T, error) {
	data, err := s.Load(ctx, name)
	if errors.Is(err, ErrDocumentNotFound) {
		return create(ctx, s, name, def)
	}
	if err != nil {
		var zero T
		return zero, fmt.Errorf("failed to load %s: %w", name, err)
	}
	var value T
	if err := decode(name, data, &value); err != nil {
		var zero T
		return zero, err
	}
	return value, nil
}

// create persists def() unless another writer created the document first,
// in which case that content is returned.
func create[T any](ctx context.Context, s Storage, name string, def func() T) (T, error) {
	var result T
	err := s.Update(ctx, name, func(current []byte, exists bool) ([]byte, error) {
		if exists {
			var stored T
			if err := decode(name, current, &stored); err != nil {
				return nil, err
			}
			result = stored
			return nil, ErrUnchanged
		}
		result = def()
		return encode(result)
	})
	if err != nil {
		var zero T
		return zero, fmt.Errorf("failed to create %s: %w", name, err)
	}
	return result, nil
}

func mutate[T any](ctx context.Context, s Storage, name string, def func() T, fn func(*T) error) error {
	return s.Update(ctx, name, func(current []byte, exists bool) ([]byte, error) {
		var value T
		if exists {
			if err := decode(name, current, &value); err != nil {
				return nil, err
			}
		} else {
			value = def()
		}
		if err := fn(&value); err != nil {
			return nil, err
		}
		return encode(value)
	})
}

// decode strips a leading byte order mark before parsing.
func decode[T any](name string, data []byte, into *T) error {
	data = bytes.TrimPrefix(data, utf8BOM)
	if err := json.Unmarshal(data, into); err != nil {
		return &CorruptDocumentError{Name: name, Err: err}
	}
	return nil
}

func encode(value interface{}) ([]byte, error) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return data, nil
}

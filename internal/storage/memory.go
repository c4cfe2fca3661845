package storage

import (
	"context"
	"errors"
	"sync"
)

// MemoryStorage holds documents in process memory. It is intended for
// tests, local development and the admin CLI's dry runs.
type MemoryStorage struct {
	mu        sync.RWMutex
	documents map[string][]byte
}

// NewMemoryStorage creates an empty in-memory store.
func NewMemoryStorage(config Config) (*MemoryStorage, error) {
	return &MemoryStorage{
		documents: make(map[string][]byte),
	}, nil
}

func (m *MemoryStorage) Load(ctx context.Context, name string) ([]byte, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.documents[name]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	return clone(data), nil
}

func (m *MemoryStorage) Save(ctx context.Context, name string, data []byte) error {
	if err := validateName(name); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.documents[name] = clone(data)
	return nil
}

// Update holds the store-wide lock for the duration of fn.
func (m *MemoryStorage) Update(ctx context.Context, name string, fn UpdateFunc) error {
	if err := validateName(name); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.documents[name]
	next, err := fn(clone(current), exists)
	if errors.Is(err, ErrUnchanged) {
		return nil
	}
	if err != nil {
		return err
	}

	m.documents[name] = clone(next)
	return nil
}

func (m *MemoryStorage) Ping(ctx context.Context) error {
	return nil
}

func (m *MemoryStorage) Close() error {
	return nil
}

func clone(data []byte) []byte {
	if data == nil {
		return nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out
}

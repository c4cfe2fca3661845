package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// JSONStorage keeps one JSON file per document under a directory. Files are
// re-read on every call; nothing is cached between calls. Writers of the
// same document are serialized by a per-document lock and every write goes
// through a temp file and rename, so readers never observe a partial file.
type JSONStorage struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

// NewJSONStorage creates a new JSON-based storage rooted at config.Path.
func NewJSONStorage(config Config) (*JSONStorage, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("path is required for JSON storage")
	}

	if err := os.MkdirAll(config.Path, 0700); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	return &JSONStorage{
		dir:   config.Path,
		locks: make(map[string]*sync.RWMutex),
	}, nil
}

// lockFor returns the lock guarding a single document.
func (j *JSONStorage) lockFor(name string) *sync.RWMutex {
	j.mu.Lock()
	defer j.mu.Unlock()
	l, ok := j.locks[name]
	if !ok {
		l = &sync.RWMutex{}
		j.locks[name] = l
	}
	return l
}

func (j *JSONStorage) filePath(name string) string {
	return filepath.Join(j.dir, name+".json")
}

// Load reads a document file.
func (j *JSONStorage) Load(ctx context.Context, name string) ([]byte, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	l := j.lockFor(name)
	l.RLock()
	defer l.RUnlock()

	data, _, err := j.read(name)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, ErrDocumentNotFound
	}
	return data, nil
}

// Save writes a document file.
func (j *JSONStorage) Save(ctx context.Context, name string, data []byte) error {
	if err := validateName(name); err != nil {
		return err
	}
	l := j.lockFor(name)
	l.Lock()
	defer l.Unlock()

	return j.write(name, data)
}

// Update performs a read-modify-write under the document's write lock.
func (j *JSONStorage) Update(ctx context.Context, name string, fn UpdateFunc) error {
	if err := validateName(name); err != nil {
		return err
	}
	l := j.lockFor(name)
	l.Lock()
	defer l.Unlock()

	current, exists, err := j.read(name)
	if err != nil {
		return err
	}

	next, err := fn(current, exists)
	if errors.Is(err, ErrUnchanged) {
		return nil
	}
	if err != nil {
		return err
	}

	return j.write(name, next)
}

// read returns the file content; exists is false when the file is missing.
func (j *JSONStorage) read(name string) ([]byte, bool, error) {
	data, err := os.ReadFile(j.filePath(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return data, true, nil
}

// write replaces the document file atomically.
func (j *JSONStorage) write(name string, data []byte) error {
	tmp, err := os.CreateTemp(j.dir, "."+name+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", name, err)
	}

	if err := os.Rename(tmpName, j.filePath(name)); err != nil {
		return fmt.Errorf("failed to replace %s: %w", name, err)
	}
	return nil
}

// Ping checks that the document directory is still accessible.
func (j *JSONStorage) Ping(ctx context.Context) error {
	info, err := os.Stat(j.dir)
	if err != nil {
		return fmt.Errorf("storage directory unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("storage path %s is not a directory", j.dir)
	}
	return nil
}

// Close is a no-op; JSONStorage holds no open handles.
func (j *JSONStorage) Close() error {
	return nil
}

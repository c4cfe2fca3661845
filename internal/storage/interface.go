package storage

import (
	"context"
	"time"
)

// UpdateFunc receives the current raw content of a document (nil and
// exists=false when the document has never been written) and returns the
// content to persist. Returning ErrUnchanged aborts the update without a
// write; any other error aborts it and is returned to the caller.
type UpdateFunc func(current []byte, exists bool) ([]byte, error)

// Storage persists named whole documents. Implementations serialize Update
// calls per document so that the read-modify-write in fn is atomic with
// respect to every other writer of the same document.
type Storage interface {
	// Load returns the raw content of a document or ErrDocumentNotFound.
	Load(ctx context.Context, name string) ([]byte, error)

	// Save replaces a document unconditionally.
	Save(ctx context.Context, name string, data []byte) error

	// Update performs an atomic read-modify-write of a single document.
	Update(ctx context.Context, name string, fn UpdateFunc) error

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases connections and file handles.
	Close() error
}

// Config holds configuration for storage backends
type Config struct {
	// Type specifies the storage backend type (json, memory, sqlite, ...)
	Type string `json:"type" yaml:"type"`

	// Path is the document directory for the json backend
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// ConnectionString is used for database backends
	ConnectionString string `json:"connection_string,omitempty" yaml:"connection_string,omitempty"`

	// Table overrides the documents table name for database backends
	Table string `json:"table,omitempty" yaml:"table,omitempty"`

	MaxOpenConns    int           `json:"max_open_conns,omitempty" yaml:"max_open_conns,omitempty"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime,omitempty" yaml:"conn_max_lifetime,omitempty"`

	Redis     RedisOptions     `json:"redis,omitempty" yaml:"redis,omitempty"`
	Firestore FirestoreOptions `json:"firestore,omitempty" yaml:"firestore,omitempty"`

	// Additional options for specific backends
	Options map[string]interface{} `json:"options,omitempty" yaml:"options,omitempty"`
}

type RedisOptions struct {
	Addr      string `json:"addr,omitempty" yaml:"addr,omitempty"`
	Password  string `json:"password,omitempty" yaml:"password,omitempty"`
	DB        int    `json:"db,omitempty" yaml:"db,omitempty"`
	PoolSize  int    `json:"pool_size,omitempty" yaml:"pool_size,omitempty"`
	KeyPrefix string `json:"key_prefix,omitempty" yaml:"key_prefix,omitempty"`
}

type FirestoreOptions struct {
	ProjectID       string `json:"project_id,omitempty" yaml:"project_id,omitempty"`
	Collection      string `json:"collection,omitempty" yaml:"collection,omitempty"`
	CredentialsFile string `json:"credentials_file,omitempty" yaml:"credentials_file,omitempty"`
}

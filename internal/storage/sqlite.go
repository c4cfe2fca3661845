package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sync"

	_ "modernc.org/sqlite"
)

const defaultTable = "keyhub_documents"

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// SQLiteStorage stores each document as a row in a single table. SQLite
// allows one writer at a time, so Update is serialized in-process as well
// as by the transaction.
type SQLiteStorage struct {
	db    *sql.DB
	table string
	mu    sync.Mutex
}

// NewSQLiteStorage opens the database and creates the documents table.
func NewSQLiteStorage(config Config) (*SQLiteStorage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for SQLite storage")
	}

	table, err := tableName(config.Table)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	schema := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		name TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`, table)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStorage{db: db, table: table}, nil
}

func (ss *SQLiteStorage) Load(ctx context.Context, name string) ([]byte, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	var data []byte
	err := ss.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT data FROM %s WHERE name = ?", ss.table), name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", name, err)
	}
	return data, nil
}

func (ss *SQLiteStorage) Save(ctx context.Context, name string, data []byte) error {
	if err := validateName(name); err != nil {
		return err
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if _, err := ss.db.ExecContext(ctx, ss.upsertSQL(), name, data); err != nil {
		return fmt.Errorf("failed to save %s: %w", name, err)
	}
	return nil
}

func (ss *SQLiteStorage) Update(ctx context.Context, name string, fn UpdateFunc) error {
	if err := validateName(name); err != nil {
		return err
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()

	tx, err := ss.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current []byte
	exists := true
	err = tx.QueryRowContext(ctx,
		fmt.Sprintf("SELECT data FROM %s WHERE name = ?", ss.table), name).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		exists = false
	} else if err != nil {
		return fmt.Errorf("failed to load %s: %w", name, err)
	}

	next, err := fn(current, exists)
	if errors.Is(err, ErrUnchanged) {
		return nil
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, ss.upsertSQL(), name, next); err != nil {
		return fmt.Errorf("failed to save %s: %w", name, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s: %w", name, err)
	}
	return nil
}

func (ss *SQLiteStorage) upsertSQL() string {
	return fmt.Sprintf(`INSERT INTO %s (name, data, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`, ss.table)
}

func (ss *SQLiteStorage) Ping(ctx context.Context) error {
	return ss.db.PingContext(ctx)
}

// Close closes the storage connection
func (ss *SQLiteStorage) Close() error {
	return ss.db.Close()
}

// tableName validates a configured table name before it is interpolated
// into SQL.
func tableName(name string) (string, error) {
	if name == "" {
		return defaultTable, nil
	}
	if !tableNamePattern.MatchString(name) {
		return "", fmt.Errorf("invalid table name %q", name)
	}
	return name, nil
}

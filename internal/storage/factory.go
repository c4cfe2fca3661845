package storage

import (
	"fmt"
	"keyhub/internal/models"
)

// Factory provides a centralized way to create storage instances based on configuration.
type Factory struct{}

// NewFactory creates a new storage factory
func NewFactory() *Factory {
	return &Factory{}
}

// Create instantiates a storage provider based on the provided configuration.
// Supported providers:
//   - json: one file per document in a directory
//   - memory: in-process map (tests/development)
//   - sqlite: single table in a SQLite database
//   - postgres: single table in PostgreSQL
//   - redis: one key per document
//   - firestore: one Firestore document per document
func (f *Factory) Create(config models.StorageConfig) (Storage, error) {
	if err := f.ValidateConfig(config); err != nil {
		return nil, err
	}

	storageConfig := NewConfig(config)

	var (
		store Storage
		err   error
	)
	switch config.Type {
	case models.StorageTypeJSON:
		store, err = NewJSONStorage(storageConfig)
	case models.StorageTypeMemory:
		store, err = NewMemoryStorage(storageConfig)
	case models.StorageTypePostgres:
		store, err = NewPostgresStorage(storageConfig)
	case models.StorageTypeSQLite:
		store, err = NewSQLiteStorage(storageConfig)
	case models.StorageTypeRedis:
		store, err = NewRedisStorage(storageConfig)
	case models.StorageTypeFirestore:
		store, err = NewFirestoreStorage(storageConfig)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", config.Type)
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}

// NewConfig converts the service configuration into backend options.
func NewConfig(config models.StorageConfig) Config {
	return Config{
		Type:             config.Type,
		Path:             config.Path,
		ConnectionString: config.Database.DSN,
		Table:            config.Database.Table,
		MaxOpenConns:     config.Database.MaxOpenConns,
		ConnMaxLifetime:  config.Database.ConnMaxLifetime,
		Redis: RedisOptions{
			Addr:      config.Redis.Addr,
			Password:  config.Redis.Password,
			DB:        config.Redis.DB,
			PoolSize:  config.Redis.PoolSize,
			KeyPrefix: config.Redis.KeyPrefix,
		},
		Firestore: FirestoreOptions{
			ProjectID:       config.Firestore.ProjectID,
			Collection:      config.Firestore.Collection,
			CredentialsFile: config.Firestore.CredentialsFile,
		},
		Options: convertOptions(config.Options),
	}
}

// GetSupportedProviders returns a list of all supported storage provider types
func (f *Factory) GetSupportedProviders() []string {
	return models.StorageTypes()
}

// ValidateConfig validates that a storage configuration is valid for its type
func (f *Factory) ValidateConfig(config models.StorageConfig) error {
	switch config.Type {
	case models.StorageTypeJSON:
		if config.Path == "" {
			return fmt.Errorf("path is required for JSON storage")
		}
	case models.StorageTypeMemory:
	case models.StorageTypePostgres, models.StorageTypeSQLite:
		if config.Database.DSN == "" {
			return fmt.Errorf("database DSN is required for %s storage", config.Type)
		}
	case models.StorageTypeRedis:
		if config.Redis.Addr == "" {
			return fmt.Errorf("address is required for redis storage")
		}
	case models.StorageTypeFirestore:
		if config.Firestore.ProjectID == "" {
			return fmt.Errorf("project ID is required for firestore storage")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", config.Type)
	}
	return nil
}

// convertOptions converts map[string]string to map[string]interface{}
func convertOptions(options map[string]string) map[string]interface{} {
	converted := make(map[string]interface{})
	for k, v := range options {
		converted[k] = v
	}
	return converted
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const defaultCollection = "keyhub_documents"

// FirestoreStorage stores each document in a Firestore document whose
// "data" field holds the raw JSON bytes. Update runs in a Firestore
// transaction, which the client retries on contention.
type FirestoreStorage struct {
	client     *firestore.Client
	collection string
}

type firestoreDocument struct {
	Data      []byte    `firestore:"data"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

// NewFirestoreStorage creates a Firestore client for the configured project.
// FIRESTORE_EMULATOR_HOST is honoured by the client library.
func NewFirestoreStorage(config Config) (*FirestoreStorage, error) {
	if config.Firestore.ProjectID == "" {
		return nil, fmt.Errorf("project ID is required for Firestore storage")
	}

	var opts []option.ClientOption
	if config.Firestore.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(config.Firestore.CredentialsFile))
	}

	client, err := firestore.NewClient(context.Background(), config.Firestore.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}

	return NewFirestoreStorageWithClient(client, config.Firestore.Collection), nil
}

// NewFirestoreStorageWithClient wraps an existing client.
func NewFirestoreStorageWithClient(client *firestore.Client, collection string) *FirestoreStorage {
	if collection == "" {
		collection = defaultCollection
	}
	return &FirestoreStorage{client: client, collection: collection}
}

func (fs *FirestoreStorage) doc(name string) *firestore.DocumentRef {
	return fs.client.Collection(fs.collection).Doc(name)
}

func (fs *FirestoreStorage) Load(ctx context.Context, name string) ([]byte, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	snap, err := fs.doc(name).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", name, err)
	}
	return decodeFirestore(name, snap)
}

func (fs *FirestoreStorage) Save(ctx context.Context, name string, data []byte) error {
	if err := validateName(name); err != nil {
		return err
	}
	_, err := fs.doc(name).Set(ctx, firestoreDocument{Data: data, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to save %s: %w", name, err)
	}
	return nil
}

func (fs *FirestoreStorage) Update(ctx context.Context, name string, fn UpdateFunc) error {
	if err := validateName(name); err != nil {
		return err
	}
	ref := fs.doc(name)

	err := fs.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var current []byte
		exists := true
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			exists = false
		} else if err != nil {
			return err
		} else if current, err = decodeFirestore(name, snap); err != nil {
			return err
		}

		next, err := fn(current, exists)
		if err != nil {
			return err
		}
		return tx.Set(ref, firestoreDocument{Data: next, UpdatedAt: time.Now().UTC()})
	})
	if errors.Is(err, ErrUnchanged) {
		return nil
	}
	return err
}

// Ping reads a sentinel document; NotFound still proves connectivity.
func (fs *FirestoreStorage) Ping(ctx context.Context) error {
	_, err := fs.client.Collection(fs.collection).Doc("_ping").Get(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return err
	}
	return nil
}

func (fs *FirestoreStorage) Close() error {
	return fs.client.Close()
}

func decodeFirestore(name string, snap *firestore.DocumentSnapshot) ([]byte, error) {
	var doc firestoreDocument
	if err := snap.DataTo(&doc); err != nil {
		return nil, &CorruptDocumentError{Name: name, Err: err}
	}
	return doc.Data, nil
}

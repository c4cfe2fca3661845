package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStorageContract exercises the behaviour every backend must share.
func runStorageContract(t *testing.T, newStore func(t *testing.T) Storage) {
	t.Run("load missing document", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Load(context.Background(), "missing_doc")
		assert.ErrorIs(t, err, ErrDocumentNotFound)
	})

	t.Run("save then load", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Save(ctx, "keys", []byte(`["sk-a","sk-b"]`)))

		data, err := s.Load(ctx, "keys")
		require.NoError(t, err)
		assert.JSONEq(t, `["sk-a","sk-b"]`, string(data))
	})

	t.Run("update creates document", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		err := s.Update(ctx, "usage", func(current []byte, exists bool) ([]byte, error) {
			assert.False(t, exists)
			assert.Nil(t, current)
			return []byte(`{"count":1}`), nil
		})
		require.NoError(t, err)

		data, err := s.Load(ctx, "usage")
		require.NoError(t, err)
		assert.JSONEq(t, `{"count":1}`, string(data))
	})

	t.Run("update sees current content", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Save(ctx, "usage", []byte(`{"count":1}`)))

		err := s.Update(ctx, "usage", func(current []byte, exists bool) ([]byte, error) {
			assert.True(t, exists)
			assert.JSONEq(t, `{"count":1}`, string(current))
			return []byte(`{"count":2}`), nil
		})
		require.NoError(t, err)

		data, err := s.Load(ctx, "usage")
		require.NoError(t, err)
		assert.JSONEq(t, `{"count":2}`, string(data))
	})

	t.Run("unchanged skips write", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		err := s.Update(ctx, "ip_records", func(current []byte, exists bool) ([]byte, error) {
			return nil, ErrUnchanged
		})
		require.NoError(t, err)

		_, err = s.Load(ctx, "ip_records")
		assert.ErrorIs(t, err, ErrDocumentNotFound)
	})

	t.Run("callback error aborts update", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Save(ctx, "keys", []byte(`["sk-a"]`)))

		boom := errors.New("boom")
		err := s.Update(ctx, "keys", func(current []byte, exists bool) ([]byte, error) {
			return nil, boom
		})
		assert.ErrorIs(t, err, boom)

		data, err := s.Load(ctx, "keys")
		require.NoError(t, err)
		assert.JSONEq(t, `["sk-a"]`, string(data))
	})

	t.Run("invalid document name", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		assert.Error(t, s.Save(ctx, "../escape", []byte(`{}`)))
		_, err := s.Load(ctx, "Bad Name")
		assert.Error(t, err)
	})

	t.Run("concurrent updates are serialized", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		const workers = 20

		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.Update(ctx, "counter", func(current []byte, exists bool) ([]byte, error) {
					n := 0
					if exists {
						var err error
						n, err = strconv.Atoi(string(current))
						if err != nil {
							return nil, err
						}
					}
					return []byte(fmt.Sprintf("%d", n+1)), nil
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		data, err := s.Load(ctx, "counter")
		require.NoError(t, err)
		assert.Equal(t, strconv.Itoa(workers), string(data))
	})

	t.Run("ping", func(t *testing.T) {
		s := newStore(t)
		assert.NoError(t, s.Ping(context.Background()))
	})
}

package bbolt

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"github.com/vestio/vestio/storage"
)

func newTestDB(t *testing.T) *bbolt.DB {
	t.Helper()
	db, err := bbolt.Open(filepath.Join(t.TempDir(), "session.db"), 0o600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func env(b string) *storage.Envelope {
	return &storage.Envelope{Ver: 1, Scheme: "aes256gcm", Nonce: make([]byte, 12), Ciphertext: []byte(b)}
}

func TestBBoltStorage(t *testing.T) {
	s := NewRepository(newTestDB(t))
	ns := "durable"

	t.Run("PutGet", func(t *testing.T) {
		require.NoError(t, s.Put(ns, "SLOT", "access_token", env("AT1")))
		got, err := s.Get(ns, "SLOT", "access_token")
		require.NoError(t, err)
		assert.Equal(t, []byte("AT1"), got.Ciphertext)
		assert.Equal(t, 1, got.Ver)
	})

	t.Run("List", func(t *testing.T) {
		require.NoError(t, s.Put(ns, "SLOT", "refresh_token", env("RT1")))
		ids, err := s.List(ns, "SLOT")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"access_token", "refresh_token"}, ids)
	})

	t.Run("GetErrors", func(t *testing.T) {
		_, err := s.Get("nonexistent", "SLOT", "access_token")
		assert.ErrorIs(t, err, storage.ErrNamespaceNotFound)
		_, err = s.Get(ns, "SLOT", "nonexistent")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("ListNonexistentNamespace", func(t *testing.T) {
		ids, err := s.List("nonexistent", "SLOT")
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("ListShortKeysNoPanic", func(t *testing.T) {
		require.NoError(t, s.Put(ns, "Z", "", env("z")))
		assert.NotPanics(t, func() {
			_, _ = s.List(ns, "SLOTS-LONGER-PREFIX")
		})
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, s.Delete(ns, "Z", ""))
		assert.ErrorIs(t, s.Delete(ns, "Z", ""), storage.ErrNotFound)
		assert.ErrorIs(t, s.Delete("nonexistent", "Z", ""), storage.ErrNamespaceNotFound)
	})

	t.Run("BatchRollback", func(t *testing.T) {
		boom := errors.New("boom")
		err := s.Batch(ns, func(tx storage.BatchTx) error {
			require.NoError(t, tx.Delete("SLOT", "access_token"))
			require.NoError(t, tx.Put("SLOT", "access_token", env("AT2")))
			return boom
		})
		assert.ErrorIs(t, err, boom)
		got, err := s.Get(ns, "SLOT", "access_token")
		require.NoError(t, err)
		assert.Equal(t, []byte("AT1"), got.Ciphertext)
	})

	t.Run("BatchCommit", func(t *testing.T) {
		err := s.Batch(ns, func(tx storage.BatchTx) error {
			if err := tx.Delete("SLOT", "refresh_token"); err != nil {
				return err
			}
			return tx.Put("SLOT", "access_token", env("AT2"))
		})
		require.NoError(t, err)
		got, err := s.Get(ns, "SLOT", "access_token")
		require.NoError(t, err)
		assert.Equal(t, []byte("AT2"), got.Ciphertext)
		_, err = s.Get(ns, "SLOT", "refresh_token")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestNewRepositoryFromFileSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.db")

	s1, err := NewRepositoryFromFile(path, nil)
	require.NoError(t, err)
	require.NoError(t, s1.Put("durable", "SLOT", "access_token", env("AT1")))
	require.NoError(t, s1.Close())

	s2, err := NewRepositoryFromFile(path, nil)
	require.NoError(t, err)
	defer s2.Close()
	got, err := s2.Get("durable", "SLOT", "access_token")
	require.NoError(t, err)
	assert.Equal(t, []byte("AT1"), got.Ciphertext)
}

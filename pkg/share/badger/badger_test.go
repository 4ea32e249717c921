package badger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/swarmsync/pkg/secret"
	"github.com/marmos91/swarmsync/pkg/share"
	"github.com/marmos91/swarmsync/pkg/share/sharetest"
)

func TestBadgerStore(t *testing.T) {
	sharetest.TestStore(t, func(t *testing.T) share.Store {
		store, err := NewBadgerStore(context.Background(), BadgerStoreConfig{
			DBPath: filepath.Join(t.TempDir(), "shares"),
		})
		require.NoError(t, err)
		return store
	})
}

// TestBadgerStore_Persistence verifies records survive a close/reopen cycle,
// which is the whole point of this backend.
func TestBadgerStore_Persistence(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "shares")

	store, err := NewBadgerStore(ctx, BadgerStoreConfig{DBPath: dbPath})
	require.NoError(t, err)

	rec := &share.Share{
		ID:     secret.Identity("ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"),
		Name:   "docs",
		Path:   "/srv/docs",
		Access: secret.AccessReadWrite,
	}
	require.NoError(t, store.Save(ctx, rec))
	require.NoError(t, store.Close())

	store, err = NewBadgerStore(ctx, BadgerStoreConfig{DBPath: dbPath})
	require.NoError(t, err)
	defer store.Close()

	got, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Name, got.Name)
	assert.Equal(t, rec.Path, got.Path)
}

func TestNewBadgerStore_RequiresPath(t *testing.T) {
	_, err := NewBadgerStore(context.Background(), BadgerStoreConfig{})
	assert.Error(t, err)
}

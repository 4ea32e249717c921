// Package sharetest provides a reusable conformance suite for share.Store
// implementations. Each backend's test file calls TestStore with a factory
// for a fresh, empty store.
package sharetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/swarmsync/pkg/secret"
	"github.com/marmos91/swarmsync/pkg/share"
)

// Factory returns a fresh, empty store. The suite closes it when done.
type Factory func(t *testing.T) share.Store

// TestStore runs the Store contract suite against the given backend.
func TestStore(t *testing.T, newStore Factory) {
	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		_, err := s.Get(context.Background(), "missing")
		assert.ErrorIs(t, err, share.ErrNotFound)
	})

	t.Run("RemoveMissing", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		err := s.Remove(context.Background(), "missing")
		assert.ErrorIs(t, err, share.ErrNotFound)
	})

	t.Run("SaveGetRoundTrip", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		ctx := context.Background()

		rec := sampleShare("ABCDEFGHIJKLMNOPQRSTUVWXYZ234567")
		require.NoError(t, s.Save(ctx, rec))

		got, err := s.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, rec.ID, got.ID)
		assert.Equal(t, rec.Name, got.Name)
		assert.Equal(t, rec.Path, got.Path)
		assert.Equal(t, rec.Secret, got.Secret)
		assert.Equal(t, rec.WriteSecret, got.WriteSecret)
		assert.Equal(t, rec.ReadSecret, got.ReadSecret)
		assert.Equal(t, rec.Access, got.Access)
		assert.Equal(t, rec.Rules, got.Rules)
		assert.Equal(t, rec.Publisher, got.Publisher)
		assert.WithinDuration(t, rec.CreatedAt, got.CreatedAt, time.Second)
	})

	t.Run("SaveIsUpsert", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		ctx := context.Background()

		rec := sampleShare("ABCDEFGHIJKLMNOPQRSTUVWXYZ234567")
		require.NoError(t, s.Save(ctx, rec))

		rec.Name = "renamed"
		require.NoError(t, s.Save(ctx, rec))

		got, err := s.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, "renamed", got.Name)

		all, err := s.LoadAll(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("LoadAll", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		ctx := context.Background()

		ids := []secret.Identity{
			"AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA",
			"BBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB",
			"CCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCC",
		}
		for _, id := range ids {
			require.NoError(t, s.Save(ctx, sampleShare(id)))
		}

		all, err := s.LoadAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, len(ids))

		seen := make(map[secret.Identity]bool)
		for _, rec := range all {
			seen[rec.ID] = true
		}
		for _, id := range ids {
			assert.True(t, seen[id], "LoadAll missing %s", id)
		}
	})

	t.Run("Remove", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		ctx := context.Background()

		rec := sampleShare("ABCDEFGHIJKLMNOPQRSTUVWXYZ234567")
		require.NoError(t, s.Save(ctx, rec))
		require.NoError(t, s.Remove(ctx, rec.ID))

		_, err := s.Get(ctx, rec.ID)
		assert.ErrorIs(t, err, share.ErrNotFound)

		err = s.Remove(ctx, rec.ID)
		assert.ErrorIs(t, err, share.ErrNotFound)
	})

	t.Run("StoredValueIsACopy", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		ctx := context.Background()

		rec := sampleShare("ABCDEFGHIJKLMNOPQRSTUVWXYZ234567")
		require.NoError(t, s.Save(ctx, rec))
		rec.Name = "mutated-after-save"

		got, err := s.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, "docs", got.Name, "mutation after Save must not leak into the store")
	})
}

func sampleShare(id secret.Identity) *share.Share {
	return &share.Share{
		ID:          id,
		Name:        "docs",
		Path:        "/srv/docs",
		Secret:      "SSW" + secret.Secret(id) + "SUFFIXSUFFIXSUFFIXSUFFIX",
		WriteSecret: "SSW" + secret.Secret(id) + "SUFFIXSUFFIXSUFFIXSUFFIX",
		ReadSecret:  "SSR" + secret.Secret(id) + "OTHERSUFFIXOTHERSUFFIX22",
		Access:      secret.AccessReadWrite,
		Rules:       []string{"*.tmp", "!keep.tmp"},
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
		Publisher:   true,
	}
}

// Package memory implements an in-memory share store.
//
// All records are lost when the process exits, which makes this store
// suitable for tests and for ephemeral runs where persistence is handled
// elsewhere. It is the reference implementation for the Store contract.
package memory

import (
	"context"
	"sync"

	"github.com/marmos91/swarmsync/pkg/secret"
	"github.com/marmos91/swarmsync/pkg/share"
)

// MemoryStore is a map-backed share store. Safe for concurrent use.
type MemoryStore struct {
	mu     sync.RWMutex
	shares map[secret.Identity]*share.Share
}

// NewMemoryStore creates an empty in-memory share store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		shares: make(map[secret.Identity]*share.Share),
	}
}

// LoadAll returns copies of every stored record.
func (s *MemoryStore) LoadAll(ctx context.Context) ([]*share.Share, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*share.Share, 0, len(s.shares))
	for _, rec := range s.shares {
		out = append(out, copyShare(rec))
	}
	return out, nil
}

// Save upserts a record by identity.
func (s *MemoryStore) Save(ctx context.Context, rec *share.Share) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.shares[rec.ID] = copyShare(rec)
	return nil
}

// Remove deletes a record, returning share.ErrNotFound if absent.
func (s *MemoryStore) Remove(ctx context.Context, id secret.Identity) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.shares[id]; !ok {
		return share.ErrNotFound
	}
	delete(s.shares, id)
	return nil
}

// Get returns a copy of one record, or share.ErrNotFound.
func (s *MemoryStore) Get(ctx context.Context, id secret.Identity) (*share.Share, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.shares[id]
	if !ok {
		return nil, share.ErrNotFound
	}
	return copyShare(rec), nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

func copyShare(in *share.Share) *share.Share {
	out := *in
	if in.Rules != nil {
		out.Rules = append([]string(nil), in.Rules...)
	}
	return &out
}

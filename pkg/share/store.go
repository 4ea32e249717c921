package share

import (
	"context"

	"github.com/marmos91/swarmsync/pkg/secret"
)

// Store persists share records durably.
//
// Implementations must be safe for concurrent use. Save is an upsert keyed
// by the share identity; Get and Remove return ErrNotFound for unknown
// identities. Stored values are copies: mutating a Share after Save, or a
// Share returned by Get/LoadAll, must not affect the stored record.
//
// Available implementations:
//   - memory: map-backed, for tests and ephemeral runs
//   - badger: BadgerDB-backed, the default persistent store
//   - s3: S3 or S3-compatible object storage, for fleets sharing
//     configuration through a bucket
type Store interface {
	// LoadAll returns every persisted share record.
	LoadAll(ctx context.Context) ([]*Share, error)

	// Save upserts a share record by identity.
	Save(ctx context.Context, s *Share) error

	// Remove deletes a share record.
	Remove(ctx context.Context, id secret.Identity) error

	// Get returns one share record.
	Get(ctx context.Context, id secret.Identity) (*Share, error)

	// Close releases any resources held by the store.
	Close() error
}

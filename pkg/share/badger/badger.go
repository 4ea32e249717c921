// Package badger implements a BadgerDB-backed share store.
//
// This is the default persistent store: share records must survive process
// restarts so that every share can be replayed as an add operation on
// startup. BadgerDB is embedded, needs no external service and handles the
// tiny working set of share records with plenty of headroom.
//
// Storage model: one key per share, "s:<identity>", holding the record as
// JSON. JSON keeps the values inspectable with badger's tooling and makes
// schema evolution painless; record counts are far too small for encoding
// overhead to matter.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/marmos91/swarmsync/pkg/secret"
	"github.com/marmos91/swarmsync/pkg/share"
)

const keyPrefix = "s:"

// BadgerStore is a BadgerDB-backed share store. Safe for concurrent use;
// BadgerDB provides its own transaction isolation.
type BadgerStore struct {
	db *badger.DB
}

// BadgerStoreConfig configures the store.
type BadgerStoreConfig struct {
	// DBPath is the directory holding the database files. Required.
	DBPath string

	// BadgerOptions overrides the database options entirely. Leave nil to
	// use the defaults tuned below.
	BadgerOptions *badger.Options
}

// NewBadgerStore opens (creating if needed) the share database at the
// configured path.
func NewBadgerStore(ctx context.Context, config BadgerStoreConfig) (*BadgerStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if config.DBPath == "" {
		return nil, fmt.Errorf("badger share store: db path is required")
	}

	var opts badger.Options
	if config.BadgerOptions != nil {
		opts = *config.BadgerOptions
	} else {
		opts = badger.DefaultOptions(config.DBPath)
		// Share records are a handful of small JSON values: compression
		// buys nothing, and badger's default logging is far too chatty for
		// a store this quiet.
		opts = opts.WithLoggingLevel(badger.WARNING)
		opts = opts.WithCompression(options.None)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open share database at %s: %w", config.DBPath, err)
	}

	return &BadgerStore{db: db}, nil
}

// LoadAll returns every persisted share record.
func (s *BadgerStore) LoadAll(ctx context.Context) ([]*share.Share, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []*share.Share
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var rec share.Share
				if err := json.Unmarshal(val, &rec); err != nil {
					return fmt.Errorf("corrupt share record %q: %w", it.Item().Key(), err)
				}
				out = append(out, &rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Save upserts a share record by identity.
func (s *BadgerStore) Save(ctx context.Context, rec *share.Share) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode share record: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(rec.ID), data)
	})
}

// Remove deletes a share record, returning share.ErrNotFound if absent.
func (s *BadgerStore) Remove(ctx context.Context, id secret.Identity) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key(id)); errors.Is(err, badger.ErrKeyNotFound) {
			return share.ErrNotFound
		} else if err != nil {
			return err
		}
		return txn.Delete(key(id))
	})
}

// Get returns one share record, or share.ErrNotFound.
func (s *BadgerStore) Get(ctx context.Context, id secret.Identity) (*share.Share, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rec share.Share
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return share.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func key(id secret.Identity) []byte {
	return []byte(keyPrefix + string(id))
}

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dendrascience/spraydryfs/util"
	"github.com/dgraph-io/badger/v4"
)

// ErrConflict reports that an Update lost an optimistic concurrency race.
var ErrConflict = errors.New("store: transaction conflict")

// maxPutAttempts bounds PutIfAbsent retries. A conflict on an immutable key
// almost always means the other writer stored the same record, which the
// retry observes.
const maxPutAttempts = 5

// Options configures Open.
type Options struct {
	// Path is the Badger directory. Ignored when InMemory is set.
	Path       string
	InMemory   bool
	SyncWrites bool
	Logger     *slog.Logger
}

// Store is a handle on an open Badger database.
type Store struct {
	db  *badger.DB
	log *slog.Logger
}

// KeyStats summarizes the records under a prefix.
type KeyStats struct {
	Count int
	Bytes int64
}

// Open opens or creates the database described by opts.
func Open(opts Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if !opts.InMemory && opts.Path == "" {
		return nil, fmt.Errorf("%w: store path is required", util.ErrInvalidArgument)
	}

	bopts := badger.DefaultOptions(opts.Path)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	}
	bopts = bopts.
		WithSyncWrites(opts.SyncWrites).
		WithLogger(badgerLogger{log: opts.Logger})

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open store %q: %w", opts.Path, err)
	}
	opts.Logger.Debug("store opened", "path", opts.Path, "in_memory", opts.InMemory)
	return &Store{db: db, log: opts.Logger}, nil
}

// OpenInMemory opens a throwaway store, mostly for tests and dry runs.
func OpenInMemory(logger *slog.Logger) (*Store, error) {
	return Open(Options{InMemory: true, Logger: logger})
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns a copy of the value under key, or util.ErrNotFound.
func (s *Store) Get(ctx context.Context, key []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, util.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *Store) Has(ctx context.Context, key []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		return err
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return false, nil
	default:
		return false, err
	}
}

// PutIfAbsent stores value under key unless a record already exists. It
// reports whether this call wrote the record. Existing records are never
// overwritten.
func (s *Store) PutIfAbsent(ctx context.Context, key, value []byte) (bool, error) {
	for range maxPutAttempts {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		inserted := false
		err := s.db.Update(func(txn *badger.Txn) error {
			_, err := txn.Get(key)
			if err == nil {
				return nil
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			inserted = true
			return txn.Set(key, value)
		})
		if errors.Is(err, badger.ErrConflict) {
			exists, herr := s.Has(ctx, key)
			if herr != nil {
				return false, herr
			}
			if exists {
				return false, nil
			}
			continue
		}
		if err != nil {
			return false, err
		}
		return inserted, nil
	}
	return false, ErrConflict
}

// Txn is a read-write transaction handed to Update callbacks. Every key read
// through Get joins the transaction's conflict set.
type Txn struct {
	txn *badger.Txn
}

// Get returns a copy of the value under key, or util.ErrNotFound.
func (t *Txn) Get(key []byte) ([]byte, error) {
	item, err := t.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, util.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (t *Txn) Set(key, value []byte) error {
	return t.txn.Set(key, value)
}

// Update runs fn in a read-write transaction and commits it. A commit that
// loses to a concurrent writer of any key fn read returns ErrConflict.
func (s *Store) Update(ctx context.Context, fn func(*Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return fn(&Txn{txn: txn})
	})
	if errors.Is(err, badger.ErrConflict) {
		return ErrConflict
	}
	return err
}

// Scan calls fn for each record under prefix in key order. Keys and values
// passed to fn are copies. Returning an error from fn stops the scan.
func (s *Store) Scan(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(item.KeyCopy(nil), value); err != nil {
				return err
			}
		}
		return nil
	})
}

// Count tallies records and value bytes under prefix without copying values.
func (s *Store) Count(ctx context.Context, prefix []byte) (KeyStats, error) {
	var stats KeyStats
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			stats.Count++
			stats.Bytes += it.Item().ValueSize()
		}
		return nil
	})
	return stats, err
}

// Delete removes a record. Only tests use it, to simulate dangling
// references; nothing in the read or ingest path deletes.
func (s *Store) Delete(ctx context.Context, key []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// Overwrite replaces a record unconditionally. Like Delete it exists so tests
// can corrupt stored content.
func (s *Store) Overwrite(ctx context.Context, key, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

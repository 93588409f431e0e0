// Package badgerstore is a persistent middleware.Store backed by BadgerDB.
// It keeps offline values across restarts.
package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/bjaus/mediator/middleware"
	badgerdb "github.com/dgraph-io/badger/v3"
)

// Option configures a Store.
type Option func(*Store)

// WithTTL expires entries after ttl. Zero keeps them until deleted.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// Store implements middleware.Store over BadgerDB.
type Store struct {
	db  *badgerdb.DB
	ttl time.Duration
}

var _ middleware.Store = (*Store)(nil)

// Open opens or creates a database in dir.
func Open(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, errors.New("badgerstore: directory is empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("badgerstore: creating %s: %w", dir, err)
	}
	return OpenWithOptions(badgerdb.DefaultOptions(dir).WithLogger(nil), opts...)
}

// OpenInMemory opens a database that lives only in memory.
func OpenInMemory(opts ...Option) (*Store, error) {
	return OpenWithOptions(badgerdb.DefaultOptions("").WithInMemory(true).WithLogger(nil), opts...)
}

// OpenWithOptions opens a database with explicit badger options.
func OpenWithOptions(bo badgerdb.Options, opts ...Option) (*Store, error) {
	db, err := badgerdb.Open(bo)
	if err != nil {
		return nil, fmt.Errorf("badgerstore: open: %w", err)
	}
	s := &Store{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Get implements middleware.Store.
func (s *Store) Get(_ context.Context, key string) (middleware.Entry, bool, error) {
	var data []byte
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return middleware.Entry{}, false, nil
	}
	if err != nil {
		return middleware.Entry{}, false, fmt.Errorf("badgerstore: get %s: %w", key, err)
	}

	e, err := middleware.DecodeEntry(data)
	if err != nil {
		return middleware.Entry{}, false, fmt.Errorf("badgerstore: get %s: %w", key, err)
	}
	return e, true, nil
}

// Set implements middleware.Store.
func (s *Store) Set(_ context.Context, key string, e middleware.Entry) error {
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		entry := badgerdb.NewEntry([]byte(key), middleware.EncodeEntry(e))
		if s.ttl > 0 {
			entry = entry.WithTTL(s.ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("badgerstore: set %s: %w", key, err)
	}
	return nil
}

// Delete implements middleware.Store.
func (s *Store) Delete(_ context.Context, key string) error {
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("badgerstore: delete %s: %w", key, err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

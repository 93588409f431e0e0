// Package memstore is an in-process middleware.Store backed by bigcache.
// Entries are evicted after the configured life window, so it suits the
// cache middleware rather than long lived offline values.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/bjaus/mediator/middleware"
)

// Config tunes the underlying bigcache instance.
type Config struct {
	// LifeWindow is how long an entry lives before it can be evicted.
	LifeWindow time.Duration

	// CleanWindow is how often expired entries are removed. Zero disables
	// background cleaning.
	CleanWindow time.Duration

	// Shards must be a power of two.
	Shards int

	// MaxEntrySize is the expected entry size in bytes, used for initial
	// allocation.
	MaxEntrySize int

	// HardMaxCacheSize caps the cache size in MB. Zero means unbounded.
	HardMaxCacheSize int
}

// DefaultConfig returns a Config suitable for caching request results.
func DefaultConfig() Config {
	return Config{
		LifeWindow:   10 * time.Minute,
		CleanWindow:  5 * time.Minute,
		Shards:       64,
		MaxEntrySize: 512,
	}
}

// Store implements middleware.Store over bigcache.
type Store struct {
	cache *bigcache.BigCache
}

var _ middleware.Store = (*Store)(nil)

// New creates a Store. The context controls bigcache's cleanup goroutine.
func New(ctx context.Context, cfg Config) (*Store, error) {
	def := DefaultConfig()
	if cfg.LifeWindow <= 0 {
		cfg.LifeWindow = def.LifeWindow
	}
	if cfg.Shards <= 0 {
		cfg.Shards = def.Shards
	}
	if cfg.MaxEntrySize <= 0 {
		cfg.MaxEntrySize = def.MaxEntrySize
	}

	bc := bigcache.DefaultConfig(cfg.LifeWindow)
	bc.CleanWindow = cfg.CleanWindow
	bc.Shards = cfg.Shards
	bc.MaxEntrySize = cfg.MaxEntrySize
	bc.HardMaxCacheSize = cfg.HardMaxCacheSize
	bc.Verbose = false

	cache, err := bigcache.New(ctx, bc)
	if err != nil {
		return nil, fmt.Errorf("memstore: %w", err)
	}
	return &Store{cache: cache}, nil
}

// Get implements middleware.Store.
func (s *Store) Get(_ context.Context, key string) (middleware.Entry, bool, error) {
	data, err := s.cache.Get(key)
	if errors.Is(err, bigcache.ErrEntryNotFound) {
		return middleware.Entry{}, false, nil
	}
	if err != nil {
		return middleware.Entry{}, false, fmt.Errorf("memstore: get %s: %w", key, err)
	}

	e, err := middleware.DecodeEntry(data)
	if err != nil {
		return middleware.Entry{}, false, fmt.Errorf("memstore: get %s: %w", key, err)
	}
	return e, true, nil
}

// Set implements middleware.Store.
func (s *Store) Set(_ context.Context, key string, e middleware.Entry) error {
	if err := s.cache.Set(key, middleware.EncodeEntry(e)); err != nil {
		return fmt.Errorf("memstore: set %s: %w", key, err)
	}
	return nil
}

// Delete implements middleware.Store.
func (s *Store) Delete(_ context.Context, key string) error {
	err := s.cache.Delete(key)
	if err != nil && !errors.Is(err, bigcache.ErrEntryNotFound) {
		return fmt.Errorf("memstore: delete %s: %w", key, err)
	}
	return nil
}

// Len returns the number of stored entries.
func (s *Store) Len() int { return s.cache.Len() }

// Close releases the cache.
func (s *Store) Close() error { return s.cache.Close() }

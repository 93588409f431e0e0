// Package redisstore is a middleware.Store backed by Redis, for cache and
// offline values shared between processes.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bjaus/mediator/middleware"
	"github.com/redis/go-redis/v9"
)

// client is the subset of Redis the store needs.
type client interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Close() error
}

// goRedis adapts a go-redis client to client.
type goRedis struct {
	rdb redis.UniversalClient
}

var _ client = (*goRedis)(nil)

func (c *goRedis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (c *goRedis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

func (c *goRedis) Del(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

func (c *goRedis) Close() error { return c.rdb.Close() }

// Option configures a Store.
type Option func(*Store)

// WithPrefix namespaces every key.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithTTL sets a Redis expiry on every entry. Zero keeps entries until
// deleted.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// Store implements middleware.Store over Redis.
type Store struct {
	c      client
	prefix string
	ttl    time.Duration
}

var _ middleware.Store = (*Store)(nil)

// New creates a Store over an existing go-redis client.
func New(rdb redis.UniversalClient, opts ...Option) *Store {
	return newStore(&goRedis{rdb: rdb}, opts...)
}

// Dial connects to the Redis server at addr and verifies it with a PING.
func Dial(ctx context.Context, addr, password string, db int, opts ...Option) (*Store, error) {
	if addr == "" {
		return nil, errors.New("redisstore: address is empty")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redisstore: connecting to %s: %w", addr, err)
	}
	return New(rdb, opts...), nil
}

func newStore(c client, opts ...Option) *Store {
	s := &Store{c: c, prefix: "mediator:"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get implements middleware.Store.
func (s *Store) Get(ctx context.Context, key string) (middleware.Entry, bool, error) {
	data, ok, err := s.c.Get(ctx, s.prefix+key)
	if err != nil {
		return middleware.Entry{}, false, fmt.Errorf("redisstore: get %s: %w", key, err)
	}
	if !ok {
		return middleware.Entry{}, false, nil
	}

	e, err := middleware.DecodeEntry(data)
	if err != nil {
		return middleware.Entry{}, false, fmt.Errorf("redisstore: get %s: %w", key, err)
	}
	return e, true, nil
}

// Set implements middleware.Store.
func (s *Store) Set(ctx context.Context, key string, e middleware.Entry) error {
	if err := s.c.Set(ctx, s.prefix+key, middleware.EncodeEntry(e), s.ttl); err != nil {
		return fmt.Errorf("redisstore: set %s: %w", key, err)
	}
	return nil
}

// Delete implements middleware.Store.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.c.Del(ctx, s.prefix+key); err != nil {
		return fmt.Errorf("redisstore: delete %s: %w", key, err)
	}
	return nil
}

// Close closes the underlying client.
func (s *Store) Close() error { return s.c.Close() }

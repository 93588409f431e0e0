package middleware

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/bjaus/mediator"
	"go.uber.org/zap"
)

// CacheMiddleware serves request results from a Store while they are
// fresh. It applies to handlers registered with a Cache attribute.
//
// For each request:
//   - a fresh entry is returned without calling the handler and the
//     CacheTimestamp header is set
//   - a stale or missing entry, or a ForceCacheRefresh header, calls the
//     handler and stores its result
//
// Handler failures are never cached and stale values are never served on
// failure; stack an OfflineMiddleware for that.
//
// Requests whose result type is an interface are passed through uncached,
// since a stored value cannot be decoded back into its dynamic type.
type CacheMiddleware struct {
	store   Store
	opts    options
	skipped skipped
}

var _ mediator.Middleware = (*CacheMiddleware)(nil)

// NewCache creates a CacheMiddleware over store.
func NewCache(store Store, opts ...Option) *CacheMiddleware {
	return &CacheMiddleware{store: store, opts: newOptions(opts)}
}

// Process implements mediator.Middleware.
func (m *CacheMiddleware) Process(ctx context.Context, c *mediator.Context, next mediator.Next) (any, error) {
	attr, ok := mediator.Attribute[Cache](c)
	if !ok || c.ResultType() == nil {
		return next(ctx)
	}
	if !storable(c.ResultType()) {
		m.skipped.warn(m.opts.logger, "cache", c)
		return next(ctx)
	}

	key, err := m.opts.keyFunc(c.Message())
	if err != nil {
		m.opts.logger.Warn("cache key", zap.Error(err))
		return next(ctx)
	}
	key = "cache:" + key

	if attr.OnlyForOffline && m.opts.connectivity.Online(ctx) {
		return m.refresh(ctx, c, key, next)
	}

	if c.HasHeader(ForceCacheRefresh) {
		return m.refresh(ctx, c, key, next)
	}

	entry, found, err := m.store.Get(ctx, key)
	if err != nil {
		m.opts.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		return m.refresh(ctx, c, key, next)
	}

	now := m.opts.clock.Now()
	if !found || !fresh(entry, attr.MaxAge, now) {
		return m.refresh(ctx, c, key, next)
	}

	v, err := decode(m.opts.serializer, entry.Value, c.ResultType())
	if err != nil {
		m.opts.logger.Warn("cache decode failed", zap.String("key", key), zap.Error(err))
		return m.refresh(ctx, c, key, next)
	}

	if attr.Sliding {
		entry.StoredAt = now
		if err := m.store.Set(ctx, key, entry); err != nil {
			m.opts.logger.Warn("cache slide failed", zap.String("key", key), zap.Error(err))
		}
	}

	c.RemoveHeader(CacheTimestamp)
	_ = c.AddHeader(CacheTimestamp, entry.StoredAt)
	m.opts.logger.Debug("cache hit", zap.String("key", key))
	return v, nil
}

// refresh calls the handler and stores a successful result.
func (m *CacheMiddleware) refresh(ctx context.Context, c *mediator.Context, key string, next mediator.Next) (any, error) {
	v, err := next(ctx)
	if err != nil {
		return v, err
	}
	if err := put(ctx, m.store, m.opts, key, v); err != nil {
		m.opts.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
	return v, nil
}

func fresh(e Entry, maxAge time.Duration, now time.Time) bool {
	if maxAge <= 0 {
		return true
	}
	return now.Sub(e.StoredAt) < maxAge
}

func put(ctx context.Context, s Store, o options, key string, v any) error {
	data, err := o.serializer.Marshal(v)
	if err != nil {
		return err
	}
	return s.Set(ctx, key, Entry{Value: data, StoredAt: o.clock.Now()})
}

// decode unmarshals data into a new value of type t.
// storable reports whether values of t survive a round trip through a
// Serializer with their type intact.
func storable(t reflect.Type) bool {
	return t.Kind() != reflect.Interface
}

// skipped logs one warning per request type that a store-backed middleware
// passes through.
type skipped struct {
	seen sync.Map
}

func (s *skipped) warn(logger *zap.Logger, name string, c *mediator.Context) {
	if _, dup := s.seen.LoadOrStore(c.MessageType(), struct{}{}); dup {
		return
	}
	logger.Warn(name+" skipped for interface result type",
		zap.String("message", mediator.TypeName(c.MessageType())),
		zap.String("result", c.ResultType().String()),
	)
}

func decode(s Serializer, data []byte, t reflect.Type) (any, error) {
	ptr := reflect.New(t)
	if err := s.Unmarshal(data, ptr.Interface()); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", mediator.TypeName(t), err)
	}
	return ptr.Elem().Interface(), nil
}

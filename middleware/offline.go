package middleware

import (
	"context"

	"github.com/bjaus/mediator"
	"go.uber.org/zap"
)

// OfflineMiddleware keeps the last good result of handlers registered with
// an OfflineAvailable attribute. While offline, or when the handler fails,
// the stored value is returned instead and the OfflineTimestamp header is
// set. With nothing stored the failure propagates. Interface result types
// are passed through.
type OfflineMiddleware struct {
	store   Store
	opts    options
	skipped skipped
}

var _ mediator.Middleware = (*OfflineMiddleware)(nil)

// NewOffline creates an OfflineMiddleware over store.
func NewOffline(store Store, opts ...Option) *OfflineMiddleware {
	return &OfflineMiddleware{store: store, opts: newOptions(opts)}
}

// Process implements mediator.Middleware.
func (m *OfflineMiddleware) Process(ctx context.Context, c *mediator.Context, next mediator.Next) (any, error) {
	attr, ok := mediator.Attribute[OfflineAvailable](c)
	if !ok || c.ResultType() == nil {
		return next(ctx)
	}
	if !storable(c.ResultType()) {
		m.skipped.warn(m.opts.logger, "offline", c)
		return next(ctx)
	}

	key, err := m.opts.keyFunc(c.Message())
	if err != nil {
		m.opts.logger.Warn("offline key", zap.Error(err))
		return next(ctx)
	}
	key = "offline:" + key

	if !m.opts.connectivity.Online(ctx) {
		if v, ok := m.stored(ctx, c, key, attr); ok {
			return v, nil
		}
	}

	v, err := next(ctx)
	if err != nil {
		if stored, ok := m.stored(ctx, c, key, attr); ok {
			m.opts.logger.Info("serving offline value after failure",
				zap.String("key", key),
				zap.Error(err),
			)
			return stored, nil
		}
		return v, err
	}

	if err := put(ctx, m.store, m.opts, key, v); err != nil {
		m.opts.logger.Warn("offline write failed", zap.String("key", key), zap.Error(err))
	}
	return v, nil
}

func (m *OfflineMiddleware) stored(ctx context.Context, c *mediator.Context, key string, attr OfflineAvailable) (any, bool) {
	entry, found, err := m.store.Get(ctx, key)
	if err != nil {
		m.opts.logger.Warn("offline read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if !found || !fresh(entry, attr.MaxAge, m.opts.clock.Now()) {
		return nil, false
	}

	v, err := decode(m.opts.serializer, entry.Value, c.ResultType())
	if err != nil {
		m.opts.logger.Warn("offline decode failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}

	c.RemoveHeader(OfflineTimestamp)
	_ = c.AddHeader(OfflineTimestamp, entry.StoredAt)
	return v, true
}

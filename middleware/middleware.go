// Package middleware provides cross-cutting middleware for the mediator:
// caching with staleness, offline fallback, event throttling and sampling,
// periodic stream refresh, deferred command scheduling, validation and
// logging.
//
// Middleware reads its settings from attributes attached to a handler when
// it is registered:
//
//	mediator.RegisterRequest[GetUser, User](reg, h,
//	    mediator.WithAttributes(middleware.Cache{MaxAge: time.Minute}),
//	)
//	mediator.UseMiddleware(reg, middleware.NewCache(store))
//
// Handlers without the relevant attribute pass straight through.
package middleware

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// Header keys written or read by the middleware in this package.
const (
	// ForceCacheRefresh, when present with any value, makes the cache
	// middleware skip a fresh entry and call the handler.
	ForceCacheRefresh = "mediator.ForceCacheRefresh"

	// CacheTimestamp is set to the time.Time the served value was stored
	// when a response comes from the cache.
	CacheTimestamp = "mediator.CacheTimestamp"

	// OfflineTimestamp is set to the time.Time the served value was stored
	// when a response comes from the offline store.
	OfflineTimestamp = "mediator.OfflineTimestamp"
)

// Connectivity reports whether the process can currently reach the
// services behind its handlers.
type Connectivity interface {
	Online(ctx context.Context) bool
}

// ConnectivityFunc is a function adapter for Connectivity.
type ConnectivityFunc func(ctx context.Context) bool

// Online implements the Connectivity interface.
func (f ConnectivityFunc) Online(ctx context.Context) bool { return f(ctx) }

// AlwaysOnline is the default Connectivity.
var AlwaysOnline Connectivity = ConnectivityFunc(func(context.Context) bool { return true })

// Option configures the middleware constructors in this package.
type Option func(*options)

type options struct {
	clock        clock.Clock
	logger       *zap.Logger
	serializer   Serializer
	connectivity Connectivity
	keyFunc      KeyFunc
}

func newOptions(opts []Option) options {
	o := options{
		clock:        clock.New(),
		logger:       zap.NewNop(),
		serializer:   JSONSerializer{},
		connectivity: AlwaysOnline,
		keyFunc:      DefaultKey,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithSerializer sets how values are encoded into a Store.
func WithSerializer(s Serializer) Option {
	return func(o *options) {
		if s != nil {
			o.serializer = s
		}
	}
}

// WithConnectivity sets the connectivity probe used by the cache and
// offline middleware.
func WithConnectivity(c Connectivity) Option {
	return func(o *options) {
		if c != nil {
			o.connectivity = c
		}
	}
}

// WithKeyFunc sets how store keys are derived from messages.
func WithKeyFunc(fn KeyFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.keyFunc = fn
		}
	}
}

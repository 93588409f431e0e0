package mediator

import (
	"context"
	"time"
)

// OnDispatchFunc is called just before an executor runs a dispatch.
type OnDispatchFunc func(ctx context.Context, c *Context)

// OnSuccessFunc is called after a dispatch completes without error.
type OnSuccessFunc func(ctx context.Context, c *Context, duration time.Duration)

// OnFailureFunc is called after a dispatch fails, before exception handlers
// run.
type OnFailureFunc func(ctx context.Context, c *Context, err error, duration time.Duration)

// OnHandledFunc is called when an exception handler consumes a failure.
type OnHandledFunc func(ctx context.Context, c *Context, err error)

// hooks holds all configured hook functions.
type hooks struct {
	onDispatch []OnDispatchFunc
	onSuccess  []OnSuccessFunc
	onFailure  []OnFailureFunc
	onHandled  []OnHandledFunc
}

// WithOnDispatch adds a hook called just before a dispatch runs.
// Multiple hooks are called in order.
//
// Example:
//
//	mediator.WithOnDispatch(func(ctx context.Context, c *mediator.Context) {
//	    logger.Debug("dispatching", zap.Stringer("id", c.ID()))
//	})
func WithOnDispatch(fn OnDispatchFunc) Option {
	return func(m *Mediator) {
		m.hooks.onDispatch = append(m.hooks.onDispatch, fn)
	}
}

// WithOnSuccess adds a hook called after a dispatch succeeds.
// Multiple hooks are called in order.
//
// Example:
//
//	mediator.WithOnSuccess(func(ctx context.Context, c *mediator.Context, d time.Duration) {
//	    metrics.Timing("mediator.success", d)
//	})
func WithOnSuccess(fn OnSuccessFunc) Option {
	return func(m *Mediator) {
		m.hooks.onSuccess = append(m.hooks.onSuccess, fn)
	}
}

// WithOnFailure adds a hook called after a dispatch fails.
// Multiple hooks are called in order.
func WithOnFailure(fn OnFailureFunc) Option {
	return func(m *Mediator) {
		m.hooks.onFailure = append(m.hooks.onFailure, fn)
	}
}

// WithOnHandled adds a hook called when an exception handler consumes a
// failure. Multiple hooks are called in order.
func WithOnHandled(fn OnHandledFunc) Option {
	return func(m *Mediator) {
		m.hooks.onHandled = append(m.hooks.onHandled, fn)
	}
}

func (m *Mediator) callOnDispatch(ctx context.Context, c *Context) {
	for _, fn := range m.hooks.onDispatch {
		fn(ctx, c)
	}
}

func (m *Mediator) callOnSuccess(ctx context.Context, c *Context, d time.Duration) {
	for _, fn := range m.hooks.onSuccess {
		fn(ctx, c, d)
	}
}

func (m *Mediator) callOnFailure(ctx context.Context, c *Context, err error, d time.Duration) {
	for _, fn := range m.hooks.onFailure {
		fn(ctx, c, err, d)
	}
}

func (m *Mediator) callOnHandled(ctx context.Context, c *Context, err error) {
	for _, fn := range m.hooks.onHandled {
		fn(ctx, c, err)
	}
}

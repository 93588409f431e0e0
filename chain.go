package mediator

import (
	"context"
	"iter"
	"reflect"
)

// Next invokes the rest of a request or command chain. Commands yield a nil
// result.
type Next func(ctx context.Context) (any, error)

// Middleware wraps request and command dispatch. It may call next and pass
// the result through, transform it, or skip next entirely.
type Middleware interface {
	Process(ctx context.Context, c *Context, next Next) (any, error)
}

// MiddlewareFunc is a function adapter for Middleware.
type MiddlewareFunc func(ctx context.Context, c *Context, next Next) (any, error)

// Process implements the Middleware interface.
func (f MiddlewareFunc) Process(ctx context.Context, c *Context, next Next) (any, error) {
	return f(ctx, c, next)
}

// RequestMiddlewareFunc is a typed Middleware for (Q, R) requests.
//
// Example:
//
//	mediator.UseRequestMiddleware[Echo, string](reg, mediator.RequestMiddlewareFunc[Echo, string](
//	    func(ctx context.Context, c *mediator.Context, req Echo, next func(context.Context) (string, error)) (string, error) {
//	        res, err := next(ctx)
//	        return strings.ToUpper(res), err
//	    },
//	))
type RequestMiddlewareFunc[Q, R any] func(ctx context.Context, c *Context, req Q, next func(context.Context) (R, error)) (R, error)

// Process implements the Middleware interface.
func (f RequestMiddlewareFunc[Q, R]) Process(ctx context.Context, c *Context, next Next) (any, error) {
	req, _ := c.Message().(Q)
	return f(ctx, c, req, func(ctx context.Context) (R, error) {
		v, err := next(ctx)
		r, _ := v.(R)
		return r, err
	})
}

// CommandMiddlewareFunc is a typed Middleware for C commands.
type CommandMiddlewareFunc[C any] func(ctx context.Context, c *Context, cmd C, next func(context.Context) error) error

// Process implements the Middleware interface.
func (f CommandMiddlewareFunc[C]) Process(ctx context.Context, c *Context, next Next) (any, error) {
	cmd, _ := c.Message().(C)
	return nil, f(ctx, c, cmd, func(ctx context.Context) error {
		_, err := next(ctx)
		return err
	})
}

// EventNext invokes the rest of an event chain for one handler.
type EventNext func(ctx context.Context) error

// EventMiddleware wraps the invocation of a single event handler. The
// Context passed in is the per-handler child, so Handler() identifies which
// handler is about to run.
type EventMiddleware interface {
	ProcessEvent(ctx context.Context, c *Context, next EventNext) error
}

// EventMiddlewareFunc is a function adapter for EventMiddleware.
type EventMiddlewareFunc func(ctx context.Context, c *Context, next EventNext) error

// ProcessEvent implements the EventMiddleware interface.
func (f EventMiddlewareFunc) ProcessEvent(ctx context.Context, c *Context, next EventNext) error {
	return f(ctx, c, next)
}

// StreamNext starts the rest of a stream chain. Each call produces a new
// sequence from the handler.
type StreamNext func(ctx context.Context) iter.Seq2[any, error]

// StreamMiddleware wraps a stream handler's sequence. It may transform,
// filter, delay or replay items.
type StreamMiddleware interface {
	ProcessStream(ctx context.Context, c *Context, next StreamNext) iter.Seq2[any, error]
}

// StreamMiddlewareFunc is a function adapter for StreamMiddleware.
type StreamMiddlewareFunc func(ctx context.Context, c *Context, next StreamNext) iter.Seq2[any, error]

// ProcessStream implements the StreamMiddleware interface.
func (f StreamMiddlewareFunc) ProcessStream(ctx context.Context, c *Context, next StreamNext) iter.Seq2[any, error] {
	return f(ctx, c, next)
}

// UseMiddleware registers mw for every request.
func UseMiddleware(r *Registry, mw Middleware, opts ...RegisterOption) {
	r.addMiddleware(typeKey{kind: KindRequest}, mw, opts)
}

// UseRequestMiddleware registers mw for (Q, R) requests only.
func UseRequestMiddleware[Q, R any](r *Registry, mw Middleware, opts ...RegisterOption) {
	r.addMiddleware(typeKey{kind: KindRequest, message: reflect.TypeFor[Q](), result: reflect.TypeFor[R]()}, mw, opts)
}

// UseCommandMiddlewareAll registers mw for every command.
func UseCommandMiddlewareAll(r *Registry, mw Middleware, opts ...RegisterOption) {
	r.addMiddleware(typeKey{kind: KindCommand}, mw, opts)
}

// UseCommandMiddleware registers mw for C commands only.
func UseCommandMiddleware[C any](r *Registry, mw Middleware, opts ...RegisterOption) {
	r.addMiddleware(typeKey{kind: KindCommand, message: reflect.TypeFor[C]()}, mw, opts)
}

// UseEventMiddlewareAll registers mw around every event handler.
func UseEventMiddlewareAll(r *Registry, mw EventMiddleware, opts ...RegisterOption) {
	r.addMiddleware(typeKey{kind: KindEvent}, mw, opts)
}

// UseEventMiddleware registers mw around handlers of E events only.
func UseEventMiddleware[E any](r *Registry, mw EventMiddleware, opts ...RegisterOption) {
	r.addMiddleware(typeKey{kind: KindEvent, message: reflect.TypeFor[E]()}, mw, opts)
}

// UseStreamMiddlewareAll registers mw for every stream request.
func UseStreamMiddlewareAll(r *Registry, mw StreamMiddleware, opts ...RegisterOption) {
	r.addMiddleware(typeKey{kind: KindStream}, mw, opts)
}

// UseStreamMiddleware registers mw for (Q, R) stream requests only.
func UseStreamMiddleware[Q, R any](r *Registry, mw StreamMiddleware, opts ...RegisterOption) {
	r.addMiddleware(typeKey{kind: KindStream, message: reflect.TypeFor[Q](), result: reflect.TypeFor[R]()}, mw, opts)
}

// Build composes middleware around terminal. The first middleware becomes
// the outermost wrapper, so it runs first on the way in and last on the way
// out.
func Build(c *Context, terminal Next, mws []Middleware) Next {
	next := terminal
	for i := len(mws) - 1; i >= 0; i-- {
		mw, inner := mws[i], next
		next = func(ctx context.Context) (any, error) {
			return mw.Process(ctx, c, inner)
		}
	}
	return next
}

// BuildEvent composes event middleware around terminal.
func BuildEvent(c *Context, terminal EventNext, mws []EventMiddleware) EventNext {
	next := terminal
	for i := len(mws) - 1; i >= 0; i-- {
		mw, inner := mws[i], next
		next = func(ctx context.Context) error {
			return mw.ProcessEvent(ctx, c, inner)
		}
	}
	return next
}

// BuildStream composes stream middleware around terminal.
func BuildStream(c *Context, terminal StreamNext, mws []StreamMiddleware) StreamNext {
	next := terminal
	for i := len(mws) - 1; i >= 0; i-- {
		mw, inner := mws[i], next
		next = func(ctx context.Context) iter.Seq2[any, error] {
			return mw.ProcessStream(ctx, c, inner)
		}
	}
	return next
}

func (r *Registry) middlewareFor(key typeKey) []Middleware {
	return castAll[Middleware](r.middleware(key))
}

func (r *Registry) eventMiddleware(key typeKey) []EventMiddleware {
	return castAll[EventMiddleware](r.middleware(key))
}

func (r *Registry) streamMiddleware(key typeKey) []StreamMiddleware {
	return castAll[StreamMiddleware](r.middleware(key))
}

func castAll[T any](values []any) []T {
	out := make([]T, 0, len(values))
	for _, v := range values {
		if t, ok := v.(T); ok {
			out = append(out, t)
		}
	}
	return out
}

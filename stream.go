package mediator

import (
	"context"
	"errors"
	"iter"
	"reflect"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrStreamConsumed is yielded when a stream sequence is ranged over a
// second time. Streams are single use.
var ErrStreamConsumed = errors.New("mediator: stream already consumed")

// localStreams resolves stream handlers from the mediator's Registry.
type localStreams struct {
	m *Mediator
}

func (e *localStreams) CanHandle(any) bool { return true }

func (e *localStreams) Stream(ctx context.Context, c *Context) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		m := e.m
		key := typeKey{kind: KindStream, message: c.messageType, result: c.resultType}

		reg, ok := m.registry.handler(key)
		if !ok {
			yield(nil, &NoHandlerFoundError{Kind: KindStream, MessageType: c.messageType})
			return
		}

		h, err := reg.resolve(c.scope)
		if err != nil {
			yield(nil, wrapHandlerError(c.messageType, err))
			return
		}
		c.resolved(h, reg.attributes(h))

		var mws []StreamMiddleware
		if !c.BypassMiddleware {
			mws = m.registry.streamMiddleware(key)
		}

		m.logger.Debug("executing stream",
			zap.String("message", TypeName(c.messageType)),
			zap.String("handler", typeNameOf(h)),
			zap.Int("middleware", len(mws)),
		)

		terminal := func(ctx context.Context) iter.Seq2[any, error] {
			return reg.stream(ctx, h, c.message)
		}
		drain(ctx, c.messageType, BuildStream(c, terminal, mws), yield)
	}
}

// drain ranges over the chain, wrapping item errors and converting a panic
// raised by the producer into a final *HandlerError. Panics raised by the
// consumer's loop body are not recovered.
func drain(ctx context.Context, t reflect.Type, next StreamNext, yield func(any, error) bool) {
	var (
		consumer bool
		stopped  bool
	)
	defer func() {
		if stopped {
			return
		}
		if p := recover(); p != nil {
			if consumer {
				panic(p)
			}
			yield(nil, recovered(t, p))
		}
	}()

	for v, err := range next(ctx) {
		consumer = true
		more := yield(v, wrapHandlerError(t, err))
		consumer = false
		if !more {
			stopped = true
			return
		}
	}
}

// Stream dispatches req to the stream handler registered for (Q, R) and
// returns a lazy, single use sequence of results.
//
// Nothing runs until the sequence is ranged over. The execution scope is
// opened when iteration starts and closed when the range loop ends, whether
// it completes, breaks or the context is cancelled. Breaking out of the loop
// cancels the context seen by the handler.
//
// A missing handler is reported immediately as *NoHandlerFoundError.
//
// Example:
//
//	_, seq, err := mediator.Stream[Tick](ctx, m, Watch{Symbol: "ACME"})
//	if err != nil {
//	    return err
//	}
//	for tick, err := range seq {
//	    ...
//	}
func Stream[R, Q any](ctx context.Context, m *Mediator, req Q, opts ...CallOption) (*Context, iter.Seq2[R, error], error) {
	c, _, err := m.begin(ctx, req, reflect.TypeFor[Q](), opts)
	if err != nil {
		return c, nil, err
	}
	c.resultType = reflect.TypeFor[R]()
	c.kind = KindStream

	exec := m.director.StreamExecutor(req)
	if _, local := exec.(*localStreams); local {
		key := typeKey{kind: KindStream, message: c.messageType, result: c.resultType}
		if _, ok := m.registry.handler(key); !ok {
			err := &NoHandlerFoundError{Kind: KindStream, MessageType: c.messageType}
			m.callOnDispatch(ctx, c)
			m.callOnFailure(ctx, c, err, 0)
			if err := m.intercept(ctx, c, err); err != nil {
				return c, nil, err
			}
			return c, func(func(R, error) bool) {}, nil
		}
	}

	var started atomic.Bool
	seq := func(yield func(R, error) bool) {
		var zero R
		if !started.CompareAndSwap(false, true) {
			yield(zero, ErrStreamConsumed)
			return
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		if c.scope == nil {
			c.scope = NewScope()
			defer m.closeScope(c)
		}

		ctx, span := m.tracer.Start(ctx, "mediator."+string(KindStream),
			trace.WithAttributes(
				attribute.String("mediator.message", TypeName(c.messageType)),
				attribute.String("mediator.context_id", c.id.String()),
			),
		)
		defer span.End()
		c.span = span
		ctx = WithContext(ctx, c)

		m.callOnDispatch(ctx, c)
		start := m.clock.Now()

		var failed error
		defer func() {
			d := m.clock.Since(start)
			if failed != nil {
				m.callOnFailure(ctx, c, failed, d)
				return
			}
			m.callOnSuccess(ctx, c, d)
		}()

		for v, err := range exec.Stream(ctx, c) {
			if err != nil {
				failed = err
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				if m.intercept(ctx, c, err) == nil {
					return
				}
				if !yield(zero, err) {
					return
				}
				continue
			}
			r, _ := v.(R)
			if !yield(r, nil) {
				return
			}
		}
	}
	return c, seq, nil
}

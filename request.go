package mediator

import (
	"context"
	"reflect"

	"go.uber.org/zap"
)

// localRequests resolves request handlers from the mediator's Registry.
type localRequests struct {
	m *Mediator
}

func (e *localRequests) CanHandle(any) bool { return true }

func (e *localRequests) Request(ctx context.Context, c *Context) (any, error) {
	m := e.m
	key := typeKey{kind: KindRequest, message: c.messageType, result: c.resultType}

	reg, ok := m.registry.handler(key)
	if !ok {
		return nil, &NoHandlerFoundError{Kind: KindRequest, MessageType: c.messageType}
	}

	h, err := reg.resolve(c.scope)
	if err != nil {
		return nil, wrapHandlerError(c.messageType, err)
	}
	c.resolved(h, reg.attributes(h))

	var mws []Middleware
	if !c.BypassMiddleware {
		mws = m.registry.middlewareFor(key)
	}

	m.logger.Debug("executing request",
		zap.String("message", TypeName(c.messageType)),
		zap.String("handler", typeNameOf(h)),
		zap.Int("middleware", len(mws)),
	)

	terminal := func(ctx context.Context) (any, error) {
		return reg.request(ctx, h, c.message)
	}

	v, err := invoke(ctx, c.messageType, Build(c, terminal, mws))
	if err != nil {
		return nil, wrapHandlerError(c.messageType, err)
	}

	if ev, ok := v.(Event); ok && !isNil(ev) {
		m.autoPublish(ctx, c, ev)
	}
	return v, nil
}

// autoPublish publishes an Event returned by a request handler on a child
// of the request Context. Failures are logged rather than returned so the
// request result is not lost.
func (m *Mediator) autoPublish(ctx context.Context, c *Context, ev Event) {
	child := c.CreateChild(ev)
	if _, err := m.publish(ctx, child, m.parallel); err != nil {
		m.logger.Warn("auto-published event failed",
			zap.String("request", TypeName(c.messageType)),
			zap.String("event", typeNameOf(ev)),
			zap.Error(err),
		)
	}
}

// invoke runs next and converts panics into *HandlerError.
func invoke(ctx context.Context, t reflect.Type, next Next) (v any, err error) {
	defer func() {
		if p := recover(); p != nil {
			v, err = nil, recovered(t, p)
		}
	}()
	return next(ctx)
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

package mediator

import (
	"context"

	"go.uber.org/zap"
)

// ExceptionHandler gets a chance to consume a failed dispatch. Returning true
// marks the failure as handled and the caller receives a zero result and a
// nil error.
type ExceptionHandler interface {
	Handle(ctx context.Context, c *Context, err error) bool
}

// ExceptionHandlerFunc is a function adapter for ExceptionHandler.
type ExceptionHandlerFunc func(ctx context.Context, c *Context, err error) bool

// Handle implements the ExceptionHandler interface.
func (f ExceptionHandlerFunc) Handle(ctx context.Context, c *Context, err error) bool {
	return f(ctx, c, err)
}

// intercept records err on c and offers it to the exception handlers. It
// returns nil if a handler consumed the failure. Only top-level contexts
// are intercepted; nested failures propagate to the dispatch that owns them.
func (m *Mediator) intercept(ctx context.Context, c *Context, err error) error {
	c.setErr(err)

	if c.parent != nil || c.BypassExceptionHandling {
		return err
	}
	if m.offer(ctx, c, err) {
		return nil
	}
	return err
}

// offer walks the exception handlers in order and stops at the first one
// that claims err.
func (m *Mediator) offer(ctx context.Context, c *Context, err error) bool {
	for _, h := range m.registry.exceptionHandlers() {
		if h.Handle(ctx, c, err) {
			m.logger.Debug("exception handled",
				zap.String("message", TypeName(c.messageType)),
				zap.String("exception_handler", typeNameOf(h)),
				zap.Error(err),
			)
			m.callOnHandled(ctx, c, err)
			return true
		}
	}
	return false
}

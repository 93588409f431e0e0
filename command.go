package mediator

import (
	"context"

	"go.uber.org/zap"
)

// localCommands resolves command handlers from the mediator's Registry.
type localCommands struct {
	m *Mediator
}

func (e *localCommands) CanHandle(any) bool { return true }

func (e *localCommands) Send(ctx context.Context, c *Context) error {
	m := e.m
	key := typeKey{kind: KindCommand, message: c.messageType}

	reg, ok := m.registry.handler(key)
	if !ok {
		return &NoHandlerFoundError{Kind: KindCommand, MessageType: c.messageType}
	}

	h, err := reg.resolve(c.scope)
	if err != nil {
		return wrapHandlerError(c.messageType, err)
	}
	c.resolved(h, reg.attributes(h))

	var mws []Middleware
	if !c.BypassMiddleware {
		mws = m.registry.middlewareFor(key)
	}

	m.logger.Debug("executing command",
		zap.String("message", TypeName(c.messageType)),
		zap.String("handler", typeNameOf(h)),
		zap.Int("middleware", len(mws)),
	)

	terminal := func(ctx context.Context) (any, error) {
		return nil, reg.command(ctx, h, c.message)
	}

	_, err = invoke(ctx, c.messageType, Build(c, terminal, mws))
	return wrapHandlerError(c.messageType, err)
}

package middleware

import (
	"context"
	"reflect"
	"sync"

	"github.com/bjaus/mediator"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ThrottleMiddleware is a cooldown gate for event handlers registered with
// a Throttle attribute. The first event runs immediately and starts the
// cooldown; events arriving before it elapses are dropped. State is kept
// per handler and event type.
type ThrottleMiddleware struct {
	opts options

	mu    sync.Mutex
	gates map[gateKey]*rate.Limiter
}

type gateKey struct {
	handler any
	event   reflect.Type
}

var _ mediator.EventMiddleware = (*ThrottleMiddleware)(nil)

// NewThrottle creates a ThrottleMiddleware.
func NewThrottle(opts ...Option) *ThrottleMiddleware {
	return &ThrottleMiddleware{
		opts:  newOptions(opts),
		gates: make(map[gateKey]*rate.Limiter),
	}
}

// ProcessEvent implements mediator.EventMiddleware.
func (m *ThrottleMiddleware) ProcessEvent(ctx context.Context, c *mediator.Context, next mediator.EventNext) error {
	attr, ok := mediator.Attribute[Throttle](c)
	if !ok || attr.Cooldown <= 0 {
		return next(ctx)
	}

	if !m.gate(c, attr).AllowN(m.opts.clock.Now(), 1) {
		m.opts.logger.Debug("event throttled",
			zap.String("message", mediator.TypeName(c.MessageType())),
			zap.Duration("cooldown", attr.Cooldown),
		)
		return nil
	}
	return next(ctx)
}

func (m *ThrottleMiddleware) gate(c *mediator.Context, attr Throttle) *rate.Limiter {
	key := gateKey{handler: c.HandlerKey(), event: c.MessageType()}

	m.mu.Lock()
	defer m.mu.Unlock()

	lim, ok := m.gates[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(attr.Cooldown), 1)
		m.gates[key] = lim
	}
	return lim
}

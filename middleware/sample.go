package middleware

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/bjaus/mediator"
	"go.uber.org/zap"
)

// SampleMiddleware delivers at most one event per fixed window to handlers
// registered with a Sample attribute. The first event opens the window and
// later events replace it as the pending one without extending the window.
// When the window closes the handler runs once with the latest event.
//
// Sampled handlers run on the clock's timer goroutine with a context that is
// no longer cancelled with the publish, so Publish returns before they run
// and their failures are logged rather than returned. Each delivery gets a
// rebuilt Context on a fresh Scope, closed once the handler returns.
type SampleMiddleware struct {
	opts options

	mu      sync.Mutex
	windows map[gateKey]*window
}

type window struct {
	ctx   context.Context
	c     *mediator.Context
	next  mediator.EventNext
	timer *clock.Timer
}

var _ mediator.EventMiddleware = (*SampleMiddleware)(nil)

// NewSample creates a SampleMiddleware.
func NewSample(opts ...Option) *SampleMiddleware {
	return &SampleMiddleware{
		opts:    newOptions(opts),
		windows: make(map[gateKey]*window),
	}
}

// ProcessEvent implements mediator.EventMiddleware.
func (m *SampleMiddleware) ProcessEvent(ctx context.Context, c *mediator.Context, next mediator.EventNext) error {
	attr, ok := mediator.Attribute[Sample](c)
	if !ok || attr.Window <= 0 {
		return next(ctx)
	}

	key := gateKey{handler: c.HandlerKey(), event: c.MessageType()}

	m.mu.Lock()
	defer m.mu.Unlock()

	if w, open := m.windows[key]; open {
		w.ctx, w.c, w.next = context.WithoutCancel(ctx), c, next
		return nil
	}

	w := &window{ctx: context.WithoutCancel(ctx), c: c, next: next}
	m.windows[key] = w
	w.timer = m.opts.clock.AfterFunc(attr.Window, func() {
		m.fire(key)
	})
	return nil
}

// Pending reports how many windows are open.
func (m *SampleMiddleware) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}

// Stop cancels every open window without delivering its event.
func (m *SampleMiddleware) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, w := range m.windows {
		w.timer.Stop()
		delete(m.windows, key)
	}
}

func (m *SampleMiddleware) fire(key gateKey) {
	m.mu.Lock()
	w, ok := m.windows[key]
	delete(m.windows, key)
	m.mu.Unlock()

	if !ok {
		return
	}
	scope := mediator.NewScope()
	defer func() {
		if err := scope.Close(); err != nil {
			m.opts.logger.Warn("closing sampled event scope", zap.Error(err))
		}
	}()

	c := w.c.Rebuild(scope, nil)
	if err := m.run(mediator.WithContext(w.ctx, c), c, w.next); err != nil {
		m.opts.logger.Warn("sampled event handler failed",
			zap.String("message", mediator.TypeName(w.c.MessageType())),
			zap.Error(err),
		)
	}
}

func (m *SampleMiddleware) run(ctx context.Context, c *mediator.Context, next mediator.EventNext) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &mediator.HandlerError{
				MessageType: reflect.TypeOf(c.Message()),
				Err:         fmt.Errorf("panic: %v", p),
				Panic:       p,
			}
		}
	}()
	return next(ctx)
}

package mediator

import (
	"context"
	"reflect"
	"slices"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// EventCollector supplies additional handlers for a published event, for
// example handlers that live on a message bus outside the Registry.
//
// A comparable Subscriber is its own handler key. Any other Subscriber, a
// SubscriberFunc for instance, is keyed by its collector and its index in
// the returned slice, so per-handler middleware state such as throttling
// carries across publishes only while that index is stable.
type EventCollector interface {
	Collect(ctx context.Context, event any) []Subscriber
}

// EventCollectorFunc is a function adapter for EventCollector.
type EventCollectorFunc func(ctx context.Context, event any) []Subscriber

// Collect implements the EventCollector interface.
func (f EventCollectorFunc) Collect(ctx context.Context, event any) []Subscriber {
	return f(ctx, event)
}

// Subscription is a runtime event handler added with Subscribe. Close
// removes it; publishes already in flight may still deliver to it.
type Subscription struct {
	subs      *subscriptions
	eventType reflect.Type
	notify    func(ctx context.Context, event any) error
	once      sync.Once
}

// Notify implements the Subscriber interface.
func (s *Subscription) Notify(ctx context.Context, event any) error {
	return s.notify(ctx, event)
}

// EventType returns the event type the subscription listens for.
func (s *Subscription) EventType() reflect.Type { return s.eventType }

// Close deregisters the subscription. It is safe to call more than once.
func (s *Subscription) Close() error {
	s.once.Do(func() {
		s.subs.remove(s)
	})
	return nil
}

// subscriptions is the runtime subscription list owned by one Mediator.
type subscriptions struct {
	mu     sync.RWMutex
	byType map[reflect.Type][]*Subscription
}

func newSubscriptions() *subscriptions {
	return &subscriptions{byType: make(map[reflect.Type][]*Subscription)}
}

func (s *subscriptions) add(sub *Subscription) {
	s.mu.Lock()
	s.byType[sub.eventType] = append(s.byType[sub.eventType], sub)
	s.mu.Unlock()
}

func (s *subscriptions) remove(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.byType[sub.eventType]
	i := slices.Index(list, sub)
	if i < 0 {
		return
	}
	list = slices.Delete(slices.Clone(list), i, i+1)
	if len(list) == 0 {
		delete(s.byType, sub.eventType)
		return
	}
	s.byType[sub.eventType] = list
}

func (s *subscriptions) snapshot(t reflect.Type) []*Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.byType[t])
}

// Subscribe adds fn as a handler for E events published through m. Close
// the returned Subscription to remove it.
//
// Example:
//
//	sub := mediator.Subscribe(m, func(ctx context.Context, ev UserCreated) error {
//	    log.Println("created", ev.ID)
//	    return nil
//	})
//	defer sub.Close()
func Subscribe[E any](m *Mediator, fn func(ctx context.Context, ev E) error) *Subscription {
	sub := &Subscription{
		subs:      m.subs,
		eventType: reflect.TypeFor[E](),
		notify: func(ctx context.Context, event any) error {
			ev, ok := event.(E)
			if !ok {
				return nil
			}
			return fn(ctx, ev)
		},
	}
	m.subs.add(sub)
	return sub
}

// target is one resolved handler for a publish.
type target struct {
	key     any
	handler any
	attrs   []any
	err     error
	invoke  EventNext
}

// localEvents fans events out to registry handlers, runtime subscriptions
// and collector supplied handlers.
type localEvents struct {
	m *Mediator
}

func (e *localEvents) CanHandle(any) bool { return true }

func (e *localEvents) Publish(ctx context.Context, c *Context, parallel bool) error {
	m := e.m
	targets := e.targets(ctx, c)
	if len(targets) == 0 {
		m.logger.Debug("no event handlers", zap.String("message", TypeName(c.messageType)))
		return nil
	}

	var mws []EventMiddleware
	if !c.BypassMiddleware {
		mws = m.registry.eventMiddleware(typeKey{kind: KindEvent, message: c.messageType})
	}

	children := make([]*Context, len(targets))
	for i, t := range targets {
		child := c.CreateChild(c.message)
		child.messageType = c.messageType
		child.kind = KindEvent
		child.resolved(t.handler, t.attrs)
		child.handlerKey = t.key
		children[i] = child
	}

	m.logger.Debug("publishing event",
		zap.String("message", TypeName(c.messageType)),
		zap.Int("handlers", len(targets)),
		zap.Bool("parallel", parallel),
	)

	errs := make([]error, len(targets))
	deliver := func(i int) {
		errs[i] = e.deliver(ctx, children[i], targets[i], mws)
	}

	if parallel && len(targets) > 1 {
		var g errgroup.Group
		if m.maxConcurrency > 0 {
			g.SetLimit(m.maxConcurrency)
		}
		for i := range targets {
			g.Go(func() error {
				deliver(i)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i := range targets {
			deliver(i)
		}
	}

	return multierr.Combine(errs...)
}

// deliver runs one handler on its own child Context.
func (e *localEvents) deliver(ctx context.Context, child *Context, t *target, mws []EventMiddleware) error {
	if t.err != nil {
		err := wrapHandlerError(child.messageType, t.err)
		child.setErr(err)
		return err
	}

	ctx = WithContext(ctx, child)
	next := BuildEvent(child, t.invoke, mws)

	_, err := invoke(ctx, child.messageType, func(ctx context.Context) (any, error) {
		return nil, next(ctx)
	})
	err = wrapHandlerError(child.messageType, err)
	if err != nil {
		e.m.logger.Debug("event handler failed",
			zap.String("message", TypeName(child.messageType)),
			zap.String("handler", typeNameOf(t.handler)),
			zap.Error(err),
		)
	}
	child.setErr(err)
	return err
}

// targets merges the three handler sources in order: registry, runtime
// subscriptions, collectors. A handler seen twice runs once.
func (e *localEvents) targets(ctx context.Context, c *Context) []*target {
	m := e.m
	msg := c.message
	seen := make(map[any]struct{})

	var out []*target
	add := func(t *target) {
		if _, dup := seen[t.key]; dup {
			return
		}
		seen[t.key] = struct{}{}
		out = append(out, t)
	}

	for _, reg := range m.registry.eventHandlers(c.messageType) {
		h, err := reg.resolve(c.scope)
		if err != nil {
			add(&target{key: reg, err: err})
			continue
		}
		add(&target{
			key:     identity(h, reg),
			handler: h,
			attrs:   reg.attributes(h),
			invoke: func(ctx context.Context) error {
				return reg.event(ctx, h, msg)
			},
		})
	}

	for _, sub := range m.subs.snapshot(c.messageType) {
		add(&target{
			key:     sub,
			handler: sub,
			invoke: func(ctx context.Context) error {
				return sub.Notify(ctx, msg)
			},
		})
	}

	for ci, col := range m.registry.eventCollectors() {
		for i, s := range col.Collect(ctx, msg) {
			if s == nil {
				continue
			}
			var attrs []any
			if ap, ok := s.(AttributeProvider); ok {
				attrs = ap.Attributes()
			}
			add(&target{
				key:     identity(s, collected{collector: ci, position: i}),
				handler: s,
				attrs:   attrs,
				invoke: func(ctx context.Context) error {
					return s.Notify(ctx, msg)
				},
			})
		}
	}

	return out
}

// collected keys a subscriber that cannot identify itself by the collector
// that supplied it and its position in the returned slice.
type collected struct {
	collector int
	position  int
}

// identity returns a comparable key for handler. Comparable values other
// than functions identify themselves; otherwise fallback is used.
func identity(handler any, fallback any) any {
	rv := reflect.ValueOf(handler)
	if rv.IsValid() && rv.Kind() != reflect.Func && rv.Comparable() {
		return handler
	}
	return fallback
}

// interceptEvent offers each failed handler's error to the exception
// handlers individually and returns whatever they leave unhandled.
func (m *Mediator) interceptEvent(ctx context.Context, c *Context, err error) error {
	c.setErr(err)

	if c.parent != nil || c.BypassExceptionHandling {
		return err
	}

	var failed []*Context
	for _, child := range c.Children() {
		if child.Err() != nil {
			failed = append(failed, child)
		}
	}
	if len(failed) == 0 {
		if m.offer(ctx, c, err) {
			return nil
		}
		return err
	}

	var remaining error
	for _, child := range failed {
		if !m.offer(ctx, child, child.Err()) {
			remaining = multierr.Append(remaining, child.Err())
		}
	}
	return remaining
}

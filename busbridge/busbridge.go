// Package busbridge connects a mediator to an asaskevich/EventBus bus in
// both directions.
//
// As an event collector, a Bridge forwards every published event whose
// topic has bus subscribers onto the bus. With Forward, events published on
// the bus are republished through the mediator. Events that arrive from the
// bus carry the FromBus header and are not collected again.
package busbridge

import (
	"context"
	"reflect"
	"sync"

	evbus "github.com/asaskevich/EventBus"
	"github.com/bjaus/mediator"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// FromBus is the header set on events republished from the bus.
const FromBus = "busbridge.FromBus"

// TopicFunc names the bus topic for an event.
type TopicFunc func(event any) string

// Topic is the default TopicFunc: the fully qualified event type name.
func Topic(event any) string {
	return mediator.TypeName(reflect.TypeOf(event))
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithTopicFunc sets how events map to bus topics.
func WithTopicFunc(fn TopicFunc) Option {
	return func(b *Bridge) {
		if fn != nil {
			b.topic = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

// Bridge is a mediator.EventCollector over an EventBus bus.
type Bridge struct {
	bus    evbus.Bus
	topic  TopicFunc
	logger *zap.Logger
	out    *forwarder

	mu       sync.Mutex
	forwards []forward
}

type forward struct {
	topic string
	fn    func(ctx context.Context, event any)
}

var _ mediator.EventCollector = (*Bridge)(nil)

// New creates a Bridge over bus.
func New(bus evbus.Bus, opts ...Option) *Bridge {
	b := &Bridge{
		bus:    bus,
		topic:  Topic,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.out = &forwarder{b: b}
	return b
}

// Bus returns the underlying bus.
func (b *Bridge) Bus() evbus.Bus { return b.bus }

// Collect implements mediator.EventCollector.
func (b *Bridge) Collect(ctx context.Context, event any) []mediator.Subscriber {
	if c, ok := mediator.FromContext(ctx); ok && c.HasHeader(FromBus) {
		return nil
	}
	if !b.bus.HasCallback(b.topic(event)) {
		return nil
	}
	return []mediator.Subscriber{b.out}
}

// forwarder publishes mediator events onto the bus.
type forwarder struct {
	b *Bridge
}

// Notify implements mediator.Subscriber.
func (f *forwarder) Notify(ctx context.Context, event any) error {
	f.b.bus.Publish(f.b.topic(event), ctx, event)
	return nil
}

// Forward republishes events from topic through m. Publishers on the bus
// must pass a context.Context and the event as arguments. Events published
// with a context that already belongs to a mediator dispatch are skipped,
// which keeps events this Bridge put on the bus from coming back.
func (b *Bridge) Forward(m *mediator.Mediator, topic string) error {
	fn := func(ctx context.Context, event any) {
		if ctx == nil {
			ctx = context.Background()
		}
		if _, inDispatch := mediator.FromContext(ctx); inDispatch {
			return
		}
		if _, err := m.Publish(ctx, event, mediator.WithHeader(FromBus, true)); err != nil {
			b.logger.Warn("bus event failed",
				zap.String("topic", topic),
				zap.Error(err),
			)
		}
	}
	if err := b.bus.Subscribe(topic, fn); err != nil {
		return err
	}

	b.mu.Lock()
	b.forwards = append(b.forwards, forward{topic: topic, fn: fn})
	b.mu.Unlock()
	return nil
}

// Close removes every Forward subscription.
func (b *Bridge) Close() error {
	b.mu.Lock()
	forwards := b.forwards
	b.forwards = nil
	b.mu.Unlock()

	var err error
	for _, f := range forwards {
		err = multierr.Append(err, b.bus.Unsubscribe(f.topic, f.fn))
	}
	return err
}

package mediator

import (
	"context"
	"iter"
)

// RequestHandler handles a request of type Q and returns a result of type R.
// Exactly one handler may be registered per (Q, R) pair.
//
// Example:
//
//	type EchoHandler struct{}
//
//	func (EchoHandler) Handle(ctx context.Context, req Echo) (string, error) {
//	    return "RESPONSE-" + req.Input, nil
//	}
type RequestHandler[Q, R any] interface {
	Handle(ctx context.Context, req Q) (R, error)
}

// RequestHandlerFunc is a function adapter for RequestHandler.
type RequestHandlerFunc[Q, R any] func(ctx context.Context, req Q) (R, error)

// Handle implements the RequestHandler interface.
func (f RequestHandlerFunc[Q, R]) Handle(ctx context.Context, req Q) (R, error) {
	return f(ctx, req)
}

// CommandHandler handles a command of type C. Commands produce no result.
type CommandHandler[C any] interface {
	Handle(ctx context.Context, cmd C) error
}

// CommandHandlerFunc is a function adapter for CommandHandler.
type CommandHandlerFunc[C any] func(ctx context.Context, cmd C) error

// Handle implements the CommandHandler interface.
func (f CommandHandlerFunc[C]) Handle(ctx context.Context, cmd C) error {
	return f(ctx, cmd)
}

// EventHandler handles an event of type E. Any number of handlers may be
// registered for the same event type.
type EventHandler[E any] interface {
	Handle(ctx context.Context, ev E) error
}

// EventHandlerFunc is a function adapter for EventHandler.
type EventHandlerFunc[E any] func(ctx context.Context, ev E) error

// Handle implements the EventHandler interface.
func (f EventHandlerFunc[E]) Handle(ctx context.Context, ev E) error {
	return f(ctx, ev)
}

// StreamHandler produces a lazy sequence of results for a stream request.
// The sequence must stop producing once ctx is cancelled or the consumer
// stops ranging over it.
//
// Example:
//
//	func (h *TickHandler) Handle(ctx context.Context, req Ticks) iter.Seq2[int, error] {
//	    return func(yield func(int, error) bool) {
//	        for i := range req.Count {
//	            if ctx.Err() != nil || !yield(i, nil) {
//	                return
//	            }
//	        }
//	    }
//	}
type StreamHandler[Q, R any] interface {
	Handle(ctx context.Context, req Q) iter.Seq2[R, error]
}

// StreamHandlerFunc is a function adapter for StreamHandler.
type StreamHandlerFunc[Q, R any] func(ctx context.Context, req Q) iter.Seq2[R, error]

// Handle implements the StreamHandler interface.
func (f StreamHandlerFunc[Q, R]) Handle(ctx context.Context, req Q) iter.Seq2[R, error] {
	return f(ctx, req)
}

// Subscriber receives events without compile-time knowledge of their type.
// Event collectors return Subscribers.
type Subscriber interface {
	Notify(ctx context.Context, event any) error
}

// SubscriberFunc is a function adapter for Subscriber.
type SubscriberFunc func(ctx context.Context, event any) error

// Notify implements the Subscriber interface.
func (f SubscriberFunc) Notify(ctx context.Context, event any) error {
	return f(ctx, event)
}

// AttributeProvider is an optional interface for handlers that carry
// middleware metadata such as cache or throttle settings. Attributes are
// read once per dispatch, after the handler is resolved.
type AttributeProvider interface {
	Attributes() []any
}

// Event marks values that can be returned from a request handler and
// published automatically. Embed EventBase to implement it.
type Event interface {
	mediatorEvent()
}

// EventBase implements Event.
type EventBase struct{}

func (EventBase) mediatorEvent() {}

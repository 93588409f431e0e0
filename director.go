package mediator

import (
	"context"
	"iter"
)

// RequestExecutor services request dispatches. The result type expected by
// the caller is available from Context.ResultType.
type RequestExecutor interface {
	CanHandle(msg any) bool
	Request(ctx context.Context, c *Context) (any, error)
}

// CommandExecutor services command dispatches.
type CommandExecutor interface {
	CanHandle(msg any) bool
	Send(ctx context.Context, c *Context) error
}

// EventExecutor services event publishes. Implementations create one child
// of c per handler and return the combined handler failures.
type EventExecutor interface {
	CanHandle(msg any) bool
	Publish(ctx context.Context, c *Context, parallel bool) error
}

// StreamExecutor services stream requests.
type StreamExecutor interface {
	CanHandle(msg any) bool
	Stream(ctx context.Context, c *Context) iter.Seq2[any, error]
}

// Director picks the executor for a message. Executors added with the
// With*Executor options are probed in order and the first whose CanHandle
// reports true wins; otherwise the local executor is used.
type Director struct {
	requests []RequestExecutor
	commands []CommandExecutor
	events   []EventExecutor
	streams  []StreamExecutor

	defaultRequest RequestExecutor
	defaultCommand CommandExecutor
	defaultEvent   EventExecutor
	defaultStream  StreamExecutor
}

// RequestExecutor returns the executor for msg.
func (d *Director) RequestExecutor(msg any) RequestExecutor {
	for _, e := range d.requests {
		if e.CanHandle(msg) {
			return e
		}
	}
	return d.defaultRequest
}

// CommandExecutor returns the executor for msg.
func (d *Director) CommandExecutor(msg any) CommandExecutor {
	for _, e := range d.commands {
		if e.CanHandle(msg) {
			return e
		}
	}
	return d.defaultCommand
}

// EventExecutor returns the executor for msg.
func (d *Director) EventExecutor(msg any) EventExecutor {
	for _, e := range d.events {
		if e.CanHandle(msg) {
			return e
		}
	}
	return d.defaultEvent
}

// StreamExecutor returns the executor for msg.
func (d *Director) StreamExecutor(msg any) StreamExecutor {
	for _, e := range d.streams {
		if e.CanHandle(msg) {
			return e
		}
	}
	return d.defaultStream
}

// WithRequestExecutor adds e to the request probe list.
func WithRequestExecutor(e RequestExecutor) Option {
	return func(m *Mediator) {
		m.director.requests = append(m.director.requests, e)
	}
}

// WithCommandExecutor adds e to the command probe list.
func WithCommandExecutor(e CommandExecutor) Option {
	return func(m *Mediator) {
		m.director.commands = append(m.director.commands, e)
	}
}

// WithEventExecutor adds e to the event probe list.
func WithEventExecutor(e EventExecutor) Option {
	return func(m *Mediator) {
		m.director.events = append(m.director.events, e)
	}
}

// WithStreamExecutor adds e to the stream probe list.
func WithStreamExecutor(e StreamExecutor) Option {
	return func(m *Mediator) {
		m.director.streams = append(m.director.streams, e)
	}
}

// RequestRoute builds a RequestExecutor from a Matcher and a function. Use
// it to send selected requests somewhere other than local handlers:
//
//	mediator.WithRequestExecutor(mediator.RequestRoute(
//	    mediator.Implements[RemoteRequest](),
//	    func(ctx context.Context, c *mediator.Context) (any, error) {
//	        return rpc.Call(ctx, c.Message())
//	    },
//	))
func RequestRoute(m Matcher, fn func(ctx context.Context, c *Context) (any, error)) RequestExecutor {
	return requestRoute{m: m, fn: fn}
}

type requestRoute struct {
	m  Matcher
	fn func(ctx context.Context, c *Context) (any, error)
}

func (r requestRoute) CanHandle(msg any) bool { return r.m.Match(msg) }

func (r requestRoute) Request(ctx context.Context, c *Context) (any, error) { return r.fn(ctx, c) }

// CommandRoute builds a CommandExecutor from a Matcher and a function.
func CommandRoute(m Matcher, fn func(ctx context.Context, c *Context) error) CommandExecutor {
	return commandRoute{m: m, fn: fn}
}

type commandRoute struct {
	m  Matcher
	fn func(ctx context.Context, c *Context) error
}

func (r commandRoute) CanHandle(msg any) bool { return r.m.Match(msg) }

func (r commandRoute) Send(ctx context.Context, c *Context) error { return r.fn(ctx, c) }

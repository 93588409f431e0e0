package mediator

import (
	"context"
	"reflect"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/bjaus/mediator"

// Mediator dispatches requests, commands, events and stream requests to the
// handlers in its Registry, running the registered middleware around each
// dispatch.
//
// Usage:
//  1. Create a Registry with NewRegistry
//  2. Register handlers and middleware
//  3. Create a Mediator with New
//  4. Dispatch with Request, Send, Publish or Stream
//
// Mediator is safe for concurrent use. Every top-level call gets its own
// Context tree and execution Scope.
type Mediator struct {
	registry *Registry
	director *Director
	subs     *subscriptions

	logger *zap.Logger
	clock  clock.Clock
	tracer trace.Tracer
	hooks  hooks

	parallel       bool
	maxConcurrency int
}

// Option configures a Mediator.
type Option func(*Mediator)

// New creates a Mediator over r.
//
// Example:
//
//	reg := mediator.NewRegistry()
//	mediator.RegisterRequest[Echo, string](reg, EchoHandler{})
//
//	m := mediator.New(reg,
//	    mediator.WithLogger(logger),
//	    mediator.WithOnFailure(func(ctx context.Context, c *mediator.Context, err error, d time.Duration) {
//	        logger.Warn("dispatch failed", zap.Error(err))
//	    }),
//	)
func New(r *Registry, opts ...Option) *Mediator {
	m := &Mediator{
		registry: r,
		director: &Director{},
		subs:     newSubscriptions(),
		logger:   zap.NewNop(),
		clock:    clock.New(),
		tracer:   otel.Tracer(tracerName),
		parallel: true,
	}
	m.director.defaultRequest = &localRequests{m: m}
	m.director.defaultCommand = &localCommands{m: m}
	m.director.defaultEvent = &localEvents{m: m}
	m.director.defaultStream = &localStreams{m: m}

	for _, opt := range opts {
		opt(m)
	}
	return m
}

// WithLogger sets the logger used for dispatch diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(m *Mediator) {
		if l != nil {
			m.logger = l.Named("mediator")
		}
	}
}

// WithClock sets the time source. Use clock.NewMock() in tests.
func WithClock(c clock.Clock) Option {
	return func(m *Mediator) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithTracer sets the tracer used to open a span per dispatch.
func WithTracer(t trace.Tracer) Option {
	return func(m *Mediator) {
		if t != nil {
			m.tracer = t
		}
	}
}

// WithParallelPublish sets the default fan-out discipline for Publish.
// Parallel is the default.
func WithParallelPublish(parallel bool) Option {
	return func(m *Mediator) {
		m.parallel = parallel
	}
}

// WithMaxConcurrency caps how many event handlers run at once during a
// parallel publish. Zero means no limit.
func WithMaxConcurrency(n int) Option {
	return func(m *Mediator) {
		m.maxConcurrency = n
	}
}

// Registry returns the registry the mediator resolves from.
func (m *Mediator) Registry() *Registry { return m.registry }

// Director returns the executor director.
func (m *Mediator) Director() *Director { return m.director }

// Clock returns the mediator's time source.
func (m *Mediator) Clock() clock.Clock { return m.clock }

// Logger returns the mediator's logger.
func (m *Mediator) Logger() *zap.Logger { return m.logger }

// CallOption configures a single dispatch.
type CallOption func(*callOptions)

type callOptions struct {
	headers          map[string]any
	parallel         *bool
	bypassMiddleware bool
	bypassExceptions bool
}

// WithHeader adds a header to the dispatch Context.
func WithHeader(key string, value any) CallOption {
	return func(o *callOptions) {
		if o.headers == nil {
			o.headers = make(map[string]any)
		}
		o.headers[key] = value
	}
}

// WithHeaders adds every entry of headers to the dispatch Context.
func WithHeaders(headers map[string]any) CallOption {
	return func(o *callOptions) {
		for k, v := range headers {
			WithHeader(k, v)(o)
		}
	}
}

// Sequential publishes to event handlers one at a time, in registration
// order.
func Sequential() CallOption {
	return func(o *callOptions) {
		p := false
		o.parallel = &p
	}
}

// Parallel publishes to all event handlers concurrently.
func Parallel() CallOption {
	return func(o *callOptions) {
		p := true
		o.parallel = &p
	}
}

// BypassMiddleware invokes the handler directly.
func BypassMiddleware() CallOption {
	return func(o *callOptions) {
		o.bypassMiddleware = true
	}
}

// BypassExceptionHandling returns failures without consulting exception
// handlers.
func BypassExceptionHandling() CallOption {
	return func(o *callOptions) {
		o.bypassExceptions = true
	}
}

// begin creates the Context for a dispatch. A Context carried by ctx
// becomes the parent.
func (m *Mediator) begin(ctx context.Context, msg any, msgType reflect.Type, opts []CallOption) (*Context, callOptions, error) {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}

	parent, _ := FromContext(ctx)
	c := m.newContext(msg, parent)
	c.messageType = msgType
	if o.bypassMiddleware {
		c.BypassMiddleware = true
	}
	if o.bypassExceptions {
		c.BypassExceptionHandling = true
	}
	if err := c.addHeaders(o.headers); err != nil {
		return c, o, err
	}
	return c, o, nil
}

// run owns the scope, span, hooks and exception interception around fn.
func (m *Mediator) run(ctx context.Context, c *Context, kind Kind, fn func(context.Context) (any, error), intercept func(context.Context, *Context, error) error) (any, error) {
	if c.scope == nil {
		c.scope = NewScope()
		defer m.closeScope(c)
	}

	c.kind = kind
	name := TypeName(c.messageType)
	ctx, span := m.tracer.Start(ctx, "mediator."+string(kind),
		trace.WithAttributes(
			attribute.String("mediator.message", name),
			attribute.String("mediator.context_id", c.id.String()),
		),
	)
	defer span.End()
	c.span = span
	ctx = WithContext(ctx, c)

	m.callOnDispatch(ctx, c)
	m.logger.Debug("dispatching", zap.String("kind", string(kind)), zap.String("message", name))

	start := m.clock.Now()
	v, err := fn(ctx)
	d := m.clock.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.callOnFailure(ctx, c, err, d)
		if err = intercept(ctx, c, err); err != nil {
			return nil, err
		}
		return nil, nil
	}

	m.callOnSuccess(ctx, c, d)
	return v, nil
}

func (m *Mediator) closeScope(c *Context) {
	if err := c.scope.Close(); err != nil {
		m.logger.Warn("closing scope", zap.String("message", TypeName(c.messageType)), zap.Error(err))
	}
}

// Request dispatches req to the single handler registered for (Q, R) and
// returns the dispatch Context and the handler's result.
//
// A request with no handler fails with *NoHandlerFoundError. If the result
// implements Event it is published before Request returns.
//
// Example:
//
//	c, res, err := mediator.Request[string](ctx, m, Echo{Input: "hi"})
func Request[R, Q any](ctx context.Context, m *Mediator, req Q, opts ...CallOption) (*Context, R, error) {
	var zero R

	c, _, err := m.begin(ctx, req, reflect.TypeFor[Q](), opts)
	if err != nil {
		return c, zero, err
	}
	c.resultType = reflect.TypeFor[R]()

	v, err := m.run(ctx, c, KindRequest, func(ctx context.Context) (any, error) {
		return m.director.RequestExecutor(req).Request(ctx, c)
	}, m.intercept)
	if err != nil {
		return c, zero, err
	}

	res, _ := v.(R)
	return c, res, nil
}

// Send dispatches cmd to its single command handler.
func (m *Mediator) Send(ctx context.Context, cmd any, opts ...CallOption) (*Context, error) {
	c, _, err := m.begin(ctx, cmd, reflect.TypeOf(cmd), opts)
	if err != nil {
		return c, err
	}
	return c, m.SendContext(ctx, c)
}

// SendContext dispatches the command held by an existing Context. It is
// used to replay deferred commands against a rebuilt Context.
func (m *Mediator) SendContext(ctx context.Context, c *Context) error {
	_, err := m.run(ctx, c, KindCommand, func(ctx context.Context) (any, error) {
		return nil, m.director.CommandExecutor(c.message).Send(ctx, c)
	}, m.intercept)
	return err
}

// EventResult is the aggregated outcome of a Publish. Each handler ran on
// its own child of Context.
type EventResult struct {
	Context *Context
}

// Handlers returns the per-handler contexts.
func (r *EventResult) Handlers() []*Context {
	return r.Context.Children()
}

// Err returns the combined failures no exception handler consumed.
func (r *EventResult) Err() error {
	return r.Context.Err()
}

// Publish delivers ev to every handler registered for its type, every
// runtime subscription and every handler supplied by an event collector.
// Publishing an event nobody handles is not an error.
//
// The returned error is the same as EventResult.Err: the combined handler
// failures that no exception handler consumed.
func (m *Mediator) Publish(ctx context.Context, ev any, opts ...CallOption) (*EventResult, error) {
	c, o, err := m.begin(ctx, ev, reflect.TypeOf(ev), opts)
	if err != nil {
		return &EventResult{Context: c}, err
	}

	parallel := m.parallel
	if o.parallel != nil {
		parallel = *o.parallel
	}
	return m.publish(ctx, c, parallel)
}

func (m *Mediator) publish(ctx context.Context, c *Context, parallel bool) (*EventResult, error) {
	_, err := m.run(ctx, c, KindEvent, func(ctx context.Context) (any, error) {
		return nil, m.director.EventExecutor(c.message).Publish(ctx, c, parallel)
	}, m.interceptEvent)
	c.setErr(err)
	return &EventResult{Context: c}, err
}

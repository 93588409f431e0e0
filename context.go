package mediator

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// Context is the state carried by one node of a dispatch tree. A Context is
// created for every top-level Request, Send, Publish or Stream call and a
// child is created for every nested dispatch.
//
// Headers are private to a Context: children never inherit them.
type Context struct {
	id          uuid.UUID
	message     any
	messageType reflect.Type
	kind        Kind
	createdAt   time.Time

	// BypassMiddleware runs the handler without any middleware.
	BypassMiddleware bool

	// BypassExceptionHandling returns failures to the caller without
	// consulting exception handlers.
	BypassExceptionHandling bool

	handler    any
	handlerKey any
	attributes []any
	resultType reflect.Type

	headerMu sync.RWMutex
	headers  map[string]any

	errMu sync.RWMutex
	err   error

	parent   *Context
	childMu  sync.Mutex
	children []*Context

	scope    *Scope
	span     trace.Span
	mediator *Mediator
}

// NewContext creates a detached root Context for msg.
func NewContext(msg any) *Context {
	return &Context{
		id:          uuid.New(),
		message:     msg,
		messageType: reflect.TypeOf(msg),
		createdAt:   time.Now(),
		headers:     make(map[string]any),
		span:        trace.SpanFromContext(context.Background()),
	}
}

func (m *Mediator) newContext(msg any, parent *Context) *Context {
	if parent != nil {
		return parent.CreateChild(msg)
	}
	c := NewContext(msg)
	c.createdAt = m.clock.Now()
	c.mediator = m
	return c
}

// ID uniquely identifies the Context.
func (c *Context) ID() uuid.UUID { return c.id }

// Message returns the message being dispatched.
func (c *Context) Message() any { return c.message }

// MessageType returns the type the message was dispatched as.
func (c *Context) MessageType() reflect.Type { return c.messageType }

// Kind returns the dispatch shape, once the dispatch has started.
func (c *Context) Kind() Kind { return c.kind }

// CreatedAt returns when the Context was created.
func (c *Context) CreatedAt() time.Time { return c.createdAt }

// Handler returns the resolved handler, or nil before resolution.
func (c *Context) Handler() any { return c.handler }

// HandlerKey returns a comparable identity for the resolved handler. Event
// middleware keys per-handler state with it.
func (c *Context) HandlerKey() any {
	if c.handlerKey != nil {
		return c.handlerKey
	}
	return identity(c.handler, c)
}

// Attributes returns the metadata attached to the resolved handler.
func (c *Context) Attributes() []any { return c.attributes }

// Attribute returns the first attribute of type T attached to the resolved
// handler.
func Attribute[T any](c *Context) (T, bool) {
	for _, a := range c.attributes {
		if t, ok := a.(T); ok {
			return t, true
		}
	}
	var zero T
	return zero, false
}

// ResultType returns the expected result type for request and stream
// dispatches, or nil.
func (c *Context) ResultType() reflect.Type { return c.resultType }

// Parent returns the Context that spawned this one, or nil for a root.
func (c *Context) Parent() *Context { return c.parent }

// Scope returns the execution scope the Context is attached to.
func (c *Context) Scope() *Scope { return c.scope }

// Span returns the trace span linked to the Context.
func (c *Context) Span() trace.Span { return c.span }

// Mediator returns the mediator that created the Context, if any.
func (c *Context) Mediator() *Mediator { return c.mediator }

// Err returns the failure recorded during this node's execution.
func (c *Context) Err() error {
	c.errMu.RLock()
	defer c.errMu.RUnlock()
	return c.err
}

func (c *Context) setErr(err error) {
	c.errMu.Lock()
	c.err = err
	c.errMu.Unlock()
}

func (c *Context) resolved(handler any, attrs []any) {
	c.handler = handler
	c.attributes = attrs
}

// CreateChild creates a Context for a nested dispatch of msg. Bypass flags,
// span linkage and scope are copied; headers are not.
func (c *Context) CreateChild(msg any) *Context {
	child := &Context{
		id:                      uuid.New(),
		message:                 msg,
		messageType:             reflect.TypeOf(msg),
		createdAt:               time.Now(),
		BypassMiddleware:        c.BypassMiddleware,
		BypassExceptionHandling: c.BypassExceptionHandling,
		headers:                 make(map[string]any),
		parent:                  c,
		scope:                   c.scope,
		span:                    c.span,
		mediator:                c.mediator,
	}
	if c.mediator != nil {
		child.createdAt = c.mediator.clock.Now()
	}

	c.childMu.Lock()
	c.children = append(c.children, child)
	c.childMu.Unlock()

	return child
}

// Children returns a snapshot of the child contexts.
func (c *Context) Children() []*Context {
	c.childMu.Lock()
	defer c.childMu.Unlock()

	out := make([]*Context, len(c.children))
	copy(out, c.children)
	return out
}

// AddHeader stores value under key. Adding an existing key fails with
// *DuplicateHeaderKeyError.
func (c *Context) AddHeader(key string, value any) error {
	c.headerMu.Lock()
	defer c.headerMu.Unlock()

	if _, exists := c.headers[key]; exists {
		return &DuplicateHeaderKeyError{Key: key}
	}
	c.headers[key] = value
	return nil
}

// RemoveHeader deletes key if present.
func (c *Context) RemoveHeader(key string) {
	c.headerMu.Lock()
	delete(c.headers, key)
	c.headerMu.Unlock()
}

// ClearHeaders removes every header.
func (c *Context) ClearHeaders() {
	c.headerMu.Lock()
	c.headers = make(map[string]any)
	c.headerMu.Unlock()
}

// Headers returns a copy of the header map.
func (c *Context) Headers() map[string]any {
	c.headerMu.RLock()
	defer c.headerMu.RUnlock()

	out := make(map[string]any, len(c.headers))
	for k, v := range c.headers {
		out[k] = v
	}
	return out
}

// HasHeader reports whether key is present.
func (c *Context) HasHeader(key string) bool {
	c.headerMu.RLock()
	defer c.headerMu.RUnlock()
	_, ok := c.headers[key]
	return ok
}

func (c *Context) addHeaders(headers map[string]any) error {
	for k, v := range headers {
		if err := c.AddHeader(k, v); err != nil {
			return err
		}
	}
	return nil
}

// HeaderValue returns the header stored under key as T. It reports false if
// the key is absent or holds a value of another type.
func HeaderValue[T any](c *Context, key string) (T, bool) {
	c.headerMu.RLock()
	v, ok := c.headers[key]
	c.headerMu.RUnlock()

	if !ok {
		var zero T
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// Rebuild attaches a copy of the Context to a fresh scope and span. The copy
// keeps the id, message and headers so work deferred past the original
// scope (a scheduled command, for instance) still sees them.
func (c *Context) Rebuild(scope *Scope, span trace.Span) *Context {
	if span == nil {
		span = trace.SpanFromContext(context.Background())
	}
	return &Context{
		id:                      c.id,
		message:                 c.message,
		messageType:             c.messageType,
		kind:                    c.kind,
		createdAt:               c.createdAt,
		BypassMiddleware:        c.BypassMiddleware,
		BypassExceptionHandling: c.BypassExceptionHandling,
		handler:                 c.handler,
		handlerKey:              c.handlerKey,
		attributes:              c.attributes,
		resultType:              c.resultType,
		headers:                 c.Headers(),
		scope:                   scope,
		span:                    span,
		mediator:                c.mediator,
	}
}

type contextKey struct{}

// WithContext returns a copy of ctx carrying c. Dispatches made with the
// returned context become children of c.
func WithContext(ctx context.Context, c *Context) context.Context {
	return context.WithValue(ctx, contextKey{}, c)
}

// FromContext returns the Context carried by ctx, if any.
func FromContext(ctx context.Context) (*Context, bool) {
	c, ok := ctx.Value(contextKey{}).(*Context)
	return c, ok
}

package mediator

import (
	"cmp"
	"context"
	"fmt"
	"iter"
	"reflect"
	"slices"
	"sync"
)

// typeKey describes a (shape, message type, result type) triple. Result is
// nil for commands and events.
type typeKey struct {
	kind    Kind
	message reflect.Type
	result  reflect.Type
}

type (
	requestInvoker func(ctx context.Context, handler, msg any) (any, error)
	commandInvoker func(ctx context.Context, handler, msg any) error
	eventInvoker   func(ctx context.Context, handler, msg any) error
	streamInvoker  func(ctx context.Context, handler, msg any) iter.Seq2[any, error]
)

// registration is a handler entry in the Registry.
type registration struct {
	key      typeKey
	lifetime Lifetime
	factory  func(*Scope) (any, error)
	attrs    []any

	request requestInvoker
	command commandInvoker
	event   eventInvoker
	stream  streamInvoker

	once     sync.Once
	instance any
	err      error
}

// resolve returns the handler instance for the given scope.
func (reg *registration) resolve(s *Scope) (any, error) {
	switch reg.lifetime {
	case Scoped:
		if s == nil {
			return nil, fmt.Errorf("mediator: scoped handler for %s resolved without a scope", TypeName(reg.key.message))
		}
		return s.scoped(reg)
	case Transient:
		v, err := reg.factory(s)
		if err != nil {
			return nil, err
		}
		if s != nil {
			s.Track(v)
		}
		return v, nil
	default:
		reg.once.Do(func() {
			reg.instance, reg.err = reg.factory(s)
		})
		return reg.instance, reg.err
	}
}

// attributes merges registration attributes with those the handler itself
// provides.
func (reg *registration) attributes(handler any) []any {
	ap, ok := handler.(AttributeProvider)
	if !ok {
		return reg.attrs
	}
	own := ap.Attributes()
	if len(own) == 0 {
		return reg.attrs
	}
	out := make([]any, 0, len(reg.attrs)+len(own))
	out = append(out, reg.attrs...)
	return append(out, own...)
}

// entry is an ordered middleware, exception handler or collector.
type entry struct {
	value any
	order int
	seq   uint64
}

// Registry is the service locator the mediator resolves handlers,
// middleware, exception handlers and event collectors from.
//
// Registration is expected to happen during setup. Registry is safe for
// concurrent use, but registrations made while dispatches are in flight are
// only observed by later dispatches.
type Registry struct {
	mu sync.RWMutex

	handlers map[typeKey]*registration
	events   map[reflect.Type][]*registration

	closed map[typeKey][]entry
	open   map[Kind][]entry

	exceptions []entry
	collectors []entry

	seq uint64
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[typeKey]*registration),
		events:   make(map[reflect.Type][]*registration),
		closed:   make(map[typeKey][]entry),
		open:     make(map[Kind][]entry),
	}
}

// RegisterOption configures a handler or middleware registration.
type RegisterOption func(*registerOptions)

type registerOptions struct {
	order int
	attrs []any
}

// WithOrder sets the position of a middleware or exception handler. Lower
// orders run first (outermost); equal orders keep registration order.
func WithOrder(n int) RegisterOption {
	return func(o *registerOptions) {
		o.order = n
	}
}

// WithAttributes attaches middleware metadata, such as cache or throttle
// settings, to a handler registration.
func WithAttributes(attrs ...any) RegisterOption {
	return func(o *registerOptions) {
		o.attrs = append(o.attrs, attrs...)
	}
}

func applyOptions(opts []RegisterOption) registerOptions {
	var o registerOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (r *Registry) nextSeq() uint64 {
	r.seq++
	return r.seq
}

func (r *Registry) addHandler(reg *registration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[reg.key]; exists {
		return fmt.Errorf("%w: %s %s", ErrDuplicateHandler, reg.key.kind, TypeName(reg.key.message))
	}
	r.handlers[reg.key] = reg
	return nil
}

func (r *Registry) addEvent(reg *registration) {
	r.mu.Lock()
	r.events[reg.key.message] = append(r.events[reg.key.message], reg)
	r.mu.Unlock()
}

func (r *Registry) handler(key typeKey) (*registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.handlers[key]
	return reg, ok
}

func (r *Registry) eventHandlers(t reflect.Type) []*registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.events[t])
}

func (r *Registry) addMiddleware(key typeKey, mw any, opts []RegisterOption) {
	o := applyOptions(opts)

	r.mu.Lock()
	defer r.mu.Unlock()

	e := entry{value: mw, order: o.order, seq: r.nextSeq()}
	if key.message == nil {
		r.open[key.kind] = append(r.open[key.kind], e)
		return
	}
	r.closed[key] = append(r.closed[key], e)
}

// middleware returns open and closed middleware for key ordered by
// explicit order, then registration sequence.
func (r *Registry) middleware(key typeKey) []any {
	r.mu.RLock()
	open := r.open[key.kind]
	closed := r.closed[key]
	all := make([]entry, 0, len(open)+len(closed))
	all = append(all, open...)
	all = append(all, closed...)
	r.mu.RUnlock()

	return sortedValues(all)
}

func sortedValues(entries []entry) []any {
	slices.SortStableFunc(entries, func(a, b entry) int {
		if c := cmp.Compare(a.order, b.order); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})

	out := make([]any, len(entries))
	for i, e := range entries {
		out[i] = e.value
	}
	return out
}

// RegisterExceptionHandler adds h to the ordered exception handler chain.
func RegisterExceptionHandler(r *Registry, h ExceptionHandler, opts ...RegisterOption) {
	o := applyOptions(opts)
	r.mu.Lock()
	r.exceptions = append(r.exceptions, entry{value: h, order: o.order, seq: r.nextSeq()})
	r.mu.Unlock()
}

func (r *Registry) exceptionHandlers() []ExceptionHandler {
	r.mu.RLock()
	entries := slices.Clone(r.exceptions)
	r.mu.RUnlock()

	values := sortedValues(entries)
	out := make([]ExceptionHandler, len(values))
	for i, v := range values {
		out[i] = v.(ExceptionHandler)
	}
	return out
}

// AddCollector registers an event collector. Collectors are consulted on
// every publish, in registration order.
func AddCollector(r *Registry, c EventCollector) {
	r.mu.Lock()
	r.collectors = append(r.collectors, entry{value: c, seq: r.nextSeq()})
	r.mu.Unlock()
}

func (r *Registry) eventCollectors() []EventCollector {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]EventCollector, len(r.collectors))
	for i, e := range r.collectors {
		out[i] = e.value.(EventCollector)
	}
	return out
}

func singleton[T any](h T) func(*Scope) (any, error) {
	return func(*Scope) (any, error) { return h, nil }
}

func erase[T any](factory func(*Scope) (T, error)) func(*Scope) (any, error) {
	return func(s *Scope) (any, error) {
		v, err := factory(s)
		if err != nil {
			return nil, err
		}
		return v, nil
	}
}

// RegisterRequest registers a singleton request handler for (Q, R).
//
// This is a package-level function (not a method) due to Go generics
// limitations: methods cannot have type parameters independent of the
// receiver.
//
// Example:
//
//	mediator.RegisterRequest[Echo, string](reg, EchoHandler{})
func RegisterRequest[Q, R any](r *Registry, h RequestHandler[Q, R], opts ...RegisterOption) error {
	return provideRequest[Q, R](r, Singleton, singleton(h), opts)
}

// RegisterRequestFunc registers a function as the request handler for (Q, R).
func RegisterRequestFunc[Q, R any](r *Registry, fn func(ctx context.Context, req Q) (R, error), opts ...RegisterOption) error {
	return RegisterRequest[Q, R](r, RequestHandlerFunc[Q, R](fn), opts...)
}

// ProvideRequest registers a factory for the (Q, R) request handler with the
// given lifetime.
func ProvideRequest[Q, R any](r *Registry, lifetime Lifetime, factory func(*Scope) (RequestHandler[Q, R], error), opts ...RegisterOption) error {
	return provideRequest[Q, R](r, lifetime, erase(factory), opts)
}

func provideRequest[Q, R any](r *Registry, lifetime Lifetime, factory func(*Scope) (any, error), opts []RegisterOption) error {
	o := applyOptions(opts)
	return r.addHandler(&registration{
		key:      typeKey{kind: KindRequest, message: reflect.TypeFor[Q](), result: reflect.TypeFor[R]()},
		lifetime: lifetime,
		factory:  factory,
		attrs:    o.attrs,
		request: func(ctx context.Context, handler, msg any) (any, error) {
			return handler.(RequestHandler[Q, R]).Handle(ctx, msg.(Q))
		},
	})
}

// RegisterCommand registers a singleton command handler for C.
func RegisterCommand[C any](r *Registry, h CommandHandler[C], opts ...RegisterOption) error {
	return provideCommand[C](r, Singleton, singleton(h), opts)
}

// RegisterCommandFunc registers a function as the command handler for C.
func RegisterCommandFunc[C any](r *Registry, fn func(ctx context.Context, cmd C) error, opts ...RegisterOption) error {
	return RegisterCommand[C](r, CommandHandlerFunc[C](fn), opts...)
}

// ProvideCommand registers a factory for the C command handler.
func ProvideCommand[C any](r *Registry, lifetime Lifetime, factory func(*Scope) (CommandHandler[C], error), opts ...RegisterOption) error {
	return provideCommand[C](r, lifetime, erase(factory), opts)
}

func provideCommand[C any](r *Registry, lifetime Lifetime, factory func(*Scope) (any, error), opts []RegisterOption) error {
	o := applyOptions(opts)
	return r.addHandler(&registration{
		key:      typeKey{kind: KindCommand, message: reflect.TypeFor[C]()},
		lifetime: lifetime,
		factory:  factory,
		attrs:    o.attrs,
		command: func(ctx context.Context, handler, msg any) error {
			return handler.(CommandHandler[C]).Handle(ctx, msg.(C))
		},
	})
}

// RegisterEvent adds a singleton event handler for E. Handlers run in
// registration order when publishing sequentially.
func RegisterEvent[E any](r *Registry, h EventHandler[E], opts ...RegisterOption) {
	provideEvent[E](r, Singleton, singleton(h), opts)
}

// RegisterEventFunc adds a function as an event handler for E.
func RegisterEventFunc[E any](r *Registry, fn func(ctx context.Context, ev E) error, opts ...RegisterOption) {
	RegisterEvent[E](r, EventHandlerFunc[E](fn), opts...)
}

// ProvideEvent adds a factory for an E event handler.
func ProvideEvent[E any](r *Registry, lifetime Lifetime, factory func(*Scope) (EventHandler[E], error), opts ...RegisterOption) {
	provideEvent[E](r, lifetime, erase(factory), opts)
}

func provideEvent[E any](r *Registry, lifetime Lifetime, factory func(*Scope) (any, error), opts []RegisterOption) {
	o := applyOptions(opts)
	r.addEvent(&registration{
		key:      typeKey{kind: KindEvent, message: reflect.TypeFor[E]()},
		lifetime: lifetime,
		factory:  factory,
		attrs:    o.attrs,
		event: func(ctx context.Context, handler, msg any) error {
			return handler.(EventHandler[E]).Handle(ctx, msg.(E))
		},
	})
}

// RegisterStream registers a singleton stream handler for (Q, R).
func RegisterStream[Q, R any](r *Registry, h StreamHandler[Q, R], opts ...RegisterOption) error {
	return provideStream[Q, R](r, Singleton, singleton(h), opts)
}

// RegisterStreamFunc registers a function as the stream handler for (Q, R).
func RegisterStreamFunc[Q, R any](r *Registry, fn func(ctx context.Context, req Q) iter.Seq2[R, error], opts ...RegisterOption) error {
	return RegisterStream[Q, R](r, StreamHandlerFunc[Q, R](fn), opts...)
}

// ProvideStream registers a factory for the (Q, R) stream handler.
func ProvideStream[Q, R any](r *Registry, lifetime Lifetime, factory func(*Scope) (StreamHandler[Q, R], error), opts ...RegisterOption) error {
	return provideStream[Q, R](r, lifetime, erase(factory), opts)
}

func provideStream[Q, R any](r *Registry, lifetime Lifetime, factory func(*Scope) (any, error), opts []RegisterOption) error {
	o := applyOptions(opts)
	return r.addHandler(&registration{
		key:      typeKey{kind: KindStream, message: reflect.TypeFor[Q](), result: reflect.TypeFor[R]()},
		lifetime: lifetime,
		factory:  factory,
		attrs:    o.attrs,
		stream: func(ctx context.Context, handler, msg any) iter.Seq2[any, error] {
			seq := handler.(StreamHandler[Q, R]).Handle(ctx, msg.(Q))
			return func(yield func(any, error) bool) {
				for v, err := range seq {
					if !yield(v, err) {
						return
					}
				}
			}
		},
	})
}

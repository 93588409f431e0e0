// Package mediator provides an in-process mediator for requests, commands,
// events and streams.
//
// Callers hand a message to the Mediator instead of calling its handler
// directly. The Mediator resolves the handler from a Registry, wraps it in
// the registered middleware, runs it inside an execution Scope and, on
// failure, gives exception handlers a chance to consume the error.
//
// # Quick Start
//
// Define a request and its handler:
//
//	type Echo struct {
//	    Input string
//	}
//
//	type EchoHandler struct{}
//
//	func (EchoHandler) Handle(ctx context.Context, req Echo) (string, error) {
//	    return "RESPONSE-" + req.Input, nil
//	}
//
// Register it and dispatch:
//
//	reg := mediator.NewRegistry()
//	mediator.RegisterRequest[Echo, string](reg, EchoHandler{})
//
//	m := mediator.New(reg)
//
//	_, res, err := mediator.Request[string](ctx, m, Echo{Input: "hi"})
//	// res == "RESPONSE-hi"
//
// # Message Shapes
//
// There are four shapes of dispatch:
//
//   - Request: one handler per (message, result) pair, returns a result
//   - Command: one handler per message, returns only an error
//   - Event: any number of handlers, all of them run
//   - Stream: one handler per (message, result) pair, returns a lazy sequence
//
// Request, command and stream messages with no handler fail with
// *NoHandlerFoundError. Publishing an event nobody handles is not an error.
//
// # Context
//
// Every top-level dispatch gets a Context: a unique id, the message, the
// resolved handler and its attributes, private headers and the execution
// Scope. Handlers reach it with FromContext.
//
// Dispatching from inside a handler with the handler's ctx creates a child
// Context. Children share the parent's Scope, trace span and bypass flags,
// but never its headers:
//
//	func (h *CheckoutHandler) Handle(ctx context.Context, req Checkout) (Receipt, error) {
//	    _, price, err := mediator.Request[Money](ctx, h.m, Quote{Cart: req.Cart})
//	    ...
//	}
//
// # Middleware
//
// Middleware wraps handler execution. The first registered middleware is
// the outermost; WithOrder overrides registration order:
//
//	mediator.UseMiddleware(reg, logging, mediator.WithOrder(-100))
//	mediator.UseRequestMiddleware[GetUser, User](reg, cache)
//
// Open middleware (UseMiddleware, UseCommandMiddlewareAll,
// UseEventMiddlewareAll, UseStreamMiddlewareAll) applies to every message of
// a shape. Closed middleware applies to one message type. Event middleware
// wraps each event handler individually, so the Context it sees identifies
// the handler about to run.
//
// The middleware subpackage provides caching, offline fallback, event
// throttling and sampling, periodic stream refresh, deferred command
// scheduling, validation and logging.
//
// # Events
//
// Publish delivers an event to handlers from three sources, in order: the
// Registry, runtime subscriptions added with Subscribe, and handlers
// supplied by EventCollectors. A handler reachable from more than one source
// runs once.
//
// Handlers run in parallel by default; use Sequential to run them one at a
// time in registration order. Either way, a failing handler never prevents
// the others from running. Each handler runs on its own child Context and
// the combined failures are returned:
//
//	res, err := m.Publish(ctx, UserCreated{ID: id}, mediator.Sequential())
//	for _, h := range res.Handlers() {
//	    if h.Err() != nil {
//	        ...
//	    }
//	}
//
// A request handler that returns a value implementing Event (embed
// EventBase) has it published automatically.
//
// # Streams
//
// Stream returns an iter.Seq2 that does nothing until ranged over. The
// execution Scope opens when iteration starts and closes when the range loop
// exits, including on break:
//
//	_, seq, err := mediator.Stream[Tick](ctx, m, Watch{Symbol: "ACME"})
//	if err != nil {
//	    return err
//	}
//	for tick, err := range seq {
//	    ...
//	}
//
// # Exception Handling
//
// When a top-level dispatch fails, exception handlers are consulted in
// order. The first to return true consumes the failure: the caller gets a
// zero result and a nil error. Nested failures propagate to the dispatch
// that owns them and are only offered once, at the top. For events each
// failed handler is offered individually.
//
//	mediator.RegisterExceptionHandler(reg, mediator.ExceptionHandlerFunc(
//	    func(ctx context.Context, c *mediator.Context, err error) bool {
//	        var nerr *mediator.NoHandlerFoundError
//	        return errors.As(err, &nerr)
//	    },
//	))
//
// BypassExceptionHandling and BypassMiddleware opt a single dispatch out.
//
// # Handler Lifetimes
//
// Handlers registered with Register* are singletons. Provide* registers a
// factory with a Lifetime:
//
//   - Singleton: created once
//   - Scoped: created once per top-level dispatch, shared by nested dispatches
//   - Transient: created on every resolution
//
// Scoped and transient instances implementing io.Closer are closed when the
// Scope closes.
//
// # Executors
//
// The Director chooses which executor services a message. By default every
// message is handled locally. Executors added with WithRequestExecutor and
// friends are probed in order and the first whose CanHandle accepts the
// message wins:
//
//	m := mediator.New(reg, mediator.WithRequestExecutor(mediator.RequestRoute(
//	    mediator.Implements[Remote](),
//	    func(ctx context.Context, c *mediator.Context) (any, error) {
//	        return client.Call(ctx, c.Message())
//	    },
//	)))
//
// # Observability
//
// Each dispatch opens an OpenTelemetry span and fires the OnDispatch,
// OnSuccess, OnFailure and OnHandled hooks. The metrics subpackage turns
// the hooks into Prometheus collectors.
//
// # Thread Safety
//
// Registry and Mediator are safe for concurrent use. Registration is
// expected during setup; registrations made while dispatches are in flight
// are only seen by later dispatches.
package mediator

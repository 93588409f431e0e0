package middleware

import (
	"context"
	"reflect"
	"time"

	"github.com/bjaus/mediator"
	"go.uber.org/zap"
)

// LoggingMiddleware logs every request, command and event handler run at
// debug level, and failures at warn level, with the message and handler
// types and the elapsed time. Register it with UseMiddleware,
// UseCommandMiddlewareAll and UseEventMiddlewareAll as needed.
type LoggingMiddleware struct {
	opts options
}

var (
	_ mediator.Middleware      = (*LoggingMiddleware)(nil)
	_ mediator.EventMiddleware = (*LoggingMiddleware)(nil)
)

// NewLogging creates a LoggingMiddleware. Pass WithLogger to see output.
func NewLogging(opts ...Option) *LoggingMiddleware {
	return &LoggingMiddleware{opts: newOptions(opts)}
}

// Process implements mediator.Middleware.
func (m *LoggingMiddleware) Process(ctx context.Context, c *mediator.Context, next mediator.Next) (any, error) {
	start := m.opts.clock.Now()
	v, err := next(ctx)
	m.log(c, start, err)
	return v, err
}

// ProcessEvent implements mediator.EventMiddleware.
func (m *LoggingMiddleware) ProcessEvent(ctx context.Context, c *mediator.Context, next mediator.EventNext) error {
	start := m.opts.clock.Now()
	err := next(ctx)
	m.log(c, start, err)
	return err
}

func (m *LoggingMiddleware) log(c *mediator.Context, start time.Time, err error) {
	fields := []zap.Field{
		zap.String("message", mediator.TypeName(c.MessageType())),
		zap.String("handler", handlerName(c)),
		zap.Stringer("context_id", c.ID()),
		zap.Duration("duration", m.opts.clock.Since(start)),
	}
	if err != nil {
		m.opts.logger.Warn("handler failed", append(fields, zap.Error(err))...)
		return
	}
	m.opts.logger.Debug("handler completed", fields...)
}

func handlerName(c *mediator.Context) string {
	return mediator.TypeName(reflect.TypeOf(c.Handler()))
}

package middleware

import (
	"context"
	"iter"

	"github.com/bjaus/mediator"
	"go.uber.org/zap"
)

// TimerRefreshMiddleware turns a finite stream into a live one for handlers
// registered with a TimerRefresh attribute: once the handler's sequence is
// drained it waits Interval, invokes the handler again and yields the fresh
// items, until the consumer stops or the context is cancelled.
type TimerRefreshMiddleware struct {
	opts options
}

var _ mediator.StreamMiddleware = (*TimerRefreshMiddleware)(nil)

// NewTimerRefresh creates a TimerRefreshMiddleware.
func NewTimerRefresh(opts ...Option) *TimerRefreshMiddleware {
	return &TimerRefreshMiddleware{opts: newOptions(opts)}
}

// ProcessStream implements mediator.StreamMiddleware.
func (m *TimerRefreshMiddleware) ProcessStream(ctx context.Context, c *mediator.Context, next mediator.StreamNext) iter.Seq2[any, error] {
	attr, ok := mediator.Attribute[TimerRefresh](c)
	if !ok || attr.Interval <= 0 {
		return next(ctx)
	}

	return func(yield func(any, error) bool) {
		for round := 1; ; round++ {
			for v, err := range next(ctx) {
				if !yield(v, err) {
					return
				}
			}

			t := m.opts.clock.Timer(attr.Interval)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}

			m.opts.logger.Debug("refreshing stream",
				zap.String("message", mediator.TypeName(c.MessageType())),
				zap.Int("round", round+1),
			)
		}
	}
}

package mediator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/suite"
)

type HooksSuite struct {
	suite.Suite
	ctx   context.Context
	reg   *Registry
	clock *clock.Mock
}

func (s *HooksSuite) SetupTest() {
	s.ctx = context.Background()
	s.reg = NewRegistry()
	s.clock = clock.NewMock()
}

func TestHooksSuite(t *testing.T) {
	suite.Run(t, new(HooksSuite))
}

func (s *HooksSuite) TestOnSuccessReportsDuration() {
	s.Require().NoError(RegisterRequestFunc(s.reg, func(context.Context, echo) (string, error) {
		s.clock.Add(3 * time.Second)
		return "ok", nil
	}))

	var (
		order []string
		got   time.Duration
	)
	m := New(s.reg,
		WithClock(s.clock),
		WithOnDispatch(func(context.Context, *Context) { order = append(order, "dispatch") }),
		WithOnSuccess(func(_ context.Context, _ *Context, d time.Duration) {
			order = append(order, "success")
			got = d
		}),
		WithOnFailure(func(context.Context, *Context, error, time.Duration) { order = append(order, "failure") }),
	)

	_, _, err := Request[string](s.ctx, m, echo{})

	s.Require().NoError(err)
	s.Assert().Equal([]string{"dispatch", "success"}, order)
	s.Assert().Equal(3*time.Second, got)
}

func (s *HooksSuite) TestOnFailureRunsBeforeExceptionHandlers() {
	boom := errors.New("boom")
	s.Require().NoError(RegisterRequestFunc(s.reg, func(context.Context, echo) (string, error) {
		return "", boom
	}))

	var order []string
	RegisterExceptionHandler(s.reg, ExceptionHandlerFunc(func(context.Context, *Context, error) bool {
		order = append(order, "exception")
		return true
	}))
	m := New(s.reg,
		WithOnFailure(func(_ context.Context, _ *Context, err error, _ time.Duration) {
			s.Assert().ErrorIs(err, boom)
			order = append(order, "failure")
		}),
		WithOnHandled(func(_ context.Context, _ *Context, err error) {
			s.Assert().ErrorIs(err, boom)
			order = append(order, "handled")
		}),
	)

	_, _, err := Request[string](s.ctx, m, echo{})

	s.Require().NoError(err)
	s.Assert().Equal([]string{"failure", "exception", "handled"}, order)
}

func (s *HooksSuite) TestMultipleHooksRunInOrder() {
	s.Require().NoError(RegisterRequest[echo, string](s.reg, echoHandler{}))

	var order []string
	m := New(s.reg,
		WithOnDispatch(func(context.Context, *Context) { order = append(order, "first") }),
		WithOnDispatch(func(context.Context, *Context) { order = append(order, "second") }),
	)

	_, _, err := Request[string](s.ctx, m, echo{})

	s.Require().NoError(err)
	s.Assert().Equal([]string{"first", "second"}, order)
}

func (s *HooksSuite) TestHooksFireForNestedDispatches() {
	s.Require().NoError(RegisterRequest[echo, string](s.reg, echoHandler{}))
	var m *Mediator
	s.Require().NoError(RegisterRequestFunc(s.reg, func(ctx context.Context, _ outer) (string, error) {
		_, res, err := Request[string](ctx, m, echo{})
		return res, err
	}))

	var kinds []string
	m = New(s.reg, WithOnSuccess(func(_ context.Context, c *Context, _ time.Duration) {
		kinds = append(kinds, TypeName(c.MessageType()))
	}))

	_, _, err := Request[string](s.ctx, m, outer{})

	s.Require().NoError(err)
	s.Assert().Equal([]string{"github.com/bjaus/mediator.echo", "github.com/bjaus/mediator.outer"}, kinds)
}

func (s *HooksSuite) TestHookContextCarriesDispatchContext() {
	s.Require().NoError(RegisterRequest[echo, string](s.reg, echoHandler{}))

	var fromCtx, fromArg *Context
	m := New(s.reg, WithOnDispatch(func(ctx context.Context, c *Context) {
		fromCtx, _ = FromContext(ctx)
		fromArg = c
	}))

	c, _, err := Request[string](s.ctx, m, echo{})

	s.Require().NoError(err)
	s.Assert().Same(c, fromArg)
	s.Assert().Same(c, fromCtx)
}

func (s *HooksSuite) TestContextCreatedAtUsesClock() {
	s.Require().NoError(RegisterRequest[echo, string](s.reg, echoHandler{}))
	s.clock.Set(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))

	c, _, err := Request[string](s.ctx, New(s.reg, WithClock(s.clock)), echo{})

	s.Require().NoError(err)
	s.Assert().True(c.CreatedAt().Equal(s.clock.Now()))
}

func (s *HooksSuite) TestPublishHooks() {
	RegisterEventFunc(s.reg, func(context.Context, orderPlaced) error { return errA })

	var failures, handled int
	m := New(s.reg,
		WithOnFailure(func(context.Context, *Context, error, time.Duration) { failures++ }),
		WithOnHandled(func(_ context.Context, c *Context, _ error) {
			s.Assert().NotNil(c.Parent())
			handled++
		}),
	)
	RegisterExceptionHandler(s.reg, ExceptionHandlerFunc(func(context.Context, *Context, error) bool {
		return true
	}))

	_, err := m.Publish(s.ctx, orderPlaced{})

	s.Require().NoError(err)
	s.Assert().Equal(1, failures)
	s.Assert().Equal(1, handled)
}

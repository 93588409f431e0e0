package middleware_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bjaus/mediator"
	"github.com/bjaus/mediator/middleware"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type sendReminder struct {
	Name string
	At   time.Time
}

func (c sendReminder) DueAt() time.Time { return c.At }

type SchedulerSuite struct {
	suite.Suite
	ctx       context.Context
	clock     *clock.Mock
	logs      *observer.ObservedLogs
	scheduler *middleware.CommandScheduler
	m         *mediator.Mediator

	mu      sync.Mutex
	sent    []string
	tenants []string
	fail    error
}

func (s *SchedulerSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = clock.NewMock()
	core, logs := observer.New(zapcore.DebugLevel)
	s.logs = logs
	s.scheduler = middleware.NewCommandScheduler(time.Minute,
		middleware.WithClock(s.clock),
		middleware.WithLogger(zap.New(core)),
	)
	s.sent, s.tenants, s.fail = nil, nil, nil

	reg := mediator.NewRegistry()
	mediator.UseCommandMiddlewareAll(reg, s.scheduler)
	s.Require().NoError(mediator.RegisterCommandFunc(reg, func(ctx context.Context, cmd sendReminder) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.sent = append(s.sent, cmd.Name)
		if c, ok := mediator.FromContext(ctx); ok {
			tenant, _ := mediator.HeaderValue[string](c, "tenant")
			s.tenants = append(s.tenants, tenant)
		}
		return s.fail
	}))
	s.m = mediator.New(reg, mediator.WithClock(s.clock))
}

func (s *SchedulerSuite) TearDownTest() {
	s.Require().NoError(s.scheduler.Stop(s.ctx))
}

func TestSchedulerSuite(t *testing.T) {
	suite.Run(t, new(SchedulerSuite))
}

func (s *SchedulerSuite) reminders() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func (s *SchedulerSuite) TestDueCommandRunsImmediately() {
	_, err := s.m.Send(s.ctx, sendReminder{Name: "now", At: s.clock.Now()})

	s.Require().NoError(err)
	s.Assert().Equal([]string{"now"}, s.reminders())
	s.Assert().Equal(0, s.scheduler.Pending())
}

func (s *SchedulerSuite) TestFutureCommandIsDeferred() {
	_, err := s.m.Send(s.ctx, sendReminder{Name: "later", At: s.clock.Now().Add(time.Hour)})

	s.Require().NoError(err)
	s.Assert().Empty(s.reminders())
	s.Assert().Equal(1, s.scheduler.Pending())
}

func (s *SchedulerSuite) TestScanSendsOnlyDueCommands() {
	_, err := s.m.Send(s.ctx, sendReminder{Name: "soon", At: s.clock.Now().Add(time.Minute)})
	s.Require().NoError(err)
	_, err = s.m.Send(s.ctx, sendReminder{Name: "later", At: s.clock.Now().Add(time.Hour)})
	s.Require().NoError(err)

	s.Assert().Equal(0, s.scheduler.Scan(s.ctx))

	s.clock.Add(time.Minute)
	s.Assert().Equal(1, s.scheduler.Scan(s.ctx))
	s.Assert().Equal([]string{"soon"}, s.reminders())
	s.Assert().Equal(1, s.scheduler.Pending())

	s.clock.Add(time.Hour)
	s.Assert().Equal(1, s.scheduler.Scan(s.ctx))
	s.Assert().Equal([]string{"soon", "later"}, s.reminders())
	s.Assert().Equal(0, s.scheduler.Pending())
}

func (s *SchedulerSuite) TestHeadersSurviveDeferral() {
	_, err := s.m.Send(s.ctx, sendReminder{Name: "later", At: s.clock.Now().Add(time.Minute)},
		mediator.WithHeader("tenant", "acme"),
	)
	s.Require().NoError(err)

	s.clock.Add(time.Minute)
	s.scheduler.Scan(s.ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.Assert().Equal([]string{"acme"}, s.tenants)
}

func (s *SchedulerSuite) TestFailedCommandIsLoggedAndDropped() {
	s.fail = errors.New("smtp down")
	_, err := s.m.Send(s.ctx, sendReminder{Name: "later", At: s.clock.Now().Add(time.Minute)})
	s.Require().NoError(err)

	s.clock.Add(time.Minute)
	s.Assert().Equal(1, s.scheduler.Scan(s.ctx))

	s.Assert().Equal(0, s.scheduler.Pending())
	entries := s.logs.FilterMessage("scheduled command failed").All()
	s.Require().Len(entries, 1)
	s.Assert().Equal(zapcore.ErrorLevel, entries[0].Level)
}

func (s *SchedulerSuite) TestStartScansOnTicker() {
	s.Require().NoError(s.scheduler.Start(s.ctx))
	_, err := s.m.Send(s.ctx, sendReminder{Name: "later", At: s.clock.Now().Add(30 * time.Second)})
	s.Require().NoError(err)

	s.clock.Add(time.Minute)

	s.Assert().Eventually(func() bool {
		return len(s.reminders()) == 1
	}, time.Second, 5*time.Millisecond)
	s.Assert().Equal(0, s.scheduler.Pending())
}

func (s *SchedulerSuite) TestStartTwice() {
	s.Require().NoError(s.scheduler.Start(s.ctx))

	s.Assert().ErrorIs(s.scheduler.Start(s.ctx), middleware.ErrSchedulerRunning)
}

func (s *SchedulerSuite) TestStopKeepsPendingCommands() {
	s.Require().NoError(s.scheduler.Start(s.ctx))
	_, err := s.m.Send(s.ctx, sendReminder{Name: "later", At: s.clock.Now().Add(time.Hour)})
	s.Require().NoError(err)

	s.Require().NoError(s.scheduler.Stop(s.ctx))
	s.Require().NoError(s.scheduler.Stop(s.ctx))

	s.Assert().Equal(1, s.scheduler.Pending())
	s.Require().NoError(s.scheduler.Start(s.ctx))
}

func (s *SchedulerSuite) TestUnscheduledCommandsPassThrough() {
	reg := mediator.NewRegistry()
	mediator.UseCommandMiddlewareAll(reg, s.scheduler)
	ran := false
	s.Require().NoError(mediator.RegisterCommandFunc(reg, func(context.Context, renameSKU) error {
		ran = true
		return nil
	}))

	_, err := mediator.New(reg).Send(s.ctx, renameSKU{})

	s.Require().NoError(err)
	s.Assert().True(ran)
	s.Assert().Equal(0, s.scheduler.Pending())
}

type renameSKU struct{ From, To string }

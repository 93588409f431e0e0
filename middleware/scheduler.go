package middleware

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bjaus/mediator"
	"go.uber.org/zap"
)

// DefaultSchedulePeriod is how often a CommandScheduler scans for due
// commands unless configured otherwise.
const DefaultSchedulePeriod = time.Minute

// ErrSchedulerRunning is returned by Start when the scheduler is already
// scanning.
var ErrSchedulerRunning = errors.New("middleware: scheduler already running")

// Scheduled is implemented by commands that should run at a later time.
type Scheduled interface {
	DueAt() time.Time
}

// CommandScheduler defers commands whose DueAt is in the future. It is
// registered as command middleware and holds deferred commands in memory
// until a periodic scan finds them due. Due commands are sent again on a
// rebuilt Context, so their headers survive, against a fresh scope.
// Each is removed from the pending list whether or not it succeeds, and
// failures are logged.
type CommandScheduler struct {
	opts   options
	period time.Duration

	mu      sync.Mutex
	pending []*scheduled

	runMu sync.Mutex
	stop  chan struct{}
	done  chan struct{}
}

type scheduled struct {
	c     *mediator.Context
	dueAt time.Time
}

var _ mediator.Middleware = (*CommandScheduler)(nil)

// NewCommandScheduler creates a CommandScheduler. A non-positive period
// uses DefaultSchedulePeriod.
func NewCommandScheduler(period time.Duration, opts ...Option) *CommandScheduler {
	if period <= 0 {
		period = DefaultSchedulePeriod
	}
	return &CommandScheduler{opts: newOptions(opts), period: period}
}

// Process implements mediator.Middleware.
func (s *CommandScheduler) Process(ctx context.Context, c *mediator.Context, next mediator.Next) (any, error) {
	cmd, ok := c.Message().(Scheduled)
	if !ok || c.Mediator() == nil {
		return next(ctx)
	}

	due := cmd.DueAt()
	if !due.After(s.opts.clock.Now()) {
		return next(ctx)
	}

	s.mu.Lock()
	s.pending = append(s.pending, &scheduled{c: c, dueAt: due})
	s.mu.Unlock()

	s.opts.logger.Debug("command deferred",
		zap.String("message", mediator.TypeName(c.MessageType())),
		zap.Time("due_at", due),
	)
	return nil, nil
}

// Pending returns the number of commands waiting to run.
func (s *CommandScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Start begins scanning every period until Stop is called or ctx is done.
func (s *CommandScheduler) Start(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.stop != nil {
		return ErrSchedulerRunning
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	ticker := s.opts.clock.Ticker(s.period)
	go func(stop, done chan struct{}) {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				s.Scan(context.WithoutCancel(ctx))
			}
		}
	}(s.stop, s.done)

	s.opts.logger.Info("command scheduler started", zap.Duration("period", s.period))
	return nil
}

// Stop ends scanning and waits for an in-progress scan to finish or ctx to
// be done. Pending commands are kept.
func (s *CommandScheduler) Stop(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.stop == nil {
		return nil
	}
	close(s.stop)
	done := s.done
	s.stop, s.done = nil, nil

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Scan sends every command that is due and returns how many were sent.
func (s *CommandScheduler) Scan(ctx context.Context) int {
	now := s.opts.clock.Now()

	s.mu.Lock()
	var due []*scheduled
	kept := s.pending[:0]
	for _, p := range s.pending {
		if p.dueAt.After(now) {
			kept = append(kept, p)
			continue
		}
		due = append(due, p)
	}
	clear(s.pending[len(kept):])
	s.pending = kept
	s.mu.Unlock()

	for _, p := range due {
		s.send(ctx, p)
	}
	return len(due)
}

func (s *CommandScheduler) send(ctx context.Context, p *scheduled) {
	scope := mediator.NewScope()
	defer func() {
		if err := scope.Close(); err != nil {
			s.opts.logger.Warn("closing scheduled command scope", zap.Error(err))
		}
	}()

	c := p.c.Rebuild(scope, nil)
	if err := c.Mediator().SendContext(ctx, c); err != nil {
		s.opts.logger.Error("scheduled command failed",
			zap.String("message", mediator.TypeName(c.MessageType())),
			zap.Stringer("context_id", c.ID()),
			zap.Error(err),
		)
	}
}

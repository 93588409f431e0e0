package mediator

import (
	"errors"
	"io"
	"sync"

	"go.uber.org/multierr"
)

// Lifetime controls how often a handler factory is invoked.
type Lifetime int

const (
	// Singleton handlers are created once per Registry.
	Singleton Lifetime = iota

	// Scoped handlers are created once per top-level dispatch.
	Scoped

	// Transient handlers are created for every resolution.
	Transient
)

func (l Lifetime) String() string {
	switch l {
	case Singleton:
		return "singleton"
	case Scoped:
		return "scoped"
	case Transient:
		return "transient"
	default:
		return "unknown"
	}
}

// ErrScopeClosed is returned when resolving a scoped handler from a Scope
// that has already been closed.
var ErrScopeClosed = errors.New("mediator: scope closed")

// Scope is the resource lifetime boundary of one top-level dispatch. Scoped
// handlers are cached in it and every scoped or transient instance that
// implements io.Closer is closed when the Scope closes.
type Scope struct {
	mu        sync.Mutex
	instances map[*registration]any
	closers   []io.Closer
	closed    bool
}

// NewScope creates an empty Scope.
func NewScope() *Scope {
	return &Scope{instances: make(map[*registration]any)}
}

func (s *Scope) scoped(reg *registration) (any, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrScopeClosed
	}
	if v, ok := s.instances[reg]; ok {
		s.mu.Unlock()
		return v, nil
	}
	s.mu.Unlock()

	// The factory may resolve from this scope itself, so it runs unlocked.
	v, err := reg.factory(s)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrScopeClosed
	}
	if existing, ok := s.instances[reg]; ok {
		return existing, nil
	}
	s.instances[reg] = v
	s.trackLocked(v)
	return v, nil
}

// Track registers v to be closed with the Scope when it implements
// io.Closer.
func (s *Scope) Track(v any) {
	s.mu.Lock()
	s.trackLocked(v)
	s.mu.Unlock()
}

func (s *Scope) trackLocked(v any) {
	if c, ok := v.(io.Closer); ok {
		s.closers = append(s.closers, c)
	}
}

// Closed reports whether Close has been called.
func (s *Scope) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close closes tracked instances in reverse order. Calling Close more than
// once is a no-op.
func (s *Scope) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	closers := s.closers
	s.closers = nil
	s.instances = nil
	s.mu.Unlock()

	var err error
	for i := len(closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, closers[i].Close())
	}
	return err
}

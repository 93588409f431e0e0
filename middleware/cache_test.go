package middleware_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bjaus/mediator"
	"github.com/bjaus/mediator/middleware"
	"github.com/stretchr/testify/suite"
)

type getPrice struct{ SKU string }

type price struct{ Amount int }

type getQuote struct{ SKU string }

type getAnyPrice struct{ SKU string }

type quote interface{ Total() int }

type fixedQuote struct{ N int }

func (q fixedQuote) Total() int { return q.N }

// pricing is a request fixture shared by the cache and offline suites.
type pricing struct {
	suite.Suite
	ctx    context.Context
	clock  *clock.Mock
	store  *mapStore
	online atomic.Bool
	calls  int
	fail   error
}

func (s *pricing) SetupTest() {
	s.ctx = context.Background()
	s.clock = clock.NewMock()
	s.store = newMapStore()
	s.online.Store(true)
	s.calls = 0
	s.fail = nil
}

func (s *pricing) options() []middleware.Option {
	return []middleware.Option{
		middleware.WithClock(s.clock),
		middleware.WithConnectivity(middleware.ConnectivityFunc(func(context.Context) bool {
			return s.online.Load()
		})),
	}
}

func (s *pricing) registry(attrs ...any) *mediator.Registry {
	reg := mediator.NewRegistry()
	s.Require().NoError(mediator.RegisterRequestFunc(reg, func(_ context.Context, q getPrice) (price, error) {
		s.calls++
		if s.fail != nil {
			return price{}, s.fail
		}
		return price{Amount: s.calls * 10}, nil
	}, mediator.WithAttributes(attrs...)))
	return reg
}

// interfaceRegistry registers handlers whose results are a named interface
// and any.
func (s *pricing) interfaceRegistry(attrs ...any) *mediator.Registry {
	reg := mediator.NewRegistry()
	s.Require().NoError(mediator.RegisterRequestFunc(reg, func(context.Context, getQuote) (quote, error) {
		s.calls++
		if s.fail != nil {
			return nil, s.fail
		}
		return fixedQuote{N: s.calls * 10}, nil
	}, mediator.WithAttributes(attrs...)))
	s.Require().NoError(mediator.RegisterRequestFunc(reg, func(context.Context, getAnyPrice) (any, error) {
		s.calls++
		if s.fail != nil {
			return nil, s.fail
		}
		return s.calls * 10, nil
	}, mediator.WithAttributes(attrs...)))
	return reg
}

func (s *pricing) request(m *mediator.Mediator, opts ...mediator.CallOption) (*mediator.Context, price, error) {
	return mediator.Request[price](s.ctx, m, getPrice{SKU: "A1"}, opts...)
}

type CacheSuite struct {
	pricing
}

func TestCacheSuite(t *testing.T) {
	suite.Run(t, new(CacheSuite))
}

func (s *CacheSuite) mediator(attr middleware.Cache) *mediator.Mediator {
	reg := s.registry(attr)
	mediator.UseMiddleware(reg, middleware.NewCache(s.store, s.options()...))
	return mediator.New(reg)
}

func (s *CacheSuite) TestMissCallsHandlerAndStores() {
	m := s.mediator(middleware.Cache{MaxAge: time.Minute})

	c, res, err := s.request(m)

	s.Require().NoError(err)
	s.Assert().Equal(10, res.Amount)
	s.Assert().False(c.HasHeader(middleware.CacheTimestamp))
	keys := s.store.keys()
	s.Require().Len(keys, 1)
	s.Assert().True(strings.HasPrefix(keys[0], "cache:github.com/bjaus/mediator/middleware_test.getPrice:"), keys[0])
}

func (s *CacheSuite) TestFreshEntryIsServed() {
	m := s.mediator(middleware.Cache{MaxAge: time.Minute})
	stored := s.clock.Now()

	_, _, err := s.request(m)
	s.Require().NoError(err)
	s.clock.Add(30 * time.Second)

	c, res, err := s.request(m)

	s.Require().NoError(err)
	s.Assert().Equal(10, res.Amount)
	s.Assert().Equal(1, s.calls)
	ts, ok := mediator.HeaderValue[time.Time](c, middleware.CacheTimestamp)
	s.Require().True(ok)
	s.Assert().True(stored.Equal(ts))
}

func (s *CacheSuite) TestStaleEntryIsRefreshed() {
	m := s.mediator(middleware.Cache{MaxAge: time.Minute})

	_, _, err := s.request(m)
	s.Require().NoError(err)
	s.clock.Add(time.Minute)

	c, res, err := s.request(m)

	s.Require().NoError(err)
	s.Assert().Equal(20, res.Amount)
	s.Assert().Equal(2, s.calls)
	s.Assert().False(c.HasHeader(middleware.CacheTimestamp))

	_, res, err = s.request(m)
	s.Require().NoError(err)
	s.Assert().Equal(20, res.Amount)
}

func (s *CacheSuite) TestZeroMaxAgeNeverGoesStale() {
	m := s.mediator(middleware.Cache{})

	_, _, err := s.request(m)
	s.Require().NoError(err)
	s.clock.Add(24 * time.Hour)

	_, res, err := s.request(m)

	s.Require().NoError(err)
	s.Assert().Equal(10, res.Amount)
	s.Assert().Equal(1, s.calls)
}

func (s *CacheSuite) TestForceRefreshHeader() {
	tests := map[string]any{
		"bool":   true,
		"string": "yes",
		"nil":    nil,
	}

	for name, value := range tests {
		s.Run(name, func() {
			s.SetupTest()
			m := s.mediator(middleware.Cache{MaxAge: time.Minute})

			_, _, err := s.request(m)
			s.Require().NoError(err)

			_, res, err := s.request(m, mediator.WithHeader(middleware.ForceCacheRefresh, value))
			s.Require().NoError(err)
			s.Assert().Equal(20, res.Amount)

			_, res, err = s.request(m)
			s.Require().NoError(err)
			s.Assert().Equal(20, res.Amount)
			s.Assert().Equal(2, s.calls)
		})
	}
}

func (s *CacheSuite) TestInterfaceResultsAreNotCached() {
	reg := s.interfaceRegistry(middleware.Cache{MaxAge: time.Minute})
	mediator.UseMiddleware(reg, middleware.NewCache(s.store, s.options()...))
	m := mediator.New(reg)

	s.Run("named interface", func() {
		s.calls = 0
		for i := range 2 {
			_, q, err := mediator.Request[quote](s.ctx, m, getQuote{SKU: "A1"})
			s.Require().NoError(err)
			s.Assert().Equal(fixedQuote{N: (i + 1) * 10}, q)
		}
		s.Assert().Equal(2, s.calls)
	})

	s.Run("any", func() {
		s.calls = 0
		for i := range 2 {
			_, v, err := mediator.Request[any](s.ctx, m, getAnyPrice{SKU: "A1"})
			s.Require().NoError(err)
			s.Assert().Equal((i+1)*10, v)
			s.Assert().IsType(0, v)
		}
		s.Assert().Equal(2, s.calls)
	})

	s.Assert().Empty(s.store.keys())
}

func (s *CacheSuite) TestSlidingExpiration() {
	m := s.mediator(middleware.Cache{MaxAge: time.Minute, Sliding: true})

	_, _, err := s.request(m)
	s.Require().NoError(err)

	for range 3 {
		s.clock.Add(40 * time.Second)
		_, res, err := s.request(m)
		s.Require().NoError(err)
		s.Assert().Equal(10, res.Amount)
	}
	s.Assert().Equal(1, s.calls)

	s.clock.Add(time.Minute)
	_, res, err := s.request(m)
	s.Require().NoError(err)
	s.Assert().Equal(20, res.Amount)
}

func (s *CacheSuite) TestAbsoluteExpirationDoesNotSlide() {
	m := s.mediator(middleware.Cache{MaxAge: time.Minute})

	_, _, err := s.request(m)
	s.Require().NoError(err)
	s.clock.Add(40 * time.Second)
	_, _, err = s.request(m)
	s.Require().NoError(err)
	s.clock.Add(40 * time.Second)

	_, res, err := s.request(m)

	s.Require().NoError(err)
	s.Assert().Equal(20, res.Amount)
}

func (s *CacheSuite) TestOnlyForOffline() {
	m := s.mediator(middleware.Cache{OnlyForOffline: true})

	_, first, err := s.request(m)
	s.Require().NoError(err)
	_, second, err := s.request(m)
	s.Require().NoError(err)
	s.Assert().Equal(10, first.Amount)
	s.Assert().Equal(20, second.Amount)

	s.online.Store(false)
	c, offline, err := s.request(m)

	s.Require().NoError(err)
	s.Assert().Equal(20, offline.Amount)
	s.Assert().Equal(2, s.calls)
	s.Assert().True(c.HasHeader(middleware.CacheTimestamp))
}

func (s *CacheSuite) TestFailuresAreNotCached() {
	m := s.mediator(middleware.Cache{MaxAge: time.Minute})
	boom := errors.New("boom")
	s.fail = boom

	_, _, err := s.request(m)

	s.Assert().ErrorIs(err, boom)
	s.Assert().Empty(s.store.keys())
}

func (s *CacheSuite) TestStaleValueIsNotServedOnFailure() {
	m := s.mediator(middleware.Cache{MaxAge: time.Minute})
	_, _, err := s.request(m)
	s.Require().NoError(err)

	s.clock.Add(2 * time.Minute)
	s.fail = errors.New("boom")

	_, _, err = s.request(m)
	s.Assert().Error(err)
}

func (s *CacheSuite) TestStoreErrorsFallBackToHandler() {
	m := s.mediator(middleware.Cache{MaxAge: time.Minute})
	s.store.getErr = errStoreDown
	s.store.setErr = errStoreDown

	_, res, err := s.request(m)
	s.Require().NoError(err)
	s.Assert().Equal(10, res.Amount)

	_, res, err = s.request(m)
	s.Require().NoError(err)
	s.Assert().Equal(20, res.Amount)
}

func (s *CacheSuite) TestCorruptValueIsRefreshed() {
	m := s.mediator(middleware.Cache{MaxAge: time.Minute})
	_, _, err := s.request(m)
	s.Require().NoError(err)

	key := s.store.keys()[0]
	s.Require().NoError(s.store.Set(s.ctx, key, middleware.Entry{Value: []byte("{"), StoredAt: s.clock.Now()}))

	_, res, err := s.request(m)
	s.Require().NoError(err)
	s.Assert().Equal(20, res.Amount)
}

func (s *CacheSuite) TestDistinctMessagesHaveDistinctEntries() {
	m := s.mediator(middleware.Cache{MaxAge: time.Minute})

	_, a, err := mediator.Request[price](s.ctx, m, getPrice{SKU: "A1"})
	s.Require().NoError(err)
	_, b, err := mediator.Request[price](s.ctx, m, getPrice{SKU: "B2"})
	s.Require().NoError(err)

	s.Assert().Equal(10, a.Amount)
	s.Assert().Equal(20, b.Amount)
	s.Assert().Len(s.store.keys(), 2)
}

func (s *CacheSuite) TestCustomKeyFunc() {
	reg := s.registry(middleware.Cache{MaxAge: time.Minute})
	mediator.UseMiddleware(reg, middleware.NewCache(s.store, append(s.options(),
		middleware.WithKeyFunc(func(any) (string, error) { return "everything", nil }),
	)...))
	m := mediator.New(reg)

	_, _, err := mediator.Request[price](s.ctx, m, getPrice{SKU: "A1"})
	s.Require().NoError(err)
	_, b, err := mediator.Request[price](s.ctx, m, getPrice{SKU: "B2"})
	s.Require().NoError(err)

	s.Assert().Equal(10, b.Amount)
	s.Assert().Equal([]string{"cache:everything"}, s.store.keys())
}

func (s *CacheSuite) TestHandlersWithoutAttributePassThrough() {
	reg := s.registry()
	mediator.UseMiddleware(reg, middleware.NewCache(s.store, s.options()...))
	m := mediator.New(reg)

	for range 2 {
		_, _, err := s.request(m)
		s.Require().NoError(err)
	}

	s.Assert().Equal(2, s.calls)
	s.Assert().Empty(s.store.keys())
}

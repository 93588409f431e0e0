package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/bjaus/mediator"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
)

type lookupRate struct{ Pair string }

type purgeRates struct{}

const (
	lookupName = "github.com/bjaus/mediator/metrics.lookupRate"
	purgeName  = "github.com/bjaus/mediator/metrics.purgeRates"
)

type MetricsSuite struct {
	suite.Suite
	ctx context.Context
	reg *prometheus.Registry
	mx  *Metrics
	m   *mediator.Mediator
}

func TestMetricsSuite(t *testing.T) {
	suite.Run(t, new(MetricsSuite))
}

func (s *MetricsSuite) SetupTest() {
	s.ctx = context.Background()
	s.reg = prometheus.NewRegistry()
	s.mx = New("test", s.reg)

	r := mediator.NewRegistry()
	s.Require().NoError(mediator.RegisterRequestFunc(r, func(_ context.Context, q lookupRate) (float64, error) {
		if q.Pair == "" {
			return 0, errors.New("pair required")
		}
		return 1.1, nil
	}))
	s.Require().NoError(mediator.RegisterCommandFunc(r, func(context.Context, purgeRates) error {
		return errors.New("read only")
	}))
	mediator.RegisterExceptionHandler(r, mediator.ExceptionHandlerFunc(func(_ context.Context, c *mediator.Context, _ error) bool {
		return c.Kind() == mediator.KindCommand
	}))
	s.m = mediator.New(r, s.mx.Options()...)
}

func (s *MetricsSuite) TestSuccess() {
	for range 2 {
		_, _, err := mediator.Request[float64](s.ctx, s.m, lookupRate{Pair: "EURUSD"})
		s.Require().NoError(err)
	}

	s.Assert().Equal(2.0, testutil.ToFloat64(s.mx.total.WithLabelValues("request", lookupName, "success")))
	s.Assert().Equal(0.0, testutil.ToFloat64(s.mx.inFlight.WithLabelValues("request")))
	s.Assert().Equal(1, testutil.CollectAndCount(s.mx.duration))
}

func (s *MetricsSuite) TestFailure() {
	_, _, err := mediator.Request[float64](s.ctx, s.m, lookupRate{})
	s.Require().Error(err)

	s.Assert().Equal(1.0, testutil.ToFloat64(s.mx.total.WithLabelValues("request", lookupName, "failure")))
	s.Assert().Equal(0.0, testutil.ToFloat64(s.mx.handled.WithLabelValues("request", lookupName)))
}

func (s *MetricsSuite) TestHandled() {
	_, err := s.m.Send(s.ctx, purgeRates{})
	s.Require().NoError(err)

	s.Assert().Equal(1.0, testutil.ToFloat64(s.mx.total.WithLabelValues("command", purgeName, "failure")))
	s.Assert().Equal(1.0, testutil.ToFloat64(s.mx.handled.WithLabelValues("command", purgeName)))
}

func (s *MetricsSuite) TestRegistered() {
	_, _, err := mediator.Request[float64](s.ctx, s.m, lookupRate{Pair: "EURUSD"})
	s.Require().NoError(err)

	families, err := s.reg.Gather()
	s.Require().NoError(err)

	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	s.Assert().Contains(names, "test_mediator_dispatches_total")
	s.Assert().Contains(names, "test_mediator_dispatch_duration_seconds")
	s.Assert().Contains(names, "test_mediator_dispatches_in_flight")
}

func TestNewWithoutRegisterer(t *testing.T) {
	mx := New("test", nil)
	m := mediator.New(mediator.NewRegistry(), mx.Options()...)

	_, err := m.Send(context.Background(), purgeRates{})
	if err == nil {
		t.Fatal("expected no handler error")
	}
	if got := testutil.ToFloat64(mx.total.WithLabelValues("command", purgeName, "failure")); got != 1 {
		t.Fatalf("failures = %v, want 1", got)
	}
}

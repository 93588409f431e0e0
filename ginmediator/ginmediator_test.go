package ginmediator_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bjaus/mediator"
	"github.com/bjaus/mediator/ginmediator"
	"github.com/bjaus/mediator/middleware"
	"github.com/bjaus/mediator/store/memstore"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/suite"
)

type getRate struct {
	Pair string `uri:"pair" validate:"required,len=6"`
}

type convert struct {
	Amount int `form:"amount" validate:"gt=0"`
}

type rate struct {
	Pair  string  `json:"pair"`
	Value float64 `json:"value"`
}

type setRate struct {
	Pair  string  `json:"pair"`
	Value float64 `json:"value"`
}

type rateChanged struct {
	Pair string `json:"pair"`
}

type unroutable struct {
	ID string `uri:"id"`
}

type HandlerSuite struct {
	suite.Suite
	router *gin.Engine
	calls  int
	sets   []setRate
	fail   bool
}

func TestHandlerSuite(t *testing.T) {
	gin.SetMode(gin.TestMode)
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.calls, s.sets, s.fail = 0, nil, false

	store, err := memstore.New(context.Background(), memstore.Config{})
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = store.Close() })

	reg := mediator.NewRegistry()
	mediator.UseMiddleware(reg, middleware.NewValidation(nil))
	mediator.UseMiddleware(reg, middleware.NewCache(store))

	s.Require().NoError(mediator.RegisterRequestFunc(reg, func(_ context.Context, q getRate) (rate, error) {
		s.calls++
		return rate{Pair: q.Pair, Value: float64(s.calls)}, nil
	}, mediator.WithAttributes(middleware.Cache{MaxAge: time.Minute})))
	s.Require().NoError(mediator.RegisterRequestFunc(reg, func(_ context.Context, q convert) (int, error) {
		return q.Amount * 2, nil
	}))
	s.Require().NoError(mediator.RegisterCommandFunc(reg, func(_ context.Context, cmd setRate) error {
		s.sets = append(s.sets, cmd)
		return nil
	}))
	mediator.RegisterEventFunc(reg, func(context.Context, rateChanged) error { return nil })
	mediator.RegisterEventFunc(reg, func(context.Context, rateChanged) error {
		if s.fail {
			return errors.New("downstream")
		}
		return nil
	})

	m := mediator.New(reg, mediator.WithParallelPublish(false))

	s.router = gin.New()
	s.router.GET("/rates/:pair", ginmediator.Request[getRate, rate](m))
	s.router.GET("/convert", ginmediator.Request[convert, int](m))
	s.router.GET("/things/:id", ginmediator.Request[unroutable, string](m))
	s.router.POST("/rates", ginmediator.Send[setRate](m))
	s.router.POST("/events/rate-changed", ginmediator.Publish[rateChanged](m))
}

func (s *HandlerSuite) do(method, target, body string, headers ...string) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		r.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, r)
	return w
}

func (s *HandlerSuite) TestRequestFromURI() {
	w := s.do(http.MethodGet, "/rates/EURUSD", "")

	s.Require().Equal(http.StatusOK, w.Code)
	s.Assert().JSONEq(`{"pair":"EURUSD","value":1}`, w.Body.String())
	s.Assert().NotEmpty(w.Header().Get(ginmediator.HeaderContextID))
	s.Assert().Empty(w.Header().Get(ginmediator.HeaderCacheTimestamp))
}

func (s *HandlerSuite) TestRequestFromQuery() {
	w := s.do(http.MethodGet, "/convert?amount=21", "")

	s.Require().Equal(http.StatusOK, w.Code)
	s.Assert().Equal("42", w.Body.String())
}

func (s *HandlerSuite) TestCachedResponseHeaders() {
	s.do(http.MethodGet, "/rates/EURUSD", "")

	cached := s.do(http.MethodGet, "/rates/EURUSD", "")
	s.Assert().JSONEq(`{"pair":"EURUSD","value":1}`, cached.Body.String())
	_, err := time.Parse(time.RFC3339, cached.Header().Get(ginmediator.HeaderCacheTimestamp))
	s.Assert().NoError(err)

	forced := s.do(http.MethodGet, "/rates/EURUSD", "", ginmediator.HeaderForceRefresh, "true")
	s.Assert().JSONEq(`{"pair":"EURUSD","value":2}`, forced.Body.String())
	s.Assert().Empty(forced.Header().Get(ginmediator.HeaderCacheTimestamp))
}

func (s *HandlerSuite) TestValidationFailure() {
	w := s.do(http.MethodGet, "/rates/EUR", "")

	s.Require().Equal(http.StatusBadRequest, w.Code)
	var body ginmediator.ErrorResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &body))
	s.Assert().Equal([]string{"failed on the 'len' rule"}, body.Fields["getRate.Pair"])
	s.Assert().Equal(0, s.calls)
}

func (s *HandlerSuite) TestBindFailure() {
	w := s.do(http.MethodGet, "/convert?amount=lots", "")

	s.Assert().Equal(http.StatusBadRequest, w.Code)
}

func (s *HandlerSuite) TestNoHandler() {
	w := s.do(http.MethodGet, "/things/1", "")

	s.Assert().Equal(http.StatusNotImplemented, w.Code)
	s.Assert().Contains(w.Body.String(), "no handler found")
}

func (s *HandlerSuite) TestSend() {
	w := s.do(http.MethodPost, "/rates", `{"pair":"EURUSD","value":1.1}`)

	s.Require().Equal(http.StatusAccepted, w.Code)
	s.Assert().Equal([]setRate{{Pair: "EURUSD", Value: 1.1}}, s.sets)
}

func (s *HandlerSuite) TestSendMalformedBody() {
	w := s.do(http.MethodPost, "/rates", `{"pair":`)

	s.Assert().Equal(http.StatusBadRequest, w.Code)
	s.Assert().Empty(s.sets)
}

func (s *HandlerSuite) TestPublish() {
	tests := map[string]struct {
		fail     bool
		wantCode int
		wantBody string
	}{
		"all handlers succeed": {wantCode: http.StatusAccepted, wantBody: `{"handlers":2,"failed":0}`},
		"one handler fails":    {fail: true, wantCode: http.StatusInternalServerError, wantBody: `{"handlers":2,"failed":1}`},
	}

	for name, tt := range tests {
		s.Run(name, func() {
			s.fail = tt.fail

			w := s.do(http.MethodPost, "/events/rate-changed", `{"pair":"EURUSD"}`)

			s.Assert().Equal(tt.wantCode, w.Code)
			s.Assert().JSONEq(tt.wantBody, w.Body.String())
		})
	}
}

func (s *HandlerSuite) TestStatus() {
	verr := &mediator.ValidationError{}
	verr.Add("Pair", "required")

	tests := map[string]struct {
		err  error
		want int
	}{
		"validation":         {err: verr, want: http.StatusBadRequest},
		"wrapped validation": {err: fmt.Errorf("dispatch: %w", verr), want: http.StatusBadRequest},
		"no handler":         {err: &mediator.NoHandlerFoundError{Kind: mediator.KindRequest}, want: http.StatusNotImplemented},
		"canceled":           {err: fmt.Errorf("wait: %w", context.Canceled), want: 499},
		"other":              {err: errors.New("boom"), want: http.StatusInternalServerError},
	}

	for name, tt := range tests {
		s.Run(name, func() {
			s.Assert().Equal(tt.want, ginmediator.Status(tt.err))
		})
	}
}

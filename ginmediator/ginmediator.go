// Package ginmediator exposes mediator dispatches as gin handlers.
//
//	r := gin.New()
//	r.GET("/users/:id", ginmediator.Request[GetUser, User](m))
//	r.POST("/users", ginmediator.Send[CreateUser](m))
//	r.POST("/events/signup", ginmediator.Publish[SignedUp](m))
package ginmediator

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/bjaus/mediator"
	"github.com/bjaus/mediator/middleware"
	"github.com/gin-gonic/gin"
)

// HTTP headers read from requests or written to responses.
const (
	HeaderForceRefresh     = "X-Force-Cache-Refresh"
	HeaderCacheTimestamp   = "X-Cache-Timestamp"
	HeaderOfflineTimestamp = "X-Offline-Timestamp"
	HeaderContextID        = "X-Mediator-Context-Id"
)

// ErrorResponse is the body written for failed dispatches.
type ErrorResponse struct {
	Error  string              `json:"error"`
	Fields map[string][]string `json:"fields,omitempty"`
}

// PublishResponse is the body written by Publish.
type PublishResponse struct {
	Handlers int `json:"handlers"`
	Failed   int `json:"failed"`
}

// Request binds the request into Q from the URI, query or body,
// dispatches it and writes the R result as JSON.
func Request[Q, R any](m *mediator.Mediator) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, ok := bind[Q](c)
		if !ok {
			return
		}

		var opts []mediator.CallOption
		if force, _ := strconv.ParseBool(c.GetHeader(HeaderForceRefresh)); force {
			opts = append(opts, mediator.WithHeader(middleware.ForceCacheRefresh, true))
		}

		mc, res, err := mediator.Request[R](c.Request.Context(), m, req, opts...)
		writeContext(c, mc)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// Send binds the request into C, dispatches it and answers 202 Accepted.
func Send[C any](m *mediator.Mediator) gin.HandlerFunc {
	return func(c *gin.Context) {
		cmd, ok := bind[C](c)
		if !ok {
			return
		}

		mc, err := m.Send(c.Request.Context(), cmd)
		writeContext(c, mc)
		if err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusAccepted)
	}
}

// Publish binds the request into E and publishes it. Handler failures are
// reported as 500 with the failure count.
func Publish[E any](m *mediator.Mediator) gin.HandlerFunc {
	return func(c *gin.Context) {
		ev, ok := bind[E](c)
		if !ok {
			return
		}

		res, err := m.Publish(c.Request.Context(), ev)
		writeContext(c, res.Context)

		body := PublishResponse{}
		for _, h := range res.Handlers() {
			body.Handlers++
			if h.Err() != nil {
				body.Failed++
			}
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, body)
			return
		}
		c.JSON(http.StatusAccepted, body)
	}
}

func bind[T any](c *gin.Context) (T, bool) {
	var v T
	if len(c.Params) > 0 {
		if err := c.ShouldBindUri(&v); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return v, false
		}
	}
	if c.Request.ContentLength != 0 || c.Request.URL.RawQuery != "" {
		if err := c.ShouldBind(&v); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return v, false
		}
	}
	return v, true
}

func writeContext(c *gin.Context, mc *mediator.Context) {
	if mc == nil {
		return
	}
	c.Header(HeaderContextID, mc.ID().String())
	if ts, ok := mediator.HeaderValue[time.Time](mc, middleware.CacheTimestamp); ok {
		c.Header(HeaderCacheTimestamp, ts.UTC().Format(time.RFC3339))
	}
	if ts, ok := mediator.HeaderValue[time.Time](mc, middleware.OfflineTimestamp); ok {
		c.Header(HeaderOfflineTimestamp, ts.UTC().Format(time.RFC3339))
	}
}

// Status maps a dispatch error to an HTTP status code.
func Status(err error) int {
	var (
		nerr *mediator.NoHandlerFoundError
		verr *mediator.ValidationError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.As(err, &nerr):
		return http.StatusNotImplemented
	case errors.Is(err, context.Canceled):
		return 499
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	body := ErrorResponse{Error: err.Error()}
	var verr *mediator.ValidationError
	if errors.As(err, &verr) {
		body.Fields = verr.Errors
	}
	c.AbortWithStatusJSON(Status(err), body)
}

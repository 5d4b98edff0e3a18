package middleware

import (
	"context"
	"errors"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/apierror"
)

// Abort writes e with the request id stamped on it and stops the chain.
func Abort(c *gin.Context, e *apierror.APIError) {
	c.AbortWithStatusJSON(e.Status(), e.WithRequestID(c.GetString(RequestIDKey)))
}

// ErrorHandler answers for errors a handler attached with c.Error without
// writing a response. A query that ran past its deadline is a 503 the
// dashboard can retry; anything else is a 500 whose cause is only logged.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		body := apierror.Internal()
		ev := log.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			body = apierror.New(apierror.CodeTimeout, "print queue store did not answer in time")
			ev = log.Warn()
		}
		ev.Str("request_id", c.GetString(RequestIDKey)).
			Str("route", c.FullPath()).
			Str("method", c.Request.Method).
			Err(err).
			Msg("ops request failed")

		Abort(c, body)
	}
}

// Recovery turns a handler panic into a 500 and logs the stack.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Str("request_id", c.GetString(RequestIDKey)).
					Str("route", c.FullPath()).
					Interface("panic", r).
					Bytes("stack", debug.Stack()).
					Msg("panic in ops handler")
				Abort(c, apierror.Internal())
			}
		}()
		c.Next()
	}
}

// Logger writes one line per request. Healthy /health polls go to debug so
// the load balancer does not flood the log; 4xx is warn and 5xx is error.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		ev := requestEvent(c.Request.URL.Path, status)
		ev.Str("request_id", c.GetString(RequestIDKey)).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

func requestEvent(path string, status int) *zerolog.Event {
	switch {
	case status >= http.StatusInternalServerError:
		return log.Error()
	case status >= http.StatusBadRequest:
		return log.Warn()
	case path == "/health":
		return log.Debug()
	default:
		return log.Info()
	}
}

package http

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/procurement-approval/internal/application/port"
	"github.com/garyjia/procurement-approval/internal/domain/entity"
	"github.com/garyjia/procurement-approval/pkg/tracing"
)

const (
	// UserIDHeader carries the acting user's directory ID
	UserIDHeader = "X-User-ID"
	// TraceIDHeader echoes the request's trace ID when tracing is enabled
	TraceIDHeader = "X-Trace-ID"

	actorKey = "actor"
)

// loggingMiddleware creates a logging middleware
func loggingMiddleware(logger Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		kv := []interface{}{
			"method", method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"client_ip", c.ClientIP(),
		}
		if err := c.Errors.Last(); err != nil {
			logger.Error("HTTP request failed", append(kv, "error", err.Err)...)
			return
		}
		logger.Info("HTTP request", kv...)
	}
}

// tracingMiddleware opens one span per request
func tracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		ctx, span := tracing.StartSpan(c.Request.Context(), c.Request.Method+" "+route)
		span.SetString("http.method", c.Request.Method).SetString("http.route", route)
		c.Request = c.Request.WithContext(ctx)
		if traceID := tracing.TraceID(ctx); traceID != "" {
			c.Header(TraceIDHeader, traceID)
		}

		c.Next()

		span.SetStatusFromHTTPCode(c.Writer.Status())
		var err error
		if last := c.Errors.Last(); last != nil {
			err = last.Err
		}
		span.End(err)
	}
}

// actorMiddleware resolves the acting user from UserIDHeader
func actorMiddleware(users port.UserDirectory) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.GetHeader(UserIDHeader), 10, 64)
		if err != nil || id <= 0 {
			_ = c.Error(ErrUnauthenticated)
			c.Abort()
			return
		}

		user, err := users.GetUser(c.Request.Context(), id)
		if err != nil {
			if isNotFound(err) {
				err = ErrUnauthenticated
			}
			_ = c.Error(err)
			c.Abort()
			return
		}

		c.Set(actorKey, user)
		c.Next()
	}
}

// actor returns the user set by actorMiddleware
func actor(c *gin.Context) *entity.User {
	return c.MustGet(actorKey).(*entity.User)
}

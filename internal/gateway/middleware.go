package gateway

import (
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vyrodovalexey/streamgw/internal/observability"
)

const (
	// RequestIDHeader is the header carrying the request identifier.
	RequestIDHeader = "X-Request-ID"
	// requestIDKey is the gin context key for the request identifier.
	requestIDKey = "requestID"
)

// RequestID assigns each request an identifier, honoring one supplied
// by the client, and echoes it in the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}

		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Request = c.Request.WithContext(
			observability.ContextWithRequestID(c.Request.Context(), id))

		c.Next()
	}
}

// GetRequestID returns the request identifier bound by RequestID.
func GetRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// Recovery recovers from handler panics, logs them with a stack trace,
// and answers 500 if the response is still open.
func Recovery(logger observability.Logger) gin.HandlerFunc {
	metrics := observability.GetGatewayMetrics()

	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				metrics.RecordPanic()
				logger.Error("panic recovered",
					observability.Any("error", err),
					observability.String("method", c.Request.Method),
					observability.String("path", c.Request.URL.Path),
					observability.String("requestID", GetRequestID(c)),
					observability.String("stack", string(debug.Stack())))

				if !c.Writer.Written() {
					c.AbortWithStatusJSON(http.StatusInternalServerError,
						gin.H{"error": "internal server error"})
				} else {
					c.Abort()
				}
			}
		}()

		c.Next()
	}
}

// AccessLog logs one line per completed request and feeds the request
// counter. The level follows the response status.
func AccessLog(logger observability.Logger, skipPaths ...string) gin.HandlerFunc {
	metrics := observability.GetGatewayMetrics()

	skip := make(map[string]bool, len(skipPaths))
	for _, path := range skipPaths {
		skip[path] = true
	}

	return func(c *gin.Context) {
		path := c.Request.URL.Path
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		metrics.RecordRequest(strconv.Itoa(status))

		if skip[path] {
			return
		}

		fields := []observability.Field{
			observability.String("requestID", GetRequestID(c)),
			observability.String("method", c.Request.Method),
			observability.String("path", path),
			observability.String("query", c.Request.URL.RawQuery),
			observability.Int("status", status),
			observability.Duration("latency", time.Since(start)),
			observability.String("clientIP", c.ClientIP()),
		}

		switch {
		case status >= 500:
			logger.Error("request completed", fields...)
		case status >= 400:
			logger.Warn("request completed", fields...)
		default:
			logger.Info("request completed", fields...)
		}
	}
}

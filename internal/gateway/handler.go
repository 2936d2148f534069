package gateway

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/streamgw/internal/auth"
	"github.com/vyrodovalexey/streamgw/internal/observability"
	"github.com/vyrodovalexey/streamgw/internal/proxy"
	"github.com/vyrodovalexey/streamgw/internal/routing"
)

// Gin context keys for values handed between pipeline stages.
const (
	routeKey    = "route"
	identityKey = "identity"
)

// resolveRoute is the first pipeline stage: a request for a merchant
// and channel with no matching route is rejected before any credential
// handling.
func (s *Server) resolveRoute() gin.HandlerFunc {
	return func(c *gin.Context) {
		merchant := c.Param("merchant")
		channel := c.Query("channel")

		if _, err := s.table.Resolve(merchant, channel); err != nil {
			c.AbortWithStatusJSON(http.StatusNotFound,
				gin.H{"error": "no route for merchant and channel"})
			return
		}

		c.Next()
	}
}

// authenticate validates the Basic credentials. Absent, malformed, and
// failed credentials all produce the same unauthenticated response.
func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := s.authn.AuthenticateRequest(c.Request)
		if errors.Is(err, auth.ErrNoCredentials) || errors.Is(err, auth.ErrInvalidCredentials) {
			c.Header("WWW-Authenticate", `Basic realm="streamgw"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				gin.H{"error": "authentication required"})
			return
		}
		if err != nil {
			s.logger.Error("authentication backend failure",
				observability.String("requestID", GetRequestID(c)),
				observability.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError,
				gin.H{"error": "internal server error"})
			return
		}

		c.Set(identityKey, id)
		c.Request = c.Request.WithContext(
			auth.ContextWithIdentity(c.Request.Context(), id))

		c.Next()
	}
}

// authorize checks route membership. It resolves the route afresh, so
// the grant reflects the table as of this stage, not the earlier
// resolution.
func (s *Server) authorize() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, _ := c.MustGet(identityKey).(auth.Identity)

		route, err := s.authz.Authorize(c.Param("merchant"), c.Query("channel"), id)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden,
				gin.H{"error": "not authorized for this stream"})
			return
		}

		c.Set(routeKey, route)
		c.Next()
	}
}

// streamProducts relays the backend product feed into the response. A
// backend that cannot be reached before the response is committed maps
// to 502.
func (s *Server) streamProducts(c *gin.Context) {
	route, _ := c.MustGet(routeKey).(routing.Route)

	err := s.proxy.Stream(c.Writer, c.Request, route, c.Param("merchant"))
	if errors.Is(err, proxy.ErrBackendUnavailable) {
		c.AbortWithStatusJSON(http.StatusBadGateway,
			gin.H{"error": "backend unavailable"})
		return
	}
	if err != nil {
		s.logger.Error("stream failed",
			observability.String("requestID", GetRequestID(c)),
			observability.Error(err))
		c.Abort()
	}
}

// healthz reports liveness. The gateway keeps serving a frozen table
// after feed loss, so a dead feed degrades health instead of failing it
// outright; load balancers can rotate the instance out while existing
// streams continue.
func (s *Server) healthz(c *gin.Context) {
	if s.feed != nil && !s.feed.FeedLive() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "feed": "down"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

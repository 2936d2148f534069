// Package gateway wires the request pipeline onto an HTTP server:
// route resolution, authentication, authorization, then the stream
// relay, in that order.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vyrodovalexey/streamgw/internal/auth"
	"github.com/vyrodovalexey/streamgw/internal/authz"
	"github.com/vyrodovalexey/streamgw/internal/config"
	"github.com/vyrodovalexey/streamgw/internal/observability"
	"github.com/vyrodovalexey/streamgw/internal/proxy"
	"github.com/vyrodovalexey/streamgw/internal/routing"
)

// ginModeOnce ensures gin.SetMode is only called once to avoid race
// conditions.
var ginModeOnce sync.Once

// FeedStatus reports whether the route change feed is up. Implemented
// by the config syncer.
type FeedStatus interface {
	FeedLive() bool
}

// Server is the gateway HTTP server.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	cfg        *config.Config
	logger     observability.Logger

	table *routing.Table
	authn *auth.Authenticator
	authz *authz.Authorizer
	proxy *proxy.StreamProxy
	feed  FeedStatus

	mu      sync.Mutex
	running bool
}

// New creates a gateway server over the given routing table and
// collaborators.
func New(
	cfg *config.Config,
	table *routing.Table,
	authn *auth.Authenticator,
	az *authz.Authorizer,
	sp *proxy.StreamProxy,
	feed FeedStatus,
	logger observability.Logger,
) *Server {
	ginModeOnce.Do(func() {
		gin.SetMode(gin.ReleaseMode)
	})

	s := &Server{
		engine: gin.New(),
		cfg:    cfg,
		logger: logger,
		table:  table,
		authn:  authn,
		authz:  az,
		proxy:  sp,
		feed:   feed,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.Use(RequestID())
	s.engine.Use(Recovery(s.logger))
	if s.cfg.AccessLogEnabled {
		s.engine.Use(AccessLog(s.logger, "/healthz", s.cfg.MetricsPath))
	}

	s.engine.GET("/products/:merchant",
		s.resolveRoute(),
		s.authenticate(),
		s.authorize(),
		s.streamProducts,
	)

	s.engine.GET("/healthz", s.healthz)

	if s.cfg.MetricsEnabled {
		s.engine.GET(s.cfg.MetricsPath, gin.WrapH(promhttp.Handler()))
	}
}

// Handler exposes the engine, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start runs the server until Stop is called. It blocks.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}

	addr := fmt.Sprintf(":%d", s.cfg.HTTPPort)
	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.engine,
		ReadTimeout: s.cfg.ReadTimeout,
		IdleTimeout: s.cfg.IdleTimeout,
		// No WriteTimeout: product streams are open-ended responses.
	}

	s.running = true
	s.mu.Unlock()

	s.logger.Info("starting HTTP server",
		observability.String("address", addr))

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("stopping HTTP server")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/fieldops/dispatch-gateway/services/api/config"
	"github.com/fieldops/dispatch-gateway/services/api/dispatch"
	"github.com/fieldops/dispatch-gateway/services/api/logging"
	"github.com/fieldops/dispatch-gateway/services/api/metrics"
)

// Pinger is implemented by stores that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Backend is the read side of the store the server uses directly.
type Backend interface {
	Pinger
	ConsoleStore
}

// Server bundles router and dependencies for the dispatch API.
type Server struct {
	cfg     config.Config
	svc     *dispatch.Service
	health  Pinger
	console ConsoleStore
	logger  zerolog.Logger
	limiter *rateLimiter
	engine  *gin.Engine
}

// New constructs a server with routes and middleware. A nil backend disables
// the health probe and the console routes.
func New(cfg config.Config, svc *dispatch.Service, backend Backend, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(logging.GinLogger(logger))
	engine.Use(corsMiddleware())

	server := &Server{cfg: cfg, svc: svc, logger: logger, engine: engine}
	if backend != nil {
		server.health = backend
		server.console = backend
	}
	if cfg.RateLimit > 0 {
		server.limiter = newRateLimiter(cfg.RateLimit, cfg.RateBurst)
	}
	server.registerRoutes()
	return server
}

// Engine exposes the underlying gin engine (for tests).
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Run starts the HTTP server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr(),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.limiter != nil {
		go s.limiter.runCleanup(ctx, 5*time.Minute)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.engine.Group("/api/dispatch")
	if s.limiter != nil {
		api.Use(rateLimitMiddleware(s.limiter))
	}
	api.Use(s.gateMiddleware())

	api.Any("/position", methodGuard(http.MethodPost), s.handlePosition)
	api.Any("/transmission", methodGuard(http.MethodPost), s.handleTransmission)
	api.Any("/text_message", methodGuard(http.MethodPost), s.handleTextMessage)
	api.Any("/emergency", methodGuard(http.MethodPost), s.handleEmergency)
	api.Any("/audio", methodGuard(http.MethodPost), s.handleAudio)
	api.Any("/event", methodGuard(http.MethodPost), s.handleEvent)
	api.Any("/config", methodGuard(http.MethodGet), s.handleConfig)

	s.registerConsoleRoutes()
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.health.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// gateMiddleware runs the credential gate before any method or body checks.
func (s *Server) gateMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.RequestTimeout)
		defer cancel()

		if _, err := s.svc.Authorize(ctx, c.GetHeader("X-API-Key")); err != nil {
			abortWithError(c, err)
			return
		}
		c.Next()
	}
}

func methodGuard(method string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != method {
			c.Header("Allow", method)
			abortWithError(c, dispatch.ErrMethodNotAllowed)
			return
		}
		c.Next()
	}
}

func rateLimitMiddleware(rl *rateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP()) {
			metrics.APIRateLimitHits.WithLabelValues(c.FullPath()).Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, X-API-Key")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// abortWithError writes the JSON error body for err and stops the chain.
func abortWithError(c *gin.Context, err error) {
	_ = c.Error(err)
	status := dispatch.StatusCode(err)
	if status == http.StatusInternalServerError {
		c.AbortWithStatusJSON(status, gin.H{"error": "server error", "message": err.Error()})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

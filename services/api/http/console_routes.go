package http

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/fieldops/dispatch-gateway/services/api/dispatch"
)

// ConsoleStore is the read side used by the dispatch console endpoints.
type ConsoleStore interface {
	RecentEvents(ctx context.Context, limit int) ([]dispatch.EventLogEntry, error)
	ActiveTransmissions(ctx context.Context) ([]dispatch.Transmission, error)
	GetTransmission(ctx context.Context, id int64) (*dispatch.Transmission, error)
}

// registerConsoleRoutes sets up the read-only console API behind the same
// credential gate as ingestion.
// Groups: /api/v1/console/events, /api/v1/console/transmissions
func (s *Server) registerConsoleRoutes() {
	if s.console == nil {
		return
	}

	v1 := s.engine.Group("/api/v1")
	v1.Use(apiVersionMiddleware())
	if s.limiter != nil {
		v1.Use(rateLimitMiddleware(s.limiter))
	}
	v1.Use(s.gateMiddleware())

	console := v1.Group("/console")
	{
		console.GET("/events", s.handleConsoleEvents)
		console.GET("/transmissions/active", s.handleConsoleActiveTransmissions)
		console.GET("/transmissions/:id", s.handleConsoleTransmission)
	}
}

func apiVersionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-API-Version", "v1")
		c.Next()
	}
}

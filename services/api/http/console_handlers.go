package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// handleConsoleEvents returns the newest event log entries
// GET /api/v1/console/events?limit=N
func (s *Server) handleConsoleEvents(c *gin.Context) {
	limit := defaultEventLimit
	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = min(parsed, maxEventLimit)
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	events, err := s.console.RecentEvents(ctx, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": events,
		"meta": gin.H{
			"count": len(events),
			"limit": limit,
		},
	})
}

// handleConsoleActiveTransmissions returns what is on air right now
// GET /api/v1/console/transmissions/active
func (s *Server) handleConsoleActiveTransmissions(c *gin.Context) {
	ctx, cancel := s.requestContext(c)
	defer cancel()

	active, err := s.console.ActiveTransmissions(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": active,
		"meta": gin.H{
			"count":        len(active),
			"generated_at": time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// handleConsoleTransmission returns one transmission
// GET /api/v1/console/transmissions/:id
func (s *Server) handleConsoleTransmission(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid transmission id"})
		return
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	t, err := s.console.GetTransmission(ctx, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server error", "message": err.Error()})
		return
	}
	if t == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "transmission not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": t,
		"meta": gin.H{
			"open": t.Open(),
		},
	})
}

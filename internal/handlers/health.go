package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fosten-shop/fosten-orders-service/internal/logging"
)

const serviceName = "orders-service"

const readinessTimeout = 2 * time.Second

// Health handles GET /health
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": serviceName,
	})
}

// Ready handles GET /ready
func (h *Handlers) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
	defer cancel()

	results := gin.H{}
	ready := true
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			ready = false
			results[name] = "unavailable"
			h.logger.Warn("Readiness check failed", logging.Fields{
				"dependency": name,
				"error":      err.Error(),
			})
			continue
		}
		results[name] = "ok"
	}

	if !ready {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":       "not_ready",
			"service":      serviceName,
			"dependencies": results,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":       "ready",
		"service":      serviceName,
		"dependencies": results,
	})
}

// Live handles GET /live
func (h *Handlers) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "alive",
	})
}

// Metrics handles GET /metrics (Prometheus format)
func (h *Handlers) Metrics(c *gin.Context) {
	h.metricsHandler.ServeHTTP(c.Writer, c.Request)
}

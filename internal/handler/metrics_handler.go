package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/sohlabs/soh-ingest-api/internal/service"
)

type queueProbe interface {
	Ready() bool
}

// MetricsHandler exposes observability and probe endpoints.
type MetricsHandler struct {
	metrics *service.MetricsService
	db      *sqlx.DB
	queue   queueProbe
}

// NewMetricsHandler constructs a metrics handler.
func NewMetricsHandler(metrics *service.MetricsService, db *sqlx.DB, queue queueProbe) *MetricsHandler {
	return &MetricsHandler{metrics: metrics, db: db, queue: queue}
}

// Prometheus serves the Prometheus metrics endpoint.
func (h *MetricsHandler) Prometheus(c *gin.Context) {
	if h.metrics == nil {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// Health responds with a generic OK payload for liveness usage.
func (h *MetricsHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready reports whether the index and the archival workers can take traffic.
func (h *MetricsHandler) Ready(c *gin.Context) {
	checks := gin.H{"database": "ok", "archival_queue": "ok"}
	healthy := true
	if h.db == nil {
		checks["database"] = "not configured"
		healthy = false
	} else if err := h.db.PingContext(c.Request.Context()); err != nil {
		checks["database"] = err.Error()
		healthy = false
	}
	if h.queue == nil || !h.queue.Ready() {
		checks["archival_queue"] = "not started"
		healthy = false
	}
	if !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "checks": checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "checks": checks})
}

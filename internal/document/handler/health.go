package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gogotex/document-service/internal/document/index"
)

// Readiness is the part of the index the probes need.
type Readiness interface {
	Ready() bool
	Stats() index.Stats
}

// RegisterOps mounts /health (liveness), /ready (index rebuilt) and /metrics.
func RegisterOps(r gin.IRouter, idx Readiness, gatherer prometheus.Gatherer) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if !idx.Ready() {
			c.Header("Retry-After", "1")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "rebuilding"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready", "index": idx.Stats()})
	})
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
}

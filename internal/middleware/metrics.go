package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/novadesk/novadesk-api/internal/service"
)

// Metrics records per-request counters and latency histograms. The metrics
// endpoint itself is skipped so scrapes do not inflate the series.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metricsSvc == nil || c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		// Unmatched routes report the raw path so 404 floods stay visible
		// without exploding label cardinality on matched ones.
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}

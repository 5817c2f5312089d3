package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/contentmesh/embedcache/pkg/observability"
)

// RequestLogger logs one line per request after it completes
func RequestLogger(logger observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Info("request completed", map[string]interface{}{
			"method":    c.Request.Method,
			"path":      path,
			"status":    c.Writer.Status(),
			"latency":   time.Since(start).String(),
			"client_ip": c.ClientIP(),
		})

		if len(c.Errors) > 0 {
			logger.Warn("request errors", map[string]interface{}{
				"path":   path,
				"errors": c.Errors.String(),
			})
		}
	}
}

// MetricsMiddleware records request counts and latencies per route
func MetricsMiddleware(metrics observability.MetricsClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		labels := map[string]string{
			"method": c.Request.Method,
			"route":  route,
			"status": strconv.Itoa(c.Writer.Status()),
		}
		metrics.RecordCounter("http.requests", 1, labels)
		metrics.RecordTimer("http.request_duration", time.Since(start), labels)
	}
}

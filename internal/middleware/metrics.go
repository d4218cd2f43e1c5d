package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/eventos-api/internal/service"
)

// unmatchedRoute labels requests that hit no registered route, so scanners
// probing random URLs cannot grow the path label set.
const unmatchedRoute = "unmatched"

// Metrics records request count and latency per route template. Requests to
// skipPaths (health checks, the scrape endpoint) are not recorded.
func Metrics(metricsSvc *service.MetricsService, skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}
	return func(c *gin.Context) {
		if metricsSvc == nil {
			c.Next()
			return
		}
		route := c.FullPath()
		if _, ok := skip[route]; ok {
			c.Next()
			return
		}
		if route == "" {
			route = unmatchedRoute
		}

		start := time.Now()
		c.Next()
		metricsSvc.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}

package middleware

import (
	"strconv"
	"time"

	"chatdesk/metrics"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Logger puts logger on the context and logs each finished request.
func Logger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("logger", logger)
		start := time.Now()
		c.Next()

		logger.Debug("Request handled",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)))
	}
}

// Metrics counts requests by route template rather than raw path.
func Metrics(rec *metrics.Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		rec.HTTPRequest(c.Request.Method, route, strconv.Itoa(c.Writer.Status()))
	}
}

package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Requests is the per-request middleware for a node's HTTP surface: one pass
// over the response emits both the structured log line and the node-labeled
// metrics, sharing a single route-path resolution.
func Requests(logger zerolog.Logger, node string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		elapsed := time.Since(start)
		path := c.FullPath()
		if path == "" {
			// Unmatched routes keep their raw path so 404s stay visible
			// without exploding metric cardinality on matched ones.
			path = c.Request.URL.Path
		}

		RecordHTTPRequest(node, c.Request.Method, path, status, elapsed)

		event := logger.Info()
		if status >= 500 {
			event = logger.Error()
		} else if status >= 400 {
			event = logger.Warn()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("duration", elapsed).
			Str("client_ip", c.ClientIP()).
			Int("bytes", c.Writer.Size()).
			Msg("http_request")
	}
}

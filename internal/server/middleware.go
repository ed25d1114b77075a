package server

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

// requestLogger writes one line per request, at Warn for 4xx and Error for 5xx.
func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		attrs := []any{
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.Int("status", status),
			slog.Duration("latency", time.Since(start)),
		}
		switch {
		case status >= 500:
			log.Error("HTTP request", attrs...)
		case status >= 400:
			log.Warn("HTTP request", attrs...)
		default:
			log.Info("HTTP request", attrs...)
		}
	}
}

func instrument(m *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		m.ObserveHTTP(c.Request.Method, c.FullPath(), c.Writer.Status())
	}
}

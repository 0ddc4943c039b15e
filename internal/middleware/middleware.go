package middleware

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/yourorg/market-ingest/internal/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Logger creates a middleware for logging HTTP requests
func Logger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if query := c.Request.URL.RawQuery; query != "" {
			path = path + "?" + query
		}

		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("client_ip", c.ClientIP()),
			zap.Duration("latency", time.Since(start)),
		}

		switch {
		case status >= 500:
			logger.Error("Server error", fields...)
		case status >= 400:
			logger.Warn("Client error", fields...)
		default:
			logger.Info("Request completed", fields...)
		}
	}
}

// ServiceAuthMiddleware requires the X-Service-Key header to match expectedKey.
// An empty expectedKey disables the check.
func ServiceAuthMiddleware(expectedKey string, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if expectedKey == "" {
			c.Next()
			return
		}

		serviceKey := c.GetHeader("X-Service-Key")
		if serviceKey == "" {
			utils.SendErrorResponse(c, http.StatusUnauthorized, "Service authentication required")
			c.Abort()
			return
		}

		if subtle.ConstantTimeCompare([]byte(serviceKey), []byte(expectedKey)) != 1 {
			logger.Warn("Invalid service key received", zap.String("client_ip", c.ClientIP()))
			utils.SendErrorResponse(c, http.StatusUnauthorized, "Invalid service key")
			c.Abort()
			return
		}

		c.Next()
	}
}

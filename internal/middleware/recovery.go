package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"riffline-calling/pkg/logger"
	"riffline-calling/pkg/response"
)

// Recovery recovers from panics and returns 500 error
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("Panic in request handler",
					zap.Any("panic", err),
					zap.String("path", c.Request.URL.Path),
					zap.ByteString("stack", debug.Stack()),
				)
				response.InternalError(c, "Internal server error")
				c.Abort()
			}
		}()
		c.Next()
	}
}

// HealthCheck answers /health before any other middleware runs. check
// reports the degraded dependencies, if any.
func HealthCheck(serviceName string, check func() map[string]string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path != "/health" {
			c.Next()
			return
		}

		body := gin.H{"status": "healthy", "service": serviceName}
		if check != nil {
			if degraded := check(); len(degraded) > 0 {
				body["status"] = "degraded"
				body["degraded"] = degraded
			}
		}
		c.JSON(http.StatusOK, body)
		c.Abort()
	}
}

// NoRoute answers unknown paths with the standard error envelope
func NoRoute() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.NotFound(c, "Route not found")
	}
}

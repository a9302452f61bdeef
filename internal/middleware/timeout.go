package middleware

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"riffline-calling/pkg/logger"
)

// RequestTimeout bounds each request context to timeout. Long-lived stream
// routes (paths ending in /ws/...) are left alone.
func RequestTimeout(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if timeout <= 0 || strings.Contains(c.Request.URL.Path, "/ws/") {
			c.Next()
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		if ctx.Err() == context.DeadlineExceeded {
			logger.Warn("Request exceeded its deadline",
				zap.Duration("timeout", timeout),
				zap.String("path", c.Request.URL.Path),
			)
		}
	}
}

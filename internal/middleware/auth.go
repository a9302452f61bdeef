package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"riffline-calling/pkg/jwt"
	"riffline-calling/pkg/logger"
	"riffline-calling/pkg/response"
)

// AuthMiddleware validates the bearer token issued by the auth provider and
// requires it to belong to the device user. Browsers cannot set headers on a
// WebSocket upgrade, so the token may also arrive as the access_token query
// parameter.
// If valid, it sets user_id and display_name in the Gin context.
func AuthMiddleware(jwtManager *jwt.JWTManager, deviceUserID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c)
		if !ok {
			response.Unauthorized(c, "Authorization header required")
			c.Abort()
			return
		}

		claims, err := jwtManager.ValidateToken(tokenString)
		if err != nil {
			logger.Debug("Rejected token", zap.Error(err))
			response.Unauthorized(c, "Invalid token")
			c.Abort()
			return
		}

		if claims.UserID != deviceUserID {
			logger.Warn("Token for another user presented to device gateway",
				logger.UserID(claims.UserID),
			)
			response.Forbidden(c, "Token does not belong to this device")
			c.Abort()
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("display_name", claims.DisplayName)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		token := c.Query("access_token")
		return token, token != ""
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

package middleware

import (
	"net/http"
	"strings"
	"time"

	"prompt-registry-api/internal/auth"
	"prompt-registry-api/internal/database"
	"prompt-registry-api/internal/models"

	"github.com/gin-gonic/gin"
)

// JWTAuthMiddleware validates the admin session token in the Authorization header
func JWTAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := bearerToken(c)
		// Fallback for WebSocket/browser where custom headers cannot be set: allow token in query param
		if tokenString == "" {
			tokenString = c.Query("token")
		}
		if tokenString == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization token is required",
			})
			c.Abort()
			return
		}

		// Validate token
		claims, err := auth.ValidateToken(tokenString)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid or expired token",
			})
			c.Abort()
			return
		}

		// Store user info in context for use in handlers
		c.Set("user_id", claims.UserID)
		c.Set("username", claims.Username)

		c.Next()
	}
}

// APIKeyAuthMiddleware validates the public-API key in the Authorization
// header against the api_keys table. The error body shape matches what the
// SDK's error mapping expects.
func APIKeyAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := bearerToken(c)
		if key == "" {
			abortUnauthorized(c, "API key is required")
			return
		}

		prefix, err := auth.KeyPrefix(key)
		if err != nil {
			abortUnauthorized(c, "invalid API key")
			return
		}

		var apiKey models.APIKey
		if err := database.GetDB().Where("prefix = ?", prefix).First(&apiKey).Error; err != nil {
			abortUnauthorized(c, "invalid API key")
			return
		}
		if !apiKey.Active || !auth.VerifyAPIKey(apiKey.KeyHash, key) {
			abortUnauthorized(c, "invalid API key")
			return
		}

		nowTs := time.Now()
		database.GetDB().Model(&apiKey).Update("last_used_at", &nowTs)

		c.Set("api_key_id", apiKey.ID)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) == 2 && parts[0] == "Bearer" {
		return parts[1]
	}
	return ""
}

func abortUnauthorized(c *gin.Context, message string) {
	c.JSON(http.StatusUnauthorized, gin.H{
		"error": gin.H{"code": "INVALID_API_KEY", "message": message},
	})
	c.Abort()
}

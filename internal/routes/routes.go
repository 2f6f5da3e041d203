package routes

import (
	"prompt-registry-api/internal/handlers"
	"prompt-registry-api/internal/middleware"

	"github.com/gin-gonic/gin"
)

// SetupRoutes wires the HTTP surface. Handlers arrive pre-built so the
// composition root owns the cache, content repository and indexer.
func SetupRoutes(prompts *handlers.PromptHandler, admin *handlers.AdminHandler, webhook *handlers.WebhookHandler) *gin.Engine {
	// Create a new GIN Router
	ginRouter := gin.Default()

	// CORS middleware (for dashboard integration)
	ginRouter.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, If-None-Match")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Health check endpoint
	ginRouter.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"message": "Prompt Registry API is running",
		})
	})

	api := ginRouter.Group("/api/v1")

	// Public routes (no authentication required)
	api.POST("/auth/login", handlers.Login)

	// Content webhook: authenticated by shared secret header inside the handler
	api.POST("/webhooks/content", webhook.ContentSync)

	// SDK-facing read API (API key required)
	public := api.Group("/prompts")
	public.Use(middleware.APIKeyAuthMiddleware())
	{
		public.GET("/:id", prompts.GetPrompt)
		public.GET("/by-name/:org/:app/:name", prompts.GetPromptByName)
		public.POST("/:id/render", prompts.RenderPrompt)
	}

	// Admin API (JWT required)
	adminRoutes := api.Group("/admin")
	adminRoutes.Use(middleware.JWTAuthMiddleware())
	{
		adminRoutes.GET("/prompts", admin.ListPrompts)
		adminRoutes.POST("/prompts", admin.CreatePrompt)
		adminRoutes.PUT("/prompts/:id", admin.UpdatePrompt)
		adminRoutes.DELETE("/prompts/:id", admin.DeletePrompt)

		adminRoutes.GET("/cache/stats", prompts.CacheStats)
		adminRoutes.POST("/cache/invalidate", prompts.InvalidateCache)

		adminRoutes.POST("/api-keys", handlers.CreateAPIKey)
		adminRoutes.GET("/api-keys", handlers.ListAPIKeys)
		adminRoutes.DELETE("/api-keys/:id", handlers.RevokeAPIKey)

		// Prompt change notifications (token may also come via ?token= for
		// browser WebSocket clients)
		adminRoutes.GET("/ws", handlers.WebSocketHandler)
	}

	return ginRouter
}

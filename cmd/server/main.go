package main

import (
	"log"
	"os"
	"strconv"
	"time"

	"prompt-registry-api/internal/cache"
	"prompt-registry-api/internal/content"
	"prompt-registry-api/internal/database"
	"prompt-registry-api/internal/handlers"
	"prompt-registry-api/internal/indexer"
	"prompt-registry-api/internal/routes"
	"prompt-registry-api/pkg/registry"
)

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func main() {
	// Init database
	database.InitDB()

	// Response cache: settings come from the environment so deployments can
	// size it without a rebuild
	capacity := getEnvInt("REGISTRY_CACHE_SIZE", 500)
	ttl := time.Duration(getEnvInt("REGISTRY_CACHE_TTL_SECONDS", 60)) * time.Second
	promptCache := cache.New[*registry.Prompt](capacity, ttl)

	// Content repository plus the indexer mirroring it into SQLite
	repo := content.NewDirRepository(getEnv("REGISTRY_CONTENT_DIR", "./content"))
	ix := indexer.New(database.GetDB(), repo)
	if summary, err := ix.Sync(); err != nil {
		log.Fatal("Initial content sync failed: ", err)
	} else {
		log.Printf("Initial content sync: created=%d updated=%d removed=%d failed=%d",
			summary.Created, summary.Updated, summary.Removed, summary.Failed)
	}

	// Setup the routes (public, SDK-facing and admin routes)
	ginRoutes := routes.SetupRoutes(
		handlers.NewPromptHandler(promptCache),
		handlers.NewAdminHandler(promptCache, repo, ix),
		handlers.NewWebhookHandler(promptCache, ix, getEnv("REGISTRY_WEBHOOK_SECRET", "development-webhook-secret")),
	)

	// Start server
	port := ":" + getEnv("REGISTRY_PORT", "8008")
	log.Printf("Server starting on port %s", port)
	log.Println("API endpoints:")
	log.Println("  POST   /api/v1/auth/login")
	log.Println("  GET    /api/v1/prompts/:id")
	log.Println("  GET    /api/v1/prompts/by-name/:org/:app/:name")
	log.Println("  POST   /api/v1/prompts/:id/render")
	log.Println("  GET    /api/v1/admin/prompts")
	log.Println("  POST   /api/v1/admin/prompts")
	log.Println("  PUT    /api/v1/admin/prompts/:id")
	log.Println("  DELETE /api/v1/admin/prompts/:id")
	log.Println("  POST   /api/v1/webhooks/content")
	log.Println("  GET    /health")

	if err := ginRoutes.Run(port); err != nil {
		log.Fatal("Failed to start server: ", err)
	}
}

package handlers

import (
	"errors"
	"log"
	"net/http"
	"time"

	"prompt-registry-api/internal/cache"
	"prompt-registry-api/internal/database"
	"prompt-registry-api/internal/models"
	"prompt-registry-api/internal/render"
	"prompt-registry-api/pkg/registry"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const cacheControlValue = "public, max-age=60, stale-while-revalidate=300"

// PromptHandler serves the public read API. The cache is injected at
// construction so the composition root controls its capacity and TTL.
type PromptHandler struct {
	cache *cache.Cache[*registry.Prompt]
}

func NewPromptHandler(c *cache.Cache[*registry.Prompt]) *PromptHandler {
	return &PromptHandler{cache: c}
}

// RenderPromptRequest represents the request payload for server-side rendering
type RenderPromptRequest struct {
	Variables map[string]interface{} `json:"variables"`
}

func apiError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}

// loadPrompt reads a prompt row plus its application and converts it to the
// wire payload served to SDK clients.
func loadPrompt(db *gorm.DB, prompt *models.Prompt) (*registry.Prompt, string, error) {
	var app models.Application
	if err := db.First(&app, "id = ?", prompt.AppID).Error; err != nil {
		return nil, "", err
	}
	payload, err := prompt.ToPayload(app.Org, app.Repo)
	if err != nil {
		return nil, "", err
	}
	return payload, prompt.ETag(), nil
}

// respond writes a prompt payload with its validator headers, honoring
// If-None-Match with a 304 when the client already holds the current revision.
func (h *PromptHandler) respond(c *gin.Context, payload *registry.Prompt, etag string) {
	c.Header("ETag", etag)
	c.Header("Cache-Control", cacheControlValue)
	if c.GetHeader("If-None-Match") == etag {
		c.Status(http.StatusNotModified)
		return
	}
	c.JSON(http.StatusOK, payload)
}

/*
*
GetPrompt handles GET /api/v1/prompts/:id
Serves a single prompt by UUID, cache-first with a database fallback.
*/
func (h *PromptHandler) GetPrompt(c *gin.Context) {
	start := time.Now()
	id := c.Param("id")
	key := "id:" + id

	if entry, fresh := h.cache.Get(key); fresh {
		h.respond(c, entry.Payload, entry.Validator)
		h.logAccess(c, entry.Payload.ID, true, start)
		return
	}

	db := database.GetDB()
	var prompt models.Prompt
	if err := db.First(&prompt, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			apiError(c, http.StatusNotFound, "PROMPT_NOT_FOUND", "No prompt with id "+id)
			return
		}
		apiError(c, http.StatusInternalServerError, "INTERNAL", "Failed to load prompt")
		return
	}

	payload, etag, err := loadPrompt(db, &prompt)
	if err != nil {
		apiError(c, http.StatusInternalServerError, "INTERNAL", "Failed to load prompt")
		return
	}
	h.cache.Put(key, payload, etag)

	h.respond(c, payload, etag)
	h.logAccess(c, payload.ID, false, start)
}

/*
*
GetPromptByName handles GET /api/v1/prompts/by-name/:org/:app/:name
Optional query param: environment (defaults to any active revision).
*/
func (h *PromptHandler) GetPromptByName(c *gin.Context) {
	start := time.Now()
	org := c.Param("org")
	app := c.Param("app")
	name := c.Param("name")
	env := c.DefaultQuery("environment", "any")
	key := "name:" + org + "/" + app + "/" + name + ":" + env

	if entry, fresh := h.cache.Get(key); fresh {
		h.respond(c, entry.Payload, entry.Validator)
		h.logAccess(c, entry.Payload.ID, true, start)
		return
	}

	db := database.GetDB()
	var application models.Application
	if err := db.First(&application, "org = ? AND repo = ?", org, app).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			apiError(c, http.StatusNotFound, "PROMPT_NOT_FOUND", "No application "+org+"/"+app)
			return
		}
		apiError(c, http.StatusInternalServerError, "INTERNAL", "Failed to load prompt")
		return
	}

	query := db.Where("app_id = ? AND name = ? AND active = ?", application.ID, name, true)
	if env != "any" {
		query = query.Where("environment = ?", env)
	}
	var prompt models.Prompt
	if err := query.Order("version desc").First(&prompt).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			apiError(c, http.StatusNotFound, "PROMPT_NOT_FOUND", "No prompt "+org+"/"+app+"/"+name)
			return
		}
		apiError(c, http.StatusInternalServerError, "INTERNAL", "Failed to load prompt")
		return
	}

	payload, etag, err := loadPrompt(db, &prompt)
	if err != nil {
		apiError(c, http.StatusInternalServerError, "INTERNAL", "Failed to load prompt")
		return
	}
	// Populate both lookup paths so a later by-id request hits the cache too
	h.cache.Put(key, payload, etag)
	h.cache.Put("id:"+payload.ID, payload, etag)

	h.respond(c, payload, etag)
	h.logAccess(c, payload.ID, false, start)
}

/*
*
RenderPrompt handles POST /api/v1/prompts/:id/render
Substitutes the supplied variables into the prompt body server-side.
*/
func (h *PromptHandler) RenderPrompt(c *gin.Context) {
	var req RenderPromptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	id := c.Param("id")
	var payload *registry.Prompt
	if entry, fresh := h.cache.Get("id:" + id); fresh {
		payload = entry.Payload
	} else {
		db := database.GetDB()
		var prompt models.Prompt
		if err := db.First(&prompt, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				apiError(c, http.StatusNotFound, "PROMPT_NOT_FOUND", "No prompt with id "+id)
				return
			}
			apiError(c, http.StatusInternalServerError, "INTERNAL", "Failed to load prompt")
			return
		}
		loaded, etag, err := loadPrompt(db, &prompt)
		if err != nil {
			apiError(c, http.StatusInternalServerError, "INTERNAL", "Failed to load prompt")
			return
		}
		h.cache.Put("id:"+id, loaded, etag)
		payload = loaded
	}

	c.JSON(http.StatusOK, registry.RenderResult{
		ID:           payload.ID,
		Name:         payload.Name,
		RenderedBody: render.Render(payload.Body, req.Variables),
		Meta: map[string]interface{}{
			"version":     payload.Version,
			"environment": payload.Environment,
			"type":        payload.Type,
		},
		Model: payload.Model,
	})
}

/*
*
CacheStats handles GET /api/v1/admin/cache/stats
*/
func (h *PromptHandler) CacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.cache.Stats())
}

// InvalidateCacheRequest represents the request payload for cache invalidation
type InvalidateCacheRequest struct {
	Prefix string `json:"prefix"`
}

/*
*
InvalidateCache handles POST /api/v1/admin/cache/invalidate
An empty prefix drops every entry.
*/
func (h *PromptHandler) InvalidateCache(c *gin.Context) {
	var req InvalidateCacheRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	removed := h.cache.InvalidateByPrefix(req.Prefix)
	c.JSON(http.StatusOK, gin.H{
		"prefix":  req.Prefix,
		"removed": removed,
	})
}

// logAccess records a serve asynchronously so request latency never pays for
// the insert. Failures are logged and dropped.
func (h *PromptHandler) logAccess(c *gin.Context, promptID string, cacheHit bool, start time.Time) {
	entry := models.AccessLog{
		PromptID:  promptID,
		APIKeyID:  c.GetString("api_key_id"),
		CacheHit:  cacheHit,
		LatencyMS: int(time.Since(start).Milliseconds()),
		ClientIP:  c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
	go func() {
		if err := database.GetDB().Create(&entry).Error; err != nil {
			log.Println("access log insert failed:", err)
		}
	}()
}

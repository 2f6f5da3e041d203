package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"

	"prompt-registry-api/internal/cache"
	"prompt-registry-api/internal/content"
	"prompt-registry-api/internal/database"
	"prompt-registry-api/internal/indexer"
	"prompt-registry-api/internal/models"
	"prompt-registry-api/internal/realtime"
	"prompt-registry-api/pkg/registry"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// AdminHandler manages prompt sources. Writes go through the content
// repository first and are then re-indexed, so the index never diverges
// from the files it mirrors.
type AdminHandler struct {
	cache   *cache.Cache[*registry.Prompt]
	repo    content.Repository
	indexer *indexer.Indexer
}

func NewAdminHandler(c *cache.Cache[*registry.Prompt], repo content.Repository, ix *indexer.Indexer) *AdminHandler {
	return &AdminHandler{cache: c, repo: repo, indexer: ix}
}

// PromptRequest represents the request payload for creating or replacing
// a prompt source file
type PromptRequest struct {
	Org         string                 `json:"org" binding:"required"`
	App         string                 `json:"app" binding:"required"`
	Name        string                 `json:"name" binding:"required"`
	Version     string                 `json:"version"`
	Domain      string                 `json:"domain"`
	Description string                 `json:"description"`
	Type        string                 `json:"type"`
	Role        string                 `json:"role"`
	Model       map[string]interface{} `json:"model"`
	Modality    map[string]interface{} `json:"modality"`
	TTS         map[string]interface{} `json:"tts"`
	Audio       map[string]interface{} `json:"audio"`
	Environment string                 `json:"environment"`
	Active      *bool                  `json:"active"`
	Tags        []string               `json:"tags"`
	Includes    []string               `json:"includes"`
	Body        string                 `json:"body" binding:"required"`
}

func (req *PromptRequest) frontMatter() *content.FrontMatter {
	return &content.FrontMatter{
		Name:        req.Name,
		Version:     req.Version,
		Org:         req.Org,
		App:         req.App,
		Domain:      req.Domain,
		Description: req.Description,
		Type:        req.Type,
		Role:        req.Role,
		Model:       req.Model,
		Modality:    req.Modality,
		TTS:         req.TTS,
		Audio:       req.Audio,
		Environment: req.Environment,
		Active:      req.Active,
		Tags:        req.Tags,
		Includes:    req.Includes,
	}
}

func promptPath(org, app, name string) string {
	return path.Join("prompts", org, app, name+".md")
}

/*
*
ListPrompts handles GET /api/v1/admin/prompts
Query params: page (default 1), limit (default 20), org, app, environment.
*/
func (h *AdminHandler) ListPrompts(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	offset := (page - 1) * limit

	db := database.GetDB()
	query := db.Model(&models.Prompt{})
	if org := c.Query("org"); org != "" {
		app := c.Query("app")
		appQuery := db.Model(&models.Application{}).Select("id").Where("org = ?", org)
		if app != "" {
			appQuery = appQuery.Where("repo = ?", app)
		}
		query = query.Where("app_id IN (?)", appQuery)
	}
	if env := c.Query("environment"); env != "" {
		query = query.Where("environment = ?", env)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		apiError(c, http.StatusInternalServerError, "INTERNAL", "Failed to count prompts")
		return
	}

	var prompts []models.Prompt
	result := query.Session(&gorm.Session{}).Order("name asc, version desc").Limit(limit).Offset(offset).Find(&prompts)
	if result.Error != nil {
		apiError(c, http.StatusInternalServerError, "INTERNAL", "Failed to fetch prompts")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"prompts": prompts,
		"count":   len(prompts),
		"total":   total,
		"page":    page,
		"limit":   limit,
	})
}

/*
*
CreatePrompt handles POST /api/v1/admin/prompts
Writes the source file, indexes it, invalidates cached projections and
notifies the org's subscribers.
*/
func (h *AdminHandler) CreatePrompt(c *gin.Context) {
	var req PromptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	filePath := promptPath(req.Org, req.App, req.Name)
	if _, err := h.repo.Get(filePath); err == nil {
		apiError(c, http.StatusConflict, "PROMPT_EXISTS", "Prompt "+req.Org+"/"+req.App+"/"+req.Name+" already exists")
		return
	}

	prompt, err := h.writeAndIndex(&req, filePath)
	if err != nil {
		apiError(c, http.StatusUnprocessableEntity, "INDEX_FAILED", err.Error())
		return
	}

	h.invalidate(prompt, req.Org, req.App)
	realtime.GetHub().Broadcast(realtime.PromptEvent{
		Event:    "prompt.created",
		PromptID: prompt.ID,
		Org:      req.Org,
		App:      req.App,
		Name:     prompt.Name,
	})
	c.JSON(http.StatusCreated, prompt)
}

/*
*
UpdatePrompt handles PUT /api/v1/admin/prompts/:id
Replaces the source file for an existing prompt.
*/
func (h *AdminHandler) UpdatePrompt(c *gin.Context) {
	id := c.Param("id")
	db := database.GetDB()

	var existing models.Prompt
	if err := db.First(&existing, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			apiError(c, http.StatusNotFound, "PROMPT_NOT_FOUND", "No prompt with id "+id)
			return
		}
		apiError(c, http.StatusInternalServerError, "INTERNAL", "Failed to load prompt")
		return
	}
	var app models.Application
	if err := db.First(&app, "id = ?", existing.AppID).Error; err != nil {
		apiError(c, http.StatusInternalServerError, "INTERNAL", "Failed to load application")
		return
	}

	var req PromptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if req.Org != app.Org || req.App != app.Repo || req.Name != existing.Name {
		apiError(c, http.StatusBadRequest, "INVALID_REQUEST", "org, app and name cannot be changed on update")
		return
	}

	prompt, err := h.writeAndIndex(&req, existing.Path)
	if err != nil {
		apiError(c, http.StatusUnprocessableEntity, "INDEX_FAILED", err.Error())
		return
	}

	h.invalidate(prompt, app.Org, app.Repo)
	realtime.GetHub().Broadcast(realtime.PromptEvent{
		Event:    "prompt.updated",
		PromptID: prompt.ID,
		Org:      app.Org,
		App:      app.Repo,
		Name:     prompt.Name,
	})
	c.JSON(http.StatusOK, prompt)
}

/*
*
DeletePrompt handles DELETE /api/v1/admin/prompts/:id
*/
func (h *AdminHandler) DeletePrompt(c *gin.Context) {
	id := c.Param("id")
	db := database.GetDB()

	var existing models.Prompt
	if err := db.First(&existing, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			apiError(c, http.StatusNotFound, "PROMPT_NOT_FOUND", "No prompt with id "+id)
			return
		}
		apiError(c, http.StatusInternalServerError, "INTERNAL", "Failed to load prompt")
		return
	}
	var app models.Application
	if err := db.First(&app, "id = ?", existing.AppID).Error; err != nil {
		apiError(c, http.StatusInternalServerError, "INTERNAL", "Failed to load application")
		return
	}

	if err := h.repo.Delete(existing.Path); err != nil && !errors.Is(err, content.ErrNotFound) {
		apiError(c, http.StatusInternalServerError, "INTERNAL", "Failed to delete prompt source")
		return
	}
	if _, err := h.indexer.RemoveByPath(existing.Path); err != nil {
		apiError(c, http.StatusInternalServerError, "INTERNAL", "Failed to deindex prompt")
		return
	}

	h.invalidate(&existing, app.Org, app.Repo)
	realtime.GetHub().Broadcast(realtime.PromptEvent{
		Event:    "prompt.deleted",
		PromptID: existing.ID,
		Org:      app.Org,
		App:      app.Repo,
		Name:     existing.Name,
	})
	c.JSON(http.StatusOK, gin.H{"message": "Prompt deleted successfully"})
}

// writeAndIndex persists the source file and mirrors it into the index.
func (h *AdminHandler) writeAndIndex(req *PromptRequest, filePath string) (*models.Prompt, error) {
	data, err := content.FormatFile(req.frontMatter(), req.Body)
	if err != nil {
		return nil, fmt.Errorf("format prompt source: %w", err)
	}
	file, err := h.repo.Put(filePath, data)
	if err != nil {
		return nil, fmt.Errorf("write prompt source: %w", err)
	}
	prompt, err := h.indexer.IndexFile(file)
	if err != nil {
		return nil, fmt.Errorf("index prompt source: %w", err)
	}
	return prompt, nil
}

// invalidate drops every cached projection of a prompt: the by-id entry
// and every by-name/environment variant.
func (h *AdminHandler) invalidate(prompt *models.Prompt, org, app string) {
	h.cache.InvalidateByPrefix("id:" + prompt.ID)
	h.cache.InvalidateByPrefix("name:" + strings.Join([]string{org, app, prompt.Name}, "/"))
}

package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"prompt-registry-api/internal/cache"
	"prompt-registry-api/internal/content"
	"prompt-registry-api/internal/database"
	"prompt-registry-api/internal/indexer"
	"prompt-registry-api/internal/models"
	"prompt-registry-api/internal/testutil"
	"prompt-registry-api/pkg/registry"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func newAdminTest(t *testing.T) (*AdminHandler, *content.DirRepository, *cache.Cache[*registry.Prompt]) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db, err := testutil.NewInMemoryDB()
	require.NoError(t, err)
	database.DB = db

	repo := content.NewDirRepository(t.TempDir())
	ix := indexer.New(db, repo)
	promptCache := cache.New[*registry.Prompt](16, time.Minute)
	return NewAdminHandler(promptCache, repo, ix), repo, promptCache
}

func adminRequest(r *gin.Engine, method, path string, payload any) *httptest.ResponseRecorder {
	var body bytes.Buffer
	if payload != nil {
		_ = json.NewEncoder(&body).Encode(payload)
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func createPayload() map[string]any {
	return map[string]any{
		"org":         "acme",
		"app":         "chatbot",
		"name":        "greeting",
		"version":     "1",
		"environment": "production",
		"role":        "system",
		"body":        "Hello {{ user_name }}!",
		"tags":        []string{"onboarding"},
	}
}

func TestCreatePrompt(t *testing.T) {
	h, repo, _ := newAdminTest(t)
	r := gin.New()
	r.POST("/admin/prompts", h.CreatePrompt)

	w := adminRequest(r, http.MethodPost, "/admin/prompts", createPayload())
	require.Equal(t, http.StatusCreated, w.Code)

	var created models.Prompt
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)
	require.Equal(t, "greeting", created.Name)

	// Source file was written through to the content repository
	file, err := repo.Get("prompts/acme/chatbot/greeting.md")
	require.NoError(t, err)
	fm, body, err := content.ParseFile(file.Data)
	require.NoError(t, err)
	require.Equal(t, "greeting", fm.Name)
	require.Equal(t, "Hello {{ user_name }}!", body)

	// And mirrored into the index
	var row models.Prompt
	require.NoError(t, database.DB.First(&row, "id = ?", created.ID).Error)
	require.Equal(t, "1", row.Version)
}

func TestCreatePrompt_Duplicate(t *testing.T) {
	h, _, _ := newAdminTest(t)
	r := gin.New()
	r.POST("/admin/prompts", h.CreatePrompt)

	require.Equal(t, http.StatusCreated, adminRequest(r, http.MethodPost, "/admin/prompts", createPayload()).Code)
	w := adminRequest(r, http.MethodPost, "/admin/prompts", createPayload())
	require.Equal(t, http.StatusConflict, w.Code)
	require.Contains(t, w.Body.String(), "PROMPT_EXISTS")
}

func TestUpdatePrompt_InvalidatesCache(t *testing.T) {
	h, _, promptCache := newAdminTest(t)
	r := gin.New()
	r.POST("/admin/prompts", h.CreatePrompt)
	r.PUT("/admin/prompts/:id", h.UpdatePrompt)

	w := adminRequest(r, http.MethodPost, "/admin/prompts", createPayload())
	require.Equal(t, http.StatusCreated, w.Code)
	var created models.Prompt
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	// Prime cache entries that the update must drop
	promptCache.Put("id:"+created.ID, &registry.Prompt{ID: created.ID}, `"1-x"`)
	promptCache.Put("name:acme/chatbot/greeting:any", &registry.Prompt{ID: created.ID}, `"1-x"`)

	update := createPayload()
	update["version"] = "2"
	update["body"] = "Hi {{ user_name }}."
	w = adminRequest(r, http.MethodPut, "/admin/prompts/"+created.ID, update)
	require.Equal(t, http.StatusOK, w.Code)

	_, ok := promptCache.Get("id:" + created.ID)
	require.False(t, ok)
	_, ok = promptCache.Get("name:acme/chatbot/greeting:any")
	require.False(t, ok)

	var row models.Prompt
	require.NoError(t, database.DB.First(&row, "id = ?", created.ID).Error)
	require.Equal(t, "2", row.Version)
}

func TestUpdatePrompt_IdentityCannotChange(t *testing.T) {
	h, _, _ := newAdminTest(t)
	r := gin.New()
	r.POST("/admin/prompts", h.CreatePrompt)
	r.PUT("/admin/prompts/:id", h.UpdatePrompt)

	w := adminRequest(r, http.MethodPost, "/admin/prompts", createPayload())
	require.Equal(t, http.StatusCreated, w.Code)
	var created models.Prompt
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	update := createPayload()
	update["name"] = "farewell"
	w = adminRequest(r, http.MethodPut, "/admin/prompts/"+created.ID, update)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeletePrompt(t *testing.T) {
	h, repo, _ := newAdminTest(t)
	r := gin.New()
	r.POST("/admin/prompts", h.CreatePrompt)
	r.DELETE("/admin/prompts/:id", h.DeletePrompt)

	w := adminRequest(r, http.MethodPost, "/admin/prompts", createPayload())
	require.Equal(t, http.StatusCreated, w.Code)
	var created models.Prompt
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = adminRequest(r, http.MethodDelete, "/admin/prompts/"+created.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	_, err := repo.Get("prompts/acme/chatbot/greeting.md")
	require.ErrorIs(t, err, content.ErrNotFound)

	var count int64
	require.NoError(t, database.DB.Model(&models.Prompt{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestDeletePrompt_NotFound(t *testing.T) {
	h, _, _ := newAdminTest(t)
	r := gin.New()
	r.DELETE("/admin/prompts/:id", h.DeletePrompt)

	w := adminRequest(r, http.MethodDelete, "/admin/prompts/missing", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestListPrompts_Pagination(t *testing.T) {
	h, _, _ := newAdminTest(t)
	r := gin.New()
	r.POST("/admin/prompts", h.CreatePrompt)
	r.GET("/admin/prompts", h.ListPrompts)

	for _, name := range []string{"alpha", "beta", "gamma"} {
		payload := createPayload()
		payload["name"] = name
		require.Equal(t, http.StatusCreated, adminRequest(r, http.MethodPost, "/admin/prompts", payload).Code)
	}

	w := adminRequest(r, http.MethodGet, "/admin/prompts?limit=2&page=1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Prompts []models.Prompt `json:"prompts"`
		Total   int64           `json:"total"`
		Count   int             `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, int64(3), resp.Total)
	require.Equal(t, 2, resp.Count)
	require.Equal(t, "alpha", resp.Prompts[0].Name)
}

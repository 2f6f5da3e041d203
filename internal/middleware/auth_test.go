package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"prompt-registry-api/internal/auth"
	"prompt-registry-api/internal/database"
	"prompt-registry-api/internal/models"
	"prompt-registry-api/internal/testutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func newKeyedRouter(t *testing.T) (*gin.Engine, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db, err := testutil.NewInMemoryDB()
	require.NoError(t, err)
	database.DB = db

	plaintext, prefix, digest, err := auth.GenerateAPIKey(false)
	require.NoError(t, err)
	require.NoError(t, db.Create(&models.APIKey{
		ID:      "key-1",
		Name:    "ci",
		Prefix:  prefix,
		KeyHash: digest,
		UserID:  "u-1",
		Active:  true,
	}).Error)

	r := gin.New()
	r.Use(APIKeyAuthMiddleware())
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"key_id": c.GetString("api_key_id")})
	})
	return r, plaintext
}

func doPing(r *gin.Engine, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAPIKeyAuth_ValidKey(t *testing.T) {
	r, key := newKeyedRouter(t)
	w := doPing(r, "Bearer "+key)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "key-1")

	// Successful use stamps last_used_at
	var stored models.APIKey
	require.NoError(t, database.DB.First(&stored, "id = ?", "key-1").Error)
	require.NotNil(t, stored.LastUsedAt)
}

func TestAPIKeyAuth_Rejections(t *testing.T) {
	r, key := newKeyedRouter(t)

	require.Equal(t, http.StatusUnauthorized, doPing(r, "").Code)
	require.Equal(t, http.StatusUnauthorized, doPing(r, "Bearer not-a-registry-key").Code)
	require.Equal(t, http.StatusUnauthorized, doPing(r, "Bearer pr_test_000000ffffffffffffffffffffffff").Code)

	// Revoked key no longer authenticates
	require.NoError(t, database.DB.Model(&models.APIKey{}).Where("id = ?", "key-1").Update("active", false).Error)
	require.Equal(t, http.StatusUnauthorized, doPing(r, "Bearer "+key).Code)
}

func TestJWTAuth_QueryTokenFallback(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(JWTAuthMiddleware())
	r.GET("/ws", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user": c.GetString("user_id")})
	})

	token, err := auth.GenerateToken("u-1", "alice")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "u-1")
}

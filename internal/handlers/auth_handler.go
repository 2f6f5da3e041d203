package handlers

import (
	"errors"
	"net/http"

	"prompt-registry-api/internal/auth"
	"prompt-registry-api/internal/database"
	"prompt-registry-api/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LoginRequest represents the login request payload
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse represents the login response
type LoginResponse struct {
	Token    string `json:"token"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Message  string `json:"message"`
}

// Login handles the admin login endpoint
// POST /api/v1/auth/login
func Login(c *gin.Context) {
	var req LoginRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request. Username and password are required.",
		})
		return
	}

	var user models.User
	if err := database.GetDB().First(&user, "username = ?", req.Username).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid username or password"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load user"})
		return
	}
	if !auth.CheckPassword(user.Password, req.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid username or password"})
		return
	}

	token, err := auth.GenerateToken(user.ID, user.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to generate token",
		})
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		Token:    token,
		UserID:   user.ID,
		Username: user.Username,
		Message:  "Login successful",
	})
}

// CreateAPIKeyRequest represents the request payload for minting an API key
type CreateAPIKeyRequest struct {
	Name string `json:"name" binding:"required"`
	Live bool   `json:"live"`
}

// CreateAPIKeyResponse carries the plaintext key. It is returned exactly
// once; only the bcrypt digest is stored.
type CreateAPIKeyResponse struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Prefix string `json:"prefix"`
	Key    string `json:"key"`
}

// CreateAPIKey handles POST /api/v1/admin/api-keys
func CreateAPIKey(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User ID not found in token"})
		return
	}

	var req CreateAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	plaintext, prefix, digest, err := auth.GenerateAPIKey(req.Live)
	if err != nil {
		apiError(c, http.StatusInternalServerError, "INTERNAL", "Failed to generate API key")
		return
	}

	key := models.APIKey{
		ID:      uuid.New().String(),
		Name:    req.Name,
		Prefix:  prefix,
		KeyHash: digest,
		UserID:  userID,
		Active:  true,
	}
	if err := database.GetDB().Create(&key).Error; err != nil {
		apiError(c, http.StatusInternalServerError, "INTERNAL", "Failed to store API key")
		return
	}

	c.JSON(http.StatusCreated, CreateAPIKeyResponse{
		ID:     key.ID,
		Name:   key.Name,
		Prefix: key.Prefix,
		Key:    plaintext,
	})
}

// ListAPIKeys handles GET /api/v1/admin/api-keys
func ListAPIKeys(c *gin.Context) {
	var keys []models.APIKey
	if err := database.GetDB().Order("created_at desc").Find(&keys).Error; err != nil {
		apiError(c, http.StatusInternalServerError, "INTERNAL", "Failed to fetch API keys")
		return
	}
	c.JSON(http.StatusOK, gin.H{"api_keys": keys, "count": len(keys)})
}

// RevokeAPIKey handles DELETE /api/v1/admin/api-keys/:id
func RevokeAPIKey(c *gin.Context) {
	id := c.Param("id")
	result := database.GetDB().Model(&models.APIKey{}).Where("id = ?", id).Update("active", false)
	if result.Error != nil {
		apiError(c, http.StatusInternalServerError, "INTERNAL", "Failed to revoke API key")
		return
	}
	if result.RowsAffected == 0 {
		apiError(c, http.StatusNotFound, "KEY_NOT_FOUND", "No API key with id "+id)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "API key revoked"})
}

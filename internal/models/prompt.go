package models

import (
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	"prompt-registry-api/pkg/registry"
)

// PromptEnvironment represents the deployment environment of a prompt
type PromptEnvironment string

const (
	EnvDevelopment PromptEnvironment = "development"
	EnvStaging     PromptEnvironment = "staging"
	EnvProduction  PromptEnvironment = "production"
)

// Application represents one consuming application (org/repo pair) whose
// prompts are indexed here
type Application struct {
	ID   string `json:"id" gorm:"primaryKey"`
	Org  string `json:"org" gorm:"not null;index:idx_org_repo,unique"`
	Repo string `json:"repo" gorm:"not null;index:idx_org_repo,unique"`
	gorm.Model
}

// TableName specifies the table name for Application Model
func (Application) TableName() string {
	return "applications"
}

// Prompt is the indexed metadata row for one prompt file in the content
// repository. FrontMatter holds the full parsed front-matter (plus body)
// as JSON so the public API can materialize responses without touching the
// content repository.
type Prompt struct {
	ID          string            `json:"id" gorm:"primaryKey"`
	AppID       string            `json:"appId" gorm:"column:app_id;index"`
	Name        string            `json:"name" gorm:"not null;index"`
	Version     string            `json:"version"`
	Domain      string            `json:"domain"`
	Description string            `json:"description"`
	Type        string            `json:"type" gorm:"default:'chat'"`
	Environment PromptEnvironment `json:"environment" gorm:"default:'development'"`
	Active      bool              `json:"active" gorm:"default:true"`
	Tags        string            `json:"-" gorm:"column:tags"`         // JSON array
	FrontMatter string            `json:"-" gorm:"column:front_matter"` // JSON object
	Path        string            `json:"path" gorm:"index"`            // file path in the content repository
	GitSHA      string            `json:"gitSha" gorm:"column:git_sha"`
	gorm.Model
}

// TableName specifies the table name for Prompt Model
func (Prompt) TableName() string {
	return "prompts"
}

// ETag derives the entry validator served to clients: version plus the first
// 8 characters of the content SHA, quoted per RFC 9110.
func (p *Prompt) ETag() string {
	sha := p.GitSHA
	if len(sha) > 8 {
		sha = sha[:8]
	}
	version := p.Version
	if version == "" {
		version = "0"
	}
	return fmt.Sprintf("%q", version+"-"+sha)
}

// ToPayload materializes the API response shape from the index row.
func (p *Prompt) ToPayload(org, app string) (*registry.Prompt, error) {
	fm := map[string]interface{}{}
	if p.FrontMatter != "" {
		if err := json.Unmarshal([]byte(p.FrontMatter), &fm); err != nil {
			return nil, fmt.Errorf("corrupt front matter for prompt %s: %w", p.ID, err)
		}
	}

	var tags []string
	if p.Tags != "" {
		_ = json.Unmarshal([]byte(p.Tags), &tags)
	}
	if tags == nil {
		tags = []string{}
	}

	payload := &registry.Prompt{
		ID:          p.ID,
		Name:        p.Name,
		Version:     p.Version,
		Org:         org,
		App:         app,
		Domain:      p.Domain,
		Description: p.Description,
		Type:        p.Type,
		Environment: string(p.Environment),
		Active:      p.Active,
		Tags:        tags,
		GitSHA:      p.GitSHA,
		UpdatedAt:   p.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}

	if role, ok := fm["role"].(string); ok {
		payload.Role = role
	}
	if body, ok := fm["_body"].(string); ok {
		payload.Body = body
	}
	if m, ok := fm["model"].(map[string]interface{}); ok {
		payload.Model = m
	}
	if m, ok := fm["modality"].(map[string]interface{}); ok {
		payload.Modality = m
	}
	if m, ok := fm["tts"].(map[string]interface{}); ok {
		payload.TTS = m
	}
	if m, ok := fm["audio"].(map[string]interface{}); ok {
		payload.Audio = m
	}
	if incs, ok := fm["includes"].([]interface{}); ok {
		for _, inc := range incs {
			if s, ok := inc.(string); ok {
				payload.Includes = append(payload.Includes, s)
			}
		}
	}
	return payload, nil
}

// AccessLog records one public-API prompt fetch for usage analytics
type AccessLog struct {
	ID        uint   `json:"id" gorm:"primaryKey;autoIncrement"`
	PromptID  string `json:"promptId" gorm:"column:prompt_id;index"`
	Name      string `json:"name"`
	APIKeyID  string `json:"apiKeyId" gorm:"column:api_key_id"`
	CacheHit  bool   `json:"cacheHit" gorm:"column:cache_hit"`
	LatencyMS int    `json:"latencyMs" gorm:"column:latency_ms"`
	ClientIP  string `json:"clientIp" gorm:"column:client_ip"`
	UserAgent string `json:"userAgent" gorm:"column:user_agent"`
	gorm.Model
}

// TableName specifies the table name for AccessLog Model
func (AccessLog) TableName() string {
	return "access_logs"
}

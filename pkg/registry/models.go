package registry

import "prompt-registry-api/internal/render"

// Prompt is a materialized prompt as served by the registry API.
type Prompt struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Version     string                 `json:"version"`
	Org         string                 `json:"org"`
	App         string                 `json:"app"`
	Domain      string                 `json:"domain,omitempty"`
	Description string                 `json:"description,omitempty"`
	Type        string                 `json:"type"`
	Role        string                 `json:"role,omitempty"`
	Model       map[string]interface{} `json:"model"`
	Modality    map[string]interface{} `json:"modality,omitempty"`
	TTS         map[string]interface{} `json:"tts,omitempty"`
	Audio       map[string]interface{} `json:"audio,omitempty"`
	Environment string                 `json:"environment"`
	Active      bool                   `json:"active"`
	Tags        []string               `json:"tags"`
	Body        string                 `json:"body"`
	Includes    []string               `json:"includes,omitempty"`
	GitSHA      string                 `json:"git_sha,omitempty"`
	UpdatedAt   string                 `json:"updated_at,omitempty"`
}

// ModelDefault returns the default model name from the model config,
// or fallback if not set or not a string.
func (p *Prompt) ModelDefault(fallback string) string {
	if p.Model == nil {
		return fallback
	}
	if s, ok := p.Model["default"].(string); ok {
		return s
	}
	return fallback
}

// ModelTemperature returns the temperature from the model config,
// or fallback if not set or not a number.
func (p *Prompt) ModelTemperature(fallback float64) float64 {
	if p.Model == nil {
		return fallback
	}
	switch n := p.Model["temperature"].(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return fallback
	}
}

// ModelMaxTokens returns max_tokens from the model config,
// or fallback if not set or not a number.
func (p *Prompt) ModelMaxTokens(fallback int) int {
	if p.Model == nil {
		return fallback
	}
	switch n := p.Model["max_tokens"].(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return fallback
	}
}

// RenderResult is the response from server-side prompt rendering.
type RenderResult struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	RenderedBody string                 `json:"rendered_body"`
	Meta         map[string]interface{} `json:"meta"`
	Model        map[string]interface{} `json:"model"`
}

// RenderLocal performs basic {{variable}} substitution on a prompt body.
// Variables not present in the map are replaced with an empty string.
// For template features beyond plain substitution, use Client.Render which
// delegates to the server.
func RenderLocal(body string, variables map[string]string) string {
	return render.RenderStrings(body, variables)
}

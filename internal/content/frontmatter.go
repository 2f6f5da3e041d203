package content

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// FrontMatter is the YAML header of a prompt source file. Model, Modality,
// TTS and Audio are free-form config maps passed through to consumers
// untouched; the registry does not interpret them.
type FrontMatter struct {
	ID          string                 `yaml:"id,omitempty"`
	Name        string                 `yaml:"name"`
	Version     string                 `yaml:"version,omitempty"`
	Org         string                 `yaml:"org,omitempty"`
	App         string                 `yaml:"app,omitempty"`
	Domain      string                 `yaml:"domain,omitempty"`
	Description string                 `yaml:"description,omitempty"`
	Type        string                 `yaml:"type,omitempty"`
	Role        string                 `yaml:"role,omitempty"`
	Model       map[string]interface{} `yaml:"model,omitempty"`
	Modality    map[string]interface{} `yaml:"modality,omitempty"`
	TTS         map[string]interface{} `yaml:"tts,omitempty"`
	Audio       map[string]interface{} `yaml:"audio,omitempty"`
	Environment string                 `yaml:"environment,omitempty"`
	Active      *bool                  `yaml:"active,omitempty"`
	Tags        []string               `yaml:"tags,omitempty"`
	Includes    []string               `yaml:"includes,omitempty"`
}

const delimiter = "---"

// ParseFile splits a prompt source file into its front matter and body.
// The file must start with a "---" delimited YAML block; the remainder is
// the prompt body with surrounding whitespace trimmed.
func ParseFile(data []byte) (*FrontMatter, string, error) {
	text := string(bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n")))
	if !strings.HasPrefix(text, delimiter+"\n") {
		return nil, "", fmt.Errorf("content: missing front matter delimiter")
	}
	rest := text[len(delimiter)+1:]
	end := strings.Index(rest, "\n"+delimiter)
	if end < 0 {
		return nil, "", fmt.Errorf("content: unterminated front matter block")
	}

	var fm FrontMatter
	if err := yaml.Unmarshal([]byte(rest[:end]), &fm); err != nil {
		return nil, "", fmt.Errorf("content: invalid front matter: %w", err)
	}
	if fm.Name == "" {
		return nil, "", fmt.Errorf("content: front matter missing required field \"name\"")
	}

	body := rest[end+len(delimiter)+1:]
	body = strings.TrimPrefix(body, "\n")
	return &fm, strings.TrimSpace(body), nil
}

// FormatFile serializes front matter and body back into file form.
func FormatFile(fm *FrontMatter, body string) ([]byte, error) {
	header, err := yaml.Marshal(fm)
	if err != nil {
		return nil, fmt.Errorf("content: failed to serialize front matter: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString(delimiter + "\n")
	buf.Write(header)
	buf.WriteString(delimiter + "\n\n")
	buf.WriteString(strings.TrimSpace(body))
	buf.WriteString("\n")
	return buf.Bytes(), nil
}

// IsActive returns the active flag, defaulting to true when unset.
func (fm *FrontMatter) IsActive() bool {
	return fm.Active == nil || *fm.Active
}

// ContentSHA computes the revision identifier for raw file contents.
func ContentSHA(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

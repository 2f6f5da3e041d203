// Package indexer mirrors the content repository into the relational index
// the public API serves from.
package indexer

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"prompt-registry-api/internal/content"
	"prompt-registry-api/internal/models"
)

// Summary reports what one sync pass changed.
type Summary struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Removed int `json:"removed"`
	Failed  int `json:"failed"`

	// Affected lists cache-key stems for every created, updated or removed
	// prompt: the "id:<uuid>" key and the "name:<org>/<app>/<name>" key stem
	// covering all environment projections.
	Affected []string `json:"affected"`
}

// Indexer syncs prompt source files into Application and Prompt rows.
type Indexer struct {
	db   *gorm.DB
	repo content.Repository
}

// New creates an Indexer over db and repo.
func New(db *gorm.DB, repo content.Repository) *Indexer {
	return &Indexer{db: db, repo: repo}
}

// Sync walks the content repository and upserts one Prompt row per source
// file, creating Applications as needed and removing rows whose source file
// is gone. Files that fail to parse are skipped and counted, not fatal.
func (ix *Indexer) Sync() (*Summary, error) {
	paths, err := ix.repo.List()
	if err != nil {
		return nil, fmt.Errorf("indexer: listing content repository: %w", err)
	}

	summary := &Summary{}
	seen := make(map[string]bool, len(paths))

	for _, path := range paths {
		file, err := ix.repo.Get(path)
		if err != nil {
			log.Printf("indexer: failed to read %s: %v", path, err)
			summary.Failed++
			continue
		}
		if err := ix.indexFile(file, summary); err != nil {
			log.Printf("indexer: failed to index %s: %v", path, err)
			summary.Failed++
			continue
		}
		seen[path] = true
	}

	// Remove rows whose source file no longer exists
	var stale []models.Prompt
	if err := ix.db.Find(&stale).Error; err != nil {
		return nil, fmt.Errorf("indexer: loading indexed prompts: %w", err)
	}
	for i := range stale {
		if seen[stale[i].Path] {
			continue
		}
		if err := ix.removePrompt(&stale[i], summary); err != nil {
			return nil, err
		}
	}

	return summary, nil
}

// IndexFile indexes a single source file, for targeted updates outside a
// full sync (e.g. admin write-through).
func (ix *Indexer) IndexFile(file *content.File) (*models.Prompt, error) {
	summary := &Summary{}
	if err := ix.indexFile(file, summary); err != nil {
		return nil, err
	}
	var prompt models.Prompt
	if err := ix.db.Where("path = ?", file.Path).First(&prompt).Error; err != nil {
		return nil, err
	}
	return &prompt, nil
}

// RemoveByPath drops the index row for path if one exists and reports the
// affected cache-key stems.
func (ix *Indexer) RemoveByPath(path string) (*Summary, error) {
	summary := &Summary{}
	var prompt models.Prompt
	err := ix.db.Where("path = ?", path).First(&prompt).Error
	if err == gorm.ErrRecordNotFound {
		return summary, nil
	}
	if err != nil {
		return nil, err
	}
	if err := ix.removePrompt(&prompt, summary); err != nil {
		return nil, err
	}
	return summary, nil
}

func (ix *Indexer) indexFile(file *content.File, summary *Summary) error {
	fm, body, err := content.ParseFile(file.Data)
	if err != nil {
		return err
	}

	app, err := ix.ensureApplication(fm.Org, fm.App)
	if err != nil {
		return err
	}

	fmJSON, err := frontMatterJSON(fm, body)
	if err != nil {
		return err
	}
	tagsJSON, err := json.Marshal(fm.Tags)
	if err != nil {
		return err
	}

	environment := models.PromptEnvironment(fm.Environment)
	if environment == "" {
		environment = models.EnvDevelopment
	}
	promptType := fm.Type
	if promptType == "" {
		promptType = "chat"
	}

	row := models.Prompt{
		AppID:       app.ID,
		Name:        fm.Name,
		Version:     fm.Version,
		Domain:      fm.Domain,
		Description: fm.Description,
		Type:        promptType,
		Environment: environment,
		Active:      fm.IsActive(),
		Tags:        string(tagsJSON),
		FrontMatter: fmJSON,
		Path:        file.Path,
		GitSHA:      file.SHA,
	}

	var existing models.Prompt
	err = ix.db.Where("path = ?", file.Path).First(&existing).Error
	switch {
	case err == gorm.ErrRecordNotFound:
		row.ID = fm.ID
		if row.ID == "" {
			row.ID = uuid.NewString()
		}
		if err := ix.db.Create(&row).Error; err != nil {
			return err
		}
		summary.Created++
	case err != nil:
		return err
	default:
		row.ID = existing.ID
		if err := ix.db.Model(&existing).Updates(map[string]interface{}{
			"app_id": row.AppID, "name": row.Name, "version": row.Version,
			"domain": row.Domain, "description": row.Description,
			"type": row.Type, "environment": row.Environment,
			"active": row.Active, "tags": row.Tags,
			"front_matter": row.FrontMatter, "git_sha": row.GitSHA,
		}).Error; err != nil {
			return err
		}
		summary.Updated++
	}

	summary.Affected = append(summary.Affected,
		"id:"+row.ID,
		fmt.Sprintf("name:%s/%s/%s", fm.Org, fm.App, fm.Name),
	)
	return nil
}

func (ix *Indexer) removePrompt(prompt *models.Prompt, summary *Summary) error {
	var app models.Application
	if err := ix.db.Where("id = ?", prompt.AppID).First(&app).Error; err != nil && err != gorm.ErrRecordNotFound {
		return err
	}
	if err := ix.db.Unscoped().Delete(&models.Prompt{}, "id = ?", prompt.ID).Error; err != nil {
		return err
	}
	summary.Removed++
	summary.Affected = append(summary.Affected,
		"id:"+prompt.ID,
		fmt.Sprintf("name:%s/%s/%s", app.Org, app.Repo, prompt.Name),
	)
	return nil
}

func (ix *Indexer) ensureApplication(org, repo string) (*models.Application, error) {
	if org == "" || repo == "" {
		return nil, fmt.Errorf("front matter missing org/app")
	}
	var app models.Application
	err := ix.db.Where("org = ? AND repo = ?", org, repo).First(&app).Error
	if err == gorm.ErrRecordNotFound {
		app = models.Application{ID: uuid.NewString(), Org: org, Repo: repo}
		if err := ix.db.Create(&app).Error; err != nil {
			return nil, err
		}
		return &app, nil
	}
	if err != nil {
		return nil, err
	}
	return &app, nil
}

// frontMatterJSON flattens the parsed front matter plus the body into the
// JSON blob stored on the index row, mirroring what the public API needs to
// materialize a response.
func frontMatterJSON(fm *content.FrontMatter, body string) (string, error) {
	m := map[string]interface{}{
		"_body": body,
	}
	if fm.Role != "" {
		m["role"] = fm.Role
	}
	if fm.Model != nil {
		m["model"] = fm.Model
	}
	if fm.Modality != nil {
		m["modality"] = fm.Modality
	}
	if fm.TTS != nil {
		m["tts"] = fm.TTS
	}
	if fm.Audio != nil {
		m["audio"] = fm.Audio
	}
	if len(fm.Includes) > 0 {
		m["includes"] = fm.Includes
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

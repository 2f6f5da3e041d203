// Package content abstracts the repository holding prompt source files
// (Markdown with YAML front matter). The registry only needs get/put/delete
// and listing keyed by path; commit history, branches and diffing live behind
// this boundary.
package content

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when no file exists at the requested path.
var ErrNotFound = errors.New("content: file not found")

// File is one stored prompt source file.
type File struct {
	Path string // repository-relative, e.g. "prompts/support-bot/greeting.md"
	Data []byte
	SHA  string // content revision identifier, empty if the backend has none
}

// Repository is the content store the registry indexes from and writes
// through to.
type Repository interface {
	// Get returns the file at path, or ErrNotFound.
	Get(path string) (*File, error)

	// Put creates or replaces the file at path and returns its new revision.
	Put(path string, data []byte) (*File, error)

	// Delete removes the file at path. Deleting an absent path is a no-op.
	Delete(path string) error

	// List returns every prompt file (by extension) under the repository
	// root, without contents.
	List() ([]string, error)
}

// DirRepository is a Repository over a local directory tree. It stands in
// for the hosted git backend in development and tests; revisions are content
// hashes rather than commit SHAs.
type DirRepository struct {
	root string
}

// NewDirRepository opens a directory-backed repository rooted at root.
func NewDirRepository(root string) *DirRepository {
	return &DirRepository{root: root}
}

func (r *DirRepository) abs(path string) string {
	return filepath.Join(r.root, filepath.FromSlash(path))
}

// Get implements Repository.Get.
func (r *DirRepository) Get(path string) (*File, error) {
	data, err := os.ReadFile(r.abs(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &File{Path: path, Data: data, SHA: ContentSHA(data)}, nil
}

// Put implements Repository.Put.
func (r *DirRepository) Put(path string, data []byte) (*File, error) {
	full := r.abs(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return nil, err
	}
	return &File{Path: path, Data: data, SHA: ContentSHA(data)}, nil
}

// Delete implements Repository.Delete.
func (r *DirRepository) Delete(path string) error {
	err := os.Remove(r.abs(path))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// List implements Repository.List. Only .md files are prompt sources.
func (r *DirRepository) List() ([]string, error) {
	var paths []string
	err := filepath.WalkDir(r.root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, ".md") {
			return nil
		}
		rel, err := filepath.Rel(r.root, p)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}

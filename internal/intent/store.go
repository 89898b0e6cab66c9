package intent

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/HendryAvila/intentgate/internal/workspace"
)

// Store provides read access to the registered intents and the ignore
// list. Abstracted for testability.
type Store interface {
	Load() ([]Intent, error)
	Find(id string) (*Intent, error)
	Ignored(id string) bool
}

// FileStore reads intents from active_intents.yaml and the ignore list
// from .intentignore in the orchestration directory.
type FileStore struct {
	ws *workspace.Workspace
}

// NewFileStore creates a filesystem-backed intent store.
func NewFileStore(ws *workspace.Workspace) *FileStore {
	return &FileStore{ws: ws}
}

// Load parses the intents file. A missing file is an error: governance
// cannot run without registered intents.
func (fs *FileStore) Load() ([]Intent, error) {
	data, err := os.ReadFile(fs.ws.IntentsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("intents file not found at %s", fs.ws.IntentsPath())
		}
		return nil, fmt.Errorf("reading intents file: %w", err)
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing intents file: %w", err)
	}
	return file.ActiveIntents, nil
}

// Find locates an intent by id. Returns nil without error when absent.
func (fs *FileStore) Find(id string) (*Intent, error) {
	intents, err := fs.Load()
	if err != nil {
		return nil, err
	}
	for i := range intents {
		if intents[i].ID == id {
			return &intents[i], nil
		}
	}
	return nil, nil
}

// InProgress returns every IN_PROGRESS intent.
func (fs *FileStore) InProgress() ([]Intent, error) {
	intents, err := fs.Load()
	if err != nil {
		return nil, err
	}
	var out []Intent
	for _, it := range intents {
		if it.Selectable() {
			out = append(out, it)
		}
	}
	return out, nil
}

// Ignored reports whether the intent id appears in .intentignore. One id
// per line; '#' starts a comment; a missing file means nothing is ignored.
func (fs *FileStore) Ignored(id string) bool {
	f, err := os.Open(fs.ws.IgnorePath())
	if err != nil {
		return false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if idx := strings.Index(line, "#"); idx >= 0 {
			line = line[:idx]
		}
		if strings.TrimSpace(line) == id {
			return true
		}
	}
	return false
}

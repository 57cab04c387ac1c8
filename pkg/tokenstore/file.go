package tokenstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const fileMode = 0o600

type fileDocument struct {
	Token   string    `yaml:"token"`
	SavedAt time.Time `yaml:"saved_at"`
}

// File persists the token as a small YAML document on local disk.
type File struct {
	path string
	mu   sync.Mutex
}

// NewFile returns a File store rooted at path. The parent directory is
// created lazily on first Save.
func NewFile(path string) (*File, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("tokenstore: file path is required")
	}
	return &File{path: filepath.Clean(path)}, nil
}

// DefaultPath returns the per-user session file location.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	return filepath.Join(dir, "crmdash", "session.yaml"), nil
}

// Path reports where the document lives.
func (f *File) Path() string {
	return f.path
}

// Load returns the stored token, or an empty string when nothing is stored.
func (f *File) Load() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read session file: %w", err)
	}

	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("parse session file: %w", err)
	}
	return strings.TrimSpace(doc.Token), nil
}

// Save atomically replaces the document with token.
func (f *File) Save(token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := yaml.Marshal(fileDocument{Token: token, SavedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encode session file: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".session-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp session file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(fileMode); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod session file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write session file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close session file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("install session file: %w", err)
	}
	return nil
}

// Erase removes the document. Erasing a missing document is not an error.
func (f *File) Erase() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore is the desktop credential store: a JSON bundle under the user's
// OS config directory with owner-only permissions. Writes are atomic
// (temp file + rename) so a crash mid-rotation never leaves a torn bundle.
type FileStore struct {
	path string
}

// NewFileStore creates a FileStore rooted at dir (the app's config directory).
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, ErrConfig
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("credential dir: %w", err)
	}
	return &FileStore{path: filepath.Join(dir, "credentials.json")}, nil
}

// Load reads and decodes the persisted bundle.
func (s *FileStore) Load(_ context.Context) (Bundle, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Bundle{}, ErrNoCredentials
	}
	if err != nil {
		return Bundle{}, err
	}

	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return Bundle{}, fmt.Errorf("%w: %v", ErrMalformedCredentials, err)
	}
	return b, nil
}

// Save atomically persists the bundle with 0600 permissions.
func (s *FileStore) Save(_ context.Context, b Bundle) error {
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// Clear removes the persisted bundle (idempotent).
func (s *FileStore) Clear(_ context.Context) error {
	err := os.Remove(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/versatilecz/evac/internal/models"
)

// JSONFileStore keeps the snapshot in a single JSON document
type JSONFileStore struct {
	path string
}

// NewJSONFileStore creates a store backed by path
func NewJSONFileStore(path string) *JSONFileStore {
	return &JSONFileStore{path: path}
}

var _ Store = (*JSONFileStore)(nil)

// Path returns the backing file
func (s *JSONFileStore) Path() string { return s.path }

// Load reads the snapshot. A missing file is an empty snapshot.
func (s *JSONFileStore) Load(ctx context.Context) (*models.Data, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return models.NewData(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}

	data := models.NewData()
	if err := json.Unmarshal(raw, data); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", s.path, err)
	}
	data.Normalize()
	return data, nil
}

// Save writes the snapshot to a temporary file and renames it over the old one
func (s *JSONFileStore) Save(ctx context.Context, data *models.Data) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", s.path, err)
	}
	return nil
}

// Package repository defines repository interfaces for data access
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/versatilecz/evac/internal/models"
)

// ErrBackupDisabled is returned when no backup storage is configured
var ErrBackupDisabled = errors.New("backup storage is not configured")

// Store loads and saves the snapshot of operator managed entities
type Store interface {
	// Load returns the stored snapshot, or an empty one when nothing was saved yet
	Load(ctx context.Context) (*models.Data, error)
	// Save replaces the stored snapshot
	Save(ctx context.Context, data *models.Data) error
}

// BackupStore keeps point in time copies of the snapshot
type BackupStore interface {
	// Backup stores data and describes the created object
	Backup(ctx context.Context, data *models.Data) (models.Backup, error)
	// List returns the stored backups, newest first
	List(ctx context.Context) ([]models.Backup, error)
}

// NoBackups is the BackupStore used when object storage is not configured
type NoBackups struct{}

// Backup always fails with ErrBackupDisabled
func (NoBackups) Backup(context.Context, *models.Data) (models.Backup, error) {
	return models.Backup{}, ErrBackupDisabled
}

// List returns no backups
func (NoBackups) List(context.Context) ([]models.Backup, error) {
	return nil, nil
}

// NewStore returns the store named by kind: "json" keeps the snapshot at
// dataPath, "pocketbase" uses the PocketBase server at pbURL
func NewStore(kind, dataPath, pbURL, pbToken string) (Store, error) {
	switch kind {
	case "", "json":
		return NewJSONFileStore(dataPath), nil
	case "pocketbase":
		if pbURL == "" {
			return nil, fmt.Errorf("pocketbase store needs a server url")
		}
		return NewPocketBaseStore(pbURL, pbToken), nil
	}
	return nil, fmt.Errorf("unknown store %q", kind)
}

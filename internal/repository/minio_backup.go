package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/versatilecz/evac/internal/logging"
	"github.com/versatilecz/evac/internal/models"
)

const backupPrefix = "backups/"

// MinioConfig holds object storage settings
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinioBackupStore writes snapshot backups to an S3 compatible bucket
type MinioBackupStore struct {
	client *minio.Client
	bucket string
	useSSL bool
}

var _ BackupStore = (*MinioBackupStore)(nil)

// NewMinioBackupStore connects to the endpoint and creates the bucket if missing
func NewMinioBackupStore(ctx context.Context, cfg MinioConfig) (*MinioBackupStore, error) {
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("minio access key and secret key are required")
	}

	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := cli.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
		exists, errExists := cli.BucketExists(ctx, cfg.Bucket)
		if errExists != nil || !exists {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.Bucket, err)
		}
	}

	logging.Log.WithField("endpoint", cfg.Endpoint).WithField("bucket", cfg.Bucket).Info("Backup storage connected")
	return &MinioBackupStore{client: cli, bucket: cfg.Bucket, useSSL: cfg.UseSSL}, nil
}

// BackupKey is the object name of a backup taken at ts
func BackupKey(ts time.Time) string {
	return backupPrefix + ts.UTC().Format(time.RFC3339) + ".json"
}

func (s *MinioBackupStore) objectURL(key string) string {
	scheme := "http"
	if s.useSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, s.client.EndpointURL().Host, s.bucket, key)
}

// Backup uploads data as a JSON object
func (s *MinioBackupStore) Backup(ctx context.Context, data *models.Data) (models.Backup, error) {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return models.Backup{}, fmt.Errorf("failed to encode snapshot: %w", err)
	}

	now := time.Now()
	key := BackupKey(now)
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(raw), int64(len(raw)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return models.Backup{}, fmt.Errorf("failed to upload backup: %w", err)
	}

	return models.Backup{
		Name:      path.Base(key),
		URL:       s.objectURL(key),
		Size:      int64(len(raw)),
		Timestamp: now.UTC(),
	}, nil
}

// List returns the stored backups, newest first
func (s *MinioBackupStore) List(ctx context.Context) ([]models.Backup, error) {
	var out []models.Backup
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: backupPrefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list backups: %w", obj.Err)
		}
		if !strings.HasSuffix(obj.Key, ".json") {
			continue
		}
		out = append(out, models.Backup{
			Name:      path.Base(obj.Key),
			URL:       s.objectURL(obj.Key),
			Size:      obj.Size,
			Timestamp: obj.LastModified,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

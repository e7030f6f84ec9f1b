// Package storage ships local files to S3-compatible object storage.
package storage

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Config struct {
	Endpoint  string `env:"BACKUP_S3_ENDPOINT"`
	AccessKey string `env:"BACKUP_S3_ACCESS_KEY"`
	SecretKey string `env:"BACKUP_S3_SECRET_KEY"`
	Bucket    string `env:"BACKUP_S3_BUCKET"`
	Region    string `env:"BACKUP_S3_REGION"`
	Prefix    string `env:"BACKUP_S3_PREFIX"`
	UseSSL    bool   `env:"BACKUP_S3_USE_SSL"`
}

// Enabled reports whether enough is configured to upload.
func (c Config) Enabled() bool {
	return c.Endpoint != "" && c.Bucket != ""
}

type MinioStore struct {
	cfg Config
	cli *minio.Client
}

func NewMinioStore(cfg Config) (*MinioStore, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("object storage endpoint and bucket are required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, err
	}
	return &MinioStore{cfg: cfg, cli: cli}, nil
}

func (m *MinioStore) ensureBucket(ctx context.Context) error {
	exists, err := m.cli.BucketExists(ctx, m.cfg.Bucket)
	if err != nil {
		return err
	}
	if !exists {
		return m.cli.MakeBucket(ctx, m.cfg.Bucket, minio.MakeBucketOptions{Region: m.cfg.Region})
	}
	return nil
}

// Key is the object key a local file is stored under.
func (m *MinioStore) Key(file string) string {
	name := filepath.Base(file)
	if p := strings.Trim(m.cfg.Prefix, "/"); p != "" {
		return path.Join(p, name)
	}
	return name
}

// UploadFile copies the local file to the bucket and returns its key.
func (m *MinioStore) UploadFile(ctx context.Context, file string) (string, error) {
	if err := m.ensureBucket(ctx); err != nil {
		return "", fmt.Errorf("bucket %s: %w", m.cfg.Bucket, err)
	}
	key := m.Key(file)
	if _, err := m.cli.FPutObject(ctx, m.cfg.Bucket, key, file, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	}); err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return key, nil
}

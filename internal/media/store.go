// Package media stores media endpoint uploads in an S3 compatible bucket.
package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config holds the object storage connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// IsConfigured reports whether an endpoint was given.
func (c Config) IsConfigured() bool {
	return c.Endpoint != ""
}

type objectPutter interface {
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Store writes uploads to buckets and returns their public URLs.
type Store struct {
	client objectPutter
}

// NewStore connects to the configured endpoint.
func NewStore(cfg Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create media client: %w", err)
	}
	return &Store{client: client}, nil
}

// Put uploads data as key into bucket and returns baseURL/key.
func (s *Store) Put(ctx context.Context, bucket, baseURL, key string, data []byte, contentType string) (string, error) {
	if bucket == "" {
		return "", fmt.Errorf("media bucket not set")
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	_, err := s.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put %s/%s: %w", bucket, key, err)
	}
	return PublicURL(baseURL, key), nil
}

// PublicURL joins a base URL and an object key.
func PublicURL(baseURL, key string) string {
	key = strings.TrimLeft(path.Clean("/"+key), "/")
	if baseURL == "" {
		return "/" + key
	}
	return strings.TrimRight(baseURL, "/") + "/" + key
}

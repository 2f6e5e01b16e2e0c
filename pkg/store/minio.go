package store

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOStore stores objects in a MinIO (or any S3-compatible) bucket.
type MinIOStore struct {
	client  *minio.Client
	bucket  string
	baseURL string
}

// MinIOOptions configures a MinIOStore.
type MinIOOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// BaseURL overrides the URL prefix returned by Put; defaults to the
	// endpoint-derived form.
	BaseURL string
}

// NewMinIOStore connects to MinIO and ensures the bucket exists.
func NewMinIOStore(ctx context.Context, opts MinIOOptions) (*MinIOStore, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect minio: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", opts.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", opts.Bucket, err)
		}
	}

	baseURL := strings.TrimSuffix(opts.BaseURL, "/")
	if baseURL == "" {
		scheme := "http"
		if opts.UseSSL {
			scheme = "https"
		}
		baseURL = fmt.Sprintf("%s://%s/%s", scheme, opts.Endpoint, opts.Bucket)
	}

	return &MinIOStore{client: client, bucket: opts.Bucket, baseURL: baseURL}, nil
}

func (s *MinIOStore) url(path string) string {
	return s.baseURL + "/" + path
}

func (s *MinIOStore) resolve(pathOrURL string) string {
	if strings.HasPrefix(pathOrURL, s.baseURL+"/") {
		return strings.TrimPrefix(pathOrURL, s.baseURL+"/")
	}
	return pathOrURL
}

// Get reads a whole object.
func (s *MinIOStore) Get(ctx context.Context, path string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", path, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", path, err)
	}
	return data, nil
}

// Put writes an object; an existing object at the path is overwritten.
func (s *MinIOStore) Put(ctx context.Context, path string, r io.Reader, size int64, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, s.bucket, path, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", path, err)
	}
	return s.url(path), nil
}

// PutFile uploads a local file.
func (s *MinIOStore) PutFile(ctx context.Context, path, localPath, contentType string) (string, error) {
	_, err := s.client.FPutObject(ctx, s.bucket, path, localPath, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", path, err)
	}
	return s.url(path), nil
}

// Download copies an object to a local file.
func (s *MinIOStore) Download(ctx context.Context, pathOrURL, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("create download dir: %w", err)
	}
	path := s.resolve(pathOrURL)
	if err := s.client.FGetObject(ctx, s.bucket, path, localPath, minio.GetObjectOptions{}); err != nil {
		return fmt.Errorf("download object %s: %w", path, err)
	}
	return nil
}

// Exists reports whether an object is present.
func (s *MinIOStore) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, path, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" {
		return false, nil
	}
	return false, fmt.Errorf("stat object %s: %w", path, err)
}

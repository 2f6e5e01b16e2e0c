package store

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore keeps objects under a base directory on the local filesystem.
// URLs are baseURL + "/" + logical path, served by whatever fronts the
// directory (the API binary serves it in development).
type LocalStore struct {
	baseDir string
	baseURL string
}

// NewLocalStore creates the base directory if needed.
func NewLocalStore(baseDir, baseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &LocalStore{
		baseDir: baseDir,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}, nil
}

func (s *LocalStore) fullPath(path string) string {
	return filepath.Join(s.baseDir, filepath.FromSlash(path))
}

func (s *LocalStore) url(path string) string {
	if s.baseURL == "" {
		return s.fullPath(path)
	}
	return s.baseURL + "/" + path
}

// resolve maps a URL previously returned by this store back to its logical
// path; plain logical paths pass through.
func (s *LocalStore) resolve(pathOrURL string) string {
	if s.baseURL != "" && strings.HasPrefix(pathOrURL, s.baseURL+"/") {
		return strings.TrimPrefix(pathOrURL, s.baseURL+"/")
	}
	if strings.HasPrefix(pathOrURL, s.baseDir) {
		rel, err := filepath.Rel(s.baseDir, pathOrURL)
		if err == nil {
			return filepath.ToSlash(rel)
		}
	}
	return pathOrURL
}

// Get reads a whole object.
func (s *LocalStore) Get(ctx context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(s.fullPath(path))
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", path, err)
	}
	return data, nil
}

// Put writes an object, overwriting any previous content at the path.
func (s *LocalStore) Put(ctx context.Context, path string, r io.Reader, size int64, contentType string) (string, error) {
	full := s.fullPath(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create object dir: %w", err)
	}

	f, err := os.Create(full)
	if err != nil {
		return "", fmt.Errorf("create object %s: %w", path, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return "", fmt.Errorf("write object %s: %w", path, err)
	}
	return s.url(path), nil
}

// PutFile uploads a local file.
func (s *LocalStore) PutFile(ctx context.Context, path, localPath, contentType string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()
	return s.Put(ctx, path, f, -1, contentType)
}

// Download copies an object to a local file.
func (s *LocalStore) Download(ctx context.Context, pathOrURL, localPath string) error {
	data, err := s.Get(ctx, s.resolve(pathOrURL))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("create download dir: %w", err)
	}
	if err := os.WriteFile(localPath, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", localPath, err)
	}
	return nil
}

// Exists reports whether an object is present.
func (s *LocalStore) Exists(ctx context.Context, path string) (bool, error) {
	_, err := os.Stat(s.fullPath(path))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat object %s: %w", path, err)
}

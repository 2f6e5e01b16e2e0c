// Package store provides durable blob storage addressed by logical path.
package store

import (
	"context"
	"fmt"
	"io"
)

// Storage categories under sessions/{sessionID}/.
const (
	CategoryOriginal   = "original"
	CategoryChunks     = "chunks"
	CategoryAudio      = "audio"
	CategoryTranscript = "transcriptions"
	CategoryPreviews   = "captioned_previews"
	CategoryThumbnails = "thumbnails"
	CategoryOutput     = "output"
)

// ObjectStore is the narrow blob storage contract the pipeline depends on.
// Put with an existing path overwrites, never duplicates, which is what
// makes re-running a stage idempotent at the store level.
type ObjectStore interface {
	// Get reads a whole object.
	Get(ctx context.Context, path string) ([]byte, error)

	// Put writes an object and returns its URL.
	Put(ctx context.Context, path string, r io.Reader, size int64, contentType string) (string, error)

	// PutFile uploads a local file and returns its URL.
	PutFile(ctx context.Context, path, localPath, contentType string) (string, error)

	// Download copies an object to a local file. Accepts either a logical
	// path or a URL previously returned by this store.
	Download(ctx context.Context, pathOrURL, localPath string) error

	// Exists reports whether an object is present.
	Exists(ctx context.Context, path string) (bool, error)
}

// ObjectPath builds the canonical sessions/{sessionID}/{category}/{name}
// logical path.
func ObjectPath(sessionID, category, name string) string {
	return fmt.Sprintf("sessions/%s/%s/%s", sessionID, category, name)
}

// Package storage persists session and chunk records. The pipeline core
// reads and updates them through these narrow accessors only, never caching
// across stages. Updates are last-writer-wins; this is safe because at most
// one chunk per session is ever in flight.
package storage

import "github.com/z-wentao/capflow/pkg/models"

// Store is the session/chunk persistence contract.
type Store interface {
	// SaveSession inserts or replaces a session record.
	SaveSession(session *models.Session) error

	// GetSession looks a session up by id.
	GetSession(sessionID string) (*models.Session, error)

	// UpdateSession applies fn to the stored record and writes it back.
	UpdateSession(sessionID string, fn func(*models.Session)) error

	// SaveChunk inserts or replaces a chunk record keyed by
	// (SessionID, Index).
	SaveChunk(chunk *models.Chunk) error

	// GetChunk looks a chunk up by session id and index.
	GetChunk(sessionID string, index int) (*models.Chunk, error)

	// UpdateChunk applies fn to the stored record and writes it back.
	UpdateChunk(sessionID string, index int, fn func(*models.Chunk)) error

	// ListChunks returns every chunk of a session ordered by index.
	ListChunks(sessionID string) ([]*models.Chunk, error)

	// DeleteSession removes a session and all its chunks.
	DeleteSession(sessionID string) error

	// Close releases the backing connection.
	Close() error
}

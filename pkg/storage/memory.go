package storage

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/z-wentao/capflow/pkg/models"
)

// MemoryStore is the in-memory Store, guarded by a RWMutex. Used in tests
// and single-process development runs.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	chunks   map[string]map[int]*models.Chunk // sessionID -> index -> chunk
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*models.Session),
		chunks:   make(map[string]map[int]*models.Chunk),
	}
}

// SaveSession inserts or replaces a session record.
func (m *MemoryStore) SaveSession(session *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *session
	cp.UpdatedAt = time.Now()
	m.sessions[session.ID] = &cp
	return nil
}

// GetSession looks a session up by id.
func (m *MemoryStore) GetSession(sessionID string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session not found: %s", sessionID)
	}
	cp := *session
	return &cp, nil
}

// UpdateSession applies fn to the stored record and writes it back.
func (m *MemoryStore) UpdateSession(sessionID string, fn func(*models.Session)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session not found: %s", sessionID)
	}
	fn(session)
	session.UpdatedAt = time.Now()
	return nil
}

// SaveChunk inserts or replaces a chunk record.
func (m *MemoryStore) SaveChunk(chunk *models.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byIndex, ok := m.chunks[chunk.SessionID]
	if !ok {
		byIndex = make(map[int]*models.Chunk)
		m.chunks[chunk.SessionID] = byIndex
	}
	cp := *chunk
	cp.UpdatedAt = time.Now()
	byIndex[chunk.Index] = &cp
	return nil
}

// GetChunk looks a chunk up by session id and index.
func (m *MemoryStore) GetChunk(sessionID string, index int) (*models.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chunk, ok := m.chunks[sessionID][index]
	if !ok {
		return nil, fmt.Errorf("chunk not found: %s/%d", sessionID, index)
	}
	cp := *chunk
	return &cp, nil
}

// UpdateChunk applies fn to the stored record and writes it back.
func (m *MemoryStore) UpdateChunk(sessionID string, index int, fn func(*models.Chunk)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	chunk, ok := m.chunks[sessionID][index]
	if !ok {
		return fmt.Errorf("chunk not found: %s/%d", sessionID, index)
	}
	fn(chunk)
	chunk.UpdatedAt = time.Now()
	return nil
}

// ListChunks returns every chunk of a session ordered by index.
func (m *MemoryStore) ListChunks(sessionID string) ([]*models.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byIndex := m.chunks[sessionID]
	chunks := make([]*models.Chunk, 0, len(byIndex))
	for _, c := range byIndex {
		cp := *c
		chunks = append(chunks, &cp)
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Index < chunks[j].Index })
	return chunks, nil
}

// DeleteSession removes a session and all its chunks.
func (m *MemoryStore) DeleteSession(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return fmt.Errorf("session not found: %s", sessionID)
	}
	delete(m.sessions, sessionID)
	delete(m.chunks, sessionID)
	return nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}

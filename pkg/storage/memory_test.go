package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/z-wentao/capflow/pkg/models"
)

func TestMemoryStoreSessionRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	session := &models.Session{ID: "sess-1", Status: models.SessionPending}
	require.NoError(t, s.SaveSession(session))

	got, err := s.GetSession("sess-1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionPending, got.Status)

	// Stored record is decoupled from the caller's pointer.
	session.Status = models.SessionFailed
	got, err = s.GetSession("sess-1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionPending, got.Status)
}

func TestMemoryStoreGetMissing(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	_, err := s.GetSession("nope")
	assert.Error(t, err)

	_, err = s.GetChunk("nope", 0)
	assert.Error(t, err)
}

func TestMemoryStoreUpdateSession(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	require.NoError(t, s.SaveSession(&models.Session{ID: "sess-1", Status: models.SessionPending}))
	require.NoError(t, s.UpdateSession("sess-1", func(sess *models.Session) {
		sess.Status = models.SessionChunking
		sess.TotalChunks = 3
	}))

	got, err := s.GetSession("sess-1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionChunking, got.Status)
	assert.Equal(t, 3, got.TotalChunks)

	assert.Error(t, s.UpdateSession("nope", func(*models.Session) {}))
}

func TestMemoryStoreListChunksOrdered(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	for _, idx := range []int{2, 0, 1} {
		require.NoError(t, s.SaveChunk(&models.Chunk{SessionID: "sess-1", Index: idx}))
	}

	chunks, err := s.ListChunks("sess-1")
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Index)
	}
}

func TestMemoryStoreUpdateChunk(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	require.NoError(t, s.SaveChunk(&models.Chunk{SessionID: "sess-1", Index: 0, Status: models.ChunkPending}))
	require.NoError(t, s.UpdateChunk("sess-1", 0, func(ch *models.Chunk) {
		ch.Status = models.ChunkTranscribing
		ch.ReprocessCount++
	}))

	got, err := s.GetChunk("sess-1", 0)
	require.NoError(t, err)
	assert.Equal(t, models.ChunkTranscribing, got.Status)
	assert.Equal(t, 1, got.ReprocessCount)
}

func TestMemoryStoreDeleteSession(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	require.NoError(t, s.SaveSession(&models.Session{ID: "sess-1"}))
	require.NoError(t, s.SaveChunk(&models.Chunk{SessionID: "sess-1", Index: 0}))

	require.NoError(t, s.DeleteSession("sess-1"))

	_, err := s.GetSession("sess-1")
	assert.Error(t, err)
	chunks, err := s.ListChunks("sess-1")
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

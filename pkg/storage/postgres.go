package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/z-wentao/capflow/pkg/models"
)

// PostgresStore persists session and chunk records in Postgres. Writes are
// UPSERTs so that re-running a stage overwrites instead of duplicating.
type PostgresStore struct {
	db *sql.DB
}

// Schema holds the DDL for the two tables; applied with `psql -f` or any
// migration runner the deployment already uses.
const Schema = `
CREATE TABLE IF NOT EXISTS caption_sessions (
    id                  TEXT PRIMARY KEY,
    status              TEXT NOT NULL,
    source_video_url    TEXT,
    stored_video_url    TEXT,
    output_video_url    TEXT,
    duration            DOUBLE PRECISION,
    width               INTEGER,
    height              INTEGER,
    selected_style_id   TEXT,
    caption_mode        TEXT,
    language            TEXT,
    current_chunk_index INTEGER NOT NULL DEFAULT 0,
    total_chunks        INTEGER NOT NULL DEFAULT 0,
    error               TEXT,
    created_at          TIMESTAMPTZ NOT NULL,
    updated_at          TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS caption_chunks (
    session_id      TEXT NOT NULL,
    index           INTEGER NOT NULL,
    source_url      TEXT,
    start_time      DOUBLE PRECISION NOT NULL,
    end_time        DOUBLE PRECISION NOT NULL,
    status          TEXT NOT NULL,
    transcript      JSONB,
    preview_url     TEXT,
    thumbnail_url   TEXT,
    approved        BOOLEAN NOT NULL DEFAULT FALSE,
    reprocess_count INTEGER NOT NULL DEFAULT 0,
    updated_at      TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (session_id, index)
);
`

// NewPostgresStore opens a pooled connection and verifies it.
func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return &PostgresStore{db: db}, nil
}

// SaveSession inserts or replaces a session record.
func (s *PostgresStore) SaveSession(session *models.Session) error {
	session.UpdatedAt = time.Now()

	query := `
    INSERT INTO caption_sessions (
        id, status, source_video_url, stored_video_url, output_video_url,
        duration, width, height, selected_style_id, caption_mode, language,
        current_chunk_index, total_chunks, error, created_at, updated_at
    ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
    ON CONFLICT (id)
    DO UPDATE SET
        status = EXCLUDED.status,
        source_video_url = EXCLUDED.source_video_url,
        stored_video_url = EXCLUDED.stored_video_url,
        output_video_url = EXCLUDED.output_video_url,
        duration = EXCLUDED.duration,
        width = EXCLUDED.width,
        height = EXCLUDED.height,
        selected_style_id = EXCLUDED.selected_style_id,
        caption_mode = EXCLUDED.caption_mode,
        language = EXCLUDED.language,
        current_chunk_index = EXCLUDED.current_chunk_index,
        total_chunks = EXCLUDED.total_chunks,
        error = EXCLUDED.error,
        updated_at = EXCLUDED.updated_at
    `

	_, err := s.db.Exec(query,
		session.ID,
		session.Status,
		session.SourceVideoURL,
		session.StoredVideoURL,
		session.OutputVideoURL,
		session.Duration,
		session.Width,
		session.Height,
		session.SelectedStyleID,
		session.CaptionMode,
		session.Language,
		session.CurrentChunkIndex,
		session.TotalChunks,
		session.Error,
		session.CreatedAt,
		session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// GetSession looks a session up by id.
func (s *PostgresStore) GetSession(sessionID string) (*models.Session, error) {
	query := `
    SELECT id, status, source_video_url, stored_video_url, output_video_url,
           duration, width, height, selected_style_id, caption_mode, language,
           current_chunk_index, total_chunks, error, created_at, updated_at
    FROM caption_sessions
    WHERE id = $1
    `

	var session models.Session
	var sourceURL, storedURL, outputURL, styleID, mode, lang, errMsg sql.NullString
	var duration sql.NullFloat64
	var width, height sql.NullInt64

	err := s.db.QueryRow(query, sessionID).Scan(
		&session.ID,
		&session.Status,
		&sourceURL,
		&storedURL,
		&outputURL,
		&duration,
		&width,
		&height,
		&styleID,
		&mode,
		&lang,
		&session.CurrentChunkIndex,
		&session.TotalChunks,
		&errMsg,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session not found: %s", sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}

	session.SourceVideoURL = sourceURL.String
	session.StoredVideoURL = storedURL.String
	session.OutputVideoURL = outputURL.String
	session.SelectedStyleID = styleID.String
	session.CaptionMode = models.CaptionMode(mode.String)
	session.Language = lang.String
	session.Error = errMsg.String
	session.Duration = duration.Float64
	session.Width = int(width.Int64)
	session.Height = int(height.Int64)

	return &session, nil
}

// UpdateSession applies fn to the stored record and writes it back.
func (s *PostgresStore) UpdateSession(sessionID string, fn func(*models.Session)) error {
	session, err := s.GetSession(sessionID)
	if err != nil {
		return err
	}
	fn(session)
	return s.SaveSession(session)
}

// SaveChunk inserts or replaces a chunk record.
func (s *PostgresStore) SaveChunk(chunk *models.Chunk) error {
	chunk.UpdatedAt = time.Now()

	transcriptJSON, err := json.Marshal(chunk.Transcript)
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}

	query := `
    INSERT INTO caption_chunks (
        session_id, index, source_url, start_time, end_time, status,
        transcript, preview_url, thumbnail_url, approved, reprocess_count,
        updated_at
    ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
    ON CONFLICT (session_id, index)
    DO UPDATE SET
        source_url = EXCLUDED.source_url,
        start_time = EXCLUDED.start_time,
        end_time = EXCLUDED.end_time,
        status = EXCLUDED.status,
        transcript = EXCLUDED.transcript,
        preview_url = EXCLUDED.preview_url,
        thumbnail_url = EXCLUDED.thumbnail_url,
        approved = EXCLUDED.approved,
        reprocess_count = EXCLUDED.reprocess_count,
        updated_at = EXCLUDED.updated_at
    `

	_, err = s.db.Exec(query,
		chunk.SessionID,
		chunk.Index,
		chunk.SourceURL,
		chunk.Start,
		chunk.End,
		chunk.Status,
		transcriptJSON,
		chunk.PreviewURL,
		chunk.ThumbnailURL,
		chunk.Approved,
		chunk.ReprocessCount,
		chunk.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save chunk: %w", err)
	}
	return nil
}

func scanChunk(scan func(...any) error) (*models.Chunk, error) {
	var chunk models.Chunk
	var sourceURL, previewURL, thumbnailURL sql.NullString
	var transcriptJSON []byte

	err := scan(
		&chunk.SessionID,
		&chunk.Index,
		&sourceURL,
		&chunk.Start,
		&chunk.End,
		&chunk.Status,
		&transcriptJSON,
		&previewURL,
		&thumbnailURL,
		&chunk.Approved,
		&chunk.ReprocessCount,
		&chunk.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	chunk.SourceURL = sourceURL.String
	chunk.PreviewURL = previewURL.String
	chunk.ThumbnailURL = thumbnailURL.String
	if len(transcriptJSON) > 0 {
		if err := json.Unmarshal(transcriptJSON, &chunk.Transcript); err != nil {
			return nil, fmt.Errorf("unmarshal transcript: %w", err)
		}
	}
	return &chunk, nil
}

const chunkColumns = `session_id, index, source_url, start_time, end_time, status,
       transcript, preview_url, thumbnail_url, approved, reprocess_count, updated_at`

// GetChunk looks a chunk up by session id and index.
func (s *PostgresStore) GetChunk(sessionID string, index int) (*models.Chunk, error) {
	query := `SELECT ` + chunkColumns + ` FROM caption_chunks WHERE session_id = $1 AND index = $2`

	row := s.db.QueryRow(query, sessionID, index)
	chunk, err := scanChunk(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("chunk not found: %s/%d", sessionID, index)
	}
	if err != nil {
		return nil, fmt.Errorf("query chunk: %w", err)
	}
	return chunk, nil
}

// UpdateChunk applies fn to the stored record and writes it back.
func (s *PostgresStore) UpdateChunk(sessionID string, index int, fn func(*models.Chunk)) error {
	chunk, err := s.GetChunk(sessionID, index)
	if err != nil {
		return err
	}
	fn(chunk)
	return s.SaveChunk(chunk)
}

// ListChunks returns every chunk of a session ordered by index.
func (s *PostgresStore) ListChunks(sessionID string) ([]*models.Chunk, error) {
	query := `SELECT ` + chunkColumns + ` FROM caption_chunks WHERE session_id = $1 ORDER BY index`

	rows, err := s.db.Query(query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*models.Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

// DeleteSession removes a session and all its chunks.
func (s *PostgresStore) DeleteSession(sessionID string) error {
	if _, err := s.db.Exec(`DELETE FROM caption_chunks WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}

	result, err := s.db.Exec(`DELETE FROM caption_sessions WHERE id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete session result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("session not found: %s", sessionID)
	}
	return nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

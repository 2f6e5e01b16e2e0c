// Package coordinator drives a session through the pipeline. It is the only
// writer of session and chunk state: results arriving from the bus and
// review decisions arriving from the API both funnel through it, serialized
// by one mutex, so at most one chunk per session is ever in flight.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/z-wentao/capflow/pkg/models"
	"github.com/z-wentao/capflow/pkg/queue"
	"github.com/z-wentao/capflow/pkg/storage"
)

// Coordinator owns the session state machine.
type Coordinator struct {
	store         storage.Store
	queue         queue.Queue
	chunkDuration float64

	mu sync.Mutex
}

// New creates a coordinator over the given persistence and bus.
func New(store storage.Store, q queue.Queue, chunkDuration float64) *Coordinator {
	return &Coordinator{store: store, queue: q, chunkDuration: chunkDuration}
}

// StartSession creates a pending session and enqueues ingestion of the
// source video. Everything after this is driven by results.
func (c *Coordinator) StartSession(ctx context.Context, sourceURL, language string, mode models.CaptionMode) (*models.Session, error) {
	if sourceURL == "" {
		return nil, fmt.Errorf("source url is required")
	}
	if mode == "" {
		mode = models.ModeSentence
	}
	if mode != models.ModeSentence && mode != models.ModeWord {
		return nil, fmt.Errorf("unknown caption mode %q", mode)
	}

	session := &models.Session{
		ID:             uuid.New().String(),
		Status:         models.SessionPending,
		SourceVideoURL: sourceURL,
		CaptionMode:    mode,
		Language:       language,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	if err := c.store.SaveSession(session); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	if err := c.enqueue(ctx, session.ID, models.KindVideoUploaded, models.UploadPayload{SourceURL: sourceURL}); err != nil {
		return nil, err
	}

	log.Printf("✓ session %s started (%s mode)", session.ID, mode)
	return session, nil
}

// SelectStyle records the chosen caption style and kicks off transcription
// of the first chunk. Only valid while the session waits in style selection.
func (c *Coordinator) SelectStyle(ctx context.Context, sessionID, styleID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := models.StyleByID(styleID); err != nil {
		return err
	}

	session, err := c.store.GetSession(sessionID)
	if err != nil {
		return err
	}
	if session.Status != models.SessionStyleSelection {
		return fmt.Errorf("session %s is %s, expected %s", sessionID, session.Status, models.SessionStyleSelection)
	}

	if err := c.store.UpdateSession(sessionID, func(s *models.Session) {
		s.SelectedStyleID = styleID
		s.Status = models.SessionTranscribing
		s.CurrentChunkIndex = 0
		s.UpdatedAt = time.Now()
	}); err != nil {
		return err
	}

	return c.enqueueTranscribe(ctx, sessionID, 0)
}

// Approve accepts the current chunk's preview. The next chunk enters
// transcription, or, past the last chunk, the final render is enqueued.
func (c *Coordinator) Approve(ctx context.Context, sessionID string, chunkIndex int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	session, _, err := c.reviewableChunk(sessionID, chunkIndex)
	if err != nil {
		return err
	}

	if err := c.store.UpdateChunk(sessionID, chunkIndex, func(ch *models.Chunk) {
		ch.Status = models.ChunkApproved
		ch.Approved = true
		ch.UpdatedAt = time.Now()
	}); err != nil {
		return err
	}

	next := chunkIndex + 1
	if next < session.TotalChunks {
		if err := c.store.UpdateSession(sessionID, func(s *models.Session) {
			s.CurrentChunkIndex = next
			s.Status = models.SessionTranscribing
			s.UpdatedAt = time.Now()
		}); err != nil {
			return err
		}
		return c.enqueueTranscribe(ctx, sessionID, next)
	}

	// All chunks approved; merge their transcripts and render.
	chunks, err := c.store.ListChunks(sessionID)
	if err != nil {
		return err
	}
	var segments []models.TranscriptSegment
	for _, ch := range chunks {
		segments = append(segments, ch.Transcript...)
	}
	models.SortSegments(segments)

	if err := c.store.UpdateSession(sessionID, func(s *models.Session) {
		s.Status = models.SessionRendering
		s.UpdatedAt = time.Now()
	}); err != nil {
		return err
	}

	return c.enqueue(ctx, sessionID, models.KindRenderFinal, models.RenderPayload{
		VideoURL:    session.StoredVideoURL,
		Segments:    segments,
		StyleID:     session.SelectedStyleID,
		CaptionMode: string(session.CaptionMode),
	})
}

// Reject discards the current chunk's transcript and preview and runs the
// chunk through transcription again. Other chunks are untouched.
func (c *Coordinator) Reject(ctx context.Context, sessionID string, chunkIndex int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, _, err := c.reviewableChunk(sessionID, chunkIndex); err != nil {
		return err
	}

	if err := c.store.UpdateChunk(sessionID, chunkIndex, func(ch *models.Chunk) {
		ch.Status = models.ChunkReprocessing
		ch.Transcript = nil
		ch.PreviewURL = ""
		ch.ThumbnailURL = ""
		ch.Approved = false
		ch.ReprocessCount++
		ch.UpdatedAt = time.Now()
	}); err != nil {
		return err
	}

	if err := c.store.UpdateSession(sessionID, func(s *models.Session) {
		s.Status = models.SessionTranscribing
		s.UpdatedAt = time.Now()
	}); err != nil {
		return err
	}

	return c.enqueueTranscribe(ctx, sessionID, chunkIndex)
}

// Cancel moves a non-terminal session to cancelled. In-flight jobs finish
// but their results are ignored.
func (c *Coordinator) Cancel(sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	session, err := c.store.GetSession(sessionID)
	if err != nil {
		return err
	}
	if isTerminal(session.Status) {
		return fmt.Errorf("session %s is already %s", sessionID, session.Status)
	}

	return c.store.UpdateSession(sessionID, func(s *models.Session) {
		s.Status = models.SessionCancelled
		s.UpdatedAt = time.Now()
	})
}

// HandleResult advances the state machine on each bus result. Unknown
// sessions and results for terminal sessions are logged and dropped; the
// bus gives no redelivery so there is nothing else to do with them.
func (c *Coordinator) HandleResult(result *models.JobResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	session, err := c.store.GetSession(result.SessionID)
	if err != nil {
		log.Printf("drop result %s: unknown session %s", result.JobID, result.SessionID)
		return
	}
	if isTerminal(session.Status) {
		log.Printf("drop result %s: session %s is %s", result.JobID, session.ID, session.Status)
		return
	}

	if result.Status == models.ResultFailed {
		c.failSession(session.ID, result)
		return
	}

	var handleErr error
	switch result.Kind {
	case models.KindVideoUploaded:
		handleErr = c.onUploaded(session, result)
	case models.KindChunkVideo:
		handleErr = c.onChunked(session, result)
	case models.KindTranscribeChunk:
		handleErr = c.onTranscribed(session, result)
	case models.KindGeneratePreview:
		handleErr = c.onPreviewReady(session, result)
	case models.KindRenderFinal:
		handleErr = c.onRendered(session, result)
	default:
		log.Printf("drop result %s: unknown kind %s", result.JobID, result.Kind)
		return
	}
	if handleErr != nil {
		log.Printf("handle %s result for session %s: %v", result.Kind, session.ID, handleErr)
		c.failSession(session.ID, &models.JobResult{
			Kind:  result.Kind,
			Error: handleErr.Error(),
		})
	}
}

func (c *Coordinator) onUploaded(session *models.Session, result *models.JobResult) error {
	var payload models.UploadResult
	if err := json.Unmarshal(result.Payload, &payload); err != nil {
		return fmt.Errorf("decode upload result: %w", err)
	}

	if err := c.store.UpdateSession(session.ID, func(s *models.Session) {
		s.Status = models.SessionChunking
		s.StoredVideoURL = payload.StoredURL
		s.Duration = payload.Duration
		s.Width = payload.Width
		s.Height = payload.Height
		s.UpdatedAt = time.Now()
	}); err != nil {
		return err
	}

	return c.enqueue(context.Background(), session.ID, models.KindChunkVideo, models.ChunkVideoPayload{
		VideoURL:      payload.StoredURL,
		Duration:      payload.Duration,
		ChunkDuration: c.chunkDuration,
	})
}

func (c *Coordinator) onChunked(session *models.Session, result *models.JobResult) error {
	var payload models.ChunkVideoResult
	if err := json.Unmarshal(result.Payload, &payload); err != nil {
		return fmt.Errorf("decode chunk result: %w", err)
	}
	if len(payload.Chunks) == 0 {
		return fmt.Errorf("chunking produced no chunks")
	}

	for _, info := range payload.Chunks {
		chunk := &models.Chunk{
			SessionID: session.ID,
			Index:     info.Index,
			SourceURL: info.URL,
			Start:     info.Start,
			End:       info.End,
			Status:    models.ChunkPending,
			UpdatedAt: time.Now(),
		}
		if err := c.store.SaveChunk(chunk); err != nil {
			return fmt.Errorf("save chunk %d: %w", info.Index, err)
		}
	}

	// Transcription waits for the user's style pick; the style drives the
	// preview the user reviews next.
	return c.store.UpdateSession(session.ID, func(s *models.Session) {
		s.Status = models.SessionStyleSelection
		s.TotalChunks = len(payload.Chunks)
		s.UpdatedAt = time.Now()
	})
}

func (c *Coordinator) onTranscribed(session *models.Session, result *models.JobResult) error {
	var payload models.TranscribeResult
	if err := json.Unmarshal(result.Payload, &payload); err != nil {
		return fmt.Errorf("decode transcribe result: %w", err)
	}
	if payload.ChunkIndex != session.CurrentChunkIndex {
		log.Printf("drop stale transcript for chunk %d of session %s (current %d)",
			payload.ChunkIndex, session.ID, session.CurrentChunkIndex)
		return nil
	}

	chunk, err := c.store.GetChunk(session.ID, payload.ChunkIndex)
	if err != nil {
		return err
	}

	if err := c.store.UpdateChunk(session.ID, payload.ChunkIndex, func(ch *models.Chunk) {
		ch.Status = models.ChunkGeneratingPreview
		ch.Transcript = payload.Segments
		ch.UpdatedAt = time.Now()
	}); err != nil {
		return err
	}

	return c.enqueue(context.Background(), session.ID, models.KindGeneratePreview, models.PreviewPayload{
		ChunkIndex:  payload.ChunkIndex,
		ChunkURL:    chunk.SourceURL,
		Segments:    payload.Segments,
		StyleID:     session.SelectedStyleID,
		CaptionMode: string(session.CaptionMode),
	})
}

func (c *Coordinator) onPreviewReady(session *models.Session, result *models.JobResult) error {
	var payload models.PreviewResult
	if err := json.Unmarshal(result.Payload, &payload); err != nil {
		return fmt.Errorf("decode preview result: %w", err)
	}

	if err := c.store.UpdateChunk(session.ID, payload.ChunkIndex, func(ch *models.Chunk) {
		ch.Status = models.ChunkPreviewReady
		ch.PreviewURL = payload.PreviewURL
		ch.ThumbnailURL = payload.ThumbnailURL
		ch.UpdatedAt = time.Now()
	}); err != nil {
		return err
	}

	return c.store.UpdateSession(session.ID, func(s *models.Session) {
		s.Status = models.SessionReviewing
		s.UpdatedAt = time.Now()
	})
}

func (c *Coordinator) onRendered(session *models.Session, result *models.JobResult) error {
	var payload models.RenderResult
	if err := json.Unmarshal(result.Payload, &payload); err != nil {
		return fmt.Errorf("decode render result: %w", err)
	}

	if err := c.store.UpdateSession(session.ID, func(s *models.Session) {
		s.Status = models.SessionCompleted
		s.OutputVideoURL = payload.OutputURL
		s.UpdatedAt = time.Now()
	}); err != nil {
		return err
	}

	log.Printf("✓ session %s completed: %s", session.ID, payload.OutputURL)
	return nil
}

// reviewableChunk validates a review decision: the session must be in
// reviewing state and the decision must target the chunk under review.
func (c *Coordinator) reviewableChunk(sessionID string, chunkIndex int) (*models.Session, *models.Chunk, error) {
	session, err := c.store.GetSession(sessionID)
	if err != nil {
		return nil, nil, err
	}
	if session.Status != models.SessionReviewing {
		return nil, nil, fmt.Errorf("session %s is %s, expected %s", sessionID, session.Status, models.SessionReviewing)
	}
	if chunkIndex != session.CurrentChunkIndex {
		return nil, nil, fmt.Errorf("chunk %d is not under review (current %d)", chunkIndex, session.CurrentChunkIndex)
	}

	chunk, err := c.store.GetChunk(sessionID, chunkIndex)
	if err != nil {
		return nil, nil, err
	}
	if chunk.Status != models.ChunkPreviewReady {
		return nil, nil, fmt.Errorf("chunk %d is %s, expected %s", chunkIndex, chunk.Status, models.ChunkPreviewReady)
	}
	return session, chunk, nil
}

func (c *Coordinator) failSession(sessionID string, result *models.JobResult) {
	if err := c.store.UpdateSession(sessionID, func(s *models.Session) {
		s.Status = models.SessionFailed
		s.Error = fmt.Sprintf("%s: %s", result.Kind, result.Error)
		s.UpdatedAt = time.Now()
	}); err != nil {
		log.Printf("mark session %s failed: %v", sessionID, err)
		return
	}
	log.Printf("session %s failed at %s: %s", sessionID, result.Kind, result.Error)
}

func (c *Coordinator) enqueueTranscribe(ctx context.Context, sessionID string, chunkIndex int) error {
	session, err := c.store.GetSession(sessionID)
	if err != nil {
		return err
	}
	chunk, err := c.store.GetChunk(sessionID, chunkIndex)
	if err != nil {
		return err
	}

	if err := c.store.UpdateChunk(sessionID, chunkIndex, func(ch *models.Chunk) {
		ch.Status = models.ChunkTranscribing
		ch.UpdatedAt = time.Now()
	}); err != nil {
		return err
	}

	return c.enqueue(ctx, sessionID, models.KindTranscribeChunk, models.TranscribePayload{
		ChunkIndex:  chunkIndex,
		ChunkURL:    chunk.SourceURL,
		ChunkStart:  chunk.Start,
		ChunkEnd:    chunk.End,
		Language:    session.Language,
		CaptionMode: string(session.CaptionMode),
	})
}

func (c *Coordinator) enqueue(ctx context.Context, sessionID string, kind models.JobKind, payload any) error {
	job, err := models.NewJobRequest(uuid.New().String(), kind, sessionID, payload)
	if err != nil {
		return fmt.Errorf("build %s job: %w", kind, err)
	}
	if err := c.queue.PublishJob(ctx, job); err != nil {
		return fmt.Errorf("publish %s job: %w", kind, err)
	}
	return nil
}

func isTerminal(status models.SessionStatus) bool {
	switch status {
	case models.SessionCompleted, models.SessionFailed, models.SessionCancelled:
		return true
	}
	return false
}

package processor

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/z-wentao/capflow/pkg/media"
	"github.com/z-wentao/capflow/pkg/models"
	"github.com/z-wentao/capflow/pkg/store"
)

// HandleChunkVideo cuts the original into contiguous fixed-length chunks
// and uploads each one. Chunk boundaries come from PlanChunks, so the last
// chunk is never empty and the pieces cover the whole timeline.
func (p *Processors) HandleChunkVideo(ctx context.Context, job *models.JobRequest) *models.JobResult {
	payload, err := decodePayload[models.ChunkVideoPayload](job)
	if err != nil {
		return failed(job, err)
	}
	if payload.Duration <= 0 {
		return failed(job, fmt.Errorf("invalid video duration %.2f", payload.Duration))
	}

	chunkDuration := payload.ChunkDuration
	if chunkDuration == 0 {
		chunkDuration = p.ChunkDuration
	}
	chunkDuration = media.ClampChunkDuration(chunkDuration)

	dir, cleanup, err := scratchDir(job.Kind, job.JobID)
	if err != nil {
		return failed(job, err)
	}
	defer cleanup()

	sourcePath := filepath.Join(dir, "source.mp4")
	if err := p.fetchToLocal(ctx, payload.VideoURL, sourcePath); err != nil {
		return failed(job, fmt.Errorf("fetch video: %w", err))
	}

	intervals := media.PlanChunks(payload.Duration, chunkDuration)
	chunks := make([]models.ChunkInfo, 0, len(intervals))
	for _, iv := range intervals {
		name := fmt.Sprintf("chunk_%03d.mp4", iv.Index)
		clipPath := filepath.Join(dir, name)
		if err := p.Toolkit.ExtractClip(ctx, sourcePath, clipPath, iv.Start, iv.End-iv.Start); err != nil {
			return failed(job, fmt.Errorf("extract chunk %d: %w", iv.Index, err))
		}

		objectPath := store.ObjectPath(job.SessionID, store.CategoryChunks, name)
		url, err := p.Objects.PutFile(ctx, objectPath, clipPath, "video/mp4")
		if err != nil {
			return failed(job, fmt.Errorf("store chunk %d: %w", iv.Index, err))
		}

		chunks = append(chunks, models.ChunkInfo{
			ChunkID: uuid.New().String(),
			Index:   iv.Index,
			URL:     url,
			Start:   iv.Start,
			End:     iv.End,
		})
	}

	log.Printf("✓ session %s chunked into %d pieces (%.0fs each)",
		job.SessionID, len(chunks), chunkDuration)

	return completed(job, models.ChunkVideoResult{Chunks: chunks})
}

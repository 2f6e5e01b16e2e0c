package processor

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/z-wentao/capflow/pkg/media"
	"github.com/z-wentao/capflow/pkg/models"
	"github.com/z-wentao/capflow/pkg/store"
)

// HandleGeneratePreview burns the chunk's captions into a low-resolution
// preview and grabs a thumbnail. Incoming segments are absolute-timeline;
// they are shifted back to the chunk's own clock before synthesis so the
// cues line up with the clip.
func (p *Processors) HandleGeneratePreview(ctx context.Context, job *models.JobRequest) *models.JobResult {
	payload, err := decodePayload[models.PreviewPayload](job)
	if err != nil {
		return failed(job, err)
	}
	if len(payload.Segments) == 0 {
		return failed(job, fmt.Errorf("chunk %d has no transcript segments", payload.ChunkIndex))
	}

	style, err := models.StyleByID(payload.StyleID)
	if err != nil {
		return failed(job, err)
	}

	dir, cleanup, err := scratchDir(job.Kind, job.JobID)
	if err != nil {
		return failed(job, err)
	}
	defer cleanup()

	chunkPath := filepath.Join(dir, "chunk.mp4")
	if err := p.fetchToLocal(ctx, payload.ChunkURL, chunkPath); err != nil {
		return failed(job, fmt.Errorf("fetch chunk: %w", err))
	}

	probe, err := p.Toolkit.Probe(ctx, chunkPath)
	if err != nil {
		return failed(job, fmt.Errorf("probe chunk: %w", err))
	}

	relative := models.ShiftSegments(payload.Segments, -models.MinStart(payload.Segments))
	doc, err := p.Engine.Synthesize(relative, style, probe.Width, probe.Height, models.CaptionMode(payload.CaptionMode))
	if err != nil {
		return failed(job, fmt.Errorf("synthesize captions: %w", err))
	}

	subtitlePath := filepath.Join(dir, "captions.ass")
	if err := os.WriteFile(subtitlePath, []byte(doc), 0o644); err != nil {
		return failed(job, fmt.Errorf("write subtitles: %w", err))
	}

	previewPath := filepath.Join(dir, "preview.mp4")
	if err := p.Toolkit.BurnSubtitles(ctx, chunkPath, subtitlePath, previewPath, media.ProfilePreview); err != nil {
		return failed(job, fmt.Errorf("burn preview: %w", err))
	}

	thumbPath := filepath.Join(dir, "thumb.jpg")
	if err := p.Toolkit.Screenshot(ctx, chunkPath, thumbPath, probe.Duration/2); err != nil {
		return failed(job, fmt.Errorf("grab thumbnail: %w", err))
	}

	previewName := fmt.Sprintf("chunk_%03d.mp4", payload.ChunkIndex)
	previewURL, err := p.Objects.PutFile(ctx,
		store.ObjectPath(job.SessionID, store.CategoryPreviews, previewName), previewPath, "video/mp4")
	if err != nil {
		return failed(job, fmt.Errorf("store preview: %w", err))
	}

	thumbName := fmt.Sprintf("chunk_%03d.jpg", payload.ChunkIndex)
	thumbnailURL, err := p.Objects.PutFile(ctx,
		store.ObjectPath(job.SessionID, store.CategoryThumbnails, thumbName), thumbPath, "image/jpeg")
	if err != nil {
		return failed(job, fmt.Errorf("store thumbnail: %w", err))
	}

	log.Printf("✓ rendered preview for chunk %d of session %s (style %s)",
		payload.ChunkIndex, job.SessionID, style.ID)

	return completed(job, models.PreviewResult{
		ChunkIndex:   payload.ChunkIndex,
		PreviewURL:   previewURL,
		ThumbnailURL: thumbnailURL,
	})
}

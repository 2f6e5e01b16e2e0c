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

// HandleRenderFinal burns the approved captions of every chunk into the
// full-resolution original. Segments arrive merged from all chunks and are
// already on the absolute timeline, so no shifting happens here, only a
// defensive sort.
func (p *Processors) HandleRenderFinal(ctx context.Context, job *models.JobRequest) *models.JobResult {
	payload, err := decodePayload[models.RenderPayload](job)
	if err != nil {
		return failed(job, err)
	}
	if len(payload.Segments) == 0 {
		return failed(job, fmt.Errorf("no transcript segments to render"))
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

	sourcePath := filepath.Join(dir, "source.mp4")
	if err := p.fetchToLocal(ctx, payload.VideoURL, sourcePath); err != nil {
		return failed(job, fmt.Errorf("fetch video: %w", err))
	}

	probe, err := p.Toolkit.Probe(ctx, sourcePath)
	if err != nil {
		return failed(job, fmt.Errorf("probe video: %w", err))
	}

	segments := append([]models.TranscriptSegment(nil), payload.Segments...)
	models.SortSegments(segments)

	doc, err := p.Engine.Synthesize(segments, style, probe.Width, probe.Height, models.CaptionMode(payload.CaptionMode))
	if err != nil {
		return failed(job, fmt.Errorf("synthesize captions: %w", err))
	}

	subtitlePath := filepath.Join(dir, "captions.ass")
	if err := os.WriteFile(subtitlePath, []byte(doc), 0o644); err != nil {
		return failed(job, fmt.Errorf("write subtitles: %w", err))
	}

	outputPath := filepath.Join(dir, "final.mp4")
	if err := p.Toolkit.BurnSubtitles(ctx, sourcePath, subtitlePath, outputPath, media.ProfileFinal); err != nil {
		return failed(job, fmt.Errorf("burn final render: %w", err))
	}

	outProbe, err := p.Toolkit.Probe(ctx, outputPath)
	if err != nil {
		return failed(job, fmt.Errorf("probe output: %w", err))
	}

	outputURL, err := p.Objects.PutFile(ctx,
		store.ObjectPath(job.SessionID, store.CategoryOutput, "final.mp4"), outputPath, "video/mp4")
	if err != nil {
		return failed(job, fmt.Errorf("store output: %w", err))
	}

	log.Printf("✓ rendered final video for session %s (%.1fs, %d segments)",
		job.SessionID, outProbe.Duration, len(segments))

	return completed(job, models.RenderResult{
		OutputURL: outputURL,
		Duration:  outProbe.Duration,
		Size:      outProbe.Size,
	})
}

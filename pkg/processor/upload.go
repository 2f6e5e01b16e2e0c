package processor

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"github.com/z-wentao/capflow/pkg/models"
	"github.com/z-wentao/capflow/pkg/store"
)

// HandleVideoUploaded fetches the source video, probes it and stores the
// original under the session's prefix. The probed duration feeds chunk
// planning downstream.
func (p *Processors) HandleVideoUploaded(ctx context.Context, job *models.JobRequest) *models.JobResult {
	payload, err := decodePayload[models.UploadPayload](job)
	if err != nil {
		return failed(job, err)
	}
	if payload.SourceURL == "" {
		return failed(job, fmt.Errorf("source_url is empty"))
	}

	dir, cleanup, err := scratchDir(job.Kind, job.JobID)
	if err != nil {
		return failed(job, err)
	}
	defer cleanup()

	localPath := filepath.Join(dir, "source.mp4")
	if err := p.fetchToLocal(ctx, payload.SourceURL, localPath); err != nil {
		return failed(job, fmt.Errorf("fetch source: %w", err))
	}

	probe, err := p.Toolkit.Probe(ctx, localPath)
	if err != nil {
		return failed(job, fmt.Errorf("probe source: %w", err))
	}
	if probe.Duration <= 0 {
		return failed(job, fmt.Errorf("source has no duration"))
	}

	objectPath := store.ObjectPath(job.SessionID, store.CategoryOriginal, "source.mp4")
	storedURL, err := p.Objects.PutFile(ctx, objectPath, localPath, "video/mp4")
	if err != nil {
		return failed(job, fmt.Errorf("store original: %w", err))
	}

	log.Printf("✓ stored original for session %s (%.1fs, %dx%d)",
		job.SessionID, probe.Duration, probe.Width, probe.Height)

	return completed(job, models.UploadResult{
		StoredURL: storedURL,
		Duration:  probe.Duration,
		Size:      probe.Size,
		Width:     probe.Width,
		Height:    probe.Height,
	})
}

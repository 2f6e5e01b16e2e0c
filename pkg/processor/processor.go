// Package processor implements the five pipeline stages. Each processor is
// a pure payload-in/result-out function over injected dependencies; there is
// no package-level state.
package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/z-wentao/capflow/pkg/captions"
	"github.com/z-wentao/capflow/pkg/media"
	"github.com/z-wentao/capflow/pkg/models"
	"github.com/z-wentao/capflow/pkg/store"
	"github.com/z-wentao/capflow/pkg/stt"
	"github.com/z-wentao/capflow/pkg/worker"
)

// Toolkit is the slice of the media toolkit the processors drive.
type Toolkit interface {
	Probe(ctx context.Context, path string) (*media.ProbeResult, error)
	ExtractAudio(ctx context.Context, inputPath, outputPath string) error
	ExtractClip(ctx context.Context, inputPath, outputPath string, start, duration float64) error
	BurnSubtitles(ctx context.Context, inputPath, subtitlePath, outputPath string, profile media.BurnProfile) error
	Screenshot(ctx context.Context, inputPath, outputPath string, at float64) error
}

// Processors bundles every dependency a stage needs. One instance is built
// at startup and registered on the worker pool; nothing is global.
type Processors struct {
	Objects       store.ObjectStore
	Toolkit       Toolkit
	Primary       stt.Provider
	WordLevel     stt.Provider
	Engine        *captions.Engine
	ChunkDuration float64
	HTTPClient    *http.Client
}

// New creates a Processors with sane defaults filled in.
func New(objects store.ObjectStore, toolkit Toolkit, primary, wordLevel stt.Provider, chunkDuration float64) *Processors {
	return &Processors{
		Objects:       objects,
		Toolkit:       toolkit,
		Primary:       primary,
		WordLevel:     wordLevel,
		Engine:        captions.NewEngine(),
		ChunkDuration: media.ClampChunkDuration(chunkDuration),
		HTTPClient:    &http.Client{Timeout: 10 * time.Minute},
	}
}

// RegisterAll installs every stage handler on the pool.
func (p *Processors) RegisterAll(pool *worker.Pool) {
	pool.Register(models.KindVideoUploaded, p.HandleVideoUploaded)
	pool.Register(models.KindChunkVideo, p.HandleChunkVideo)
	pool.Register(models.KindTranscribeChunk, p.HandleTranscribeChunk)
	pool.Register(models.KindGeneratePreview, p.HandleGeneratePreview)
	pool.Register(models.KindRenderFinal, p.HandleRenderFinal)
}

// completed builds a successful result for job.
func completed(job *models.JobRequest, payload any) *models.JobResult {
	raw, err := json.Marshal(payload)
	if err != nil {
		return failed(job, fmt.Errorf("marshal result payload: %w", err))
	}
	return &models.JobResult{
		JobID:       job.JobID,
		Kind:        job.Kind,
		SessionID:   job.SessionID,
		Status:      models.ResultCompleted,
		ProcessedAt: time.Now(),
		Payload:     raw,
	}
}

// failed builds a failure result carrying the error text.
func failed(job *models.JobRequest, err error) *models.JobResult {
	log.Printf("job %s (%s) failed: %v", job.JobID, job.Kind, err)
	return &models.JobResult{
		JobID:       job.JobID,
		Kind:        job.Kind,
		SessionID:   job.SessionID,
		Status:      models.ResultFailed,
		Error:       err.Error(),
		ProcessedAt: time.Now(),
	}
}

// scratchDir creates a per-job scratch directory and returns it with a
// cleanup func. The directory is namespaced by stage and job so concurrent
// jobs never share scratch space.
func scratchDir(stage models.JobKind, jobID string) (string, func(), error) {
	dir := filepath.Join(os.TempDir(), fmt.Sprintf("capflow-%s-%s", stage, jobID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("create scratch dir: %w", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			log.Printf("cleanup scratch dir %s: %v", dir, err)
		}
	}
	return dir, cleanup, nil
}

// fetchToLocal materializes a source addressed by URL into a local file.
// Store URLs go through the object store; anything else is plain HTTP.
func (p *Processors) fetchToLocal(ctx context.Context, sourceURL, localPath string) error {
	if !strings.HasPrefix(sourceURL, "http://") && !strings.HasPrefix(sourceURL, "https://") {
		return p.Objects.Download(ctx, sourceURL, localPath)
	}

	// Prefer the store for URLs it minted; fall back to HTTP for foreign
	// ones.
	if err := p.Objects.Download(ctx, sourceURL, localPath); err == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return fmt.Errorf("build fetch request: %w", err)
	}
	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", sourceURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: status %d", sourceURL, resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("create fetch dir: %w", err)
	}
	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", localPath, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		return fmt.Errorf("write %s: %w", localPath, err)
	}
	return nil
}

func decodePayload[T any](job *models.JobRequest) (*T, error) {
	var payload T
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", job.Kind, err)
	}
	return &payload, nil
}

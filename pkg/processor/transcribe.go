package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"path/filepath"

	"github.com/z-wentao/capflow/pkg/models"
	"github.com/z-wentao/capflow/pkg/store"
	"github.com/z-wentao/capflow/pkg/stt"
)

// HandleTranscribeChunk extracts the chunk's audio, runs the right provider
// and shifts the resulting segments onto the absolute timeline of the
// source video before persisting them.
func (p *Processors) HandleTranscribeChunk(ctx context.Context, job *models.JobRequest) *models.JobResult {
	payload, err := decodePayload[models.TranscribePayload](job)
	if err != nil {
		return failed(job, err)
	}

	provider, err := p.pickProvider(models.CaptionMode(payload.CaptionMode))
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

	audioPath := filepath.Join(dir, "chunk.wav")
	if err := p.Toolkit.ExtractAudio(ctx, chunkPath, audioPath); err != nil {
		return failed(job, fmt.Errorf("extract audio: %w", err))
	}

	opts := stt.Options{Language: payload.Language}

	// URL-only providers need the audio published before they can see it.
	if provider.Capabilities().NeedsPublicURL {
		audioName := fmt.Sprintf("chunk_%03d.wav", payload.ChunkIndex)
		audioObjectPath := store.ObjectPath(job.SessionID, store.CategoryAudio, audioName)
		audioURL, err := p.Objects.PutFile(ctx, audioObjectPath, audioPath, "audio/wav")
		if err != nil {
			return failed(job, fmt.Errorf("publish audio: %w", err))
		}
		opts.AudioURL = audioURL
	}

	result, err := provider.Transcribe(ctx, audioPath, opts)
	if err != nil {
		return failed(job, fmt.Errorf("transcribe with %s: %w", provider.Name(), err))
	}

	// Provider timestamps are chunk-relative; everything downstream works
	// on the absolute timeline.
	segments := models.ShiftSegments(result.Segments, payload.ChunkStart)

	transcriptName := fmt.Sprintf("chunk_%03d.json", payload.ChunkIndex)
	transcriptPath := store.ObjectPath(job.SessionID, store.CategoryTranscript, transcriptName)
	raw, err := json.Marshal(segments)
	if err != nil {
		return failed(job, fmt.Errorf("marshal transcript: %w", err))
	}
	transcriptURL, err := p.Objects.Put(ctx, transcriptPath, bytes.NewReader(raw), int64(len(raw)), "application/json")
	if err != nil {
		return failed(job, fmt.Errorf("store transcript: %w", err))
	}

	log.Printf("✓ transcribed chunk %d of session %s with %s (%d segments, %.2fs)",
		payload.ChunkIndex, job.SessionID, provider.Name(), len(segments), result.ProcessingTime.Seconds())

	return completed(job, models.TranscribeResult{
		ChunkIndex:    payload.ChunkIndex,
		Segments:      segments,
		Language:      result.Language,
		Provider:      provider.Name(),
		TranscriptURL: transcriptURL,
	})
}

// pickProvider returns the primary provider unless word-level cues are
// requested and the primary cannot produce word timestamps.
func (p *Processors) pickProvider(mode models.CaptionMode) (stt.Provider, error) {
	if p.Primary == nil {
		return nil, fmt.Errorf("no transcription provider configured")
	}
	if mode != models.ModeWord || p.Primary.Capabilities().WordTimestamps {
		return p.Primary, nil
	}
	if p.WordLevel == nil {
		return nil, fmt.Errorf("caption mode %q needs word timestamps but no word-level provider is configured", mode)
	}
	return p.WordLevel, nil
}

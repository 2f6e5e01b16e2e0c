package stt

import (
	"context"
	"fmt"
	"os"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/z-wentao/capflow/pkg/models"
)

// whisperMaxFileBytes is the Whisper API upload cap (25 MB).
const whisperMaxFileBytes = 25 * 1024 * 1024

// WhisperProvider transcribes through the OpenAI Whisper API: synchronous,
// segment-level timestamps, local file upload.
type WhisperProvider struct {
	client *openai.Client
}

// NewWhisperProvider creates a Whisper provider.
func NewWhisperProvider(apiKey string) *WhisperProvider {
	return &WhisperProvider{client: openai.NewClient(apiKey)}
}

// Name identifies the provider in logs and transcripts.
func (p *WhisperProvider) Name() string { return "whisper" }

// Capabilities reports segment-level, synchronous, local-file transcription.
func (p *WhisperProvider) Capabilities() Capabilities {
	return Capabilities{
		WordTimestamps: false,
		NeedsPublicURL: false,
		Async:          false,
		MaxFileBytes:   whisperMaxFileBytes,
	}
}

// Transcribe uploads the audio and returns verbose-JSON segments.
func (p *WhisperProvider) Transcribe(ctx context.Context, audioPath string, opts Options) (*Result, error) {
	info, err := os.Stat(audioPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: stat audio: %w", err)
	}
	if info.Size() > whisperMaxFileBytes {
		return nil, fmt.Errorf("whisper: audio file too large: %d bytes (max %d)", info.Size(), whisperMaxFileBytes)
	}

	started := time.Now()

	var resp openai.AudioResponse
	err = withBackoff(ctx, 3, func() error {
		var callErr error
		resp, callErr = p.client.CreateTranscription(ctx, openai.AudioRequest{
			Model:    openai.Whisper1,
			FilePath: audioPath,
			Format:   openai.AudioResponseFormatVerboseJSON,
			Language: opts.Language,
		})
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}

	segments := make([]models.TranscriptSegment, 0, len(resp.Segments))
	for i, seg := range resp.Segments {
		segments = append(segments, models.TranscriptSegment{
			Index: i,
			Start: seg.Start,
			End:   seg.End,
			Text:  seg.Text,
		})
	}

	return &Result{
		Text:           resp.Text,
		Language:       resp.Language,
		Duration:       resp.Duration,
		Segments:       segments,
		ProcessingTime: time.Since(started),
	}, nil
}

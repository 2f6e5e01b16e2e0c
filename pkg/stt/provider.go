// Package stt abstracts the speech-to-text services behind one
// capability-described interface.
package stt

import (
	"context"
	"fmt"
	"time"

	"github.com/z-wentao/capflow/pkg/config"
	"github.com/z-wentao/capflow/pkg/models"
)

// Capabilities describes what a provider can and cannot do. The processors
// consult this instead of switching on provider names.
type Capabilities struct {
	// WordTimestamps is true when the provider returns word-granular
	// segments.
	WordTimestamps bool
	// NeedsPublicURL is true when the provider cannot accept a local file
	// and requires the audio to be published first.
	NeedsPublicURL bool
	// Async is true for submit-then-poll providers.
	Async bool
	// MaxFileBytes is the largest accepted upload; 0 means unbounded.
	MaxFileBytes int64
	// MaxDuration is the longest accepted audio; 0 means unbounded.
	MaxDuration time.Duration
}

// Options tunes a single transcription call.
type Options struct {
	// Language hints the spoken language; empty means auto-detect.
	Language string
	// AudioURL is the published location of the audio, required by
	// providers whose Capabilities report NeedsPublicURL.
	AudioURL string
}

// Result is the uniform transcription outcome. Segment timestamps are on
// the audio file's own timeline, starting near zero; callers shift them to
// the absolute timeline.
type Result struct {
	Text           string
	Language       string
	Duration       float64
	Segments       []models.TranscriptSegment
	ProcessingTime time.Duration
}

// Provider is the uniform speech-to-text contract.
type Provider interface {
	Name() string
	Capabilities() Capabilities
	Transcribe(ctx context.Context, audioPath string, opts Options) (*Result, error)
}

// Select builds the configured primary and word-level fallback providers
// once at startup.
func Select(cfg config.ProvidersConfig) (primary, wordLevel Provider, err error) {
	build := func(name string) (Provider, error) {
		switch name {
		case "whisper":
			if cfg.OpenAI.APIKey == "" {
				return nil, fmt.Errorf("provider whisper: missing openai api key")
			}
			return NewWhisperProvider(cfg.OpenAI.APIKey), nil
		case "deepgram":
			if cfg.Deepgram.APIKey == "" {
				return nil, fmt.Errorf("provider deepgram: missing api key")
			}
			return NewDeepgramProvider(cfg.Deepgram.APIKey, cfg.Deepgram.Model), nil
		case "assemblyai":
			if cfg.AssemblyAI.APIKey == "" {
				return nil, fmt.Errorf("provider assemblyai: missing api key")
			}
			return NewAssemblyAIProvider(cfg.AssemblyAI.APIKey), nil
		default:
			return nil, fmt.Errorf("unknown provider: %s", name)
		}
	}

	primary, err = build(cfg.Primary)
	if err != nil {
		return nil, nil, err
	}

	wordLevel, err = build(cfg.WordLevel)
	if err != nil {
		return nil, nil, err
	}
	if !wordLevel.Capabilities().WordTimestamps {
		return nil, nil, fmt.Errorf("provider %s does not produce word timestamps", cfg.WordLevel)
	}

	return primary, wordLevel, nil
}

// withBackoff retries fn with exponential backoff (1s, 2s, 4s, ...)
// respecting context cancellation.
func withBackoff(ctx context.Context, maxRetries int, fn func() error) error {
	var lastErr error
	for i := 0; i < maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return fmt.Errorf("cancelled: %w", ctx.Err())
		}
		if i < maxRetries-1 {
			wait := time.Duration(1<<uint(i)) * time.Second
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return fmt.Errorf("cancelled: %w", ctx.Err())
			}
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", maxRetries, lastErr)
}

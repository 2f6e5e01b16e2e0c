package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/z-wentao/capflow/pkg/models"
)

const deepgramAPIURL = "https://api.deepgram.com/v1/listen"

// DeepgramProvider transcribes through the Deepgram API: synchronous,
// word-level timestamps, local file upload. It is the word-level fallback
// used when the caption mode needs per-word timing.
type DeepgramProvider struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewDeepgramProvider creates a Deepgram provider.
func NewDeepgramProvider(apiKey, model string) *DeepgramProvider {
	if model == "" {
		model = "nova-2"
	}
	return &DeepgramProvider{
		apiKey:  apiKey,
		model:   model,
		baseURL: deepgramAPIURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

// Name identifies the provider in logs and transcripts.
func (p *DeepgramProvider) Name() string { return "deepgram" }

// Capabilities reports word-level, synchronous, local-file transcription.
func (p *DeepgramProvider) Capabilities() Capabilities {
	return Capabilities{
		WordTimestamps: true,
		NeedsPublicURL: false,
		Async:          false,
		MaxFileBytes:   2 * 1024 * 1024 * 1024,
	}
}

type deepgramResponse struct {
	Metadata struct {
		Duration float64 `json:"duration"`
	} `json:"metadata"`
	Results struct {
		Channels []struct {
			DetectedLanguage string `json:"detected_language"`
			Alternatives     []struct {
				Transcript string `json:"transcript"`
				Words      []struct {
					Word           string  `json:"word"`
					Start          float64 `json:"start"`
					End            float64 `json:"end"`
					PunctuatedWord string  `json:"punctuated_word"`
				} `json:"words"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Transcribe streams the audio body to Deepgram and converts its word list
// into word-granular segments.
func (p *DeepgramProvider) Transcribe(ctx context.Context, audioPath string, opts Options) (*Result, error) {
	started := time.Now()

	var parsed deepgramResponse
	err := withBackoff(ctx, 3, func() error {
		return p.call(ctx, audioPath, opts, &parsed)
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: %w", err)
	}

	if len(parsed.Results.Channels) == 0 || len(parsed.Results.Channels[0].Alternatives) == 0 {
		return nil, fmt.Errorf("deepgram: empty response")
	}
	channel := parsed.Results.Channels[0]
	alt := channel.Alternatives[0]

	segments := make([]models.TranscriptSegment, 0, len(alt.Words))
	for i, w := range alt.Words {
		text := w.PunctuatedWord
		if text == "" {
			text = w.Word
		}
		segments = append(segments, models.TranscriptSegment{
			Index: i,
			Start: w.Start,
			End:   w.End,
			Text:  text,
		})
	}

	return &Result{
		Text:           alt.Transcript,
		Language:       channel.DetectedLanguage,
		Duration:       parsed.Metadata.Duration,
		Segments:       segments,
		ProcessingTime: time.Since(started),
	}, nil
}

func (p *DeepgramProvider) call(ctx context.Context, audioPath string, opts Options, out *deepgramResponse) error {
	file, err := os.Open(audioPath)
	if err != nil {
		return fmt.Errorf("open audio: %w", err)
	}
	defer file.Close()

	params := url.Values{}
	params.Set("model", p.model)
	params.Set("punctuate", "true")
	params.Set("smart_format", "true")
	if opts.Language != "" {
		params.Set("language", opts.Language)
	} else {
		params.Set("detect_language", "true")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"?"+params.Encode(), file)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+p.apiKey)
	req.Header.Set("Content-Type", contentTypeFor(audioPath))

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("authentication failed: %s", strings.TrimSpace(string(body)))
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("rate limited: %s", strings.TrimSpace(string(body)))
	case resp.StatusCode == http.StatusRequestEntityTooLarge:
		return fmt.Errorf("payload too large: %s", strings.TrimSpace(string(body)))
	default:
		return fmt.Errorf("api error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

func contentTypeFor(audioPath string) string {
	switch {
	case strings.HasSuffix(audioPath, ".wav"):
		return "audio/wav"
	case strings.HasSuffix(audioPath, ".mp3"):
		return "audio/mpeg"
	case strings.HasSuffix(audioPath, ".flac"):
		return "audio/flac"
	default:
		return "application/octet-stream"
	}
}

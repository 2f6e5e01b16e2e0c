package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/z-wentao/capflow/pkg/models"
)

const (
	assemblyAIBaseURL = "https://api.assemblyai.com/v2"

	// Submit-then-poll loop bounds: 3s between polls, 100 polls, ~5 minutes.
	assemblyAIPollInterval = 3 * time.Second
	assemblyAIMaxPolls     = 100
)

// AssemblyAIProvider transcribes through the AssemblyAI API. Asynchronous:
// a job is submitted with a publicly accessible audio URL, then polled until
// it completes. Local file paths are rejected; the caller must publish the
// audio first.
type AssemblyAIProvider struct {
	apiKey       string
	baseURL      string
	pollInterval time.Duration
	maxPolls     int
	httpClient   *http.Client
}

// NewAssemblyAIProvider creates an AssemblyAI provider.
func NewAssemblyAIProvider(apiKey string) *AssemblyAIProvider {
	return &AssemblyAIProvider{
		apiKey:       apiKey,
		baseURL:      assemblyAIBaseURL,
		pollInterval: assemblyAIPollInterval,
		maxPolls:     assemblyAIMaxPolls,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Name identifies the provider in logs and transcripts.
func (p *AssemblyAIProvider) Name() string { return "assemblyai" }

// Capabilities reports asynchronous, URL-only transcription.
func (p *AssemblyAIProvider) Capabilities() Capabilities {
	return Capabilities{
		WordTimestamps: false,
		NeedsPublicURL: true,
		Async:          true,
		MaxDuration:    10 * time.Hour,
	}
}

type assemblyAITranscript struct {
	ID            string  `json:"id"`
	Status        string  `json:"status"`
	Text          string  `json:"text"`
	LanguageCode  string  `json:"language_code"`
	AudioDuration float64 `json:"audio_duration"`
	Error         string  `json:"error"`
	Words         []struct {
		Text  string `json:"text"`
		Start int    `json:"start"` // milliseconds
		End   int    `json:"end"`
	} `json:"words"`
}

// Transcribe submits the published audio URL and polls until the job
// finishes or the poll budget runs out.
func (p *AssemblyAIProvider) Transcribe(ctx context.Context, audioPath string, opts Options) (*Result, error) {
	if opts.AudioURL == "" {
		return nil, fmt.Errorf("assemblyai: requires a publicly accessible audio URL, local path %q is not usable", audioPath)
	}

	started := time.Now()

	id, err := p.submit(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("assemblyai: submit: %w", err)
	}

	transcript, err := p.poll(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("assemblyai: %w", err)
	}

	return &Result{
		Text:           transcript.Text,
		Language:       transcript.LanguageCode,
		Duration:       transcript.AudioDuration,
		Segments:       groupWordsIntoSegments(transcript),
		ProcessingTime: time.Since(started),
	}, nil
}

func (p *AssemblyAIProvider) submit(ctx context.Context, opts Options) (string, error) {
	payload := map[string]any{
		"audio_url":   opts.AudioURL,
		"punctuate":   true,
		"format_text": true,
	}
	if opts.Language != "" {
		payload["language_code"] = opts.Language
	} else {
		payload["language_detection"] = true
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/transcript", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("api error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var transcript assemblyAITranscript
	if err := json.Unmarshal(respBody, &transcript); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if transcript.ID == "" {
		return "", fmt.Errorf("no transcript id in response")
	}
	return transcript.ID, nil
}

// poll checks the transcript status every pollInterval. Rate limits and
// server errors are transient (polling continues); any other non-200 is
// fatal.
func (p *AssemblyAIProvider) poll(ctx context.Context, id string) (*assemblyAITranscript, error) {
	for attempt := 0; attempt < p.maxPolls; attempt++ {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("cancelled: %w", ctx.Err())
		case <-time.After(p.pollInterval):
		}

		transcript, retryable, err := p.check(ctx, id)
		if err != nil {
			if retryable {
				continue
			}
			return nil, err
		}

		switch transcript.Status {
		case "completed":
			return transcript, nil
		case "error":
			return nil, fmt.Errorf("transcription failed: %s", transcript.Error)
		case "queued", "processing":
			// keep polling
		default:
			return nil, fmt.Errorf("unexpected transcript status: %s", transcript.Status)
		}
	}
	return nil, fmt.Errorf("transcript %s not ready after %d polls", id, p.maxPolls)
}

func (p *AssemblyAIProvider) check(ctx context.Context, id string) (*assemblyAITranscript, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/transcript/"+id, nil)
	if err != nil {
		return nil, false, fmt.Errorf("build poll request: %w", err)
	}
	req.Header.Set("Authorization", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		// Network blips are transient.
		return nil, true, fmt.Errorf("poll request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("read poll response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("transient api error (status %d)", resp.StatusCode)
	default:
		return nil, false, fmt.Errorf("api error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var transcript assemblyAITranscript
	if err := json.Unmarshal(body, &transcript); err != nil {
		return nil, false, fmt.Errorf("parse poll response: %w", err)
	}
	return &transcript, false, nil
}

// groupWordsIntoSegments folds the word list into sentence-level segments,
// breaking on terminal punctuation. Word timings are in milliseconds.
func groupWordsIntoSegments(t *assemblyAITranscript) []models.TranscriptSegment {
	var segments []models.TranscriptSegment
	var words []string
	var start, end float64

	flush := func() {
		if len(words) == 0 {
			return
		}
		segments = append(segments, models.TranscriptSegment{
			Index: len(segments),
			Start: start,
			End:   end,
			Text:  strings.Join(words, " "),
		})
		words = nil
	}

	for _, w := range t.Words {
		if len(words) == 0 {
			start = float64(w.Start) / 1000
		}
		end = float64(w.End) / 1000
		words = append(words, w.Text)

		if strings.HasSuffix(w.Text, ".") || strings.HasSuffix(w.Text, "?") || strings.HasSuffix(w.Text, "!") {
			flush()
		}
	}
	flush()

	return segments
}

package models

import (
	"encoding/json"
	"time"
)

// JobKind identifies one of the five pipeline stages.
type JobKind string

const (
	KindVideoUploaded   JobKind = "video_uploaded"
	KindChunkVideo      JobKind = "chunk_video"
	KindTranscribeChunk JobKind = "transcribe_chunk"
	KindGeneratePreview JobKind = "generate_preview"
	KindRenderFinal     JobKind = "render_final"
)

// ResultStatus is the terminal status of one processed job.
type ResultStatus string

const (
	ResultCompleted ResultStatus = "completed"
	ResultFailed    ResultStatus = "failed"
)

// JobRequest is one unit of work published on the jobs channel.
// Immutable once published; identity is JobID.
type JobRequest struct {
	JobID     string          `json:"job_id"`
	Kind      JobKind         `json:"job_type"`
	SessionID string          `json:"session_id"`
	CreatedAt time.Time       `json:"created_at"`
	Payload   json.RawMessage `json:"payload"`
}

// JobResult is published on the results channel when a worker finishes.
// At most one result per request; delivery is not deduplicated.
type JobResult struct {
	JobID       string          `json:"job_id"`
	Kind        JobKind         `json:"job_type"`
	SessionID   string          `json:"session_id"`
	Status      ResultStatus    `json:"status"`
	Error       string          `json:"error,omitempty"`
	ProcessedAt time.Time       `json:"processed_at"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// UploadPayload is the input for a video_uploaded job.
type UploadPayload struct {
	SourceURL string `json:"source_url"`
}

// UploadResult carries the probed metadata of the stored original.
type UploadResult struct {
	StoredURL string  `json:"stored_url"`
	Duration  float64 `json:"duration"`
	Size      int64   `json:"size"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
}

// ChunkVideoPayload is the input for a chunk_video job.
type ChunkVideoPayload struct {
	VideoURL      string  `json:"video_url"`
	Duration      float64 `json:"duration"`
	ChunkDuration float64 `json:"chunk_duration"`
}

// ChunkInfo describes one produced chunk.
type ChunkInfo struct {
	ChunkID string  `json:"chunk_id"`
	Index   int     `json:"index"`
	URL     string  `json:"url"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// ChunkVideoResult lists every chunk cut from the original.
type ChunkVideoResult struct {
	Chunks []ChunkInfo `json:"chunks"`
}

// TranscribePayload is the input for a transcribe_chunk job.
// ChunkStart/ChunkEnd are on the absolute timeline of the source video.
type TranscribePayload struct {
	ChunkIndex  int     `json:"chunk_index"`
	ChunkURL    string  `json:"chunk_url"`
	ChunkStart  float64 `json:"chunk_start"`
	ChunkEnd    float64 `json:"chunk_end"`
	Language    string  `json:"language,omitempty"`
	CaptionMode string  `json:"caption_mode"`
}

// TranscribeResult carries the absolute-timeline transcript of one chunk.
type TranscribeResult struct {
	ChunkIndex    int                 `json:"chunk_index"`
	Segments      []TranscriptSegment `json:"segments"`
	Language      string              `json:"language"`
	Provider      string              `json:"provider"`
	TranscriptURL string              `json:"transcript_url"`
}

// PreviewPayload is the input for a generate_preview job. Segments are
// absolute-timeline; the processor re-derives chunk-relative time before
// synthesizing captions.
type PreviewPayload struct {
	ChunkIndex  int                 `json:"chunk_index"`
	ChunkURL    string              `json:"chunk_url"`
	Segments    []TranscriptSegment `json:"segments"`
	StyleID     string              `json:"style_id"`
	CaptionMode string              `json:"caption_mode"`
}

// PreviewResult carries the rendered preview locations.
type PreviewResult struct {
	ChunkIndex   int    `json:"chunk_index"`
	PreviewURL   string `json:"preview_url"`
	ThumbnailURL string `json:"thumbnail_url"`
}

// RenderPayload is the input for a render_final job. Segments come from all
// chunks, already absolute-timeline, possibly unsorted.
type RenderPayload struct {
	VideoURL    string              `json:"video_url"`
	Segments    []TranscriptSegment `json:"segments"`
	StyleID     string              `json:"style_id"`
	CaptionMode string              `json:"caption_mode"`
}

// RenderResult describes the final captioned video.
type RenderResult struct {
	OutputURL string  `json:"output_url"`
	Duration  float64 `json:"duration"`
	Size      int64   `json:"size"`
}

// NewJobRequest builds a request with a serialized payload.
func NewJobRequest(jobID string, kind JobKind, sessionID string, payload any) (*JobRequest, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &JobRequest{
		JobID:     jobID,
		Kind:      kind,
		SessionID: sessionID,
		CreatedAt: time.Now(),
		Payload:   raw,
	}, nil
}

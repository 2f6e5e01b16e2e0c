package models

import (
	"sort"
	"time"
)

// SessionStatus tracks a session through the pipeline. Transitions are
// strictly forward; the coordinator is the only writer.
type SessionStatus string

const (
	SessionPending        SessionStatus = "pending"
	SessionChunking       SessionStatus = "chunking"
	SessionTranscribing   SessionStatus = "transcribing"
	SessionStyleSelection SessionStatus = "style_selection"
	SessionReviewing      SessionStatus = "reviewing"
	SessionRendering      SessionStatus = "rendering"
	SessionCompleted      SessionStatus = "completed"
	SessionFailed         SessionStatus = "failed"
	SessionCancelled      SessionStatus = "cancelled"
)

// CaptionMode selects word-level or sentence-level cues.
type CaptionMode string

const (
	ModeWord     CaptionMode = "word"
	ModeSentence CaptionMode = "sentence"
)

// Session is the externally persisted pipeline record for one video.
type Session struct {
	ID                string        `json:"id"`
	Status            SessionStatus `json:"status"`
	SourceVideoURL    string        `json:"source_video_url"`
	StoredVideoURL    string        `json:"stored_video_url"`
	OutputVideoURL    string        `json:"output_video_url"`
	Duration          float64       `json:"duration"`
	Width             int           `json:"width"`
	Height            int           `json:"height"`
	SelectedStyleID   string        `json:"selected_style_id"`
	CaptionMode       CaptionMode   `json:"caption_mode"`
	Language          string        `json:"language"`
	CurrentChunkIndex int           `json:"current_chunk_index"`
	TotalChunks       int           `json:"total_chunks"`
	Error             string        `json:"error,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// ChunkStatus tracks one chunk through transcription and review.
type ChunkStatus string

const (
	ChunkPending           ChunkStatus = "pending"
	ChunkTranscribing      ChunkStatus = "transcribing"
	ChunkTranscribed       ChunkStatus = "transcribed"
	ChunkGeneratingPreview ChunkStatus = "generating_preview"
	ChunkPreviewReady      ChunkStatus = "preview_ready"
	ChunkApproved          ChunkStatus = "approved"
	ChunkRejected          ChunkStatus = "rejected"
	ChunkReprocessing      ChunkStatus = "reprocessing"
)

// Chunk is one fixed-duration slice of the source video, keyed by
// (SessionID, Index). Transcript timestamps are absolute-timeline.
type Chunk struct {
	SessionID      string              `json:"session_id"`
	Index          int                 `json:"index"`
	SourceURL      string              `json:"source_url"`
	Start          float64             `json:"start"`
	End            float64             `json:"end"`
	Status         ChunkStatus         `json:"status"`
	Transcript     []TranscriptSegment `json:"transcript,omitempty"`
	PreviewURL     string              `json:"preview_url,omitempty"`
	ThumbnailURL   string              `json:"thumbnail_url,omitempty"`
	Approved       bool                `json:"approved"`
	ReprocessCount int                 `json:"reprocess_count"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// TranscriptSegment is one timed span of recognized speech. Start/End are
// seconds on the absolute timeline of the full source video; end >= start.
type TranscriptSegment struct {
	Index int     `json:"index"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// ShiftSegments returns a copy of segs with every timestamp moved by offset.
// Shifting by -MinStart(segs) converts absolute-timeline segments to
// chunk-relative ones; shifting back reproduces the original values.
func ShiftSegments(segs []TranscriptSegment, offset float64) []TranscriptSegment {
	out := make([]TranscriptSegment, len(segs))
	for i, s := range segs {
		s.Start += offset
		s.End += offset
		out[i] = s
	}
	return out
}

// MinStart returns the smallest segment start, or 0 for an empty list.
func MinStart(segs []TranscriptSegment) float64 {
	if len(segs) == 0 {
		return 0
	}
	min := segs[0].Start
	for _, s := range segs[1:] {
		if s.Start < min {
			min = s.Start
		}
	}
	return min
}

// SortSegments orders segments by start time and renumbers their indices.
func SortSegments(segs []TranscriptSegment) {
	sort.SliceStable(segs, func(i, j int) bool { return segs[i].Start < segs[j].Start })
	for i := range segs {
		segs[i].Index = i
	}
}

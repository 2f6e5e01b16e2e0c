package captions

import (
	"fmt"
	"strings"

	"github.com/z-wentao/capflow/pkg/models"
)

const (
	// timestampOffset compensates for the systematic late bias in provider
	// speech timestamps.
	timestampOffset = -0.2
	// minCueDuration is the floor a cue can be clamped down to.
	minCueDuration = 0.1
	// referenceHeight is the frame height font sizes are authored against.
	referenceHeight = 1080.0
)

// Cue is one timed subtitle entry. Ephemeral: cues exist only between
// synthesis and the subtitle document writer, never persisted.
type Cue struct {
	Start float64
	End   float64
	Text  string
}

// Engine converts timed transcript segments plus a style descriptor into an
// ASS subtitle document.
type Engine struct{}

// NewEngine creates a caption synthesis engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Synthesize builds a complete subtitle document for the given segments.
// Segment timestamps are taken verbatim on whatever timeline the caller
// supplies; converting absolute-timeline transcripts to chunk-relative time
// is the caller's job.
func (e *Engine) Synthesize(segments []models.TranscriptSegment, style models.CaptionStyle, frameWidth, frameHeight int, mode models.CaptionMode) (string, error) {
	if frameWidth <= 0 || frameHeight <= 0 {
		return "", fmt.Errorf("invalid frame dimensions %dx%d", frameWidth, frameHeight)
	}

	adjusted := applyOffset(segments)

	var cues []Cue
	switch mode {
	case models.ModeWord:
		cues = wordCues(adjusted)
	case models.ModeSentence, "":
		cues = sentenceCues(adjusted)
	default:
		return "", fmt.Errorf("unknown caption mode: %s", mode)
	}

	scaled := scaleStyle(style, frameHeight)
	return renderASS(cues, scaled, frameWidth, frameHeight), nil
}

// applyOffset shifts every segment earlier by the fixed correction, clamping
// so that start >= 0 and end >= start + the minimum cue duration.
func applyOffset(segments []models.TranscriptSegment) []models.TranscriptSegment {
	out := make([]models.TranscriptSegment, len(segments))
	for i, seg := range segments {
		seg.Start += timestampOffset
		seg.End += timestampOffset
		if seg.Start < 0 {
			seg.Start = 0
		}
		if seg.End < seg.Start+minCueDuration {
			seg.End = seg.Start + minCueDuration
		}
		out[i] = seg
	}
	return out
}

// sentenceCues emits one cue per segment, text verbatim.
func sentenceCues(segments []models.TranscriptSegment) []Cue {
	cues := make([]Cue, 0, len(segments))
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		cues = append(cues, Cue{Start: seg.Start, End: seg.End, Text: text})
	}
	return cues
}

// wordCues splits each segment on whitespace and divides its duration evenly
// across the words, producing contiguous, non-overlapping cues. Even division
// is a deliberate simplification: when the selected provider supplies real
// per-word timestamps the transcript already arrives word-granular and each
// segment holds a single word.
func wordCues(segments []models.TranscriptSegment) []Cue {
	var cues []Cue
	for _, seg := range segments {
		words := strings.Fields(seg.Text)
		if len(words) == 0 {
			continue
		}
		total := seg.End - seg.Start
		per := total / float64(len(words))
		for i, w := range words {
			start := seg.Start + float64(i)*per
			end := seg.Start + float64(i+1)*per
			if i == len(words)-1 {
				end = seg.End
			}
			cues = append(cues, Cue{Start: start, End: end, Text: w})
		}
	}
	return cues
}

// scaleStyle resizes font and margins for the actual frame height relative
// to the 1080p reference the catalog is authored against.
func scaleStyle(style models.CaptionStyle, frameHeight int) models.CaptionStyle {
	factor := float64(frameHeight) / referenceHeight
	scaled := style
	scaled.FontSize = int(float64(style.FontSize) * factor)
	if scaled.FontSize < 8 {
		scaled.FontSize = 8
	}
	scaled.Outline = style.Outline * factor
	return scaled
}

// escapeText neutralizes characters that are structural in ASS dialogue.
func escapeText(text string) string {
	text = strings.ReplaceAll(text, `\`, `\\`)
	text = strings.ReplaceAll(text, "{", `\{`)
	text = strings.ReplaceAll(text, "}", `\}`)
	text = strings.ReplaceAll(text, "\r\n", `\N`)
	text = strings.ReplaceAll(text, "\n", `\N`)
	return text
}

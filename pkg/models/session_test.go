package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShiftSegmentsRoundTrip(t *testing.T) {
	segs := []TranscriptSegment{
		{Index: 0, Start: 0.5, End: 2.0, Text: "a"},
		{Index: 1, Start: 2.0, End: 4.25, Text: "b"},
	}

	shifted := ShiftSegments(segs, 40)
	assert.Equal(t, 40.5, shifted[0].Start)
	assert.Equal(t, 44.25, shifted[1].End)

	// Shifting back reproduces the originals exactly; the additive shift
	// must not accumulate rounding error.
	back := ShiftSegments(shifted, -40)
	assert.Equal(t, segs, back)
}

func TestShiftSegmentsCopies(t *testing.T) {
	segs := []TranscriptSegment{{Start: 1, End: 2, Text: "a"}}
	_ = ShiftSegments(segs, 10)
	assert.Equal(t, 1.0, segs[0].Start, "input must not be mutated")
}

func TestMinStart(t *testing.T) {
	assert.Equal(t, 0.0, MinStart(nil))
	assert.Equal(t, 2.5, MinStart([]TranscriptSegment{
		{Start: 4.0},
		{Start: 2.5},
		{Start: 9.1},
	}))
}

func TestSortSegmentsRenumbers(t *testing.T) {
	segs := []TranscriptSegment{
		{Index: 7, Start: 20.0, Text: "second"},
		{Index: 3, Start: 0.0, Text: "first"},
		{Index: 1, Start: 40.0, Text: "third"},
	}
	SortSegments(segs)

	require.Len(t, segs, 3)
	assert.Equal(t, "first", segs[0].Text)
	assert.Equal(t, "second", segs[1].Text)
	assert.Equal(t, "third", segs[2].Text)
	for i, s := range segs {
		assert.Equal(t, i, s.Index)
	}
}

func TestStyleCatalog(t *testing.T) {
	styles := Styles()
	require.NotEmpty(t, styles)

	seen := map[string]bool{}
	for _, s := range styles {
		assert.False(t, seen[s.ID], "duplicate style id %s", s.ID)
		seen[s.ID] = true

		got, err := StyleByID(s.ID)
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}

	_, err := StyleByID("nope")
	assert.Error(t, err)
}

func TestNewJobRequest(t *testing.T) {
	job, err := NewJobRequest("job-1", KindTranscribeChunk, "sess-1", TranscribePayload{
		ChunkIndex: 2,
		ChunkURL:   "sessions/sess-1/chunks/chunk_002.mp4",
	})
	require.NoError(t, err)

	assert.Equal(t, "job-1", job.JobID)
	assert.Equal(t, KindTranscribeChunk, job.Kind)
	assert.Equal(t, "sess-1", job.SessionID)
	assert.False(t, job.CreatedAt.IsZero())
	assert.Contains(t, string(job.Payload), "chunk_002.mp4")
}

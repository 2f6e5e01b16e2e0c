package media

import "math"

const (
	// DefaultChunkDuration is the target chunk length in seconds.
	DefaultChunkDuration = 20.0
	// MinChunkDuration and MaxChunkDuration bound configurable chunk sizes.
	MinChunkDuration = 5.0
	MaxChunkDuration = 30.0
)

// Interval is one planned chunk on the absolute timeline.
type Interval struct {
	Index int
	Start float64
	End   float64
}

// ClampChunkDuration forces a chunk duration into the supported range,
// substituting the default for non-positive input.
func ClampChunkDuration(d float64) float64 {
	if d <= 0 {
		return DefaultChunkDuration
	}
	if d < MinChunkDuration {
		return MinChunkDuration
	}
	if d > MaxChunkDuration {
		return MaxChunkDuration
	}
	return d
}

// PlanChunks splits [0, duration] into ceil(duration/chunkDuration)
// contiguous, non-overlapping intervals. The final interval carries the
// remainder and is never empty: a duration that divides evenly produces no
// trailing zero-length chunk.
func PlanChunks(duration, chunkDuration float64) []Interval {
	if duration <= 0 {
		return nil
	}
	chunkDuration = ClampChunkDuration(chunkDuration)

	n := int(math.Ceil(duration / chunkDuration))
	intervals := make([]Interval, 0, n)
	for i := 0; i < n; i++ {
		start := float64(i) * chunkDuration
		end := start + chunkDuration
		if end > duration {
			end = duration
		}
		intervals = append(intervals, Interval{Index: i, Start: start, End: end})
	}
	return intervals
}

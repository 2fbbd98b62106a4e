// Package subtitles converts embedded subtitle streams into deliverable
// sidecar formats and builds the segmented HLS view over them.
package subtitles

import (
	"fmt"
)

// TicksPerMs converts between milliseconds and the 100ns ticks used by the
// position window query parameters.
const TicksPerMs = 10_000

// Cue is one subtitle event with absolute timing.
type Cue struct {
	StartMs int64
	EndMs   int64
	Text    string
}

// Track is an ordered list of cues for one stream.
type Track struct {
	Cues []Cue
}

// Window returns the cues that intersect [startMs, endMs). A zero endMs
// means no upper bound.
func (t *Track) Window(startMs, endMs int64) []Cue {
	var out []Cue
	for _, cue := range t.Cues {
		if cue.EndMs <= startMs {
			continue
		}
		if endMs > 0 && cue.StartMs >= endMs {
			continue
		}
		out = append(out, cue)
	}
	return out
}

// formatTimestamp renders milliseconds as HH:MM:SS.mmm.
func formatTimestamp(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	hours := ms / 3_600_000
	minutes := (ms % 3_600_000) / 60_000
	seconds := (ms % 60_000) / 1000
	millis := ms % 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", hours, minutes, seconds, millis)
}

package subtitles

import (
	"fmt"
	"io"
	"strings"
)

// TimestampMapHeader aligns segmented VTT with the MPEG-TS presentation
// clock (90 kHz, zero local offset).
const TimestampMapHeader = "X-TIMESTAMP-MAP=MPEGTS:900000,LOCAL:00:00:00.000"

// VTTOptions controls rendering of one WebVTT document.
type VTTOptions struct {
	// StartTicks/EndTicks window the cues in 100ns ticks. Zero EndTicks
	// means unbounded.
	StartTicks int64
	EndTicks   int64
	// AddTimeMap inserts the HLS timestamp map directly after the WEBVTT
	// header.
	AddTimeMap bool
}

// WriteVTT renders the track as WebVTT.
func WriteVTT(w io.Writer, track *Track, opts VTTOptions) error {
	var b strings.Builder
	b.WriteString("WEBVTT\n")
	if opts.AddTimeMap {
		b.WriteString(TimestampMapHeader)
		b.WriteString("\n")
	}
	b.WriteString("\n")

	startMs := opts.StartTicks / TicksPerMs
	endMs := opts.EndTicks / TicksPerMs

	for _, cue := range track.Window(startMs, endMs) {
		b.WriteString(formatTimestamp(cue.StartMs))
		b.WriteString(" --> ")
		b.WriteString(formatTimestamp(cue.EndMs))
		b.WriteString("\n")
		b.WriteString(cue.Text)
		b.WriteString("\n\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// WriteSRT renders the track as SubRip with numbered cues.
func WriteSRT(w io.Writer, track *Track, startTicks, endTicks int64) error {
	var b strings.Builder

	startMs := startTicks / TicksPerMs
	endMs := endTicks / TicksPerMs

	for i, cue := range track.Window(startMs, endMs) {
		fmt.Fprintf(&b, "%d\n", i+1)
		fmt.Fprintf(&b, "%s --> %s\n",
			srtTimestamp(cue.StartMs), srtTimestamp(cue.EndMs))
		b.WriteString(cue.Text)
		b.WriteString("\n\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func srtTimestamp(ms int64) string {
	return strings.Replace(formatTimestamp(ms), ".", ",", 1)
}

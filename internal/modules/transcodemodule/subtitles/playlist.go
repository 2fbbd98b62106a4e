package subtitles

import (
	"fmt"
	"strings"
)

// BuildPlaylist renders the VOD HLS playlist over a subtitle track, one
// entry per fixed-length window. Every EXTINF carries the real window
// duration with three decimals; the last window's end position lands exactly
// on the media duration.
func BuildPlaylist(durationMs int64, segmentLengthSec int) string {
	if segmentLengthSec <= 0 {
		segmentLengthSec = 10
	}
	segmentMs := int64(segmentLengthSec) * 1000

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", segmentLengthSec)
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
	b.WriteString("#EXT-X-PLAYLIST-TYPE:VOD\n")

	for startMs := int64(0); startMs < durationMs; startMs += segmentMs {
		endMs := startMs + segmentMs
		if endMs > durationMs {
			endMs = durationMs
		}
		fmt.Fprintf(&b, "#EXTINF:%.3f, nodesc\n", float64(endMs-startMs)/1000)
		fmt.Fprintf(&b, "stream.vtt?startPositionTicks=%d&endPositionTicks=%d&addVttTimeMap=true\n",
			startMs*TicksPerMs, endMs*TicksPerMs)
	}

	b.WriteString("#EXT-X-ENDLIST\n")
	return b.String()
}

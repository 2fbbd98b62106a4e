package subtitles

import (
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSRT = `1
00:00:01,000 --> 00:00:02,500
First line

2
00:00:04,250 --> 00:00:06,000
Second line
continues here

3
00:01:00,000 --> 00:01:02,000
Third line
`

const sampleASS = `[Script Info]
Title: sample

[Events]
Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text
Dialogue: 0,0:00:01.00,0:00:02.50,Default,,0,0,0,,{\i1}First{\i0} line
Dialogue: 0,0:00:04.25,0:00:06.00,Default,,0,0,0,,Second\Nsplit
`

func TestParseSRT(t *testing.T) {
	track, err := ParseSRT(strings.NewReader(sampleSRT))
	require.NoError(t, err)
	require.Len(t, track.Cues, 3)

	assert.Equal(t, int64(1000), track.Cues[0].StartMs)
	assert.Equal(t, int64(2500), track.Cues[0].EndMs)
	assert.Equal(t, "First line", track.Cues[0].Text)
	assert.Equal(t, "Second line\ncontinues here", track.Cues[1].Text)
	assert.Equal(t, int64(60_000), track.Cues[2].StartMs)
}

func TestParseSRTStripsByteOrderMark(t *testing.T) {
	track, err := ParseSRT(strings.NewReader("\uFEFF" + sampleSRT))
	require.NoError(t, err)
	require.Len(t, track.Cues, 3)
	assert.Equal(t, int64(1000), track.Cues[0].StartMs)
	assert.Equal(t, "First line", track.Cues[0].Text)
}

func TestParseASS(t *testing.T) {
	track, err := ParseASS(strings.NewReader(sampleASS))
	require.NoError(t, err)
	require.Len(t, track.Cues, 2)

	assert.Equal(t, int64(1000), track.Cues[0].StartMs)
	assert.Equal(t, int64(2500), track.Cues[0].EndMs)
	assert.Equal(t, "First line", track.Cues[0].Text, "override tags dropped")
	assert.Equal(t, "Second\nsplit", track.Cues[1].Text)
}

func TestWriteVTTWithTimeMap(t *testing.T) {
	track, err := ParseSRT(strings.NewReader(sampleSRT))
	require.NoError(t, err)

	var out strings.Builder
	require.NoError(t, WriteVTT(&out, track, VTTOptions{AddTimeMap: true}))

	lines := strings.Split(out.String(), "\n")
	require.GreaterOrEqual(t, len(lines), 2)
	assert.Equal(t, "WEBVTT", lines[0])
	assert.Equal(t, "X-TIMESTAMP-MAP=MPEGTS:900000,LOCAL:00:00:00.000", lines[1])
	assert.Contains(t, out.String(), "00:00:01.000 --> 00:00:02.500")
	assert.Contains(t, out.String(), "00:01:00.000 --> 00:01:02.000")
}

func TestWriteVTTWindow(t *testing.T) {
	track, err := ParseSRT(strings.NewReader(sampleSRT))
	require.NoError(t, err)

	var out strings.Builder
	require.NoError(t, WriteVTT(&out, track, VTTOptions{
		StartTicks: 0,
		EndTicks:   10_000 * TicksPerMs, // first 10 seconds
	}))

	assert.Contains(t, out.String(), "First line")
	assert.Contains(t, out.String(), "Second line")
	assert.NotContains(t, out.String(), "Third line")
}

func TestWriteSRTRoundTrip(t *testing.T) {
	track, err := ParseSRT(strings.NewReader(sampleSRT))
	require.NoError(t, err)

	var out strings.Builder
	require.NoError(t, WriteSRT(&out, track, 0, 0))

	again, err := ParseSRT(strings.NewReader(out.String()))
	require.NoError(t, err)
	require.Len(t, again.Cues, 3)
	assert.Equal(t, track.Cues[0], again.Cues[0])
	assert.Equal(t, track.Cues[2], again.Cues[2])
}

func TestBuildPlaylistDurations(t *testing.T) {
	const durationMs = 95_500
	const segmentLen = 10

	playlist := BuildPlaylist(durationMs, segmentLen)
	lines := strings.Split(strings.TrimSpace(playlist), "\n")

	assert.Equal(t, "#EXTM3U", lines[0])
	assert.Equal(t, "#EXT-X-ENDLIST", lines[len(lines)-1])
	assert.Contains(t, playlist, "#EXT-X-PLAYLIST-TYPE:VOD")
	assert.Contains(t, playlist, fmt.Sprintf("#EXT-X-TARGETDURATION:%d", segmentLen))

	var sumMs int64
	var lastEndTicks int64
	for i, line := range lines {
		if !strings.HasPrefix(line, "#EXTINF:") {
			continue
		}
		value := strings.TrimSuffix(strings.TrimPrefix(line, "#EXTINF:"), ", nodesc")
		seconds, err := strconv.ParseFloat(value, 64)
		require.NoError(t, err)
		sumMs += int64(seconds * 1000)

		uri := lines[i+1]
		idx := strings.Index(uri, "endPositionTicks=")
		require.GreaterOrEqual(t, idx, 0)
		end := uri[idx+len("endPositionTicks="):]
		if amp := strings.Index(end, "&"); amp >= 0 {
			end = end[:amp]
		}
		lastEndTicks, err = strconv.ParseInt(end, 10, 64)
		require.NoError(t, err)
	}

	assert.Equal(t, int64(durationMs), sumMs, "EXTINF durations sum to the media duration")
	assert.Equal(t, int64(durationMs)*TicksPerMs, lastEndTicks, "last window ends at the total duration")
	assert.Contains(t, playlist, "#EXTINF:5.500, nodesc", "short tail window keeps its real duration")
	assert.Contains(t, playlist, "addVttTimeMap=true")
}

func TestWindowBounds(t *testing.T) {
	track := &Track{Cues: []Cue{
		{StartMs: 0, EndMs: 1000, Text: "a"},
		{StartMs: 1000, EndMs: 2000, Text: "b"},
		{StartMs: 2000, EndMs: 3000, Text: "c"},
	}}

	window := track.Window(1000, 2000)
	require.Len(t, window, 1)
	assert.Equal(t, "b", window[0].Text)

	all := track.Window(0, 0)
	assert.Len(t, all, 3)
}

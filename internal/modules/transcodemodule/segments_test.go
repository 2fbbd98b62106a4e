package transcodemodule

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSegmentIndex(t *testing.T) {
	tests := []struct {
		name  string
		index int
		ok    bool
	}{
		{"chunk-stream0-00042.m4s", 42, true},
		{"chunk-stream0-00003.m4s", 3, true},
		{"chunk-stream1-12345.m4s", 12345, true},
		{"segment-7", 7, true},
		{"init-stream0.mp4", 0, true}, // "-0" suffix parses; init is filtered earlier
		{"manifest.mpd", 0, false},
		{"chunk.m4s", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		index, ok := ParseSegmentIndex(tt.name)
		assert.Equal(t, tt.ok, ok, tt.name)
		if tt.ok {
			assert.Equal(t, tt.index, index, tt.name)
		}
	}
}

func TestSegmentRoundTrip(t *testing.T) {
	for _, want := range []int{0, 1, 7, 41, 99999} {
		name := fmt.Sprintf("chunk-stream0-%05d.m4s", want)
		got, ok := ParseSegmentIndex(name)
		assert.True(t, ok, name)
		assert.Equal(t, want, got, name)
	}
}

func TestValidSegmentName(t *testing.T) {
	assert.True(t, ValidSegmentName("chunk-stream0-00001.m4s"))
	assert.True(t, ValidSegmentName("init-stream0.mp4"))
	assert.True(t, ValidSegmentName("manifest.mpd"))

	assert.False(t, ValidSegmentName("../../../etc/passwd"))
	assert.False(t, ValidSegmentName("a/b.m4s"))
	assert.False(t, ValidSegmentName(`a\b.m4s`))
	assert.False(t, ValidSegmentName("chunk..m4s"))
	assert.False(t, ValidSegmentName(""))
}

func TestShouldRestartPolicy(t *testing.T) {
	const threshold = 6

	// Behind the encoder: always restart.
	assert.True(t, ShouldRestart(3, 12, threshold))
	// Far ahead: restart rather than wait.
	assert.True(t, ShouldRestart(30, 12, threshold))
	// Just ahead within the window: wait.
	assert.False(t, ShouldRestart(14, 12, threshold))
	// Exactly at the threshold boundary: still wait.
	assert.False(t, ShouldRestart(18, 12, threshold))
	assert.True(t, ShouldRestart(19, 12, threshold))
	// Exactly at the production point: wait.
	assert.False(t, ShouldRestart(12, 12, threshold))
	// Unknown production point: restart.
	assert.True(t, ShouldRestart(5, UnknownSegment, threshold))
}

func TestShouldRestartExhaustive(t *testing.T) {
	const threshold = 6
	for requested := 0; requested < 40; requested++ {
		for current := -1; current < 40; current++ {
			want := current == UnknownSegment ||
				requested < current ||
				requested-current > threshold
			got := ShouldRestart(requested, current, threshold)
			assert.Equal(t, want, got, "requested=%d current=%d", requested, current)
		}
	}
}

func TestJobStateTransitions(t *testing.T) {
	assert.True(t, canTransition(JobStateStarting, JobStateRunning))
	assert.True(t, canTransition(JobStateRunning, JobStateFailed))
	assert.True(t, canTransition(JobStatePaused, JobStateRunning))
	assert.True(t, canTransition(JobStateRunning, JobStateFinished))

	assert.False(t, canTransition(JobStateFinished, JobStateRunning))
	assert.False(t, canTransition(JobStateFailed, JobStateRunning))
	assert.False(t, canTransition(JobStateStarting, JobStatePaused))

	assert.True(t, JobStateFailed.Terminal())
	assert.True(t, JobStateFinished.Terminal())
	assert.False(t, JobStateRunning.Terminal())
}

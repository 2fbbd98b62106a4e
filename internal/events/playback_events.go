package events

import (
	"fmt"
	"time"
)

// Typed constructors for events the playback core publishes.

// NewPlaybackEvent creates a session lifecycle event.
func NewPlaybackEvent(eventType EventType, sessionID, itemID string) Event {
	return Event{
		Type:     eventType,
		Source:   "module:playback",
		Title:    "Playback",
		Message:  fmt.Sprintf("Session %s %s", sessionID, string(eventType)),
		Priority: PriorityNormal,
		Tags:     []string{"playback", "session"},
		Data: map[string]interface{}{
			"session_id": sessionID,
			"item_id":    itemID,
		},
		Timestamp: time.Now(),
	}
}

// NewPlaybackProgressData describes a heartbeat's progress payload.
func NewPlaybackProgressEvent(sessionID, itemID string, playheadMs int64, state string) Event {
	event := NewPlaybackEvent(EventPlaybackProgress, sessionID, itemID)
	event.Priority = PriorityLow
	event.Data["playhead_ms"] = playheadMs
	event.Data["state"] = state
	return event
}

// NewTranscodeEvent creates a transcode job event.
func NewTranscodeEvent(eventType EventType, jobID, partID, status string) Event {
	return Event{
		Type:     eventType,
		Source:   "module:transcode",
		Title:    "Transcode",
		Message:  fmt.Sprintf("Transcode %s for part %s", status, partID),
		Priority: PriorityNormal,
		Tags:     []string{"transcode", status},
		Data: map[string]interface{}{
			"job_id":  jobID,
			"part_id": partID,
			"status":  status,
		},
		Timestamp: time.Now(),
	}
}

// NewSegmentReadyEvent announces a materialized segment.
func NewSegmentReadyEvent(jobID string, segmentIndex int, segmentPath string, durationSec float64) Event {
	return Event{
		Type:     EventSegmentReady,
		Source:   "module:transcode",
		Title:    "Segment Ready",
		Message:  fmt.Sprintf("Segment %d ready for job %s", segmentIndex, jobID),
		Priority: PriorityLow,
		Tags:     []string{"transcode", "segment"},
		Data: map[string]interface{}{
			"job_id":        jobID,
			"segment_index": segmentIndex,
			"segment_path":  segmentPath,
			"duration":      durationSec,
		},
		Timestamp: time.Now(),
	}
}

// NewGeneratorEvent creates a playlist generator lifecycle event.
func NewGeneratorEvent(eventType EventType, generatorID, sessionID string) Event {
	return Event{
		Type:     eventType,
		Source:   "module:playback",
		Title:    "Playlist Generator",
		Message:  fmt.Sprintf("Generator %s for session %s", generatorID, sessionID),
		Priority: PriorityLow,
		Tags:     []string{"playlist", "generator"},
		Data: map[string]interface{}{
			"generator_id": generatorID,
			"session_id":   sessionID,
		},
		Timestamp: time.Now(),
	}
}

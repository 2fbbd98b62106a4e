// Package events provides the in-process event bus the playback core
// publishes to. Real-time delivery to clients is an external collaborator;
// the websocket bridge here only exposes the bus to observers.
package events

import (
	"time"
)

// EventType represents the type of event
type EventType string

const (
	// Playback session events
	EventPlaybackStarted  EventType = "playback.started"
	EventPlaybackResumed  EventType = "playback.resumed"
	EventPlaybackProgress EventType = "playback.progress"
	EventPlaybackStopped  EventType = "playback.stopped"
	EventPlaybackAdvanced EventType = "playback.advanced"

	// Transcode job events
	EventTranscodeStarted   EventType = "transcode.started"
	EventTranscodeFailed    EventType = "transcode.failed"
	EventTranscodeEvicted   EventType = "transcode.evicted"
	EventSegmentReady       EventType = "transcode.segment.ready"
	EventManifestUpdated    EventType = "transcode.manifest.updated"
	EventTranscodeRestarted EventType = "transcode.restarted"

	// Playlist generator events
	EventGeneratorCreated EventType = "playlist.generator.created"
	EventGeneratorExpired EventType = "playlist.generator.expired"

	// System events
	EventSystemStarted EventType = "system.started"
	EventSystemStopped EventType = "system.stopped"
)

// EventPriority represents the priority level of an event
type EventPriority int

const (
	PriorityLow      EventPriority = 1
	PriorityNormal   EventPriority = 5
	PriorityHigh     EventPriority = 10
	PriorityCritical EventPriority = 20
)

// Event represents a system event
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Source    string                 `json:"source"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data"`
	Priority  EventPriority          `json:"priority"`
	Tags      []string               `json:"tags"`
	Timestamp time.Time              `json:"timestamp"`
}

// EventHandler handles a delivered event.
type EventHandler func(event Event) error

// EventFilter selects which events a subscription receives. Empty fields
// match everything.
type EventFilter struct {
	Types   []EventType `json:"types,omitempty"`
	Sources []string    `json:"sources,omitempty"`
	Tags    []string    `json:"tags,omitempty"`
}

// Subscription represents an event subscription
type Subscription struct {
	ID         string       `json:"id"`
	Filter     EventFilter  `json:"filter"`
	Handler    EventHandler `json:"-"`
	Subscriber string       `json:"subscriber"`
	Created    time.Time    `json:"created"`
}

// Matches reports whether the event passes the filter.
func (f EventFilter) Matches(event Event) bool {
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if event.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(f.Sources) > 0 {
		found := false
		for _, s := range f.Sources {
			if event.Source == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(f.Tags) > 0 {
		found := false
		for _, ft := range f.Tags {
			for _, et := range event.Tags {
				if et == ft {
					found = true
					break
				}
			}
			if found {
				break
			}
		}
		if !found {
			return false
		}
	}

	return true
}

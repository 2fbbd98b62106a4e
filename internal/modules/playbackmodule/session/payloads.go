package session

import (
	"encoding/json"

	"github.com/lumira-media/lumira/internal/modules/playbackmodule/capabilities"
	"github.com/lumira-media/lumira/internal/modules/playbackmodule/planner"
	"github.com/lumira-media/lumira/internal/modules/playbackmodule/playlist"
)

// Decide actions. The client acts on exactly one per decision point.
const (
	ActionContinue = "continue"
	ActionStop     = "stop"
	ActionPrompt   = "prompt"
	ActionRefresh  = "refresh"
)

// Decide statuses the client reports.
const (
	StatusEnded   = "ended"
	StatusPlaying = "playing"
	StatusJump    = "jump"
)

// StartRequest begins a new session from a seed.
type StartRequest struct {
	UserID   string `json:"userId"`
	DeviceID string `json:"deviceId,omitempty"`

	Seed *playlist.Seed `json:"seed"`

	// Capabilities is optional; absent means plan against the stored head
	// (or the conservative default for a fresh session).
	Capabilities *capabilities.Declaration `json:"capabilities,omitempty"`
	// CapabilityVersion below zero means the client sent none.
	CapabilityVersion int `json:"capabilityVersion"`

	// Stream selection. Negative means automatic.
	AudioStreamIndex    int `json:"audioStreamIndex"`
	SubtitleStreamIndex int `json:"subtitleStreamIndex"`

	Originator string          `json:"originator,omitempty"`
	Context    json.RawMessage `json:"context,omitempty"`
}

// ItemPayload describes the item a payload points at.
type ItemPayload struct {
	ItemID      string `json:"itemId"`
	Title       string `json:"title"`
	ParentTitle string `json:"parentTitle,omitempty"`
	DurationMs  int64  `json:"durationMs"`
	ThumbPath   string `json:"thumbPath,omitempty"`
	Index       int    `json:"index"`
}

// PlayPayload is the response to start, resume and advancing decisions.
type PlayPayload struct {
	SessionID   string `json:"sessionId"`
	GeneratorID string `json:"generatorId"`

	Item       ItemPayload `json:"item"`
	TotalCount int         `json:"totalCount"`
	Shuffle    bool        `json:"shuffle"`
	Repeat     bool        `json:"repeat"`

	// Plan is nil for items that need no planning (images); PlaybackURL is
	// authoritative either way.
	Plan        *planner.StreamPlan `json:"plan,omitempty"`
	PlaybackURL string              `json:"playbackUrl"`

	TrickplayURL     string `json:"trickplayUrl,omitempty"`
	ResumePositionMs int64  `json:"resumePositionMs,omitempty"`

	CapabilityVersion         int  `json:"capabilityVersion"`
	CapabilityVersionMismatch bool `json:"capabilityVersionMismatch"`

	HeartbeatIntervalSeconds int `json:"heartbeatIntervalSeconds"`
}

// HeartbeatRequest refreshes the session's sliding expiry and records
// progress.
type HeartbeatRequest struct {
	PlayheadMs int64  `json:"playheadMs"`
	State      string `json:"state"`

	Capabilities      *capabilities.Declaration `json:"capabilities,omitempty"`
	CapabilityVersion int                       `json:"capabilityVersion"`
}

// HeartbeatPayload acknowledges a heartbeat.
type HeartbeatPayload struct {
	CapabilityVersion         int    `json:"capabilityVersion"`
	CapabilityVersionMismatch bool   `json:"capabilityVersionMismatch"`
	ExpiresAt                 string `json:"expiresAt"`
	HeartbeatIntervalSeconds  int    `json:"heartbeatIntervalSeconds"`
}

// DecideRequest asks the server what to do at a decision point.
type DecideRequest struct {
	Status string `json:"status"`
	// JumpIndex targets a permuted position when Status is "jump".
	JumpIndex int `json:"jumpIndex"`

	PlayheadMs        int64 `json:"playheadMs"`
	CapabilityVersion int   `json:"capabilityVersion"`
}

// DecidePayload carries the action and, when the action is continue or
// prompt, the next item's play payload.
type DecidePayload struct {
	Action string       `json:"action"`
	Next   *PlayPayload `json:"next,omitempty"`

	CapabilityVersion         int  `json:"capabilityVersion"`
	CapabilityVersionMismatch bool `json:"capabilityVersionMismatch"`
}

// SeekRequest asks where playback would actually land for a target.
// PartID is optional; when set it must match the session's current part.
type SeekRequest struct {
	TargetMs int64  `json:"targetMs"`
	PartID   string `json:"partId,omitempty"`
}

// SeekPayload is keyframe-snapped seek info. The encoder is not touched;
// the client applies the offset through its manifest request.
type SeekPayload struct {
	KeyframeMs       int64 `json:"keyframeMs"`
	GopDurationMs    int64 `json:"gopDurationMs"`
	HasGopIndex      bool  `json:"hasGopIndex"`
	OriginalTargetMs int64 `json:"originalTargetMs"`
}

// StopRequest finalizes the session with its last playhead.
type StopRequest struct {
	PlayheadMs int64 `json:"playheadMs"`
}

// ModesRequest toggles shuffle or repeat. Nil leaves a mode untouched.
type ModesRequest struct {
	Shuffle *bool `json:"shuffle,omitempty"`
	Repeat  *bool `json:"repeat,omitempty"`
}

// Package session orchestrates playback sessions: start, resume, heartbeat,
// decision points, seeks and teardown. All per-session state lives in the
// database; the orchestrator only holds locks.
package session

import (
	"time"
)

// Session lifecycle states.
const (
	StatePlaying   = "playing"
	StatePaused    = "paused"
	StateBuffering = "buffering"
	StateEnded     = "ended"
	StateFailed    = "failed"
)

// PlaybackSession is the persisted session row. Expiry slides with every
// heartbeat; expired rows are collected by the sweeper, not on read.
type PlaybackSession struct {
	ID       string `gorm:"primaryKey;size:36" json:"id"`
	UserID   string `gorm:"size:36;index" json:"user_id"`
	DeviceID string `gorm:"size:100" json:"device_id"`

	GeneratorID string `gorm:"size:36" json:"generator_id"`

	CurrentItemID string `gorm:"size:36" json:"current_item_id"`
	// CurrentPartID is empty for items without a media part (images).
	CurrentPartID string `gorm:"size:36" json:"current_part_id,omitempty"`

	CapabilityVersion int `json:"capability_version"`

	PlayheadMs int64  `json:"playhead_ms"`
	State      string `gorm:"size:20;index" json:"state"`

	// AutoAdvances counts consecutive generator advances without a user
	// interaction; the decide operation prompts past the limit.
	AutoAdvances int `json:"auto_advances"`

	// Originator names the surface that started the session (web, tv, voice).
	Originator  string `gorm:"size:50" json:"originator,omitempty"`
	ContextJSON string `gorm:"type:json" json:"-"`

	LastHeartbeat time.Time `json:"last_heartbeat"`
	ExpiresAt     time.Time `gorm:"index" json:"expires_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (PlaybackSession) TableName() string { return "playback_sessions" }

// Expired reports whether the session's sliding window has lapsed.
func (s *PlaybackSession) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

func validState(state string) bool {
	switch state {
	case StatePlaying, StatePaused, StateBuffering, StateEnded:
		return true
	default:
		return false
	}
}

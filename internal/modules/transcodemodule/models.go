// Package transcodemodule owns the live encoder jobs behind DASH/HLS
// playback: per-part workers, segment directories, the LRU job cache and the
// smart-segment serving policy.
package transcodemodule

import (
	"time"
)

// JobState is the lifecycle state of one transcode job.
type JobState string

const (
	JobStateStarting JobState = "Starting"
	JobStateRunning  JobState = "Running"
	JobStatePaused   JobState = "Paused"
	JobStateFinished JobState = "Finished"
	JobStateFailed   JobState = "Failed"
)

// jobTransitions is the allowed state graph. Finished and Failed are
// terminal; entries in either are LRU-evictable regardless of pings.
var jobTransitions = map[JobState][]JobState{
	JobStateStarting: {JobStateRunning, JobStateFailed},
	JobStateRunning:  {JobStatePaused, JobStateFinished, JobStateFailed},
	JobStatePaused:   {JobStateRunning, JobStateFinished, JobStateFailed},
	JobStateFinished: {},
	JobStateFailed:   {},
}

func canTransition(from, to JobState) bool {
	for _, allowed := range jobTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the state accepts no further transitions.
func (s JobState) Terminal() bool {
	return s == JobStateFinished || s == JobStateFailed
}

// JobRecord is the persisted view of a job, kept for observability and
// startup cleanup. The runtime Job in the manager is authoritative while the
// process lives.
type JobRecord struct {
	ID         string   `gorm:"primaryKey;size:36" json:"id"`
	SessionID  string   `gorm:"size:36;index" json:"session_id"`
	PartID     string   `gorm:"size:36;index" json:"part_id"`
	VariantKey string   `gorm:"size:32" json:"variant_key"`
	Protocol   string   `gorm:"size:10" json:"protocol"`
	State      JobState `gorm:"size:10;index" json:"state"`
	OutputDir  string   `gorm:"size:500" json:"output_dir"`

	ErrorMessage   string    `gorm:"size:1000" json:"error_message,omitempty"`
	LastPingAt     time.Time `gorm:"index" json:"last_ping_at"`
	CurrentSegment int       `json:"current_segment"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (JobRecord) TableName() string { return "transcode_jobs" }

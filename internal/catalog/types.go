// Package catalog exposes the library lookup surface the playback core
// consumes. Scanning and metadata extraction populate these tables elsewhere;
// the core treats them as read-mostly.
package catalog

import (
	"time"
)

// Item types recognized by playlist seeds.
const (
	ItemTypeMovie      = "movie"
	ItemTypeEpisode    = "episode"
	ItemTypeSeason     = "season"
	ItemTypeShow       = "show"
	ItemTypeTrack      = "track"
	ItemTypeAlbum      = "album"
	ItemTypeArtist     = "artist"
	ItemTypeImage      = "image"
	ItemTypeCollection = "collection"
)

// Stream types within a media part.
const (
	StreamTypeVideo    = "video"
	StreamTypeAudio    = "audio"
	StreamTypeSubtitle = "subtitle"
)

// LibraryItem is a playable or container entry in the library.
type LibraryItem struct {
	ID          string `gorm:"primaryKey;size:36" json:"id"`
	LibraryID   string `gorm:"size:36;index" json:"library_id"`
	ParentID    string `gorm:"size:36;index" json:"parent_id,omitempty"`
	Type        string `gorm:"size:20;index" json:"type"`
	Title       string `gorm:"size:500" json:"title"`
	ParentTitle string `gorm:"size:500" json:"parent_title,omitempty"`
	SortIndex   int    `gorm:"index" json:"sort_index"`
	DurationMs  int64  `json:"duration_ms"`
	ThumbPath   string `gorm:"size:500" json:"thumb_path,omitempty"`

	// TrickplayPath points at a pre-generated sprite/WebVTT pair when the
	// asset pipeline has produced one.
	TrickplayPath string `gorm:"size:500" json:"trickplay_path,omitempty"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// MediaPart is one physical file backing an item.
type MediaPart struct {
	ID         string `gorm:"primaryKey;size:36" json:"id"`
	ItemID     string `gorm:"size:36;index" json:"item_id"`
	Path       string `gorm:"size:1000" json:"path"`
	Container  string `gorm:"size:20" json:"container"`
	SizeBytes  int64  `json:"size_bytes"`
	DurationMs int64  `json:"duration_ms"`
	BitrateBps int64  `json:"bitrate_bps"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// MediaStream is one elementary stream inside a part.
type MediaStream struct {
	ID         uint    `gorm:"primaryKey" json:"id"`
	PartID     string  `gorm:"size:36;index" json:"part_id"`
	Index      int     `json:"index"`
	Type       string  `gorm:"size:10;index" json:"type"`
	Codec      string  `gorm:"size:50" json:"codec"`
	Profile    string  `gorm:"size:50" json:"profile,omitempty"`
	Level      int     `json:"level,omitempty"`
	BitrateBps int64   `json:"bitrate_bps,omitempty"`
	Width      int     `json:"width,omitempty"`
	Height     int     `json:"height,omitempty"`
	FrameRate  float64 `json:"frame_rate,omitempty"`
	BitDepth   int     `json:"bit_depth,omitempty"`
	ColorSpace string  `gorm:"size:30" json:"color_space,omitempty"`
	RefFrames  int     `json:"ref_frames,omitempty"`
	Channels   int     `json:"channels,omitempty"`
	SampleRate int     `json:"sample_rate,omitempty"`
	Language   string  `gorm:"size:10" json:"language,omitempty"`
	IsDefault  bool    `json:"is_default"`
	IsForced   bool    `json:"is_forced"`
}

// MediaFacts aggregates what the stream planner needs about one part.
type MediaFacts struct {
	Part            MediaPart
	VideoStreams    []MediaStream
	AudioStreams    []MediaStream
	SubtitleStreams []MediaStream
}

// IsHDR reports whether the primary video stream carries an HDR transfer.
func (f *MediaFacts) IsHDR() bool {
	for _, s := range f.VideoStreams {
		switch s.ColorSpace {
		case "bt2020nc", "bt2020c", "smpte2084", "arib-std-b67":
			return true
		}
	}
	return false
}

// PrimaryVideo returns the first video stream, or nil for audio-only parts.
func (f *MediaFacts) PrimaryVideo() *MediaStream {
	if len(f.VideoStreams) == 0 {
		return nil
	}
	return &f.VideoStreams[0]
}

// PrimaryAudio returns the default audio stream, falling back to the first.
func (f *MediaFacts) PrimaryAudio() *MediaStream {
	for i := range f.AudioStreams {
		if f.AudioStreams[i].IsDefault {
			return &f.AudioStreams[i]
		}
	}
	if len(f.AudioStreams) == 0 {
		return nil
	}
	return &f.AudioStreams[0]
}

// FilterSort is the dynamic-seed query expression.
type FilterSort struct {
	Filter map[string]string `json:"filter,omitempty"`
	Sort   string            `json:"sort,omitempty"`
	Desc   bool              `json:"desc,omitempty"`
}

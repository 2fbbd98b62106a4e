// Package playlist materializes an ordered, shuffleable, repeatable cursor
// over library items from a seed and serves paged chunks of it.
package playlist

import (
	"time"
)

// Generator is the persisted cursor state. One generator per session.
type Generator struct {
	ID        string `gorm:"primaryKey;size:36" json:"id"`
	SessionID string `gorm:"size:36;uniqueIndex" json:"session_id"`

	SeedJSON string `gorm:"type:json" json:"-"`

	// Cursor indexes the permuted sequence.
	Cursor int `json:"cursor"`
	// TotalCount is -1 while the full extent of a lazy seed is unknown.
	TotalCount int `json:"total_count"`
	// Materialized counts the rows currently in generator_items.
	Materialized int `json:"materialized"`

	ChunkSize int  `json:"chunk_size"`
	Shuffle   bool `json:"shuffle"`
	Repeat    bool `json:"repeat"`

	// Shuffle permutation state. The permutation is a pure function of
	// (ShuffleSeed, Materialized, AnchorPos, AnchorIndex), so generators
	// reload deterministically.
	ShuffleSeed int64 `json:"shuffle_seed"`
	AnchorPos   int   `json:"anchor_pos"`
	AnchorIndex int   `json:"anchor_index"`
	// BlockShuffle confines the permutation to chunk-sized blocks. Lazy
	// seeds need it: growing the materialization must never reorder
	// positions already dealt.
	BlockShuffle bool `json:"block_shuffle"`

	ExpiresAt time.Time `gorm:"index" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName keeps the table name stable across gorm naming strategies.
func (Generator) TableName() string { return "playlist_generators" }

// GeneratorItem is one materialized entry. SortOrder values stay contiguous
// [0, N); shuffle remaps through the permutation instead of rewriting them.
type GeneratorItem struct {
	ID          uint   `gorm:"primaryKey" json:"-"`
	GeneratorID string `gorm:"size:36;index;uniqueIndex:idx_generator_sort" json:"generator_id"`
	SortOrder   int    `gorm:"uniqueIndex:idx_generator_sort" json:"sort_order"`

	ItemID   string `gorm:"size:36" json:"item_id"`
	ItemType string `gorm:"size:20" json:"item_type"`
	PartID   string `gorm:"size:36" json:"part_id,omitempty"`

	Title       string `gorm:"size:500" json:"title"`
	ParentTitle string `gorm:"size:500" json:"parent_title,omitempty"`
	DurationMs  int64  `json:"duration_ms"`
	ThumbPath   string `gorm:"size:500" json:"thumb_path,omitempty"`

	Served bool   `json:"served"`
	Cohort string `gorm:"size:50" json:"cohort,omitempty"`
}

func (GeneratorItem) TableName() string { return "playlist_generator_items" }

// ItemSnapshot is what navigation and chunk responses carry per item.
type ItemSnapshot struct {
	ItemID      string `json:"itemId"`
	Title       string `json:"title"`
	ParentTitle string `json:"parentTitle,omitempty"`
	DurationMs  int64  `json:"durationMs"`
	ThumbPath   string `json:"thumbPath,omitempty"`
	// Index is the position in the permuted sequence.
	Index int `json:"index"`
	// PlaybackURL is precomputed for items that need no planning (images).
	PlaybackURL string `json:"playbackUrl,omitempty"`
}

// NavigateResult reports the cursor after a navigation operation.
type NavigateResult struct {
	GeneratorID string        `json:"generatorId"`
	Ended       bool          `json:"ended"`
	Item        *ItemSnapshot `json:"item,omitempty"`
	Index       int           `json:"index"`
	TotalCount  int           `json:"totalCount"`
	Shuffle     bool          `json:"shuffle"`
	Repeat      bool          `json:"repeat"`
}

// Chunk is one contiguous window of the permuted sequence.
type Chunk struct {
	GeneratorID  string         `json:"generatorId"`
	Items        []ItemSnapshot `json:"items"`
	StartIndex   int            `json:"startIndex"`
	CurrentIndex int            `json:"currentIndex"`
	TotalCount   int            `json:"totalCount"`
	HasMore      bool           `json:"hasMore"`
	Shuffle      bool           `json:"shuffle"`
	Repeat       bool           `json:"repeat"`
}

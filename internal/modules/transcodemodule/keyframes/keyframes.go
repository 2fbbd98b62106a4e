// Package keyframes serves GoP index lookups for seek alignment. The index
// itself is produced by the analysis pipeline; this package only answers
// "nearest keyframe at or before this position".
package keyframes

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"
)

// Index is the persisted GoP index for one media part.
type Index struct {
	PartID        string `gorm:"primaryKey;size:36" json:"part_id"`
	KeyframesJSON string `gorm:"type:json" json:"-"`
	GopDurationMs int64  `json:"gop_duration_ms"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Index) TableName() string { return "keyframe_indexes" }

// SeekInfo is the answer to a seek alignment query.
type SeekInfo struct {
	KeyframeMs       int64 `json:"keyframeMs"`
	GopDurationMs    int64 `json:"gopDurationMs"`
	HasGopIndex      bool  `json:"hasGopIndex"`
	OriginalTargetMs int64 `json:"originalTargetMs"`
}

// Service answers keyframe queries against the persisted index.
type Service struct {
	db     *gorm.DB
	logger hclog.Logger
}

// NewService creates a keyframe lookup service.
func NewService(db *gorm.DB, logger hclog.Logger) *Service {
	return &Service{db: db, logger: logger.Named("keyframes")}
}

// Migrate creates the index table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Index{})
}

// NearestKeyframe returns the latest keyframe at or before targetMs. Without
// an index the target passes through unchanged and HasGopIndex is false, so
// callers seek to the raw position.
func (s *Service) NearestKeyframe(ctx context.Context, partID string, targetMs int64) (*SeekInfo, error) {
	info := &SeekInfo{
		KeyframeMs:       targetMs,
		OriginalTargetMs: targetMs,
	}
	if targetMs < 0 {
		info.KeyframeMs = 0
		info.OriginalTargetMs = 0
		return info, nil
	}

	var row Index
	err := s.db.WithContext(ctx).First(&row, "part_id = ?", partID).Error
	if err == gorm.ErrRecordNotFound {
		return info, nil
	}
	if err != nil {
		return nil, err
	}

	var keyframes []int64
	if err := json.Unmarshal([]byte(row.KeyframesJSON), &keyframes); err != nil {
		s.logger.Warn("corrupt keyframe index, passing seek through",
			"part_id", partID, "error", err)
		return info, nil
	}
	if len(keyframes) == 0 {
		return info, nil
	}

	// First keyframe strictly after the target; the one before it is ours.
	after := sort.Search(len(keyframes), func(i int) bool {
		return keyframes[i] > targetMs
	})
	if after == 0 {
		info.KeyframeMs = keyframes[0]
	} else {
		info.KeyframeMs = keyframes[after-1]
	}
	info.GopDurationMs = row.GopDurationMs
	info.HasGopIndex = true
	return info, nil
}

// Put stores or replaces the index for a part. The analysis pipeline calls
// this after probing; tests seed fixtures through it.
func (s *Service) Put(ctx context.Context, partID string, keyframesMs []int64, gopDurationMs int64) error {
	raw, err := json.Marshal(keyframesMs)
	if err != nil {
		return fmt.Errorf("encode keyframe index: %w", err)
	}
	row := &Index{
		PartID:        partID,
		KeyframesJSON: string(raw),
		GopDurationMs: gopDurationMs,
	}
	return s.db.WithContext(ctx).Save(row).Error
}

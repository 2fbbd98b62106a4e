package catalog

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// Service is the catalog lookup surface consumed by the playback core.
type Service interface {
	// GetItem returns a library item by id.
	GetItem(ctx context.Context, itemID string) (*LibraryItem, error)

	// GetPart returns a media part by id.
	GetPart(ctx context.Context, partID string) (*MediaPart, error)

	// GetFacts returns the planner-facing facts for an item's first part.
	GetFacts(ctx context.Context, itemID string) (*MediaFacts, error)

	// GetFactsForPart returns the planner-facing facts for a specific part.
	GetFactsForPart(ctx context.Context, partID string) (*MediaFacts, error)

	// ListChildren returns the ordered playable descendants of a container
	// item (album tracks, season episodes, show episodes, artist tracks,
	// collection members).
	ListChildren(ctx context.Context, itemID string) ([]LibraryItem, error)

	// ListLibrary returns a page of playable items in a library section,
	// optionally filtered and sorted.
	ListLibrary(ctx context.Context, libraryID string, fs *FilterSort, offset, limit int) ([]LibraryItem, error)

	// CountLibrary returns the total matching ListLibrary, or -1 when the
	// count cannot be computed cheaply.
	CountLibrary(ctx context.Context, libraryID string, fs *FilterSort) (int64, error)

	// GetItems resolves an explicit id list, preserving order; missing ids
	// are skipped.
	GetItems(ctx context.Context, itemIDs []string) ([]LibraryItem, error)
}

// service is the gorm-backed implementation.
type service struct {
	db *gorm.DB
}

// NewService creates a catalog service over the shared database.
func NewService(db *gorm.DB) Service {
	return &service{db: db}
}

// Migrate creates the catalog tables. The scanner owns the data; the core
// only migrates for standalone and test deployments.
func Migrate(db *gorm.DB) error {
	for _, model := range []interface{}{&LibraryItem{}, &MediaPart{}, &MediaStream{}} {
		if err := db.AutoMigrate(model); err != nil {
			return fmt.Errorf("failed to migrate %T: %w", model, err)
		}
	}
	return nil
}

func (s *service) GetItem(ctx context.Context, itemID string) (*LibraryItem, error) {
	var item LibraryItem
	if err := s.db.WithContext(ctx).First(&item, "id = ?", itemID).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *service) GetPart(ctx context.Context, partID string) (*MediaPart, error) {
	var part MediaPart
	if err := s.db.WithContext(ctx).First(&part, "id = ?", partID).Error; err != nil {
		return nil, err
	}
	return &part, nil
}

func (s *service) GetFacts(ctx context.Context, itemID string) (*MediaFacts, error) {
	var part MediaPart
	if err := s.db.WithContext(ctx).
		Where("item_id = ?", itemID).
		Order("id").
		First(&part).Error; err != nil {
		return nil, err
	}
	return s.factsFor(ctx, &part)
}

func (s *service) GetFactsForPart(ctx context.Context, partID string) (*MediaFacts, error) {
	part, err := s.GetPart(ctx, partID)
	if err != nil {
		return nil, err
	}
	return s.factsFor(ctx, part)
}

func (s *service) factsFor(ctx context.Context, part *MediaPart) (*MediaFacts, error) {
	var streams []MediaStream
	if err := s.db.WithContext(ctx).
		Where("part_id = ?", part.ID).
		Order("`index`").
		Find(&streams).Error; err != nil {
		return nil, err
	}

	facts := &MediaFacts{Part: *part}
	for _, stream := range streams {
		switch stream.Type {
		case StreamTypeVideo:
			facts.VideoStreams = append(facts.VideoStreams, stream)
		case StreamTypeAudio:
			facts.AudioStreams = append(facts.AudioStreams, stream)
		case StreamTypeSubtitle:
			facts.SubtitleStreams = append(facts.SubtitleStreams, stream)
		}
	}
	return facts, nil
}

func (s *service) ListChildren(ctx context.Context, itemID string) ([]LibraryItem, error) {
	item, err := s.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}

	var items []LibraryItem
	query := s.db.WithContext(ctx).Order("sort_index, title")

	switch item.Type {
	case ItemTypeShow:
		// Episodes hang off seasons; resolve two levels.
		var seasonIDs []string
		if err := s.db.WithContext(ctx).Model(&LibraryItem{}).
			Where("parent_id = ? AND type = ?", itemID, ItemTypeSeason).
			Order("sort_index").
			Pluck("id", &seasonIDs).Error; err != nil {
			return nil, err
		}
		if len(seasonIDs) == 0 {
			return nil, nil
		}
		err = query.Where("parent_id IN ? AND type = ?", seasonIDs, ItemTypeEpisode).Find(&items).Error
	case ItemTypeArtist:
		var albumIDs []string
		if err := s.db.WithContext(ctx).Model(&LibraryItem{}).
			Where("parent_id = ? AND type = ?", itemID, ItemTypeAlbum).
			Order("sort_index").
			Pluck("id", &albumIDs).Error; err != nil {
			return nil, err
		}
		if len(albumIDs) == 0 {
			return nil, nil
		}
		err = query.Where("parent_id IN ? AND type = ?", albumIDs, ItemTypeTrack).Find(&items).Error
	default:
		err = query.Where("parent_id = ?", itemID).Find(&items).Error
	}
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *service) ListLibrary(ctx context.Context, libraryID string, fs *FilterSort, offset, limit int) ([]LibraryItem, error) {
	query := s.libraryQuery(ctx, libraryID, fs)

	order := "sort_index, title"
	if fs != nil && fs.Sort != "" {
		order = sortColumn(fs.Sort)
		if fs.Desc {
			order += " DESC"
		}
	}

	var items []LibraryItem
	if err := query.Order(order).Offset(offset).Limit(limit).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *service) CountLibrary(ctx context.Context, libraryID string, fs *FilterSort) (int64, error) {
	var count int64
	if err := s.libraryQuery(ctx, libraryID, fs).Count(&count).Error; err != nil {
		return -1, err
	}
	return count, nil
}

func (s *service) GetItems(ctx context.Context, itemIDs []string) ([]LibraryItem, error) {
	if len(itemIDs) == 0 {
		return nil, nil
	}

	var found []LibraryItem
	if err := s.db.WithContext(ctx).Where("id IN ?", itemIDs).Find(&found).Error; err != nil {
		return nil, err
	}

	byID := make(map[string]LibraryItem, len(found))
	for _, item := range found {
		byID[item.ID] = item
	}

	items := make([]LibraryItem, 0, len(itemIDs))
	for _, id := range itemIDs {
		if item, ok := byID[id]; ok {
			items = append(items, item)
		}
	}
	return items, nil
}

func (s *service) libraryQuery(ctx context.Context, libraryID string, fs *FilterSort) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&LibraryItem{}).
		Where("library_id = ?", libraryID).
		Where("type IN ?", []string{ItemTypeMovie, ItemTypeEpisode, ItemTypeTrack, ItemTypeImage})

	if fs != nil {
		for property, value := range fs.Filter {
			switch property {
			case "type", "parent_id", "title":
				query = query.Where(fmt.Sprintf("%s = ?", property), value)
			}
		}
	}
	return query
}

func sortColumn(sort string) string {
	switch sort {
	case "title", "sort_index", "created_at", "duration_ms":
		return sort
	default:
		return "sort_index"
	}
}

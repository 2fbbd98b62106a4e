package playlist

import (
	"encoding/json"
	"fmt"

	"github.com/lumira-media/lumira/internal/catalog"
	"github.com/lumira-media/lumira/internal/errors"
)

// SeedType names how a generator's item sequence is derived.
type SeedType string

const (
	SeedSingle     SeedType = "single"
	SeedAlbum      SeedType = "album"
	SeedSeason     SeedType = "season"
	SeedShow       SeedType = "show"
	SeedArtist     SeedType = "artist"
	SeedLibrary    SeedType = "library"
	SeedExplicit   SeedType = "explicit"
	SeedCollection SeedType = "collection"
	SeedFilter     SeedType = "filter"
)

// containerSeedTypes expand through catalog.ListChildren.
var containerSeedTypes = map[SeedType]bool{
	SeedAlbum:      true,
	SeedSeason:     true,
	SeedShow:       true,
	SeedArtist:     true,
	SeedCollection: true,
}

// Seed describes the item sequence a generator materializes. The order is
// fixed at creation time; later catalog mutations never reorder a live
// generator.
type Seed struct {
	Type SeedType `json:"type"`

	// ItemID is the originator for single and container seeds.
	ItemID string `json:"itemId,omitempty"`
	// ItemIDs is the ordered list for explicit seeds.
	ItemIDs []string `json:"itemIds,omitempty"`
	// LibraryID scopes library and filter seeds.
	LibraryID string `json:"libraryId,omitempty"`
	// Filter applies to filter seeds.
	Filter *catalog.FilterSort `json:"filter,omitempty"`

	StartIndex int  `json:"startIndex,omitempty"`
	Shuffle    bool `json:"shuffle,omitempty"`
	Repeat     bool `json:"repeat,omitempty"`
}

// Validate rejects malformed seeds before any catalog work happens.
func (s *Seed) Validate() error {
	switch s.Type {
	case SeedSingle, SeedAlbum, SeedSeason, SeedShow, SeedArtist, SeedCollection:
		if s.ItemID == "" {
			return errors.InvalidInput(fmt.Sprintf("%s seed requires an item id", s.Type))
		}
	case SeedExplicit:
		if len(s.ItemIDs) == 0 {
			return errors.InvalidInput("explicit seed requires at least one item id")
		}
	case SeedLibrary, SeedFilter:
		if s.LibraryID == "" {
			return errors.InvalidInput(fmt.Sprintf("%s seed requires a library id", s.Type))
		}
	default:
		return errors.InvalidInput(fmt.Sprintf("unknown seed type %q", s.Type))
	}
	if s.StartIndex < 0 {
		return errors.InvalidInput("seed start index must not be negative")
	}
	return nil
}

// Lazy reports whether the seed materializes incrementally.
func (s *Seed) Lazy() bool {
	return s.Type == SeedLibrary || s.Type == SeedFilter
}

// SeedForItem builds the natural seed for a playable or container item.
func SeedForItem(item *catalog.LibraryItem, shuffle, repeat bool) *Seed {
	seed := &Seed{ItemID: item.ID, Shuffle: shuffle, Repeat: repeat}
	switch item.Type {
	case catalog.ItemTypeAlbum:
		seed.Type = SeedAlbum
	case catalog.ItemTypeSeason:
		seed.Type = SeedSeason
	case catalog.ItemTypeShow:
		seed.Type = SeedShow
	case catalog.ItemTypeArtist:
		seed.Type = SeedArtist
	case catalog.ItemTypeCollection:
		seed.Type = SeedCollection
	default:
		seed.Type = SeedSingle
	}
	return seed
}

func encodeSeed(seed *Seed) (string, error) {
	raw, err := json.Marshal(seed)
	if err != nil {
		return "", fmt.Errorf("encode seed: %w", err)
	}
	return string(raw), nil
}

func decodeSeed(raw string) (*Seed, error) {
	var seed Seed
	if err := json.Unmarshal([]byte(raw), &seed); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	return &seed, nil
}

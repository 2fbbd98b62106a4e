package playlist

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/lumira-media/lumira/internal/catalog"
	"github.com/lumira-media/lumira/internal/errors"
	"github.com/lumira-media/lumira/internal/events"
)

// Service owns playlist generators. All cursor mutations for one generator
// are serialized through a per-generator mutex; lazy seeds extend their
// materialization through single-flight so concurrent readers trigger one
// catalog fetch.
type Service struct {
	db      *gorm.DB
	catalog catalog.Service
	bus     events.EventBus
	logger  hclog.Logger

	chunkSize int
	ttl       time.Duration

	locks sync.Map // map[string]*sync.Mutex
	fetch singleflight.Group
}

// NewService creates the playlist service. bus may be nil in tests.
func NewService(db *gorm.DB, cat catalog.Service, bus events.EventBus, logger hclog.Logger, chunkSize int, ttl time.Duration) *Service {
	if chunkSize <= 0 {
		chunkSize = 100
	}
	return &Service{
		db:        db,
		catalog:   cat,
		bus:       bus,
		logger:    logger.Named("playlist"),
		chunkSize: chunkSize,
		ttl:       ttl,
	}
}

// Migrate creates the generator tables.
func Migrate(db *gorm.DB) error {
	for _, model := range []interface{}{&Generator{}, &GeneratorItem{}} {
		if err := db.AutoMigrate(model); err != nil {
			return fmt.Errorf("failed to migrate %T: %w", model, err)
		}
	}
	return nil
}

// Create resolves the seed and builds a fresh generator for the session,
// replacing any previous one. The item order is snapshotted at creation.
func (s *Service) Create(ctx context.Context, sessionID string, seed *Seed) (*Generator, error) {
	if err := seed.Validate(); err != nil {
		return nil, err
	}

	items, total, err := s.resolveSeed(ctx, seed)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, errors.NotFound("playlist seed items", seed.ItemID).
			WithContext("seed_type", string(seed.Type))
	}

	seedJSON, err := encodeSeed(seed)
	if err != nil {
		return nil, errors.Internal("failed to encode seed", err)
	}

	gen := &Generator{
		ID:           uuid.NewString(),
		SessionID:    sessionID,
		SeedJSON:     seedJSON,
		Cursor:       clampCursor(seed.StartIndex, len(items), total),
		TotalCount:   total,
		Materialized: len(items),
		ChunkSize:    s.chunkSize,
		Shuffle:      seed.Shuffle,
		Repeat:       seed.Repeat,
		AnchorIndex:  -1,
		BlockShuffle: seed.Lazy(),
		ExpiresAt:    time.Now().Add(s.ttl),
	}
	if gen.Shuffle {
		gen.ShuffleSeed = rand.Int63()
	}

	rows := make([]GeneratorItem, len(items))
	for i, item := range items {
		rows[i] = itemRow(gen.ID, i, &item)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stale []string
		if err := tx.Model(&Generator{}).
			Where("session_id = ?", sessionID).
			Pluck("id", &stale).Error; err != nil {
			return err
		}
		if len(stale) > 0 {
			if err := tx.Where("generator_id IN ?", stale).Delete(&GeneratorItem{}).Error; err != nil {
				return err
			}
			if err := tx.Where("id IN ?", stale).Delete(&Generator{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Create(gen).Error; err != nil {
			return err
		}
		return tx.CreateInBatches(rows, 200).Error
	})
	if err != nil {
		return nil, errors.Internal("failed to persist generator", err)
	}

	s.publish(events.NewGeneratorEvent(events.EventGeneratorCreated, gen.ID, sessionID))
	s.logger.Info("playlist generator created",
		"generator_id", gen.ID,
		"session_id", sessionID,
		"seed_type", string(seed.Type),
		"items", len(items),
		"total", total)
	return gen, nil
}

// Get loads a generator by id.
func (s *Service) Get(ctx context.Context, generatorID string) (*Generator, error) {
	var gen Generator
	err := s.db.WithContext(ctx).First(&gen, "id = ?", generatorID).Error
	if err == gorm.ErrRecordNotFound {
		return nil, errors.NotFound("playlist generator", generatorID)
	}
	if err != nil {
		return nil, err
	}
	return &gen, nil
}

// GetBySession loads the session's generator.
func (s *Service) GetBySession(ctx context.Context, sessionID string) (*Generator, error) {
	var gen Generator
	err := s.db.WithContext(ctx).First(&gen, "session_id = ?", sessionID).Error
	if err == gorm.ErrRecordNotFound {
		return nil, errors.NotFound("playlist generator for session", sessionID)
	}
	if err != nil {
		return nil, err
	}
	return &gen, nil
}

// Current returns the item at the cursor without moving it.
func (s *Service) Current(ctx context.Context, generatorID string) (*NavigateResult, error) {
	lock := s.generatorLock(generatorID)
	lock.Lock()
	defer lock.Unlock()

	gen, err := s.Get(ctx, generatorID)
	if err != nil {
		return nil, err
	}
	return s.resultAt(ctx, gen, gen.Cursor)
}

// Next advances the cursor by one. Past the end: repeat wraps to 0,
// otherwise the result is Ended. Lazy seeds fetch another chunk before the
// end is declared.
func (s *Service) Next(ctx context.Context, generatorID string) (*NavigateResult, error) {
	return s.step(ctx, generatorID, +1)
}

// Previous moves the cursor back by one. Before the start: repeat wraps to
// the last item, otherwise the cursor stays at 0.
func (s *Service) Previous(ctx context.Context, generatorID string) (*NavigateResult, error) {
	return s.step(ctx, generatorID, -1)
}

func (s *Service) step(ctx context.Context, generatorID string, delta int) (*NavigateResult, error) {
	lock := s.generatorLock(generatorID)
	lock.Lock()
	defer lock.Unlock()

	gen, err := s.Get(ctx, generatorID)
	if err != nil {
		return nil, err
	}

	target := gen.Cursor + delta

	if delta > 0 && target >= gen.Materialized {
		if err := s.extend(ctx, gen); err != nil {
			return nil, err
		}
	}

	switch {
	case target >= gen.Materialized:
		if !gen.Repeat {
			return s.endedResult(gen), s.save(ctx, gen)
		}
		target = 0
	case target < 0:
		if !gen.Repeat {
			target = 0
		} else {
			target = gen.Materialized - 1
		}
	}

	gen.Cursor = target
	gen.ExpiresAt = time.Now().Add(s.ttl)
	if err := s.save(ctx, gen); err != nil {
		return nil, err
	}
	return s.resultAt(ctx, gen, gen.Cursor)
}

// Jump sets the cursor to an absolute position in the permuted sequence.
func (s *Service) Jump(ctx context.Context, generatorID string, index int) (*NavigateResult, error) {
	lock := s.generatorLock(generatorID)
	lock.Lock()
	defer lock.Unlock()

	gen, err := s.Get(ctx, generatorID)
	if err != nil {
		return nil, err
	}

	for index >= gen.Materialized && gen.TotalCount == -1 {
		before := gen.Materialized
		if err := s.extend(ctx, gen); err != nil {
			return nil, err
		}
		if gen.Materialized == before {
			break
		}
	}
	if index < 0 || index >= gen.Materialized {
		return nil, errors.InvalidInput(fmt.Sprintf("jump index %d out of range [0, %d)", index, gen.Materialized)).
			WithContext("generator_id", generatorID)
	}

	gen.Cursor = index
	gen.ExpiresAt = time.Now().Add(s.ttl)
	if err := s.save(ctx, gen); err != nil {
		return nil, err
	}
	return s.resultAt(ctx, gen, gen.Cursor)
}

// SetModes toggles shuffle and repeat. Toggling shuffle preserves the item
// at the cursor: enabling pins it into the new permutation, disabling moves
// the cursor to the item's original position.
func (s *Service) SetModes(ctx context.Context, generatorID string, shuffle, repeat *bool) (*NavigateResult, error) {
	lock := s.generatorLock(generatorID)
	lock.Lock()
	defer lock.Unlock()

	gen, err := s.Get(ctx, generatorID)
	if err != nil {
		return nil, err
	}

	if repeat != nil {
		gen.Repeat = *repeat
	}

	if shuffle != nil && *shuffle != gen.Shuffle {
		currentOriginal := permutedIndex(gen, gen.Cursor, gen.Materialized)
		if *shuffle {
			gen.Shuffle = true
			gen.ShuffleSeed = rand.Int63()
			gen.AnchorPos = gen.Cursor
			gen.AnchorIndex = currentOriginal
		} else {
			gen.Shuffle = false
			gen.AnchorIndex = -1
			gen.AnchorPos = 0
			if currentOriginal >= 0 {
				gen.Cursor = currentOriginal
			}
		}
	}

	gen.ExpiresAt = time.Now().Add(s.ttl)
	if err := s.save(ctx, gen); err != nil {
		return nil, err
	}
	return s.resultAt(ctx, gen, gen.Cursor)
}

// Chunk returns a contiguous window of the permuted sequence for UI paging.
func (s *Service) Chunk(ctx context.Context, generatorID string, startIndex, limit int) (*Chunk, error) {
	if startIndex < 0 {
		return nil, errors.InvalidInput("chunk start index must not be negative")
	}

	lock := s.generatorLock(generatorID)
	lock.Lock()
	defer lock.Unlock()

	gen, err := s.Get(ctx, generatorID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > gen.ChunkSize {
		limit = gen.ChunkSize
	}

	for startIndex+limit > gen.Materialized && gen.TotalCount == -1 {
		before := gen.Materialized
		if err := s.extend(ctx, gen); err != nil {
			return nil, err
		}
		if gen.Materialized == before {
			break
		}
	}

	end := startIndex + limit
	if end > gen.Materialized {
		end = gen.Materialized
	}

	chunk := &Chunk{
		GeneratorID:  gen.ID,
		Items:        []ItemSnapshot{},
		StartIndex:   startIndex,
		CurrentIndex: gen.Cursor,
		TotalCount:   gen.TotalCount,
		HasMore:      end < gen.Materialized || gen.TotalCount == -1,
		Shuffle:      gen.Shuffle,
		Repeat:       gen.Repeat,
	}
	if startIndex >= end {
		return chunk, nil
	}

	perm := permutation(gen, gen.Materialized)
	wanted := perm[startIndex:end]

	var rows []GeneratorItem
	if err := s.db.WithContext(ctx).
		Where("generator_id = ? AND sort_order IN ?", gen.ID, wanted).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	byOrder := make(map[int]*GeneratorItem, len(rows))
	for i := range rows {
		byOrder[rows[i].SortOrder] = &rows[i]
	}

	for pos := startIndex; pos < end; pos++ {
		if row, ok := byOrder[perm[pos]]; ok {
			chunk.Items = append(chunk.Items, snapshot(row, pos))
		}
	}
	return chunk, nil
}

// MarkServed flags the item at the given permuted position as served.
func (s *Service) MarkServed(ctx context.Context, generatorID string, index int) error {
	lock := s.generatorLock(generatorID)
	lock.Lock()
	defer lock.Unlock()

	gen, err := s.Get(ctx, generatorID)
	if err != nil {
		return err
	}
	original := permutedIndex(gen, index, gen.Materialized)
	if original < 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&GeneratorItem{}).
		Where("generator_id = ? AND sort_order = ?", generatorID, original).
		Update("served", true).Error
}

// DeleteForSession removes the session's generator and its items.
func (s *Service) DeleteForSession(ctx context.Context, sessionID string) error {
	var ids []string
	if err := s.db.WithContext(ctx).Model(&Generator{}).
		Where("session_id = ?", sessionID).
		Pluck("id", &ids).Error; err != nil {
		return err
	}
	for _, id := range ids {
		s.locks.Delete(id)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(ids) > 0 {
			if err := tx.Where("generator_id IN ?", ids).Delete(&GeneratorItem{}).Error; err != nil {
				return err
			}
		}
		return tx.Where("session_id = ?", sessionID).Delete(&Generator{}).Error
	})
}

// SweepExpired deletes generators whose expiry has passed. Returns the
// number removed.
func (s *Service) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	var expired []string
	if err := s.db.WithContext(ctx).Model(&Generator{}).
		Where("expires_at < ?", now).
		Pluck("id", &expired).Error; err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("generator_id IN ?", expired).Delete(&GeneratorItem{}).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", expired).Delete(&Generator{}).Error
	})
	if err != nil {
		return 0, err
	}

	for _, id := range expired {
		s.locks.Delete(id)
		s.publish(events.NewGeneratorEvent(events.EventGeneratorExpired, id, ""))
	}
	s.logger.Info("expired playlist generators removed", "count", len(expired))
	return len(expired), nil
}

// resolveSeed expands a seed into its initial item list and total count.
// Lazy seeds resolve only the first chunk; -1 total means unknown.
func (s *Service) resolveSeed(ctx context.Context, seed *Seed) ([]catalog.LibraryItem, int, error) {
	switch {
	case seed.Type == SeedSingle:
		item, err := s.catalog.GetItem(ctx, seed.ItemID)
		if err != nil {
			return nil, 0, errors.NotFound("library item", seed.ItemID)
		}
		return []catalog.LibraryItem{*item}, 1, nil

	case containerSeedTypes[seed.Type]:
		items, err := s.catalog.ListChildren(ctx, seed.ItemID)
		if err != nil {
			return nil, 0, errors.NotFound("library item", seed.ItemID)
		}
		return items, len(items), nil

	case seed.Type == SeedExplicit:
		items, err := s.catalog.GetItems(ctx, seed.ItemIDs)
		if err != nil {
			return nil, 0, errors.Internal("failed to resolve explicit items", err)
		}
		return items, len(items), nil

	case seed.Type == SeedLibrary:
		items, err := s.catalog.ListLibrary(ctx, seed.LibraryID, seed.Filter, 0, s.chunkSize)
		if err != nil {
			return nil, 0, errors.Internal("failed to list library", err)
		}
		count, err := s.catalog.CountLibrary(ctx, seed.LibraryID, seed.Filter)
		if err != nil || count < 0 {
			return items, -1, nil
		}
		return items, int(count), nil

	case seed.Type == SeedFilter:
		// Dynamic filters are unbounded until the catalog stops returning
		// rows.
		items, err := s.catalog.ListLibrary(ctx, seed.LibraryID, seed.Filter, 0, s.chunkSize)
		if err != nil {
			return nil, 0, errors.Internal("failed to evaluate filter seed", err)
		}
		return items, -1, nil

	default:
		return nil, 0, errors.InvalidInput(fmt.Sprintf("unknown seed type %q", seed.Type))
	}
}

// extend materializes the next chunk of a lazy seed. Concurrent callers for
// one generator share a single catalog fetch.
func (s *Service) extend(ctx context.Context, gen *Generator) error {
	seed, err := decodeSeed(gen.SeedJSON)
	if err != nil {
		return errors.Internal("corrupt generator seed", err)
	}
	if !seed.Lazy() {
		return nil
	}
	if gen.TotalCount >= 0 && gen.Materialized >= gen.TotalCount {
		return nil
	}

	type extendResult struct {
		added int
		total int
	}

	key := fmt.Sprintf("%s@%d", gen.ID, gen.Materialized)
	value, err, _ := s.fetch.Do(key, func() (interface{}, error) {
		items, err := s.catalog.ListLibrary(ctx, seed.LibraryID, seed.Filter, gen.Materialized, gen.ChunkSize)
		if err != nil {
			return nil, err
		}

		rows := make([]GeneratorItem, len(items))
		for i, item := range items {
			rows[i] = itemRow(gen.ID, gen.Materialized+i, &item)
		}
		if len(rows) > 0 {
			if err := s.db.WithContext(ctx).CreateInBatches(rows, 200).Error; err != nil {
				return nil, err
			}
		}

		total := gen.TotalCount
		if len(items) < gen.ChunkSize && total == -1 {
			// The seed is exhausted; the extent is now known.
			total = gen.Materialized + len(items)
		}
		return extendResult{added: len(items), total: total}, nil
	})
	if err != nil {
		return errors.Internal("failed to extend playlist materialization", err)
	}

	result := value.(extendResult)
	gen.Materialized += result.added
	gen.TotalCount = result.total
	return s.save(ctx, gen)
}

func (s *Service) resultAt(ctx context.Context, gen *Generator, pos int) (*NavigateResult, error) {
	original := permutedIndex(gen, pos, gen.Materialized)
	if original < 0 {
		return s.endedResult(gen), nil
	}

	var row GeneratorItem
	err := s.db.WithContext(ctx).
		First(&row, "generator_id = ? AND sort_order = ?", gen.ID, original).Error
	if err == gorm.ErrRecordNotFound {
		return nil, errors.NotFound("playlist item", fmt.Sprintf("%s/%d", gen.ID, original))
	}
	if err != nil {
		return nil, err
	}

	item := snapshot(&row, pos)
	return &NavigateResult{
		GeneratorID: gen.ID,
		Item:        &item,
		Index:       pos,
		TotalCount:  gen.TotalCount,
		Shuffle:     gen.Shuffle,
		Repeat:      gen.Repeat,
	}, nil
}

func (s *Service) endedResult(gen *Generator) *NavigateResult {
	return &NavigateResult{
		GeneratorID: gen.ID,
		Ended:       true,
		Index:       gen.Cursor,
		TotalCount:  gen.TotalCount,
		Shuffle:     gen.Shuffle,
		Repeat:      gen.Repeat,
	}
}

func (s *Service) save(ctx context.Context, gen *Generator) error {
	return s.db.WithContext(ctx).Save(gen).Error
}

func (s *Service) generatorLock(generatorID string) *sync.Mutex {
	if lock, ok := s.locks.Load(generatorID); ok {
		return lock.(*sync.Mutex)
	}
	actual, _ := s.locks.LoadOrStore(generatorID, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

func (s *Service) publish(event events.Event) {
	if s.bus != nil {
		s.bus.PublishAsync(event)
	}
}

func itemRow(generatorID string, sortOrder int, item *catalog.LibraryItem) GeneratorItem {
	return GeneratorItem{
		GeneratorID: generatorID,
		SortOrder:   sortOrder,
		ItemID:      item.ID,
		ItemType:    item.Type,
		Title:       item.Title,
		ParentTitle: item.ParentTitle,
		DurationMs:  item.DurationMs,
		ThumbPath:   item.ThumbPath,
	}
}

func snapshot(row *GeneratorItem, pos int) ItemSnapshot {
	snap := ItemSnapshot{
		ItemID:      row.ItemID,
		Title:       row.Title,
		ParentTitle: row.ParentTitle,
		DurationMs:  row.DurationMs,
		ThumbPath:   row.ThumbPath,
		Index:       pos,
	}
	// Images bypass planning entirely.
	if row.ItemType == catalog.ItemTypeImage {
		snap.PlaybackURL = fmt.Sprintf("/api/library/items/%s/file", row.ItemID)
	}
	return snap
}

func clampCursor(start, materialized, total int) int {
	if start < 0 {
		return 0
	}
	limit := materialized
	if total >= 0 && total < limit {
		limit = total
	}
	if limit > 0 && start >= limit {
		return limit - 1
	}
	return start
}

package playlist

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/lumira-media/lumira/internal/catalog"
)

func setupTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, catalog.Migrate(db))
	require.NoError(t, Migrate(db))

	svc := NewService(db, catalog.NewService(db), nil, hclog.NewNullLogger(), 100, time.Hour)
	return svc, db
}

func seedAlbum(t *testing.T, db *gorm.DB, trackCount int) string {
	t.Helper()

	album := catalog.LibraryItem{
		ID: "album-1", LibraryID: "lib-1", Type: catalog.ItemTypeAlbum, Title: "Album",
	}
	require.NoError(t, db.Create(&album).Error)

	for i := 0; i < trackCount; i++ {
		track := catalog.LibraryItem{
			ID:          fmt.Sprintf("track-%d", i),
			LibraryID:   "lib-1",
			ParentID:    album.ID,
			Type:        catalog.ItemTypeTrack,
			Title:       fmt.Sprintf("Track %d", i),
			ParentTitle: album.Title,
			SortIndex:   i,
			DurationMs:  180_000,
		}
		require.NoError(t, db.Create(&track).Error)
	}
	return album.ID
}

func seedLibrary(t *testing.T, db *gorm.DB, count int) string {
	t.Helper()
	for i := 0; i < count; i++ {
		item := catalog.LibraryItem{
			ID:        fmt.Sprintf("movie-%03d", i),
			LibraryID: "lib-2",
			Type:      catalog.ItemTypeMovie,
			Title:     fmt.Sprintf("Movie %03d", i),
			SortIndex: i,
		}
		require.NoError(t, db.Create(&item).Error)
	}
	return "lib-2"
}

func TestCreateFromAlbumSeed(t *testing.T) {
	svc, db := setupTestService(t)
	albumID := seedAlbum(t, db, 5)

	gen, err := svc.Create(context.Background(), "sess-1", &Seed{Type: SeedAlbum, ItemID: albumID})
	require.NoError(t, err)

	assert.Equal(t, 5, gen.TotalCount)
	assert.Equal(t, 5, gen.Materialized)
	assert.Equal(t, 0, gen.Cursor)

	current, err := svc.Current(context.Background(), gen.ID)
	require.NoError(t, err)
	assert.Equal(t, "track-0", current.Item.ItemID)
	assert.Equal(t, "Album", current.Item.ParentTitle)
}

func TestCreateReplacesSessionGenerator(t *testing.T) {
	svc, db := setupTestService(t)
	albumID := seedAlbum(t, db, 3)

	first, err := svc.Create(context.Background(), "sess-1", &Seed{Type: SeedAlbum, ItemID: albumID})
	require.NoError(t, err)
	second, err := svc.Create(context.Background(), "sess-1", &Seed{Type: SeedAlbum, ItemID: albumID})
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	_, err = svc.Get(context.Background(), first.ID)
	require.Error(t, err)

	var orphans int64
	require.NoError(t, db.Model(&GeneratorItem{}).
		Where("generator_id = ?", first.ID).Count(&orphans).Error)
	assert.Zero(t, orphans)
}

func TestCreateRejectsMalformedSeed(t *testing.T) {
	svc, _ := setupTestService(t)

	_, err := svc.Create(context.Background(), "sess-1", &Seed{Type: SeedAlbum})
	require.Error(t, err)
	_, err = svc.Create(context.Background(), "sess-1", &Seed{Type: "bogus", ItemID: "x"})
	require.Error(t, err)
	_, err = svc.Create(context.Background(), "sess-1", &Seed{Type: SeedExplicit})
	require.Error(t, err)
}

func TestNextEndsWithoutRepeat(t *testing.T) {
	svc, db := setupTestService(t)
	albumID := seedAlbum(t, db, 3)

	gen, err := svc.Create(context.Background(), "sess-1", &Seed{Type: SeedAlbum, ItemID: albumID})
	require.NoError(t, err)

	for i := 1; i < 3; i++ {
		result, err := svc.Next(context.Background(), gen.ID)
		require.NoError(t, err)
		assert.False(t, result.Ended)
		assert.Equal(t, i, result.Index)
	}

	result, err := svc.Next(context.Background(), gen.ID)
	require.NoError(t, err)
	assert.True(t, result.Ended)
	assert.Nil(t, result.Item)
}

func TestNextWrapsWithRepeat(t *testing.T) {
	svc, db := setupTestService(t)
	albumID := seedAlbum(t, db, 5)

	gen, err := svc.Create(context.Background(), "sess-1",
		&Seed{Type: SeedAlbum, ItemID: albumID, Repeat: true})
	require.NoError(t, err)

	var last *NavigateResult
	for i := 0; i < 5; i++ {
		last, err = svc.Next(context.Background(), gen.ID)
		require.NoError(t, err)
		assert.False(t, last.Ended)
	}
	assert.Equal(t, 0, last.Index)
	assert.Equal(t, "track-0", last.Item.ItemID)
}

func TestPreviousClampsAndWraps(t *testing.T) {
	svc, db := setupTestService(t)
	albumID := seedAlbum(t, db, 4)

	gen, err := svc.Create(context.Background(), "sess-1", &Seed{Type: SeedAlbum, ItemID: albumID})
	require.NoError(t, err)

	result, err := svc.Previous(context.Background(), gen.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Index, "previous at start without repeat stays put")

	repeat := true
	_, err = svc.SetModes(context.Background(), gen.ID, nil, &repeat)
	require.NoError(t, err)

	result, err = svc.Previous(context.Background(), gen.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Index, "previous at start with repeat wraps to last")
}

func TestJumpBounds(t *testing.T) {
	svc, db := setupTestService(t)
	albumID := seedAlbum(t, db, 4)

	gen, err := svc.Create(context.Background(), "sess-1", &Seed{Type: SeedAlbum, ItemID: albumID})
	require.NoError(t, err)

	result, err := svc.Jump(context.Background(), gen.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Index)
	assert.Equal(t, "track-2", result.Item.ItemID)

	_, err = svc.Jump(context.Background(), gen.ID, 4)
	require.Error(t, err)
	_, err = svc.Jump(context.Background(), gen.ID, -1)
	require.Error(t, err)
}

func TestShuffleTogglePreservesCurrentItem(t *testing.T) {
	svc, db := setupTestService(t)
	albumID := seedAlbum(t, db, 5)

	gen, err := svc.Create(context.Background(), "sess-1", &Seed{Type: SeedAlbum, ItemID: albumID})
	require.NoError(t, err)

	moved, err := svc.Jump(context.Background(), gen.ID, 2)
	require.NoError(t, err)
	currentItem := moved.Item.ItemID

	shuffleOn := true
	shuffled, err := svc.SetModes(context.Background(), gen.ID, &shuffleOn, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, shuffled.Index)
	assert.Equal(t, currentItem, shuffled.Item.ItemID)

	shuffleOff := false
	unshuffled, err := svc.SetModes(context.Background(), gen.ID, &shuffleOff, nil)
	require.NoError(t, err)
	assert.Equal(t, currentItem, unshuffled.Item.ItemID)
}

func TestShuffleDeterministicAcrossReload(t *testing.T) {
	svc, db := setupTestService(t)
	albumID := seedAlbum(t, db, 5)

	gen, err := svc.Create(context.Background(), "sess-1",
		&Seed{Type: SeedAlbum, ItemID: albumID, Shuffle: true})
	require.NoError(t, err)

	first, err := svc.Chunk(context.Background(), gen.ID, 0, 5)
	require.NoError(t, err)

	// A second read replays the same permutation from persisted state.
	reloaded, err := svc.Chunk(context.Background(), gen.ID, 0, 5)
	require.NoError(t, err)

	require.Len(t, first.Items, 5)
	for i := range first.Items {
		assert.Equal(t, first.Items[i].ItemID, reloaded.Items[i].ItemID)
	}

	seen := make(map[string]bool)
	for _, item := range first.Items {
		seen[item.ItemID] = true
	}
	assert.Len(t, seen, 5, "shuffle is a permutation, not a resample")
}

func TestChunkPaging(t *testing.T) {
	svc, db := setupTestService(t)
	albumID := seedAlbum(t, db, 5)

	gen, err := svc.Create(context.Background(), "sess-1", &Seed{Type: SeedAlbum, ItemID: albumID})
	require.NoError(t, err)

	chunk, err := svc.Chunk(context.Background(), gen.ID, 1, 2)
	require.NoError(t, err)
	require.Len(t, chunk.Items, 2)
	assert.Equal(t, "track-1", chunk.Items[0].ItemID)
	assert.Equal(t, "track-2", chunk.Items[1].ItemID)
	assert.Equal(t, 1, chunk.Items[0].Index)
	assert.True(t, chunk.HasMore)
	assert.Equal(t, 5, chunk.TotalCount)

	tail, err := svc.Chunk(context.Background(), gen.ID, 3, 10)
	require.NoError(t, err)
	require.Len(t, tail.Items, 2)
	assert.False(t, tail.HasMore)
}

func TestLazyFilterSeedGrowsThenEnds(t *testing.T) {
	svc, db := setupTestService(t)
	svc.chunkSize = 10
	libraryID := seedLibrary(t, db, 25)

	gen, err := svc.Create(context.Background(), "sess-1",
		&Seed{Type: SeedFilter, LibraryID: libraryID})
	require.NoError(t, err)
	assert.Equal(t, -1, gen.TotalCount, "filter extent unknown at creation")
	assert.Equal(t, 10, gen.Materialized)

	// Walking past the materialized window fetches further chunks.
	var result *NavigateResult
	for i := 0; i < 24; i++ {
		result, err = svc.Next(context.Background(), gen.ID)
		require.NoError(t, err)
		require.False(t, result.Ended, "step %d", i)
	}
	assert.Equal(t, "movie-024", result.Item.ItemID)

	// The short final fetch resolves the unknown total.
	result, err = svc.Next(context.Background(), gen.ID)
	require.NoError(t, err)
	assert.True(t, result.Ended)
	assert.Equal(t, 25, result.TotalCount)
}

func TestLazyShuffleKeepsDealtPrefixOnGrowth(t *testing.T) {
	gen := &Generator{
		Shuffle:      true,
		ShuffleSeed:  42,
		ChunkSize:    10,
		BlockShuffle: true,
		AnchorIndex:  -1,
	}

	before := permutation(gen, 10)
	after := permutation(gen, 30)
	assert.Equal(t, before, after[:10], "growth must not reorder dealt positions")

	seen := make(map[int]bool)
	for _, original := range after {
		seen[original] = true
	}
	assert.Len(t, seen, 30, "still a permutation")

	// New chunks shuffle within themselves.
	for _, original := range after[10:20] {
		assert.GreaterOrEqual(t, original, 10)
		assert.Less(t, original, 20)
	}
}

func TestLazyShuffleStableAcrossExtension(t *testing.T) {
	svc, db := setupTestService(t)
	svc.chunkSize = 10
	libraryID := seedLibrary(t, db, 25)

	gen, err := svc.Create(context.Background(), "sess-1",
		&Seed{Type: SeedFilter, LibraryID: libraryID, Shuffle: true})
	require.NoError(t, err)
	require.True(t, gen.BlockShuffle)

	before, err := svc.Chunk(context.Background(), gen.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, before.Items, 10)

	// Walk far enough to force two more fetches.
	for i := 0; i < 15; i++ {
		_, err := svc.Next(context.Background(), gen.ID)
		require.NoError(t, err)
	}

	after, err := svc.Chunk(context.Background(), gen.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, after.Items, 10)
	for i := range before.Items {
		assert.Equal(t, before.Items[i].ItemID, after.Items[i].ItemID,
			"position %d reordered after growth", i)
	}
}

func TestMarkServedFlagsPermutedRow(t *testing.T) {
	svc, db := setupTestService(t)
	albumID := seedAlbum(t, db, 5)

	gen, err := svc.Create(context.Background(), "sess-1",
		&Seed{Type: SeedAlbum, ItemID: albumID, Shuffle: true})
	require.NoError(t, err)

	current, err := svc.Current(context.Background(), gen.ID)
	require.NoError(t, err)
	require.NoError(t, svc.MarkServed(context.Background(), gen.ID, current.Index))

	var row GeneratorItem
	require.NoError(t, db.First(&row, "generator_id = ? AND item_id = ?",
		gen.ID, current.Item.ItemID).Error)
	assert.True(t, row.Served)

	var served int64
	require.NoError(t, db.Model(&GeneratorItem{}).
		Where("generator_id = ? AND served = ?", gen.ID, true).
		Count(&served).Error)
	assert.EqualValues(t, 1, served)
}

func TestLibrarySeedKnowsTotalUpFront(t *testing.T) {
	svc, db := setupTestService(t)
	svc.chunkSize = 10
	libraryID := seedLibrary(t, db, 25)

	gen, err := svc.Create(context.Background(), "sess-1",
		&Seed{Type: SeedLibrary, LibraryID: libraryID})
	require.NoError(t, err)
	assert.Equal(t, 25, gen.TotalCount)
	assert.Equal(t, 10, gen.Materialized)
}

func TestExplicitSeedPreservesOrder(t *testing.T) {
	svc, db := setupTestService(t)
	seedAlbum(t, db, 5)

	gen, err := svc.Create(context.Background(), "sess-1",
		&Seed{Type: SeedExplicit, ItemIDs: []string{"track-3", "track-0", "track-4"}})
	require.NoError(t, err)
	assert.Equal(t, 3, gen.TotalCount)

	chunk, err := svc.Chunk(context.Background(), gen.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, chunk.Items, 3)
	assert.Equal(t, "track-3", chunk.Items[0].ItemID)
	assert.Equal(t, "track-0", chunk.Items[1].ItemID)
	assert.Equal(t, "track-4", chunk.Items[2].ItemID)
}

func TestSweepExpired(t *testing.T) {
	svc, db := setupTestService(t)
	albumID := seedAlbum(t, db, 3)

	gen, err := svc.Create(context.Background(), "sess-1", &Seed{Type: SeedAlbum, ItemID: albumID})
	require.NoError(t, err)

	removed, err := svc.SweepExpired(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, removed)

	require.NoError(t, db.Model(&Generator{}).
		Where("id = ?", gen.ID).
		Update("expires_at", time.Now().Add(-time.Minute)).Error)

	removed, err = svc.SweepExpired(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = svc.Get(context.Background(), gen.ID)
	require.Error(t, err)
}

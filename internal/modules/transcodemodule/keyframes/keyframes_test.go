package keyframes

import (
	"context"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func setupTestService(t *testing.T) *Service {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, Migrate(db))
	return NewService(db, hclog.NewNullLogger())
}

func TestNearestKeyframeSnapsDown(t *testing.T) {
	svc := setupTestService(t)
	require.NoError(t, svc.Put(context.Background(), "part-1",
		[]int64{0, 4000, 8000, 12000, 16000}, 4000))

	info, err := svc.NearestKeyframe(context.Background(), "part-1", 9500)
	require.NoError(t, err)
	assert.True(t, info.HasGopIndex)
	assert.Equal(t, int64(8000), info.KeyframeMs)
	assert.Equal(t, int64(9500), info.OriginalTargetMs)
	assert.Equal(t, int64(4000), info.GopDurationMs)

	// Exact keyframe hit stays put.
	info, err = svc.NearestKeyframe(context.Background(), "part-1", 12000)
	require.NoError(t, err)
	assert.Equal(t, int64(12000), info.KeyframeMs)

	// Before the first keyframe snaps to it.
	info, err = svc.NearestKeyframe(context.Background(), "part-1", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.KeyframeMs)
}

func TestNearestKeyframeWithoutIndexPassesThrough(t *testing.T) {
	svc := setupTestService(t)

	info, err := svc.NearestKeyframe(context.Background(), "part-unknown", 7300)
	require.NoError(t, err)
	assert.False(t, info.HasGopIndex)
	assert.Equal(t, int64(7300), info.KeyframeMs)
	assert.Equal(t, int64(7300), info.OriginalTargetMs)
}

func TestNearestKeyframeNegativeTargetClamps(t *testing.T) {
	svc := setupTestService(t)

	info, err := svc.NearestKeyframe(context.Background(), "part-1", -50)
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.KeyframeMs)
}

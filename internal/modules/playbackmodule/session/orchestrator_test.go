package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/lumira-media/lumira/internal/catalog"
	"github.com/lumira-media/lumira/internal/config"
	"github.com/lumira-media/lumira/internal/errors"
	"github.com/lumira-media/lumira/internal/modules/playbackmodule/capabilities"
	"github.com/lumira-media/lumira/internal/modules/playbackmodule/planner"
	"github.com/lumira-media/lumira/internal/modules/playbackmodule/playlist"
	"github.com/lumira-media/lumira/internal/modules/transcodemodule/keyframes"
)

type fakeRegistrar struct {
	mu         sync.Mutex
	registered []string
	stopped    []string
}

func (f *fakeRegistrar) Register(sessionID string, plan *planner.StreamPlan, inputPath string, durationMs int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = append(f.registered, plan.PartID)
}

func (f *fakeRegistrar) StopSession(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, sessionID)
}

type testEnv struct {
	orch      *Orchestrator
	db        *gorm.DB
	caps      *capabilities.Store
	playlists *playlist.Service
	registrar *fakeRegistrar
	keyframes *keyframes.Service
}

func setupTestOrchestrator(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, catalog.Migrate(db))
	require.NoError(t, capabilities.Migrate(db))
	require.NoError(t, playlist.Migrate(db))
	require.NoError(t, keyframes.Migrate(db))
	require.NoError(t, Migrate(db))

	cfg := config.Default().Playback
	cat := catalog.NewService(db)
	caps := capabilities.NewStore(db, hclog.NewNullLogger())
	playlists := playlist.NewService(db, cat, nil, hclog.NewNullLogger(), 100, time.Hour)
	kf := keyframes.NewService(db, hclog.NewNullLogger())
	registrar := &fakeRegistrar{}

	orch := NewOrchestrator(db, &cfg, nil, cat, caps,
		planner.New(hclog.NewNullLogger(), planner.Options{}),
		playlists, registrar, kf, hclog.NewNullLogger())

	return &testEnv{
		orch:      orch,
		db:        db,
		caps:      caps,
		playlists: playlists,
		registrar: registrar,
		keyframes: kf,
	}
}

// seedMovie creates an h264/aac mp4 movie with one part.
func seedMovie(t *testing.T, db *gorm.DB, n int) {
	t.Helper()

	itemID := fmt.Sprintf("movie-%d", n)
	partID := fmt.Sprintf("part-%d", n)

	require.NoError(t, db.Create(&catalog.LibraryItem{
		ID: itemID, LibraryID: "lib-1", Type: catalog.ItemTypeMovie,
		Title: fmt.Sprintf("Movie %d", n), SortIndex: n, DurationMs: 7_200_000,
	}).Error)
	require.NoError(t, db.Create(&catalog.MediaPart{
		ID: partID, ItemID: itemID, Path: "/media/" + itemID + ".mp4",
		Container: "mp4", DurationMs: 7_200_000, BitrateBps: 8_000_000,
	}).Error)
	require.NoError(t, db.Create(&catalog.MediaStream{
		PartID: partID, Index: 0, Type: catalog.StreamTypeVideo,
		Codec: "h264", Width: 1920, Height: 1080, BitrateBps: 7_000_000,
	}).Error)
	require.NoError(t, db.Create(&catalog.MediaStream{
		PartID: partID, Index: 1, Type: catalog.StreamTypeAudio,
		Codec: "aac", Channels: 2, SampleRate: 48000, IsDefault: true,
	}).Error)
}

func startRequest(itemIDs ...string) *StartRequest {
	return &StartRequest{
		UserID:              "user-1",
		Seed:                &playlist.Seed{Type: playlist.SeedExplicit, ItemIDs: itemIDs},
		CapabilityVersion:   -1,
		AudioStreamIndex:    -1,
		SubtitleStreamIndex: -1,
	}
}

func TestStartCreatesSessionAndPlansFirstItem(t *testing.T) {
	env := setupTestOrchestrator(t)
	seedMovie(t, env.db, 0)

	payload, err := env.orch.Start(context.Background(), startRequest("movie-0"))
	require.NoError(t, err)

	assert.NotEmpty(t, payload.SessionID)
	assert.NotEmpty(t, payload.GeneratorID)
	assert.Equal(t, "movie-0", payload.Item.ItemID)
	assert.Equal(t, 1, payload.TotalCount)
	require.NotNil(t, payload.Plan)
	assert.NotEmpty(t, payload.PlaybackURL)
	// No declaration sent, so the conservative default head applies.
	assert.Equal(t, 1, payload.CapabilityVersion)
	assert.False(t, payload.CapabilityVersionMismatch)
	assert.Equal(t, 30, payload.HeartbeatIntervalSeconds)

	// The plan was bound to the transcode manager.
	if payload.Plan.RequiresTranscode() {
		assert.Contains(t, env.registrar.registered, "part-0")
	}

	sess, err := env.orch.Get(context.Background(), payload.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatePlaying, sess.State)
	assert.Equal(t, "part-0", sess.CurrentPartID)
	assert.True(t, sess.ExpiresAt.After(time.Now().Add(29*24*time.Hour)))
}

func TestStartRequiresSeed(t *testing.T) {
	env := setupTestOrchestrator(t)

	_, err := env.orch.Start(context.Background(), &StartRequest{UserID: "user-1"})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindInvalidInput))
}

func TestHeartbeatSlidesExpiryAndRecordsProgress(t *testing.T) {
	env := setupTestOrchestrator(t)
	seedMovie(t, env.db, 0)

	started, err := env.orch.Start(context.Background(), startRequest("movie-0"))
	require.NoError(t, err)

	hb, err := env.orch.Heartbeat(context.Background(), started.SessionID, &HeartbeatRequest{
		PlayheadMs:        42_000,
		State:             StatePaused,
		CapabilityVersion: -1,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, hb.CapabilityVersion)
	assert.False(t, hb.CapabilityVersionMismatch)

	sess, err := env.orch.Get(context.Background(), started.SessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(42_000), sess.PlayheadMs)
	assert.Equal(t, StatePaused, sess.State)
}

func TestHeartbeatRejectsUnknownState(t *testing.T) {
	env := setupTestOrchestrator(t)
	seedMovie(t, env.db, 0)
	started, err := env.orch.Start(context.Background(), startRequest("movie-0"))
	require.NoError(t, err)

	_, err = env.orch.Heartbeat(context.Background(), started.SessionID, &HeartbeatRequest{
		State:             "rewinding",
		CapabilityVersion: -1,
	})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindInvalidInput))
}

func TestHeartbeatExpiredSessionNotFound(t *testing.T) {
	env := setupTestOrchestrator(t)

	require.NoError(t, env.db.Create(&PlaybackSession{
		ID: "sess-old", State: StatePaused,
		LastHeartbeat: time.Now().Add(-31 * 24 * time.Hour),
		ExpiresAt:     time.Now().Add(-24 * time.Hour),
	}).Error)

	_, err := env.orch.Heartbeat(context.Background(), "sess-old", &HeartbeatRequest{
		CapabilityVersion: -1,
	})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestHeartbeatReportsVersionMismatchWithoutMutatingHead(t *testing.T) {
	env := setupTestOrchestrator(t)
	seedMovie(t, env.db, 0)
	started, err := env.orch.Start(context.Background(), startRequest("movie-0"))
	require.NoError(t, err)
	sessionID := started.SessionID

	// Walk the head to version 3 with three distinct bodies.
	for i := 1; i <= 3; i++ {
		res, err := env.caps.Upsert(sessionID, &capabilities.Declaration{
			Capabilities: capabilities.Capabilities{
				MaxStreamingBitrate: int64(i) * 1_000_000,
				SupportsDash:        true,
			},
		}, -1)
		require.NoError(t, err)
		require.Equal(t, i, res.EffectiveVersion)
	}

	// Stale version, no declaration: report the head, change nothing.
	hb, err := env.orch.Heartbeat(context.Background(), sessionID, &HeartbeatRequest{
		CapabilityVersion: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, hb.CapabilityVersion)
	assert.True(t, hb.CapabilityVersionMismatch)

	check, err := env.caps.CheckVersion(sessionID, -1)
	require.NoError(t, err)
	assert.Equal(t, 3, check.EffectiveVersion)
}

func TestDecideAdvancesOnEnded(t *testing.T) {
	env := setupTestOrchestrator(t)
	seedMovie(t, env.db, 0)
	seedMovie(t, env.db, 1)

	started, err := env.orch.Start(context.Background(), startRequest("movie-0", "movie-1"))
	require.NoError(t, err)

	decision, err := env.orch.Decide(context.Background(), started.SessionID, &DecideRequest{
		Status:            StatusEnded,
		CapabilityVersion: -1,
	})
	require.NoError(t, err)
	assert.Equal(t, ActionContinue, decision.Action)
	require.NotNil(t, decision.Next)
	assert.Equal(t, "movie-1", decision.Next.Item.ItemID)
	assert.Equal(t, 1, decision.Next.Item.Index)

	sess, err := env.orch.Get(context.Background(), started.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "movie-1", sess.CurrentItemID)
	assert.Equal(t, int64(0), sess.PlayheadMs)

	// Past the last item the session ends.
	decision, err = env.orch.Decide(context.Background(), started.SessionID, &DecideRequest{
		Status:            StatusEnded,
		PlayheadMs:        7_199_000,
		CapabilityVersion: -1,
	})
	require.NoError(t, err)
	assert.Equal(t, ActionStop, decision.Action)
	assert.Nil(t, decision.Next)

	sess, err = env.orch.Get(context.Background(), started.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StateEnded, sess.State)
}

func TestDecidePlayingContinuesInPlace(t *testing.T) {
	env := setupTestOrchestrator(t)
	seedMovie(t, env.db, 0)
	started, err := env.orch.Start(context.Background(), startRequest("movie-0"))
	require.NoError(t, err)

	decision, err := env.orch.Decide(context.Background(), started.SessionID, &DecideRequest{
		Status:            StatusPlaying,
		CapabilityVersion: -1,
	})
	require.NoError(t, err)
	assert.Equal(t, ActionContinue, decision.Action)
	assert.Nil(t, decision.Next)
}

func TestDecideJumpTargetsIndex(t *testing.T) {
	env := setupTestOrchestrator(t)
	for i := 0; i < 4; i++ {
		seedMovie(t, env.db, i)
	}
	started, err := env.orch.Start(context.Background(),
		startRequest("movie-0", "movie-1", "movie-2", "movie-3"))
	require.NoError(t, err)

	decision, err := env.orch.Decide(context.Background(), started.SessionID, &DecideRequest{
		Status:            StatusJump,
		JumpIndex:         2,
		CapabilityVersion: -1,
	})
	require.NoError(t, err)
	assert.Equal(t, ActionContinue, decision.Action)
	require.NotNil(t, decision.Next)
	assert.Equal(t, "movie-2", decision.Next.Item.ItemID)

	// Out of range jump is rejected, session untouched.
	_, err = env.orch.Decide(context.Background(), started.SessionID, &DecideRequest{
		Status:            StatusJump,
		JumpIndex:         99,
		CapabilityVersion: -1,
	})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindInvalidInput))
}

func TestDecideStopsWhenItemVanished(t *testing.T) {
	env := setupTestOrchestrator(t)
	seedMovie(t, env.db, 0)
	seedMovie(t, env.db, 1)
	started, err := env.orch.Start(context.Background(), startRequest("movie-0", "movie-1"))
	require.NoError(t, err)

	// The next item disappears from the library between start and decide.
	require.NoError(t, env.db.Delete(&catalog.LibraryItem{ID: "movie-1"}).Error)

	decision, err := env.orch.Decide(context.Background(), started.SessionID, &DecideRequest{
		Status:            StatusEnded,
		CapabilityVersion: -1,
	})
	require.NoError(t, err)
	assert.Equal(t, ActionStop, decision.Action)
	assert.Nil(t, decision.Next)
}

func TestDecideRefreshOnCapabilityMismatch(t *testing.T) {
	env := setupTestOrchestrator(t)
	seedMovie(t, env.db, 0)
	seedMovie(t, env.db, 1)
	started, err := env.orch.Start(context.Background(), startRequest("movie-0", "movie-1"))
	require.NoError(t, err)

	// The client re-declared on another code path; its old plan is stale.
	_, err = env.caps.Upsert(started.SessionID, &capabilities.Declaration{
		Capabilities: capabilities.Capabilities{SupportsDash: true},
	}, -1)
	require.NoError(t, err)

	decision, err := env.orch.Decide(context.Background(), started.SessionID, &DecideRequest{
		Status:            StatusEnded,
		CapabilityVersion: 0,
	})
	require.NoError(t, err)
	assert.Equal(t, ActionRefresh, decision.Action)
	assert.True(t, decision.CapabilityVersionMismatch)
	assert.Nil(t, decision.Next)

	// Nothing advanced.
	sess, err := env.orch.Get(context.Background(), started.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "movie-0", sess.CurrentItemID)
}

func TestDecidePromptsAfterUnattendedAdvances(t *testing.T) {
	env := setupTestOrchestrator(t)
	ids := make([]string, 8)
	for i := range ids {
		seedMovie(t, env.db, i)
		ids[i] = fmt.Sprintf("movie-%d", i)
	}
	started, err := env.orch.Start(context.Background(), startRequest(ids...))
	require.NoError(t, err)

	var last *DecidePayload
	for i := 0; i < autoAdvancePromptLimit; i++ {
		last, err = env.orch.Decide(context.Background(), started.SessionID, &DecideRequest{
			Status:            StatusEnded,
			CapabilityVersion: -1,
		})
		require.NoError(t, err)
		assert.Equal(t, ActionContinue, last.Action)
	}

	last, err = env.orch.Decide(context.Background(), started.SessionID, &DecideRequest{
		Status:            StatusEnded,
		CapabilityVersion: -1,
	})
	require.NoError(t, err)
	assert.Equal(t, ActionPrompt, last.Action)
	require.NotNil(t, last.Next, "prompt still carries the next item")

	// A jump counts as interaction and resets the streak.
	decision, err := env.orch.Decide(context.Background(), started.SessionID, &DecideRequest{
		Status:            StatusJump,
		JumpIndex:         0,
		CapabilityVersion: -1,
	})
	require.NoError(t, err)
	assert.Equal(t, ActionContinue, decision.Action)
}

func TestSeekSnapsToKeyframeWithoutRestart(t *testing.T) {
	env := setupTestOrchestrator(t)
	seedMovie(t, env.db, 0)
	started, err := env.orch.Start(context.Background(), startRequest("movie-0"))
	require.NoError(t, err)

	require.NoError(t, env.keyframes.Put(context.Background(), "part-0",
		[]int64{0, 4000, 8000, 12000}, 4000))

	seek, err := env.orch.Seek(context.Background(), started.SessionID, &SeekRequest{TargetMs: 9500})
	require.NoError(t, err)
	assert.Equal(t, int64(8000), seek.KeyframeMs)
	assert.Equal(t, int64(9500), seek.OriginalTargetMs)
	assert.True(t, seek.HasGopIndex)

	// Seek never touches the encoder; only playback URLs do.
	assert.Empty(t, env.registrar.stopped)

	sess, err := env.orch.Get(context.Background(), started.SessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(8000), sess.PlayheadMs)
}

func TestSeekRejectsMismatchedPart(t *testing.T) {
	env := setupTestOrchestrator(t)
	seedMovie(t, env.db, 0)
	started, err := env.orch.Start(context.Background(), startRequest("movie-0"))
	require.NoError(t, err)

	_, err = env.orch.Seek(context.Background(), started.SessionID, &SeekRequest{
		TargetMs: 5000,
		PartID:   "part-other",
	})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindInvalidInput))

	// Naming the session's own part is fine, as is omitting it.
	_, err = env.orch.Seek(context.Background(), started.SessionID, &SeekRequest{
		TargetMs: 5000,
		PartID:   "part-0",
	})
	require.NoError(t, err)
}

func TestSeekWithoutGopIndexPassesThrough(t *testing.T) {
	env := setupTestOrchestrator(t)
	seedMovie(t, env.db, 0)
	started, err := env.orch.Start(context.Background(), startRequest("movie-0"))
	require.NoError(t, err)

	seek, err := env.orch.Seek(context.Background(), started.SessionID, &SeekRequest{TargetMs: 7300})
	require.NoError(t, err)
	assert.False(t, seek.HasGopIndex)
	assert.Equal(t, int64(7300), seek.KeyframeMs)
}

func TestStopEndsSessionAndTearsDownJobs(t *testing.T) {
	env := setupTestOrchestrator(t)
	seedMovie(t, env.db, 0)
	started, err := env.orch.Start(context.Background(), startRequest("movie-0"))
	require.NoError(t, err)

	require.NoError(t, env.orch.Stop(context.Background(), started.SessionID, &StopRequest{
		PlayheadMs: 63_000,
	}))
	assert.Contains(t, env.registrar.stopped, started.SessionID)

	sess, err := env.orch.Get(context.Background(), started.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StateEnded, sess.State)
	assert.Equal(t, int64(63_000), sess.PlayheadMs)
}

func TestResumeReplansAndReportsPlayhead(t *testing.T) {
	env := setupTestOrchestrator(t)
	seedMovie(t, env.db, 0)
	started, err := env.orch.Start(context.Background(), startRequest("movie-0"))
	require.NoError(t, err)

	require.NoError(t, env.orch.Stop(context.Background(), started.SessionID, &StopRequest{
		PlayheadMs: 1_800_000,
	}))

	resumed, err := env.orch.Resume(context.Background(), started.SessionID, nil, -1)
	require.NoError(t, err)
	assert.Equal(t, started.SessionID, resumed.SessionID)
	assert.Equal(t, "movie-0", resumed.Item.ItemID)
	assert.Equal(t, int64(1_800_000), resumed.ResumePositionMs)
	assert.NotEmpty(t, resumed.PlaybackURL)

	sess, err := env.orch.Get(context.Background(), started.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatePlaying, sess.State)
}

func TestSweeperCollectsExpiredSessions(t *testing.T) {
	env := setupTestOrchestrator(t)
	seedMovie(t, env.db, 0)
	started, err := env.orch.Start(context.Background(), startRequest("movie-0"))
	require.NoError(t, err)

	// Age the session past its window.
	require.NoError(t, env.db.Model(&PlaybackSession{}).
		Where("id = ?", started.SessionID).
		Update("expires_at", time.Now().Add(-time.Hour)).Error)

	sweeper := NewSweeper(env.db, env.caps, env.playlists, time.Minute, hclog.NewNullLogger())
	sweeper.sweep(context.Background())

	_, err = env.orch.Get(context.Background(), started.SessionID)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))

	var capRows int64
	require.NoError(t, env.db.Model(&capabilities.ClientCapability{}).
		Where("session_id = ?", started.SessionID).Count(&capRows).Error)
	assert.Zero(t, capRows)
}

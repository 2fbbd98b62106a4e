// Package playbackmodule is the playback delivery core: capability
// negotiation, stream planning, playlist generators and session
// orchestration.
package playbackmodule

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/lumira-media/lumira/internal/catalog"
	"github.com/lumira-media/lumira/internal/config"
	"github.com/lumira-media/lumira/internal/database"
	"github.com/lumira-media/lumira/internal/events"
	"github.com/lumira-media/lumira/internal/modules/modulemanager"
	"github.com/lumira-media/lumira/internal/modules/playbackmodule/capabilities"
	"github.com/lumira-media/lumira/internal/modules/playbackmodule/planner"
	"github.com/lumira-media/lumira/internal/modules/playbackmodule/playlist"
	"github.com/lumira-media/lumira/internal/modules/playbackmodule/session"
	"github.com/lumira-media/lumira/internal/modules/transcodemodule"
	"github.com/lumira-media/lumira/internal/modules/transcodemodule/keyframes"
)

const transcodeModuleID = "system.transcode"

// Module is the playback module registered with the module system.
type Module struct {
	id   string
	name string
	core bool

	db      *gorm.DB
	catalog catalog.Service

	caps      *capabilities.Store
	playlists *playlist.Service
	orch      *session.Orchestrator
	sweeper   *session.Sweeper
}

func init() {
	Register()
}

// Register registers this module with the module system.
func Register() {
	modulemanager.Register(&Module{
		id:   "system.playback",
		name: "Playback Orchestrator",
		core: true,
	})
}

func (m *Module) ID() string   { return m.id }
func (m *Module) Name() string { return m.name }
func (m *Module) Core() bool   { return m.core }

// Migrate creates the capability, generator and session tables.
func (m *Module) Migrate(db *gorm.DB) error {
	if err := capabilities.Migrate(db); err != nil {
		return err
	}
	if err := playlist.Migrate(db); err != nil {
		return err
	}
	return session.Migrate(db)
}

// Init wires the orchestrator. The transcode manager is resolved lazily
// through the registry because module load order follows IDs, not wiring.
func (m *Module) Init() error {
	m.db = database.GetDB()
	if m.db == nil {
		return fmt.Errorf("playback module requires an initialized database")
	}
	cfg := config.Get()
	bus := events.GetGlobalEventBus()
	logger := hclog.Default()

	m.catalog = catalog.NewService(m.db)
	m.caps = capabilities.NewStore(m.db, logger)
	m.playlists = playlist.NewService(m.db, m.catalog, bus, logger,
		cfg.Playback.PlaylistChunkSize, cfg.Playback.SessionInactivityWindow())

	transcoder := &lazyTranscoder{}
	m.orch = session.NewOrchestrator(m.db, &cfg.Playback, bus,
		m.catalog, m.caps,
		planner.New(logger, planner.Options{}),
		m.playlists, transcoder, transcoder, logger)

	m.sweeper = session.NewSweeper(m.db, m.caps, m.playlists,
		cfg.Playback.SweepInterval(), logger)
	m.sweeper.Start(context.Background())
	return nil
}

// RegisterRoutes registers the session API and the direct-file endpoints.
func (m *Module) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/playback")
	{
		api.POST("/start", m.handleStart)

		sessions := api.Group("/sessions/:sessionId")
		{
			sessions.GET("", m.handleGetSession)
			sessions.POST("/resume", m.handleResume)
			sessions.POST("/heartbeat", m.handleHeartbeat)
			sessions.POST("/decide", m.handleDecide)
			sessions.POST("/seek", m.handleSeek)
			sessions.POST("/stop", m.handleStop)
			sessions.POST("/capabilities", m.handleCapabilities)
			sessions.GET("/queue", m.handleQueue)
			sessions.POST("/modes", m.handleModes)
		}
	}

	library := router.Group("/api/library")
	{
		library.GET("/parts/:partId/file", m.handlePartFile)
		library.GET("/items/:itemId/file", m.handleItemFile)
		library.GET("/items/:itemId/trickplay", m.handleTrickplay)
	}
}

// Shutdown stops the sweeper.
func (m *Module) Shutdown() {
	if m.sweeper != nil {
		m.sweeper.Stop()
	}
}

// lazyTranscoder defers manager lookup to call time so the playback module
// never depends on transcode module load order.
type lazyTranscoder struct{}

func (l *lazyTranscoder) manager() *transcodemodule.Manager {
	mod, ok := modulemanager.GetModule(transcodeModuleID)
	if !ok {
		return nil
	}
	tm, ok := mod.(*transcodemodule.Module)
	if !ok {
		return nil
	}
	return tm.Manager()
}

func (l *lazyTranscoder) keyframes() *keyframes.Service {
	mod, ok := modulemanager.GetModule(transcodeModuleID)
	if !ok {
		return nil
	}
	tm, ok := mod.(*transcodemodule.Module)
	if !ok {
		return nil
	}
	return tm.Keyframes()
}

func (l *lazyTranscoder) Register(sessionID string, plan *planner.StreamPlan, inputPath string, durationMs int64) {
	if mgr := l.manager(); mgr != nil {
		mgr.Register(sessionID, plan, inputPath, durationMs)
	}
}

func (l *lazyTranscoder) StopSession(sessionID string) {
	if mgr := l.manager(); mgr != nil {
		mgr.StopSession(sessionID)
	}
}

func (l *lazyTranscoder) NearestKeyframe(ctx context.Context, partID string, targetMs int64) (*keyframes.SeekInfo, error) {
	if kf := l.keyframes(); kf != nil {
		return kf.NearestKeyframe(ctx, partID, targetMs)
	}
	// No index service yet; pass the target through unchanged.
	if targetMs < 0 {
		targetMs = 0
	}
	return &keyframes.SeekInfo{KeyframeMs: targetMs, OriginalTargetMs: targetMs}, nil
}

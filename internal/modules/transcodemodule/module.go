// Package transcodemodule owns on-demand segment production: one ffmpeg
// worker per (part, variant) with smart-segment restarts, bounded by an LRU
// job cache, plus the subtitle extraction endpoints.
package transcodemodule

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
	"github.com/lumira-media/lumira/internal/modules/transcodemodule/keyframes"
	"github.com/lumira-media/lumira/internal/modules/transcodemodule/subtitles"
)

// Module is the transcode module registered with the module system.
type Module struct {
	id   string
	name string
	core bool

	db        *gorm.DB
	manager   *Manager
	keyframes *keyframes.Service
	extractor *subtitles.Extractor
	catalog   catalog.Service
}

func init() {
	Register()
}

// Register registers this module with the module system.
func Register() {
	modulemanager.Register(&Module{
		id:   "system.transcode",
		name: "Transcode Manager",
		core: true,
	})
}

func (m *Module) ID() string   { return m.id }
func (m *Module) Name() string { return m.name }
func (m *Module) Core() bool   { return m.core }

// Migrate creates the job and keyframe tables.
func (m *Module) Migrate(db *gorm.DB) error {
	if err := Migrate(db); err != nil {
		return err
	}
	return keyframes.Migrate(db)
}

// Init builds the job manager from the global database, bus and config.
func (m *Module) Init() error {
	m.db = database.GetDB()
	if m.db == nil {
		return fmt.Errorf("transcode module requires an initialized database")
	}
	cfg := config.Get()
	logger := hclog.Default()

	m.catalog = catalog.NewService(m.db)
	m.keyframes = keyframes.NewService(m.db, logger)

	manager, err := NewManager(&cfg.Transcode, m.db, events.GetGlobalEventBus(), m.keyframes, logger)
	if err != nil {
		return err
	}
	m.manager = manager

	return m.manager.StartupSweep(context.Background())
}

// Manager exposes the job manager for the playback module's plan wiring.
func (m *Module) Manager() *Manager { return m.manager }

// Keyframes exposes the keyframe index for seek snapping.
func (m *Module) Keyframes() *keyframes.Service { return m.keyframes }

// RegisterRoutes registers the streaming and subtitle endpoints.
func (m *Module) RegisterRoutes(router *gin.Engine) {
	m.extractor = subtitles.NewExtractor(
		config.Get().Transcode.FFmpegPath,
		config.Get().Transcode.DataDir,
		hclog.Default().Named("subtitles"),
	)

	api := router.Group("/api/transcode")
	{
		api.GET("/part/:partId/dash/manifest.mpd", m.handleManifest)
		api.GET("/part/:partId/dash/:fileName", m.handleSegment)
		api.GET("/part/:partId/hls/master.m3u8", m.handleManifest)
		api.GET("/part/:partId/hls/:fileName", m.handleSegment)

		api.GET("/subtitle/part/:partId/stream/:streamIndex/:fileName", m.handleSubtitle)
	}
}

// Shutdown stops every worker.
func (m *Module) Shutdown() {
	if m.manager != nil {
		m.manager.Shutdown()
	}
}

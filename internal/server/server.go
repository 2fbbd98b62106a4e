// Package server boots the HTTP surface: event bus, module system, routes.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"

	"github.com/lumira-media/lumira/internal/config"
	"github.com/lumira-media/lumira/internal/database"
	"github.com/lumira-media/lumira/internal/events"
	"github.com/lumira-media/lumira/internal/logger"
	"github.com/lumira-media/lumira/internal/modules/modulemanager"

	// Imported for their module registration side effects.
	_ "github.com/lumira-media/lumira/internal/modules/playbackmodule"
	_ "github.com/lumira-media/lumira/internal/modules/transcodemodule"
)

// Server owns the process lifecycle around the gin engine.
type Server struct {
	cfg    *config.Config
	engine *gin.Engine
	bus    events.EventBus
	http   *http.Server
}

// New initializes the database, event bus and module system and builds the
// router.
func New(cfg *config.Config) (*Server, error) {
	config.Set(cfg)

	if _, err := database.Initialize(cfg.Database); err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	bus := events.NewBus(hclog.Default(), 256)
	if err := bus.Start(context.Background()); err != nil {
		return nil, fmt.Errorf("start event bus: %w", err)
	}
	events.SetGlobalEventBus(bus)

	if err := modulemanager.LoadAll(database.GetDB()); err != nil {
		return nil, err
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLog())
	engine.Use(cors())

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	bridge := events.NewWebSocketBridge(bus, hclog.Default())
	engine.GET("/api/events/ws", bridge.Handle)

	modulemanager.RegisterRoutes(engine)

	bus.PublishAsync(events.Event{
		Type:    events.EventSystemStarted,
		Source:  "system",
		Title:   "System Started",
		Message: "playback core is up",
	})

	return &Server{cfg: cfg, engine: engine, bus: bus}, nil
}

// Engine exposes the router, mainly for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.http = &http.Server{Addr: addr, Handler: s.engine}
	logger.Info("listening on %s", addr)

	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains HTTP, stops modules and the bus.
func (s *Server) Shutdown(ctx context.Context) error {
	s.bus.PublishAsync(events.Event{
		Type:    events.EventSystemStopped,
		Source:  "system",
		Title:   "System Stopping",
		Message: "playback core is shutting down",
	})

	var httpErr error
	if s.http != nil {
		httpErr = s.http.Shutdown(ctx)
	}

	modulemanager.ShutdownAll()

	if err := s.bus.Stop(ctx); err != nil {
		logger.Warn("event bus stop: %v", err)
	}
	return httpErr
}

func requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if c.Writer.Status() >= 500 {
			logger.Error("%s %s -> %d", c.Request.Method, c.Request.URL.Path, c.Writer.Status())
		} else {
			logger.Debug("%s %s -> %d", c.Request.Method, c.Request.URL.Path, c.Writer.Status())
		}
	}
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

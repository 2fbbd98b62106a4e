package session

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/lumira-media/lumira/internal/modules/playbackmodule/capabilities"
	"github.com/lumira-media/lumira/internal/modules/playbackmodule/playlist"
)

// Sweeper is the single background collector for expired sessions, their
// capability history and their generators. Exactly one runs per process.
type Sweeper struct {
	db        *gorm.DB
	caps      *capabilities.Store
	playlists *playlist.Service
	logger    hclog.Logger
	interval  time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper creates the sweeper. Start launches it.
func NewSweeper(db *gorm.DB, caps *capabilities.Store, playlists *playlist.Service,
	interval time.Duration, logger hclog.Logger) *Sweeper {
	return &Sweeper{
		db:        db,
		caps:      caps,
		playlists: playlists,
		logger:    logger.Named("sweeper"),
		interval:  interval,
	}
}

// Start runs the sweep loop until Stop or ctx cancellation.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()
}

// Stop halts the loop and waits for the in-flight sweep to finish.
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

// sweep collects everything whose expiry has lapsed.
func (s *Sweeper) sweep(ctx context.Context) {
	now := time.Now()

	var expired []PlaybackSession
	if err := s.db.WithContext(ctx).
		Where("expires_at < ?", now).
		Find(&expired).Error; err != nil {
		s.logger.Warn("session sweep query failed", "error", err)
		return
	}

	for _, sess := range expired {
		if err := s.caps.DeleteForSession(sess.ID); err != nil {
			s.logger.Warn("failed to delete capabilities",
				"session_id", sess.ID, "error", err)
		}
		if err := s.playlists.DeleteForSession(ctx, sess.ID); err != nil {
			s.logger.Warn("failed to delete generator",
				"session_id", sess.ID, "error", err)
		}
		if err := s.db.WithContext(ctx).Delete(&sess).Error; err != nil {
			s.logger.Warn("failed to delete session",
				"session_id", sess.ID, "error", err)
		}
	}

	swept, err := s.playlists.SweepExpired(ctx, now)
	if err != nil {
		s.logger.Warn("generator sweep failed", "error", err)
	}

	if len(expired) > 0 || swept > 0 {
		s.logger.Info("sweep collected",
			"sessions", len(expired),
			"orphan_generators", swept)
	}
}

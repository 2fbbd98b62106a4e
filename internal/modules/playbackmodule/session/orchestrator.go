package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/lumira-media/lumira/internal/catalog"
	"github.com/lumira-media/lumira/internal/config"
	"github.com/lumira-media/lumira/internal/errors"
	"github.com/lumira-media/lumira/internal/events"
	"github.com/lumira-media/lumira/internal/modules/playbackmodule/capabilities"
	"github.com/lumira-media/lumira/internal/modules/playbackmodule/planner"
	"github.com/lumira-media/lumira/internal/modules/playbackmodule/playlist"
	"github.com/lumira-media/lumira/internal/modules/transcodemodule/keyframes"
)

// autoAdvancePromptLimit is how many items advance unattended before decide
// answers prompt instead of continue.
const autoAdvancePromptLimit = 3

// TranscodeRegistrar is the slice of the transcode manager the orchestrator
// needs: binding plans to parts and tearing a session's jobs down.
type TranscodeRegistrar interface {
	Register(sessionID string, plan *planner.StreamPlan, inputPath string, durationMs int64)
	StopSession(sessionID string)
}

// KeyframeLookup resolves seek targets to keyframe-aligned positions.
type KeyframeLookup interface {
	NearestKeyframe(ctx context.Context, partID string, targetMs int64) (*keyframes.SeekInfo, error)
}

// Orchestrator runs the session lifecycle. Mutating operations on one
// session are serialized; heartbeats bypass the lock so they never wait on a
// slow decide or stop.
type Orchestrator struct {
	db     *gorm.DB
	cfg    *config.PlaybackConfig
	bus    events.EventBus
	logger hclog.Logger

	catalog    catalog.Service
	caps       *capabilities.Store
	planner    *planner.Planner
	playlists  *playlist.Service
	transcoder TranscodeRegistrar
	keyframes  KeyframeLookup

	locks sync.Map // map[string]*sync.Mutex
}

// NewOrchestrator wires the session orchestrator.
func NewOrchestrator(db *gorm.DB, cfg *config.PlaybackConfig, bus events.EventBus,
	cat catalog.Service, caps *capabilities.Store, pl *planner.Planner,
	playlists *playlist.Service, transcoder TranscodeRegistrar,
	kf KeyframeLookup, logger hclog.Logger) *Orchestrator {

	return &Orchestrator{
		db:         db,
		cfg:        cfg,
		bus:        bus,
		logger:     logger.Named("session"),
		catalog:    cat,
		caps:       caps,
		planner:    pl,
		playlists:  playlists,
		transcoder: transcoder,
		keyframes:  kf,
	}
}

// Migrate creates the session table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&PlaybackSession{})
}

// Start creates a session and its generator from a seed and plans the first
// item.
func (o *Orchestrator) Start(ctx context.Context, req *StartRequest) (*PlayPayload, error) {
	if req == nil || req.Seed == nil {
		return nil, errors.InvalidInput("start requires a playlist seed")
	}

	sessionID := uuid.NewString()

	capResult, err := o.applyCapabilities(sessionID, req.Capabilities, req.CapabilityVersion)
	if err != nil {
		return nil, err
	}

	gen, err := o.playlists.Create(ctx, sessionID, req.Seed)
	if err != nil {
		return nil, err
	}

	nav, err := o.playlists.Current(ctx, gen.ID)
	if err != nil {
		return nil, err
	}
	if nav.Ended || nav.Item == nil {
		return nil, errors.PlanUnavailable("seed resolved to an empty playlist", nil)
	}

	now := time.Now()
	sess := &PlaybackSession{
		ID:                sessionID,
		UserID:            req.UserID,
		DeviceID:          req.DeviceID,
		GeneratorID:       gen.ID,
		CapabilityVersion: capResult.EffectiveVersion,
		State:             StatePlaying,
		Originator:        req.Originator,
		ContextJSON:       string(req.Context),
		LastHeartbeat:     now,
		ExpiresAt:         now.Add(o.cfg.SessionInactivityWindow()),
	}

	payload, err := o.playFor(ctx, sess, nav, req.AudioStreamIndex, req.SubtitleStreamIndex)
	if err != nil {
		return nil, err
	}
	payload.CapabilityVersion = capResult.EffectiveVersion
	payload.CapabilityVersionMismatch = capResult.Mismatch

	if err := o.db.WithContext(ctx).Create(sess).Error; err != nil {
		return nil, errors.Internal("failed to persist session", err)
	}
	_ = o.playlists.MarkServed(ctx, gen.ID, nav.Index)

	o.publish(events.NewPlaybackEvent(events.EventPlaybackStarted, sessionID, sess.CurrentItemID))
	o.logger.Info("session started",
		"session_id", sessionID,
		"generator_id", gen.ID,
		"item_id", sess.CurrentItemID)
	return payload, nil
}

// Resume re-plans the current item of an existing session against the stored
// capability head and reports the saved playhead.
func (o *Orchestrator) Resume(ctx context.Context, sessionID string, declaration *capabilities.Declaration, declaredVersion int) (*PlayPayload, error) {
	lock := o.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := o.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	capResult, err := o.applyCapabilities(sessionID, declaration, declaredVersion)
	if err != nil {
		return nil, err
	}

	nav, err := o.playlists.Current(ctx, sess.GeneratorID)
	if err != nil {
		return nil, err
	}
	if nav.Item == nil {
		return nil, errors.NotFound("playlist item", sess.CurrentItemID)
	}

	resumeAt := sess.PlayheadMs
	if sess.State == StateEnded {
		sess.State = StatePlaying
	}

	payload, err := o.playFor(ctx, sess, nav, -1, -1)
	if err != nil {
		return nil, err
	}
	payload.ResumePositionMs = resumeAt
	payload.CapabilityVersion = capResult.EffectiveVersion
	payload.CapabilityVersionMismatch = capResult.Mismatch

	now := time.Now()
	sess.CapabilityVersion = capResult.EffectiveVersion
	sess.LastHeartbeat = now
	sess.ExpiresAt = now.Add(o.cfg.SessionInactivityWindow())
	if err := o.save(ctx, sess); err != nil {
		return nil, err
	}

	o.publish(events.NewPlaybackEvent(events.EventPlaybackResumed, sessionID, sess.CurrentItemID))
	return payload, nil
}

// Heartbeat slides the expiry window and records progress. It deliberately
// takes no session lock: a heartbeat must never wait behind a decide or stop
// in flight.
func (o *Orchestrator) Heartbeat(ctx context.Context, sessionID string, req *HeartbeatRequest) (*HeartbeatPayload, error) {
	if req.State != "" && !validState(req.State) {
		return nil, errors.InvalidInput(fmt.Sprintf("unknown session state %q", req.State))
	}

	capResult, err := o.applyCapabilities(sessionID, req.Capabilities, req.CapabilityVersion)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	expiresAt := now.Add(o.cfg.SessionInactivityWindow())

	updates := map[string]interface{}{
		"last_heartbeat":     now,
		"expires_at":         expiresAt,
		"playhead_ms":        req.PlayheadMs,
		"capability_version": capResult.EffectiveVersion,
	}
	if req.State != "" {
		updates["state"] = req.State
	}

	res := o.db.WithContext(ctx).
		Model(&PlaybackSession{}).
		Where("id = ? AND expires_at > ?", sessionID, now).
		Updates(updates)
	if res.Error != nil {
		return nil, errors.Internal("failed to record heartbeat", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, errors.NotFound("playback session", sessionID)
	}

	o.publish(events.NewPlaybackProgressEvent(sessionID, "", req.PlayheadMs, req.State))

	return &HeartbeatPayload{
		CapabilityVersion:         capResult.EffectiveVersion,
		CapabilityVersionMismatch: capResult.Mismatch,
		ExpiresAt:                 expiresAt.UTC().Format(time.RFC3339),
		HeartbeatIntervalSeconds:  o.cfg.HeartbeatIntervalSeconds,
	}, nil
}

// Decide resolves a decision point. The client reports where it is; the
// server answers with exactly one action and, for continue/prompt, the next
// item's play payload.
func (o *Orchestrator) Decide(ctx context.Context, sessionID string, req *DecideRequest) (*DecidePayload, error) {
	lock := o.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := o.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	capResult, err := o.caps.CheckVersion(sessionID, req.CapabilityVersion)
	if err != nil {
		return nil, err
	}
	out := &DecidePayload{
		CapabilityVersion:         capResult.EffectiveVersion,
		CapabilityVersionMismatch: capResult.Mismatch,
	}

	// A stale capability version means any plan the client holds may be
	// wrong for the device it now describes. Re-declare before advancing.
	if capResult.Mismatch {
		out.Action = ActionRefresh
		return out, nil
	}

	switch req.Status {
	case StatusPlaying:
		out.Action = ActionContinue
		return out, nil

	case StatusJump:
		nav, err := o.playlists.Jump(ctx, sess.GeneratorID, req.JumpIndex)
		if err != nil {
			return nil, err
		}
		sess.AutoAdvances = 0
		return o.advance(ctx, sess, nav, out)

	case StatusEnded:
		nav, err := o.playlists.Next(ctx, sess.GeneratorID)
		if err != nil {
			return nil, err
		}
		if nav.Ended || nav.Item == nil {
			sess.State = StateEnded
			sess.PlayheadMs = req.PlayheadMs
			if err := o.save(ctx, sess); err != nil {
				return nil, err
			}
			out.Action = ActionStop
			return out, nil
		}
		sess.AutoAdvances++
		return o.advance(ctx, sess, nav, out)

	default:
		return nil, errors.InvalidInput(fmt.Sprintf("unknown decide status %q", req.Status))
	}
}

// advance plans nav's item and commits it as the session's current item.
// A vanished item stops the session instead of failing the request.
func (o *Orchestrator) advance(ctx context.Context, sess *PlaybackSession, nav *playlist.NavigateResult, out *DecidePayload) (*DecidePayload, error) {
	payload, err := o.playFor(ctx, sess, nav, -1, -1)
	if err != nil {
		if errors.IsKind(err, errors.KindNotFound) {
			o.logger.Warn("current item vanished, stopping session",
				"session_id", sess.ID, "item_id", nav.Item.ItemID)
			sess.State = StateEnded
			if saveErr := o.save(ctx, sess); saveErr != nil {
				return nil, saveErr
			}
			out.Action = ActionStop
			return out, nil
		}
		sess.State = StateFailed
		_ = o.save(ctx, sess)
		return nil, err
	}
	payload.CapabilityVersion = out.CapabilityVersion

	sess.State = StatePlaying
	sess.PlayheadMs = 0
	if err := o.save(ctx, sess); err != nil {
		return nil, err
	}
	_ = o.playlists.MarkServed(ctx, sess.GeneratorID, nav.Index)

	out.Next = payload
	if sess.AutoAdvances > autoAdvancePromptLimit {
		out.Action = ActionPrompt
	} else {
		out.Action = ActionContinue
	}

	o.publish(events.NewPlaybackEvent(events.EventPlaybackAdvanced, sess.ID, sess.CurrentItemID))
	return out, nil
}

// Seek answers where playback actually lands for a target position. The
// encoder is left alone; the client carries the offset into its next
// manifest request.
func (o *Orchestrator) Seek(ctx context.Context, sessionID string, req *SeekRequest) (*SeekPayload, error) {
	sess, err := o.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.CurrentPartID == "" {
		return nil, errors.InvalidInput("current item has no seekable media")
	}
	if req.PartID != "" && req.PartID != sess.CurrentPartID {
		return nil, errors.InvalidInput("part does not match the session's current item")
	}

	info, err := o.keyframes.NearestKeyframe(ctx, sess.CurrentPartID, req.TargetMs)
	if err != nil {
		return nil, errors.Internal("keyframe lookup failed", err)
	}

	o.db.WithContext(ctx).
		Model(&PlaybackSession{}).
		Where("id = ?", sessionID).
		Update("playhead_ms", info.KeyframeMs)

	return &SeekPayload{
		KeyframeMs:       info.KeyframeMs,
		GopDurationMs:    info.GopDurationMs,
		HasGopIndex:      info.HasGopIndex,
		OriginalTargetMs: info.OriginalTargetMs,
	}, nil
}

// Stop ends the session and stops its transcode jobs. The row stays until
// the sweeper collects it so resume keeps working within the expiry window.
func (o *Orchestrator) Stop(ctx context.Context, sessionID string, req *StopRequest) error {
	lock := o.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := o.load(ctx, sessionID)
	if err != nil {
		return err
	}

	sess.State = StateEnded
	if req != nil {
		sess.PlayheadMs = req.PlayheadMs
	}
	if err := o.save(ctx, sess); err != nil {
		return err
	}

	o.transcoder.StopSession(sessionID)
	o.publish(events.NewPlaybackEvent(events.EventPlaybackStopped, sessionID, sess.CurrentItemID))
	o.logger.Info("session stopped", "session_id", sessionID, "playhead_ms", sess.PlayheadMs)
	return nil
}

// Chunk pages the session's playlist window.
func (o *Orchestrator) Chunk(ctx context.Context, sessionID string, startIndex, limit int) (*playlist.Chunk, error) {
	sess, err := o.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return o.playlists.Chunk(ctx, sess.GeneratorID, startIndex, limit)
}

// SetModes toggles shuffle or repeat on the session's generator.
func (o *Orchestrator) SetModes(ctx context.Context, sessionID string, req *ModesRequest) (*playlist.NavigateResult, error) {
	lock := o.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := o.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return o.playlists.SetModes(ctx, sess.GeneratorID, req.Shuffle, req.Repeat)
}

// Get returns the session row.
func (o *Orchestrator) Get(ctx context.Context, sessionID string) (*PlaybackSession, error) {
	return o.load(ctx, sessionID)
}

// playFor plans nav's item for the session and mutates the session's current
// item fields. Image items are served directly without a plan.
func (o *Orchestrator) playFor(ctx context.Context, sess *PlaybackSession, nav *playlist.NavigateResult, audioIndex, subtitleIndex int) (*PlayPayload, error) {
	item, err := o.catalog.GetItem(ctx, nav.Item.ItemID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.NotFound("library item", nav.Item.ItemID)
		}
		return nil, errors.Internal("failed to load item", err)
	}

	payload := &PlayPayload{
		SessionID:   sess.ID,
		GeneratorID: sess.GeneratorID,
		Item: ItemPayload{
			ItemID:      item.ID,
			Title:       item.Title,
			ParentTitle: item.ParentTitle,
			DurationMs:  item.DurationMs,
			ThumbPath:   item.ThumbPath,
			Index:       nav.Index,
		},
		TotalCount:               nav.TotalCount,
		Shuffle:                  nav.Shuffle,
		Repeat:                   nav.Repeat,
		HeartbeatIntervalSeconds: o.cfg.HeartbeatIntervalSeconds,
	}
	if item.TrickplayPath != "" {
		payload.TrickplayURL = fmt.Sprintf("/api/library/items/%s/trickplay", item.ID)
	}

	sess.CurrentItemID = item.ID
	sess.CurrentPartID = ""

	if item.Type == catalog.ItemTypeImage {
		payload.PlaybackURL = fmt.Sprintf("/api/library/items/%s/file", item.ID)
		return payload, nil
	}

	facts, err := o.catalog.GetFacts(ctx, item.ID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.NotFound("media part for item", item.ID)
		}
		return nil, errors.Internal("failed to load media facts", err)
	}
	profile, err := o.caps.GetEffective(sess.ID)
	if err != nil {
		return nil, err
	}

	plan, err := o.planner.Plan(&planner.Request{
		Facts:               facts,
		Profile:             profile,
		AudioStreamIndex:    audioIndex,
		SubtitleStreamIndex: subtitleIndex,
	})
	if err != nil {
		return nil, err
	}

	o.transcoder.Register(sess.ID, plan, facts.Part.Path, facts.Part.DurationMs)

	sess.CurrentPartID = facts.Part.ID
	payload.Plan = plan
	payload.PlaybackURL = plan.PlaybackURL()
	if payload.Item.DurationMs == 0 {
		payload.Item.DurationMs = facts.Part.DurationMs
	}
	return payload, nil
}

func (o *Orchestrator) applyCapabilities(sessionID string, declaration *capabilities.Declaration, declaredVersion int) (*capabilities.UpsertResult, error) {
	if declaration != nil {
		return o.caps.Upsert(sessionID, declaration, declaredVersion)
	}
	return o.caps.CheckVersion(sessionID, declaredVersion)
}

func (o *Orchestrator) load(ctx context.Context, sessionID string) (*PlaybackSession, error) {
	var sess PlaybackSession
	err := o.db.WithContext(ctx).First(&sess, "id = ?", sessionID).Error
	if err == gorm.ErrRecordNotFound {
		return nil, errors.NotFound("playback session", sessionID)
	}
	if err != nil {
		return nil, errors.Internal("failed to load session", err)
	}
	if sess.Expired(time.Now()) {
		return nil, errors.NotFound("playback session", sessionID)
	}
	return &sess, nil
}

func (o *Orchestrator) save(ctx context.Context, sess *PlaybackSession) error {
	if err := o.db.WithContext(ctx).Save(sess).Error; err != nil {
		return errors.Internal("failed to persist session", err)
	}
	return nil
}

func (o *Orchestrator) sessionLock(sessionID string) *sync.Mutex {
	if lock, ok := o.locks.Load(sessionID); ok {
		return lock.(*sync.Mutex)
	}
	actual, _ := o.locks.LoadOrStore(sessionID, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

func (o *Orchestrator) publish(event events.Event) {
	if o.bus != nil {
		o.bus.PublishAsync(event)
	}
}

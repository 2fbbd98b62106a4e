package transcodemodule

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shirou/gopsutil/v4/disk"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/lumira-media/lumira/internal/config"
	"github.com/lumira-media/lumira/internal/errors"
	"github.com/lumira-media/lumira/internal/events"
	"github.com/lumira-media/lumira/internal/modules/playbackmodule/planner"
	"github.com/lumira-media/lumira/internal/modules/transcodemodule/keyframes"
)

// registration binds a media part to the plan a session negotiated for it.
// Jobs are created lazily from the registration when the first manifest or
// segment request arrives.
type registration struct {
	sessionID  string
	partID     string
	variantKey string
	plan       *planner.StreamPlan
	inputPath  string
	durationMs int64
}

// Job is one live (or recently live) encoder with its exclusive output
// directory.
type Job struct {
	ID         string
	SessionID  string
	PartID     string
	VariantKey string
	Dir        string

	worker *worker

	mu       sync.Mutex
	state    JobState
	lastPing time.Time
}

func (j *Job) touch() {
	j.mu.Lock()
	j.lastPing = time.Now()
	j.mu.Unlock()
}

func (j *Job) lastPingAt() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastPing
}

func (j *Job) setState(to JobState) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state == to {
		return true
	}
	if !canTransition(j.state, to) {
		return false
	}
	j.state = to
	return true
}

func (j *Job) currentState() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Manager owns all transcode jobs. One job per (partId, variantKey); the set
// is bounded by an LRU cache whose eviction stops the worker and removes the
// directory. Entries pinged within the active window are never evicted.
type Manager struct {
	cfg       *config.TranscodeConfig
	db        *gorm.DB
	bus       events.EventBus
	logger    hclog.Logger
	keyframes *keyframes.Service

	// maxJobs is the effective cache bound; always positive, derived when
	// the config leaves MaxJobs unset.
	maxJobs int

	mu    sync.Mutex
	regs  map[string]*registration // keyed by partID
	cache *lru.Cache[string, *Job]
	// evicted holds jobs removed from the cache whose teardown is still
	// pending. Guarded by mu; teardown runs only after mu is released.
	evicted []*Job

	restarts singleflight.Group
}

// NewManager creates the job manager and its LRU cache.
func NewManager(cfg *config.TranscodeConfig, db *gorm.DB, bus events.EventBus,
	kf *keyframes.Service, logger hclog.Logger) (*Manager, error) {

	m := &Manager{
		cfg:       cfg,
		db:        db,
		bus:       bus,
		logger:    logger.Named("transcode"),
		keyframes: kf,
		regs:      make(map[string]*registration),
	}

	m.maxJobs = cfg.MaxJobs
	if m.maxJobs <= 0 {
		m.maxJobs = 32
	}
	cache, err := lru.NewWithEvict[string, *Job](m.maxJobs, m.onEvict)
	if err != nil {
		return nil, fmt.Errorf("create job cache: %w", err)
	}
	m.cache = cache
	return m, nil
}

// Migrate creates the job record table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&JobRecord{})
}

// Register makes plan the active variant for its part. Subsequent manifest
// and segment requests for the part resolve against it.
func (m *Manager) Register(sessionID string, plan *planner.StreamPlan, inputPath string, durationMs int64) {
	if plan == nil || !plan.RequiresTranscode() {
		return
	}
	m.mu.Lock()
	m.regs[plan.PartID] = &registration{
		sessionID:  sessionID,
		partID:     plan.PartID,
		variantKey: plan.VariantKey(),
		plan:       plan,
		inputPath:  inputPath,
		durationMs: durationMs,
	}
	m.mu.Unlock()
}

// Manifest serves the manifest for a part's active variant, creating the job
// on first touch. seekMs > 0 snaps to the nearest keyframe, clears the
// output directory and restarts the worker there; the returned startMs is
// the true start offset for the client's presentation clock.
func (m *Manager) Manifest(ctx context.Context, partID string, seekMs int64) (string, int64, error) {
	reg, err := m.registration(partID)
	if err != nil {
		return "", 0, err
	}

	job, err := m.ensureJob(ctx, reg)
	if err != nil {
		return "", 0, err
	}
	job.touch()

	var startMs int64
	if seekMs > 0 {
		info, err := m.keyframes.NearestKeyframe(ctx, partID, seekMs)
		if err != nil {
			return "", 0, errors.Internal("keyframe lookup failed", err)
		}
		startMs = info.KeyframeMs
		if err := m.restartJob(ctx, job, reg, startMs, m.segmentForMs(startMs)); err != nil {
			return "", 0, err
		}
	}

	manifestPath := filepath.Join(job.Dir, manifestName(reg.plan))
	if err := waitForFile(ctx, manifestPath, m.cfg.SegmentWaitTimeout()); err != nil {
		m.markFailed(job, "manifest never materialized")
		return "", 0, err
	}

	m.publishManifest(job)
	return manifestPath, startMs, nil
}

// Segment serves one segment file under the smart-segment policy. The
// returned restartMs is >= 0 when the request forced a worker restart, and
// carries the new start offset for the X-Dash-Start-Time-Ms header.
func (m *Manager) Segment(ctx context.Context, partID, fileName string) (string, int64, error) {
	if !ValidSegmentName(fileName) {
		return "", -1, errors.InvalidInput("invalid segment name").
			WithContext("file", fileName)
	}

	reg, err := m.registration(partID)
	if err != nil {
		return "", -1, err
	}
	job, err := m.ensureJob(ctx, reg)
	if err != nil {
		return "", -1, err
	}
	job.touch()

	path := filepath.Join(job.Dir, fileName)

	if IsInitSegment(fileName) {
		if err := waitForFile(ctx, path, m.cfg.SegmentWaitTimeout()); err != nil {
			return "", -1, err
		}
		return path, -1, nil
	}

	requested, ok := ParseSegmentIndex(fileName)
	if !ok {
		// No index semantics; serve or wait as-is.
		if err := waitForFile(ctx, path, m.cfg.SegmentWaitTimeout()); err != nil {
			return "", -1, err
		}
		return path, -1, nil
	}

	if fileExists(path) {
		return path, -1, nil
	}

	restartMs := int64(-1)
	current := job.worker.currentSegmentIndex()
	if ShouldRestart(requested, current, m.cfg.SegmentThreshold()) {
		restartMs = int64(requested) * int64(m.cfg.SegmentDurationSeconds) * 1000
		if err := m.restartJob(ctx, job, reg, restartMs, requested); err != nil {
			return "", -1, err
		}
		m.logger.Info("smart segment restart",
			"part_id", partID,
			"requested", requested,
			"current", current,
			"threshold", m.cfg.SegmentThreshold())
	}

	if err := waitForFile(ctx, path, m.cfg.SegmentWaitTimeout()); err != nil {
		if exitedDirty(job) {
			m.markFailed(job, "encoder exited before producing segment")
		}
		return "", -1, err
	}
	job.touch()
	return path, restartMs, nil
}

// StopSession stops the workers of all jobs a session registered. Output
// directories stay behind for LRU reuse until evicted.
func (m *Manager) StopSession(sessionID string) {
	m.mu.Lock()
	var jobs []*Job
	for partID, reg := range m.regs {
		if reg.sessionID != sessionID {
			continue
		}
		if job, ok := m.cache.Peek(jobKey(partID, reg.variantKey)); ok {
			jobs = append(jobs, job)
		}
		delete(m.regs, partID)
	}
	m.mu.Unlock()

	for _, job := range jobs {
		job.worker.stop()
		if job.setState(JobStateFinished) {
			m.persist(job, "")
		}
	}
}

// Shutdown stops every worker. Directories are left for the startup sweep.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	keys := m.cache.Keys()
	var jobs []*Job
	for _, key := range keys {
		if job, ok := m.cache.Peek(key); ok {
			jobs = append(jobs, job)
		}
	}
	m.mu.Unlock()

	for _, job := range jobs {
		job.worker.stop()
	}
}

// StartupSweep removes leftover output directories and stale job rows from a
// previous process. Transcode output is a cache; nothing survives a restart.
func (m *Manager) StartupSweep(ctx context.Context) error {
	root := m.transcodesRoot()
	entries, err := os.ReadDir(root)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read transcode root: %w", err)
	}
	removed := 0
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(root, entry.Name())); err != nil {
			m.logger.Warn("failed to remove stale transcode dir",
				"dir", entry.Name(), "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		m.logger.Info("stale transcode directories removed", "count", removed)
	}
	return m.db.WithContext(ctx).
		Where("1 = 1").
		Delete(&JobRecord{}).Error
}

func (m *Manager) registration(partID string) (*registration, error) {
	m.mu.Lock()
	reg, ok := m.regs[partID]
	m.mu.Unlock()
	if !ok {
		return nil, errors.NotFound("transcode registration", partID)
	}
	return reg, nil
}

// ensureJob returns the live job for the registration, creating and starting
// it when absent. Creation enforces the disk quota and the eviction policy.
func (m *Manager) ensureJob(ctx context.Context, reg *registration) (*Job, error) {
	key := jobKey(reg.partID, reg.variantKey)

	var job *Job
	for job == nil {
		m.mu.Lock()
		if cached, ok := m.cache.Get(key); ok {
			m.mu.Unlock()
			return cached, nil
		}

		err := m.admitLocked()
		victims := m.takeEvictedLocked()
		if err != nil || len(victims) > 0 {
			m.mu.Unlock()
			// Worker stop and directory removal never run under m.mu, so
			// other parts keep serving while victims wind down.
			m.teardown(victims)
			if err != nil {
				return nil, err
			}
			// Room was made; re-check the quota against reclaimed space.
			continue
		}

		job = &Job{
			ID:         uuid.NewString(),
			SessionID:  reg.sessionID,
			PartID:     reg.partID,
			VariantKey: reg.variantKey,
			Dir:        filepath.Join(m.transcodesRoot(), reg.partID, reg.variantKey),
			state:      JobStateStarting,
			lastPing:   time.Now(),
		}
		job.worker = newWorker(
			m.logger.With("job_id", job.ID),
			m.cfg.FFmpegPath,
			reg.inputPath,
			job.Dir,
			reg.plan,
			m.cfg.SegmentDurationSeconds,
			m.cfg.StopGrace(),
		)
		m.cache.Add(key, job)
		m.mu.Unlock()
	}

	if err := os.MkdirAll(job.Dir, 0o755); err != nil {
		m.dropJob(key)
		return nil, errors.Internal("failed to create job directory", err)
	}
	if err := job.worker.start(ctx, 0, 0); err != nil {
		m.dropJob(key)
		return nil, err
	}
	job.setState(JobStateRunning)
	m.persist(job, "")

	m.publish(events.NewTranscodeEvent(events.EventTranscodeStarted, job.ID, job.PartID, "started"))
	m.logger.Info("transcode job started",
		"job_id", job.ID,
		"part_id", job.PartID,
		"variant", job.VariantKey,
		"dir", job.Dir)
	return job, nil
}

// admitLocked enforces the disk quota and the slot bound against the
// effective capacity. When room must be made it moves one inactive victim
// out of the cache and returns nil; the caller tears the victim down with
// m.mu released and retries admission. It fails only when every cached job
// was pinged inside the active window. Caller holds m.mu.
func (m *Manager) admitLocked() error {
	if m.cfg.MinFreeDiskMB > 0 {
		free, err := m.freeDiskMB()
		if err == nil && free < m.cfg.MinFreeDiskMB {
			if !m.evictOneInactiveLocked() {
				return errors.ResourceExhausted(
					fmt.Sprintf("insufficient disk for new transcode (%d MB free)", free))
			}
			return nil
		}
	}

	if m.cache.Len() >= m.maxJobs {
		if !m.evictOneInactiveLocked() {
			return errors.ResourceExhausted("all transcode slots active")
		}
	}
	return nil
}

// evictOneInactiveLocked moves the least recently used job that is either
// terminal or outside the active window onto the pending-teardown list.
// Returns false when every cached job is still active. Caller holds m.mu.
func (m *Manager) evictOneInactiveLocked() bool {
	for _, key := range m.cache.Keys() { // oldest first
		job, ok := m.cache.Peek(key)
		if !ok {
			continue
		}
		if job.currentState().Terminal() ||
			time.Since(job.lastPingAt()) >= m.cfg.ActiveWindow() {
			m.cache.Remove(key)
			return true
		}
	}
	return false
}

// restartJob clears the output directory and relaunches the worker at the
// given offset. Concurrent restart requests for one job collapse into one.
func (m *Manager) restartJob(ctx context.Context, job *Job, reg *registration, fromMs int64, firstSegment int) error {
	key := fmt.Sprintf("%s@%d", job.ID, firstSegment)
	_, err, _ := m.restarts.Do(key, func() (interface{}, error) {
		job.worker.stop()
		if err := clearDir(job.Dir); err != nil {
			return nil, errors.Internal("failed to clear job directory", err)
		}
		if err := job.worker.start(ctx, fromMs, firstSegment); err != nil {
			m.markFailed(job, err.Error())
			return nil, err
		}
		job.setState(JobStateRunning)
		m.persist(job, "")
		m.publish(events.NewTranscodeEvent(events.EventTranscodeRestarted, job.ID, job.PartID, "restarted"))
		return nil, nil
	})
	return err
}

// onEvict is the LRU callback. The cache only mutates under m.mu, so it
// must not block: it records the job and teardown runs after the lock is
// released.
func (m *Manager) onEvict(key string, job *Job) {
	m.evicted = append(m.evicted, job)
}

// takeEvictedLocked drains the pending-teardown list. Caller holds m.mu.
func (m *Manager) takeEvictedLocked() []*Job {
	jobs := m.evicted
	m.evicted = nil
	return jobs
}

// teardown stops and purges jobs already removed from the cache. Never call
// with m.mu held: a worker stop can take the full grace period.
func (m *Manager) teardown(jobs []*Job) {
	for _, job := range jobs {
		job.worker.stop()
		if err := os.RemoveAll(job.Dir); err != nil {
			m.logger.Warn("failed to remove evicted job directory",
				"job_id", job.ID, "dir", job.Dir, "error", err)
		}
		if !job.currentState().Terminal() {
			job.setState(JobStateFinished)
		}
		m.persist(job, "")
		m.publish(events.NewTranscodeEvent(events.EventTranscodeEvicted, job.ID, job.PartID, "evicted"))
		m.logger.Info("transcode job evicted", "job_id", job.ID, "part_id", job.PartID)
	}
}

// dropJob discards a job that never started cleanly.
func (m *Manager) dropJob(key string) {
	m.mu.Lock()
	m.cache.Remove(key)
	victims := m.takeEvictedLocked()
	m.mu.Unlock()

	for _, job := range victims {
		job.worker.stop()
		if err := os.RemoveAll(job.Dir); err != nil && !os.IsNotExist(err) {
			m.logger.Warn("failed to remove dropped job directory",
				"job_id", job.ID, "dir", job.Dir, "error", err)
		}
	}
}

func (m *Manager) markFailed(job *Job, message string) {
	if job.setState(JobStateFailed) {
		m.persist(job, message)
		m.publish(events.NewTranscodeEvent(events.EventTranscodeFailed, job.ID, job.PartID, "failed"))
	}
}

func (m *Manager) persist(job *Job, errorMessage string) {
	record := &JobRecord{
		ID:             job.ID,
		SessionID:      job.SessionID,
		PartID:         job.PartID,
		VariantKey:     job.VariantKey,
		State:          job.currentState(),
		OutputDir:      job.Dir,
		ErrorMessage:   errorMessage,
		LastPingAt:     job.lastPingAt(),
		CurrentSegment: job.worker.currentSegmentIndex(),
	}
	if err := m.db.Save(record).Error; err != nil {
		m.logger.Warn("failed to persist job record", "job_id", job.ID, "error", err)
	}
}

func (m *Manager) publish(event events.Event) {
	if m.bus != nil {
		m.bus.PublishAsync(event)
	}
}

func (m *Manager) publishManifest(job *Job) {
	m.publish(events.NewTranscodeEvent(events.EventManifestUpdated, job.ID, job.PartID, "manifest"))
}

func (m *Manager) transcodesRoot() string {
	return filepath.Join(m.cfg.DataDir, "transcodes")
}

func (m *Manager) freeDiskMB() (uint64, error) {
	usage, err := disk.Usage(m.cfg.DataDir)
	if err != nil {
		return 0, err
	}
	return usage.Free / (1024 * 1024), nil
}

func (m *Manager) segmentForMs(ms int64) int {
	segMs := int64(m.cfg.SegmentDurationSeconds) * 1000
	if segMs <= 0 {
		return 0
	}
	return int(ms / segMs)
}

func manifestName(plan *planner.StreamPlan) string {
	if plan.Protocol == planner.ProtocolHls {
		return "master.m3u8"
	}
	return "manifest.mpd"
}

func jobKey(partID, variantKey string) string {
	return partID + "/" + variantKey
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func clearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return os.MkdirAll(dir, 0o755)
		}
		return err
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

func exitedDirty(job *Job) bool {
	done, err := job.worker.exited()
	return done && err != nil
}

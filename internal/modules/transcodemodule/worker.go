package transcodemodule

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/lumira-media/lumira/internal/errors"
	"github.com/lumira-media/lumira/internal/modules/playbackmodule/planner"
	"github.com/lumira-media/lumira/internal/modules/transcodemodule/ffmpeg"
)

// worker supervises one encoder process writing segments into one exclusive
// output directory. Readiness is observed through the filesystem only; the
// toolchain's stdout is never parsed for correctness.
type worker struct {
	logger         hclog.Logger
	ffmpegPath     string
	inputPath      string
	outputDir      string
	plan           *planner.StreamPlan
	segmentSeconds int
	stopGrace      time.Duration

	mu           sync.Mutex
	cmd          *exec.Cmd
	done         chan struct{}
	exitErr      error
	started      bool
	startSegment int
}

func newWorker(logger hclog.Logger, ffmpegPath, inputPath, outputDir string,
	plan *planner.StreamPlan, segmentSeconds int, stopGrace time.Duration) *worker {
	return &worker{
		logger:         logger,
		ffmpegPath:     ffmpegPath,
		inputPath:      inputPath,
		outputDir:      outputDir,
		plan:           plan,
		segmentSeconds: segmentSeconds,
		stopGrace:      stopGrace,
	}
}

// start launches the encoder at the given input offset, numbering segments
// from firstSegment. A running process is stopped first.
func (w *worker) start(ctx context.Context, fromMs int64, firstSegment int) error {
	w.stop()

	w.mu.Lock()
	defer w.mu.Unlock()

	args := ffmpeg.BuildArgs(&ffmpeg.Request{
		InputPath:              w.inputPath,
		OutputDir:              w.outputDir,
		Plan:                   w.plan,
		SegmentDurationSeconds: w.segmentSeconds,
		StartMs:                fromMs,
		StartNumber:            firstSegment,
	})

	cmd := exec.Command(w.ffmpegPath, args...)
	cmd.Dir = w.outputDir
	if err := cmd.Start(); err != nil {
		return errors.EncoderFailed("failed to start encoder", err)
	}

	w.cmd = cmd
	w.done = make(chan struct{})
	w.exitErr = nil
	w.started = true
	w.startSegment = firstSegment

	w.logger.Debug("encoder started",
		"pid", cmd.Process.Pid,
		"from_ms", fromMs,
		"first_segment", firstSegment)

	done := w.done
	go func() {
		err := cmd.Wait()
		w.mu.Lock()
		w.exitErr = err
		w.mu.Unlock()
		close(done)
	}()
	return nil
}

// stop terminates the encoder, escalating to SIGKILL after the grace period.
func (w *worker) stop() {
	w.mu.Lock()
	cmd, done := w.cmd, w.done
	w.cmd = nil
	w.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return
	}

	_ = cmd.Process.Signal(os.Interrupt)
	select {
	case <-done:
	case <-time.After(w.stopGrace):
		w.logger.Warn("encoder ignored interrupt, killing", "pid", cmd.Process.Pid)
		_ = cmd.Process.Kill()
		<-done
	}
}

// running reports whether the process is still alive.
func (w *worker) running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cmd == nil {
		return false
	}
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

// exited returns (true, err) once the process has ended. A nil err means a
// clean end-of-input exit.
func (w *worker) exited() (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done == nil {
		return false, nil
	}
	select {
	case <-w.done:
		return true, w.exitErr
	default:
		return false, nil
	}
}

// currentSegmentIndex derives the encoder's production point from the
// segment files on disk: one past the highest completed chunk. Returns
// UnknownSegment before the worker ever started.
func (w *worker) currentSegmentIndex() int {
	w.mu.Lock()
	started := w.started
	startSegment := w.startSegment
	w.mu.Unlock()

	if !started {
		return UnknownSegment
	}

	entries, err := os.ReadDir(w.outputDir)
	if err != nil {
		return UnknownSegment
	}

	highest := -1
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "chunk-") {
			continue
		}
		if index, ok := ParseSegmentIndex(name); ok && index > highest {
			highest = index
		}
	}
	if highest < 0 {
		// Nothing landed yet; the encoder is working on its first segment.
		return startSegment
	}
	return highest + 1
}

package transcodemodule

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/lumira-media/lumira/internal/errors"
)

// stabilityDelay is how long a segment file must sit unchanged before it is
// considered fully written. The muxer writes segments in one pass, so a
// short settle window is enough.
const stabilityDelay = 150 * time.Millisecond

// pollInterval backs up the watcher in case events are dropped.
const pollInterval = 500 * time.Millisecond

// waitForFile blocks until path exists and has been stable for
// stabilityDelay, or the timeout/context expires. Directory events and timed
// polling are combined so neither missed events nor slow filesystems wedge
// the wait.
func waitForFile(ctx context.Context, path string, timeout time.Duration) error {
	if fileReady(path) {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Internal("failed to create file watcher", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return errors.Internal("failed to watch segment directory", err)
	}

	// The file may have appeared between the first check and the watch.
	if fileReady(path) {
		return nil
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return errors.Timeout("timed out waiting for " + filepath.Base(path))
		case event, ok := <-watcher.Events:
			if !ok {
				return errors.Internal("file watcher closed", nil)
			}
			if event.Name == path && event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				if waitStable(ctx, path) {
					return nil
				}
			}
		case <-watcher.Errors:
			// Fall back to polling.
		case <-ticker.C:
			if fileReady(path) {
				return nil
			}
		}
	}
}

// fileReady reports whether the file exists and has not been modified within
// the stability window.
func fileReady(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return time.Since(info.ModTime()) >= stabilityDelay
}

// waitStable sleeps out the stability window and confirms the size stopped
// moving.
func waitStable(ctx context.Context, path string) bool {
	before, err := os.Stat(path)
	if err != nil {
		return false
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(stabilityDelay):
	}
	after, err := os.Stat(path)
	if err != nil {
		return false
	}
	return before.Size() == after.Size()
}

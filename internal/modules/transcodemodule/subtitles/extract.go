package subtitles

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/lumira-media/lumira/internal/errors"
)

// Extractor pulls embedded text subtitle streams out of media files into an
// on-disk cache, one SRT file per (source, stream index).
type Extractor struct {
	ffmpegPath string
	cacheDir   string
	logger     hclog.Logger
}

// NewExtractor creates a subtitle extractor caching under cacheDir.
func NewExtractor(ffmpegPath, cacheDir string, logger hclog.Logger) *Extractor {
	return &Extractor{
		ffmpegPath: ffmpegPath,
		cacheDir:   cacheDir,
		logger:     logger.Named("subtitles"),
	}
}

// Track extracts (or reuses) the stream and parses it into cues. Only text
// formats can be extracted; image subtitles are burned in by the planner and
// never reach this path.
func (e *Extractor) Track(ctx context.Context, inputPath string, streamIndex int, codec string) (*Track, error) {
	format := normalizeFormat(codec)
	if !textFormat(format) {
		return nil, errors.InvalidInput(fmt.Sprintf("subtitle codec %q cannot be extracted as text", codec))
	}

	cached, err := e.extract(ctx, inputPath, streamIndex)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(cached)
	if err != nil {
		return nil, errors.Internal("failed to open extracted subtitles", err)
	}
	defer file.Close()

	return ParseSRT(file)
}

// extract writes the stream to the cache as SRT and returns the path. An
// existing cache file is reused.
func (e *Extractor) extract(ctx context.Context, inputPath string, streamIndex int) (string, error) {
	target := e.cachePath(inputPath, streamIndex)
	if info, err := os.Stat(target); err == nil && info.Size() > 0 {
		return target, nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", errors.Internal("failed to create subtitle cache dir", err)
	}

	tmp := target + ".tmp"
	cmd := exec.CommandContext(ctx, e.ffmpegPath,
		"-hide_banner",
		"-loglevel", "error",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-map", fmt.Sprintf("0:%d", streamIndex),
		"-f", "srt",
		tmp,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		os.Remove(tmp)
		e.logger.Error("subtitle extraction failed",
			"input", inputPath,
			"stream", streamIndex,
			"output", strings.TrimSpace(string(output)))
		return "", errors.EncoderFailed("subtitle extraction failed", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return "", errors.Internal("failed to finalize subtitle cache file", err)
	}

	e.logger.Debug("subtitle stream extracted",
		"input", inputPath, "stream", streamIndex, "cache", target)
	return target, nil
}

func (e *Extractor) cachePath(inputPath string, streamIndex int) string {
	sum := sha256.Sum256([]byte(inputPath))
	name := fmt.Sprintf("%s-%d.srt", hex.EncodeToString(sum[:8]), streamIndex)
	return filepath.Join(e.cacheDir, "subtitles", name)
}

func normalizeFormat(codec string) string {
	switch strings.ToLower(codec) {
	case "srt", "subrip":
		return "srt"
	case "ass", "ssa":
		return "ass"
	case "vtt", "webvtt":
		return "vtt"
	default:
		return strings.ToLower(codec)
	}
}

func textFormat(format string) bool {
	switch format {
	case "srt", "ass", "vtt":
		return true
	default:
		return false
	}
}

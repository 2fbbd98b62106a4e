package transcodemodule

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lumira-media/lumira/internal/catalog"
	"github.com/lumira-media/lumira/internal/errors"
	"github.com/lumira-media/lumira/internal/modules/transcodemodule/subtitles"
)

// StartTimeHeader carries the true start offset of a restarted stream so the
// client can align its presentation clock.
const StartTimeHeader = "X-Dash-Start-Time-Ms"

func (m *Module) handleManifest(c *gin.Context) {
	partID := c.Param("partId")

	var seekMs int64
	if raw := c.Query("seekMs"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			errors.Respond(c, errors.InvalidInput("seekMs must be a non-negative integer"))
			return
		}
		seekMs = parsed
	}

	path, startMs, err := m.manager.Manifest(c.Request.Context(), partID, seekMs)
	if err != nil {
		errors.Respond(c, err)
		return
	}

	if seekMs > 0 {
		c.Header(StartTimeHeader, strconv.FormatInt(startMs, 10))
	}
	c.Header("Cache-Control", "no-cache")
	c.Header("Content-Type", manifestContentType(path))
	c.File(path)
}

func (m *Module) handleSegment(c *gin.Context) {
	partID := c.Param("partId")
	fileName := c.Param("fileName")

	path, restartMs, err := m.manager.Segment(c.Request.Context(), partID, fileName)
	if err != nil {
		errors.Respond(c, err)
		return
	}

	if restartMs >= 0 {
		c.Header(StartTimeHeader, strconv.FormatInt(restartMs, 10))
	}
	c.Header("Content-Type", segmentContentType(fileName))
	c.File(path)
}

// handleSubtitle serves stream.{vtt,srt,ass} and playlist.m3u8 for one
// embedded subtitle stream.
func (m *Module) handleSubtitle(c *gin.Context) {
	partID := c.Param("partId")
	fileName := c.Param("fileName")

	streamIndex, err := strconv.Atoi(c.Param("streamIndex"))
	if err != nil || streamIndex < 0 {
		errors.Respond(c, errors.InvalidInput("invalid subtitle stream index"))
		return
	}

	part, stream, lookupErr := m.subtitleStream(c, partID, streamIndex)
	if lookupErr != nil {
		errors.Respond(c, lookupErr)
		return
	}

	if fileName == "playlist.m3u8" {
		segmentLength, _ := strconv.Atoi(c.DefaultQuery("segmentLength", "10"))
		playlist := subtitles.BuildPlaylist(part.DurationMs, segmentLength)
		c.Header("Content-Type", "application/vnd.apple.mpegurl")
		c.String(http.StatusOK, playlist)
		return
	}

	format := strings.TrimPrefix(fileName, "stream.")
	if format == fileName || !validSubtitleTarget(format) {
		errors.Respond(c, errors.InvalidInput(fmt.Sprintf("unsupported subtitle file %q", fileName)))
		return
	}

	track, err := m.extractor.Track(c.Request.Context(), part.Path, stream.Index, stream.Codec)
	if err != nil {
		errors.Respond(c, err)
		return
	}

	startTicks, _ := strconv.ParseInt(c.Query("startPositionTicks"), 10, 64)
	endTicks, _ := strconv.ParseInt(c.Query("endPositionTicks"), 10, 64)

	switch format {
	case "vtt":
		c.Header("Content-Type", "text/vtt; charset=utf-8")
		_ = subtitles.WriteVTT(c.Writer, track, subtitles.VTTOptions{
			StartTicks: startTicks,
			EndTicks:   endTicks,
			AddTimeMap: c.Query("addVttTimeMap") == "true",
		})
	case "srt":
		c.Header("Content-Type", "application/x-subrip; charset=utf-8")
		_ = subtitles.WriteSRT(c.Writer, track, startTicks, endTicks)
	case "ass":
		// Rendered from the common cue model; style blocks are dropped
		// during extraction, so serve the SRT rendition under the ass name.
		c.Header("Content-Type", "text/x-ssa; charset=utf-8")
		_ = subtitles.WriteSRT(c.Writer, track, startTicks, endTicks)
	}
}

func (m *Module) subtitleStream(c *gin.Context, partID string, streamIndex int) (*catalog.MediaPart, *catalog.MediaStream, error) {
	facts, err := m.catalog.GetFactsForPart(c.Request.Context(), partID)
	if err != nil {
		return nil, nil, errors.NotFound("media part", partID)
	}
	for i := range facts.SubtitleStreams {
		if facts.SubtitleStreams[i].Index == streamIndex {
			return &facts.Part, &facts.SubtitleStreams[i], nil
		}
	}
	return nil, nil, errors.NotFound("subtitle stream",
		fmt.Sprintf("%s/%d", partID, streamIndex))
}

func validSubtitleTarget(format string) bool {
	switch format {
	case "vtt", "srt", "ass":
		return true
	default:
		return false
	}
}

func manifestContentType(path string) string {
	if strings.HasSuffix(path, ".m3u8") {
		return "application/vnd.apple.mpegurl"
	}
	return "application/dash+xml"
}

func segmentContentType(fileName string) string {
	switch {
	case strings.HasSuffix(fileName, ".m4s"), strings.HasSuffix(fileName, ".mp4"):
		return "video/mp4"
	case strings.HasSuffix(fileName, ".m3u8"):
		return "application/vnd.apple.mpegurl"
	case strings.HasSuffix(fileName, ".mpd"):
		return "application/dash+xml"
	case strings.HasSuffix(fileName, ".ts"):
		return "video/mp2t"
	default:
		return "application/octet-stream"
	}
}

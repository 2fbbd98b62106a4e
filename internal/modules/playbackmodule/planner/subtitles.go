package planner

import (
	"fmt"
	"strings"

	"github.com/lumira-media/lumira/internal/catalog"
	"github.com/lumira-media/lumira/internal/modules/playbackmodule/capabilities"
)

// Subtitle formats after normalization.
const (
	subFormatSRT    = "srt"
	subFormatASS    = "ass"
	subFormatVTT    = "vtt"
	subFormatPGS    = "pgs"
	subFormatDVDSub = "dvdsub"
)

// planSubtitle decides delivery for the selected subtitle stream. The
// client's subtitle profiles are consulted in declaration order; without a
// match, text subtitles fall back to a converted VTT sidecar and image
// subtitles must be burned in.
func planSubtitle(caps *capabilities.Capabilities, part *catalog.MediaPart, stream *catalog.MediaStream) *SubtitleDelivery {
	if stream == nil {
		return nil
	}

	format := normalizeSubtitleFormat(stream.Codec)

	for _, sp := range caps.SubtitleProfiles {
		if !subtitleFormatMatches(sp.Format, format) {
			continue
		}
		delivery := &SubtitleDelivery{
			StreamIndex: stream.Index,
			Method:      sp.Method,
			Format:      format,
		}
		switch sp.Method {
		case capabilities.SubtitleMethodExternal:
			if !isTextSubtitle(format) {
				// Image subtitles cannot be served as a sidecar.
				continue
			}
			delivery.Format = subFormatVTT
			delivery.URL = subtitleSidecarURL(part.ID, stream.Index)
		case capabilities.SubtitleMethodEmbed, capabilities.SubtitleMethodEncode:
			// Delivered inside the output; no URL.
		default:
			continue
		}
		return delivery
	}

	if isTextSubtitle(format) {
		return &SubtitleDelivery{
			StreamIndex: stream.Index,
			Method:      capabilities.SubtitleMethodExternal,
			Format:      subFormatVTT,
			URL:         subtitleSidecarURL(part.ID, stream.Index),
		}
	}

	return &SubtitleDelivery{
		StreamIndex: stream.Index,
		Method:      capabilities.SubtitleMethodEncode,
		Format:      format,
	}
}

// normalizeSubtitleFormat folds the ffprobe codec aliases into one name per
// format.
func normalizeSubtitleFormat(codec string) string {
	switch strings.ToLower(codec) {
	case "srt", "subrip":
		return subFormatSRT
	case "ass", "ssa":
		return subFormatASS
	case "vtt", "webvtt":
		return subFormatVTT
	case "pgs", "pgssub", "hdmv_pgs_subtitle":
		return subFormatPGS
	case "dvdsub", "dvd_subtitle", "vobsub":
		return subFormatDVDSub
	default:
		return strings.ToLower(codec)
	}
}

func isTextSubtitle(format string) bool {
	switch format {
	case subFormatSRT, subFormatASS, subFormatVTT:
		return true
	default:
		return false
	}
}

func subtitleFormatMatches(declared, format string) bool {
	if declared == "" {
		return true
	}
	for _, candidate := range strings.Split(declared, ",") {
		if normalizeSubtitleFormat(strings.TrimSpace(candidate)) == format {
			return true
		}
	}
	return false
}

func subtitleSidecarURL(partID string, streamIndex int) string {
	return fmt.Sprintf("/api/transcode/subtitle/part/%s/stream/%d/stream.vtt", partID, streamIndex)
}

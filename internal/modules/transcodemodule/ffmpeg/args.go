// Package ffmpeg builds encoder command lines from stream plans. The command
// is the only coupling to the toolchain; the manager never parses its output.
package ffmpeg

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/lumira-media/lumira/internal/modules/playbackmodule/planner"
)

// Request describes one encoder invocation.
type Request struct {
	InputPath string
	OutputDir string
	Plan      *planner.StreamPlan

	SegmentDurationSeconds int
	// StartMs is the keyframe-aligned input offset.
	StartMs int64
	// StartNumber is the index of the first segment produced.
	StartNumber int
}

// BuildArgs returns the full argument list for one worker process.
func BuildArgs(req *Request) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-nostdin",
	}

	if req.StartMs > 0 {
		// Input-side seek lands on the previous keyframe cheaply.
		args = append(args, "-ss", formatSeconds(req.StartMs))
	}

	plan := req.Plan
	if plan.UseHardwareAcceleration {
		args = append(args, "-hwaccel", "auto")
	}

	args = append(args, "-i", req.InputPath)
	args = append(args, mapArgs(plan)...)
	args = append(args, videoArgs(plan, req.InputPath, req.SegmentDurationSeconds)...)
	args = append(args, audioArgs(plan)...)

	switch plan.Protocol {
	case planner.ProtocolHls:
		args = append(args, hlsMuxerArgs(req)...)
	default:
		args = append(args, dashMuxerArgs(req)...)
	}
	return args
}

func mapArgs(plan *planner.StreamPlan) []string {
	var args []string
	if plan.VideoStreamIndex >= 0 {
		args = append(args, "-map", fmt.Sprintf("0:%d", plan.VideoStreamIndex))
	}
	if plan.AudioStreamIndex >= 0 {
		args = append(args, "-map", fmt.Sprintf("0:%d", plan.AudioStreamIndex))
	}
	// Embedded subtitles ride along; burned-in ones are a video filter.
	if plan.Subtitle != nil && plan.Subtitle.Method == "embed" && plan.SubtitleStreamIndex >= 0 {
		args = append(args, "-map", fmt.Sprintf("0:%d", plan.SubtitleStreamIndex), "-c:s", "mov_text")
	}
	return args
}

func videoArgs(plan *planner.StreamPlan, inputPath string, segmentSeconds int) []string {
	if plan.VideoStreamIndex < 0 {
		return nil
	}
	if plan.CopyVideo {
		return []string{"-c:v", "copy"}
	}

	args := []string{"-c:v", videoEncoder(plan)}

	if filters := videoFilters(plan, inputPath); len(filters) > 0 {
		args = append(args, "-vf", strings.Join(filters, ","))
	}
	if plan.TargetBitrateBps > 0 {
		kbps := plan.TargetBitrateBps / 1000
		args = append(args,
			"-b:v", fmt.Sprintf("%dk", kbps),
			"-maxrate", fmt.Sprintf("%dk", kbps*12/10),
			"-bufsize", fmt.Sprintf("%dk", kbps*2),
		)
	} else {
		args = append(args, "-crf", "21")
	}
	args = append(args,
		"-preset", "veryfast",
		"-pix_fmt", "yuv420p",
		// Segment boundaries must be keyframes or restarts misalign.
		"-force_key_frames", fmt.Sprintf("expr:gte(t,n_forced*%d)", segmentSeconds),
	)
	return args
}

func videoEncoder(plan *planner.StreamPlan) string {
	switch strings.ToLower(plan.VideoCodec) {
	case "hevc", "h265":
		if plan.UseHardwareAcceleration {
			return "hevc_nvenc"
		}
		return "libx265"
	case "vp9":
		return "libvpx-vp9"
	case "av1":
		return "libsvtav1"
	default:
		if plan.UseHardwareAcceleration {
			return "h264_nvenc"
		}
		return "libx264"
	}
}

func videoFilters(plan *planner.StreamPlan, inputPath string) []string {
	var filters []string
	if plan.TargetWidth > 0 && plan.TargetHeight > 0 {
		filters = append(filters, fmt.Sprintf("scale=%d:%d:flags=lanczos", plan.TargetWidth, plan.TargetHeight))
	}
	if plan.EnableToneMapping {
		filters = append(filters,
			"zscale=t=linear:npl=100",
			"tonemap=tonemap=hable:desat=0",
			"zscale=t=bt709:m=bt709:r=tv")
	}
	if plan.Subtitle != nil && plan.Subtitle.Method == "encode" && plan.SubtitleStreamIndex >= 0 {
		filters = append(filters, fmt.Sprintf("subtitles='%s':si=%d",
			escapeFilterPath(inputPath), plan.SubtitleStreamIndex))
	}
	return filters
}

func audioArgs(plan *planner.StreamPlan) []string {
	if plan.AudioStreamIndex < 0 {
		return nil
	}
	if plan.CopyAudio {
		return []string{"-c:a", "copy"}
	}

	args := []string{"-c:a", audioEncoder(plan)}
	if plan.TargetChannels > 0 {
		args = append(args, "-ac", fmt.Sprintf("%d", plan.TargetChannels))
	}
	if plan.VideoStreamIndex < 0 && plan.TargetBitrateBps > 0 {
		// Audio-only plans carry the bitrate cap on the audio stream.
		args = append(args, "-b:a", fmt.Sprintf("%dk", plan.TargetBitrateBps/1000))
	} else {
		args = append(args, "-b:a", "192k")
	}
	args = append(args, "-ar", "48000")
	return args
}

func audioEncoder(plan *planner.StreamPlan) string {
	switch strings.ToLower(plan.AudioCodec) {
	case "opus":
		return "libopus"
	case "mp3":
		return "libmp3lame"
	case "flac":
		return "flac"
	default:
		return "aac"
	}
}

func dashMuxerArgs(req *Request) []string {
	return []string{
		"-f", "dash",
		"-dash_segment_type", "mp4",
		"-seg_duration", fmt.Sprintf("%d", req.SegmentDurationSeconds),
		"-use_template", "1",
		"-use_timeline", "0",
		"-single_file", "0",
		"-window_size", "0",
		"-remove_at_exit", "0",
		"-streaming", "0",
		"-init_seg_name", "init-stream$RepresentationID$.mp4",
		"-media_seg_name", "chunk-stream$RepresentationID$-$Number%05d$.m4s",
		"-start_number", fmt.Sprintf("%d", req.StartNumber),
		filepath.Join(req.OutputDir, "manifest.mpd"),
	}
}

func hlsMuxerArgs(req *Request) []string {
	return []string{
		"-f", "hls",
		"-hls_time", fmt.Sprintf("%d", req.SegmentDurationSeconds),
		"-hls_playlist_type", "event",
		"-hls_segment_type", "fmp4",
		"-hls_flags", "independent_segments",
		"-start_number", fmt.Sprintf("%d", req.StartNumber),
		"-hls_fmp4_init_filename", "init-stream0.mp4",
		"-hls_segment_filename", filepath.Join(req.OutputDir, "chunk-stream0-%05d.m4s"),
		filepath.Join(req.OutputDir, "master.m3u8"),
	}
}

func formatSeconds(ms int64) string {
	return fmt.Sprintf("%d.%03d", ms/1000, ms%1000)
}

func escapeFilterPath(path string) string {
	replacer := strings.NewReplacer(`'`, `\'`, `:`, `\:`)
	return replacer.Replace(path)
}

// Package planner decides how a media part reaches a client: direct play,
// direct stream (remux) or transcode. The decision is a pure function of the
// source facts and the session's capability profile.
package planner

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Mode is the playback delivery mode.
type Mode string

const (
	ModeDirectPlay   Mode = "DirectPlay"
	ModeDirectStream Mode = "DirectStream"
	ModeTranscode    Mode = "Transcode"
)

// Protocol is the delivery protocol for the chosen mode.
type Protocol string

const (
	ProtocolProgressive Protocol = "progressive"
	ProtocolDash        Protocol = "dash"
	ProtocolHls         Protocol = "hls"
)

// TranscodeReason is a bitfield naming why a transcode was required.
type TranscodeReason int

const (
	ReasonContainer     TranscodeReason = 1
	ReasonVideoCodec    TranscodeReason = 2
	ReasonAudioCodec    TranscodeReason = 4
	ReasonSubtitleCodec TranscodeReason = 8
	ReasonVideoBitrate  TranscodeReason = 16
	ReasonAudioBitrate  TranscodeReason = 32
	ReasonResolution    TranscodeReason = 64
	ReasonVideoLevel    TranscodeReason = 128
	ReasonVideoProfile  TranscodeReason = 256
	ReasonRefFrames     TranscodeReason = 512
	ReasonBitDepth      TranscodeReason = 1024
	ReasonAudioChannels TranscodeReason = 2048
	ReasonSampleRate    TranscodeReason = 4096
)

var reasonNames = []struct {
	flag TranscodeReason
	name string
}{
	{ReasonContainer, "Container"},
	{ReasonVideoCodec, "VideoCodec"},
	{ReasonAudioCodec, "AudioCodec"},
	{ReasonSubtitleCodec, "SubtitleCodec"},
	{ReasonVideoBitrate, "VideoBitrate"},
	{ReasonAudioBitrate, "AudioBitrate"},
	{ReasonResolution, "Resolution"},
	{ReasonVideoLevel, "VideoLevel"},
	{ReasonVideoProfile, "VideoProfile"},
	{ReasonRefFrames, "RefFrames"},
	{ReasonBitDepth, "BitDepth"},
	{ReasonAudioChannels, "AudioChannels"},
	{ReasonSampleRate, "SampleRate"},
}

// String renders the set flags for logs.
func (r TranscodeReason) String() string {
	if r == 0 {
		return "None"
	}
	var names []string
	for _, entry := range reasonNames {
		if r&entry.flag != 0 {
			names = append(names, entry.name)
		}
	}
	return strings.Join(names, "|")
}

// Has reports whether the flag is set.
func (r TranscodeReason) Has(flag TranscodeReason) bool {
	return r&flag != 0
}

// SubtitleDelivery describes how a selected subtitle stream reaches the
// client.
type SubtitleDelivery struct {
	StreamIndex int    `json:"streamIndex"`
	Method      string `json:"method"` // external, embed, encode
	Format      string `json:"format"`
	URL         string `json:"url,omitempty"`
}

// StreamPlan is the derived playback decision. It is never stored; replanning
// identical inputs must yield an identical plan.
type StreamPlan struct {
	Mode     Mode     `json:"mode"`
	Protocol Protocol `json:"protocol"`

	PartID    string `json:"partId"`
	Container string `json:"container"`

	DirectURL   string `json:"directUrl,omitempty"`
	ManifestURL string `json:"manifestUrl,omitempty"`

	VideoStreamIndex    int `json:"videoStreamIndex"`
	AudioStreamIndex    int `json:"audioStreamIndex"`
	SubtitleStreamIndex int `json:"subtitleStreamIndex"`

	VideoCodec string `json:"videoCodec,omitempty"`
	AudioCodec string `json:"audioCodec,omitempty"`

	CopyVideo bool `json:"copyVideo"`
	CopyAudio bool `json:"copyAudio"`

	EnableToneMapping       bool `json:"enableToneMapping"`
	UseHardwareAcceleration bool `json:"useHardwareAcceleration"`

	TranscodeReasons TranscodeReason `json:"transcodeReasons"`

	TargetBitrateBps int64 `json:"targetBitrateBps,omitempty"`
	TargetWidth      int   `json:"targetWidth,omitempty"`
	TargetHeight     int   `json:"targetHeight,omitempty"`
	TargetChannels   int   `json:"targetChannels,omitempty"`

	Subtitle *SubtitleDelivery `json:"subtitle,omitempty"`
}

// RequiresTranscode reports whether a live encoder job backs this plan.
func (p *StreamPlan) RequiresTranscode() bool {
	return p.Mode == ModeTranscode || p.Mode == ModeDirectStream
}

// PlaybackURL is the URL a client should load for this plan.
func (p *StreamPlan) PlaybackURL() string {
	if p.Mode == ModeDirectPlay {
		return p.DirectURL
	}
	return p.ManifestURL
}

// VariantKey names the reusable transcode output for this plan. Plans that
// differ in codecs, bitrate, resolution, protocol or burned-in subtitles must
// never share an output directory.
func (p *StreamPlan) VariantKey() string {
	if !p.RequiresTranscode() {
		return ""
	}

	burnIn := -1
	if p.Subtitle != nil && p.Subtitle.Method == "encode" {
		burnIn = p.Subtitle.StreamIndex
	}

	raw := fmt.Sprintf("%s|%s|%s|%s|%d|%dx%d|%d|a%d|s%d|cv%t|ca%t",
		p.Protocol, p.Container, p.VideoCodec, p.AudioCodec,
		p.TargetBitrateBps, p.TargetWidth, p.TargetHeight,
		p.TargetChannels, p.AudioStreamIndex, burnIn,
		p.CopyVideo, p.CopyAudio)

	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:8])
}

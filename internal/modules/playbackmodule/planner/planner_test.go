package planner

import (
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumira-media/lumira/internal/catalog"
	"github.com/lumira-media/lumira/internal/modules/playbackmodule/capabilities"
)

func newTestPlanner() *Planner {
	return New(hclog.NewNullLogger(), Options{})
}

func h264Facts() *catalog.MediaFacts {
	return &catalog.MediaFacts{
		Part: catalog.MediaPart{
			ID:         "part-1",
			Container:  "mp4",
			DurationMs: 7_200_000,
			BitrateBps: 8_000_000,
		},
		VideoStreams: []catalog.MediaStream{
			{Index: 0, Type: catalog.StreamTypeVideo, Codec: "h264", Profile: "high",
				Level: 41, Width: 1920, Height: 1080, BitrateBps: 7_500_000, BitDepth: 8},
		},
		AudioStreams: []catalog.MediaStream{
			{Index: 1, Type: catalog.StreamTypeAudio, Codec: "aac", Channels: 2,
				SampleRate: 48000, BitrateBps: 256_000, IsDefault: true},
		},
	}
}

func hevcMkvFacts() *catalog.MediaFacts {
	facts := h264Facts()
	facts.Part.Container = "mkv"
	facts.VideoStreams[0].Codec = "hevc"
	facts.VideoStreams[0].Profile = "main10"
	facts.VideoStreams[0].BitDepth = 10
	return facts
}

func browserProfile() *capabilities.Profile {
	return &capabilities.Profile{
		SessionID: "sess-1",
		Version:   1,
		Capabilities: capabilities.Capabilities{
			MaxStreamingBitrate: 20_000_000,
			DirectPlayProfiles: []capabilities.DirectPlayProfile{
				{Type: capabilities.MediaTypeVideo, Container: "mp4",
					VideoCodec: "h264", AudioCodec: "aac,mp3"},
			},
			TranscodingProfiles: []capabilities.TranscodingProfile{
				{Type: capabilities.MediaTypeVideo, Container: "mp4",
					Protocol: capabilities.ProtocolDash, VideoCodec: "h264", AudioCodec: "aac"},
			},
			SupportsDash: true,
		},
	}
}

func TestPlanDirectPlayCompatibleSource(t *testing.T) {
	plan, err := newTestPlanner().Plan(&Request{
		Facts:               h264Facts(),
		Profile:             browserProfile(),
		AudioStreamIndex:    -1,
		SubtitleStreamIndex: -1,
	})
	require.NoError(t, err)

	assert.Equal(t, ModeDirectPlay, plan.Mode)
	assert.Equal(t, ProtocolProgressive, plan.Protocol)
	assert.Equal(t, "/api/library/parts/part-1/file", plan.PlaybackURL())
	assert.Equal(t, TranscodeReason(0), plan.TranscodeReasons)
	assert.True(t, plan.CopyVideo)
	assert.True(t, plan.CopyAudio)
	assert.Empty(t, plan.VariantKey())
}

func TestPlanDirectStreamRemuxOnly(t *testing.T) {
	// mkv container with codecs the client copies into mp4.
	facts := h264Facts()
	facts.Part.Container = "mkv"

	plan, err := newTestPlanner().Plan(&Request{
		Facts:               facts,
		Profile:             browserProfile(),
		AudioStreamIndex:    -1,
		SubtitleStreamIndex: -1,
	})
	require.NoError(t, err)

	assert.Equal(t, ModeDirectStream, plan.Mode)
	assert.Equal(t, ProtocolDash, plan.Protocol)
	assert.Equal(t, "mp4", plan.Container)
	assert.True(t, plan.CopyVideo)
	assert.True(t, plan.CopyAudio)
	assert.NotEmpty(t, plan.VariantKey())
	assert.Contains(t, plan.ManifestURL, "manifest.mpd")
}

func TestPlanTranscodeIncompatibleVideoCodec(t *testing.T) {
	plan, err := newTestPlanner().Plan(&Request{
		Facts:               hevcMkvFacts(),
		Profile:             browserProfile(),
		AudioStreamIndex:    -1,
		SubtitleStreamIndex: -1,
	})
	require.NoError(t, err)

	assert.Equal(t, ModeTranscode, plan.Mode)
	assert.True(t, plan.TranscodeReasons.Has(ReasonVideoCodec))
	assert.True(t, plan.TranscodeReasons.Has(ReasonContainer))
	assert.Equal(t, "h264", plan.VideoCodec)
	assert.False(t, plan.CopyVideo)
	assert.True(t, plan.CopyAudio, "compatible audio stays copied")
}

func TestPlanTranscodeNeverCopiesBothStreams(t *testing.T) {
	// Bitrate over the direct cap but codecs compatible: direct trials fail,
	// the transcode must still re-encode at least one stream.
	facts := h264Facts()
	facts.Part.BitrateBps = 30_000_000
	facts.VideoStreams[0].BitrateBps = 29_000_000

	plan, err := newTestPlanner().Plan(&Request{
		Facts:               facts,
		Profile:             browserProfile(),
		AudioStreamIndex:    -1,
		SubtitleStreamIndex: -1,
	})
	require.NoError(t, err)

	assert.Equal(t, ModeTranscode, plan.Mode)
	assert.NotZero(t, plan.TranscodeReasons)
	assert.False(t, plan.CopyVideo && plan.CopyAudio)
	assert.True(t, plan.TranscodeReasons.Has(ReasonVideoBitrate))
	assert.Equal(t, int64(20_000_000), plan.TargetBitrateBps)
}

func TestPlanTranscodeReasonBitfieldValues(t *testing.T) {
	assert.Equal(t, TranscodeReason(1), ReasonContainer)
	assert.Equal(t, TranscodeReason(2), ReasonVideoCodec)
	assert.Equal(t, TranscodeReason(4), ReasonAudioCodec)
	assert.Equal(t, TranscodeReason(8), ReasonSubtitleCodec)
	assert.Equal(t, TranscodeReason(16), ReasonVideoBitrate)
	assert.Equal(t, TranscodeReason(32), ReasonAudioBitrate)
	assert.Equal(t, TranscodeReason(64), ReasonResolution)
	assert.Equal(t, TranscodeReason(128), ReasonVideoLevel)
	assert.Equal(t, TranscodeReason(256), ReasonVideoProfile)
	assert.Equal(t, TranscodeReason(512), ReasonRefFrames)
	assert.Equal(t, TranscodeReason(1024), ReasonBitDepth)
	assert.Equal(t, TranscodeReason(2048), ReasonAudioChannels)
	assert.Equal(t, TranscodeReason(4096), ReasonSampleRate)

	assert.Equal(t, "Container|VideoCodec", (ReasonContainer | ReasonVideoCodec).String())
	assert.Equal(t, "None", TranscodeReason(0).String())
}

func TestPlanResolutionDownscale(t *testing.T) {
	facts := h264Facts()
	facts.VideoStreams[0].Width = 3840
	facts.VideoStreams[0].Height = 2160

	profile := browserProfile()
	profile.Capabilities.DirectPlayProfiles = nil
	profile.Capabilities.TranscodingProfiles[0].Conditions = []capabilities.ProfileCondition{
		{Property: capabilities.PropWidth, Operator: capabilities.OpLessThanEqual,
			Value: "1920", IsRequiredForTranscoding: true},
	}

	plan, err := newTestPlanner().Plan(&Request{
		Facts: facts, Profile: profile,
		AudioStreamIndex: -1, SubtitleStreamIndex: -1,
	})
	require.NoError(t, err)

	assert.Equal(t, ModeTranscode, plan.Mode)
	assert.True(t, plan.TranscodeReasons.Has(ReasonResolution))
	assert.Equal(t, 1920, plan.TargetWidth)
	assert.Equal(t, 1080, plan.TargetHeight)
}

func TestPlanAudioChannelDownmix(t *testing.T) {
	facts := h264Facts()
	facts.AudioStreams[0].Codec = "truehd"
	facts.AudioStreams[0].Channels = 8

	profile := browserProfile()
	profile.Capabilities.TranscodingProfiles[0].MaxAudioChannels = 2

	plan, err := newTestPlanner().Plan(&Request{
		Facts: facts, Profile: profile,
		AudioStreamIndex: -1, SubtitleStreamIndex: -1,
	})
	require.NoError(t, err)

	assert.Equal(t, ModeTranscode, plan.Mode)
	assert.True(t, plan.TranscodeReasons.Has(ReasonAudioCodec))
	assert.True(t, plan.TranscodeReasons.Has(ReasonAudioChannels))
	assert.Equal(t, 2, plan.TargetChannels)
	assert.Equal(t, "aac", plan.AudioCodec)
	assert.True(t, plan.CopyVideo, "compatible video stays copied")
}

func TestPlanSubtitleBurnInForcesTranscode(t *testing.T) {
	facts := h264Facts()
	facts.SubtitleStreams = []catalog.MediaStream{
		{Index: 2, Type: catalog.StreamTypeSubtitle, Codec: "hdmv_pgs_subtitle", Language: "eng"},
	}

	plan, err := newTestPlanner().Plan(&Request{
		Facts: facts, Profile: browserProfile(),
		AudioStreamIndex: -1, SubtitleStreamIndex: 2,
	})
	require.NoError(t, err)

	assert.Equal(t, ModeTranscode, plan.Mode)
	assert.True(t, plan.TranscodeReasons.Has(ReasonSubtitleCodec))
	require.NotNil(t, plan.Subtitle)
	assert.Equal(t, capabilities.SubtitleMethodEncode, plan.Subtitle.Method)
	assert.False(t, plan.CopyVideo)
}

func TestPlanTextSubtitleSidecar(t *testing.T) {
	facts := h264Facts()
	facts.SubtitleStreams = []catalog.MediaStream{
		{Index: 2, Type: catalog.StreamTypeSubtitle, Codec: "subrip", Language: "eng"},
	}

	profile := browserProfile()
	profile.Capabilities.SubtitleProfiles = []capabilities.SubtitleProfile{
		{Format: "vtt,srt", Method: capabilities.SubtitleMethodExternal},
	}

	plan, err := newTestPlanner().Plan(&Request{
		Facts: facts, Profile: profile,
		AudioStreamIndex: -1, SubtitleStreamIndex: 2,
	})
	require.NoError(t, err)

	assert.Equal(t, ModeDirectPlay, plan.Mode, "sidecar subtitles keep direct play")
	require.NotNil(t, plan.Subtitle)
	assert.Equal(t, capabilities.SubtitleMethodExternal, plan.Subtitle.Method)
	assert.Equal(t, "vtt", plan.Subtitle.Format)
	assert.Equal(t, "/api/transcode/subtitle/part/part-1/stream/2/stream.vtt", plan.Subtitle.URL)
}

func TestPlanHDRToneMapping(t *testing.T) {
	facts := hevcMkvFacts()
	facts.VideoStreams[0].ColorSpace = "smpte2084"

	profile := browserProfile()
	profile.Capabilities.SupportsToneMapping = true

	plan, err := newTestPlanner().Plan(&Request{
		Facts: facts, Profile: profile,
		AudioStreamIndex: -1, SubtitleStreamIndex: -1,
	})
	require.NoError(t, err)

	assert.Equal(t, ModeTranscode, plan.Mode)
	assert.True(t, plan.EnableToneMapping)
	assert.False(t, plan.CopyVideo)
}

func TestPlanAudioOnlyTrack(t *testing.T) {
	facts := &catalog.MediaFacts{
		Part: catalog.MediaPart{ID: "track-1", Container: "flac", BitrateBps: 900_000},
		AudioStreams: []catalog.MediaStream{
			{Index: 0, Type: catalog.StreamTypeAudio, Codec: "flac", Channels: 2,
				SampleRate: 44100, BitrateBps: 900_000, IsDefault: true},
		},
	}

	profile := &capabilities.Profile{
		SessionID: "sess-1",
		Version:   1,
		Capabilities: capabilities.Capabilities{
			MusicStreamingBitrate: 320_000,
			TranscodingProfiles: []capabilities.TranscodingProfile{
				{Type: capabilities.MediaTypeAudio, Container: "mp4",
					Protocol: capabilities.ProtocolDash, AudioCodec: "aac"},
			},
			SupportsDash: true,
		},
	}

	plan, err := newTestPlanner().Plan(&Request{
		Facts: facts, Profile: profile,
		AudioStreamIndex: -1, SubtitleStreamIndex: -1,
	})
	require.NoError(t, err)

	assert.Equal(t, ModeTranscode, plan.Mode)
	assert.True(t, plan.TranscodeReasons.Has(ReasonAudioCodec))
	assert.True(t, plan.TranscodeReasons.Has(ReasonAudioBitrate))
	assert.Equal(t, int64(320_000), plan.TargetBitrateBps)
	assert.Equal(t, "aac", plan.AudioCodec)
	assert.Empty(t, plan.VideoCodec)
}

func TestPlanDefaultProfileTranscodesEverything(t *testing.T) {
	plan, err := newTestPlanner().Plan(&Request{
		Facts:               h264Facts(),
		Profile:             capabilities.DefaultProfile("sess-x"),
		AudioStreamIndex:    -1,
		SubtitleStreamIndex: -1,
	})
	require.NoError(t, err)

	// No direct play profiles declared, but codecs are copy-compatible.
	assert.Equal(t, ModeDirectStream, plan.Mode)
	assert.Equal(t, ProtocolDash, plan.Protocol)
}

func TestPlanDeterministic(t *testing.T) {
	planner := newTestPlanner()
	req := &Request{
		Facts: hevcMkvFacts(), Profile: browserProfile(),
		AudioStreamIndex: -1, SubtitleStreamIndex: -1,
	}

	first, err := planner.Plan(req)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		again, err := planner.Plan(req)
		require.NoError(t, err)
		assert.Equal(t, first, again)
		assert.Equal(t, first.VariantKey(), again.VariantKey())
	}
}

func TestPlanNoTranscodingProfileFails(t *testing.T) {
	profile := browserProfile()
	profile.Capabilities.DirectPlayProfiles = nil
	profile.Capabilities.TranscodingProfiles = nil

	_, err := newTestPlanner().Plan(&Request{
		Facts: hevcMkvFacts(), Profile: profile,
		AudioStreamIndex: -1, SubtitleStreamIndex: -1,
	})
	require.Error(t, err)
}

func TestPlanForcedSubtitleAutoSelected(t *testing.T) {
	facts := h264Facts()
	facts.SubtitleStreams = []catalog.MediaStream{
		{Index: 2, Type: catalog.StreamTypeSubtitle, Codec: "subrip", Language: "eng"},
		{Index: 3, Type: catalog.StreamTypeSubtitle, Codec: "subrip", Language: "eng", IsForced: true},
	}

	plan, err := newTestPlanner().Plan(&Request{
		Facts: facts, Profile: browserProfile(),
		AudioStreamIndex: -1, SubtitleStreamIndex: -1,
	})
	require.NoError(t, err)

	require.NotNil(t, plan.Subtitle)
	assert.Equal(t, 3, plan.Subtitle.StreamIndex)
}

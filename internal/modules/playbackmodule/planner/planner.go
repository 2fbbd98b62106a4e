package planner

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/lumira-media/lumira/internal/catalog"
	"github.com/lumira-media/lumira/internal/errors"
	"github.com/lumira-media/lumira/internal/modules/playbackmodule/capabilities"
)

// Reason masks by affected elementary stream.
const (
	videoReasons = ReasonVideoCodec | ReasonVideoBitrate | ReasonResolution |
		ReasonVideoLevel | ReasonVideoProfile | ReasonRefFrames |
		ReasonBitDepth | ReasonSubtitleCodec
	audioReasons = ReasonAudioCodec | ReasonAudioBitrate |
		ReasonAudioChannels | ReasonSampleRate
)

// Options tunes planner behavior that is server-side rather than
// capability-driven.
type Options struct {
	// AllowHardwareAcceleration gates hardware encoders globally.
	AllowHardwareAcceleration bool
	// HardwareEncoderAvailable reports a probed, working hardware encoder.
	HardwareEncoderAvailable bool
}

// Request carries everything one planning decision depends on.
type Request struct {
	Facts   *catalog.MediaFacts
	Profile *capabilities.Profile

	// Stream selection. Negative means automatic.
	AudioStreamIndex    int
	SubtitleStreamIndex int
}

// Planner derives stream plans. It holds no mutable state; the same request
// always yields the same plan.
type Planner struct {
	logger hclog.Logger
	opts   Options
}

// New creates a planner.
func New(logger hclog.Logger, opts Options) *Planner {
	return &Planner{
		logger: logger.Named("planner"),
		opts:   opts,
	}
}

// Plan decides delivery for one part against one capability profile. The
// trial order is fixed: direct play, then direct stream, then transcode.
func (p *Planner) Plan(req *Request) (*StreamPlan, error) {
	if req == nil || req.Facts == nil || req.Profile == nil {
		return nil, errors.InvalidInput("planner requires media facts and a capability profile")
	}

	facts := req.Facts
	caps := &req.Profile.Capabilities

	video := facts.PrimaryVideo()
	audio := p.selectAudio(facts, req.AudioStreamIndex)
	subtitle := p.selectSubtitle(facts, req.SubtitleStreamIndex)

	mediaType := capabilities.MediaTypeVideo
	if video == nil {
		mediaType = capabilities.MediaTypeAudio
	}
	if mediaType == capabilities.MediaTypeAudio && audio == nil {
		return nil, errors.PlanUnavailable(fmt.Sprintf("part %s has no playable streams", facts.Part.ID), nil)
	}

	attrs := buildAttributes(facts, video, audio)
	conds := capabilities.ConditionsFor(caps, mediaType, facts.Part.Container, codecOf(video), codecOf(audio))

	subDelivery := planSubtitle(caps, &facts.Part, subtitle)

	if plan := p.tryDirectPlay(facts, caps, mediaType, attrs, conds, video, audio, subDelivery); plan != nil {
		p.logger.Debug("planned direct play", "part_id", facts.Part.ID)
		return plan, nil
	}

	if plan := p.tryDirectStream(facts, caps, mediaType, attrs, conds, video, audio, subDelivery); plan != nil {
		p.logger.Debug("planned direct stream", "part_id", facts.Part.ID,
			"container", plan.Container, "protocol", plan.Protocol)
		return plan, nil
	}

	plan, err := p.planTranscode(facts, caps, mediaType, attrs, conds, video, audio, subDelivery)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("planned transcode", "part_id", facts.Part.ID,
		"reasons", plan.TranscodeReasons.String(),
		"video_codec", plan.VideoCodec, "audio_codec", plan.AudioCodec)
	return plan, nil
}

// tryDirectPlay returns a plan when the client plays the source file as-is.
func (p *Planner) tryDirectPlay(facts *catalog.MediaFacts, caps *capabilities.Capabilities,
	mediaType string, attrs capabilities.Attributes, conds []capabilities.ProfileCondition,
	video, audio *catalog.MediaStream, sub *SubtitleDelivery) *StreamPlan {

	// Burned-in subtitles always re-encode video.
	if sub != nil && sub.Method == capabilities.SubtitleMethodEncode {
		return nil
	}
	if !bitrateFits(facts.Part.BitrateBps, directCap(caps, mediaType)) {
		return nil
	}
	if len(capabilities.FailedConditions(conds, attrs, false)) > 0 {
		return nil
	}

	for _, dp := range caps.DirectPlayProfiles {
		if !strings.EqualFold(dp.Type, mediaType) {
			continue
		}
		if !capabilities.ContainerMatches(dp.Container, facts.Part.Container) {
			continue
		}
		if video != nil && !capabilities.CodecMatches(dp.VideoCodec, video.Codec) {
			continue
		}
		if audio != nil && !capabilities.CodecMatches(dp.AudioCodec, audio.Codec) {
			continue
		}

		plan := &StreamPlan{
			Mode:                ModeDirectPlay,
			Protocol:            ProtocolProgressive,
			PartID:              facts.Part.ID,
			Container:           facts.Part.Container,
			DirectURL:           directFileURL(facts.Part.ID),
			VideoStreamIndex:    streamIndex(video),
			AudioStreamIndex:    streamIndex(audio),
			SubtitleStreamIndex: subtitleIndex(sub),
			VideoCodec:          codecOf(video),
			AudioCodec:          codecOf(audio),
			CopyVideo:           true,
			CopyAudio:           true,
			Subtitle:            sub,
		}
		return plan
	}
	return nil
}

// tryDirectStream returns a plan when both elementary streams can be copied
// into a container the client accepts.
func (p *Planner) tryDirectStream(facts *catalog.MediaFacts, caps *capabilities.Capabilities,
	mediaType string, attrs capabilities.Attributes, conds []capabilities.ProfileCondition,
	video, audio *catalog.MediaStream, sub *SubtitleDelivery) *StreamPlan {

	if sub != nil && sub.Method == capabilities.SubtitleMethodEncode {
		return nil
	}
	if !bitrateFits(facts.Part.BitrateBps, directCap(caps, mediaType)) {
		return nil
	}
	if len(capabilities.FailedConditions(conds, attrs, false)) > 0 {
		return nil
	}

	for _, tp := range caps.TranscodingProfiles {
		if !strings.EqualFold(tp.Type, mediaType) {
			continue
		}
		if !p.protocolSupported(caps, tp.Protocol) {
			continue
		}
		if video != nil && !capabilities.CodecMatches(tp.VideoCodec, video.Codec) {
			continue
		}
		if audio != nil && !capabilities.CodecMatches(tp.AudioCodec, audio.Codec) {
			continue
		}
		if audio != nil && tp.MaxAudioChannels > 0 && audio.Channels > tp.MaxAudioChannels {
			continue
		}
		if tp.MaxVideoBitrate > 0 && video != nil && sourceVideoBitrate(facts, video) > tp.MaxVideoBitrate {
			continue
		}
		if len(capabilities.FailedConditions(tp.Conditions, attrs, false)) > 0 {
			continue
		}

		plan := &StreamPlan{
			Mode:                ModeDirectStream,
			Protocol:            Protocol(tp.Protocol),
			PartID:              facts.Part.ID,
			Container:           tp.Container,
			VideoStreamIndex:    streamIndex(video),
			AudioStreamIndex:    streamIndex(audio),
			SubtitleStreamIndex: subtitleIndex(sub),
			VideoCodec:          codecOf(video),
			AudioCodec:          codecOf(audio),
			CopyVideo:           true,
			CopyAudio:           true,
			Subtitle:            sub,
		}
		plan.ManifestURL = manifestURL(plan)
		return plan
	}
	return nil
}

// planTranscode builds the full re-encode plan. At least one reason flag is
// always set and at least one elementary stream is re-encoded.
func (p *Planner) planTranscode(facts *catalog.MediaFacts, caps *capabilities.Capabilities,
	mediaType string, attrs capabilities.Attributes, conds []capabilities.ProfileCondition,
	video, audio *catalog.MediaStream, sub *SubtitleDelivery) (*StreamPlan, error) {

	tp := p.pickTranscodingProfile(caps, mediaType)
	if tp == nil {
		return nil, errors.PlanUnavailable(fmt.Sprintf(
			"no transcoding profile accepts %s content", mediaType), nil).
			WithContext("part_id", facts.Part.ID)
	}

	plan := &StreamPlan{
		Mode:                ModeTranscode,
		Protocol:            Protocol(tp.Protocol),
		PartID:              facts.Part.ID,
		Container:           tp.Container,
		VideoStreamIndex:    streamIndex(video),
		AudioStreamIndex:    streamIndex(audio),
		SubtitleStreamIndex: subtitleIndex(sub),
		Subtitle:            sub,
	}

	var reasons TranscodeReason

	if !strings.EqualFold(tp.Container, facts.Part.Container) {
		reasons |= ReasonContainer
	}

	// Video side.
	if video != nil {
		plan.VideoCodec = video.Codec
		if !capabilities.CodecMatches(tp.VideoCodec, video.Codec) {
			reasons |= ReasonVideoCodec
			plan.VideoCodec = firstCodec(tp.VideoCodec, "h264")
		}

		limit := streamCap(caps.MaxStreamingBitrate, tp.MaxVideoBitrate)
		if src := sourceVideoBitrate(facts, video); limit > 0 && src > limit {
			reasons |= ReasonVideoBitrate
			plan.TargetBitrateBps = limit
		}

		if w, h, over := resolutionOverLimit(tp.Conditions, conds, video); over {
			reasons |= ReasonResolution
			plan.TargetWidth, plan.TargetHeight = fitResolution(video.Width, video.Height, w, h)
		}
	}

	// Audio side.
	if audio != nil {
		plan.AudioCodec = audio.Codec
		if !capabilities.CodecMatches(tp.AudioCodec, audio.Codec) {
			reasons |= ReasonAudioCodec
			plan.AudioCodec = firstCodec(tp.AudioCodec, "aac")
		}
		if tp.MaxAudioChannels > 0 && audio.Channels > tp.MaxAudioChannels {
			reasons |= ReasonAudioChannels
			plan.TargetChannels = tp.MaxAudioChannels
		}
		if mediaType == capabilities.MediaTypeAudio {
			if limit := caps.MusicStreamingBitrate; limit > 0 && audio.BitrateBps > limit {
				reasons |= ReasonAudioBitrate
				plan.TargetBitrateBps = limit
			}
		}
	}

	// Conditions that only bind once we are transcoding.
	failed := capabilities.FailedConditions(conds, attrs, true)
	failed = append(failed, capabilities.FailedConditions(tp.Conditions, attrs, true)...)
	// Conditions that rejected the direct trials explain the transcode too.
	failed = append(failed, capabilities.FailedConditions(conds, attrs, false)...)
	for _, cond := range failed {
		reasons |= reasonForProperty(cond.Property)
	}

	if sub != nil && sub.Method == capabilities.SubtitleMethodEncode {
		reasons |= ReasonSubtitleCodec
	}

	// HDR source on a non-HDR client tone-maps during the re-encode.
	if video != nil && facts.IsHDR() && !caps.SupportsHDR {
		if caps.SupportsToneMapping {
			plan.EnableToneMapping = true
		}
		if reasons&videoReasons == 0 {
			reasons |= ReasonBitDepth
		}
	}

	if reasons == 0 {
		// The direct trials rejected this part for a cause the condition
		// grammar cannot name; charge it to the container.
		reasons |= ReasonContainer
	}

	plan.CopyVideo = video != nil && reasons&videoReasons == 0
	plan.CopyAudio = audio != nil && reasons&audioReasons == 0
	if plan.CopyVideo && plan.CopyAudio {
		// A pure remux would have been planned as direct stream. Whatever
		// blocked it is cheapest to resolve on the audio side.
		plan.CopyAudio = false
		reasons |= ReasonAudioCodec
		plan.AudioCodec = firstCodec(tp.AudioCodec, "aac")
	}
	if plan.CopyVideo && video != nil {
		plan.VideoCodec = video.Codec
	}

	plan.TranscodeReasons = reasons
	plan.UseHardwareAcceleration = p.opts.AllowHardwareAcceleration &&
		p.opts.HardwareEncoderAvailable && !plan.CopyVideo && video != nil
	plan.ManifestURL = manifestURL(plan)

	return plan, nil
}

// pickTranscodingProfile returns the first declared profile for the media
// type whose protocol the client actually supports.
func (p *Planner) pickTranscodingProfile(caps *capabilities.Capabilities, mediaType string) *capabilities.TranscodingProfile {
	for i := range caps.TranscodingProfiles {
		tp := &caps.TranscodingProfiles[i]
		if !strings.EqualFold(tp.Type, mediaType) {
			continue
		}
		if !p.protocolSupported(caps, tp.Protocol) {
			continue
		}
		return tp
	}
	return nil
}

func (p *Planner) protocolSupported(caps *capabilities.Capabilities, protocol string) bool {
	switch protocol {
	case capabilities.ProtocolDash:
		return caps.SupportsDash
	case capabilities.ProtocolHls:
		return caps.SupportsHls
	case capabilities.ProtocolProgressive, "":
		return true
	default:
		return false
	}
}

func (p *Planner) selectAudio(facts *catalog.MediaFacts, index int) *catalog.MediaStream {
	if index >= 0 {
		for i := range facts.AudioStreams {
			if facts.AudioStreams[i].Index == index {
				return &facts.AudioStreams[i]
			}
		}
		p.logger.Warn("requested audio stream not found, falling back to default",
			"part_id", facts.Part.ID, "index", index)
	}
	return facts.PrimaryAudio()
}

func (p *Planner) selectSubtitle(facts *catalog.MediaFacts, index int) *catalog.MediaStream {
	if index >= 0 {
		for i := range facts.SubtitleStreams {
			if facts.SubtitleStreams[i].Index == index {
				return &facts.SubtitleStreams[i]
			}
		}
		p.logger.Warn("requested subtitle stream not found, playing without subtitles",
			"part_id", facts.Part.ID, "index", index)
		return nil
	}
	// Forced subtitles are the only automatic selection.
	for i := range facts.SubtitleStreams {
		if facts.SubtitleStreams[i].IsForced {
			return &facts.SubtitleStreams[i]
		}
	}
	return nil
}

// buildAttributes exposes source facts to the condition grammar.
func buildAttributes(facts *catalog.MediaFacts, video, audio *catalog.MediaStream) capabilities.Attributes {
	attrs := capabilities.Attributes{
		capabilities.PropContainer: facts.Part.Container,
	}
	if video != nil {
		attrs[capabilities.PropVideoCodec] = video.Codec
		attrs[capabilities.PropVideoProfile] = video.Profile
		setIntAttr(attrs, capabilities.PropVideoLevel, video.Level)
		setIntAttr(attrs, capabilities.PropWidth, video.Width)
		setIntAttr(attrs, capabilities.PropHeight, video.Height)
		setIntAttr(attrs, capabilities.PropRefFrames, video.RefFrames)
		setIntAttr(attrs, capabilities.PropVideoBitDepth, video.BitDepth)
		if video.FrameRate > 0 {
			attrs[capabilities.PropVideoFramerate] = strconv.FormatFloat(video.FrameRate, 'f', -1, 64)
		}
		if br := video.BitrateBps; br > 0 {
			attrs[capabilities.PropVideoBitrate] = strconv.FormatInt(br, 10)
		} else if facts.Part.BitrateBps > 0 {
			attrs[capabilities.PropVideoBitrate] = strconv.FormatInt(facts.Part.BitrateBps, 10)
		}
	}
	if audio != nil {
		attrs[capabilities.PropAudioCodec] = audio.Codec
		setIntAttr(attrs, capabilities.PropAudioChannels, audio.Channels)
		setIntAttr(attrs, capabilities.PropAudioSampleRate, audio.SampleRate)
		if audio.BitrateBps > 0 {
			attrs[capabilities.PropAudioBitrate] = strconv.FormatInt(audio.BitrateBps, 10)
		}
	}
	return attrs
}

func setIntAttr(attrs capabilities.Attributes, key string, value int) {
	if value > 0 {
		attrs[key] = strconv.Itoa(value)
	}
}

func reasonForProperty(property string) TranscodeReason {
	switch property {
	case capabilities.PropContainer:
		return ReasonContainer
	case capabilities.PropVideoCodec:
		return ReasonVideoCodec
	case capabilities.PropAudioCodec:
		return ReasonAudioCodec
	case capabilities.PropVideoBitrate:
		return ReasonVideoBitrate
	case capabilities.PropAudioBitrate:
		return ReasonAudioBitrate
	case capabilities.PropWidth, capabilities.PropHeight:
		return ReasonResolution
	case capabilities.PropVideoLevel:
		return ReasonVideoLevel
	case capabilities.PropVideoProfile:
		return ReasonVideoProfile
	case capabilities.PropRefFrames:
		return ReasonRefFrames
	case capabilities.PropVideoBitDepth:
		return ReasonBitDepth
	case capabilities.PropAudioChannels:
		return ReasonAudioChannels
	case capabilities.PropAudioSampleRate:
		return ReasonSampleRate
	default:
		return 0
	}
}

// resolutionOverLimit extracts the tightest width/height ceilings from the
// applicable conditions and reports whether the source exceeds them.
func resolutionOverLimit(profileConds, globalConds []capabilities.ProfileCondition, video *catalog.MediaStream) (int, int, bool) {
	maxW, maxH := 0, 0
	scan := func(conds []capabilities.ProfileCondition) {
		for _, cond := range conds {
			if cond.Operator != capabilities.OpLessThanEqual {
				continue
			}
			limit, err := strconv.Atoi(cond.Value)
			if err != nil || limit <= 0 {
				continue
			}
			switch cond.Property {
			case capabilities.PropWidth:
				if maxW == 0 || limit < maxW {
					maxW = limit
				}
			case capabilities.PropHeight:
				if maxH == 0 || limit < maxH {
					maxH = limit
				}
			}
		}
	}
	scan(profileConds)
	scan(globalConds)

	over := (maxW > 0 && video.Width > maxW) || (maxH > 0 && video.Height > maxH)
	return maxW, maxH, over
}

// fitResolution scales the source down to the ceilings preserving aspect
// ratio, rounded to even dimensions for the encoder.
func fitResolution(srcW, srcH, maxW, maxH int) (int, int) {
	if srcW <= 0 || srcH <= 0 {
		return maxW, maxH
	}
	scale := 1.0
	if maxW > 0 && srcW > maxW {
		scale = float64(maxW) / float64(srcW)
	}
	if maxH > 0 && srcH > maxH {
		if s := float64(maxH) / float64(srcH); s < scale {
			scale = s
		}
	}
	w := int(float64(srcW)*scale) &^ 1
	h := int(float64(srcH)*scale) &^ 1
	return w, h
}

func directCap(caps *capabilities.Capabilities, mediaType string) int64 {
	if mediaType == capabilities.MediaTypeAudio {
		return caps.MusicStreamingBitrate
	}
	return caps.MaxStreamingBitrate
}

func bitrateFits(source, limit int64) bool {
	return limit <= 0 || source <= 0 || source <= limit
}

func streamCap(global, profile int64) int64 {
	switch {
	case global <= 0:
		return profile
	case profile <= 0:
		return global
	case profile < global:
		return profile
	default:
		return global
	}
}

func sourceVideoBitrate(facts *catalog.MediaFacts, video *catalog.MediaStream) int64 {
	if video.BitrateBps > 0 {
		return video.BitrateBps
	}
	return facts.Part.BitrateBps
}

func firstCodec(list, fallback string) string {
	if codecs := capabilities.CodecList(list); len(codecs) > 0 {
		return codecs[0]
	}
	return fallback
}

func codecOf(s *catalog.MediaStream) string {
	if s == nil {
		return ""
	}
	return s.Codec
}

func streamIndex(s *catalog.MediaStream) int {
	if s == nil {
		return -1
	}
	return s.Index
}

func subtitleIndex(sub *SubtitleDelivery) int {
	if sub == nil {
		return -1
	}
	return sub.StreamIndex
}

func directFileURL(partID string) string {
	return fmt.Sprintf("/api/library/parts/%s/file", partID)
}

func manifestURL(plan *StreamPlan) string {
	if plan.Protocol == ProtocolHls {
		return fmt.Sprintf("/api/transcode/part/%s/hls/master.m3u8", plan.PartID)
	}
	return fmt.Sprintf("/api/transcode/part/%s/dash/manifest.mpd", plan.PartID)
}

package capabilities

import (
	"strconv"
	"strings"
)

// Attributes is the source-fact view conditions evaluate against. Values are
// strings; numeric comparisons parse both sides.
type Attributes map[string]string

// Well-known condition properties.
const (
	PropContainer       = "container"
	PropVideoCodec      = "videoCodec"
	PropAudioCodec      = "audioCodec"
	PropVideoProfile    = "videoProfile"
	PropVideoLevel      = "videoLevel"
	PropVideoBitrate    = "videoBitrate"
	PropVideoBitDepth   = "videoBitDepth"
	PropVideoFramerate  = "videoFramerate"
	PropWidth           = "width"
	PropHeight          = "height"
	PropRefFrames       = "refFrames"
	PropAudioChannels   = "audioChannels"
	PropAudioBitrate    = "audioBitrate"
	PropAudioSampleRate = "audioSampleRate"
)

// Evaluate reports whether a single condition holds for the attributes.
// Unknown properties pass: a condition on an attribute the source does not
// expose cannot reject it.
func Evaluate(cond ProfileCondition, attrs Attributes) bool {
	actual, ok := attrs[cond.Property]
	if !ok || actual == "" {
		return true
	}

	switch cond.Operator {
	case OpEquals:
		return strings.EqualFold(actual, cond.Value)
	case OpNotEquals:
		return !strings.EqualFold(actual, cond.Value)
	case OpGreaterThanEqual:
		a, b, ok := parseBoth(actual, cond.Value)
		return !ok || a >= b
	case OpLessThanEqual:
		a, b, ok := parseBoth(actual, cond.Value)
		return !ok || a <= b
	case OpEqualsAny:
		for _, candidate := range strings.Split(cond.Value, "|") {
			if strings.EqualFold(actual, strings.TrimSpace(candidate)) {
				return true
			}
		}
		return false
	case OpContains:
		return strings.Contains(strings.ToLower(actual), strings.ToLower(cond.Value))
	default:
		// Unknown operators never reject; clients with newer condition
		// grammars degrade to permissive.
		return true
	}
}

// FailedConditions returns the conditions from conds that do not hold,
// filtered by the required flag selector.
func FailedConditions(conds []ProfileCondition, attrs Attributes, forTranscoding bool) []ProfileCondition {
	var failed []ProfileCondition
	for _, cond := range conds {
		if forTranscoding && !cond.IsRequiredForTranscoding {
			continue
		}
		if !forTranscoding && !cond.IsRequired {
			continue
		}
		if !Evaluate(cond, attrs) {
			failed = append(failed, cond)
		}
	}
	return failed
}

// ContainerMatches reports whether container appears in a comma-delimited
// container list. An empty list matches anything.
func ContainerMatches(list, container string) bool {
	if list == "" {
		return true
	}
	for _, candidate := range strings.Split(list, ",") {
		if strings.EqualFold(strings.TrimSpace(candidate), container) {
			return true
		}
	}
	return false
}

// CodecMatches reports whether codec appears in a comma-delimited codec
// list. An empty list matches anything.
func CodecMatches(list, codec string) bool {
	return ContainerMatches(list, codec)
}

// CodecList splits a comma-delimited codec list, dropping empties.
func CodecList(list string) []string {
	if list == "" {
		return nil
	}
	parts := strings.Split(list, ",")
	codecs := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			codecs = append(codecs, trimmed)
		}
	}
	return codecs
}

func parseBoth(a, b string) (float64, float64, bool) {
	av, errA := strconv.ParseFloat(a, 64)
	bv, errB := strconv.ParseFloat(b, 64)
	if errA != nil || errB != nil {
		return 0, 0, false
	}
	return av, bv, true
}

// ConditionsFor collects the container and codec profile conditions that
// apply to the given source attributes.
func ConditionsFor(caps *Capabilities, mediaType, container, videoCodec, audioCodec string) []ProfileCondition {
	var conds []ProfileCondition

	for _, cp := range caps.ContainerProfiles {
		if cp.Type != "" && !strings.EqualFold(cp.Type, mediaType) {
			continue
		}
		if !ContainerMatches(cp.Container, container) {
			continue
		}
		conds = append(conds, cp.Conditions...)
	}

	for _, cp := range caps.CodecProfiles {
		if cp.Container != "" && !ContainerMatches(cp.Container, container) {
			continue
		}
		switch strings.ToLower(cp.Type) {
		case "video":
			if videoCodec == "" || !CodecMatches(cp.Codec, videoCodec) {
				continue
			}
		case "audio":
			if audioCodec == "" || !CodecMatches(cp.Codec, audioCodec) {
				continue
			}
		default:
			continue
		}
		conds = append(conds, cp.Conditions...)
	}

	return conds
}

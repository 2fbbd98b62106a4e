package transcodemodule

import (
	"regexp"
	"strconv"
	"strings"
)

// UnknownSegment means the worker's production point cannot be determined
// yet, typically right after a start before any chunk landed.
const UnknownSegment = -1

// segmentIndexPattern extracts the trailing numeric index from a segment
// filename, e.g. chunk-stream0-00042.m4s -> 42.
var segmentIndexPattern = regexp.MustCompile(`-(\d+)(?:\.[^.]+)?$`)

// ParseSegmentIndex returns the numeric index encoded in a segment filename.
// A non-match means the file has no restart semantics and is served as-is.
func ParseSegmentIndex(fileName string) (int, bool) {
	match := segmentIndexPattern.FindStringSubmatch(fileName)
	if match == nil {
		return 0, false
	}
	index, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, false
	}
	return index, true
}

// ValidSegmentName rejects anything that could escape the job directory.
func ValidSegmentName(name string) bool {
	if name == "" {
		return false
	}
	if strings.Contains(name, "..") {
		return false
	}
	if strings.ContainsAny(name, `/\`) {
		return false
	}
	return true
}

// IsInitSegment reports whether the filename is an init segment, which is
// served directly without restart logic.
func IsInitSegment(name string) bool {
	return strings.HasPrefix(name, "init-")
}

// ShouldRestart is the smart-segment policy: restart the encoder at the
// requested index instead of waiting when the encoder cannot reach it
// (requested is behind, too far ahead, or the production point is unknown).
func ShouldRestart(requested, current, threshold int) bool {
	if current == UnknownSegment {
		return true
	}
	if requested < current {
		// Encoders cannot rewind.
		return true
	}
	return requested-current > threshold
}

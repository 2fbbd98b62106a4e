package subtitles

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/lumira-media/lumira/internal/errors"
)

var (
	srtTimeLine = regexp.MustCompile(
		`(\d{2}):(\d{2}):(\d{2})[,.](\d{3})\s*-->\s*(\d{2}):(\d{2}):(\d{2})[,.](\d{3})`)
	assTime         = regexp.MustCompile(`(\d+):(\d{2}):(\d{2})\.(\d{2})`)
	assOverrideTags = regexp.MustCompile(`\{[^}]*\}`)
)

// Parse dispatches on the normalized source format.
func Parse(r io.Reader, format string) (*Track, error) {
	switch format {
	case "srt", "subrip", "vtt", "webvtt":
		return ParseSRT(r)
	case "ass", "ssa":
		return ParseASS(r)
	default:
		return nil, errors.InvalidInput(fmt.Sprintf("unsupported subtitle format %q", format))
	}
}

// ParseSRT reads SubRip (and close-enough WebVTT) cues. Unnumbered blocks
// and comma or dot millisecond separators are both accepted.
func ParseSRT(r io.Reader) (*Track, error) {
	track := &Track{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var current *Cue
	var textLines []string

	flush := func() {
		if current != nil {
			current.Text = strings.TrimSpace(strings.Join(textLines, "\n"))
			if current.Text != "" {
				track.Cues = append(track.Cues, *current)
			}
		}
		current = nil
		textLines = nil
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		line = strings.TrimPrefix(line, "\uFEFF")

		if line == "" {
			flush()
			continue
		}
		if match := srtTimeLine.FindStringSubmatch(line); match != nil {
			flush()
			current = &Cue{
				StartMs: srtMs(match[1], match[2], match[3], match[4]),
				EndMs:   srtMs(match[5], match[6], match[7], match[8]),
			}
			continue
		}
		if current == nil {
			// Cue counter, WEBVTT header or NOTE; skip.
			continue
		}
		textLines = append(textLines, line)
	}
	flush()

	if err := scanner.Err(); err != nil {
		return nil, errors.Internal("failed to read subtitle stream", err)
	}
	return track, nil
}

// ParseASS reads Advanced SubStation events, dropping style override tags.
func ParseASS(r io.Reader) (*Track, error) {
	track := &Track{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	inEvents := false
	textField := 9
	startField, endField := 1, 2

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if strings.HasPrefix(line, "[") {
			inEvents = strings.EqualFold(line, "[Events]")
			continue
		}
		if !inEvents {
			continue
		}

		if strings.HasPrefix(line, "Format:") {
			fields := strings.Split(strings.TrimPrefix(line, "Format:"), ",")
			for i, field := range fields {
				switch strings.TrimSpace(field) {
				case "Start":
					startField = i
				case "End":
					endField = i
				case "Text":
					textField = i
				}
			}
			continue
		}
		if !strings.HasPrefix(line, "Dialogue:") {
			continue
		}

		fields := strings.SplitN(strings.TrimPrefix(line, "Dialogue:"), ",", textField+1)
		if len(fields) <= textField {
			continue
		}

		start, okStart := assMs(strings.TrimSpace(fields[startField]))
		end, okEnd := assMs(strings.TrimSpace(fields[endField]))
		if !okStart || !okEnd {
			continue
		}

		text := assOverrideTags.ReplaceAllString(fields[textField], "")
		text = strings.ReplaceAll(text, `\N`, "\n")
		text = strings.ReplaceAll(text, `\n`, "\n")
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		track.Cues = append(track.Cues, Cue{StartMs: start, EndMs: end, Text: text})
	}

	if err := scanner.Err(); err != nil {
		return nil, errors.Internal("failed to read subtitle stream", err)
	}
	return track, nil
}

func srtMs(h, m, s, ms string) int64 {
	hours, _ := strconv.ParseInt(h, 10, 64)
	minutes, _ := strconv.ParseInt(m, 10, 64)
	seconds, _ := strconv.ParseInt(s, 10, 64)
	millis, _ := strconv.ParseInt(ms, 10, 64)
	return hours*3_600_000 + minutes*60_000 + seconds*1000 + millis
}

func assMs(stamp string) (int64, bool) {
	match := assTime.FindStringSubmatch(stamp)
	if match == nil {
		return 0, false
	}
	hours, _ := strconv.ParseInt(match[1], 10, 64)
	minutes, _ := strconv.ParseInt(match[2], 10, 64)
	seconds, _ := strconv.ParseInt(match[3], 10, 64)
	centis, _ := strconv.ParseInt(match[4], 10, 64)
	return hours*3_600_000 + minutes*60_000 + seconds*1000 + centis*10, true
}

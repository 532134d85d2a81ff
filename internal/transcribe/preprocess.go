package transcribe

import (
	"regexp"
	"strings"
)

// bracketAnnotation matches whisper's non-speech annotations like
// [BLANK_AUDIO], [Music], (wind blowing), *applause*.
var bracketAnnotation = regexp.MustCompile(`[\[(*][^\])*]*[\])*]`)

// fillerLines are hallucinations whisper emits for silence or noise
// when they make up the entire segment. Compared case-insensitively
// after trimming punctuation.
var fillerLines = map[string]struct{}{
	"thanks for watching":                  {},
	"thank you for watching":               {},
	"thank you":                            {},
	"subtitles by the amara.org community": {},
	"you":                                  {},
}

var spaceRun = regexp.MustCompile(`\s+`)

// CleanSegmentText normalizes one segment's text for downstream
// consumers: strips non-speech annotations, collapses whitespace and
// drops segments that are pure hallucination filler. Returns "" when
// nothing survives; the worker skips emitting such segments.
func CleanSegmentText(text string) string {
	text = bracketAnnotation.ReplaceAllString(text, " ")
	text = spaceRun.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if isFiller(text) {
		return ""
	}
	return text
}

func isFiller(text string) bool {
	key := strings.ToLower(strings.TrimSpace(text))
	key = strings.Trim(key, ".!?,♪ ")
	_, ok := fillerLines[key]
	return ok
}

package session

import (
	"strings"
	"unicode"

	"github.com/openscribe/backend/services/transcription/entity"
)

// newSuffix returns the segments of latest that were not emitted yet.
//
// Every inference pass re-transcribes the whole accumulated audio, so
// latest is a superset-with-revisions of what was already emitted. The
// match is a longest-common-prefix at segment granularity on normalized
// text. When the model revised segments that were already emitted (the
// matched prefix is shorter than the emitted list), the revision is
// dropped rather than re-sent: streamed text is append-only, and the
// final full-audio pass supersedes it anyway.
func newSuffix(emitted, latest []entity.Segment) []entity.Segment {
	prefix := commonPrefixLen(emitted, latest)

	start := prefix
	if prefix < len(emitted) {
		start = len(emitted)
	}
	if start >= len(latest) {
		return nil
	}
	return latest[start:]
}

func commonPrefixLen(a, b []entity.Segment) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if normalizeSegment(a[i].Text) != normalizeSegment(b[i].Text) {
			return i
		}
	}
	return n
}

// normalizeSegment folds case, strips punctuation and collapses spaces so
// cosmetic revisions near chunk boundaries do not break prefix matching.
func normalizeSegment(s string) string {
	var sb strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			sb.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				sb.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(sb.String())
}

// joinSegments renders segments as a single text block.
func joinSegments(segments []entity.Segment) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if t := strings.TrimSpace(seg.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// trimTrailingPunctuation drops a dangling punctuation mark from streamed
// partials; mid-stream text usually ends on a cut-off clause.
func trimTrailingPunctuation(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	runes := []rune(s)
	last := runes[len(runes)-1]
	if !unicode.IsLetter(last) && !unicode.IsDigit(last) && !unicode.IsSpace(last) {
		return string(runes[:len(runes)-1])
	}
	return s
}

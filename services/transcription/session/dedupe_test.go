package session

import (
	"testing"

	"github.com/openscribe/backend/services/transcription/entity"
)

func segs(texts ...string) []entity.Segment {
	out := make([]entity.Segment, len(texts))
	for i, t := range texts {
		out[i] = entity.Segment{Text: t}
	}
	return out
}

func texts(segments []entity.Segment) []string {
	out := make([]string, len(segments))
	for i, s := range segments {
		out[i] = s.Text
	}
	return out
}

func TestNewSuffix(t *testing.T) {
	tests := []struct {
		name    string
		emitted []entity.Segment
		latest  []entity.Segment
		want    []string
	}{
		{
			name:    "first pass emits everything",
			emitted: nil,
			latest:  segs("hello world"),
			want:    []string{"hello world"},
		},
		{
			name:    "growing transcript emits only the new tail",
			emitted: segs("hello world", "how are you"),
			latest:  segs("hello world", "how are you", "I am fine"),
			want:    []string{"I am fine"},
		},
		{
			name:    "identical transcript emits nothing",
			emitted: segs("hello world"),
			latest:  segs("hello world"),
			want:    nil,
		},
		{
			name:    "punctuation and case changes do not break matching",
			emitted: segs("hello world", "how are you"),
			latest:  segs("Hello, world!", "How are you?", "great"),
			want:    []string{"great"},
		},
		{
			name:    "revised emitted segment is dropped, tail still emits",
			emitted: segs("hello world", "how are you"),
			latest:  segs("hello word", "how are you", "I am fine"),
			want:    []string{"I am fine"},
		},
		{
			name:    "shrunk transcript emits nothing",
			emitted: segs("hello world", "how are you"),
			latest:  segs("hello world"),
			want:    nil,
		},
		{
			name:    "empty latest emits nothing",
			emitted: segs("hello world"),
			latest:  nil,
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := newSuffix(tt.emitted, tt.latest)
			gotTexts := texts(got)
			if len(gotTexts) != len(tt.want) {
				t.Fatalf("newSuffix() = %v, want %v", gotTexts, tt.want)
			}
			for i := range tt.want {
				if gotTexts[i] != tt.want[i] {
					t.Errorf("segment %d = %q, want %q", i, gotTexts[i], tt.want[i])
				}
			}
		})
	}
}

func TestNewSuffixAppendOnly(t *testing.T) {
	// Concatenating everything emitted across passes must never contain a
	// segment twice, no matter how the model revises earlier output.
	passes := [][]entity.Segment{
		segs("the quick"),
		segs("the quick", "brown fox"),
		segs("the quick,", "brown fox", "jumps over"),
		segs("The quick", "brown fox!", "jumps over", "the lazy dog"),
	}

	var emitted []entity.Segment
	seen := map[string]int{}
	for _, pass := range passes {
		fresh := newSuffix(emitted, pass)
		for _, seg := range fresh {
			seen[normalizeSegment(seg.Text)]++
		}
		emitted = append(emitted, fresh...)
	}

	for text, n := range seen {
		if n > 1 {
			t.Errorf("segment %q emitted %d times", text, n)
		}
	}
	if len(emitted) != 4 {
		t.Errorf("emitted %d segments, want 4", len(emitted))
	}
}

func TestNormalizeSegment(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Hello, World!", "hello world"},
		{"  spaced   out  ", "spaced out"},
		{"don't", "dont"},
		{"...", ""},
		{"Ünïcode ok", "ünïcode ok"},
	}
	for _, tt := range tests {
		if got := normalizeSegment(tt.in); got != tt.want {
			t.Errorf("normalizeSegment(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestJoinSegments(t *testing.T) {
	got := joinSegments(segs(" hello ", "", "world. "))
	if got != "hello world." {
		t.Errorf("joinSegments() = %q", got)
	}
}

func TestTrimTrailingPunctuation(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"hello world.", "hello world"},
		{"hello world", "hello world"},
		{"wait,", "wait"},
		{"", ""},
		{"ok?", "ok"},
	}
	for _, tt := range tests {
		if got := trimTrailingPunctuation(tt.in); got != tt.want {
			t.Errorf("trimTrailingPunctuation(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

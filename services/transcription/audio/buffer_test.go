package audio

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/openscribe/backend/services/transcription/entity"
)

// fakeMedia is a Media implementation that shuffles files around without
// invoking ffmpeg. Probe returns a configurable duration.
type fakeMedia struct {
	probeDuration float64
	probeErr      error
	remuxErr      error
	concatCalls   int
}

func (m *fakeMedia) Probe(ctx context.Context, path string) (float64, error) {
	if m.probeErr != nil {
		return 0, m.probeErr
	}
	return m.probeDuration, nil
}

func (m *fakeMedia) Remux(ctx context.Context, in, out string) error {
	if m.remuxErr != nil {
		return m.remuxErr
	}
	return copyFile(in, out)
}

func (m *fakeMedia) Concat(ctx context.Context, first, second, out string) error {
	m.concatCalls++
	dst, err := os.Create(out)
	if err != nil {
		return err
	}
	defer dst.Close()
	for _, p := range []string{first, second} {
		src, err := os.Open(p)
		if err != nil {
			return err
		}
		_, err = io.Copy(dst, src)
		src.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func (m *fakeMedia) ExtractWAV(ctx context.Context, in, out, channel string) error {
	return copyFile(in, out)
}

func copyFile(in, out string) error {
	data, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	return os.WriteFile(out, data, 0o644)
}

func TestBufferAppendPreservesOrder(t *testing.T) {
	dir := t.TempDir()
	buf := NewBuffer(&fakeMedia{}, dir, "sess1", "single")

	chunks := [][]byte{[]byte("aaa"), []byte("bbb"), []byte("ccc")}
	for _, c := range chunks {
		if err := buf.Append(c, 3.0); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	data, err := os.ReadFile(buf.Path())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "aaabbbccc" {
		t.Errorf("container = %q, want %q", data, "aaabbbccc")
	}
	if buf.FragmentCount() != 3 {
		t.Errorf("fragments = %d, want 3", buf.FragmentCount())
	}
	if buf.TrackedDuration() != 9.0 {
		t.Errorf("tracked = %v, want 9", buf.TrackedDuration())
	}
}

func TestBufferExtractAllEmpty(t *testing.T) {
	buf := NewBuffer(&fakeMedia{}, t.TempDir(), "sess1", "single")

	_, err := buf.ExtractAll(context.Background())
	if !errors.Is(err, entity.ErrCorruptAudio) {
		t.Fatalf("err = %v, want ErrCorruptAudio", err)
	}
}

func TestBufferFinalizeEmpty(t *testing.T) {
	buf := NewBuffer(&fakeMedia{}, t.TempDir(), "sess1", "single")

	artifact, err := buf.Finalize(context.Background())
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if artifact.DurationSeconds != 0 {
		t.Errorf("duration = %v, want 0", artifact.DurationSeconds)
	}
	if _, err := os.Stat(artifact.AudioFilePath); err != nil {
		t.Errorf("empty artifact not created: %v", err)
	}
}

func TestBufferFinalizeProbesDuration(t *testing.T) {
	media := &fakeMedia{probeDuration: 9.2}
	buf := NewBuffer(media, t.TempDir(), "sess1", "single")
	if err := buf.Append([]byte("audio"), 9.0); err != nil {
		t.Fatalf("append: %v", err)
	}

	artifact, err := buf.Finalize(context.Background())
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if artifact.DurationSeconds != 9.2 {
		t.Errorf("duration = %v, want probed 9.2", artifact.DurationSeconds)
	}
}

func TestBufferFinalizeFallsBackToTracked(t *testing.T) {
	media := &fakeMedia{probeErr: errors.New("no ffprobe")}
	buf := NewBuffer(media, t.TempDir(), "sess1", "single")
	if err := buf.Append([]byte("audio"), 6.0); err != nil {
		t.Fatalf("append: %v", err)
	}

	artifact, err := buf.Finalize(context.Background())
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if artifact.DurationSeconds != 6.0 {
		t.Errorf("duration = %v, want tracked 6", artifact.DurationSeconds)
	}
}

func TestBufferConcatenateWithMissingPrior(t *testing.T) {
	dir := t.TempDir()
	buf := NewBuffer(&fakeMedia{}, dir, "sess1", "single")
	if err := buf.Append([]byte("new"), 5.0); err != nil {
		t.Fatalf("append: %v", err)
	}

	_, err := buf.ConcatenateWithPrior(context.Background(), filepath.Join(dir, "gone.webm"))
	if !errors.Is(err, entity.ErrMissingPriorAudio) {
		t.Fatalf("err = %v, want ErrMissingPriorAudio", err)
	}
}

func TestBufferConcatenateWithPrior(t *testing.T) {
	dir := t.TempDir()
	prior := filepath.Join(dir, "prior_recording.webm")
	if err := os.WriteFile(prior, []byte("old"), 0o644); err != nil {
		t.Fatalf("write prior: %v", err)
	}

	media := &fakeMedia{probeDuration: 14.1}
	buf := NewBuffer(media, dir, "sess1", "single")
	if err := buf.Append([]byte("new"), 5.0); err != nil {
		t.Fatalf("append: %v", err)
	}

	artifact, err := buf.ConcatenateWithPrior(context.Background(), prior)
	if err != nil {
		t.Fatalf("concatenate: %v", err)
	}
	if artifact.AudioFilePath != prior {
		t.Errorf("artifact path = %q, want prior path %q", artifact.AudioFilePath, prior)
	}
	if artifact.DurationSeconds != 14.1 {
		t.Errorf("duration = %v, want re-probed 14.1", artifact.DurationSeconds)
	}

	data, err := os.ReadFile(prior)
	if err != nil {
		t.Fatalf("read combined: %v", err)
	}
	if string(data) != "oldnew" {
		t.Errorf("combined = %q, want prior content first", data)
	}

	// The session's own container is gone after splicing.
	if _, err := os.Stat(buf.Path()); !os.IsNotExist(err) {
		t.Errorf("session container still present: %v", err)
	}
}

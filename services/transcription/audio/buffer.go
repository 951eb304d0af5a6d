package audio

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/openscribe/backend/pkg/logger"
	"github.com/openscribe/backend/services/transcription/consts"
	"github.com/openscribe/backend/services/transcription/entity"
)

// Buffer accumulates encoded audio fragments for one recording session.
//
// Fragments arrive as successive pieces of a single encoded stream (the
// recorder emits a continuation, not standalone files), so the buffer
// appends bytes in arrival order to one growing container file. Splicing
// two independent recordings happens only at finalize time, through the
// concat demuxer at container boundaries followed by a remux pass; byte
// concatenation across recordings is never attempted.
type Buffer struct {
	mu sync.Mutex

	media     Media
	dir       string
	sessionID string
	path      string
	channel   string

	fragments int
	tracked   float64 // sum of reported fragment durations
}

func NewBuffer(media Media, dir, sessionID, channel string) *Buffer {
	return &Buffer{
		media:     media,
		dir:       dir,
		sessionID: sessionID,
		path:      filepath.Join(dir, sessionID+"_recording.webm"),
		channel:   channel,
	}
}

// Append adds one encoded fragment to the growing container file,
// preserving arrival order exactly.
func (b *Buffer) Append(fragment []byte, duration float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	f, err := os.OpenFile(b.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open session audio: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(fragment); err != nil {
		return fmt.Errorf("append fragment: %w", err)
	}

	b.fragments++
	b.tracked += duration
	return nil
}

// Path returns the growing container file. It may not exist yet when no
// fragment has arrived.
func (b *Buffer) Path() string {
	return b.path
}

func (b *Buffer) SetChannel(channel string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channel = channel
}

// TrackedDuration is the sum of reported fragment durations so far.
func (b *Buffer) TrackedDuration() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tracked
}

func (b *Buffer) FragmentCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fragments
}

// ExtractAll converts the entire accumulated audio to a 16kHz mono WAV
// for inference. The same output path is reused across passes.
func (b *Buffer) ExtractAll(ctx context.Context) (string, error) {
	b.mu.Lock()
	channel := b.channel
	fragments := b.fragments
	b.mu.Unlock()

	if fragments == 0 {
		return "", fmt.Errorf("%w: no audio fragments", entity.ErrCorruptAudio)
	}

	out := filepath.Join(b.dir, b.sessionID+"_infer.wav")
	if err := b.media.ExtractWAV(ctx, b.path, out, channel); err != nil {
		return "", fmt.Errorf("%w: %v", entity.ErrCorruptAudio, err)
	}
	return out, nil
}

// Finalize turns the accumulated fragments into a playable artifact:
// a remux pass rebuilds duration metadata and seek cues, and the result
// is probed for its authoritative duration. Zero-fragment sessions
// produce an empty artifact with zero duration.
func (b *Buffer) Finalize(ctx context.Context) (*entity.Artifact, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.fragments == 0 {
		if err := os.WriteFile(b.path, nil, 0o644); err != nil {
			return nil, fmt.Errorf("create empty artifact: %w", err)
		}
		return &entity.Artifact{AudioFilePath: b.path}, nil
	}

	fixed := filepath.Join(b.dir, b.sessionID+"_fixed.webm")
	if err := b.media.Remux(ctx, b.path, fixed); err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrCorruptAudio, err)
	}
	if err := os.Rename(fixed, b.path); err != nil {
		return nil, fmt.Errorf("replace session audio: %w", err)
	}

	duration, err := b.media.Probe(ctx, b.path)
	if err != nil {
		// Tracked chunk durations are the fallback when probing fails.
		logger.Warn(ctx, "probe failed after finalize, using tracked duration",
			"path", b.path, "tracked", b.tracked, "error", err)
		duration = b.tracked
	}

	if math.Abs(duration-b.tracked) > consts.DurationTolerance {
		logger.Warn(ctx, "finalized duration drifted from tracked chunk durations",
			"probed", duration, "tracked", b.tracked)
	}

	return &entity.Artifact{
		AudioFilePath:   b.path,
		DurationSeconds: duration,
	}, nil
}

// ConcatenateWithPrior splices a previously saved artifact in front of
// this session's finalized audio. The combined file replaces the prior
// artifact so saved references stay valid, and its duration is re-probed
// rather than summed.
func (b *Buffer) ConcatenateWithPrior(ctx context.Context, priorPath string) (*entity.Artifact, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := os.Stat(priorPath); err != nil {
		return nil, fmt.Errorf("%w: %s", entity.ErrMissingPriorAudio, priorPath)
	}

	combined := filepath.Join(b.dir, b.sessionID+"_concatenated.webm")
	if err := b.media.Concat(ctx, priorPath, b.path, combined); err != nil {
		return nil, fmt.Errorf("%w: concat: %v", entity.ErrCorruptAudio, err)
	}

	// Stream copy does not write cues; remux the combined file once.
	fixed := filepath.Join(b.dir, b.sessionID+"_concatenated_fixed.webm")
	if err := b.media.Remux(ctx, combined, fixed); err != nil {
		os.Remove(combined)
		return nil, fmt.Errorf("%w: remux after concat: %v", entity.ErrCorruptAudio, err)
	}
	if err := os.Rename(fixed, combined); err != nil {
		return nil, fmt.Errorf("replace combined audio: %w", err)
	}

	duration, err := b.media.Probe(ctx, combined)
	if err != nil {
		return nil, fmt.Errorf("%w: probe combined: %v", entity.ErrCorruptAudio, err)
	}

	if err := os.Rename(combined, priorPath); err != nil {
		return nil, fmt.Errorf("replace prior artifact: %w", err)
	}
	os.Remove(b.path)

	logger.Info(ctx, "appended session audio to prior artifact",
		"prior", priorPath, "duration", duration)

	return &entity.Artifact{
		AudioFilePath:   priorPath,
		DurationSeconds: duration,
	}, nil
}

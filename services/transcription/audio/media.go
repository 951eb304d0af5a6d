package audio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/openscribe/backend/pkg/logger"
	"github.com/openscribe/backend/services/transcription/consts"
)

// Media abstracts the external transcoder. Everything that shells out to
// ffmpeg/ffprobe lives behind this interface so the buffer and session can
// be tested without the binaries installed.
type Media interface {
	// Probe returns the playback duration of a container in seconds.
	Probe(ctx context.Context, path string) (float64, error)
	// Remux rewrites a container in place-able fashion, rebuilding
	// duration metadata and seek cues that incremental recording omits.
	Remux(ctx context.Context, in, out string) error
	// Concat joins two containers at segment boundaries without
	// re-encoding (concat demuxer, stream copy).
	Concat(ctx context.Context, first, second, out string) error
	// ExtractWAV converts a container to 16kHz mono WAV for inference,
	// applying channel selection before resampling.
	ExtractWAV(ctx context.Context, in, out, channel string) error
}

// FFmpeg runs the ffmpeg/ffprobe binaries found on PATH.
type FFmpeg struct {
	Bin      string
	ProbeBin string
}

func NewFFmpeg() *FFmpeg {
	return &FFmpeg{Bin: "ffmpeg", ProbeBin: "ffprobe"}
}

func (f *FFmpeg) Probe(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, f.ProbeBin,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w", path, err)
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse ffprobe duration %q: %w", strings.TrimSpace(string(out)), err)
	}
	return duration, nil
}

func (f *FFmpeg) Remux(ctx context.Context, in, out string) error {
	// cluster_time_limit controls cue point spacing; cues_to_front lets
	// players seek without scanning the whole file.
	cmd := exec.CommandContext(ctx, f.Bin,
		"-y",
		"-i", in,
		"-c:a", "libopus",
		"-b:a", "128k",
		"-f", "webm",
		"-cluster_time_limit", "5000",
		"-cues_to_front", "1",
		"-reserve_index_space", "50000",
		"-loglevel", "error",
		out,
	)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg remux: %w", err)
	}
	return nil
}

func (f *FFmpeg) Concat(ctx context.Context, first, second, out string) error {
	list, err := os.CreateTemp("", "concat-*.txt")
	if err != nil {
		return fmt.Errorf("create concat list: %w", err)
	}
	defer os.Remove(list.Name())

	fmt.Fprintf(list, "file '%s'\nfile '%s'\n", first, second)
	if err := list.Close(); err != nil {
		return fmt.Errorf("close concat list: %w", err)
	}

	cmd := exec.CommandContext(ctx, f.Bin,
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", list.Name(),
		"-c", "copy",
		"-loglevel", "error",
		out,
	)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg concat: %w", err)
	}
	return nil
}

func (f *FFmpeg) ExtractWAV(ctx context.Context, in, out, channel string) error {
	args := []string{"-y", "-i", in}

	// Channel extraction runs before resampling.
	switch channel {
	case consts.ChannelLeft:
		args = append(args, "-af", "pan=1c|c0=c0")
	case consts.ChannelRight:
		args = append(args, "-af", "pan=1c|c0=c1")
	case consts.ChannelSingle:
		// already mono, no pan filter
	default:
		args = append(args, "-af", "pan=1c|c0=0.5*c0+0.5*c1")
	}

	args = append(args,
		"-ar", strconv.Itoa(consts.DefaultSampleRate),
		"-loglevel", "error",
		out,
	)

	cmd := exec.CommandContext(ctx, f.Bin, args...)
	if err := cmd.Run(); err != nil {
		logger.Error(ctx, "wav extraction failed", "input", in, "channel", channel, "error", err)
		return fmt.Errorf("ffmpeg extract wav: %w", err)
	}
	return nil
}

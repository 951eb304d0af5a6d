package engine

import (
	"context"

	"github.com/openscribe/backend/services/transcription/entity"
)

// Engine wraps the opaque speech-to-text model.
//
// Transcribe is stateless from the caller's perspective and tolerates
// being invoked repeatedly on growing prefixes of the same audio; that is
// exactly how the streaming session drives it.
type Engine interface {
	// EnsureModel loads modelID if it is not the currently loaded model.
	// Idempotent for the loaded model. Loading can take minutes, so
	// progress is reported through the callback instead of silence.
	EnsureModel(ctx context.Context, modelID string, progress func(ProgressEvent)) error

	// Transcribe runs one pass over a 16kHz mono WAV file and returns
	// ordered timed segments.
	Transcribe(ctx context.Context, wavPath string, language *string) ([]entity.Segment, error)
}

// ProgressStage tags model-loading progress events.
type ProgressStage string

const (
	StageDownloading ProgressStage = "downloading"
	StageLoading     ProgressStage = "loading"
	StageReady       ProgressStage = "ready"
)

type ProgressEvent struct {
	Stage   ProgressStage
	Message string
}

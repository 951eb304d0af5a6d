package engine

import (
	"context"
	"sync"

	"github.com/openscribe/backend/services/transcription/entity"
)

// Stub is a deterministic in-memory engine used by tests and local
// development without an inference server.
type Stub struct {
	mu     sync.Mutex
	loaded string
	calls  int

	// TranscribeFunc overrides the default behaviour when set.
	TranscribeFunc func(ctx context.Context, wavPath string, language *string) ([]entity.Segment, error)
	// LoadErr makes EnsureModel fail when set.
	LoadErr error
}

func NewStub() *Stub {
	return &Stub{}
}

func (s *Stub) EnsureModel(ctx context.Context, modelID string, progress func(ProgressEvent)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.LoadErr != nil {
		return s.LoadErr
	}
	if s.loaded == modelID {
		if progress != nil {
			progress(ProgressEvent{Stage: StageReady, Message: "Model already loaded"})
		}
		return nil
	}

	if progress != nil {
		progress(ProgressEvent{Stage: StageLoading, Message: "Loading model..."})
	}
	s.loaded = modelID
	if progress != nil {
		progress(ProgressEvent{Stage: StageReady, Message: "Model loaded"})
	}
	return nil
}

func (s *Stub) Transcribe(ctx context.Context, wavPath string, language *string) ([]entity.Segment, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if s.TranscribeFunc != nil {
		return s.TranscribeFunc(ctx, wavPath, language)
	}
	return nil, nil
}

// Calls reports how many transcription passes ran.
func (s *Stub) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// LoadedModel reports the currently loaded model id.
func (s *Stub) LoadedModel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

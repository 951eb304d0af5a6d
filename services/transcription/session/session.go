package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/openscribe/backend/services/transcription/audio"
	"github.com/openscribe/backend/services/transcription/consts"
	"github.com/openscribe/backend/services/transcription/engine"
	"github.com/openscribe/backend/services/transcription/entity"
)

// State is the lifecycle position of a streaming session.
type State int

const (
	StateIdle State = iota
	StateAwaitingModel
	StateStreaming
	StateFinalizing
	StateCompleted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingModel:
		return "awaiting_model"
	case StateStreaming:
		return "streaming"
	case StateFinalizing:
		return "finalizing"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	}
	return "unknown"
}

func (s State) terminal() bool {
	return s == StateCompleted || s == StateAborted
}

type Config struct {
	// InferenceInterval is the wall-clock cadence between transcription
	// passes over the accumulated audio.
	InferenceInterval time.Duration
	AudioDir          string
	// AudioURLPrefix maps artifact file names to client-facing URLs.
	AudioURLPrefix string
}

// Session coordinates one connection's recording: chunk buffering,
// periodic inference over the whole accumulated audio, append-only
// partial emission, and finalization.
//
// Chunk ingestion and inference are serialized per session; a cadence
// tick that fires while a pass is still running is skipped, never
// queued. Sessions are independent of each other.
type Session struct {
	id    string
	cfg   Config
	eng   engine.Engine
	media audio.Media
	log   *slog.Logger

	events chan entity.ServerEvent

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	state          State
	buffer         *audio.Buffer
	modelID        string
	channel        string
	language       *string
	resumePath     string
	resumeDuration float64
	emitted        []entity.Segment
	lastPassAt     float64 // tracked duration at the last inference pass
	tickerOnce     sync.Once

	// inferMu serializes inference passes against finalization.
	inferMu sync.Mutex
}

func New(ctx context.Context, id string, cfg Config, eng engine.Engine, media audio.Media, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	if cfg.InferenceInterval <= 0 {
		cfg.InferenceInterval = 3 * time.Second
	}

	ctx, cancel := context.WithCancel(ctx)
	return &Session{
		id:      id,
		cfg:     cfg,
		eng:     eng,
		media:   media,
		log:     log.With(slog.String("session_id", id)),
		events:  make(chan entity.ServerEvent, 64),
		ctx:     ctx,
		cancel:  cancel,
		state:   StateIdle,
		buffer:  audio.NewBuffer(media, cfg.AudioDir, id, ""),
		channel: "",
	}
}

func (s *Session) ID() string { return s.id }

// Events is the outbound event stream consumed by the controller's
// writer loop. Events are fire-and-forget notifications.
func (s *Session) Events() <-chan entity.ServerEvent { return s.events }

// Done is closed when the session terminates (abort or parent context
// cancellation); consumers of Events use it to stop draining.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Publish puts an event on the outbound stream. A full stream drops the
// event rather than blocking the session.
func (s *Session) Publish(ev entity.ServerEvent) {
	select {
	case s.events <- ev:
	default:
		s.log.Warn("event stream full, dropping event", slog.String("type", string(ev.Type)))
	}
}

// SelectModel moves the session toward Streaming: it loads the requested
// model (reporting progress) and, once ready, opens the chunk stream.
// Selecting a different model mid-session reloads before the next pass.
func (s *Session) SelectModel(ctx context.Context, modelID string) error {
	s.mu.Lock()
	if s.state.terminal() || s.state == StateFinalizing {
		s.mu.Unlock()
		return fmt.Errorf("%w: select model in state %s", entity.ErrSessionState, s.state)
	}
	wasStreaming := s.state == StateStreaming
	s.state = StateAwaitingModel
	if wasStreaming {
		// Keep accepting chunks while the new model loads.
		s.state = StateStreaming
	}
	s.modelID = modelID
	s.mu.Unlock()

	s.Publish(entity.ServerEvent{
		Type:    entity.EventStatus,
		Message: fmt.Sprintf("Loading model %s...", modelID),
	})

	err := s.eng.EnsureModel(ctx, modelID, func(ev engine.ProgressEvent) {
		switch ev.Stage {
		case engine.StageDownloading:
			s.Publish(entity.ServerEvent{Type: entity.EventDownloadProgress, Message: ev.Message})
		default:
			s.Publish(entity.ServerEvent{Type: entity.EventStatus, Message: ev.Message})
		}
	})
	if err != nil {
		// Load failure blocks only this session; the client may retry
		// with the same or a smaller model.
		s.log.Error("model load failed", slog.String("model", modelID), slog.String("error", err.Error()))
		s.Publish(entity.ServerEvent{
			Type:    entity.EventError,
			Kind:    "model",
			Message: fmt.Sprintf("Failed to load model: %v", err),
		})
		return err
	}

	s.mu.Lock()
	if s.state == StateAwaitingModel {
		s.state = StateStreaming
	}
	s.mu.Unlock()

	s.Publish(entity.ServerEvent{Type: entity.EventModelReady})
	s.Publish(entity.ServerEvent{Type: entity.EventStatus, Message: "Ready to record"})

	s.tickerOnce.Do(func() { go s.inferenceLoop() })
	return nil
}

// SetChannel configures which audio channel feeds inference.
func (s *Session) SetChannel(channel string) {
	s.mu.Lock()
	s.channel = channel
	s.buffer.SetChannel(channel)
	s.mu.Unlock()
}

// SetLanguage sets the language hint; nil means auto-detect.
func (s *Session) SetLanguage(language *string) {
	s.mu.Lock()
	s.language = language
	s.mu.Unlock()
}

// SetResume points the session at a previously saved artifact; the new
// recording is appended to it at finalization. priorText seeds nothing:
// streamed inference covers only this session's audio, and the final
// pass runs over the combined file.
func (s *Session) SetResume(priorPath string, priorDuration float64) error {
	if _, err := os.Stat(priorPath); err != nil {
		return fmt.Errorf("%w: %s", entity.ErrMissingPriorAudio, priorPath)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.terminal() || s.state == StateFinalizing {
		return fmt.Errorf("%w: set resume in state %s", entity.ErrSessionState, s.state)
	}
	s.resumePath = priorPath
	s.resumeDuration = priorDuration
	return nil
}

// AppendChunk adds one encoded fragment. Pure append, never blocks on
// inference.
func (s *Session) AppendChunk(data []byte, duration float64) error {
	if len(data) > consts.MaxChunkSize {
		return fmt.Errorf("chunk of %d bytes exceeds limit", len(data))
	}

	s.mu.Lock()
	if s.state != StateStreaming {
		s.mu.Unlock()
		return fmt.Errorf("%w: chunk in state %s", entity.ErrSessionState, s.state)
	}
	buf := s.buffer
	s.mu.Unlock()

	return buf.Append(data, duration)
}

func (s *Session) inferenceLoop() {
	ticker := time.NewTicker(s.cfg.InferenceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.maybeTranscribe()
		}
	}
}

// maybeTranscribe runs one pass when the session is streaming and new
// audio arrived since the last pass. If a pass is still running the tick
// is coalesced: TryLock fails and the tick is dropped.
func (s *Session) maybeTranscribe() {
	if !s.inferMu.TryLock() {
		return
	}
	defer s.inferMu.Unlock()

	s.mu.Lock()
	if s.state != StateStreaming {
		s.mu.Unlock()
		return
	}
	buf := s.buffer
	lang := s.language
	tracked := buf.TrackedDuration()
	if tracked <= s.lastPassAt {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	wav, err := buf.ExtractAll(s.ctx)
	if err != nil {
		s.log.Error("audio extraction failed, skipping pass", slog.String("error", err.Error()))
		return
	}
	defer os.Remove(wav)

	segments, err := s.eng.Transcribe(s.ctx, wav, lang)
	if err != nil {
		// A failed pass is skipped; the next tick covers the same audio.
		s.log.Error("inference pass failed", slog.String("error", err.Error()))
		s.Publish(entity.ServerEvent{
			Type:    entity.EventError,
			Kind:    "model",
			Message: fmt.Sprintf("Transcription failed: %v", err),
		})
		return
	}

	s.mu.Lock()
	fresh := newSuffix(s.emitted, segments)
	if len(fresh) > 0 {
		s.emitted = append(s.emitted, fresh...)
	}
	s.lastPassAt = tracked
	s.mu.Unlock()

	if len(fresh) == 0 {
		return
	}

	text := trimTrailingPunctuation(joinSegments(fresh))
	if text == "" {
		return
	}

	s.Publish(entity.ServerEvent{
		Type:     entity.EventTranscription,
		Text:     text,
		Segments: fresh,
	})
	s.log.Debug("emitted partial transcription",
		slog.Int("segments", len(fresh)),
		slog.Float64("audio_seconds", tracked))
}

// EndRecording finalizes the session: audio is remuxed (and spliced onto
// the prior artifact when resuming), one authoritative pass runs over the
// complete audio, and a completion status event carries the artifact URL,
// duration and authoritative text. The returned artifact carries the
// authoritative text for persistence.
func (s *Session) EndRecording(ctx context.Context) (*entity.Artifact, error) {
	s.mu.Lock()
	if s.state != StateStreaming {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: end recording in state %s", entity.ErrSessionState, s.state)
	}
	s.state = StateFinalizing
	buf := s.buffer
	lang := s.language
	resumePath := s.resumePath
	s.mu.Unlock()

	// Wait for an in-flight pass to drain; no two passes run at once.
	s.inferMu.Lock()
	defer s.inferMu.Unlock()

	s.Publish(entity.ServerEvent{Type: entity.EventStatus, Message: "Processing final audio..."})

	artifact, err := buf.Finalize(ctx)
	if err != nil {
		return nil, s.failFinalize(fmt.Errorf("finalize audio: %w", err))
	}

	if resumePath != "" {
		s.Publish(entity.ServerEvent{Type: entity.EventStatus, Message: "Appending audio to existing recording..."})
		artifact, err = buf.ConcatenateWithPrior(ctx, resumePath)
		if err != nil {
			return nil, s.failFinalize(fmt.Errorf("concatenate with prior: %w", err))
		}
		s.Publish(entity.ServerEvent{
			Type:    entity.EventStatus,
			Message: fmt.Sprintf("Audio appended successfully (%.1fs total)", artifact.DurationSeconds),
		})
	}

	// The last full-audio pass is authoritative; it supersedes every
	// streamed partial.
	authoritative := ""
	if artifact.DurationSeconds > 0 {
		authoritative, err = s.finalPass(ctx, artifact.AudioFilePath, lang)
		if err != nil {
			s.log.Error("authoritative pass failed, falling back to streamed text",
				slog.String("error", err.Error()))
			s.Publish(entity.ServerEvent{
				Type:    entity.EventError,
				Kind:    "model",
				Message: fmt.Sprintf("Final transcription failed: %v", err),
			})
			s.mu.Lock()
			authoritative = joinSegments(s.emitted)
			s.mu.Unlock()
		}
	}

	s.mu.Lock()
	s.state = StateCompleted
	s.mu.Unlock()

	duration := artifact.DurationSeconds
	s.Publish(entity.ServerEvent{
		Type:            entity.EventStatus,
		Message:         "Recording completed. Transcription finished.",
		AudioURL:        s.cfg.AudioURLPrefix + filepath.Base(artifact.AudioFilePath),
		DurationSeconds: &duration,
		Text:            authoritative,
	})

	s.log.Info("session completed",
		slog.Float64("duration_seconds", duration),
		slog.String("audio", artifact.AudioFilePath))

	artifact.Text = authoritative
	return artifact, nil
}

func (s *Session) finalPass(ctx context.Context, artifactPath string, language *string) (string, error) {
	s.mu.Lock()
	channel := s.channel
	s.mu.Unlock()

	wav := filepath.Join(s.cfg.AudioDir, s.id+"_final.wav")
	if err := s.media.ExtractWAV(ctx, artifactPath, wav, channel); err != nil {
		return "", fmt.Errorf("%w: extract final audio: %v", entity.ErrInference, err)
	}
	defer os.Remove(wav)

	segments, err := s.eng.Transcribe(ctx, wav, language)
	if err != nil {
		return "", err
	}
	return joinSegments(segments), nil
}

func (s *Session) failFinalize(err error) error {
	s.log.Error("finalization failed", slog.String("error", err.Error()))
	s.Publish(entity.ServerEvent{
		Type:    entity.EventError,
		Kind:    "audio",
		Message: err.Error(),
	})

	// A session that cannot produce an artifact terminates without
	// persisting anything.
	s.mu.Lock()
	s.state = StateAborted
	s.mu.Unlock()
	s.cancel()
	return err
}

// Reset re-arms a completed session for the next recording on the same
// connection: fresh buffer and dedup state, same loaded model, channel
// and language, no resume pointer.
func (s *Session) Reset(newID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateCompleted {
		return
	}

	s.id = newID
	s.buffer = audio.NewBuffer(s.media, s.cfg.AudioDir, newID, s.channel)
	s.emitted = nil
	s.lastPassAt = 0
	s.resumePath = ""
	s.resumeDuration = 0
	s.state = StateStreaming
}

// Abort discards all in-memory state with no persistence side effect.
// Reachable from any non-terminal state; used on disconnect and error.
func (s *Session) Abort() {
	s.mu.Lock()
	if s.state.terminal() {
		s.mu.Unlock()
		return
	}
	s.state = StateAborted
	s.mu.Unlock()

	s.cancel()
	s.log.Info("session aborted")
}

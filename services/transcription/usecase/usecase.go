package usecase

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/openscribe/backend/pkg/logger"
	"github.com/openscribe/backend/services/transcription/audio"
	"github.com/openscribe/backend/services/transcription/consts"
	"github.com/openscribe/backend/services/transcription/engine"
	"github.com/openscribe/backend/services/transcription/entity"
	"github.com/openscribe/backend/services/transcription/storage"
)

// Reviewer is the language-model gateway. Both methods may fail when the
// model host is down; callers treat that as a degradation, not an error in
// the primary flow.
type Reviewer interface {
	Review(ctx context.Context, text string, action entity.ReviewAction) (string, error)
	SuggestTitle(ctx context.Context, content string) (string, error)
}

type Usecase interface {
	Create(ctx context.Context, req *entity.CreateTranscriptionRequest) (*entity.Transcription, error)
	SaveArtifact(ctx context.Context, artifact *entity.Artifact) (*entity.Transcription, error)
	Get(ctx context.Context, id uuid.UUID) (*entity.Transcription, error)
	List(ctx context.Context, req *entity.ListTranscriptionsRequest) (*entity.ListTranscriptionsResponse, error)
	Summaries(ctx context.Context) ([]*entity.TranscriptionSummary, error)
	History(ctx context.Context, id uuid.UUID) ([]*entity.TranscriptionDiff, error)
	Update(ctx context.Context, id uuid.UUID, req *entity.UpdateTranscriptionRequest) (*entity.Transcription, error)
	Delete(ctx context.Context, id uuid.UUID, reason *string) error
	Restore(ctx context.Context, id uuid.UUID) (*entity.Transcription, error)
	ListDeleted(ctx context.Context) ([]*entity.DeletedTranscription, error)
	Review(ctx context.Context, req *entity.ReviewRequest) (*entity.ReviewResponse, error)
	TranscribeFile(ctx context.Context, file io.Reader, filename, channel string, language *string) ([]entity.Segment, error)
}

type usecase struct {
	storage  storage.Storage
	engine   engine.Engine
	media    audio.Media
	reviewer Reviewer
	audioDir string
}

func New(st storage.Storage, eng engine.Engine, media audio.Media, reviewer Reviewer, audioDir string) Usecase {
	return &usecase{
		storage:  st,
		engine:   eng,
		media:    media,
		reviewer: reviewer,
		audioDir: audioDir,
	}
}

func (u *usecase) Create(ctx context.Context, req *entity.CreateTranscriptionRequest) (*entity.Transcription, error) {
	return u.storage.Create(ctx, req)
}

// SaveArtifact persists a finished streaming session. The title comes from
// the review model when it answers in time; a failure falls back to a
// timestamp title and never blocks the save.
func (u *usecase) SaveArtifact(ctx context.Context, artifact *entity.Artifact) (*entity.Transcription, error) {
	log := logger.FromContext(ctx)

	title := "Recording " + time.Now().Format("2006-01-02 15:04")
	if artifact.ResumeOf == nil && artifact.Text != "" {
		titleCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		suggested, err := u.reviewer.SuggestTitle(titleCtx, artifact.Text)
		cancel()
		if err != nil {
			log.Warn("title suggestion unavailable, using fallback", "error", err)
		} else if suggested != "" {
			title = suggested
		}
	}

	return u.storage.SaveArtifact(ctx, artifact, title)
}

func (u *usecase) Get(ctx context.Context, id uuid.UUID) (*entity.Transcription, error) {
	return u.storage.Get(ctx, id)
}

func (u *usecase) List(ctx context.Context, req *entity.ListTranscriptionsRequest) (*entity.ListTranscriptionsResponse, error) {
	return u.storage.List(ctx, req)
}

func (u *usecase) Summaries(ctx context.Context) ([]*entity.TranscriptionSummary, error) {
	return u.storage.Summaries(ctx)
}

func (u *usecase) History(ctx context.Context, id uuid.UUID) ([]*entity.TranscriptionDiff, error) {
	return u.storage.History(ctx, id)
}

func (u *usecase) Update(ctx context.Context, id uuid.UUID, req *entity.UpdateTranscriptionRequest) (*entity.Transcription, error) {
	return u.storage.UpdateFields(ctx, id, req)
}

func (u *usecase) Delete(ctx context.Context, id uuid.UUID, reason *string) error {
	return u.storage.Delete(ctx, id, reason)
}

func (u *usecase) Restore(ctx context.Context, id uuid.UUID) (*entity.Transcription, error) {
	return u.storage.Restore(ctx, id)
}

func (u *usecase) ListDeleted(ctx context.Context) ([]*entity.DeletedTranscription, error) {
	return u.storage.ListDeleted(ctx)
}

func (u *usecase) Review(ctx context.Context, req *entity.ReviewRequest) (*entity.ReviewResponse, error) {
	text, err := u.reviewer.Review(ctx, req.Text, req.Action)
	if err != nil {
		return nil, err
	}
	return &entity.ReviewResponse{Text: text}, nil
}

// TranscribeFile runs one-shot inference over an uploaded audio file. The
// upload is spooled to disk, converted to mono 16 kHz WAV and handed to the
// engine; both temp files are removed afterwards.
func (u *usecase) TranscribeFile(ctx context.Context, file io.Reader, filename, channel string, language *string) ([]entity.Segment, error) {
	log := logger.FromContext(ctx)

	if channel == "" {
		channel = consts.ChannelSingle
	}
	if !consts.ValidChannel(channel) {
		return nil, fmt.Errorf("invalid channel %q", channel)
	}

	src, err := os.CreateTemp(u.audioDir, "upload_*"+filepath.Ext(filename))
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(src.Name())

	if _, err := io.Copy(src, io.LimitReader(file, consts.MaxUploadSize)); err != nil {
		src.Close()
		return nil, fmt.Errorf("spool upload: %w", err)
	}
	if err := src.Close(); err != nil {
		return nil, fmt.Errorf("spool upload: %w", err)
	}

	wavPath := src.Name() + ".wav"
	defer os.Remove(wavPath)
	if err := u.media.ExtractWAV(ctx, src.Name(), wavPath, channel); err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrCorruptAudio, err)
	}

	segments, err := u.engine.Transcribe(ctx, wavPath, language)
	if err != nil {
		return nil, err
	}

	log.Info("transcribed uploaded file",
		"filename", filename, "segments", len(segments))
	return segments, nil
}

package entity

import (
	"time"

	"github.com/google/uuid"
)

// Transcription is the primary persisted entity. OriginalContent is the
// text as first produced by the engine and never changes; CurrentContent
// tracks edits, with every previous version preserved in a diff row.
type Transcription struct {
	ID              uuid.UUID
	Title           string
	OriginalContent string
	CurrentContent  string
	CurrentDiffID   *uuid.UUID
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastModifiedAt  *time.Time
	AudioFilePath   string
	DurationSeconds float64
	SpeakerMap      map[string]string
	ExtraMetadata   map[string]any
	IsReviewed      bool
}

// TranscriptionDiff is an append-only edit-history entry. ContentAtVersion
// holds the full text as it was before the edit that created the diff, not
// a patch, so any version restores without replaying a chain.
type TranscriptionDiff struct {
	ID               uuid.UUID
	TranscriptionID  uuid.UUID
	ContentAtVersion string
	SequenceNumber   int
	CreatedAt        time.Time
}

// DeletedTranscription is the soft-delete shadow row. It carries only the
// latest content; diff history is dropped on delete.
type DeletedTranscription struct {
	ID              uuid.UUID
	Title           string
	Content         string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastModifiedAt  *time.Time
	AudioFilePath   string
	DurationSeconds float64
	SpeakerMap      map[string]string
	ExtraMetadata   map[string]any
	IsReviewed      bool
	DeletedAt       time.Time
	DeletedReason   *string
}

// Segment is one timed piece of engine output.
type Segment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Artifact is the finished product of a streaming session handed to the
// store on save.
type Artifact struct {
	Text            string
	AudioFilePath   string
	DurationSeconds float64
	// ResumeOf references the transcription this session appended to,
	// when the recording was resumed.
	ResumeOf *uuid.UUID
}

type CreateTranscriptionRequest struct {
	Title           string            `json:"title" validate:"required,min=1,max=255"`
	Content         string            `json:"content" validate:"required,min=1"`
	AudioFilePath   string            `json:"audio_file_path"`
	DurationSeconds float64           `json:"duration_seconds" validate:"gte=0"`
	SpeakerMap      map[string]string `json:"speaker_map"`
	ExtraMetadata   map[string]any    `json:"metadata"`
}

type UpdateTranscriptionRequest struct {
	Title      *string           `json:"title" validate:"omitempty,min=1,max=255"`
	Content    *string           `json:"content" validate:"omitempty,min=1"`
	SpeakerMap map[string]string `json:"speaker_map"`
	IsReviewed *bool             `json:"is_reviewed"`
}

type ListTranscriptionsRequest struct {
	Page         int
	PageSize     int
	ReviewedOnly *bool
}

type ListTranscriptionsResponse struct {
	Transcriptions []*Transcription
	Total          int
	Page           int
	PageSize       int
}

// TranscriptionSummary is the lightweight list item used by pickers.
type TranscriptionSummary struct {
	ID                uuid.UUID  `json:"id"`
	Title             string     `json:"title"`
	ContentPreview    string     `json:"content_preview"`
	CreatedAt         time.Time  `json:"created_at"`
	LastModifiedAt    *time.Time `json:"last_modified_at"`
	ModificationCount int        `json:"modification_count"`
}

// ReviewAction enumerates what the review gateway may do to a text.
type ReviewAction string

const (
	ReviewFixGrammar ReviewAction = "fix_grammar"
	ReviewRephrase   ReviewAction = "rephrase"
	ReviewImprove    ReviewAction = "improve"
	ReviewSummarize  ReviewAction = "summarize"
)

func (a ReviewAction) Valid() bool {
	switch a {
	case ReviewFixGrammar, ReviewRephrase, ReviewImprove, ReviewSummarize:
		return true
	}
	return false
}

type ReviewRequest struct {
	Text   string       `json:"text" validate:"required,min=1"`
	Action ReviewAction `json:"action" validate:"required"`
}

type ReviewResponse struct {
	Text string `json:"text"`
}

package entity

import "errors"

var (
	// ErrCorruptAudio means the buffered fragments do not form a
	// decodable container; the session cannot produce an artifact.
	ErrCorruptAudio = errors.New("corrupt audio")

	// ErrMissingPriorAudio means a resume pointer references an audio
	// artifact that does not exist.
	ErrMissingPriorAudio = errors.New("prior audio artifact not found")

	// ErrModelLoad means the engine failed to download or load a model.
	ErrModelLoad = errors.New("model load failed")

	// ErrInference means one transcription pass failed; the pass is
	// skipped and the session continues.
	ErrInference = errors.New("inference failed")

	ErrNotFound = errors.New("not found")

	// ErrConflict is returned by restore when a live transcription with
	// the same id already exists.
	ErrConflict = errors.New("conflict")

	// ErrReviewUnavailable means the review gateway is unreachable;
	// callers must treat it as non-fatal.
	ErrReviewUnavailable = errors.New("review service unavailable")

	// ErrSessionState is returned when an operation is not legal in the
	// session's current state.
	ErrSessionState = errors.New("invalid session state")
)

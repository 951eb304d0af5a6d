package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/openscribe/backend/pkg/logger"
	"github.com/openscribe/backend/services/transcription/consts"
	"github.com/openscribe/backend/services/transcription/entity"
)

const transcriptionColumns = `id, title, original_content, current_content, current_diff_id,
	created_at, updated_at, last_modified_at, audio_file_path, duration_seconds,
	speaker_map, extra_metadata, is_reviewed`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTranscription(row rowScanner) (*entity.Transcription, error) {
	var (
		t                    entity.Transcription
		id                   string
		currentDiffID        sql.NullString
		createdAt, updatedAt float64
		lastModifiedAt       sql.NullFloat64
		speakerMap, metadata string
		isReviewed           int64
	)

	err := row.Scan(&id, &t.Title, &t.OriginalContent, &t.CurrentContent, &currentDiffID,
		&createdAt, &updatedAt, &lastModifiedAt, &t.AudioFilePath, &t.DurationSeconds,
		&speakerMap, &metadata, &isReviewed)
	if err != nil {
		return nil, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse transcription id: %w", err)
	}
	t.ID = parsed

	if currentDiffID.Valid {
		diffID, err := uuid.Parse(currentDiffID.String)
		if err != nil {
			return nil, fmt.Errorf("parse current diff id: %w", err)
		}
		t.CurrentDiffID = &diffID
	}

	t.CreatedAt = timeFromUnix(createdAt)
	t.UpdatedAt = timeFromUnix(updatedAt)
	if lastModifiedAt.Valid {
		lm := timeFromUnix(lastModifiedAt.Float64)
		t.LastModifiedAt = &lm
	}
	t.IsReviewed = isReviewed != 0

	if err := json.Unmarshal([]byte(speakerMap), &t.SpeakerMap); err != nil {
		return nil, fmt.Errorf("decode speaker map: %w", err)
	}
	if err := json.Unmarshal([]byte(metadata), &t.ExtraMetadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}

	return &t, nil
}

func encodeMap(m any) string {
	data, err := json.Marshal(m)
	if err != nil || string(data) == "null" {
		return "{}"
	}
	return string(data)
}

func (s *storage) Create(ctx context.Context, req *entity.CreateTranscriptionRequest) (*entity.Transcription, error) {
	log := logger.FromContext(ctx)

	id := s.ids.Next()
	now := timeToUnix(s.now())

	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO transcriptions (id, title, original_content, current_content,
			created_at, updated_at, audio_file_path, duration_seconds,
			speaker_map, extra_metadata, is_reviewed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
	`), id.String(), req.Title, req.Content, req.Content, now, now,
		req.AudioFilePath, req.DurationSeconds,
		encodeMap(req.SpeakerMap), encodeMap(req.ExtraMetadata))
	if err != nil {
		log.Error("failed to create transcription", "error", err)
		return nil, fmt.Errorf("create transcription: %w", err)
	}

	log.Debug("created transcription", "id", id)
	return s.Get(ctx, id)
}

// SaveArtifact persists a finished streaming session. A resumed session
// updates the prior transcription in place: the audio path and duration
// become the new combined totals, and the content is replaced by the
// authoritative full-audio text; the prior audio is already folded in by
// concatenation, so nothing is appended textually.
func (s *storage) SaveArtifact(ctx context.Context, artifact *entity.Artifact, title string) (*entity.Transcription, error) {
	log := logger.FromContext(ctx)

	if artifact.ResumeOf == nil {
		return s.Create(ctx, &entity.CreateTranscriptionRequest{
			Title:           title,
			Content:         artifact.Text,
			AudioFilePath:   artifact.AudioFilePath,
			DurationSeconds: artifact.DurationSeconds,
		})
	}

	id := *artifact.ResumeOf
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		existing, err := s.getTx(ctx, tx, id)
		if err != nil {
			return err
		}

		// Duration never decreases across resumed sessions.
		duration := artifact.DurationSeconds
		if existing.DurationSeconds > duration {
			log.Warn("combined duration below prior, keeping prior",
				"prior", existing.DurationSeconds, "combined", duration)
			duration = existing.DurationSeconds
		}

		now := timeToUnix(s.now())
		_, err = tx.ExecContext(ctx, s.rebind(`
			UPDATE transcriptions
			SET current_content = ?, audio_file_path = ?, duration_seconds = ?, updated_at = ?
			WHERE id = ?
		`), artifact.Text, artifact.AudioFilePath, duration, now, id.String())
		if err != nil {
			return fmt.Errorf("update resumed transcription: %w", err)
		}
		return nil
	})
	if err != nil {
		log.Error("failed to save resumed artifact", "id", id, "error", err)
		return nil, err
	}

	log.Debug("saved resumed artifact", "id", id)
	return s.Get(ctx, id)
}

func (s *storage) Get(ctx context.Context, id uuid.UUID) (*entity.Transcription, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT `+transcriptionColumns+`
		FROM transcriptions
		WHERE id = ?
	`), id.String())

	t, err := scanTranscription(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: transcription %s", entity.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get transcription: %w", err)
	}
	return t, nil
}

func (s *storage) getTx(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*entity.Transcription, error) {
	row := tx.QueryRowContext(ctx, s.rebind(`
		SELECT `+transcriptionColumns+`
		FROM transcriptions
		WHERE id = ?
	`), id.String())

	t, err := scanTranscription(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: transcription %s", entity.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get transcription: %w", err)
	}
	return t, nil
}

func (s *storage) List(ctx context.Context, req *entity.ListTranscriptionsRequest) (*entity.ListTranscriptionsResponse, error) {
	page := req.Page
	if page < 1 {
		page = 1
	}
	pageSize := req.PageSize
	if pageSize < 1 {
		pageSize = consts.DefaultPageSize
	}
	if pageSize > consts.MaxPageSize {
		pageSize = consts.MaxPageSize
	}

	where := ""
	args := []any{}
	if req.ReviewedOnly != nil {
		where = "WHERE is_reviewed = ?"
		reviewed := 0
		if *req.ReviewedOnly {
			reviewed = 1
		}
		args = append(args, reviewed)
	}

	var total int
	row := s.db.QueryRowContext(ctx, s.rebind("SELECT COUNT(*) FROM transcriptions "+where), args...)
	if err := row.Scan(&total); err != nil {
		return nil, fmt.Errorf("count transcriptions: %w", err)
	}

	args = append(args, pageSize, (page-1)*pageSize)
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+transcriptionColumns+`
		FROM transcriptions `+where+`
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`), args...)
	if err != nil {
		return nil, fmt.Errorf("list transcriptions: %w", err)
	}
	defer rows.Close()

	var items []*entity.Transcription
	for rows.Next() {
		t, err := scanTranscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transcription: %w", err)
		}
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list transcriptions: %w", err)
	}

	return &entity.ListTranscriptionsResponse{
		Transcriptions: items,
		Total:          total,
		Page:           page,
		PageSize:       pageSize,
	}, nil
}

func (s *storage) Summaries(ctx context.Context) ([]*entity.TranscriptionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.title, t.current_content, t.created_at, t.last_modified_at,
			COUNT(d.id)
		FROM transcriptions t
		LEFT JOIN transcription_diffs d ON d.transcription_id = t.id
		GROUP BY t.id, t.title, t.current_content, t.created_at, t.last_modified_at
		ORDER BY COALESCE(t.last_modified_at, t.created_at) DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	defer rows.Close()

	var summaries []*entity.TranscriptionSummary
	for rows.Next() {
		var (
			sum            entity.TranscriptionSummary
			id, content    string
			createdAt      float64
			lastModifiedAt sql.NullFloat64
		)
		if err := rows.Scan(&id, &sum.Title, &content, &createdAt, &lastModifiedAt, &sum.ModificationCount); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}

		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parse summary id: %w", err)
		}
		sum.ID = parsed
		sum.CreatedAt = timeFromUnix(createdAt)
		if lastModifiedAt.Valid {
			lm := timeFromUnix(lastModifiedAt.Float64)
			sum.LastModifiedAt = &lm
		}
		if len(content) > 100 {
			content = content[:100]
		}
		sum.ContentPreview = content

		summaries = append(summaries, &sum)
	}
	return summaries, rows.Err()
}

func (s *storage) History(ctx context.Context, id uuid.UUID) ([]*entity.TranscriptionDiff, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, transcription_id, content_at_version, sequence_number, created_at
		FROM transcription_diffs
		WHERE transcription_id = ?
		ORDER BY sequence_number ASC
	`), id.String())
	if err != nil {
		return nil, fmt.Errorf("list diffs: %w", err)
	}
	defer rows.Close()

	var diffs []*entity.TranscriptionDiff
	for rows.Next() {
		var (
			d               entity.TranscriptionDiff
			diffID, transID string
			createdAt       float64
		)
		if err := rows.Scan(&diffID, &transID, &d.ContentAtVersion, &d.SequenceNumber, &createdAt); err != nil {
			return nil, fmt.Errorf("scan diff: %w", err)
		}
		d.ID = uuid.MustParse(diffID)
		d.TranscriptionID = uuid.MustParse(transID)
		d.CreatedAt = timeFromUnix(createdAt)
		diffs = append(diffs, &d)
	}
	return diffs, rows.Err()
}

// Edit records the previous content as an immutable diff and replaces the
// current content. Diff creation and the content update commit together
// or not at all. Every edit produces a diff, including a no-op edit.
func (s *storage) Edit(ctx context.Context, id uuid.UUID, newContent string) (*entity.Transcription, error) {
	log := logger.FromContext(ctx)

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		return s.editTx(ctx, tx, id, newContent)
	})
	if err != nil {
		log.Error("failed to edit transcription", "id", id, "error", err)
		return nil, err
	}

	log.Debug("edited transcription", "id", id)
	return s.Get(ctx, id)
}

func (s *storage) editTx(ctx context.Context, tx *sql.Tx, id uuid.UUID, newContent string) error {
	existing, err := s.getTx(ctx, tx, id)
	if err != nil {
		return err
	}

	var maxSeq sql.NullInt64
	row := tx.QueryRowContext(ctx, s.rebind(`
		SELECT MAX(sequence_number) FROM transcription_diffs WHERE transcription_id = ?
	`), id.String())
	if err := row.Scan(&maxSeq); err != nil {
		return fmt.Errorf("next sequence number: %w", err)
	}

	diffID := s.ids.Next()
	now := timeToUnix(s.now())

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO transcription_diffs (id, transcription_id, content_at_version, sequence_number, created_at)
		VALUES (?, ?, ?, ?, ?)
	`), diffID.String(), id.String(), existing.CurrentContent, maxSeq.Int64+1, now)
	if err != nil {
		return fmt.Errorf("create diff: %w", err)
	}

	_, err = tx.ExecContext(ctx, s.rebind(`
		UPDATE transcriptions
		SET current_content = ?, current_diff_id = ?, updated_at = ?, last_modified_at = ?
		WHERE id = ?
	`), newContent, diffID.String(), now, now, id.String())
	if err != nil {
		return fmt.Errorf("update content: %w", err)
	}
	return nil
}

func (s *storage) UpdateFields(ctx context.Context, id uuid.UUID, req *entity.UpdateTranscriptionRequest) (*entity.Transcription, error) {
	log := logger.FromContext(ctx)

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if req.Content != nil {
			if err := s.editTx(ctx, tx, id, *req.Content); err != nil {
				return err
			}
		} else if _, err := s.getTx(ctx, tx, id); err != nil {
			return err
		}

		now := timeToUnix(s.now())
		if req.Title != nil {
			if _, err := tx.ExecContext(ctx, s.rebind(`
				UPDATE transcriptions SET title = ?, updated_at = ? WHERE id = ?
			`), *req.Title, now, id.String()); err != nil {
				return fmt.Errorf("update title: %w", err)
			}
		}
		if req.SpeakerMap != nil {
			if _, err := tx.ExecContext(ctx, s.rebind(`
				UPDATE transcriptions SET speaker_map = ?, updated_at = ? WHERE id = ?
			`), encodeMap(req.SpeakerMap), now, id.String()); err != nil {
				return fmt.Errorf("update speaker map: %w", err)
			}
		}
		if req.IsReviewed != nil {
			reviewed := 0
			if *req.IsReviewed {
				reviewed = 1
			}
			if _, err := tx.ExecContext(ctx, s.rebind(`
				UPDATE transcriptions SET is_reviewed = ?, updated_at = ? WHERE id = ?
			`), reviewed, now, id.String()); err != nil {
				return fmt.Errorf("update review flag: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		log.Error("failed to update transcription", "id", id, "error", err)
		return nil, err
	}

	return s.Get(ctx, id)
}

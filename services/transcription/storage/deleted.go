package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/openscribe/backend/pkg/logger"
	"github.com/openscribe/backend/services/transcription/entity"
)

// Delete moves a transcription into the shadow table and drops its diff
// history, all in one transaction. The shadow row keeps the same id so a
// restore lands under the original identifier.
func (s *storage) Delete(ctx context.Context, id uuid.UUID, reason *string) error {
	log := logger.FromContext(ctx)

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		existing, err := s.getTx(ctx, tx, id)
		if err != nil {
			return err
		}

		var lastModified any
		if existing.LastModifiedAt != nil {
			lastModified = timeToUnix(*existing.LastModifiedAt)
		}
		reviewed := 0
		if existing.IsReviewed {
			reviewed = 1
		}

		_, err = tx.ExecContext(ctx, s.rebind(`
			INSERT INTO deleted_transcriptions (id, title, content,
				created_at, updated_at, last_modified_at,
				audio_file_path, duration_seconds, speaker_map, extra_metadata,
				is_reviewed, deleted_at, deleted_reason)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`), id.String(), existing.Title, existing.CurrentContent,
			timeToUnix(existing.CreatedAt), timeToUnix(existing.UpdatedAt), lastModified,
			existing.AudioFilePath, existing.DurationSeconds,
			encodeMap(existing.SpeakerMap), encodeMap(existing.ExtraMetadata),
			reviewed, timeToUnix(s.now()), reason)
		if err != nil {
			return fmt.Errorf("create shadow row: %w", err)
		}

		// The diff reference goes first so the diff rows are unreferenced
		// when removed.
		if _, err := tx.ExecContext(ctx, s.rebind(`
			UPDATE transcriptions SET current_diff_id = NULL WHERE id = ?
		`), id.String()); err != nil {
			return fmt.Errorf("clear diff reference: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`
			DELETE FROM transcription_diffs WHERE transcription_id = ?
		`), id.String()); err != nil {
			return fmt.Errorf("drop diffs: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`
			DELETE FROM transcriptions WHERE id = ?
		`), id.String()); err != nil {
			return fmt.Errorf("drop transcription: %w", err)
		}
		return nil
	})
	if err != nil {
		log.Error("failed to delete transcription", "id", id, "error", err)
		return err
	}

	log.Info("deleted transcription", "id", id)
	return nil
}

// Restore moves a shadow row back into the live table. The restored
// transcription starts with an empty diff history and its content doubles
// as the original.
func (s *storage) Restore(ctx context.Context, id uuid.UUID) (*entity.Transcription, error) {
	log := logger.FromContext(ctx)

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var exists int
		row := tx.QueryRowContext(ctx, s.rebind(`
			SELECT COUNT(*) FROM transcriptions WHERE id = ?
		`), id.String())
		if err := row.Scan(&exists); err != nil {
			return fmt.Errorf("check live row: %w", err)
		}
		if exists > 0 {
			return fmt.Errorf("%w: transcription %s already exists", entity.ErrConflict, id)
		}

		deleted, err := s.getDeletedTx(ctx, tx, id)
		if err != nil {
			return err
		}

		var lastModified any
		if deleted.LastModifiedAt != nil {
			lastModified = timeToUnix(*deleted.LastModifiedAt)
		}
		reviewed := 0
		if deleted.IsReviewed {
			reviewed = 1
		}

		_, err = tx.ExecContext(ctx, s.rebind(`
			INSERT INTO transcriptions (id, title, original_content, current_content,
				created_at, updated_at, last_modified_at,
				audio_file_path, duration_seconds, speaker_map, extra_metadata, is_reviewed)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`), id.String(), deleted.Title, deleted.Content, deleted.Content,
			timeToUnix(deleted.CreatedAt), timeToUnix(s.now()), lastModified,
			deleted.AudioFilePath, deleted.DurationSeconds,
			encodeMap(deleted.SpeakerMap), encodeMap(deleted.ExtraMetadata), reviewed)
		if err != nil {
			return fmt.Errorf("restore row: %w", err)
		}

		if _, err := tx.ExecContext(ctx, s.rebind(`
			DELETE FROM deleted_transcriptions WHERE id = ?
		`), id.String()); err != nil {
			return fmt.Errorf("drop shadow row: %w", err)
		}
		return nil
	})
	if err != nil {
		log.Error("failed to restore transcription", "id", id, "error", err)
		return nil, err
	}

	log.Info("restored transcription", "id", id)
	return s.Get(ctx, id)
}

func (s *storage) ListDeleted(ctx context.Context) ([]*entity.DeletedTranscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, content, created_at, updated_at, last_modified_at,
			audio_file_path, duration_seconds, speaker_map, extra_metadata,
			is_reviewed, deleted_at, deleted_reason
		FROM deleted_transcriptions
		ORDER BY deleted_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list deleted: %w", err)
	}
	defer rows.Close()

	var items []*entity.DeletedTranscription
	for rows.Next() {
		d, err := scanDeleted(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

func (s *storage) getDeletedTx(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*entity.DeletedTranscription, error) {
	row := tx.QueryRowContext(ctx, s.rebind(`
		SELECT id, title, content, created_at, updated_at, last_modified_at,
			audio_file_path, duration_seconds, speaker_map, extra_metadata,
			is_reviewed, deleted_at, deleted_reason
		FROM deleted_transcriptions
		WHERE id = ?
	`), id.String())

	d, err := scanDeleted(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: deleted transcription %s", entity.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get deleted transcription: %w", err)
	}
	return d, nil
}

func scanDeleted(row rowScanner) (*entity.DeletedTranscription, error) {
	var (
		d                    entity.DeletedTranscription
		id                   string
		createdAt, updatedAt float64
		lastModifiedAt       sql.NullFloat64
		speakerMap, metadata string
		isReviewed           int64
		deletedAt            float64
		reason               sql.NullString
	)

	err := row.Scan(&id, &d.Title, &d.Content, &createdAt, &updatedAt, &lastModifiedAt,
		&d.AudioFilePath, &d.DurationSeconds, &speakerMap, &metadata,
		&isReviewed, &deletedAt, &reason)
	if err != nil {
		return nil, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse deleted id: %w", err)
	}
	d.ID = parsed
	d.CreatedAt = timeFromUnix(createdAt)
	d.UpdatedAt = timeFromUnix(updatedAt)
	if lastModifiedAt.Valid {
		lm := timeFromUnix(lastModifiedAt.Float64)
		d.LastModifiedAt = &lm
	}
	d.IsReviewed = isReviewed != 0
	d.DeletedAt = timeFromUnix(deletedAt)
	if reason.Valid {
		d.DeletedReason = &reason.String
	}

	if err := json.Unmarshal([]byte(speakerMap), &d.SpeakerMap); err != nil {
		return nil, fmt.Errorf("decode speaker map: %w", err)
	}
	if err := json.Unmarshal([]byte(metadata), &d.ExtraMetadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return &d, nil
}

package storage

import (
	"context"
	"database/sql"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS transcriptions (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	original_content TEXT NOT NULL,
	current_content TEXT NOT NULL,
	current_diff_id TEXT,
	created_at DOUBLE PRECISION NOT NULL,
	updated_at DOUBLE PRECISION NOT NULL,
	last_modified_at DOUBLE PRECISION,
	audio_file_path TEXT NOT NULL DEFAULT '',
	duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
	speaker_map TEXT NOT NULL DEFAULT '{}',
	extra_metadata TEXT NOT NULL DEFAULT '{}',
	is_reviewed INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS transcription_diffs (
	id TEXT PRIMARY KEY,
	transcription_id TEXT NOT NULL,
	content_at_version TEXT NOT NULL,
	sequence_number INTEGER NOT NULL,
	created_at DOUBLE PRECISION NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_diffs_transcription
	ON transcription_diffs (transcription_id, sequence_number);

CREATE TABLE IF NOT EXISTS deleted_transcriptions (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at DOUBLE PRECISION NOT NULL,
	updated_at DOUBLE PRECISION NOT NULL,
	last_modified_at DOUBLE PRECISION,
	audio_file_path TEXT NOT NULL DEFAULT '',
	duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
	speaker_map TEXT NOT NULL DEFAULT '{}',
	extra_metadata TEXT NOT NULL DEFAULT '{}',
	is_reviewed INTEGER NOT NULL DEFAULT 0,
	deleted_at DOUBLE PRECISION NOT NULL,
	deleted_reason TEXT
);
`

// Migrate creates the three tables when they do not exist. The DDL is
// portable between sqlite and postgres.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

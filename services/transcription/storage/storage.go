package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/openscribe/backend/pkg/gen"
	"github.com/openscribe/backend/services/transcription/entity"
)

type Storage interface {
	Create(ctx context.Context, req *entity.CreateTranscriptionRequest) (*entity.Transcription, error)
	SaveArtifact(ctx context.Context, artifact *entity.Artifact, title string) (*entity.Transcription, error)
	Get(ctx context.Context, id uuid.UUID) (*entity.Transcription, error)
	List(ctx context.Context, req *entity.ListTranscriptionsRequest) (*entity.ListTranscriptionsResponse, error)
	Summaries(ctx context.Context) ([]*entity.TranscriptionSummary, error)
	History(ctx context.Context, id uuid.UUID) ([]*entity.TranscriptionDiff, error)
	Edit(ctx context.Context, id uuid.UUID, newContent string) (*entity.Transcription, error)
	UpdateFields(ctx context.Context, id uuid.UUID, req *entity.UpdateTranscriptionRequest) (*entity.Transcription, error)
	Delete(ctx context.Context, id uuid.UUID, reason *string) error
	Restore(ctx context.Context, id uuid.UUID) (*entity.Transcription, error)
	ListDeleted(ctx context.Context) ([]*entity.DeletedTranscription, error)
}

type storage struct {
	db     *sql.DB
	driver string
	ids    gen.UUIDGenerator
	now    func() time.Time
}

// Open connects to the configured database. Driver is "sqlite"
// (modernc.org/sqlite) or "postgres" (lib/pq); both are registered by
// the binary importing them.
func Open(driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func New(db *sql.DB, driver string) Storage {
	return &storage{
		db:     db,
		driver: driver,
		ids:    gen.UUID(),
		now:    time.Now,
	}
}

// rebind rewrites ? placeholders to $N for postgres. Queries are written
// once in sqlite style.
func (s *storage) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&sb, "$%d", n)
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// inTx runs fn inside one transaction; all mutating operations are
// all-or-nothing.
func (s *storage) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Timestamps are stored as unix seconds with fractional part.
func timeToUnix(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func timeFromUnix(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

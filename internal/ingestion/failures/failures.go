// Package failures records snippet records that could not be ingested. When
// PostgreSQL is configured the log lands in the ingest_failures table;
// otherwise, or when the insert itself fails, it is written as a structured
// log line so nothing is silently lost.
package failures

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/snippet"
	apperrors "github.com/Adithya-Monish-Kumar-K/snippet-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/pkg/postgres"
)

// Schema creates the failure table. It is idempotent.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS ingest_failures (
		id          BIGSERIAL PRIMARY KEY,
		snippet_id  TEXT NOT NULL DEFAULT '',
		source_url  TEXT NOT NULL DEFAULT '',
		origin      TEXT NOT NULL DEFAULT '',
		reason      TEXT NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS ingest_failures_recorded_at ON ingest_failures (recorded_at DESC)`,
}

type Failure struct {
	SnippetID  string    `json:"snippet_id"`
	SourceURL  string    `json:"source_url,omitempty"`
	Origin     string    `json:"origin"`
	Reason     string    `json:"reason"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Recorder accepts failures. Record never fails; implementations fall back
// to logging.
type Recorder interface {
	Record(ctx context.Context, f Failure)
}

// FromError describes why rec from origin (http, kafka, spool) was refused.
// Per-field details of an IngestionError are kept in the reason.
func FromError(rec snippet.Record, origin string, err error) Failure {
	return Failure{
		SnippetID:  rec.ID,
		SourceURL:  rec.SourceURL,
		Origin:     origin,
		Reason:     err.Error(),
		RecordedAt: time.Now().UTC(),
	}
}

type Log struct {
	db     *postgres.Client
	logger *slog.Logger
}

// New returns a failure log. db may be nil, in which case failures are only
// logged.
func New(db *postgres.Client) *Log {
	return &Log{
		db:     db,
		logger: slog.Default().With("component", "ingest-failures"),
	}
}

func (l *Log) Migrate(ctx context.Context) error {
	if l.db == nil {
		return nil
	}
	if err := l.db.Migrate(ctx, Schema...); err != nil {
		return fmt.Errorf("migrating ingest_failures: %w", err)
	}
	return nil
}

func (l *Log) Record(ctx context.Context, f Failure) {
	if f.RecordedAt.IsZero() {
		f.RecordedAt = time.Now().UTC()
	}
	if l.db != nil {
		_, err := l.db.DB.ExecContext(ctx,
			`INSERT INTO ingest_failures (snippet_id, source_url, origin, reason, recorded_at)
			VALUES ($1, $2, $3, $4, $5)`,
			f.SnippetID, f.SourceURL, f.Origin, f.Reason, f.RecordedAt)
		if err == nil {
			return
		}
		l.logger.Error("failed to store ingest failure", "error", err)
	}
	l.logger.Warn("snippet rejected",
		"snippet_id", f.SnippetID,
		"source_url", f.SourceURL,
		"origin", f.Origin,
		"reason", f.Reason,
	)
}

// Recent returns the newest failures first.
func (l *Log) Recent(ctx context.Context, limit int) ([]Failure, error) {
	if l.db == nil {
		return nil, fmt.Errorf("failure log: %w: no database configured", apperrors.ErrNotFound)
	}
	rows, err := l.db.DB.QueryContext(ctx,
		`SELECT snippet_id, source_url, origin, reason, recorded_at
		FROM ingest_failures ORDER BY recorded_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying ingest failures: %w", err)
	}
	defer rows.Close()
	var out []Failure
	for rows.Next() {
		var f Failure
		if err := rows.Scan(&f.SnippetID, &f.SourceURL, &f.Origin, &f.Reason, &f.RecordedAt); err != nil {
			return nil, fmt.Errorf("scanning ingest failure: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Memory keeps failures in process. Tests and the CLI use it.
type Memory struct {
	mu       sync.Mutex
	failures []Failure
}

func (m *Memory) Record(_ context.Context, f Failure) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, f)
}

func (m *Memory) All() []Failure {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Failure(nil), m.failures...)
}

// IsRecordable reports whether err is a per-record problem that belongs in
// the failure log rather than a fault the caller should retry.
func IsRecordable(err error) bool {
	return errors.Is(err, apperrors.ErrIngestion)
}

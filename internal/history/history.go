// Package history persists a per-utterance dispatch record to PostgreSQL
// for diagnostics. The store is optional: a nil *Store is a valid no-op
// writer, so callers never have to branch on whether history is configured.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Entry is one dispatched utterance.
type Entry struct {
	// ReceivedAt is when the transcript arrived from the recognizer.
	ReceivedAt time.Time

	// Raw is the transcript exactly as recognized.
	Raw string

	// Normalized is the filler-stripped, number-folded token text.
	Normalized string

	// Outcome describes how dispatch settled: "matched", "no_match",
	// "ambiguous", "low_confidence", "busy", "cancelled", or "error".
	Outcome string

	// Command is the matched command name, empty when none matched.
	Command string

	// Score is the winning match score, zero when nothing matched.
	Score float64

	// Detail carries error text or the resolved disambiguation label.
	Detail string

	// Duration is how long dispatch took, including action execution.
	Duration time.Duration
}

// Store writes dispatch entries to a PostgreSQL table. Safe for concurrent
// use. The zero-value nil pointer is usable: all methods are no-ops on it.
type Store struct {
	pool *pgxpool.Pool
}

const schema = `
CREATE TABLE IF NOT EXISTS dispatch_history (
	id           BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	received_at  TIMESTAMPTZ NOT NULL,
	raw          TEXT NOT NULL,
	normalized   TEXT NOT NULL,
	outcome      TEXT NOT NULL,
	command      TEXT NOT NULL DEFAULT '',
	score        DOUBLE PRECISION NOT NULL DEFAULT 0,
	detail       TEXT NOT NULL DEFAULT '',
	duration_ms  BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS dispatch_history_received_at_idx
	ON dispatch_history (received_at DESC);
`

// New connects to the database at dsn and ensures the history table exists.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("history: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history: ensure schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Record inserts one entry. Failures are logged and swallowed so that a
// flaky database never breaks the listening loop.
func (s *Store) Record(ctx context.Context, e Entry) {
	if s == nil {
		return
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO dispatch_history
			(received_at, raw, normalized, outcome, command, score, detail, duration_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ReceivedAt, e.Raw, e.Normalized, e.Outcome, e.Command, e.Score, e.Detail,
		e.Duration.Milliseconds(),
	)
	if err != nil {
		slog.Warn("failed to record dispatch history", "err", err)
	}
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if s == nil {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT received_at, raw, normalized, outcome, command, score, detail, duration_ms
		 FROM dispatch_history
		 ORDER BY received_at DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query recent: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var ms int64
		if err := rows.Scan(&e.ReceivedAt, &e.Raw, &e.Normalized, &e.Outcome,
			&e.Command, &e.Score, &e.Detail, &ms); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		e.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate: %w", err)
	}
	return out, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

// Copyright 2026 The Grants Stack Authors
// SPDX-License-Identifier: Apache-2.0

// Package history records publication attempts in a local SQLite
// database so earlier runs can be listed after the process exits.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/carlbarrdahl/grants-stack/lib/progress"
	"github.com/carlbarrdahl/grants-stack/lib/sqlitepool"
)

const schema = `
CREATE TABLE IF NOT EXISTS attempts (
	run_id           TEXT    NOT NULL,
	attempt          INTEGER NOT NULL,
	round_name       TEXT    NOT NULL,
	started_at       INTEGER NOT NULL,
	finished_at      INTEGER NOT NULL,
	storing          TEXT    NOT NULL,
	deploying        TEXT    NOT NULL,
	indexing         TEXT    NOT NULL,
	error_kind       TEXT    NOT NULL DEFAULT '',
	error            TEXT    NOT NULL DEFAULT '',
	metadata_pointer TEXT    NOT NULL DEFAULT '',
	schema_pointer   TEXT    NOT NULL DEFAULT '',
	round_address    TEXT    NOT NULL DEFAULT '',
	transaction_hash TEXT    NOT NULL DEFAULT '',
	block            INTEGER,
	PRIMARY KEY (run_id, attempt)
);
CREATE INDEX IF NOT EXISTS attempts_started_at ON attempts (started_at);
`

// Attempt is one pipeline run as recorded.
type Attempt struct {
	RunID      string
	Attempt    int
	RoundName  string
	StartedAt  time.Time
	FinishedAt time.Time
	State      progress.State

	// ErrorKind and Error are empty for successful attempts.
	ErrorKind string
	Error     string

	MetadataPointer string
	SchemaPointer   string
	RoundAddress    string
	TransactionHash string

	// Block is nil when no deployment block was reported.
	Block *uint64
}

// Succeeded reports whether every stage finished successfully.
func (a Attempt) Succeeded() bool {
	return a.State.Storing == progress.IsSuccess &&
		a.State.Deploying == progress.IsSuccess &&
		a.State.Indexing == progress.IsSuccess
}

// Store is the attempt history.
type Store struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger
}

// Open opens or creates the history database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     path,
		PoolSize: 2,
		Schema:   schema,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return &Store{pool: pool, logger: logger.With("component", "history")}, nil
}

func (s *Store) Close() error { return s.pool.Close() }

// Record stores attempt, replacing any earlier record with the same
// run ID and attempt number.
func (s *Store) Record(ctx context.Context, attempt Attempt) error {
	if attempt.RunID == "" {
		return errors.New("history: attempt has no run ID")
	}
	var block any
	if attempt.Block != nil {
		block = int64(*attempt.Block)
	}
	err := s.pool.WithConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			INSERT OR REPLACE INTO attempts (
				run_id, attempt, round_name, started_at, finished_at,
				storing, deploying, indexing, error_kind, error,
				metadata_pointer, schema_pointer, round_address, transaction_hash, block
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				attempt.RunID,
				attempt.Attempt,
				attempt.RoundName,
				attempt.StartedAt.UnixNano(),
				attempt.FinishedAt.UnixNano(),
				attempt.State.Storing.String(),
				attempt.State.Deploying.String(),
				attempt.State.Indexing.String(),
				attempt.ErrorKind,
				attempt.Error,
				attempt.MetadataPointer,
				attempt.SchemaPointer,
				attempt.RoundAddress,
				attempt.TransactionHash,
				block,
			}})
	})
	if err != nil {
		return fmt.Errorf("history: recording %s/%d: %w", attempt.RunID, attempt.Attempt, err)
	}
	s.logger.Debug("attempt recorded", "run_id", attempt.RunID, "attempt", attempt.Attempt)
	return nil
}

// Recent returns up to limit attempts, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Attempt, error) {
	if limit <= 0 {
		return nil, nil
	}
	var attempts []Attempt
	err := s.pool.WithConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			SELECT run_id, attempt, round_name, started_at, finished_at,
			       storing, deploying, indexing, error_kind, error,
			       metadata_pointer, schema_pointer, round_address, transaction_hash, block
			FROM attempts
			ORDER BY started_at DESC, attempt DESC
			LIMIT ?`,
			&sqlitex.ExecOptions{
				Args: []any{limit},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					attempt, err := scanAttempt(stmt)
					if err != nil {
						return err
					}
					attempts = append(attempts, attempt)
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("history: listing attempts: %w", err)
	}
	return attempts, nil
}

func scanAttempt(stmt *sqlite.Stmt) (Attempt, error) {
	attempt := Attempt{
		RunID:           stmt.ColumnText(0),
		Attempt:         stmt.ColumnInt(1),
		RoundName:       stmt.ColumnText(2),
		StartedAt:       time.Unix(0, stmt.ColumnInt64(3)).UTC(),
		FinishedAt:      time.Unix(0, stmt.ColumnInt64(4)).UTC(),
		ErrorKind:       stmt.ColumnText(8),
		Error:           stmt.ColumnText(9),
		MetadataPointer: stmt.ColumnText(10),
		SchemaPointer:   stmt.ColumnText(11),
		RoundAddress:    stmt.ColumnText(12),
		TransactionHash: stmt.ColumnText(13),
	}
	statuses := []*progress.Status{&attempt.State.Storing, &attempt.State.Deploying, &attempt.State.Indexing}
	for index, status := range statuses {
		parsed, err := progress.ParseStatus(stmt.ColumnText(5 + index))
		if err != nil {
			return Attempt{}, fmt.Errorf("run %s: %w", attempt.RunID, err)
		}
		*status = parsed
	}
	if stmt.ColumnType(14) != sqlite.TypeNull {
		block := uint64(stmt.ColumnInt64(14))
		attempt.Block = &block
	}
	return attempt, nil
}

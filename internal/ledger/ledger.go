// Package ledger records every relay cycle in a DuckDB table so delivery
// history can be audited after the fact.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/tinytelemetry/msgrelay/internal/ledger/migrate"
)

// Cycle is one ledger row.
type Cycle struct {
	ID           int64
	StartedAt    time.Time
	FinishedAt   time.Time
	Outcome      string // see relay.Outcome
	Fetched      int
	Admitted     int
	Delivered    int
	Failed       int
	CursorBefore int64
	CursorAfter  int64
	Error        string
	Failures     []Failure
}

// Failure is one refused delivery within a cycle.
type Failure struct {
	Sink        string
	Subject     string
	SequenceIDs []int64
	Reason      string
}

// Totals aggregates the whole ledger.
type Totals struct {
	Cycles    int64
	Fetched   int64
	Delivered int64
	Failed    int64
	LastCycle time.Time
}

// Store is the DuckDB-backed ledger.
type Store struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// Open opens or creates the ledger at path. An empty path uses an in-memory
// database.
func Open(ctx context.Context, path string) (*Store, error) {
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("ledger: mkdir: %w", err)
		}
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("ledger: open: %w", err)
	}
	if err := migrate.NewRunner(db).Run(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: migrate: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Path returns the database file, or "" for in-memory.
func (s *Store) Path() string { return s.path }

func (s *Store) Close() error {
	return s.db.Close()
}

// RecordCycle appends c and its failures, returning the assigned ID.
func (s *Store) RecordCycle(ctx context.Context, c Cycle) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("ledger: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO relay_cycles
			(started_at, finished_at, outcome, fetched, admitted, delivered, failed, cursor_before, cursor_after, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		c.StartedAt.UTC(), c.FinishedAt.UTC(), c.Outcome,
		c.Fetched, c.Admitted, c.Delivered, c.Failed,
		c.CursorBefore, c.CursorAfter, c.Error,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ledger: insert cycle: %w", err)
	}

	for _, f := range c.Failures {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO failed_deliveries (cycle_id, failed_at, sink, subject, sequence_ids, reason)
			VALUES (?, ?, ?, ?, ?, ?)`,
			id, c.FinishedAt.UTC(), f.Sink, f.Subject, joinIDs(f.SequenceIDs), f.Reason)
		if err != nil {
			return 0, fmt.Errorf("ledger: insert failure: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("ledger: commit: %w", err)
	}
	return id, nil
}

// RecentCycles returns up to limit cycles, newest first, with their failures.
func (s *Store) RecentCycles(ctx context.Context, limit int) ([]Cycle, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, outcome, fetched, admitted, delivered, failed,
		       cursor_before, cursor_after, error
		FROM relay_cycles
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: query cycles: %w", err)
	}
	defer rows.Close()

	var (
		out   []Cycle
		index = map[int64]int{}
	)
	for rows.Next() {
		var c Cycle
		if err := rows.Scan(&c.ID, &c.StartedAt, &c.FinishedAt, &c.Outcome, &c.Fetched, &c.Admitted,
			&c.Delivered, &c.Failed, &c.CursorBefore, &c.CursorAfter, &c.Error); err != nil {
			return nil, fmt.Errorf("ledger: scan cycle: %w", err)
		}
		index[c.ID] = len(out)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate cycles: %w", err)
	}
	if len(out) == 0 {
		return out, nil
	}

	frows, err := s.db.QueryContext(ctx, `
		SELECT cycle_id, sink, subject, sequence_ids, reason
		FROM failed_deliveries
		WHERE cycle_id >= ?
		ORDER BY cycle_id, failed_at`, out[len(out)-1].ID)
	if err != nil {
		return nil, fmt.Errorf("ledger: query failures: %w", err)
	}
	defer frows.Close()
	for frows.Next() {
		var (
			id  int64
			f   Failure
			ids string
		)
		if err := frows.Scan(&id, &f.Sink, &f.Subject, &ids, &f.Reason); err != nil {
			return nil, fmt.Errorf("ledger: scan failure: %w", err)
		}
		f.SequenceIDs = splitIDs(ids)
		if i, ok := index[id]; ok {
			out[i].Failures = append(out[i].Failures, f)
		}
	}
	return out, frows.Err()
}

// Totals sums every recorded cycle.
func (s *Store) Totals(ctx context.Context) (Totals, error) {
	var (
		t    Totals
		last sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       CAST(COALESCE(SUM(fetched), 0) AS BIGINT),
		       CAST(COALESCE(SUM(delivered), 0) AS BIGINT),
		       CAST(COALESCE(SUM(failed), 0) AS BIGINT),
		       MAX(finished_at)
		FROM relay_cycles`).Scan(&t.Cycles, &t.Fetched, &t.Delivered, &t.Failed, &last)
	if err != nil {
		return t, fmt.Errorf("ledger: totals: %w", err)
	}
	if last.Valid {
		t.LastCycle = last.Time
	}
	return t, nil
}

// DeleteBefore removes cycles (and their failures) that started before cutoff.
func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("ledger: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	cut := cutoff.UTC()
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM failed_deliveries
		WHERE cycle_id IN (SELECT id FROM relay_cycles WHERE started_at < ?)`, cut); err != nil {
		return 0, fmt.Errorf("ledger: delete failures: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM relay_cycles WHERE started_at < ?`, cut)
	if err != nil {
		return 0, fmt.Errorf("ledger: delete cycles: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("ledger: rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("ledger: commit: %w", err)
	}
	return n, nil
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

func splitIDs(s string) []int64 {
	if s == "" {
		return nil
	}
	var out []int64
	for _, p := range strings.Split(s, ",") {
		if id, err := strconv.ParseInt(p, 10, 64); err == nil {
			out = append(out, id)
		}
	}
	return out
}

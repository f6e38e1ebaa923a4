// Package history keeps the outcome of past runs in a sqlite database so a
// later run can re-execute only what failed.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ethereum-optimism/infra/op-webcheck/types"
)

//go:embed schema.sql
var schemaSQL string

// 1 - runs and outcomes tables
const currentSchemaVersion = 1

// Run result labels stored in runs.result.
const (
	ResultPassed     = "passed"
	ResultFailed     = "failed"
	ResultIncomplete = "incomplete"
)

// Run summarizes one recorded invocation.
type Run struct {
	ID        string
	StartedAt time.Time
	Duration  time.Duration
	Result    string
	Planned   int
}

// Store is a sqlite backed run history.
type Store struct {
	db *sql.DB
}

// Open creates or opens the history database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect history db: %w", err)
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply history schema: %w", err)
	}
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("history db schema v%d is newer than supported v%d", version, currentSchemaVersion)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// RecordRun stores a run and its terminal outcome records in one transaction.
func (s *Store) RecordRun(ctx context.Context, run Run, records []types.OutcomeRecord) error {
	if run.ID == "" {
		return errors.New("record run: empty run id")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, duration_ms, result, planned) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt.UnixMilli(), run.Duration.Milliseconds(), run.Result, run.Planned,
	); err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO outcomes
		(run_id, test_id, title, project, status, retry_attempt, duration_ms, failure_kind, message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare outcome insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		var kind, msg sql.NullString
		if rec.FailureDetail != nil {
			kind = sql.NullString{String: string(rec.FailureDetail.Kind), Valid: true}
			msg = sql.NullString{String: rec.FailureDetail.Message, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			run.ID, rec.TestID, rec.Title, rec.ProjectName, string(rec.Status),
			rec.RetryAttempt, rec.Duration.Milliseconds(), kind, msg,
		); err != nil {
			return fmt.Errorf("insert outcome %s: %w", rec.Key(), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run %s: %w", run.ID, err)
	}
	return nil
}

// LastFailed returns the ids of tests that failed or timed out on any project
// in the most recent recorded run. It is empty when nothing was recorded.
func (s *Store) LastFailed(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT o.test_id FROM outcomes o
		WHERE o.run_id = (SELECT id FROM runs ORDER BY started_at DESC, rowid DESC LIMIT 1)
		  AND o.status IN (?, ?)`,
		string(types.TestStatusFailed), string(types.TestStatusTimedOut))
	if err != nil {
		return nil, fmt.Errorf("query last failed: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out[id] = true
	}
	return out, rows.Err()
}

// Runs lists the most recent runs, newest first.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, duration_ms, result, planned FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r                 Run
			started, duration int64
		)
		if err := rows.Scan(&r.ID, &started, &duration, &r.Result, &r.Planned); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		r.StartedAt = time.UnixMilli(started)
		r.Duration = time.Duration(duration) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

// FlakyCounts returns, per test id, how many recorded runs saw it pass only
// after a retry.
func (s *Store) FlakyCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT test_id, COUNT(DISTINCT run_id) FROM outcomes
		WHERE status = ? AND retry_attempt > 0
		GROUP BY test_id`, string(types.TestStatusPassed))
	if err != nil {
		return nil, fmt.Errorf("query flaky: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			id string
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out[id] = n
	}
	return out, rows.Err()
}

// Package store records run history in postgres. It is optional: with no
// DSN configured the pipeline runs without bookkeeping.
package store

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"
)

// Run statuses persisted for the runs table.
const (
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

// Run is one row of ingestion-run history.
type Run struct {
	ID         string
	Status     string
	Records    int
	Error      *string
	StartedAt  time.Time
	FinishedAt *time.Time
}

type Store struct {
	DB *sql.DB
}

func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

func (s *Store) Close() error { return s.DB.Close() }

// CreateRun inserts a row for a starting run.
func (s *Store) CreateRun(ctx context.Context, runID string) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO runs (id, status, started_at) VALUES ($1, $2, NOW())`, runID, RunStatusRunning)
	return err
}

// FinishRun closes a run with its final status, record count and optional
// error message.
func (s *Store) FinishRun(ctx context.Context, runID, status string, records int, errMsg *string) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE runs SET status=$1, records=$2, error=$3, finished_at=NOW() WHERE id=$4`,
		status, records, errMsg, runID)
	return err
}

// RecentRuns lists the latest runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, status, records, error, started_at, finished_at FROM runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Status, &r.Records, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Package postgres persists harvest-run history in PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jdbirch/awardharvest/internal/store"
)

// DB is the subset of pgxpool.Pool the repository uses; pgxmock
// implements it for tests.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// RunRepository implements store.RunRepository on a pgx connection pool.
type RunRepository struct {
	db DB
}

// New wraps an existing connection.
func New(db DB) *RunRepository {
	return &RunRepository{db: db}
}

// Connect opens a pool for the DSN and returns the repository plus a
// close function.
func Connect(ctx context.Context, dsn string) (*RunRepository, func(), error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}
	return New(pool), pool.Close, nil
}

const upsertRunStartSQL = `
	INSERT INTO harvest_runs (id, query, started_at, status, last_update)
	VALUES ($1, $2, $3, $4, $3)
	ON CONFLICT (id) DO UPDATE
	SET status = EXCLUDED.status, last_update = EXCLUDED.last_update;
`

// UpsertRunStart inserts (or idempotently updates) the run row.
func (r *RunRepository) UpsertRunStart(ctx context.Context, runID uuid.UUID, query string, startedAt time.Time) error {
	if _, err := r.db.Exec(ctx, upsertRunStartSQL, runID, query, startedAt, store.RunRunning); err != nil {
		return fmt.Errorf("upsert run start: %w", err)
	}
	return nil
}

const completeRunSQL = `
	UPDATE harvest_runs
	SET finished_at = $1, status = $2, error_message = $3, last_update = $1
	WHERE id = $4;
`

// CompleteRun marks the run finished.
func (r *RunRepository) CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status store.RunStatus, errMsg *string) error {
	if _, err := r.db.Exec(ctx, completeRunSQL, finishedAt, status, errMsg, runID); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

const upsertRunProgressSQL = `
	UPDATE harvest_runs
	SET records_processed = records_processed + $1,
	    protocols_found = protocols_found + $2,
	    last_offset = GREATEST(last_offset, $3),
	    last_update = $4
	WHERE id = $5;
`

// UpsertRunProgress applies deltas and advances the recorded offset.
func (r *RunRepository) UpsertRunProgress(ctx context.Context, runID uuid.UUID, offset int64, deltaRecords, deltaProtocols int64, at time.Time) error {
	if _, err := r.db.Exec(ctx, upsertRunProgressSQL, deltaRecords, deltaProtocols, offset, at, runID); err != nil {
		return fmt.Errorf("upsert run progress: %w", err)
	}
	return nil
}

const runColumns = `id, query, started_at, finished_at, status, error_message,
	last_offset, records_processed, protocols_found, last_update`

const getRunSQL = `
	SELECT ` + runColumns + `
	FROM harvest_runs
	WHERE id = $1;
`

// GetRun loads a single run or returns store.ErrNotFound.
func (r *RunRepository) GetRun(ctx context.Context, runID uuid.UUID) (store.Run, error) {
	row := r.db.QueryRow(ctx, getRunSQL, runID)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

const listRunsSQL = `
	SELECT ` + runColumns + `
	FROM harvest_runs
	WHERE ($1::text IS NULL OR status = $1)
	ORDER BY started_at DESC
	LIMIT $2 OFFSET $3;
`

// ListRuns returns runs newest first, optionally filtered by status.
func (r *RunRepository) ListRuns(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	var statusArg *string
	if status != nil {
		s := string(*status)
		statusArg = &s
	}
	rows, err := r.db.Query(ctx, listRunsSQL, statusArg, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []store.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (store.Run, error) {
	var run store.Run
	err := row.Scan(
		&run.ID,
		&run.Query,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&run.ErrorMessage,
		&run.LastOffset,
		&run.RecordsProcessed,
		&run.ProtocolsFound,
		&run.LastUpdate,
	)
	if err != nil {
		return store.Run{}, err
	}
	return run, nil
}

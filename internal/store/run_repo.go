// Package store declares interfaces for persisting harvest-run history.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested run does not exist.
var ErrNotFound = errors.New("harvest run not found")

// RunStatus mirrors the harvest_runs status column.
type RunStatus string

// Run statuses persisted in harvest_runs.status.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// Run models the harvest_runs table for API responses. It is an
// operator-facing trail only; resume correctness depends solely on the
// checkpoint file.
type Run struct {
	// ID is the run identifier shared with progress events.
	ID uuid.UUID
	// Query is the search query the run executed.
	Query string
	// StartedAt captures when the run was first marked running.
	StartedAt time.Time
	// FinishedAt is nil until the run is marked success/error.
	FinishedAt *time.Time
	// Status is running/success/error.
	Status RunStatus
	// ErrorMessage optionally stores the final failure reason.
	ErrorMessage *string
	// LastOffset is the newest checkpoint offset reported by the run.
	LastOffset int64
	// RecordsProcessed counts enrichment attempts across the run.
	RecordsProcessed int64
	// ProtocolsFound counts protocol documents discovered.
	ProtocolsFound int64
	// LastUpdate is the timestamp of the most recent progress write.
	LastUpdate time.Time
}

// RunRepository persists incremental run progress.
type RunRepository interface {
	// UpsertRunStart inserts (or idempotently updates) the run row.
	UpsertRunStart(ctx context.Context, runID uuid.UUID, query string, startedAt time.Time) error
	// CompleteRun marks the run finished with the provided status and error.
	CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, errMsg *string) error
	// UpsertRunProgress applies processed/protocol deltas and advances the
	// recorded offset.
	UpsertRunProgress(ctx context.Context, runID uuid.UUID, offset int64, deltaRecords, deltaProtocols int64, at time.Time) error

	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
	// ListRuns returns runs filtered by optional status plus limit/offset.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
}

// NoopRepository satisfies RunRepository without persisting anything. Used
// when no run store is configured.
type NoopRepository struct{}

// UpsertRunStart does nothing.
func (NoopRepository) UpsertRunStart(context.Context, uuid.UUID, string, time.Time) error {
	return nil
}

// CompleteRun does nothing.
func (NoopRepository) CompleteRun(context.Context, uuid.UUID, time.Time, RunStatus, *string) error {
	return nil
}

// UpsertRunProgress does nothing.
func (NoopRepository) UpsertRunProgress(context.Context, uuid.UUID, int64, int64, int64, time.Time) error {
	return nil
}

// GetRun always reports ErrNotFound.
func (NoopRepository) GetRun(context.Context, uuid.UUID) (Run, error) {
	return Run{}, ErrNotFound
}

// ListRuns returns an empty list.
func (NoopRepository) ListRuns(context.Context, *RunStatus, int, int) ([]Run, error) {
	return nil, nil
}

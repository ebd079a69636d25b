package sinks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jdbirch/awardharvest/internal/progress"
	"github.com/jdbirch/awardharvest/internal/store"
)

// recordingRepo captures repository calls for assertions.
type recordingRepo struct {
	mu sync.Mutex

	starts    []startCall
	completes []completeCall
	progress  []progressCall

	progressErr error
}

type startCall struct {
	runID uuid.UUID
	query string
}

type completeCall struct {
	runID  uuid.UUID
	status store.RunStatus
	errMsg *string
}

type progressCall struct {
	runID     uuid.UUID
	offset    int64
	records   int64
	protocols int64
}

func (r *recordingRepo) UpsertRunStart(_ context.Context, runID uuid.UUID, query string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts = append(r.starts, startCall{runID: runID, query: query})
	return nil
}

func (r *recordingRepo) CompleteRun(_ context.Context, runID uuid.UUID, _ time.Time, status store.RunStatus, errMsg *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completes = append(r.completes, completeCall{runID: runID, status: status, errMsg: errMsg})
	return nil
}

func (r *recordingRepo) UpsertRunProgress(_ context.Context, runID uuid.UUID, offset, deltaRecords, deltaProtocols int64, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.progressErr != nil {
		return r.progressErr
	}
	r.progress = append(r.progress, progressCall{
		runID:     runID,
		offset:    offset,
		records:   deltaRecords,
		protocols: deltaProtocols,
	})
	return nil
}

func (r *recordingRepo) GetRun(context.Context, uuid.UUID) (store.Run, error) {
	return store.Run{}, store.ErrNotFound
}

func (r *recordingRepo) ListRuns(context.Context, *store.RunStatus, int, int) ([]store.Run, error) {
	return nil, nil
}

func TestStoreSinkCollapsesDeltas(t *testing.T) {
	t.Parallel()

	repo := &recordingRepo{}
	sink := NewStoreSink(repo, zap.NewNop())

	runID := uuid.New()
	runBytes := progress.UUIDToBytes(runID)
	now := time.Now().UTC()

	batch := []progress.Event{
		{RunID: runBytes, TS: now, Stage: progress.StageRunStart, Query: "diagnostics"},
		{RunID: runBytes, TS: now, Stage: progress.StageRecordDone, AwardID: "A1", Outcome: progress.OutcomeEnriched, Protocols: 1},
		{RunID: runBytes, TS: now, Stage: progress.StageRecordDone, AwardID: "A2", Outcome: progress.OutcomeDegraded},
		{RunID: runBytes, TS: now, Stage: progress.StageRecordDone, AwardID: "A3", Outcome: progress.OutcomeEnriched, Protocols: 2},
		{RunID: runBytes, TS: now, Stage: progress.StageBatchSaved, Offset: 10},
		{RunID: runBytes, TS: now, Stage: progress.StageBatchSaved, Offset: 20},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Len(t, repo.starts, 1)
	require.Equal(t, runID, repo.starts[0].runID)
	require.Equal(t, "diagnostics", repo.starts[0].query)

	// Three record events and two batch saves collapse to one write.
	require.Len(t, repo.progress, 1)
	require.Equal(t, int64(20), repo.progress[0].offset)
	require.Equal(t, int64(3), repo.progress[0].records)
	require.Equal(t, int64(3), repo.progress[0].protocols)
}

func TestStoreSinkCompletesRuns(t *testing.T) {
	t.Parallel()

	repo := &recordingRepo{}
	sink := NewStoreSink(repo, zap.NewNop())
	now := time.Now().UTC()

	okRun := progress.UUIDToBytes(uuid.New())
	badRun := progress.UUIDToBytes(uuid.New())

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: okRun, TS: now, Stage: progress.StageRunDone, Dur: time.Second},
		{RunID: badRun, TS: now, Stage: progress.StageRunError, Note: "count records: boom"},
	}))

	require.Len(t, repo.completes, 2)
	require.Equal(t, store.RunSuccess, repo.completes[0].status)
	require.Nil(t, repo.completes[0].errMsg)
	require.Equal(t, store.RunError, repo.completes[1].status)
	require.NotNil(t, repo.completes[1].errMsg)
	require.Equal(t, "count records: boom", *repo.completes[1].errMsg)
}

func TestStoreSinkPropagatesRepositoryErrors(t *testing.T) {
	t.Parallel()

	repo := &recordingRepo{progressErr: errors.New("connection reset")}
	sink := NewStoreSink(repo, zap.NewNop())
	now := time.Now().UTC()

	err := sink.Consume(context.Background(), []progress.Event{
		{
			RunID: progress.UUIDToBytes(uuid.New()), TS: now,
			Stage: progress.StageRecordDone, AwardID: "A1", Outcome: progress.OutcomeEnriched,
		},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "upsert run progress")
}

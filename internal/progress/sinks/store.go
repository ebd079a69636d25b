package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jdbirch/awardharvest/internal/progress"
	"github.com/jdbirch/awardharvest/internal/store"
)

// StoreSink persists progress deltas via a store.RunRepository. It
// collapses record-level events per run to reduce write amplification.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume collapses run deltas and forwards them to the repository. It
// respects ctx deadlines and returns repository errors verbatim.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	deltas := make(map[uuid.UUID]*runDelta)

	for _, evt := range batch {
		runID := evt.RunUUID()
		switch evt.Stage {
		case progress.StageRunStart, progress.StageRunDone, progress.StageRunError:
			if err := s.handleRunEvent(ctx, runID, evt); err != nil {
				return err
			}
		case progress.StageRecordDone, progress.StageBatchSaved:
			accumulate(deltas, runID, evt)
		}
	}

	for runID, delta := range deltas {
		if delta.records == 0 && delta.protocols == 0 && delta.offset == 0 {
			continue
		}
		if err := s.repo.UpsertRunProgress(
			ctx,
			runID,
			delta.offset,
			delta.records,
			delta.protocols,
			delta.at,
		); err != nil {
			return fmt.Errorf("upsert run progress: %w", err)
		}
	}
	return nil
}

func (s *StoreSink) handleRunEvent(ctx context.Context, runID uuid.UUID, evt progress.Event) error {
	switch evt.Stage {
	case progress.StageRunStart:
		if err := s.repo.UpsertRunStart(ctx, runID, evt.Query, evt.TS); err != nil {
			return fmt.Errorf("upsert run start: %w", err)
		}
	case progress.StageRunDone:
		if err := s.repo.CompleteRun(ctx, runID, evt.TS, store.RunSuccess, nil); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	case progress.StageRunError:
		var note *string
		if evt.Note != "" {
			note = &evt.Note
		}
		if err := s.repo.CompleteRun(ctx, runID, evt.TS, store.RunError, note); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	}
	return nil
}

func accumulate(deltas map[uuid.UUID]*runDelta, runID uuid.UUID, evt progress.Event) {
	delta := deltas[runID]
	if delta == nil {
		delta = &runDelta{}
		deltas[runID] = delta
	}
	switch evt.Stage {
	case progress.StageRecordDone:
		delta.records++
		delta.protocols += evt.Protocols
	case progress.StageBatchSaved:
		if evt.Offset > delta.offset {
			delta.offset = evt.Offset
		}
	}
	if evt.TS.After(delta.at) {
		delta.at = evt.TS
	}
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

type runDelta struct {
	records   int64
	protocols int64
	offset    int64
	at        time.Time
}

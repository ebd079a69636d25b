// Package progress defines the event structures emitted by the harvest
// pipeline.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart   Stage = "RUN_START"
	StageRunDone    Stage = "RUN_DONE"
	StageRunError   Stage = "RUN_ERROR"
	StagePageFetch  Stage = "PAGE_FETCHED"
	StageRecordDone Stage = "RECORD_DONE"
	StageBatchSaved Stage = "BATCH_SAVED"
)

// Outcome classifies how a record's enrichment finished.
type Outcome string

// Record outcomes tracked for enrichment completions.
const (
	OutcomeEnriched Outcome = "enriched"
	OutcomeDegraded Outcome = "degraded"
)

// Event captures a single milestone of harvest progress.
type Event struct {
	// RunID uniquely identifies a run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle, page, record, or batch milestone
	// occurred.
	Stage Stage
	// Query is the search query the run is executing.
	Query string
	// AwardID scopes record events to one award.
	AwardID string
	// URL is the optional detail-page URL.
	URL string
	// Offset is the stream offset after the milestone (pages, batches).
	Offset int64
	// Records carries the record-count delta for page and batch events.
	Records int64
	// Protocols carries the protocol-document delta for record events.
	Protocols int64
	// Outcome classifies record completions (enriched or degraded).
	Outcome Outcome
	// Dur captures execution latency for records, batches, and runs.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError, StagePageFetch:
	case StageRecordDone:
		if e.AwardID == "" {
			return errors.New("record done requires award id")
		}
		if e.Outcome == "" {
			return errors.New("record done requires outcome")
		}
	case StageBatchSaved:
		if e.Offset < 0 {
			return errors.New("batch saved requires offset >= 0")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

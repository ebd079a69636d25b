package harvest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jdbirch/awardharvest/internal/progress"
)

const (
	defaultBatchSize  = 10
	defaultBatchPause = 2 * time.Second

	stageSearch  = "search"
	stageHarvest = "harvest"
)

// PipelineConfig controls the shared run loop.
type PipelineConfig struct {
	// Pool configures the enrichment workers.
	Pool PoolConfig
	// BatchSize is how many records each harvest batch fetches.
	BatchSize int
	// BatchPause separates consecutive harvest batches.
	BatchPause time.Duration
	// Topic names the Pub/Sub topic for protocol finds; empty disables
	// publishing.
	Topic string
}

// ExportParams bounds a single search-and-enrich run.
type ExportParams struct {
	Query     string
	From      *time.Time
	To        *time.Time
	Programme string
	// MaxRows stops enrichment once this many results exist (0 = no cap).
	MaxRows int
}

// HarvestParams drives the checkpointed long-running mode.
type HarvestParams struct {
	// Query defaults to the match-all query.
	Query string
}

// Pipeline runs both modes over one worker pool: the bounded export and
// the checkpointed harvest. It owns the pool's browser sessions; callers
// must Close it when done.
type Pipeline struct {
	source      RecordSource
	pool        *Pool
	checkpoints CheckpointStore
	entries     EntrySink
	publisher   Publisher
	events      progress.Emitter
	clock       Clock
	ids         IDGenerator
	cfg         PipelineConfig
	logger      *zap.Logger

	mu    sync.Mutex
	runID uuid.UUID
	snap  RunSnapshot
}

// NewPipeline constructs a Pipeline. The record source, session factory,
// extractor, clock, and ID generator are required; the publisher, event
// emitter, checkpoint store, and entry sink may be nil when the mode that
// uses them never runs.
func NewPipeline(
	source RecordSource,
	sessions SessionFactory,
	extract Extractor,
	checkpoints CheckpointStore,
	entries EntrySink,
	publisher Publisher,
	events progress.Emitter,
	clock Clock,
	ids IDGenerator,
	cfg PipelineConfig,
	logger *zap.Logger,
) (*Pipeline, error) {
	if source == nil {
		return nil, errors.New("pipeline requires a record source")
	}
	if clock == nil {
		return nil, errors.New("pipeline requires a clock")
	}
	if ids == nil {
		return nil, errors.New("pipeline requires an id generator")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.BatchPause <= 0 {
		cfg.BatchPause = defaultBatchPause
	}

	p := &Pipeline{
		source:      source,
		checkpoints: checkpoints,
		entries:     entries,
		publisher:   publisher,
		events:      events,
		clock:       clock,
		ids:         ids,
		cfg:         cfg,
		logger:      logger,
	}

	poolCfg := cfg.Pool
	poolCfg.OnResult = p.onResult
	pool, err := NewPool(sessions, extract, poolCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("build worker pool: %w", err)
	}
	p.pool = pool
	return p, nil
}

// Export fetches every record for the query, applies the date and
// programme filters, enriches the survivors, and returns the merged rows
// in fetch order. The output length always equals the filtered input
// length; records whose enrichment failed or was never attempted carry
// zero-value extraction fields.
func (p *Pipeline) Export(ctx context.Context, params ExportParams) ([]EnrichedRecord, error) {
	if strings.TrimSpace(params.Query) == "" {
		return nil, errors.New("query must not be empty")
	}
	if params.MaxRows < 0 {
		return nil, fmt.Errorf("max rows must be >= 0, got %d", params.MaxRows)
	}

	runID, started := p.beginRun(stageSearch, params.Query)
	p.logger.Info("export starting",
		zap.String("run_id", runID.String()),
		zap.String("query", params.Query),
		zap.Int("max_rows", params.MaxRows))

	records, err := p.source.Search(ctx, params.Query, 0)
	if err != nil {
		p.failRun(runID, started, err)
		return nil, fmt.Errorf("search records: %w", err)
	}
	fetched := len(records)
	records = FilterByDate(records, params.From, params.To)
	records = FilterByProgramme(records, params.Programme)
	p.logger.Info("records filtered",
		zap.Int("fetched", fetched),
		zap.Int("kept", len(records)))

	byID := p.pool.Run(ctx, workItems(records), params.MaxRows)
	if err := ctx.Err(); err != nil {
		p.failRun(runID, started, err)
		return nil, err
	}

	enriched := Merge(records, byID)
	p.finishRun(runID, started, len(enriched))
	return enriched, nil
}

// HarvestLoop resumes from the saved offset and walks the full dataset in
// stable-sorted batches, appending an entry for every record whose detail
// page links a protocol PDF. The checkpoint advances only after a batch
// has been fully processed, so an interrupted or failed batch is re-read
// on the next invocation. Cancellation takes effect at batch boundaries:
// the batch in flight runs to completion and is checkpointed first.
func (p *Pipeline) HarvestLoop(ctx context.Context, params HarvestParams) error {
	if p.checkpoints == nil {
		return errors.New("harvest requires a checkpoint store")
	}
	if p.entries == nil {
		return errors.New("harvest requires an entry sink")
	}
	query := strings.TrimSpace(params.Query)
	if query == "" {
		query = "*"
	}

	runID, started := p.beginRun(stageHarvest, query)
	offset := p.checkpoints.Load()
	p.setOffset(offset)

	total, err := p.source.Count(ctx, query)
	if err != nil {
		p.failRun(runID, started, err)
		return fmt.Errorf("count records: %w", err)
	}
	p.logger.Info("harvest starting",
		zap.String("run_id", runID.String()),
		zap.String("query", query),
		zap.Int("offset", offset),
		zap.Int("total", total))

	for {
		if ctx.Err() != nil {
			p.logger.Info("harvest interrupted at batch boundary",
				zap.Int("offset", offset))
			break
		}
		if offset >= total {
			break
		}

		// The batch in flight always runs to completion so the checkpoint
		// never points into a half-processed batch.
		batchCtx := context.WithoutCancel(ctx)
		n, err := p.runBatch(batchCtx, runID, query, offset)
		if err != nil {
			p.failRun(runID, started, err)
			return err
		}
		if n == 0 {
			break
		}
		offset += n
		if err := p.checkpoints.Save(offset); err != nil {
			p.failRun(runID, started, err)
			return fmt.Errorf("save checkpoint: %w", err)
		}
		p.setOffset(offset)
		p.emit(progress.Event{
			RunID:   progress.UUIDToBytes(runID),
			TS:      p.clock.Now(),
			Stage:   progress.StageBatchSaved,
			Offset:  int64(offset),
			Records: int64(n),
		})

		if n < p.cfg.BatchSize {
			break
		}
		pause(ctx, p.cfg.BatchPause)
	}

	p.finishRun(runID, started, p.Snapshot().Processed)
	p.logger.Info("harvest stopped", zap.Int("offset", offset))
	return nil
}

// runBatch fetches, enriches, and records one batch. It returns the
// number of records the page held; the caller advances the checkpoint by
// exactly that amount.
func (p *Pipeline) runBatch(ctx context.Context, runID uuid.UUID, query string, offset int) (int, error) {
	records, err := p.source.Page(ctx, query, offset, p.cfg.BatchSize, true)
	if err != nil {
		// The checkpoint stays put; the next invocation retries this page.
		return 0, fmt.Errorf("fetch page at offset %d: %w", offset, err)
	}
	if len(records) == 0 {
		return 0, nil
	}
	p.emit(progress.Event{
		RunID:   progress.UUIDToBytes(runID),
		TS:      p.clock.Now(),
		Stage:   progress.StagePageFetch,
		Offset:  int64(offset),
		Records: int64(len(records)),
	})

	byID := p.pool.Run(ctx, workItems(records), 0)
	for _, rec := range Merge(records, byID) {
		// ID-less records count toward the offset but cannot be keyed,
		// archived, or published.
		if rec.AwardID == "" {
			continue
		}
		doc, ok := firstPDFProtocol(rec.Protocols)
		if !ok {
			continue
		}
		entry := p.newEntry(rec, doc)
		if err := p.entries.Append(entry); err != nil {
			return 0, fmt.Errorf("append harvest entry: %w", err)
		}
		p.publishProtocol(ctx, runID, entry)
	}
	return len(records), nil
}

// newEntry builds the JSONL row for a protocol-bearing record, pulling
// the fields the detail page does not carry straight from the API record.
func (p *Pipeline) newEntry(rec EnrichedRecord, doc ProtocolDoc) HarvestEntry {
	return HarvestEntry{
		AwardID:              rec.AwardID,
		Title:                rec.Title,
		ScientificAbstract:   fieldString(rec.Fields, "scientific_abstract"),
		PlainEnglishAbstract: fieldString(rec.Fields, "plain_english_abstract"),
		AwardAmount:          fieldString(rec.Fields, "award_amount"),
		StartDate:            rec.StartDate,
		Status:               fieldString(rec.Fields, "status"),
		Programme:            rec.FundingStream,
		DetailURL:            rec.DetailURL,
		ProtocolURL:          doc.URL,
		ProtocolFilename:     protocolFilename(rec.AwardID),
		ScrapedAt:            p.clock.Now().UTC(),
	}
}

func (p *Pipeline) publishProtocol(ctx context.Context, runID uuid.UUID, entry HarvestEntry) {
	if p.cfg.Topic == "" || p.publisher == nil {
		return
	}
	payload := map[string]any{
		"run_id":       runID.String(),
		"award_id":     entry.AwardID,
		"title":        entry.Title,
		"detail_url":   entry.DetailURL,
		"protocol_url": entry.ProtocolURL,
		"scraped_at":   entry.ScrapedAt.Format(time.RFC3339),
	}
	if _, err := p.publisher.Publish(ctx, p.cfg.Topic, payload); err != nil {
		p.logger.Warn("publish protocol find failed",
			zap.String("award_id", entry.AwardID),
			zap.Error(err))
	}
}

// onResult feeds every pool completion into the snapshot and the event
// stream. It runs on worker goroutines.
func (p *Pipeline) onResult(item WorkItem, fields ExtractedFields, err error, dur time.Duration) {
	outcome := progress.OutcomeEnriched
	note := ""
	if err != nil {
		outcome = progress.OutcomeDegraded
		note = err.Error()
	}

	p.mu.Lock()
	p.snap.Processed++
	p.snap.Protocols += len(fields.Protocols)
	runID := p.runID
	p.mu.Unlock()

	p.emit(progress.Event{
		RunID:     progress.UUIDToBytes(runID),
		TS:        p.clock.Now(),
		Stage:     progress.StageRecordDone,
		AwardID:   item.Record.AwardID,
		URL:       item.Record.DetailURL,
		Protocols: int64(len(fields.Protocols)),
		Outcome:   outcome,
		Dur:       dur,
		Note:      note,
	})
}

// Snapshot returns a copy of the current run state for the ops API.
func (p *Pipeline) Snapshot() RunSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap
}

// Close releases the pool's browser sessions.
func (p *Pipeline) Close() error {
	return p.pool.Close()
}

func (p *Pipeline) beginRun(stage, query string) (uuid.UUID, time.Time) {
	runID := p.newRunID()
	started := p.clock.Now()

	p.mu.Lock()
	p.runID = runID
	p.snap = RunSnapshot{
		RunID:     runID.String(),
		Query:     query,
		Stage:     stage,
		StartedAt: started,
	}
	p.mu.Unlock()

	p.emit(progress.Event{
		RunID: progress.UUIDToBytes(runID),
		TS:    started,
		Stage: progress.StageRunStart,
		Query: query,
	})
	return runID, started
}

func (p *Pipeline) finishRun(runID uuid.UUID, started time.Time, records int) {
	p.emit(progress.Event{
		RunID:   progress.UUIDToBytes(runID),
		TS:      p.clock.Now(),
		Stage:   progress.StageRunDone,
		Records: int64(records),
		Dur:     p.clock.Now().Sub(started),
	})
}

func (p *Pipeline) failRun(runID uuid.UUID, started time.Time, cause error) {
	p.emit(progress.Event{
		RunID: progress.UUIDToBytes(runID),
		TS:    p.clock.Now(),
		Stage: progress.StageRunError,
		Dur:   p.clock.Now().Sub(started),
		Note:  cause.Error(),
	})
}

func (p *Pipeline) newRunID() uuid.UUID {
	s, err := p.ids.NewID()
	if err == nil {
		if id, perr := uuid.Parse(s); perr == nil {
			return id
		}
	}
	return uuid.New()
}

func (p *Pipeline) setOffset(offset int) {
	p.mu.Lock()
	p.snap.Offset = offset
	p.mu.Unlock()
}

func (p *Pipeline) emit(evt progress.Event) {
	if p.events == nil {
		return
	}
	p.events.Emit(evt)
}

func workItems(records []RawRecord) []WorkItem {
	items := make([]WorkItem, len(records))
	for i, rec := range records {
		items[i] = WorkItem{Index: i, Record: rec}
	}
	return items
}

// firstPDFProtocol picks the newest protocol document whose link is a PDF.
func firstPDFProtocol(docs []ProtocolDoc) (ProtocolDoc, bool) {
	for _, d := range docs {
		if strings.HasSuffix(strings.ToLower(d.URL), ".pdf") {
			return d, true
		}
	}
	return ProtocolDoc{}, false
}

func fieldString(fields map[string]any, key string) string {
	v, ok := fields[key]
	if !ok || v == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

func protocolFilename(awardID string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, awardID)
	return safe + "_protocol.pdf"
}

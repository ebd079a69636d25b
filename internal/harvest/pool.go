package harvest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PoolConfig controls the enrichment worker pool.
type PoolConfig struct {
	// Workers is the maximum number of concurrent workers; the effective
	// count never exceeds the item count.
	Workers int
	// Strategy picks how items are split across workers. Defaults to
	// StaticPartitioner.
	Strategy Partitioner
	// Delay throttles consecutive fetches within one worker.
	Delay DelayPolicy
	// OnResult, when set, observes every processed item.
	OnResult func(item WorkItem, fields ExtractedFields, err error, dur time.Duration)
}

// Pool fans enrichment work out across workers, each bound to one browser
// session for as long as the pool lives. Sessions are created lazily on
// first use and released by Close.
type Pool struct {
	cfg      PoolConfig
	sessions SessionFactory
	extract  Extractor
	logger   *zap.Logger

	mu    sync.Mutex
	cache map[int]PageFetcher
}

// NewPool builds a Pool. The session factory and extractor are required.
func NewPool(sessions SessionFactory, extract Extractor, cfg PoolConfig, logger *zap.Logger) (*Pool, error) {
	if sessions == nil {
		return nil, errors.New("pool requires a session factory")
	}
	if extract == nil {
		return nil, errors.New("pool requires an extractor")
	}
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("pool workers must be > 0, got %d", cfg.Workers)
	}
	if cfg.Strategy == nil {
		cfg.Strategy = StaticPartitioner{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		cfg:      cfg,
		sessions: sessions,
		extract:  extract,
		logger:   logger,
		cache:    make(map[int]PageFetcher),
	}, nil
}

// Run enriches every item and returns the results keyed by award ID. A
// per-item failure degrades that item to empty fields; it never stops the
// worker or the pool. A positive resultCap stops further dequeuing once
// that many results exist; items already in flight still finish, so the
// cap may be slightly exceeded. Run returns once every worker has drained
// its feed.
func (p *Pool) Run(ctx context.Context, items []WorkItem, resultCap int) map[string]ExtractedFields {
	results := make(map[string]ExtractedFields, len(items))
	if len(items) == 0 {
		return results
	}

	count := p.workerCount(len(items))
	feeds := p.cfg.Strategy.Assign(items, count)

	var (
		resultMu sync.Mutex
		wg       sync.WaitGroup
	)
	capReached := func() bool {
		if resultCap <= 0 {
			return false
		}
		resultMu.Lock()
		defer resultMu.Unlock()
		return len(results) >= resultCap
	}

	for i, feed := range feeds {
		wg.Add(1)
		go func(idx int, feed <-chan WorkItem) {
			defer wg.Done()
			p.runWorker(ctx, idx, feed, results, &resultMu, capReached)
		}(i, feed)
	}
	wg.Wait()
	return results
}

func (p *Pool) runWorker(
	ctx context.Context,
	idx int,
	feed <-chan WorkItem,
	results map[string]ExtractedFields,
	resultMu *sync.Mutex,
	capReached func() bool,
) {
	logger := p.logger.With(zap.Int("worker", idx))
	session, err := p.session(ctx, idx)
	if err != nil {
		// Every item this worker pulls degrades to empty fields; the
		// other workers keep their own sessions.
		logger.Warn("browser session unavailable", zap.Error(err))
	}

	for {
		if ctx.Err() != nil {
			return
		}
		if capReached() {
			return
		}
		item, ok := <-feed
		if !ok {
			return
		}
		fields, dur, itemErr := p.processItem(ctx, session, item, logger)
		resultMu.Lock()
		results[item.Record.AwardID] = fields
		resultMu.Unlock()
		if p.cfg.OnResult != nil {
			p.cfg.OnResult(item, fields, itemErr, dur)
		}
	}
}

func (p *Pool) processItem(
	ctx context.Context,
	session PageFetcher,
	item WorkItem,
	logger *zap.Logger,
) (fields ExtractedFields, dur time.Duration, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			fields = ExtractedFields{}
			dur = time.Since(start)
			err = fmt.Errorf("enrichment panic: %v", r)
			logger.Error("enrichment panicked",
				zap.String("award_id", item.Record.AwardID),
				zap.Any("panic", r))
		}
	}()

	if item.Record.DetailURL == "" {
		return ExtractedFields{}, time.Since(start), errors.New("record has no detail url")
	}

	p.cfg.Delay.Pause(ctx)
	if session == nil {
		return ExtractedFields{}, time.Since(start), errors.New("no browser session")
	}

	markup, err := session.Render(ctx, item.Record.DetailURL)
	if err != nil {
		logger.Warn("detail page render failed",
			zap.String("award_id", item.Record.AwardID),
			zap.String("url", item.Record.DetailURL),
			zap.Error(err))
		return ExtractedFields{}, time.Since(start), err
	}

	extracted, err := p.extract.Extract(markup, item.Record.DetailURL)
	if err != nil {
		logger.Warn("field extraction failed",
			zap.String("award_id", item.Record.AwardID),
			zap.Error(err))
		return ExtractedFields{}, time.Since(start), err
	}
	return extracted, time.Since(start), nil
}

func (p *Pool) session(ctx context.Context, idx int) (PageFetcher, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.cache[idx]; ok {
		return s, nil
	}
	s, err := p.sessions.NewSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("new browser session: %w", err)
	}
	p.cache[idx] = s
	return s, nil
}

func (p *Pool) workerCount(items int) int {
	count := p.cfg.Workers
	if items < count {
		count = items
	}
	if count < 1 {
		count = 1
	}
	return count
}

// Close releases every browser session owned by the pool. Safe to call
// more than once.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for idx, s := range p.cache {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.cache, idx)
	}
	return firstErr
}

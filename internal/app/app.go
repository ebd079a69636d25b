// Package app initializes and holds the long-lived services the commands
// share: logger, metrics registry, progress hub, blob store, run
// repository, publisher, records client, and browser pool. Providers are
// selected from configuration and fail fast when misconfigured.
package app

import (
	"context"
	"fmt"
	"time"

	gstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/jdbirch/awardharvest/internal/clock/system"
	"github.com/jdbirch/awardharvest/internal/config"
	"github.com/jdbirch/awardharvest/internal/extract"
	"github.com/jdbirch/awardharvest/internal/fetcher/headless"
	"github.com/jdbirch/awardharvest/internal/harvest"
	"github.com/jdbirch/awardharvest/internal/id/uuid"
	"github.com/jdbirch/awardharvest/internal/logging"
	"github.com/jdbirch/awardharvest/internal/metrics"
	"github.com/jdbirch/awardharvest/internal/progress"
	"github.com/jdbirch/awardharvest/internal/progress/sinks"
	pubsubpub "github.com/jdbirch/awardharvest/internal/publisher/pubsub"
	"github.com/jdbirch/awardharvest/internal/records"
	"github.com/jdbirch/awardharvest/internal/store"
	storepg "github.com/jdbirch/awardharvest/internal/store/postgres"
	"github.com/jdbirch/awardharvest/internal/storage/gcs"
	"github.com/jdbirch/awardharvest/internal/storage/local"
	"github.com/jdbirch/awardharvest/internal/storage/memory"
)

// App is the dependency container built once at startup and threaded
// through the commands.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	registry    *prometheus.Registry
	httpMetrics *metrics.HTTPMetrics
	hub         *progress.Hub

	source    *records.Client
	sessions  harvest.SessionFactory
	extractor harvest.Extractor
	blobs     harvest.BlobStore
	runs      store.RunRepository
	publisher harvest.Publisher
	clock     harvest.Clock
	ids       harvest.IDGenerator

	browserPool *headless.Pool
	closeRuns   func()
	closePub    func() error
	gcsClient   *gstorage.Client
}

// New builds every service the configuration selects. It fails fast on
// the first provider that cannot initialize.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	a := &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		ids:    uuid.New(),
	}

	a.registry = prometheus.NewRegistry()
	a.httpMetrics, err = metrics.NewHTTPMetrics(a.registry)
	if err != nil {
		return nil, fmt.Errorf("register http metrics: %w", err)
	}

	if err := a.initStorage(ctx); err != nil {
		return nil, err
	}
	if err := a.initStore(ctx); err != nil {
		return nil, err
	}
	if err := a.initPublisher(ctx); err != nil {
		return nil, err
	}
	if err := a.initHub(); err != nil {
		return nil, err
	}

	a.source, err = records.New(records.Config{
		BaseURL:           cfg.API.BaseURL,
		Dataset:           cfg.API.Dataset,
		PageSize:          cfg.API.PageSize,
		RequestsPerSecond: cfg.API.RequestsPerSecond,
		Timeout:           cfg.API.Timeout(),
		UserAgent:         cfg.API.UserAgent,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("build records client: %w", err)
	}

	a.initFetcher()
	a.extractor = extract.New(logger)

	logger.Info("application services initialized",
		zap.String("storage", cfg.Storage.Provider),
		zap.String("store", cfg.Store.Provider),
		zap.String("publisher", cfg.Publisher.Provider),
		zap.Bool("headless", cfg.Fetcher.Headless))
	return a, nil
}

func (a *App) initStorage(ctx context.Context) error {
	switch a.cfg.Storage.Provider {
	case config.StorageLocal:
		blobs, err := local.New(local.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return fmt.Errorf("initialize local storage: %w", err)
		}
		a.blobs = blobs
	case config.StorageMemory:
		a.blobs = memory.NewBlobStore()
	case config.StorageGCS:
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("create gcs client: %w", err)
		}
		blobs, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			_ = client.Close()
			return fmt.Errorf("initialize gcs storage: %w", err)
		}
		a.gcsClient = client
		a.blobs = blobs
	default:
		return fmt.Errorf("unknown storage provider %q", a.cfg.Storage.Provider)
	}
	return nil
}

func (a *App) initStore(ctx context.Context) error {
	switch a.cfg.Store.Provider {
	case config.StoreNoop:
		a.runs = store.NoopRepository{}
	case config.StorePostgres:
		repo, closeFn, err := storepg.Connect(ctx, a.cfg.Store.DSN)
		if err != nil {
			return fmt.Errorf("initialize run store: %w", err)
		}
		a.runs = repo
		a.closeRuns = closeFn
	default:
		return fmt.Errorf("unknown store provider %q", a.cfg.Store.Provider)
	}
	return nil
}

func (a *App) initPublisher(ctx context.Context) error {
	switch a.cfg.Publisher.Provider {
	case config.PublisherNoop:
		// nil publisher: the pipeline skips publishing.
	case config.PublisherPubSub:
		pub, err := pubsubpub.Connect(ctx, a.cfg.Publisher.ProjectID)
		if err != nil {
			return fmt.Errorf("initialize publisher: %w", err)
		}
		a.publisher = pub
		a.closePub = pub.Close
	default:
		return fmt.Errorf("unknown publisher provider %q", a.cfg.Publisher.Provider)
	}
	return nil
}

func (a *App) initHub() error {
	promSink, err := sinks.NewPrometheusSink(a.registry)
	if err != nil {
		return fmt.Errorf("register progress collectors: %w", err)
	}
	hubSinks := []progress.Sink{
		sinks.NewLogSink(a.logger),
		promSink,
	}
	if _, noop := a.runs.(store.NoopRepository); !noop {
		hubSinks = append(hubSinks, sinks.NewStoreSink(a.runs, a.logger))
	}
	a.hub = progress.NewHub(progress.HubConfig{Logger: a.logger}, hubSinks...)
	return nil
}

func (a *App) initFetcher() {
	if !a.cfg.Fetcher.Headless {
		a.sessions = headless.NewNoop()
		return
	}
	pool, err := headless.NewPool(headless.Config{
		UserAgent:         a.cfg.Fetcher.UserAgent,
		NoSandbox:         a.cfg.Fetcher.NoSandbox,
		WindowWidth:       a.cfg.Fetcher.WindowWidth,
		WindowHeight:      a.cfg.Fetcher.WindowHeight,
		WaitSelector:      a.cfg.Fetcher.WaitSelector,
		WaitTimeout:       time.Duration(a.cfg.Fetcher.WaitTimeoutSec) * time.Second,
		SettleDelay:       time.Duration(a.cfg.Fetcher.SettleDelaySec) * time.Second,
		NavigationTimeout: time.Duration(a.cfg.Fetcher.NavTimeoutSeconds) * time.Second,
	}, a.logger)
	if err != nil {
		// The allocator build only fails on bad options; fall back to the
		// noop factory so export degrades instead of aborting startup.
		a.logger.Warn("browser pool unavailable", zap.Error(err))
		a.sessions = headless.NewNoop()
		return
	}
	a.browserPool = pool
	a.sessions = pool
}

// BuildPipeline assembles a Pipeline around the app's services. The
// checkpoint store and entry sink are per-command concerns and may be nil
// for the bounded export.
func (a *App) BuildPipeline(checkpoints harvest.CheckpointStore, entries harvest.EntrySink) (*harvest.Pipeline, error) {
	strategy, err := harvest.PartitionerFor(a.cfg.Pool.Strategy)
	if err != nil {
		return nil, fmt.Errorf("select partitioner: %w", err)
	}
	return harvest.NewPipeline(
		a.source,
		a.sessions,
		a.extractor,
		checkpoints,
		entries,
		a.publisher,
		a.hub,
		a.clock,
		a.ids,
		harvest.PipelineConfig{
			Pool: harvest.PoolConfig{
				Workers:  a.cfg.Pool.Workers,
				Strategy: strategy,
				Delay: harvest.DelayPolicy{
					Min: a.cfg.Limiter.MinDelay(),
					Max: a.cfg.Limiter.MaxDelay(),
				},
			},
			BatchSize:  a.cfg.Harvest.BatchSize,
			BatchPause: a.cfg.Harvest.BatchPause(),
			Topic:      a.cfg.Publisher.Topic,
		},
		a.logger,
	)
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Registry returns the Prometheus registry backing /metrics.
func (a *App) Registry() *prometheus.Registry { return a.registry }

// HTTPMetrics returns the ops-server request collectors.
func (a *App) HTTPMetrics() *metrics.HTTPMetrics { return a.httpMetrics }

// Hub returns the progress event hub.
func (a *App) Hub() *progress.Hub { return a.hub }

// Runs returns the run-history repository.
func (a *App) Runs() store.RunRepository { return a.runs }

// Blobs returns the configured blob store.
func (a *App) Blobs() harvest.BlobStore { return a.blobs }

// Close shuts the services down in dependency order: the hub first so
// final events reach the store, then the provider clients, then the
// logger flush.
func (a *App) Close(ctx context.Context) {
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.browserPool != nil {
		if err := a.browserPool.Close(); err != nil {
			a.logger.Warn("browser pool close failed", zap.Error(err))
		}
	}
	if a.closePub != nil {
		if err := a.closePub(); err != nil {
			a.logger.Warn("publisher close failed", zap.Error(err))
		}
	}
	if a.closeRuns != nil {
		a.closeRuns()
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	// Sync can fail on stderr; nothing useful to do about it.
	_ = a.logger.Sync()
}

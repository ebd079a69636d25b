package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jdbirch/awardharvest/internal/config"
	"github.com/jdbirch/awardharvest/internal/store"
)

func testConfig() config.Config {
	return config.Config{
		API: config.APIConfig{
			BaseURL:           "https://records.example.org/api/search/",
			Dataset:           "awards",
			PageSize:          100,
			RequestsPerSecond: 5,
			TimeoutSeconds:    10,
		},
		Fetcher: config.FetcherConfig{Headless: false},
		Pool:    config.PoolConfig{Workers: 2, Strategy: "static"},
		Limiter: config.LimiterConfig{MinDelayMs: 0, MaxDelayMs: 0},
		Harvest: config.HarvestConfig{Query: "*", BatchSize: 10},
		Storage: config.StorageConfig{Provider: config.StorageMemory},
		Store:   config.StoreConfig{Provider: config.StoreNoop},
		Publisher: config.PublisherConfig{
			Provider: config.PublisherNoop,
		},
		Logging: config.LoggingConfig{Development: false},
	}
}

func TestNewWithMemoryProviders(t *testing.T) {
	cfg := testConfig()
	require.NoError(t, cfg.Validate())

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close(context.Background())

	require.NotNil(t, a.Logger())
	require.NotNil(t, a.Registry())
	require.NotNil(t, a.HTTPMetrics())
	require.NotNil(t, a.Hub())
	require.NotNil(t, a.Blobs())
	require.IsType(t, store.NoopRepository{}, a.Runs())
}

func TestNewRejectsUnknownStorageProvider(t *testing.T) {
	cfg := testConfig()
	cfg.Storage.Provider = "s3"

	_, err := New(context.Background(), cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown storage provider")
}

func TestNewRequiresLocalDir(t *testing.T) {
	cfg := testConfig()
	cfg.Storage.Provider = config.StorageLocal
	cfg.Storage.LocalDir = ""

	_, err := New(context.Background(), cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "initialize local storage")
}

func TestBuildPipeline(t *testing.T) {
	a, err := New(context.Background(), testConfig())
	require.NoError(t, err)
	defer a.Close(context.Background())

	p, err := a.BuildPipeline(nil, nil)
	require.NoError(t, err)
	require.NoError(t, p.Close())
}

func TestBuildPipelineRejectsUnknownStrategy(t *testing.T) {
	cfg := testConfig()
	cfg.Pool.Strategy = "roundrobin"

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close(context.Background())

	_, err = a.BuildPipeline(nil, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "select partitioner")
}

func TestCloseIsSafeToRepeat(t *testing.T) {
	a, err := New(context.Background(), testConfig())
	require.NoError(t, err)

	a.Close(context.Background())
	a.Close(context.Background())
}

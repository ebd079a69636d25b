package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jdbirch/awardharvest/internal/harvest"
	"github.com/jdbirch/awardharvest/internal/metrics"
	"github.com/jdbirch/awardharvest/internal/store"
)

// fakeRunRepo is an in-memory RunRepository for handler tests.
type fakeRunRepo struct {
	mu   sync.Mutex
	runs map[uuid.UUID]store.Run
}

func newFakeRunRepo() *fakeRunRepo {
	return &fakeRunRepo{runs: make(map[uuid.UUID]store.Run)}
}

func (f *fakeRunRepo) put(run store.Run) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[run.ID] = run
}

func (f *fakeRunRepo) UpsertRunStart(_ context.Context, runID uuid.UUID, query string, startedAt time.Time) error {
	f.put(store.Run{ID: runID, Query: query, StartedAt: startedAt, Status: store.RunRunning, LastUpdate: startedAt})
	return nil
}

func (f *fakeRunRepo) CompleteRun(_ context.Context, runID uuid.UUID, finishedAt time.Time, status store.RunStatus, errMsg *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run := f.runs[runID]
	run.FinishedAt = &finishedAt
	run.Status = status
	run.ErrorMessage = errMsg
	f.runs[runID] = run
	return nil
}

func (f *fakeRunRepo) UpsertRunProgress(_ context.Context, runID uuid.UUID, offset, deltaRecords, deltaProtocols int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run := f.runs[runID]
	run.RecordsProcessed += deltaRecords
	run.ProtocolsFound += deltaProtocols
	if offset > run.LastOffset {
		run.LastOffset = offset
	}
	run.LastUpdate = at
	f.runs[runID] = run
	return nil
}

func (f *fakeRunRepo) GetRun(_ context.Context, runID uuid.UUID) (store.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[runID]
	if !ok {
		return store.Run{}, store.ErrNotFound
	}
	return run, nil
}

func (f *fakeRunRepo) ListRuns(_ context.Context, status *store.RunStatus, limit, _ int) ([]store.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Run
	for _, run := range f.runs {
		if status != nil && run.Status != *status {
			continue
		}
		out = append(out, run)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func newTestServer(t *testing.T, repo store.RunRepository, snapshot SnapshotFunc, cfg Config) *httptest.Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	httpMetrics, err := metrics.NewHTTPMetrics(reg)
	require.NoError(t, err)
	srv := httptest.NewServer(NewServer(repo, snapshot, reg, httpMetrics, cfg, zap.NewNop()).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer func() { require.NoError(t, resp.Body.Close()) }()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, newFakeRunRepo(), nil, Config{})

	var health map[string]string
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/healthz", &health))
	require.Equal(t, "ok", health["status"])

	var ready map[string]string
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/readyz", &ready))
	require.Equal(t, "ready", ready["status"])
}

func TestRequestIDHeader(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, newFakeRunRepo(), nil, Config{})

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestMetricsEndpointServesHTTPMetrics(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, newFakeRunRepo(), nil, Config{})

	// Instrumented request first so the counter has a sample.
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/healthz", nil))

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "http_requests_total")
}

func TestCurrentRun(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		snap harvest.RunSnapshot
	)
	snapshot := func() harvest.RunSnapshot {
		mu.Lock()
		defer mu.Unlock()
		return snap
	}
	srv := newTestServer(t, newFakeRunRepo(), snapshot, Config{})

	require.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/v1/runs/current", nil))

	mu.Lock()
	snap = harvest.RunSnapshot{
		RunID:     uuid.NewString(),
		Query:     "diagnostics",
		Stage:     "harvesting",
		Offset:    40,
		Processed: 38,
		Protocols: 5,
	}
	mu.Unlock()

	var got harvest.RunSnapshot
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/runs/current", &got))
	require.Equal(t, "diagnostics", got.Query)
	require.Equal(t, 40, got.Offset)
}

func TestGetRun(t *testing.T) {
	t.Parallel()

	repo := newFakeRunRepo()
	runID := uuid.New()
	startedAt := time.Date(2024, time.June, 1, 9, 0, 0, 0, time.UTC)
	repo.put(store.Run{
		ID:               runID,
		Query:            "diagnostics",
		StartedAt:        startedAt,
		Status:           store.RunRunning,
		LastOffset:       120,
		RecordsProcessed: 118,
		ProtocolsFound:   14,
		LastUpdate:       startedAt,
	})
	srv := newTestServer(t, repo, nil, Config{})

	var got runResponse
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/runs/"+runID.String(), &got))
	require.Equal(t, runID.String(), got.ID)
	require.Equal(t, int64(120), got.LastOffset)
	require.Equal(t, "running", got.Status)

	require.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/v1/runs/"+uuid.NewString(), nil))
	require.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/v1/runs/not-a-uuid", nil))
}

func TestListRuns(t *testing.T) {
	t.Parallel()

	repo := newFakeRunRepo()
	finished := time.Now().UTC()
	repo.put(store.Run{ID: uuid.New(), Query: "a", Status: store.RunSuccess, FinishedAt: &finished})
	repo.put(store.Run{ID: uuid.New(), Query: "b", Status: store.RunRunning})
	srv := newTestServer(t, repo, nil, Config{})

	var all struct {
		Runs []runResponse `json:"runs"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/runs", &all))
	require.Len(t, all.Runs, 2)

	var filtered struct {
		Runs []runResponse `json:"runs"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/runs?status=success", &filtered))
	require.Len(t, filtered.Runs, 1)
	require.Equal(t, "a", filtered.Runs[0].Query)

	require.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/v1/runs?status=bogus", nil))
}

func TestAPIKeyGatesV1Routes(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, newFakeRunRepo(), nil, Config{APIKey: "sekrit"})

	// Health stays open.
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/healthz", nil))

	resp, err := http.Get(srv.URL + "/v1/runs")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/runs", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", "sekrit")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/runs?api_key=sekrit", nil))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	s := NewServer(newFakeRunRepo(), func() harvest.RunSnapshot {
		panic("boom")
	}, reg, nil, Config{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/v1/runs/current", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "internal server error"))
}

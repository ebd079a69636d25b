package records

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeAPI struct {
	mu       sync.Mutex
	nhits    int
	records  []map[string]any
	requests []*http.Request
	status   int
}

func (f *fakeAPI) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requests = append(f.requests, r.Clone(context.Background()))
		f.mu.Unlock()

		if f.status != 0 {
			w.WriteHeader(f.status)
			return
		}

		start, _ := strconv.Atoi(r.URL.Query().Get("start"))
		rows, _ := strconv.Atoi(r.URL.Query().Get("rows"))
		end := start + rows
		if end > len(f.records) {
			end = len(f.records)
		}
		var page []map[string]any
		if start < len(f.records) {
			page = f.records[start:end]
		}

		body := map[string]any{"nhits": f.nhits}
		items := make([]map[string]any, 0, len(page))
		for i, fields := range page {
			items = append(items, map[string]any{
				"recordid":         fmt.Sprintf("rec-%d", start+i),
				"fields":           fields,
				"record_timestamp": "2023-01-15T10:00:00Z",
			})
		}
		body["records"] = items
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}
}

func (f *fakeAPI) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeAPI) request(i int) *http.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[i]
}

func awardFields(n int) []map[string]any {
	out := make([]map[string]any, n)
	for i := range out {
		out[i] = map[string]any{
			"project_id":     fmt.Sprintf("NIHR%03d", i),
			"project_title":  fmt.Sprintf("Study %d", i),
			"funding_stream": "HTA",
			"start_date":     "2021-03-01",
		}
	}
	return out
}

func newTestClient(t *testing.T, api *fakeAPI, pageSize int) *Client {
	t.Helper()
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)
	client, err := New(Config{
		BaseURL:           srv.URL,
		Dataset:           "infonihr-open-dataset",
		PageSize:          pageSize,
		RequestsPerSecond: 1000,
	}, zap.NewNop())
	require.NoError(t, err)
	return client
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Dataset: "d"}, zap.NewNop())
	require.Error(t, err)

	_, err = New(Config{BaseURL: "http://x"}, zap.NewNop())
	require.Error(t, err)
}

func TestCountProbesZeroRows(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{nhits: 42}
	client := newTestClient(t, api, 10)

	total, err := client.Count(context.Background(), "diagnostics")
	require.NoError(t, err)
	require.Equal(t, 42, total)

	q := api.request(0).URL.Query()
	require.Equal(t, "0", q.Get("rows"))
	require.Equal(t, "diagnostics", q.Get("q"))
	require.Equal(t, "infonihr-open-dataset", q.Get("dataset"))
}

func TestSearchWalksAllPages(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{nhits: 25, records: awardFields(25)}
	client := newTestClient(t, api, 10)

	records, err := client.Search(context.Background(), "diagnostics", 0)
	require.NoError(t, err)
	require.Len(t, records, 25)
	require.Equal(t, "NIHR000", records[0].AwardID)
	require.Equal(t, "NIHR024", records[24].AwardID)
	// Probe plus three pages (10, 10, 5).
	require.Equal(t, 4, api.requestCount())
}

func TestSearchStopsOnShortPageDespiteOverstatedTotal(t *testing.T) {
	t.Parallel()

	// The API advertises 100 hits but only ever returns 7 records.
	api := &fakeAPI{nhits: 100, records: awardFields(7)}
	client := newTestClient(t, api, 10)

	records, err := client.Search(context.Background(), "diagnostics", 0)
	require.NoError(t, err)
	require.Len(t, records, 7)
}

func TestSearchHonorsMaxRows(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{nhits: 50, records: awardFields(50)}
	client := newTestClient(t, api, 10)

	records, err := client.Search(context.Background(), "diagnostics", 15)
	require.NoError(t, err)
	require.Len(t, records, 15)
}

func TestPagePropagatesStartAndSort(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{nhits: 30, records: awardFields(30)}
	client := newTestClient(t, api, 10)

	page, err := client.Page(context.Background(), "*", 10, 10, true)
	require.NoError(t, err)
	require.Len(t, page, 10)
	require.Equal(t, "NIHR010", page[0].AwardID)

	q := api.request(0).URL.Query()
	require.Equal(t, "10", q.Get("start"))
	require.Equal(t, "project_id", q.Get("sort"))
}

func TestBadRequestMapsToErrQueryRejected(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{status: http.StatusBadRequest}
	client := newTestClient(t, api, 10)

	_, err := client.Count(context.Background(), `bad "query`)
	require.ErrorIs(t, err, ErrQueryRejected)
}

func TestServerErrorAbortsCall(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{status: http.StatusInternalServerError}
	client := newTestClient(t, api, 10)

	_, err := client.Search(context.Background(), "diagnostics", 0)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrQueryRejected)
}

func TestRecordMappingFallbacks(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{nhits: 2, records: []map[string]any{
		{
			"project_reference":       "REF-1",
			"project_title":           "Fallback title",
			"programme":               "EME",
			"funding_and_awards_link": "https://example.org/award/REF-1",
		},
		{
			"project_title": "No identifier at all",
		},
	}}
	client := newTestClient(t, api, 10)

	records, err := client.Page(context.Background(), "*", 0, 10, false)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "REF-1", records[0].AwardID)
	require.Equal(t, "EME", records[0].FundingStream)
	require.Equal(t, "https://example.org/award/REF-1", records[0].DetailURL)
	require.Equal(t, "2023-01-15T10:00:00Z", records[0].Fields["record_timestamp"])

	// The record with no identifier stays in the page so offsets keep
	// lining up with what the API served. Without an ID there is no award
	// page to fabricate a detail URL for.
	require.Empty(t, records[1].AwardID)
	require.Empty(t, records[1].DetailURL)
	require.Equal(t, "No identifier at all", records[1].Title)
}

func TestPageLengthMatchesServedRecords(t *testing.T) {
	t.Parallel()

	fields := awardFields(4)
	delete(fields[1], "project_id")
	api := &fakeAPI{nhits: 4, records: fields}
	client := newTestClient(t, api, 10)

	page, err := client.Page(context.Background(), "*", 0, 4, true)
	require.NoError(t, err)
	require.Len(t, page, 4)
	require.Equal(t, "NIHR000", page[0].AwardID)
	require.Empty(t, page[1].AwardID)
	require.Equal(t, "NIHR002", page[2].AwardID)
	require.Equal(t, "NIHR003", page[3].AwardID)
}

func TestDetailURLDefaultsToAwardPage(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{nhits: 1, records: []map[string]any{
		{"project_id": "NIHR 42/01"},
	}}
	client := newTestClient(t, api, 10)

	records, err := client.Page(context.Background(), "*", 0, 10, false)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "https://fundingawards.nihr.ac.uk/award/NIHR%2042%2F01", records[0].DetailURL)
}

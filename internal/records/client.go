// Package records provides the paginated client over the award search
// API. The endpoint is an opendatasoft-style records search: one dataset,
// free-text query, offset/size paging, and a total-hit count that the
// client treats as advisory rather than authoritative.
package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jdbirch/awardharvest/internal/harvest"
)

// ErrQueryRejected signals the API refused the query itself (HTTP 400).
// Query syntax is a caller responsibility; the client only reports the
// rejection.
var ErrQueryRejected = errors.New("query rejected by records api")

const (
	defaultPageSize = 100
	defaultTimeout  = 30 * time.Second
	defaultRPS      = 5
	stableSortKey   = "project_id"
)

// Config captures the client knobs.
type Config struct {
	// BaseURL points at the search endpoint, e.g.
	// https://nihr.opendatasoft.com/api/records/1.0/search/.
	BaseURL string
	// Dataset is the fixed dataset identifier passed on every request.
	Dataset string
	// PageSize bounds one page request (default 100).
	PageSize int
	// RequestsPerSecond paces API calls independently of the browser-side
	// limiter (default 5).
	RequestsPerSecond float64
	// Timeout bounds each HTTP request (default 30s).
	Timeout time.Duration
	// UserAgent is sent with every request when set.
	UserAgent string
}

// Client implements harvest.RecordSource over HTTP.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New validates the config and builds a Client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("records base url is required")
	}
	if strings.TrimSpace(cfg.Dataset) == "" {
		return nil, fmt.Errorf("records dataset is required")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = defaultRPS
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		logger:  logger,
	}, nil
}

type searchResponse struct {
	Nhits   int         `json:"nhits"`
	Records []apiRecord `json:"records"`
}

type apiRecord struct {
	RecordID        string         `json:"recordid"`
	Fields          map[string]any `json:"fields"`
	RecordTimestamp string         `json:"record_timestamp"`
}

// Count performs a zero-row probe and returns the advertised total hit
// count for the query.
func (c *Client) Count(ctx context.Context, query string) (int, error) {
	resp, err := c.search(ctx, query, 0, 0, false)
	if err != nil {
		return 0, err
	}
	return resp.Nhits, nil
}

// Page fetches one page starting at the given offset. When stable is true
// the request carries the stable sort key so a given offset means the
// same slice of the stream on every invocation; checkpointed walks depend
// on that. The result holds one record per record the API served for the
// window, including records without an award ID, so callers can advance
// offsets by the result length.
func (c *Client) Page(ctx context.Context, query string, start, rows int, stable bool) ([]harvest.RawRecord, error) {
	if rows <= 0 {
		rows = c.cfg.PageSize
	}
	resp, err := c.search(ctx, query, start, rows, stable)
	if err != nil {
		return nil, err
	}
	return c.toRawRecords(resp.Records), nil
}

// Search probes the total then walks pages until the advertised total is
// reached, a page comes back short (end-of-stream wins over an
// inconsistent total), or maxRows results exist (0 = no cap). Any
// transport failure aborts the whole call: silently dropping a page would
// corrupt what offsets mean downstream.
func (c *Client) Search(ctx context.Context, query string, maxRows int) ([]harvest.RawRecord, error) {
	total, err := c.Count(ctx, query)
	if err != nil {
		return nil, err
	}
	c.logger.Info("search probe complete",
		zap.String("query", query),
		zap.Int("total", total))

	var records []harvest.RawRecord
	for start := 0; start < total; {
		rows := c.cfg.PageSize
		page, err := c.Page(ctx, query, start, rows, false)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		records = append(records, page...)
		start += len(page)
		if maxRows > 0 && len(records) >= maxRows {
			records = records[:maxRows]
			break
		}
		if len(page) < rows {
			break
		}
	}
	return records, nil
}

func (c *Client) search(ctx context.Context, query string, start, rows int, stable bool) (*searchResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("records rate wait: %w", err)
	}

	params := url.Values{}
	params.Set("dataset", c.cfg.Dataset)
	params.Set("q", query)
	params.Set("rows", strconv.Itoa(rows))
	if start > 0 {
		params.Set("start", strconv.Itoa(start))
	}
	if stable {
		params.Set("sort", stableSortKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build records request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("records request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest {
		return nil, fmt.Errorf("records query %q: %w", query, ErrQueryRejected)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("records request returned status %d", resp.StatusCode)
	}

	var payload searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode records response: %w", err)
	}
	return &payload, nil
}

// toRawRecords maps API field bags onto the pipeline's record type, one
// output per input. The bag itself rides along untouched so date selection
// and harvest extras can reach fields the mapping does not lift out.
// Records without an award ID stay in the slice: dropping them would shift
// what an offset means mid-stream.
func (c *Client) toRawRecords(in []apiRecord) []harvest.RawRecord {
	out := make([]harvest.RawRecord, 0, len(in))
	for _, rec := range in {
		fields := rec.Fields
		if fields == nil {
			fields = map[string]any{}
		}
		if _, ok := fields["record_timestamp"]; !ok && rec.RecordTimestamp != "" {
			fields["record_timestamp"] = rec.RecordTimestamp
		}

		awardID := firstField(fields, "project_id", "project_reference")
		raw := harvest.RawRecord{
			AwardID:       awardID,
			Title:         firstField(fields, "project_title"),
			FundingStream: firstField(fields, "funding_stream", "programme", "programme_stream"),
			StartDate:     firstField(fields, "start_date"),
			EndDate:       firstField(fields, "end_date"),
			DetailURL:     detailURL(fields, awardID),
			Fields:        fields,
		}
		if raw.AwardID == "" {
			c.logger.Warn("record without award id",
				zap.String("recordid", rec.RecordID))
		}
		out = append(out, raw)
	}
	return out
}

func detailURL(fields map[string]any, awardID string) string {
	if link := firstField(fields, "funding_and_awards_link"); link != "" {
		return link
	}
	if awardID == "" {
		return ""
	}
	return "https://fundingawards.nihr.ac.uk/award/" + url.PathEscape(awardID)
}

func firstField(fields map[string]any, keys ...string) string {
	for _, key := range keys {
		v, ok := fields[key]
		if !ok || v == nil {
			continue
		}
		if s := strings.TrimSpace(fmt.Sprint(v)); s != "" {
			return s
		}
	}
	return ""
}

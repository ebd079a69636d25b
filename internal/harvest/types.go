// Package harvest defines the core types and pipeline shared across subsystems.
package harvest

import (
	"time"
)

// RawRecord is one award as returned by the records API. Immutable once
// fetched; identity is AwardID.
type RawRecord struct {
	AwardID       string         `json:"award_id"`
	Title         string         `json:"title"`
	FundingStream string         `json:"funding_stream"`
	StartDate     string         `json:"start_date,omitempty"`
	EndDate       string         `json:"end_date,omitempty"`
	DetailURL     string         `json:"detail_url"`
	Fields        map[string]any `json:"-"`
}

// ProtocolDoc is one protocol-document entry found on a detail page.
// Date carries month precision and is nil when the page text did not parse.
type ProtocolDoc struct {
	Title string     `json:"title"`
	URL   string     `json:"url"`
	Date  *time.Time `json:"date,omitempty"`
}

// ExtractedFields is the result of enriching one RawRecord. Protocols are
// ordered newest first; name lists are deduplicated by exact text with
// first occurrence winning.
type ExtractedFields struct {
	Protocols []ProtocolDoc `json:"protocols"`
	PIs       []string      `json:"pis"`
	CoIs      []string      `json:"co_is"`
}

// EnrichedRecord is the terminal artifact: the raw record joined with its
// extraction result and the derived scalars.
type EnrichedRecord struct {
	RawRecord

	Protocols     []ProtocolDoc `json:"protocols"`
	ProtocolCount int           `json:"protocol_count"`

	LatestProtocolTitle string     `json:"latest_protocol_title,omitempty"`
	LatestProtocolURL   string     `json:"latest_protocol_url,omitempty"`
	LatestProtocolDate  *time.Time `json:"latest_protocol_date,omitempty"`

	PIs     []string `json:"pis"`
	CoIs    []string `json:"co_is"`
	PICount int      `json:"pi_count"`
	CoCount int      `json:"co_i_count"`
}

// WorkItem is a RawRecord queued for enrichment. Consumed exactly once by
// exactly one worker.
type WorkItem struct {
	Index  int
	Record RawRecord
}

// HarvestEntry is one JSONL row emitted by the incremental harvest for a
// record whose detail page exposes a protocol attachment.
type HarvestEntry struct {
	AwardID              string    `json:"award_id"`
	Title                string    `json:"title"`
	ScientificAbstract   string    `json:"scientific_abstract,omitempty"`
	PlainEnglishAbstract string    `json:"plain_english_abstract,omitempty"`
	AwardAmount          string    `json:"award_amount,omitempty"`
	StartDate            string    `json:"start_date,omitempty"`
	Status               string    `json:"status,omitempty"`
	Programme            string    `json:"programme,omitempty"`
	DetailURL            string    `json:"detail_url"`
	ProtocolURL          string    `json:"protocol_url"`
	ProtocolFilename     string    `json:"protocol_filename"`
	ScrapedAt            time.Time `json:"scraped_at"`
}

// RunSnapshot is a point-in-time view of the active run, served by the ops
// API.
type RunSnapshot struct {
	RunID     string    `json:"run_id"`
	Query     string    `json:"query"`
	Stage     string    `json:"stage"`
	Offset    int       `json:"offset"`
	Processed int       `json:"processed"`
	Protocols int       `json:"protocols"`
	StartedAt time.Time `json:"started_at"`
}

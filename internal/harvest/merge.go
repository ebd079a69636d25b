package harvest

import (
	"sort"
	"strings"
	"time"
)

// Merge joins enrichment results back onto their source records by award
// ID. Output order is exactly the raw order and output length equals the
// raw length; records with no enrichment entry take zero-valued defaults.
func Merge(raw []RawRecord, byID map[string]ExtractedFields) []EnrichedRecord {
	out := make([]EnrichedRecord, 0, len(raw))
	for _, rec := range raw {
		out = append(out, newEnrichedRecord(rec, byID[rec.AwardID]))
	}
	return out
}

func newEnrichedRecord(rec RawRecord, fields ExtractedFields) EnrichedRecord {
	e := EnrichedRecord{
		RawRecord:     rec,
		Protocols:     fields.Protocols,
		ProtocolCount: len(fields.Protocols),
		PIs:           fields.PIs,
		CoIs:          fields.CoIs,
		PICount:       len(fields.PIs),
		CoCount:       len(fields.CoIs),
	}
	if latest, ok := LatestProtocol(fields.Protocols); ok {
		e.LatestProtocolTitle = latest.Title
		e.LatestProtocolURL = latest.URL
		e.LatestProtocolDate = latest.Date
	}
	return e
}

// LatestProtocol returns the entry with the max date. Ties keep the
// first-encountered entry and entries without a parseable date rank
// oldest.
func LatestProtocol(docs []ProtocolDoc) (ProtocolDoc, bool) {
	if len(docs) == 0 {
		return ProtocolDoc{}, false
	}
	best := docs[0]
	for _, d := range docs[1:] {
		if protocolDate(d).After(protocolDate(best)) {
			best = d
		}
	}
	return best, true
}

// SortProtocolsNewestFirst orders entries by date descending. The sort is
// stable, so page order breaks ties and undated entries keep their
// relative order at the end.
func SortProtocolsNewestFirst(docs []ProtocolDoc) {
	sort.SliceStable(docs, func(i, j int) bool {
		return protocolDate(docs[i]).After(protocolDate(docs[j]))
	})
}

func protocolDate(d ProtocolDoc) time.Time {
	if d.Date == nil {
		return time.Time{}
	}
	return *d.Date
}

// JoinNames renders a name list the way the output table expects it.
func JoinNames(names []string) string {
	return strings.Join(names, "; ")
}

// Package report shapes enriched records into the hand-off artifact: the
// ordered award table plus a name-frequency table, with CSV and JSONL
// writers. Spreadsheet rendering stays outside the system boundary.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/jdbirch/awardharvest/internal/harvest"
)

// NameCount is one row of the investigator frequency table.
type NameCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Report is the terminal artifact of a bounded export.
type Report struct {
	// Records preserves the merge output order.
	Records []harvest.EnrichedRecord
	// Names counts appearances per investigator name across all records,
	// descending by count with ties kept in first-seen order.
	Names []NameCount
}

// Build derives the frequency table from the enriched records.
func Build(records []harvest.EnrichedRecord) *Report {
	counts := make(map[string]int)
	var order []string
	tally := func(names []string) {
		for _, name := range names {
			if name == "" {
				continue
			}
			if _, seen := counts[name]; !seen {
				order = append(order, name)
			}
			counts[name]++
		}
	}
	for _, rec := range records {
		tally(rec.PIs)
		tally(rec.CoIs)
	}

	names := make([]NameCount, 0, len(order))
	for _, name := range order {
		names = append(names, NameCount{Name: name, Count: counts[name]})
	}
	// Stable keeps the first-seen order within equal counts.
	sort.SliceStable(names, func(i, j int) bool {
		return names[i].Count > names[j].Count
	})

	return &Report{Records: records, Names: names}
}

var recordHeader = []string{
	"Award ID",
	"Title",
	"Funding Stream",
	"Start Date",
	"End Date",
	"Project URL",
	"Protocol Count",
	"Most Recent Protocol Title",
	"Most Recent Protocol URL",
	"Most Recent Protocol Date",
	"PIs",
	"No. of PIs",
	"Co-Is",
	"No. of Co-Is",
}

// WriteRecordsCSV emits the enriched table in merge order.
func (r *Report) WriteRecordsCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(recordHeader); err != nil {
		return fmt.Errorf("write records header: %w", err)
	}
	for _, rec := range r.Records {
		row := []string{
			rec.AwardID,
			rec.Title,
			rec.FundingStream,
			rec.StartDate,
			rec.EndDate,
			rec.DetailURL,
			strconv.Itoa(rec.ProtocolCount),
			rec.LatestProtocolTitle,
			rec.LatestProtocolURL,
			formatProtocolDate(rec),
			harvest.JoinNames(rec.PIs),
			strconv.Itoa(rec.PICount),
			harvest.JoinNames(rec.CoIs),
			strconv.Itoa(rec.CoCount),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write record row %s: %w", rec.AwardID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush records csv: %w", err)
	}
	return nil
}

// WriteNamesCSV emits the name-frequency table.
func (r *Report) WriteNamesCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Name", "Count"}); err != nil {
		return fmt.Errorf("write names header: %w", err)
	}
	for _, nc := range r.Names {
		if err := cw.Write([]string{nc.Name, strconv.Itoa(nc.Count)}); err != nil {
			return fmt.Errorf("write name row %s: %w", nc.Name, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush names csv: %w", err)
	}
	return nil
}

// WriteRecordsJSONL emits one JSON object per enriched record.
func (r *Report) WriteRecordsJSONL(w io.Writer) error {
	enc := json.NewEncoder(w)
	for _, rec := range r.Records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encode record %s: %w", rec.AwardID, err)
		}
	}
	return nil
}

// formatProtocolDate renders the month-precision date as YYYY-MM.
func formatProtocolDate(rec harvest.EnrichedRecord) string {
	if rec.LatestProtocolDate == nil {
		return ""
	}
	return rec.LatestProtocolDate.Format("2006-01")
}

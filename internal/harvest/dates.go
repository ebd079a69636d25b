package harvest

import (
	"fmt"
	"strings"
	"time"
)

// dateFieldOrder is the preference order for picking a record's best date.
var dateFieldOrder = [...]string{"start_date", "award_date", "end_date", "record_timestamp"}

// BestDate picks the best available date for a record's field bag, trying
// candidate fields in a fixed preference order. Each candidate is parsed
// first as a calendar date, then as a full timestamp. Returns nil when no
// candidate parses.
func BestDate(fields map[string]any) *time.Time {
	for _, key := range dateFieldOrder {
		raw, ok := fields[key]
		if !ok || raw == nil {
			continue
		}
		s := strings.TrimSpace(fmt.Sprint(raw))
		if s == "" {
			continue
		}
		if t, err := parseAPIDate(s); err == nil {
			return &t
		}
	}
	return nil
}

func parseAPIDate(s string) (time.Time, error) {
	prefix := s
	if len(prefix) > 10 {
		prefix = prefix[:10]
	}
	if t, err := time.Parse("2006-01-02", prefix); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

// InDateRange reports whether t falls inside the inclusive [from, to]
// window. Nil bounds are open; a nil t is outside any bounded window.
func InDateRange(t *time.Time, from, to *time.Time) bool {
	if from == nil && to == nil {
		return true
	}
	if t == nil {
		return false
	}
	if from != nil && t.Before(*from) {
		return false
	}
	if to != nil && t.After(*to) {
		return false
	}
	return true
}

// FilterByDate returns the records whose best date falls inside the
// window. With no bounds set the input is returned unchanged, including
// dateless records.
func FilterByDate(records []RawRecord, from, to *time.Time) []RawRecord {
	if from == nil && to == nil {
		return records
	}
	out := make([]RawRecord, 0, len(records))
	for _, rec := range records {
		if InDateRange(BestDate(rec.Fields), from, to) {
			out = append(out, rec)
		}
	}
	return out
}

// FilterByProgramme keeps records whose funding stream contains the
// programme name, case-insensitively. Empty or "all" keeps everything.
func FilterByProgramme(records []RawRecord, programme string) []RawRecord {
	p := strings.ToLower(strings.TrimSpace(programme))
	if p == "" || p == "all" {
		return records
	}
	out := make([]RawRecord, 0, len(records))
	for _, rec := range records {
		if strings.Contains(strings.ToLower(rec.FundingStream), p) {
			out = append(out, rec)
		}
	}
	return out
}

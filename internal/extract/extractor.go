// Package extract recovers structured award fields from rendered
// detail-page markup. It layers extraction strategies so the harvester
// tolerates markup drift: a structured row scan for protocol documents,
// labelled-block matching for investigator names, and a last-resort
// regular-expression sweep when the structured queries come up empty.
package extract

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/jdbirch/awardharvest/internal/harvest"
)

// Selectors for the structured strategies. These track the award sites'
// conventional markup but none of them is load-bearing on its own.
const (
	protocolRowSelector  = ".thread-row"
	protocolDateSelector = ".thread-date-col"
	protocolLinkSelector = "a.thread-link[href]"
	personBlockSelector  = ".icon-component, .wide-icon-component-details, .icon-component-details"
	personLabelSelector  = ".icon-component-label, .form-label"
	personNameSelector   = "a.std-link"
)

// Role synonyms normalized into the two investigator buckets.
var (
	piLabels  = []string{"chief investigator", "principal investigator", "supervisor"}
	coiLabels = []string{"co-investigator", "student"}

	supervisorPattern = regexp.MustCompile(`(?i)supervisor[^<]*<[^>]*>([^<]+)</a>`)
	studentPattern    = regexp.MustCompile(`(?i)student[^<]*<[^>]*>([^<]+)</a>`)
)

var protocolDateLayouts = []string{"Jan 2006", "January 2006"}

// Extractor applies the strategy chain to one rendered document at a time.
// It keeps no per-document state and is safe for concurrent use.
type Extractor struct {
	logger *zap.Logger
}

// New builds an Extractor.
func New(logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{logger: logger}
}

// Extract recovers protocol documents and investigator names from the
// markup. The error is reserved for markup that cannot be parsed as a
// document at all; a strategy finding nothing is not an error, and the
// zero-valued result is a legitimate outcome for sparse pages.
func (e *Extractor) Extract(markup string, baseURL string) (harvest.ExtractedFields, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return harvest.ExtractedFields{}, fmt.Errorf("parse detail page: %w", err)
	}

	fields := harvest.ExtractedFields{
		Protocols: e.protocolDocs(doc, baseURL),
	}
	fields.PIs, fields.CoIs = e.investigatorNames(doc, baseURL)

	if len(fields.PIs) == 0 && len(fields.CoIs) == 0 {
		fields.PIs, fields.CoIs = regexNames(markup)
	}
	fields.PIs = dedupe(fields.PIs)
	fields.CoIs = dedupe(fields.CoIs)
	return fields, nil
}

// protocolDocs scans the timeline rows for links whose visible text
// mentions a protocol. Entries come back newest first; rows without a
// parseable date sort oldest and page order breaks ties.
func (e *Extractor) protocolDocs(doc *goquery.Document, baseURL string) []harvest.ProtocolDoc {
	var docs []harvest.ProtocolDoc
	doc.Find(protocolRowSelector).Each(func(_ int, row *goquery.Selection) {
		link := row.Find(protocolLinkSelector).First()
		if link.Length() == 0 {
			return
		}
		title := strings.TrimSpace(link.Text())
		if !strings.Contains(strings.ToLower(title), "protocol") {
			return
		}
		href, _ := link.Attr("href")
		dateText := strings.TrimSpace(row.Find(protocolDateSelector).First().Text())
		docs = append(docs, harvest.ProtocolDoc{
			Title: title,
			URL:   resolveURL(baseURL, href),
			Date:  parseMonthYear(dateText),
		})
	})
	harvest.SortProtocolsNewestFirst(docs)
	return docs
}

// investigatorNames walks the label/value blocks and routes each block's
// linked names into a role bucket by label synonym. A block holding names
// under no recognizable label defaults to the co-investigator bucket;
// that ambiguity is deliberate source behavior, surfaced only in the log.
func (e *Extractor) investigatorNames(doc *goquery.Document, baseURL string) (pis, cois []string) {
	doc.Find(personBlockSelector).Each(func(_ int, block *goquery.Selection) {
		names := blockNames(block)
		if len(names) == 0 {
			return
		}
		label := strings.ToLower(strings.TrimSpace(block.Find(personLabelSelector).First().Text()))
		switch {
		case matchesAny(label, piLabels):
			pis = append(pis, names...)
		case matchesAny(label, coiLabels):
			cois = append(cois, names...)
		default:
			e.logger.Debug("unlabelled person block, defaulting to co-investigator",
				zap.String("label", label),
				zap.Strings("names", names),
				zap.String("url", baseURL))
			cois = append(cois, names...)
		}
	})
	return pis, cois
}

// regexNames is the last-resort sweep, used only when the structured
// strategies produced no names at all.
func regexNames(markup string) (pis, cois []string) {
	lower := strings.ToLower(markup)
	if strings.Contains(lower, "supervisor") {
		for _, m := range supervisorPattern.FindAllStringSubmatch(markup, -1) {
			if name := strings.TrimSpace(m[1]); name != "" {
				pis = append(pis, name)
			}
		}
	}
	if strings.Contains(lower, "student") {
		for _, m := range studentPattern.FindAllStringSubmatch(markup, -1) {
			if name := strings.TrimSpace(m[1]); name != "" {
				cois = append(cois, name)
			}
		}
	}
	return pis, cois
}

func blockNames(block *goquery.Selection) []string {
	var names []string
	block.Find(personNameSelector).Each(func(_ int, a *goquery.Selection) {
		if name := strings.TrimSpace(a.Text()); name != "" {
			names = append(names, name)
		}
	})
	return names
}

func matchesAny(label string, synonyms []string) bool {
	for _, s := range synonyms {
		if strings.Contains(label, s) {
			return true
		}
	}
	return false
}

// parseMonthYear parses the short textual dates the timeline shows
// ("May 2021" or "January 2021") at month precision.
func parseMonthYear(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range protocolDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

func resolveURL(baseURL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

func dedupe(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(names))
	out := names[:0]
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

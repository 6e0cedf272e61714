package scoring

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/siteproof/siteproof/internal/storage"
)

// Conflict is a high-certainty factual disagreement between pages.
type Conflict struct {
	Field   string   // "price", "founded_year", "policy_window"
	Values  []string // the disagreeing values, sorted
	PageIDs []string // pages carrying them, sorted
}

var (
	priceRe = regexp.MustCompile(`\$([\d,]+(?:\.\d{1,2})?)\s*(?:/|per\s+)?(mo|month|yr|year|seat|user)?`)
	yearRe  = regexp.MustCompile(`(?i)\b(?:founded|established|since)\b[^.]{0,20}\b((?:19|20)\d{2})\b`)
	// Policy windows such as "30-day returns" or "within 14 days".
	windowRe = regexp.MustCompile(`(?i)\b(\d{1,3})[- ]day(?:s)?\b`)
)

// DetectConflicts scans chunks for exact or near-exact numeric disagreement
// on the same field across different pages. Only these high-certainty cases
// are flagged; anything softer lands in the needs-review list and is never
// auto-penalized.
func DetectConflicts(chunks []storage.Chunk) (conflicts []Conflict, needsReview []string) {
	conflicts = append(conflicts, fieldConflicts(chunks, "price", extractPrices)...)
	conflicts = append(conflicts, fieldConflicts(chunks, "founded_year", extractYears)...)

	windows := fieldConflicts(chunks, "policy_window", extractWindows)
	// Day windows are ambiguous without page context (shipping vs returns),
	// so disagreement alone is not high-certainty.
	for _, c := range windows {
		needsReview = append(needsReview,
			fmt.Sprintf("differing day windows across pages: %s", strings.Join(c.Values, " vs ")))
	}
	return conflicts, needsReview
}

// fieldConflicts groups extracted values by unit and reports groups whose
// values disagree across more than one page.
func fieldConflicts(chunks []storage.Chunk, field string, extract func(string) []fieldValue) []Conflict {
	type occurrence struct {
		values map[string]struct{}
		pages  map[string]map[string]struct{} // value -> page ids
	}
	byUnit := make(map[string]*occurrence)

	for _, ch := range chunks {
		for _, fv := range extract(ch.Text) {
			occ, ok := byUnit[fv.unit]
			if !ok {
				occ = &occurrence{
					values: make(map[string]struct{}),
					pages:  make(map[string]map[string]struct{}),
				}
				byUnit[fv.unit] = occ
			}
			occ.values[fv.value] = struct{}{}
			if occ.pages[fv.value] == nil {
				occ.pages[fv.value] = make(map[string]struct{})
			}
			occ.pages[fv.value][ch.PageID] = struct{}{}
		}
	}

	units := make([]string, 0, len(byUnit))
	for unit := range byUnit {
		units = append(units, unit)
	}
	sort.Strings(units)

	var out []Conflict
	for _, unit := range units {
		occ := byUnit[unit]
		if len(occ.values) < 2 {
			continue
		}
		pageSet := make(map[string]struct{})
		values := make([]string, 0, len(occ.values))
		for v := range occ.values {
			values = append(values, v)
			for page := range occ.pages[v] {
				pageSet[page] = struct{}{}
			}
		}
		// A single page contradicting itself is a typo, not a cross-page
		// conflict.
		if len(pageSet) < 2 {
			continue
		}
		pages := make([]string, 0, len(pageSet))
		for p := range pageSet {
			pages = append(pages, p)
		}
		sort.Strings(values)
		sort.Strings(pages)
		out = append(out, Conflict{Field: field, Values: values, PageIDs: pages})
	}
	return out
}

type fieldValue struct {
	value string
	unit  string // grouping key: values with different units never conflict
}

func extractPrices(text string) []fieldValue {
	var out []fieldValue
	for _, m := range priceRe.FindAllStringSubmatch(text, -1) {
		unit := normalizeUnit(m[2])
		out = append(out, fieldValue{value: "$" + strings.ReplaceAll(m[1], ",", ""), unit: "price/" + unit})
	}
	return out
}

func normalizeUnit(unit string) string {
	switch strings.ToLower(unit) {
	case "mo", "month":
		return "month"
	case "yr", "year":
		return "year"
	case "seat", "user":
		return "seat"
	default:
		return "flat"
	}
}

func extractYears(text string) []fieldValue {
	var out []fieldValue
	for _, m := range yearRe.FindAllStringSubmatch(text, -1) {
		out = append(out, fieldValue{value: m[1], unit: "founded"})
	}
	return out
}

func extractWindows(text string) []fieldValue {
	var out []fieldValue
	for _, m := range windowRe.FindAllStringSubmatch(text, -1) {
		out = append(out, fieldValue{value: m[1] + " days", unit: "days"})
	}
	return out
}

package question

import (
	"regexp"
	"sort"
	"strings"

	"github.com/siteproof/siteproof/internal/extract"
)

// Signals is the site evidence the rule cascade consumes. Built once per run
// from the extracted pages; the generator never touches raw markup.
type Signals struct {
	Brand            string
	NavLabels        []string
	FAQHeadings      []string // interrogative headings found on FAQ-class pages
	HomepageClaims   []string
	PolicyPages      []PolicyPage
	BusinessModel    string
	BusinessModelCnf float64
}

// PolicyPage is a dedicated policy document discovered during the crawl.
type PolicyPage struct {
	URL  string
	Kind string // "privacy", "terms", "returns", "shipping", "warranty"
}

var policyKinds = map[string]string{
	"privacy":       "privacy",
	"terms":         "terms",
	"tos":           "terms",
	"returns":       "returns",
	"return-policy": "returns",
	"refund":        "returns",
	"refunds":       "returns",
	"shipping":      "shipping",
	"delivery":      "shipping",
	"warranty":      "warranty",
	"guarantee":     "warranty",
}

var claimPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bwe help\b[^.!?]{5,120}`),
	regexp.MustCompile(`(?i)\btrusted by\b[^.!?]{2,120}`),
	regexp.MustCompile(`(?i)\bused by\b[^.!?]{2,120}`),
	regexp.MustCompile(`(?i)\b(over|more than)\s+[\d,]+\+?\s+(customers|companies|teams|users|businesses)\b`),
}

// CollectSignals derives the generator's input from extracted documents,
// keyed by normalized page URL. Output slices are sorted for determinism.
func CollectSignals(brand, homeURL string, docs map[string]extract.Document) Signals {
	sig := Signals{Brand: brand}

	navSeen := make(map[string]struct{})
	faqSeen := make(map[string]struct{})
	for pageURL, doc := range docs {
		for _, label := range doc.NavLabels {
			if _, dup := navSeen[label]; dup {
				continue
			}
			navSeen[label] = struct{}{}
			sig.NavLabels = append(sig.NavLabels, label)
		}

		if kind := classifyPolicyURL(pageURL); kind != "" {
			sig.PolicyPages = append(sig.PolicyPages, PolicyPage{URL: pageURL, Kind: kind})
		}

		if isFAQPage(pageURL, doc.Title) {
			for _, seg := range doc.Segments {
				if seg.Type != extract.TypeHeading {
					continue
				}
				text := strings.TrimSpace(seg.Text)
				if !strings.HasSuffix(text, "?") {
					continue
				}
				if _, dup := faqSeen[text]; dup {
					continue
				}
				faqSeen[text] = struct{}{}
				sig.FAQHeadings = append(sig.FAQHeadings, text)
			}
		}
	}

	if home, ok := docs[homeURL]; ok {
		sig.HomepageClaims = extractClaims(home)
	}

	sort.Strings(sig.NavLabels)
	sort.Strings(sig.FAQHeadings)
	sort.Slice(sig.PolicyPages, func(i, j int) bool { return sig.PolicyPages[i].URL < sig.PolicyPages[j].URL })
	return sig
}

var modelMarkers = map[string][]string{
	"saas":      {"pricing", "plans", "docs", "documentation", "api", "integrations", "login", "sign in", "sign up", "free trial"},
	"ecommerce": {"shop", "cart", "checkout", "products", "shipping", "returns", "sale", "store"},
	"services":  {"services", "quote", "book", "appointment", "appointments", "locations", "consultation", "estimate"},
}

// ClassifyBusinessModel infers the site's model from navigation labels and
// homepage claims. Confidence is the winning model's share of all marker
// hits; zero hits yields an empty model. The caller may override both with
// an operator-supplied classification.
func ClassifyBusinessModel(sig Signals) (string, float64) {
	haystack := strings.ToLower(strings.Join(sig.NavLabels, " ") + " " + strings.Join(sig.HomepageClaims, " "))

	hits := make(map[string]int)
	total := 0
	for model, markers := range modelMarkers {
		for _, m := range markers {
			if strings.Contains(haystack, m) {
				hits[model]++
				total++
			}
		}
	}
	if total == 0 {
		return "", 0
	}

	models := make([]string, 0, len(hits))
	for m := range hits {
		models = append(models, m)
	}
	// Lexicographic tiebreak keeps classification stable across runs.
	sort.Strings(models)
	best := models[0]
	for _, m := range models[1:] {
		if hits[m] > hits[best] {
			best = m
		}
	}
	return best, float64(hits[best]) / float64(total)
}

func classifyPolicyURL(pageURL string) string {
	lower := strings.ToLower(pageURL)
	for _, seg := range strings.Split(lower, "/") {
		seg = strings.TrimSuffix(seg, ".html")
		if kind, ok := policyKinds[seg]; ok {
			return kind
		}
	}
	return ""
}

func isFAQPage(pageURL, title string) bool {
	lower := strings.ToLower(pageURL)
	if strings.Contains(lower, "faq") || strings.Contains(lower, "frequently-asked") {
		return true
	}
	titleLower := strings.ToLower(title)
	return strings.Contains(titleLower, "faq") || strings.Contains(titleLower, "frequently asked")
}

// extractClaims pattern-matches headline claims from homepage text segments.
func extractClaims(doc extract.Document) []string {
	seen := make(map[string]struct{})
	var claims []string
	for _, seg := range doc.Segments {
		if seg.Type != extract.TypeText && seg.Type != extract.TypeHeading {
			continue
		}
		for _, pat := range claimPatterns {
			for _, m := range pat.FindAllString(seg.Text, -1) {
				claim := strings.TrimSpace(m)
				if _, dup := seen[claim]; dup {
					continue
				}
				seen[claim] = struct{}{}
				claims = append(claims, claim)
			}
		}
	}
	sort.Strings(claims)
	return claims
}

package question

import (
	"sort"
	"strings"
)

// Candidate is one site-derived question proposed by a rule, before
// selection.
type Candidate struct {
	Text       string
	Rule       string  // generating rule id, e.g. "faq_heading", "nav_pricing"
	Source     string  // selection class: "faq", "policy", "nav", "claim"
	Confidence float64 // in [0,1]
	ClaimText  string  // original claim, set only by the claim rule
}

// Rule proposes zero or more candidates from site signals. Rules are
// independent and side-effect free so each can be tested in isolation; a
// separate selector merges their output.
type Rule interface {
	Name() string
	Evaluate(sig Signals) []Candidate
}

// DefaultRules returns the cascade in evaluation order.
func DefaultRules() []Rule {
	return []Rule{faqRule{}, navRule{}, claimRule{}, policyRule{}}
}

// faqRule emits FAQ headings that are already interrogative, verbatim.
// These are the strongest signal: the site itself declares the question.
type faqRule struct{}

func (faqRule) Name() string { return "faq_heading" }

func (faqRule) Evaluate(sig Signals) []Candidate {
	candidates := make([]Candidate, 0, len(sig.FAQHeadings))
	for _, heading := range sig.FAQHeadings {
		candidates = append(candidates, Candidate{
			Text:       heading,
			Rule:       "faq_heading",
			Source:     "faq",
			Confidence: 0.95,
		})
	}
	return candidates
}

// navTemplate maps a canonical nav-label keyword to a question template.
type navTemplate struct {
	keyword    string
	rule       string
	template   string
	confidence float64
}

var navTemplates = []navTemplate{
	{"pricing", "nav_pricing", "How much does [BRAND] cost?", 0.90},
	{"plans", "nav_pricing", "How much does [BRAND] cost?", 0.90},
	{"services", "nav_services", "What services does [BRAND] offer?", 0.90},
	{"shipping", "nav_shipping", "What is [BRAND]'s shipping policy?", 0.90},
	{"returns", "nav_returns", "What is [BRAND]'s return policy?", 0.90},
	{"locations", "nav_locations", "Where is [BRAND] located?", 0.80},
	{"about", "nav_about", "Who is behind [BRAND]?", 0.75},
	{"contact", "nav_contact", "How can I contact [BRAND]?", 0.75},
	{"industries", "nav_industries", "What industries does [BRAND] serve?", 0.80},
	{"docs", "nav_docs", "Where is [BRAND]'s documentation?", 0.75},
	{"documentation", "nav_docs", "Where is [BRAND]'s documentation?", 0.75},
	{"integrations", "nav_integrations", "What does [BRAND] integrate with?", 0.80},
	{"security", "nav_security", "How does [BRAND] handle security?", 0.80},
}

// navRule maps canonical navigation labels to question templates.
type navRule struct{}

func (navRule) Name() string { return "nav_label" }

func (navRule) Evaluate(sig Signals) []Candidate {
	emitted := make(map[string]struct{})
	var candidates []Candidate
	for _, label := range sig.NavLabels {
		lower := strings.ToLower(label)
		for _, nt := range navTemplates {
			if !strings.Contains(lower, nt.keyword) {
				continue
			}
			if _, dup := emitted[nt.rule]; dup {
				continue
			}
			emitted[nt.rule] = struct{}{}
			candidates = append(candidates, Candidate{
				Text:       Substitute(nt.template, sig.Brand),
				Rule:       nt.rule,
				Source:     "nav",
				Confidence: nt.confidence,
			})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Text < candidates[j].Text })
	return candidates
}

// claimRule rephrases pattern-matched homepage claims as questions. Its
// candidates are provisional: the generator keeps one only when a
// pre-retrieval check finds a chunk carrying the claim's keywords.
type claimRule struct{}

func (claimRule) Name() string { return "homepage_claim" }

func (claimRule) Evaluate(sig Signals) []Candidate {
	var candidates []Candidate
	for _, claim := range sig.HomepageClaims {
		text := claimToQuestion(claim, sig.Brand)
		if text == "" {
			continue
		}
		candidates = append(candidates, Candidate{
			Text:       text,
			Rule:       "homepage_claim",
			Source:     "claim",
			Confidence: 0.60,
			ClaimText:  claim,
		})
	}
	return candidates
}

func claimToQuestion(claim, brand string) string {
	lower := strings.ToLower(claim)
	switch {
	case strings.HasPrefix(lower, "we help"):
		rest := strings.TrimSpace(claim[len("we help"):])
		if rest == "" {
			return ""
		}
		return "How does " + brand + " help " + strings.TrimRight(rest, ".!? ") + "?"
	case strings.HasPrefix(lower, "trusted by"), strings.HasPrefix(lower, "used by"):
		return "Who uses " + brand + "?"
	default:
		return "Is it true that " + strings.TrimRight(claim, ".!? ") + "?"
	}
}

var policyQuestions = map[string]string{
	"privacy":  "How does [BRAND] handle personal data?",
	"terms":    "What are [BRAND]'s terms of service?",
	"returns":  "What is [BRAND]'s return policy?",
	"shipping": "What is [BRAND]'s shipping policy?",
	"warranty": "What warranty does [BRAND] offer?",
}

// policyRule emits one question per dedicated policy page kind.
type policyRule struct{}

func (policyRule) Name() string { return "policy_page" }

func (policyRule) Evaluate(sig Signals) []Candidate {
	emitted := make(map[string]struct{})
	var candidates []Candidate
	for _, pp := range sig.PolicyPages {
		template, ok := policyQuestions[pp.Kind]
		if !ok {
			continue
		}
		if _, dup := emitted[pp.Kind]; dup {
			continue
		}
		emitted[pp.Kind] = struct{}{}
		candidates = append(candidates, Candidate{
			Text:       Substitute(template, sig.Brand),
			Rule:       "policy_" + pp.Kind,
			Source:     "policy",
			Confidence: 0.85,
		})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Text < candidates[j].Text })
	return candidates
}

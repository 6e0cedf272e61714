package scoring

import (
	"strings"

	"github.com/siteproof/siteproof/internal/index"
	"github.com/siteproof/siteproof/internal/storage"
)

// Reason codes for failed questions. Fixed vocabulary; the report and fix
// estimator key off these.
const (
	ReasonMissingDefinition   = "missing_definition"
	ReasonMissingPricing      = "missing_pricing"
	ReasonBuriedAnswer        = "buried_answer"
	ReasonNotCitable          = "not_citable"
	ReasonTrustGap            = "trust_gap"
	ReasonConflict            = "conflict"
	ReasonInsufficientContext = "insufficient_context"
)

// grade outcome thresholds.
const (
	minTermCoverage  = 0.5  // fraction of question terms the evidence must carry
	buriedPosition   = 0.85 // matching content this deep in its page is buried
	minCitableWords  = 15   // a match shorter than this cannot be quoted
	passBaseConf     = 0.7
	failWeakEvidence = 0.8
)

var pricingMarkers = []string{"cost", "price", "pricing", "much", "plan", "subscription"}
var trustMarkers = []string{"legitimate", "trustworthy", "trust", "reviews", "say about", "in business"}
var definitionMarkers = []string{"what does", "what is", "who is"}

// Grade decides pass/fail for one question from its admitted evidence.
// Pure function of its inputs, so re-grading an unchanged simulation
// snapshot reproduces results exactly.
func Grade(q storage.Question, admitted []storage.Chunk, conflicts []Conflict) (passed bool, reason string, confidence float64) {
	if len(admitted) == 0 {
		return false, ReasonInsufficientContext, 0.90
	}

	qLower := strings.ToLower(q.Text)
	pricing := containsAny(qLower, pricingMarkers)

	// A verified conflict on the question's subject fails it outright.
	if pricing && hasField(conflicts, "price") {
		return false, ReasonConflict, 0.85
	}

	terms := index.Tokenize(q.Text)
	best, bestCoverage := bestMatch(terms, admitted)

	if bestCoverage < minTermCoverage {
		switch {
		case pricing:
			return false, ReasonMissingPricing, failWeakEvidence
		case containsAny(qLower, definitionMarkers):
			return false, ReasonMissingDefinition, failWeakEvidence
		case containsAny(qLower, trustMarkers):
			return false, ReasonTrustGap, failWeakEvidence
		default:
			return false, ReasonInsufficientContext, failWeakEvidence
		}
	}

	if len(strings.Fields(best.Text)) < minCitableWords || best.StructType == "heading" {
		return false, ReasonNotCitable, 0.70
	}
	if best.PositionRatio >= buriedPosition {
		return false, ReasonBuriedAnswer, 0.60
	}

	conf := passBaseConf + 0.3*bestCoverage
	if conf > 1 {
		conf = 1
	}
	return true, "", conf
}

// bestMatch returns the admitted chunk with the highest question-term
// coverage. Ties keep the earlier (higher-ranked) chunk.
func bestMatch(terms []string, admitted []storage.Chunk) (storage.Chunk, float64) {
	if len(terms) == 0 {
		return admitted[0], 0
	}
	var best storage.Chunk
	var bestCoverage float64 = -1
	for _, ch := range admitted {
		text := strings.ToLower(ch.Text)
		hits := 0
		for _, t := range terms {
			if strings.Contains(text, t) {
				hits++
			}
		}
		coverage := float64(hits) / float64(len(terms))
		if coverage > bestCoverage {
			best = ch
			bestCoverage = coverage
		}
	}
	return best, bestCoverage
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func hasField(conflicts []Conflict, field string) bool {
	for _, c := range conflicts {
		if c.Field == field {
			return true
		}
	}
	return false
}

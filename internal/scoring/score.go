package scoring

import (
	"encoding/json"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/siteproof/siteproof/internal/index"
	"github.com/siteproof/siteproof/internal/storage"
)

// Category weights, fixed and summing to 1. Coverage dominates; the rest
// measure how usable the covered content is.
var categoryWeights = []struct {
	Name   string
	Weight float64
}{
	{"coverage", 0.40},
	{"extractability", 0.15},
	{"citability", 0.15},
	{"trust", 0.10},
	{"conflicts", 0.10},
	{"redundancy", 0.10},
}

// CategoryScore is one rollup with its contribution to the overall score,
// exposed so the computation is auditable.
type CategoryScore struct {
	Name         string  `json:"name"`
	Score        float64 `json:"score"`  // 0-100
	Weight       float64 `json:"weight"` // fixed
	Contribution float64 `json:"contribution"`
}

// Aggregate rolls a band result up into the weighted overall score.
// nearDupSimilarity is the Jaccard threshold for grouping near-duplicate
// evidence in the redundancy category; non-positive falls back to 0.85.
// Pure function of its inputs, so re-aggregating an unchanged simulation
// yields a byte-identical Score row.
func Aggregate(r BandResult, nearDupSimilarity float64) (float64, []CategoryScore) {
	total := len(r.Results)
	if total == 0 {
		return 0, nil
	}

	reasonCount := make(map[string]int)
	passed := 0
	var admitted []storage.Chunk
	for _, g := range r.Results {
		if g.Passed {
			passed++
		} else {
			reasonCount[g.ReasonCode]++
		}
		admitted = append(admitted, g.Admitted...)
	}

	frac := func(n int) float64 { return float64(n) / float64(total) }

	coverage := frac(passed)
	extractability := 1 - frac(reasonCount[ReasonBuriedAnswer]+reasonCount[ReasonInsufficientContext])
	citability := 1 - frac(reasonCount[ReasonNotCitable])
	trust := 1 - frac(reasonCount[ReasonTrustGap])
	conflicts := 1 - math.Min(1, 0.2*float64(len(r.Conflicts)))
	redundancy := 1.0
	if len(admitted) > 0 {
		redundancy = float64(countDistinct(admitted, nearDupSimilarity)) / float64(len(admitted))
	}

	raw := []float64{coverage, extractability, citability, trust, conflicts, redundancy}
	categories := make([]CategoryScore, len(categoryWeights))
	var overall float64
	for i, cw := range categoryWeights {
		score := roundHalfUp(raw[i]*100, 2)
		contribution := roundHalfUp(score*cw.Weight, 2)
		categories[i] = CategoryScore{
			Name:         cw.Name,
			Score:        score,
			Weight:       cw.Weight,
			Contribution: contribution,
		}
		overall += contribution
	}
	return roundHalfUp(overall, 2), categories
}

// countDistinct groups admitted chunks into duplicate groups and returns the
// group count. Exact duplicates match on content hash; chunks whose token-set
// Jaccard against an earlier group representative meets the threshold join
// that group.
func countDistinct(admitted []storage.Chunk, nearDupSimilarity float64) int {
	if nearDupSimilarity <= 0 {
		nearDupSimilarity = 0.85
	}
	grouped := make(map[string]struct{}, len(admitted))
	var repSets []map[string]struct{}
	for _, ch := range admitted {
		if _, dup := grouped[ch.ContentHash]; dup {
			continue
		}
		grouped[ch.ContentHash] = struct{}{}
		set := index.TokenSet(index.Tokenize(ch.Text))
		joined := false
		for _, rep := range repSets {
			if index.Jaccard(set, rep) >= nearDupSimilarity {
				joined = true
				break
			}
		}
		if !joined {
			repSets = append(repSets, set)
		}
	}
	return len(repSets)
}

// roundHalfUp rounds to the given number of decimals, halves away from
// zero, so repeated aggregation never drifts.
func roundHalfUp(x float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))
	return math.Floor(x*pow+0.5) / pow
}

// ToScore converts an aggregate into its storage row.
func ToScore(simID string, overall float64, categories []CategoryScore) (storage.Score, error) {
	catJSON, err := json.Marshal(categories)
	if err != nil {
		return storage.Score{}, err
	}
	return storage.Score{
		ID:         uuid.New().String(),
		SimID:      simID,
		Overall:    overall,
		Categories: string(catJSON),
		CreatedAt:  time.Now().UTC(),
	}, nil
}

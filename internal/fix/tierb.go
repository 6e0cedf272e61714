package fix

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/siteproof/siteproof/internal/chunk"
	"github.com/siteproof/siteproof/internal/index"
	"github.com/siteproof/siteproof/internal/retrieval"
	"github.com/siteproof/siteproof/internal/scoring"
	"github.com/siteproof/siteproof/internal/storage"
)

// Baseline is the prior simulation the estimate is measured against.
type Baseline struct {
	RunID     string
	Questions []storage.Question         // full question set
	Results   map[string]map[string]bool // band -> question id -> passed
	Overalls  map[string]float64         // band -> overall score
}

// TierBEstimator patches the fix scaffold into a transient overlay of the
// index and re-scores only the questions the fix plausibly affects. The
// persisted index is never touched, so concurrent estimates for different
// fixes cannot interfere.
type TierBEstimator struct {
	retriever scoring.Retriever
	baseline  Baseline
	cfg       scoring.Config
	log       *slog.Logger
}

func NewTierB(retriever scoring.Retriever, baseline Baseline, cfg scoring.Config, log *slog.Logger) *TierBEstimator {
	return &TierBEstimator{retriever: retriever, baseline: baseline, cfg: cfg, log: log}
}

// coverageWeightPoints converts a pass-count delta into overall-score
// points: the coverage category carries weight 0.40 on a 0-100 scale.
const coverageWeightPoints = 40.0

func (t *TierBEstimator) Estimate(ctx context.Context, f storage.Fix, bands []scoring.Band) (Estimate, error) {
	affected, err := t.affectedQuestions(f)
	if err != nil {
		return Estimate{}, err
	}
	if len(affected) == 0 {
		return Estimate{}, fmt.Errorf("fix %s targets no questions; nothing to re-score", f.ID)
	}

	patched := &patchedRetriever{
		base: t.retriever,
		patch: storage.Chunk{
			ID:          "patch:" + f.ID,
			PageID:      "patch:" + f.TargetURL,
			Text:        f.Scaffold,
			TokenCount:  chunk.TokenCount(f.Scaffold),
			StructType:  "text",
			ContentHash: chunk.HashText(f.Scaffold),
		},
	}
	engine := scoring.NewEngine(patched, t.cfg, t.log)

	est := Estimate{Tier: TierB}
	first := true
	for _, band := range bands {
		br, err := engine.Simulate(ctx, t.baseline.RunID, affected, band)
		if err != nil {
			return Estimate{}, fmt.Errorf("re-scoring band %s: %w", band.Name, err)
		}
		est.RescoredCount += len(br.Results)

		oldPassed, newPassed := 0, 0
		baselineBand := t.baseline.Results[band.Name]
		for _, g := range br.Results {
			if baselineBand[g.Question.ID] {
				oldPassed++
			}
			if g.Passed {
				newPassed++
			}
		}
		lift := float64(newPassed-oldPassed) / float64(len(t.baseline.Questions)) * coverageWeightPoints
		newScore := clampScore(t.baseline.Overalls[band.Name] + lift)

		if first {
			est.LiftMin, est.LiftMax = lift, lift
			est.NewScoreMin, est.NewScoreMax = newScore, newScore
			first = false
			continue
		}
		if lift < est.LiftMin {
			est.LiftMin = lift
		}
		if lift > est.LiftMax {
			est.LiftMax = lift
		}
		if newScore < est.NewScoreMin {
			est.NewScoreMin = newScore
		}
		if newScore > est.NewScoreMax {
			est.NewScoreMax = newScore
		}
	}

	est.AffectedQuestionIDs = make([]string, len(affected))
	for i, q := range affected {
		est.AffectedQuestionIDs[i] = q.ID
	}
	return est, nil
}

// affectedQuestions targets the subset a fix can influence: questions the
// fix explicitly lists, plus questions whose terms overlap the scaffold.
// Targeting is mandatory; this never returns the full set unless every
// question genuinely overlaps.
func (t *TierBEstimator) affectedQuestions(f storage.Fix) ([]storage.Question, error) {
	listed := make(map[string]struct{})
	if f.QuestionIDs != "" {
		var ids []string
		if err := json.Unmarshal([]byte(f.QuestionIDs), &ids); err != nil {
			return nil, fmt.Errorf("parsing fix question ids: %w", err)
		}
		for _, id := range ids {
			listed[id] = struct{}{}
		}
	}

	scaffoldTerms := make(map[string]struct{})
	for _, term := range index.Tokenize(f.Scaffold) {
		scaffoldTerms[term] = struct{}{}
	}

	var affected []storage.Question
	for _, q := range t.baseline.Questions {
		if _, ok := listed[q.ID]; ok {
			affected = append(affected, q)
			continue
		}
		overlap := 0
		for _, term := range index.Tokenize(q.Text) {
			if _, ok := scaffoldTerms[term]; ok {
				overlap++
			}
		}
		if overlap >= 2 {
			affected = append(affected, q)
		}
	}
	sort.Slice(affected, func(i, j int) bool { return affected[i].Ordinal < affected[j].Ordinal })
	return affected, nil
}

// patchedRetriever overlays the scaffold chunk at the top of every ranking.
// It holds no shared state beyond the read-only base retriever.
type patchedRetriever struct {
	base  scoring.Retriever
	patch storage.Chunk
}

func (p *patchedRetriever) Retrieve(ctx context.Context, runID, query string) ([]retrieval.Result, error) {
	results, err := p.base.Retrieve(ctx, runID, query)
	if err != nil {
		return nil, err
	}
	topScore := 1.0
	if len(results) > 0 {
		topScore = results[0].Score + 1
	}
	out := make([]retrieval.Result, 0, len(results)+1)
	out = append(out, retrieval.Result{Chunk: p.patch, Score: topScore})
	out = append(out, results...)
	return out, nil
}

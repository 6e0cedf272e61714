package pipeline

import (
	"context"
	"fmt"
	"sort"

	"github.com/siteproof/siteproof/internal/fix"
	"github.com/siteproof/siteproof/internal/scoring"
	"github.com/siteproof/siteproof/internal/storage"
)

// EstimateFix runs one estimation tier for a persisted fix against the
// site's latest completed run and stores the result. Tier A triggers a full
// re-crawl and is only ever reached through an explicit tier argument.
func (p *Pipeline) EstimateFix(ctx context.Context, fixID, tier string) (storage.FixEstimate, error) {
	f, err := p.store.GetFix(fixID)
	if err != nil {
		return storage.FixEstimate{}, fmt.Errorf("loading fix %s: %w", fixID, err)
	}
	runID, err := p.latestCompletedRun(f.SiteID)
	if err != nil {
		return storage.FixEstimate{}, err
	}
	baseline, err := p.loadBaseline(runID)
	if err != nil {
		return storage.FixEstimate{}, err
	}

	estimators := fix.Estimators{
		C: fix.NewTierC(baseline.Overalls["typical"]),
		B: fix.NewTierB(p.retriever, baseline, scoring.Config{TopK: p.cfg.Retrieval.TopK}, p.log),
		A: fix.NewTierA(p),
	}
	estimator, err := estimators.ForTier(tier)
	if err != nil {
		return storage.FixEstimate{}, err
	}

	est, err := estimator.Estimate(ctx, f, p.bands())
	if err != nil {
		return storage.FixEstimate{}, fmt.Errorf("estimating fix %s at tier %s: %w", fixID, tier, err)
	}
	record, err := fix.ToFixEstimate(f.ID, est)
	if err != nil {
		return storage.FixEstimate{}, fmt.Errorf("encoding estimate: %w", err)
	}
	if err := p.store.SaveFixEstimate(record); err != nil {
		return storage.FixEstimate{}, fmt.Errorf("saving estimate: %w", err)
	}
	return record, nil
}

// RecrawlAndScore is the tier A path: a complete fresh analysis run for the
// fix's site, with the lift measured against the prior typical-band score.
func (p *Pipeline) RecrawlAndScore(ctx context.Context, f storage.Fix, bands []scoring.Band) (fix.Estimate, error) {
	priorRun, err := p.latestCompletedRun(f.SiteID)
	if err != nil {
		return fix.Estimate{}, err
	}
	baseline, err := p.loadBaseline(priorRun)
	if err != nil {
		return fix.Estimate{}, err
	}

	summary, err := p.RunAnalysis(ctx, f.SiteID, nil)
	if err != nil {
		return fix.Estimate{}, fmt.Errorf("tier A re-run for fix %s: %w", f.ID, err)
	}

	newTypical := summary.Overalls["typical"]
	lift := newTypical - baseline.Overalls["typical"]

	scoreMin, scoreMax := newTypical, newTypical
	for _, overall := range summary.Overalls {
		if overall < scoreMin {
			scoreMin = overall
		}
		if overall > scoreMax {
			scoreMax = overall
		}
	}

	set, err := p.store.LatestQuestionSet(summary.RunID)
	if err != nil {
		return fix.Estimate{}, fmt.Errorf("loading question set: %w", err)
	}
	questions, err := p.store.ListQuestions(set.ID)
	if err != nil {
		return fix.Estimate{}, fmt.Errorf("loading questions: %w", err)
	}
	affected := make([]string, len(questions))
	for i, q := range questions {
		affected[i] = q.ID
	}

	return fix.Estimate{
		Tier:                fix.TierA,
		LiftMin:             lift,
		LiftMax:             lift,
		NewScoreMin:         scoreMin,
		NewScoreMax:         scoreMax,
		AffectedQuestionIDs: affected,
		RescoredCount:       len(questions) * len(bands),
	}, nil
}

// loadBaseline reconstructs the prior simulation state tier B and C measure
// against: per-band pass maps and overall scores for the latest simulation
// of each band.
func (p *Pipeline) loadBaseline(runID string) (fix.Baseline, error) {
	set, err := p.store.LatestQuestionSet(runID)
	if err != nil {
		return fix.Baseline{}, fmt.Errorf("loading question set for run %s: %w", runID, err)
	}
	questions, err := p.store.ListQuestions(set.ID)
	if err != nil {
		return fix.Baseline{}, fmt.Errorf("loading questions: %w", err)
	}
	sims, err := p.store.ListSimulationRuns(runID)
	if err != nil {
		return fix.Baseline{}, fmt.Errorf("loading simulations for run %s: %w", runID, err)
	}
	if len(sims) == 0 {
		return fix.Baseline{}, fmt.Errorf("run %s has no scored simulations", runID)
	}

	// Latest simulation per band wins; earlier rows are superseded history.
	latest := make(map[string]storage.SimulationRun)
	for _, sim := range sims {
		if prev, ok := latest[sim.Band]; !ok || sim.CreatedAt.After(prev.CreatedAt) {
			latest[sim.Band] = sim
		}
	}

	baseline := fix.Baseline{
		RunID:     runID,
		Questions: questions,
		Results:   make(map[string]map[string]bool),
		Overalls:  make(map[string]float64),
	}
	for band, sim := range latest {
		rows, err := p.store.ListQuestionResults(sim.ID)
		if err != nil {
			return fix.Baseline{}, fmt.Errorf("loading %s band results: %w", band, err)
		}
		passed := make(map[string]bool, len(rows))
		for _, row := range rows {
			passed[row.QuestionID] = row.Passed
		}
		baseline.Results[band] = passed

		score, err := p.store.GetScoreBySim(sim.ID)
		if err != nil {
			return fix.Baseline{}, fmt.Errorf("loading %s band score: %w", band, err)
		}
		baseline.Overalls[band] = score.Overall
	}
	return baseline, nil
}

func (p *Pipeline) latestCompletedRun(siteID string) (string, error) {
	runs, err := p.store.ListRuns(siteID)
	if err != nil {
		return "", fmt.Errorf("loading runs for site %s: %w", siteID, err)
	}
	var completed []storage.Run
	for _, r := range runs {
		if r.Status == "completed" {
			completed = append(completed, r)
		}
	}
	if len(completed) == 0 {
		return "", fmt.Errorf("site %s has no completed runs", siteID)
	}
	sort.Slice(completed, func(i, j int) bool {
		return completed[i].CreatedAt.After(completed[j].CreatedAt)
	})
	return completed[0].ID, nil
}

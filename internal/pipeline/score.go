package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/siteproof/siteproof/internal/scoring"
	"github.com/siteproof/siteproof/internal/storage"
)

// bands returns the configured budget bands in ascending budget order.
func (p *Pipeline) bands() []scoring.Band {
	defaults := scoring.DefaultBands()
	if len(p.cfg.Scoring.BandBudgets) == 0 {
		return defaults
	}
	bands := make([]scoring.Band, 0, len(defaults))
	for _, b := range defaults {
		if budget, ok := p.cfg.Scoring.BandBudgets[b.Name]; ok && budget > 0 {
			b.TokenBudget = budget
		}
		bands = append(bands, b)
	}
	return bands
}

func (p *Pipeline) newEngine() *scoring.Engine {
	return scoring.NewEngine(p.retriever, scoring.Config{
		TopK:                p.cfg.Retrieval.TopK,
		DivergenceThreshold: p.cfg.Scoring.DivergenceThreshold,
	}, p.log)
}

// scoreSet simulates every band over one question set and persists the
// simulation rows and aggregate scores. Returns band name -> overall.
func (p *Pipeline) scoreSet(ctx context.Context, runID, setID string, questions []storage.Question) (map[string]float64, error) {
	engine := p.newEngine()
	overalls := make(map[string]float64)

	for _, band := range p.bands() {
		result, err := engine.Simulate(ctx, runID, questions, band)
		if err != nil {
			return nil, fmt.Errorf("simulating %s band: %w", band.Name, err)
		}
		sim, rows, err := result.ToSimulationRun(setID, runID)
		if err != nil {
			return nil, fmt.Errorf("encoding %s simulation: %w", band.Name, err)
		}
		if err := p.store.SaveSimulationRun(sim, rows); err != nil {
			return nil, fmt.Errorf("saving %s simulation: %w", band.Name, err)
		}

		overall, categories := scoring.Aggregate(result, p.cfg.Scoring.NearDupSimilarity)
		score, err := scoring.ToScore(sim.ID, overall, categories)
		if err != nil {
			return nil, fmt.Errorf("encoding %s score: %w", band.Name, err)
		}
		if err := p.store.SaveScore(score); err != nil {
			return nil, fmt.Errorf("saving %s score: %w", band.Name, err)
		}
		overalls[band.Name] = overall
	}
	return overalls, nil
}

// ScoreRun re-scores a completed run's latest question set against its
// persisted index. No re-crawl happens; the simulation reads the stored
// chunks and postings as-is.
func (p *Pipeline) ScoreRun(ctx context.Context, runID string) (map[string]float64, error) {
	if _, err := p.store.GetRun(runID); err != nil {
		return nil, fmt.Errorf("loading run %s: %w", runID, err)
	}
	set, err := p.store.LatestQuestionSet(runID)
	if err != nil {
		return nil, fmt.Errorf("loading question set for run %s: %w", runID, err)
	}
	questions, err := p.store.ListQuestions(set.ID)
	if err != nil {
		return nil, fmt.Errorf("loading questions: %w", err)
	}
	return p.scoreSet(ctx, runID, set.ID, questions)
}

// Report assembles the full analysis report for a run. Band simulations are
// recomputed in memory from the persisted index, which is deterministic, so
// the report always reflects the latest question-set version. Observed
// outcomes attach a divergence section when present.
func (p *Pipeline) Report(ctx context.Context, runID string) (scoring.Report, error) {
	run, err := p.store.GetRun(runID)
	if err != nil {
		return scoring.Report{}, fmt.Errorf("loading run %s: %w", runID, err)
	}
	set, err := p.store.LatestQuestionSet(runID)
	if err != nil {
		return scoring.Report{}, fmt.Errorf("loading question set for run %s: %w", runID, err)
	}
	questions, err := p.store.ListQuestions(set.ID)
	if err != nil {
		return scoring.Report{}, fmt.Errorf("loading questions: %w", err)
	}

	engine := p.newEngine()
	var (
		bandResults []scoring.BandResult
		overalls    []float64
		categories  [][]scoring.CategoryScore
		typical     scoring.BandResult
	)
	for _, band := range p.bands() {
		result, err := engine.Simulate(ctx, runID, questions, band)
		if err != nil {
			return scoring.Report{}, fmt.Errorf("simulating %s band: %w", band.Name, err)
		}
		overall, cats := scoring.Aggregate(result, p.cfg.Scoring.NearDupSimilarity)
		bandResults = append(bandResults, result)
		overalls = append(overalls, overall)
		categories = append(categories, cats)
		if band.Name == "typical" {
			typical = result
		}
	}

	var limitations []string
	if run.Limitations != "" {
		if err := json.Unmarshal([]byte(run.Limitations), &limitations); err != nil {
			return scoring.Report{}, fmt.Errorf("decoding run limitations: %w", err)
		}
	}

	report := scoring.BuildReport(run.SiteID, runID, bandResults, overalls, categories, limitations)

	outcome, err := p.store.GetObservedOutcome(runID)
	switch {
	case err == nil:
		perQuestion := make(map[string]bool)
		if outcome.PerQuestion != "" {
			if err := json.Unmarshal([]byte(outcome.PerQuestion), &perQuestion); err != nil {
				return scoring.Report{}, fmt.Errorf("decoding observed outcomes: %w", err)
			}
		}
		scoring.AttachDivergence(&report, typical, scoring.Observed{
			MentionRate: outcome.MentionRate,
			PerQuestion: perQuestion,
		}, scoring.DivergencePolicy{
			Threshold:      p.cfg.Scoring.DivergenceThreshold,
			PreferObserved: p.cfg.Scoring.PreferObserved,
		})
	case errors.Is(err, storage.ErrNotFound):
		// No observation data yet; the report stands on simulation alone.
	default:
		return scoring.Report{}, fmt.Errorf("loading observed outcome: %w", err)
	}

	return report, nil
}

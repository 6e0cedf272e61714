package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/siteproof/siteproof/internal/crawl"
	"github.com/siteproof/siteproof/internal/extract"
	"github.com/siteproof/siteproof/internal/index"
	"github.com/siteproof/siteproof/internal/question"
	"github.com/siteproof/siteproof/internal/storage"
)

// lexicalEvidence verifies claim candidates against the run's lexical index.
// A claim with zero matching chunks never becomes a question.
type lexicalEvidence struct {
	lexical *index.Lexical
}

func (e lexicalEvidence) HasEvidence(ctx context.Context, runID, text string) (bool, error) {
	scored, err := e.lexical.Search(ctx, runID, text, 3)
	if err != nil {
		return false, err
	}
	return len(scored) > 0 && scored[0].Score > 0, nil
}

// generateQuestions builds and persists one question-set version from the
// extracted documents. docs is keyed by normalized page URL.
func (p *Pipeline) generateQuestions(ctx context.Context, site storage.Site, runID, rootURL string, docs map[string]extract.Document, custom []string, version int) (storage.QuestionSet, []storage.Question, []string, error) {
	sig := question.CollectSignals(brandFromDomain(site.RootDomain), p.normalizedRoot(rootURL, site.FoldHostVariants), docs)
	if site.BusinessModel != "" {
		// Operator override beats the heuristic unconditionally.
		sig.BusinessModel = site.BusinessModel
		sig.BusinessModelCnf = 1.0
		if site.BusinessModelCnf > 0 {
			sig.BusinessModelCnf = site.BusinessModelCnf
		}
	} else {
		sig.BusinessModel, sig.BusinessModelCnf = question.ClassifyBusinessModel(sig)
	}

	gen := question.NewGenerator(question.DefaultRules(), lexicalEvidence{p.indexer.Lexical()}, question.Config{
		CustomCap:         p.cfg.Question.CustomCap,
		AdaptiveThreshold: p.cfg.Question.AdaptiveThreshold,
	})
	gs, err := gen.Generate(ctx, runID, sig, custom)
	if err != nil {
		return storage.QuestionSet{}, nil, nil, fmt.Errorf("generating questions: %w", err)
	}

	set := storage.QuestionSet{
		ID:        uuid.NewString(),
		SiteID:    site.ID,
		RunID:     runID,
		Version:   version,
		CreatedAt: time.Now().UTC(),
	}
	for i := range gs.Questions {
		gs.Questions[i].SetID = set.ID
	}
	if err := p.store.SaveQuestionSet(set, gs.Questions); err != nil {
		return storage.QuestionSet{}, nil, nil, fmt.Errorf("saving question set: %w", err)
	}
	return set, gs.Questions, gs.Omissions, nil
}

// AddCustomQuestions creates a new question-set version for a completed run:
// the prior set's generated questions carried over unchanged, the custom
// tail replaced. Prior versions stay immutable.
func (p *Pipeline) AddCustomQuestions(ctx context.Context, runID string, custom []string) (storage.QuestionSet, []storage.Question, error) {
	run, err := p.store.GetRun(runID)
	if err != nil {
		return storage.QuestionSet{}, nil, fmt.Errorf("loading run %s: %w", runID, err)
	}
	prev, err := p.store.LatestQuestionSet(runID)
	if err != nil {
		return storage.QuestionSet{}, nil, fmt.Errorf("loading question set for run %s: %w", runID, err)
	}
	prevQuestions, err := p.store.ListQuestions(prev.ID)
	if err != nil {
		return storage.QuestionSet{}, nil, fmt.Errorf("loading questions: %w", err)
	}

	set := storage.QuestionSet{
		ID:        uuid.NewString(),
		SiteID:    run.SiteID,
		RunID:     runID,
		Version:   prev.Version + 1,
		CreatedAt: time.Now().UTC(),
	}

	var questions []storage.Question
	ordinal := 0
	for _, q := range prevQuestions {
		if q.Category == question.CategoryCustom {
			continue
		}
		q.ID = uuid.NewString()
		q.SetID = set.ID
		q.Ordinal = ordinal
		ordinal++
		questions = append(questions, q)
	}
	if limit := p.cfg.Question.CustomCap; limit > 0 && len(custom) > limit {
		custom = custom[:limit]
	}
	for _, text := range custom {
		questions = append(questions, storage.Question{
			ID:         uuid.NewString(),
			SetID:      set.ID,
			Category:   question.CategoryCustom,
			Rule:       "custom",
			Text:       text,
			Confidence: 1.0,
			Ordinal:    ordinal,
		})
		ordinal++
	}

	if err := p.store.SaveQuestionSet(set, questions); err != nil {
		return storage.QuestionSet{}, nil, fmt.Errorf("saving question set: %w", err)
	}
	return set, questions, nil
}

func (p *Pipeline) normalizedRoot(rootURL string, fold bool) string {
	base, err := url.Parse(rootURL)
	if err != nil {
		return rootURL
	}
	normalized, err := crawl.Normalize(rootURL, base, fold)
	if err != nil {
		return rootURL
	}
	return normalized
}

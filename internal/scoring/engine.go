package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/siteproof/siteproof/internal/retrieval"
	"github.com/siteproof/siteproof/internal/storage"
)

// Band is a named context-token budget. The same question set is scored
// under every band so the result is a range, not a single number.
type Band struct {
	Name        string
	TokenBudget int
}

// DefaultBands returns the three robustness bands.
func DefaultBands() []Band {
	return []Band{
		{Name: "conservative", TokenBudget: 3000},
		{Name: "typical", TokenBudget: 6000},
		{Name: "generous", TokenBudget: 12000},
	}
}

// Retriever is the read-only query surface the engine scores against.
type Retriever interface {
	Retrieve(ctx context.Context, runID, query string) ([]retrieval.Result, error)
}

// Config bounds a simulation pass.
type Config struct {
	TopK                int     // chunks retrieved per question, default 8
	EvidenceExcerptLen  int     // report excerpt length in runes, default 280
	DivergenceThreshold float64 // simulated-vs-observed gap, default 0.25
}

func (c Config) withDefaults() Config {
	if c.TopK <= 0 {
		c.TopK = 8
	}
	if c.EvidenceExcerptLen <= 0 {
		c.EvidenceExcerptLen = 280
	}
	if c.DivergenceThreshold <= 0 {
		c.DivergenceThreshold = 0.25
	}
	return c
}

// GradedQuestion is one question's outcome under one band.
type GradedQuestion struct {
	Question   storage.Question
	Passed     bool
	ReasonCode string
	Confidence float64
	Admitted   []storage.Chunk
	DroppedIDs []string // retrieved but over budget, rank order
	Evidence   string   // excerpt of the admitted context
}

// BandResult is the full trace of one band's simulation.
type BandResult struct {
	Band        Band
	Results     []GradedQuestion
	Conflicts   []Conflict
	NeedsReview []string
}

// Engine runs constrained-context simulations and aggregates scores.
type Engine struct {
	retriever Retriever
	cfg       Config
	log       *slog.Logger
}

func NewEngine(retriever Retriever, cfg Config, log *slog.Logger) *Engine {
	return &Engine{retriever: retriever, cfg: cfg.withDefaults(), log: log}
}

// Simulate scores every question under one band: retrieve, admit greedily
// into the token budget, grade. Questions are processed in ordinal order so
// repeated runs over an unchanged index are identical.
func (e *Engine) Simulate(ctx context.Context, runID string, questions []storage.Question, band Band) (BandResult, error) {
	res := BandResult{Band: band}

	// Conflict detection sees the union of evidence across questions, so a
	// $49 page and a $59 page clash even when no single question retrieves
	// both top-ranked.
	type retrievedSet struct {
		question storage.Question
		results  []retrieval.Result
	}
	retrieved := make([]retrievedSet, 0, len(questions))
	var evidencePool []storage.Chunk
	poolSeen := make(map[string]struct{})

	for _, q := range questions {
		results, err := e.retriever.Retrieve(ctx, runID, q.Text)
		if err != nil {
			return BandResult{}, fmt.Errorf("retrieving for question %q: %w", q.Text, err)
		}
		retrieved = append(retrieved, retrievedSet{question: q, results: results})
		for _, r := range results {
			if _, dup := poolSeen[r.Chunk.ID]; dup {
				continue
			}
			poolSeen[r.Chunk.ID] = struct{}{}
			evidencePool = append(evidencePool, r.Chunk)
		}
	}

	res.Conflicts, res.NeedsReview = DetectConflicts(evidencePool)

	for _, rs := range retrieved {
		admitted, dropped := admitToBudget(rs.results, band.TokenBudget)
		passed, reason, conf := Grade(rs.question, admitted, res.Conflicts)
		res.Results = append(res.Results, GradedQuestion{
			Question:   rs.question,
			Passed:     passed,
			ReasonCode: reason,
			Confidence: conf,
			Admitted:   admitted,
			DroppedIDs: dropped,
			Evidence:   excerpt(admitted, e.cfg.EvidenceExcerptLen),
		})
	}
	return res, nil
}

// admitToBudget walks the fused ranking, admitting chunks until the next
// one would exceed the band budget. Everything past that point is recorded
// as dropped, preserving rank order for the trace.
func admitToBudget(results []retrieval.Result, budget int) (admitted []storage.Chunk, droppedIDs []string) {
	used := 0
	for _, r := range results {
		if used+r.Chunk.TokenCount > budget {
			droppedIDs = append(droppedIDs, r.Chunk.ID)
			continue
		}
		used += r.Chunk.TokenCount
		admitted = append(admitted, r.Chunk)
	}
	return admitted, droppedIDs
}

func excerpt(admitted []storage.Chunk, limit int) string {
	if len(admitted) == 0 {
		return ""
	}
	text := admitted[0].Text
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "…"
}

// ToSimulationRun converts a band result into immutable storage rows.
func (r BandResult) ToSimulationRun(questionSetID, runID string) (storage.SimulationRun, []storage.QuestionResult, error) {
	sim := storage.SimulationRun{
		ID:            uuid.New().String(),
		QuestionSetID: questionSetID,
		RunID:         runID,
		Band:          r.Band.Name,
		TokenBudget:   r.Band.TokenBudget,
		CreatedAt:     time.Now().UTC(),
	}
	rows := make([]storage.QuestionResult, 0, len(r.Results))
	for _, g := range r.Results {
		admittedIDs := make([]string, len(g.Admitted))
		for i, ch := range g.Admitted {
			admittedIDs[i] = ch.ID
		}
		chunkJSON, err := json.Marshal(admittedIDs)
		if err != nil {
			return storage.SimulationRun{}, nil, err
		}
		droppedJSON, err := json.Marshal(g.DroppedIDs)
		if err != nil {
			return storage.SimulationRun{}, nil, err
		}
		rows = append(rows, storage.QuestionResult{
			ID:          uuid.New().String(),
			SimID:       sim.ID,
			QuestionID:  g.Question.ID,
			Passed:      g.Passed,
			ReasonCode:  g.ReasonCode,
			Confidence:  g.Confidence,
			ChunkIDs:    string(chunkJSON),
			DroppedIDs:  string(droppedJSON),
			EvidenceTxt: g.Evidence,
		})
	}
	return sim, rows, nil
}

package retrieval

import (
	"context"
	"log/slog"
	"sort"

	"github.com/siteproof/siteproof/internal/index"
	"github.com/siteproof/siteproof/internal/storage"
)

// Result is one retrieved chunk with its fused score and per-backend ranks.
// A rank of 0 means the backend did not return the chunk.
type Result struct {
	Chunk       storage.Chunk
	Score       float64
	LexicalRank int
	VectorRank  int
}

// LexicalSearcher ranks chunks against raw query text.
type LexicalSearcher interface {
	Search(ctx context.Context, runID, query string, topK int) ([]index.ScoredChunk, error)
}

// VectorSearcher ranks chunks against an embedded query.
type VectorSearcher interface {
	Search(ctx context.Context, runID string, query []float32, topK int) ([]index.ScoredChunk, error)
}

// QueryEmbedder embeds ad-hoc query text.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// ChunkLoader resolves chunk IDs to full records.
type ChunkLoader interface {
	GetChunksByIDs(ids []string) ([]storage.Chunk, error)
}

// Config controls fusion and diversity.
type Config struct {
	TopK              int     // results returned per query
	RRFK              int     // reciprocal rank fusion constant, default 60
	LexicalWeight     float64 // default 1.0
	VectorWeight      float64 // default 1.0
	MaxPerPage        int     // diversity cap, default 2
	NearDupSimilarity float64 // Jaccard merge threshold, default 0.85
}

func (c Config) withDefaults() Config {
	if c.TopK <= 0 {
		c.TopK = 8
	}
	if c.RRFK <= 0 {
		c.RRFK = 60
	}
	if c.LexicalWeight <= 0 {
		c.LexicalWeight = 1.0
	}
	if c.VectorWeight <= 0 {
		c.VectorWeight = 1.0
	}
	if c.MaxPerPage <= 0 {
		c.MaxPerPage = 2
	}
	if c.NearDupSimilarity <= 0 {
		c.NearDupSimilarity = 0.85
	}
	return c
}

// Retriever fuses lexical and vector rankings with reciprocal rank fusion.
// All operations are read-only, so one Retriever serves concurrent queries.
type Retriever struct {
	lexical  LexicalSearcher
	vector   VectorSearcher
	embedder QueryEmbedder
	chunks   ChunkLoader
	cfg      Config
	log      *slog.Logger
}

// New creates a hybrid retriever. vector and embedder may be nil, in which
// case every query runs lexical-only.
func New(lexical LexicalSearcher, vector VectorSearcher, embedder QueryEmbedder, chunks ChunkLoader, cfg Config, log *slog.Logger) *Retriever {
	return &Retriever{
		lexical:  lexical,
		vector:   vector,
		embedder: embedder,
		chunks:   chunks,
		cfg:      cfg.withDefaults(),
		log:      log,
	}
}

// candidateMultiple over-fetches each backend so duplicate merging and the
// per-page cap still leave TopK results to return.
const candidateMultiple = 4

// Retrieve runs the query against both indexes and fuses the rankings.
// Identical (runID, query) inputs over an unchanged index always return
// identical results.
func (r *Retriever) Retrieve(ctx context.Context, runID, query string) ([]Result, error) {
	candidateK := r.cfg.TopK * candidateMultiple

	lexRanked, err := r.lexical.Search(ctx, runID, query, candidateK)
	if err != nil {
		return nil, err
	}

	var vecRanked []index.ScoredChunk
	if r.vector != nil && r.embedder != nil {
		vec, err := r.embedder.EmbedQuery(ctx, query)
		if err != nil {
			// Vector side degrades per query; lexical results still serve.
			r.log.Warn("query embedding failed, lexical-only retrieval",
				"run_id", runID, "error", err)
		} else {
			vecRanked, err = r.vector.Search(ctx, runID, vec, candidateK)
			if err != nil {
				return nil, err
			}
		}
	}

	fused := r.fuse(lexRanked, vecRanked)
	if len(fused) == 0 {
		return nil, nil
	}

	ids := make([]string, len(fused))
	for i, f := range fused {
		ids[i] = f.id
	}
	records, err := r.chunks.GetChunksByIDs(ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]storage.Chunk, len(records))
	for _, c := range records {
		byID[c.ID] = c
	}

	merged := r.mergeDuplicates(fused, byID)
	return r.applyDiversityCap(merged, byID), nil
}

type fusedScore struct {
	id      string
	score   float64
	lexRank int
	vecRank int
}

// fuse combines the two rankings with weighted reciprocal rank fusion:
// score = sum over backends of weight / (rrf_k + rank).
func (r *Retriever) fuse(lex, vec []index.ScoredChunk) []fusedScore {
	acc := make(map[string]*fusedScore)
	get := func(id string) *fusedScore {
		f, ok := acc[id]
		if !ok {
			f = &fusedScore{id: id}
			acc[id] = f
		}
		return f
	}

	k := float64(r.cfg.RRFK)
	for i, s := range lex {
		f := get(s.ChunkID)
		f.lexRank = i + 1
		f.score += r.cfg.LexicalWeight / (k + float64(i+1))
	}
	for i, s := range vec {
		f := get(s.ChunkID)
		f.vecRank = i + 1
		f.score += r.cfg.VectorWeight / (k + float64(i+1))
	}

	fused := make([]fusedScore, 0, len(acc))
	for _, f := range acc {
		fused = append(fused, *f)
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].score != fused[j].score {
			return fused[i].score > fused[j].score
		}
		return fused[i].id < fused[j].id
	})
	return fused
}

// mergeDuplicates collapses duplicate chunks before the final ranking,
// keeping the best-scored representative. Exact duplicates match on content
// hash; near duplicates on token-set Jaccard against the kept chunks.
// Repeated footer and nav fragments would otherwise crowd out distinct
// evidence.
func (r *Retriever) mergeDuplicates(fused []fusedScore, byID map[string]storage.Chunk) []fusedScore {
	seenHash := make(map[string]struct{}, len(fused))
	var keptSets []map[string]struct{}
	out := fused[:0]
	for _, f := range fused {
		c, ok := byID[f.id]
		if !ok {
			continue
		}
		if _, dup := seenHash[c.ContentHash]; dup {
			continue
		}
		seenHash[c.ContentHash] = struct{}{}
		set := index.TokenSet(index.Tokenize(c.Text))
		nearDup := false
		for _, kept := range keptSets {
			if index.Jaccard(set, kept) >= r.cfg.NearDupSimilarity {
				nearDup = true
				break
			}
		}
		if nearDup {
			continue
		}
		keptSets = append(keptSets, set)
		out = append(out, f)
	}
	return out
}

// applyDiversityCap limits results per source page, walking down the fused
// ranking and substituting chunks from pages still under the cap.
func (r *Retriever) applyDiversityCap(fused []fusedScore, byID map[string]storage.Chunk) []Result {
	perPage := make(map[string]int)
	results := make([]Result, 0, r.cfg.TopK)
	for _, f := range fused {
		if len(results) == r.cfg.TopK {
			break
		}
		c := byID[f.id]
		if perPage[c.PageID] >= r.cfg.MaxPerPage {
			continue
		}
		perPage[c.PageID]++
		results = append(results, Result{
			Chunk:       c,
			Score:       f.score,
			LexicalRank: f.lexRank,
			VectorRank:  f.vecRank,
		})
	}
	return results
}

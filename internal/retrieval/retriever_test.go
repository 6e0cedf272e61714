package retrieval

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/siteproof/siteproof/internal/index"
	"github.com/siteproof/siteproof/internal/storage"
)

type fakeLexical struct {
	results []index.ScoredChunk
	err     error
}

func (f *fakeLexical) Search(_ context.Context, _, _ string, topK int) ([]index.ScoredChunk, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.results) > topK {
		return f.results[:topK], nil
	}
	return f.results, nil
}

type fakeVector struct {
	results []index.ScoredChunk
	err     error
}

func (f *fakeVector) Search(_ context.Context, _ string, _ []float32, topK int) ([]index.ScoredChunk, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.results) > topK {
		return f.results[:topK], nil
	}
	return f.results, nil
}

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0}, nil
}

type fakeChunks struct {
	byID map[string]storage.Chunk
}

func (f *fakeChunks) GetChunksByIDs(ids []string) ([]storage.Chunk, error) {
	var out []storage.Chunk
	for _, id := range ids {
		if c, ok := f.byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// chunkSet builds n chunks spread across pages, pageSize chunks per page.
func chunkSet(n, pageSize int) *fakeChunks {
	byID := make(map[string]storage.Chunk, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("c%d", i)
		byID[id] = storage.Chunk{
			ID:          id,
			PageID:      fmt.Sprintf("p%d", i/pageSize),
			ContentHash: "hash-" + id,
			Text:        "text " + id,
		}
	}
	return &fakeChunks{byID: byID}
}

func scored(ids ...string) []index.ScoredChunk {
	out := make([]index.ScoredChunk, len(ids))
	for i, id := range ids {
		out[i] = index.ScoredChunk{ChunkID: id, Score: float64(len(ids) - i)}
	}
	return out
}

func TestRetrieveFusesBothRankings(t *testing.T) {
	// c1 is mid-ranked by both backends; c0 and c2 each appear in only one.
	// Fusion should put the twice-ranked chunk first.
	lex := &fakeLexical{results: scored("c0", "c1")}
	vec := &fakeVector{results: scored("c2", "c1")}
	r := New(lex, vec, &fakeEmbedder{}, chunkSet(6, 1), Config{TopK: 3, RRFK: 60}, testLogger())

	results, err := r.Retrieve(context.Background(), "run-1", "pricing")
	if err != nil {
		t.Fatalf("retrieving: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if results[0].Chunk.ID != "c1" {
		t.Errorf("top = %s, want c1", results[0].Chunk.ID)
	}
	if results[0].LexicalRank != 2 || results[0].VectorRank != 2 {
		t.Errorf("ranks = %d/%d, want 2/2", results[0].LexicalRank, results[0].VectorRank)
	}
	// Single-backend chunks at rank 1 tie exactly; chunk ID breaks the tie.
	if results[1].Chunk.ID != "c0" || results[2].Chunk.ID != "c2" {
		t.Errorf("tail = %s, %s", results[1].Chunk.ID, results[2].Chunk.ID)
	}
}

func TestRetrieveDiversityCap(t *testing.T) {
	// Six chunks, three per page. With MaxPerPage 2 the third chunk of page
	// p0 must be skipped in favor of the next distinct page.
	lex := &fakeLexical{results: scored("c0", "c1", "c2", "c3", "c4", "c5")}
	r := New(lex, nil, nil, chunkSet(6, 3), Config{TopK: 4, MaxPerPage: 2}, testLogger())

	results, err := r.Retrieve(context.Background(), "run-1", "features")
	if err != nil {
		t.Fatalf("retrieving: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("got %d results, want 4", len(results))
	}
	pageCounts := make(map[string]int)
	for _, res := range results {
		pageCounts[res.Chunk.PageID]++
	}
	for page, n := range pageCounts {
		if n > 2 {
			t.Errorf("page %s has %d results, cap is 2", page, n)
		}
	}
	if results[2].Chunk.ID != "c3" {
		t.Errorf("third result = %s, want c3 (first chunk of next page)", results[2].Chunk.ID)
	}
}

func TestRetrieveMergesDuplicateContent(t *testing.T) {
	chunks := chunkSet(4, 1)
	// c0 and c1 carry identical content on different pages.
	dup := chunks.byID["c1"]
	dup.ContentHash = chunks.byID["c0"].ContentHash
	chunks.byID["c1"] = dup

	lex := &fakeLexical{results: scored("c0", "c1", "c2")}
	r := New(lex, nil, nil, chunks, Config{TopK: 3}, testLogger())

	results, err := r.Retrieve(context.Background(), "run-1", "shipping")
	if err != nil {
		t.Fatalf("retrieving: %v", err)
	}
	for _, res := range results {
		if res.Chunk.ID == "c1" {
			t.Error("duplicate-content chunk survived the merge")
		}
	}
	if len(results) != 2 {
		t.Errorf("got %d results, want 2", len(results))
	}
}

func TestRetrieveMergesNearDuplicateContent(t *testing.T) {
	// c0 and c1 have distinct hashes but nearly identical wording, the usual
	// footer-variant case. Above-threshold overlap merges them; a stricter
	// threshold keeps both.
	base := "free shipping on domestic orders over fifty dollars with tracked delivery included for every package sent same business day"
	byID := map[string]storage.Chunk{
		"c0": {ID: "c0", PageID: "p0", ContentHash: "hash-c0", Text: base + " worldwide"},
		"c1": {ID: "c1", PageID: "p1", ContentHash: "hash-c1", Text: base + " always"},
		"c2": {ID: "c2", PageID: "p2", ContentHash: "hash-c2", Text: "returns are accepted within thirty days with the original receipt"},
	}
	lex := &fakeLexical{results: scored("c0", "c1", "c2")}

	r := New(lex, nil, nil, &fakeChunks{byID: byID}, Config{TopK: 3, NearDupSimilarity: 0.85}, testLogger())
	results, err := r.Retrieve(context.Background(), "run-1", "shipping")
	if err != nil {
		t.Fatalf("retrieving: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2 after near-dup merge", len(results))
	}
	if results[0].Chunk.ID != "c0" || results[1].Chunk.ID != "c2" {
		t.Errorf("results = %s, %s, want c0, c2", results[0].Chunk.ID, results[1].Chunk.ID)
	}

	strict := New(lex, nil, nil, &fakeChunks{byID: byID}, Config{TopK: 3, NearDupSimilarity: 0.999}, testLogger())
	results, err = strict.Retrieve(context.Background(), "run-1", "shipping")
	if err != nil {
		t.Fatalf("retrieving: %v", err)
	}
	if len(results) != 3 {
		t.Errorf("got %d results, want 3 under a stricter threshold", len(results))
	}
}

func TestRetrieveLexicalOnlyOnEmbedFailure(t *testing.T) {
	lex := &fakeLexical{results: scored("c0", "c1")}
	vec := &fakeVector{err: errors.New("should not be called")}
	emb := &fakeEmbedder{err: errors.New("connection refused")}
	r := New(lex, vec, emb, chunkSet(2, 1), Config{TopK: 2}, testLogger())

	results, err := r.Retrieve(context.Background(), "run-1", "refunds")
	if err != nil {
		t.Fatalf("embed failure must not fail retrieval: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for _, res := range results {
		if res.VectorRank != 0 {
			t.Errorf("chunk %s has vector rank %d without vector search", res.Chunk.ID, res.VectorRank)
		}
	}
}

func TestRetrieveDeterministic(t *testing.T) {
	lex := &fakeLexical{results: scored("c0", "c1", "c2", "c3")}
	vec := &fakeVector{results: scored("c3", "c2", "c1", "c0")}
	r := New(lex, vec, &fakeEmbedder{}, chunkSet(4, 2), Config{TopK: 4}, testLogger())

	first, err := r.Retrieve(context.Background(), "run-1", "faq")
	if err != nil {
		t.Fatalf("retrieving: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := r.Retrieve(context.Background(), "run-1", "faq")
		if err != nil {
			t.Fatalf("retrieving: %v", err)
		}
		if len(again) != len(first) {
			t.Fatalf("result count diverged")
		}
		for j := range again {
			if again[j].Chunk.ID != first[j].Chunk.ID || again[j].Score != first[j].Score {
				t.Fatalf("ordering diverged at %d on repeat %d", j, i)
			}
		}
	}
}

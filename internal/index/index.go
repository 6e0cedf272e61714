package index

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/siteproof/siteproof/internal/storage"
)

// LimitationLexicalOnly is recorded on a run when embedding fails and
// retrieval degrades to the lexical index alone.
const LimitationLexicalOnly = "embedding_unavailable_lexical_only"

// BuildResult summarizes one index build.
type BuildResult struct {
	ChunksIndexed int
	Embedded      int
	LexicalOnly   bool
}

// Indexer builds the dual index for a run: lexical postings always, chunk
// embeddings when the backend is reachable. Embedding failure is a recorded
// limitation, never a fatal error.
type Indexer struct {
	lexical  *Lexical
	embedder *Embedder
	log      *slog.Logger
}

func NewIndexer(db *sql.DB, embedder *Embedder, p Params, log *slog.Logger) *Indexer {
	return &Indexer{
		lexical:  NewLexical(db, p),
		embedder: embedder,
		log:      log,
	}
}

func (ix *Indexer) Lexical() *Lexical { return ix.lexical }

// Build indexes the chunks of a run. The lexical index is rebuilt in full;
// embeddings are generated for distinct content hashes only.
func (ix *Indexer) Build(ctx context.Context, runID string, chunks []storage.Chunk) (BuildResult, error) {
	res := BuildResult{ChunksIndexed: len(chunks)}

	if err := ix.lexical.IndexChunks(ctx, runID, chunks); err != nil {
		return res, err
	}

	if ix.embedder == nil {
		res.LexicalOnly = true
		return res, nil
	}

	// Distinct hashes only: identical boilerplate chunks share one vector.
	seen := make(map[string]struct{}, len(chunks))
	var hashes, texts []string
	for _, ch := range chunks {
		if _, dup := seen[ch.ContentHash]; dup {
			continue
		}
		seen[ch.ContentHash] = struct{}{}
		hashes = append(hashes, ch.ContentHash)
		texts = append(texts, ch.Text)
	}

	if _, err := ix.embedder.EmbedBatch(ctx, hashes, texts); err != nil {
		ix.log.Warn("embedding failed, continuing lexical-only",
			"run_id", runID, "error", err)
		res.LexicalOnly = true
		return res, nil
	}
	res.Embedded = len(hashes)
	return res, nil
}

package index

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/siteproof/siteproof/internal/storage"
)

// ScoredChunk is a chunk reference with a relevance score. Both the lexical
// and vector backends return the same shape so fusion can treat them
// uniformly.
type ScoredChunk struct {
	ChunkID string
	Score   float64
}

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "can": {}, "do": {}, "does": {}, "for": {}, "from": {},
	"how": {}, "i": {}, "in": {}, "is": {}, "it": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "this": {}, "to": {}, "was": {},
	"what": {}, "when": {}, "where": {}, "which": {}, "who": {}, "will": {},
	"with": {}, "you": {}, "your": {},
}

// Tokenize lowercases and splits on non-alphanumeric runes, dropping
// stopwords and single-character terms. Digits are kept so that prices and
// version numbers remain searchable.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, skip := stopwords[f]; skip {
			continue
		}
		terms = append(terms, f)
	}
	return terms
}

// Lexical is a SQLite-backed inverted index with BM25 ranking. Postings are
// scoped per run so superseding crawls never pollute earlier indexes.
type Lexical struct {
	db *sql.DB
	k1 float64
	b  float64
}

func NewLexical(db *sql.DB, p Params) *Lexical {
	p = p.withDefaults()
	return &Lexical{db: db, k1: p.BM25K1, b: p.BM25B}
}

// IndexChunks rebuilds the lexical index for a run from scratch.
func (l *Lexical) IndexChunks(ctx context.Context, runID string, chunks []storage.Chunk) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning index transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"lex_postings", "lex_doc_stats", "lex_terms"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE run_id = ?", runID); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}

	postStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO lex_postings (run_id, term, chunk_id, term_frequency)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing postings statement: %w", err)
	}
	defer postStmt.Close()

	statStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO lex_doc_stats (run_id, chunk_id, doc_length)
		VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing doc stats statement: %w", err)
	}
	defer statStmt.Close()

	docFreq := make(map[string]int)
	for _, ch := range chunks {
		terms := Tokenize(ch.Text)
		tf := make(map[string]int, len(terms))
		for _, t := range terms {
			tf[t]++
		}
		for term, freq := range tf {
			docFreq[term]++
			if _, err := postStmt.ExecContext(ctx, runID, term, ch.ID, freq); err != nil {
				return fmt.Errorf("inserting posting for chunk %s: %w", ch.ID, err)
			}
		}
		if _, err := statStmt.ExecContext(ctx, runID, ch.ID, len(terms)); err != nil {
			return fmt.Errorf("inserting doc stats for chunk %s: %w", ch.ID, err)
		}
	}

	termStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO lex_terms (run_id, term, doc_frequency) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing terms statement: %w", err)
	}
	defer termStmt.Close()
	for term, df := range docFreq {
		if _, err := termStmt.ExecContext(ctx, runID, term, df); err != nil {
			return fmt.Errorf("inserting term %q: %w", term, err)
		}
	}

	return tx.Commit()
}

// Search ranks indexed chunks against the query with BM25. Results are
// ordered by score descending with chunk ID as the tiebreak, so identical
// indexes always return identical rankings.
func (l *Lexical) Search(ctx context.Context, runID, query string, topK int) ([]ScoredChunk, error) {
	terms := Tokenize(query)
	if len(terms) == 0 || topK <= 0 {
		return nil, nil
	}

	var docCount int
	var totalLength sql.NullFloat64
	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*), SUM(doc_length) FROM lex_doc_stats WHERE run_id = ?`,
		runID).Scan(&docCount, &totalLength)
	if err != nil {
		return nil, fmt.Errorf("querying corpus stats: %w", err)
	}
	if docCount == 0 {
		return nil, nil
	}
	avgLength := totalLength.Float64 / float64(docCount)
	if avgLength == 0 {
		avgLength = 1
	}

	scores := make(map[string]float64)
	seen := make(map[string]struct{}, len(terms))
	for _, term := range terms {
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}

		var df int
		err := l.db.QueryRowContext(ctx,
			`SELECT doc_frequency FROM lex_terms WHERE run_id = ? AND term = ?`,
			runID, term).Scan(&df)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("querying term %q: %w", term, err)
		}
		idf := math.Log(1 + (float64(docCount)-float64(df)+0.5)/(float64(df)+0.5))

		rows, err := l.db.QueryContext(ctx, `
			SELECT p.chunk_id, p.term_frequency, s.doc_length
			FROM lex_postings p
			JOIN lex_doc_stats s ON s.run_id = p.run_id AND s.chunk_id = p.chunk_id
			WHERE p.run_id = ? AND p.term = ?`, runID, term)
		if err != nil {
			return nil, fmt.Errorf("querying postings for %q: %w", term, err)
		}
		for rows.Next() {
			var chunkID string
			var tf, docLen int
			if err := rows.Scan(&chunkID, &tf, &docLen); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scanning posting: %w", err)
			}
			norm := float64(tf) * (l.k1 + 1) /
				(float64(tf) + l.k1*(1-l.b+l.b*float64(docLen)/avgLength))
			scores[chunkID] += idf * norm
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("iterating postings: %w", err)
		}
		rows.Close()
	}

	ranked := make([]ScoredChunk, 0, len(scores))
	for id, score := range scores {
		ranked = append(ranked, ScoredChunk{ChunkID: id, Score: score})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].ChunkID < ranked[j].ChunkID
	})
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return ranked, nil
}

package index

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
)

// EmbedBackend produces embedding vectors for texts.
type EmbedBackend interface {
	Embed(ctx context.Context, model, text string) ([]float32, error)
}

// EmbedClient talks to an Ollama-compatible embedding endpoint over HTTP.
type EmbedClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewEmbedClient(baseURL string) *EmbedClient {
	return &EmbedClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// IsRunning returns true if the embedding server responds to GET /api/tags.
func (c *EmbedClient) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// embedRequest is the JSON body for POST /api/embed.
type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// embedResponse is the JSON returned by POST /api/embed.
type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed returns the embedding vector for the given text.
func (c *EmbedClient) Embed(ctx context.Context, model, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: model, Input: text})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embed: unexpected status %d", resp.StatusCode)
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding embed response: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("embed: empty embeddings array")
	}
	return result.Embeddings[0], nil
}

// Embedder generates embeddings with a two-level cache: an in-process LRU
// in front of the embeddings table. The persistent cache is keyed by
// (content_hash, model), so identical chunks across runs are embedded once.
type Embedder struct {
	backend EmbedBackend
	model   string
	db      *sql.DB
	cache   *lru.Cache[string, []float32]
	batch   int
}

func NewEmbedder(backend EmbedBackend, model string, db *sql.DB, p Params) (*Embedder, error) {
	p = p.withDefaults()
	cache, err := lru.New[string, []float32](p.CacheSize)
	if err != nil {
		return nil, err
	}
	return &Embedder{backend: backend, model: model, db: db, cache: cache, batch: p.EmbedBatchSize}, nil
}

func (e *Embedder) Model() string { return e.model }

// Embed returns the vector for a text, consulting the LRU, then the
// embeddings table, and only then the backend. Backend results are written
// through to both caches.
func (e *Embedder) Embed(ctx context.Context, contentHash, text string) ([]float32, error) {
	if vec, ok := e.cache.Get(contentHash); ok {
		return vec, nil
	}

	var blob []byte
	err := e.db.QueryRowContext(ctx,
		`SELECT embedding FROM embeddings WHERE content_hash = ? AND model = ?`,
		contentHash, e.model).Scan(&blob)
	switch {
	case err == nil:
		vec, err := decodeFloat32sInto(nil, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding cached embedding %s: %w", contentHash, err)
		}
		e.cache.Add(contentHash, vec)
		return vec, nil
	case err != sql.ErrNoRows:
		return nil, fmt.Errorf("querying embedding cache: %w", err)
	}

	vec, err := e.backend.Embed(ctx, e.model, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}

	_, err = e.db.ExecContext(ctx, `
		INSERT INTO embeddings (content_hash, model, embedding, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (content_hash, model) DO NOTHING`,
		contentHash, e.model, encodeFloat32s(vec), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("caching embedding %s: %w", contentHash, err)
	}
	e.cache.Add(contentHash, vec)
	return vec, nil
}

// EmbedQuery embeds ad-hoc query text without touching the persistent cache.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.backend.Embed(ctx, e.model, text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return vec, nil
}

// EmbedBatch embeds texts concurrently, bounded by the configured batch
// size to avoid overwhelming the backend. hashes[i] keys texts[i]. Returns
// nil for empty input.
func (e *Embedder) EmbedBatch(ctx context.Context, hashes, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(hashes) != len(texts) {
		return nil, fmt.Errorf("hash count %d does not match text count %d", len(hashes), len(texts))
	}

	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.batch)

	for i := range texts {
		i := i
		g.Go(func() error {
			vec, err := e.Embed(gCtx, hashes[i], texts[i])
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

package index

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// VectorStore performs brute-force cosine similarity search over the chunk
// embeddings of a run, backed by SQLite. At the page budgets this tool
// crawls (tens of pages, hundreds of chunks) a linear scan is faster than
// maintaining an ANN index.
type VectorStore struct {
	db    *sql.DB
	model string
}

func NewVectorStore(db *sql.DB, model string) *VectorStore {
	return &VectorStore{db: db, model: model}
}

// Search scans every embedded chunk in the run and returns the topK most
// similar by cosine similarity, score descending with chunk ID as tiebreak.
func (s *VectorStore) Search(ctx context.Context, runID string, query []float32, topK int) ([]ScoredChunk, error) {
	if topK <= 0 {
		return nil, nil
	}
	queryNorm := norm(query)
	if queryNorm == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, e.embedding
		FROM chunks c
		JOIN embeddings e ON e.content_hash = c.content_hash AND e.model = ?
		WHERE c.run_id = ?`, s.model, runID)
	if err != nil {
		return nil, fmt.Errorf("querying embeddings: %w", err)
	}
	defer rows.Close()

	h := &scoreHeap{}
	heap.Init(h)

	// Reusable buffer to avoid per-row allocations during the scan.
	var buf []float32

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning embedding row: %w", err)
		}
		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for chunk %s: %w", id, err)
		}
		score := cosine(query, buf, queryNorm)
		if h.Len() < topK {
			heap.Push(h, ScoredChunk{ChunkID: id, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = ScoredChunk{ChunkID: id, Score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating embedding rows: %w", err)
	}

	results := make([]ScoredChunk, h.Len())
	for i := len(results) - 1; i >= 0; i-- {
		results[i] = heap.Pop(h).(ScoredChunk)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	return results, nil
}

// Count reports how many chunks of the run have a stored embedding.
func (s *VectorStore) Count(ctx context.Context, runID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM chunks c
		JOIN embeddings e ON e.content_hash = c.content_hash AND e.model = ?
		WHERE c.run_id = ?`, s.model, runID).Scan(&count)
	return count, err
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32sInto decodes little-endian bytes into the provided buffer,
// reusing it when large enough. Errors on lengths that are not a multiple
// of 4, which indicates corruption.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

func norm(v []float32) float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}

// cosine computes dot(a,b) / (aNorm * |b|); aNorm is precomputed.
func cosine(a, b []float32, aNorm float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return dot / (aNorm * bNorm)
}

// scoreHeap is a min-heap of ScoredChunk used to track top-K during scans.
type scoreHeap []ScoredChunk

func (h scoreHeap) Len() int           { return len(h) }
func (h scoreHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h scoreHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *scoreHeap) Push(x any)        { *h = append(*h, x.(ScoredChunk)) }
func (h *scoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

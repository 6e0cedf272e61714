package index

// Params carries the index tunables from configuration. Zero values fall
// back to standard defaults, so tests can pass Params{}.
type Params struct {
	BM25K1         float64 // term-frequency saturation, default 1.2
	BM25B          float64 // document-length normalization, default 0.75
	EmbedBatchSize int     // concurrent embed requests, default 4
	CacheSize      int     // in-process LRU entries, default 4096
}

func (p Params) withDefaults() Params {
	if p.BM25K1 <= 0 {
		p.BM25K1 = 1.2
	}
	if p.BM25B <= 0 {
		p.BM25B = 0.75
	}
	if p.EmbedBatchSize <= 0 {
		p.EmbedBatchSize = 4
	}
	if p.CacheSize <= 0 {
		p.CacheSize = 4096
	}
	return p
}

// Package pipeline orchestrates a full analysis run: render arbitration,
// bounded crawl, extraction, chunking, dual indexing, question generation
// and constrained-context scoring. Every stage persists its output before
// the next begins, so re-scoring never requires re-crawling.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"

	"github.com/siteproof/siteproof/internal/chunk"
	"github.com/siteproof/siteproof/internal/config"
	"github.com/siteproof/siteproof/internal/crawl"
	"github.com/siteproof/siteproof/internal/extract"
	"github.com/siteproof/siteproof/internal/index"
	"github.com/siteproof/siteproof/internal/render"
	"github.com/siteproof/siteproof/internal/retrieval"
	"github.com/siteproof/siteproof/internal/storage"
)

// ErrNoContent is returned when extraction leaves nothing to index. The run
// is marked failed; a score over zero pages would be meaningless.
var ErrNoContent = errors.New("no pages survived extraction")

// Pipeline wires the analysis stages over shared storage. Safe for
// concurrent use; per-run state lives on the call stack.
type Pipeline struct {
	store     *storage.Store
	cfg       config.Config
	log       *slog.Logger
	metrics   *crawl.Metrics
	static    render.Fetcher
	arbiter   *render.Arbiter
	scheduler *crawl.Scheduler
	extractor *extract.Extractor
	chunker   *chunk.Chunker
	embedder  *index.Embedder
	indexer   *index.Indexer
	retriever *retrieval.Retriever
}

// New assembles a pipeline from configuration. The embedding backend is
// probed lazily at index time, so construction succeeds without one.
func New(store *storage.Store, cfg config.Config, log *slog.Logger) (*Pipeline, error) {
	if log == nil {
		log = slog.Default()
	}
	metrics := crawl.NewMetrics()

	pageTimeout := time.Duration(cfg.Crawl.PageTimeoutSec) * time.Second
	static := render.NewStaticFetcher(pageTimeout, cfg.Crawl.UserAgent)
	headless := render.NewHeadlessFetcher(time.Duration(cfg.Render.TimeoutSec)*time.Second, cfg.Render.PoolSize)

	arbiter := render.NewArbiter(static, headless, render.Thresholds{
		WordDeltaMin:  cfg.Render.WordDeltaMin,
		DeltaRatioMin: float64(cfg.Render.DeltaRatioPct) / 100,
		SimilarityMin: float64(cfg.Render.SimilarityPct) / 100,
	}, log)

	scheduler := crawl.NewScheduler(crawl.Config{
		Concurrency:      cfg.Crawl.Concurrency,
		PageTimeout:      pageTimeout,
		HostRatePerSec:   cfg.Crawl.HostRatePerSec,
		UserAgent:        cfg.Crawl.UserAgent,
		FoldHostVariants: cfg.Crawl.FoldHostVariant,
	}, headless, metrics, log)

	params := index.Params{
		BM25K1:         cfg.Index.BM25K1,
		BM25B:          cfg.Index.BM25B,
		EmbedBatchSize: cfg.Index.EmbedBatchSize,
		CacheSize:      cfg.Index.CacheSize,
	}
	embedder, err := index.NewEmbedder(index.NewEmbedClient(cfg.Index.EmbedBaseURL), cfg.Index.EmbedModel, store.DB(), params)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	indexer := index.NewIndexer(store.DB(), embedder, params, log)
	vectors := index.NewVectorStore(store.DB(), cfg.Index.EmbedModel)

	retriever := retrieval.New(indexer.Lexical(), vectors, embedder, store, retrieval.Config{
		TopK:              cfg.Retrieval.TopK,
		RRFK:              cfg.Retrieval.RRFK,
		LexicalWeight:     cfg.Retrieval.LexicalWeight,
		VectorWeight:      cfg.Retrieval.VectorWeight,
		MaxPerPage:        cfg.Retrieval.MaxPerPage,
		NearDupSimilarity: cfg.Scoring.NearDupSimilarity,
	}, log)

	return &Pipeline{
		store:     store,
		cfg:       cfg,
		log:       log,
		metrics:   metrics,
		static:    static,
		arbiter:   arbiter,
		scheduler: scheduler,
		extractor: extract.New(cfg.Extract.MinWordCount, log),
		chunker: chunk.New(chunk.Config{
			MaxTokens:     cfg.Chunk.MaxTokens,
			MinTokens:     cfg.Chunk.MinTokens,
			OverlapTokens: cfg.Chunk.OverlapTokens,
		}),
		embedder:  embedder,
		indexer:   indexer,
		retriever: retriever,
	}, nil
}

// Metrics exposes the Prometheus registry for the serve command.
func (p *Pipeline) Metrics() *crawl.Metrics { return p.metrics }

// Retriever exposes the shared hybrid retriever.
func (p *Pipeline) Retriever() *retrieval.Retriever { return p.retriever }

// RunSummary reports the outcome of one analysis run.
type RunSummary struct {
	RunID         string             `json:"run_id"`
	RenderMode    string             `json:"render_mode"`
	PagesCrawled  int                `json:"pages_crawled"`
	PagesIndexed  int                `json:"pages_indexed"`
	ChunksIndexed int                `json:"chunks_indexed"`
	Questions     int                `json:"questions"`
	Overalls      map[string]float64 `json:"overalls"` // band -> overall score
	Limitations   []string           `json:"limitations"`
}

// RunAnalysis executes the full pipeline for a site and persists every
// stage. Non-fatal degradations accumulate on the run's limitations list;
// only an unreachable root or an empty extraction fails the run.
func (p *Pipeline) RunAnalysis(ctx context.Context, siteID string, custom []string) (RunSummary, error) {
	site, err := p.store.GetSite(siteID)
	if err != nil {
		return RunSummary{}, fmt.Errorf("loading site %s: %w", siteID, err)
	}

	run := storage.Run{
		ID:        uuid.NewString(),
		SiteID:    site.ID,
		Status:    "running",
		CreatedAt: time.Now().UTC(),
	}
	if err := p.store.SaveRun(run); err != nil {
		return RunSummary{}, fmt.Errorf("creating run: %w", err)
	}

	summary, err := p.execute(ctx, site, run.ID, custom)
	if err != nil {
		if uerr := p.store.UpdateRunStatus(run.ID, "failed"); uerr != nil {
			p.log.Error("marking run failed", "run_id", run.ID, "error", uerr)
		}
		return RunSummary{}, err
	}
	if err := p.store.UpdateRunStatus(run.ID, "completed"); err != nil {
		return RunSummary{}, fmt.Errorf("completing run: %w", err)
	}
	return summary, nil
}

func (p *Pipeline) execute(ctx context.Context, site storage.Site, runID string, custom []string) (RunSummary, error) {
	rootURL := ensureScheme(site.RootDomain)
	var limitations []string

	// Stage 1: measured render arbitration over a small page sample.
	samples := p.sampleURLs(ctx, rootURL, site.FoldHostVariants)
	decision, err := p.arbiter.Decide(ctx, samples)
	if err != nil {
		return RunSummary{}, fmt.Errorf("render arbitration: %w", err)
	}
	if decision.Degraded {
		limitations = append(limitations, "render_sampling_degraded")
	}
	if err := p.saveDecision(runID, decision); err != nil {
		return RunSummary{}, err
	}
	p.metrics.RenderDecisions.WithLabelValues(string(decision.Mode)).Inc()

	// Stage 2: bounded BFS crawl under the decided mode.
	crawlRes, err := p.scheduler.Run(ctx, rootURL, crawl.Bounds{MaxPages: site.MaxPages, MaxDepth: site.MaxDepth}, decision)
	if err != nil {
		return RunSummary{}, fmt.Errorf("crawling %s: %w", rootURL, err)
	}
	if n := len(crawlRes.RobotsSkipped); n > 0 {
		limitations = append(limitations, fmt.Sprintf("robots_disallowed_%d_urls", n))
	}
	for _, host := range crawlRes.PausedHosts {
		limitations = append(limitations, "host_paused_"+host)
	}

	// Stage 3: extraction and chunking. Pages are persisted even when they
	// fail downstream, so the report can account for every fetch.
	pages, docs, chunks, extractLims, err := p.extractAndChunk(site, runID, crawlRes.Pages)
	if err != nil {
		return RunSummary{}, err
	}
	limitations = append(limitations, extractLims...)
	if len(docs) == 0 {
		return RunSummary{}, fmt.Errorf("run %s: %w", runID, ErrNoContent)
	}

	// Stage 4: dual index build. Embedding failure degrades, never aborts.
	build, err := p.indexer.Build(ctx, runID, chunks)
	if err != nil {
		return RunSummary{}, fmt.Errorf("building index: %w", err)
	}
	if build.LexicalOnly {
		limitations = append(limitations, index.LimitationLexicalOnly)
	}

	// Stage 5: question generation against the fresh index.
	set, questions, omissions, err := p.generateQuestions(ctx, site, runID, rootURL, docs, custom, 1)
	if err != nil {
		return RunSummary{}, err
	}
	limitations = append(limitations, omissions...)

	// Stage 6: simulation and scoring across all budget bands.
	overalls, err := p.scoreSet(ctx, runID, set.ID, questions)
	if err != nil {
		return RunSummary{}, err
	}

	if err := p.saveLimitations(runID, limitations); err != nil {
		return RunSummary{}, err
	}

	return RunSummary{
		RunID:         runID,
		RenderMode:    string(decision.Mode),
		PagesCrawled:  len(pages),
		PagesIndexed:  len(docs),
		ChunksIndexed: build.ChunksIndexed,
		Questions:     len(questions),
		Overalls:      overalls,
		Limitations:   limitations,
	}, nil
}

// sampleURLs picks the arbitration sample: the root page plus the first
// same-site links it exposes, in sorted order for determinism.
func (p *Pipeline) sampleURLs(ctx context.Context, rootURL string, fold bool) []string {
	sampleSize := p.cfg.Render.SampleSize
	if sampleSize <= 0 {
		sampleSize = 3
	}
	urls := []string{rootURL}

	res, err := p.static.Fetch(ctx, rootURL)
	if err != nil || res.Status >= 400 {
		return urls
	}
	base, err := url.Parse(rootURL)
	if err != nil {
		return urls
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body))
	if err != nil {
		return urls
	}

	seen := map[string]struct{}{rootURL: {}}
	var candidates []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		normalized, err := crawl.Normalize(href, base, fold)
		if err != nil || crawl.Excluded(normalized) || !crawl.SameSite(base, normalized, fold) {
			return
		}
		if _, dup := seen[normalized]; dup {
			return
		}
		seen[normalized] = struct{}{}
		candidates = append(candidates, normalized)
	})
	sort.Strings(candidates)

	for _, u := range candidates {
		if len(urls) >= sampleSize {
			break
		}
		urls = append(urls, u)
	}
	return urls
}

func (p *Pipeline) saveDecision(runID string, d render.Decision) error {
	samplesJSON, err := json.Marshal(d.Samples)
	if err != nil {
		return fmt.Errorf("encoding render samples: %w", err)
	}
	if err := p.store.SaveRenderDecision(storage.RenderDecision{
		RunID:     runID,
		Mode:      string(d.Mode),
		Samples:   string(samplesJSON),
		Degraded:  d.Degraded,
		DecidedAt: d.DecidedAt,
	}); err != nil {
		return fmt.Errorf("saving render decision: %w", err)
	}
	if err := p.store.UpdateRunRenderMode(runID, string(d.Mode)); err != nil {
		return fmt.Errorf("updating run render mode: %w", err)
	}
	return nil
}

// extractAndChunk persists every crawled page, extracts the successful
// fetches and chunks everything above the low-content floor. The returned
// docs map is keyed by normalized page URL.
func (p *Pipeline) extractAndChunk(site storage.Site, runID string, crawled []crawl.PageData) ([]storage.Page, map[string]extract.Document, []storage.Chunk, []string, error) {
	var (
		pages       []storage.Page
		chunks      []storage.Chunk
		limitations []string
		failures    int
		lowContent  int
	)
	docs := make(map[string]extract.Document)

	for _, pd := range crawled {
		page := storage.Page{
			ID:            uuid.NewString(),
			SiteID:        site.ID,
			RunID:         runID,
			URL:           pd.URL,
			Depth:         pd.Depth,
			HTTPStatus:    pd.Status,
			RenderMode:    string(pd.RenderMode),
			ContentHash:   pd.ContentHash,
			FailureReason: pd.FailureReason,
			FetchedAt:     pd.FetchedAt,
		}
		if err := p.store.SavePage(page); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("saving page %s: %w", pd.URL, err)
		}
		pages = append(pages, page)

		if pd.FailureReason != "" {
			failures++
			continue
		}

		doc, err := p.extractor.Extract(pd.URL, pd.Body, pd.ContentType)
		if err != nil {
			p.log.Warn("extraction failed", "url", pd.URL, "error", err)
			failures++
			continue
		}
		if err := p.store.UpdatePageExtraction(page.ID, pd.ContentHash,
			doc.WordCount, doc.InternalLinks, doc.ExternalLinks, doc.LowContent); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("updating page %s: %w", pd.URL, err)
		}
		if doc.LowContent {
			lowContent++
			continue
		}
		docs[pd.URL] = doc

		for _, c := range p.chunker.Split(doc) {
			pathJSON, err := json.Marshal(c.HeadingPath)
			if err != nil {
				return nil, nil, nil, nil, fmt.Errorf("encoding heading path: %w", err)
			}
			chunks = append(chunks, storage.Chunk{
				ID:            uuid.NewString(),
				PageID:        page.ID,
				RunID:         runID,
				Ordinal:       c.Ordinal,
				Text:          c.Text,
				TokenCount:    c.TokenCount,
				HeadingPath:   string(pathJSON),
				StructType:    c.StructType,
				ContentHash:   c.ContentHash,
				PositionRatio: c.PositionRatio,
			})
		}
	}

	if len(chunks) > 0 {
		if err := p.store.SaveChunks(chunks); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("saving chunks: %w", err)
		}
	}
	if failures > 0 {
		limitations = append(limitations, fmt.Sprintf("crawl_failures_%d_pages", failures))
	}
	if lowContent > 0 {
		limitations = append(limitations, fmt.Sprintf("low_content_excluded_%d_pages", lowContent))
	}
	return pages, docs, chunks, limitations, nil
}

func (p *Pipeline) saveLimitations(runID string, limitations []string) error {
	if limitations == nil {
		limitations = []string{}
	}
	data, err := json.Marshal(limitations)
	if err != nil {
		return fmt.Errorf("encoding limitations: %w", err)
	}
	if err := p.store.UpdateRunLimitations(runID, string(data)); err != nil {
		return fmt.Errorf("saving limitations: %w", err)
	}
	return nil
}

func ensureScheme(domain string) string {
	if strings.Contains(domain, "://") {
		return domain
	}
	return "https://" + domain
}

// brandFromDomain turns "https://www.acme-corp.com" into "Acme-corp". Used
// as the [BRAND] substitution when the operator supplies nothing better.
func brandFromDomain(domain string) string {
	u, err := url.Parse(ensureScheme(domain))
	if err != nil || u.Hostname() == "" {
		return domain
	}
	host := strings.TrimPrefix(u.Hostname(), "www.")
	label, _, _ := strings.Cut(host, ".")
	if label == "" {
		return host
	}
	return strings.ToUpper(label[:1]) + label[1:]
}

package crawl

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"github.com/temoto/robotstxt"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/siteproof/siteproof/internal/render"
)

// Bounds limit a crawl run.
type Bounds struct {
	MaxPages int
	MaxDepth int
}

// PageData is one fetched page in BFS order. Failed fetches carry a
// FailureReason and an empty body; robots skips never become pages.
type PageData struct {
	URL           string
	Depth         int
	Status        int
	Body          []byte
	ContentType   string
	RenderMode    render.Mode
	ContentHash   string
	FailureReason string
	FetchedAt     time.Time
}

// Result is the crawl output plus the degradations the report must surface.
type Result struct {
	Pages         []PageData
	RobotsSkipped []string
	PausedHosts   []string
}

// Config tunes the scheduler.
type Config struct {
	Concurrency      int
	PageTimeout      time.Duration
	HostRatePerSec   float64
	UserAgent        string
	FoldHostVariants bool
}

// Scheduler performs a bounded breadth-first crawl: lower depths first,
// deterministic lexicographic order within a depth, never revisiting a
// normalized URL, and priority pages reserved under the page cap.
type Scheduler struct {
	cfg      Config
	headless render.Fetcher // used when the decision mode is rendered
	metrics  *Metrics
	logger   *slog.Logger

	mu       sync.Mutex
	robots   map[string]*robotsEntry
	limiters map[string]*rate.Limiter
}

type robotsEntry struct {
	group *robotstxt.Group
	delay time.Duration
}

func NewScheduler(cfg Config, headless render.Fetcher, metrics *Metrics, logger *slog.Logger) *Scheduler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = 20 * time.Second
	}
	if cfg.HostRatePerSec <= 0 {
		cfg.HostRatePerSec = 2
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:      cfg,
		headless: headless,
		metrics:  metrics,
		logger:   logger,
		robots:   make(map[string]*robotsEntry),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Run crawls from rootDomain under bounds using the render decision's mode
// for every fetch. Returns ErrRootUnreachable when the root yields nothing.
func (s *Scheduler) Run(ctx context.Context, rootDomain string, bounds Bounds, decision render.Decision) (Result, error) {
	root, err := url.Parse(rootDomain)
	if err != nil {
		return Result{}, fmt.Errorf("parsing root domain: %w", err)
	}
	if root.Scheme == "" {
		root, err = url.Parse("https://" + rootDomain)
		if err != nil {
			return Result{}, fmt.Errorf("parsing root domain: %w", err)
		}
	}
	rootNorm, err := Normalize(root.String(), nil, s.cfg.FoldHostVariants)
	if err != nil {
		return Result{}, fmt.Errorf("normalizing root: %w", err)
	}

	run := &crawlRun{
		scheduler: s,
		root:      root,
		bounds:    bounds,
		mode:      decision.Mode,
		breaker:   newHostBreaker(),
		visited:   map[string]bool{rootNorm: true},
		seenClass: map[string]bool{},
	}

	frontier := []string{rootNorm}
	for depth := 0; depth <= bounds.MaxDepth && len(frontier) > 0; depth++ {
		if ctx.Err() != nil {
			break
		}
		discovered, err := run.fetchLevel(ctx, frontier, depth)
		if err != nil {
			return Result{}, err
		}
		if depth == 0 && !run.rootReached() {
			return Result{}, ErrRootUnreachable
		}
		frontier = run.selectNext(discovered)
	}

	sort.Slice(run.pages, func(i, j int) bool {
		if run.pages[i].Depth != run.pages[j].Depth {
			return run.pages[i].Depth < run.pages[j].Depth
		}
		return run.pages[i].URL < run.pages[j].URL
	})
	sort.Strings(run.robotsSkipped)

	paused := run.breaker.PausedHosts()
	sort.Strings(paused)
	return Result{Pages: run.pages, RobotsSkipped: run.robotsSkipped, PausedHosts: paused}, nil
}

// crawlRun holds per-run state so Scheduler itself stays reusable.
type crawlRun struct {
	scheduler *Scheduler
	root      *url.URL
	bounds    Bounds
	mode      render.Mode
	breaker   *hostBreaker

	mu            sync.Mutex
	pages         []PageData
	visited       map[string]bool
	seenClass     map[string]bool
	robotsSkipped []string
	links         []string
}

func (r *crawlRun) rootReached() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.pages {
		if p.Depth == 0 && p.FailureReason == "" {
			return true
		}
	}
	return false
}

// fetchLevel fetches one BFS level and returns newly discovered candidate
// URLs (normalized, same-site, not excluded, not yet visited).
func (r *crawlRun) fetchLevel(ctx context.Context, frontier []string, depth int) ([]string, error) {
	r.mu.Lock()
	r.links = nil
	r.mu.Unlock()

	s := r.scheduler
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for _, u := range frontier {
		u := u
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil // stop issuing new work, keep partial results
			}
			r.fetchOne(gctx, u, depth)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	var discovered []string
	seen := map[string]bool{}
	for _, link := range r.links {
		norm, err := Normalize(link, nil, s.cfg.FoldHostVariants)
		if err != nil {
			continue
		}
		if r.visited[norm] || seen[norm] || !SameSite(r.root, norm, s.cfg.FoldHostVariants) || Excluded(norm) {
			continue
		}
		seen[norm] = true
		discovered = append(discovered, norm)
	}
	sort.Strings(discovered)
	return discovered, nil
}

func (r *crawlRun) fetchOne(ctx context.Context, pageURL string, depth int) {
	s := r.scheduler
	u, err := url.Parse(pageURL)
	if err != nil {
		return
	}
	host := u.Host

	if !r.breaker.Allow(host) {
		return
	}
	entry := s.robotsFor(ctx, u)
	if entry.group != nil && !entry.group.Test(u.Path) {
		s.metrics.RobotsSkips.Inc()
		r.mu.Lock()
		r.robotsSkipped = append(r.robotsSkipped, pageURL)
		r.mu.Unlock()
		return
	}
	if err := s.limiterFor(host, entry.delay).Wait(ctx); err != nil {
		return
	}

	start := time.Now()
	res, err := s.fetch(ctx, pageURL, r.mode)
	elapsed := time.Since(start)

	page := PageData{
		URL:        pageURL,
		Depth:      depth,
		Status:     res.Status,
		RenderMode: r.mode,
		FetchedAt:  time.Now().UTC(),
	}

	switch {
	case err != nil:
		fe := &FetchError{URL: pageURL, Err: err}
		page.FailureReason = fe.Reason()
		r.breaker.Failure(host)
		s.metrics.ObserveFetch("error", elapsed)
		s.logger.Warn("page fetch failed", "url", pageURL, "depth", depth, "error", err)
	case res.Status >= 400:
		fe := &FetchError{URL: pageURL, Status: res.Status}
		page.FailureReason = fe.Reason()
		r.breaker.Failure(host)
		s.metrics.ObserveFetch("http_error", elapsed)
	default:
		page.Body = res.Body
		page.ContentType = res.ContentTyp
		sum := sha256.Sum256(res.Body)
		page.ContentHash = hex.EncodeToString(sum[:])
		r.breaker.Success(host)
		s.metrics.ObserveFetch("ok", elapsed)
		s.metrics.PagesCrawled.Inc()

		r.mu.Lock()
		r.links = append(r.links, extractLinks(res.Body, pageURL)...)
		r.mu.Unlock()
	}

	r.mu.Lock()
	r.pages = append(r.pages, page)
	r.mu.Unlock()
}

// selectNext applies the page cap to discovered URLs: priority pages first
// (slots reserved for classes not yet crawled), the rest lexicographic.
func (r *crawlRun) selectNext(discovered []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	remaining := r.bounds.MaxPages - len(r.visited)
	if remaining <= 0 {
		return nil
	}

	var priority, normal []string
	for _, u := range discovered {
		if class := PriorityClass(u); class != "" && !r.seenClass[class] {
			priority = append(priority, u)
		} else {
			normal = append(normal, u)
		}
	}

	var next []string
	for _, u := range priority {
		if len(next) >= remaining {
			break
		}
		next = append(next, u)
		r.visited[u] = true
		r.seenClass[PriorityClass(u)] = true
	}
	for _, u := range normal {
		if len(next) >= remaining {
			break
		}
		next = append(next, u)
		r.visited[u] = true
	}
	sort.Strings(next)
	return next
}

// fetch retrieves one URL in the run's render mode with the page timeout.
func (s *Scheduler) fetch(ctx context.Context, pageURL string, mode render.Mode) (render.FetchResult, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.PageTimeout)
	defer cancel()

	if mode == render.ModeRendered && s.headless != nil {
		return s.headless.Fetch(fetchCtx, pageURL)
	}
	return s.staticFetch(fetchCtx, pageURL)
}

// staticFetch goes through a colly collector so static crawling shares its
// transport behavior (UA, redirects, body limits) with ad-hoc probe fetches.
func (s *Scheduler) staticFetch(ctx context.Context, pageURL string) (render.FetchResult, error) {
	c := colly.NewCollector(colly.UserAgent(s.cfg.UserAgent))
	c.SetRequestTimeout(s.cfg.PageTimeout)
	c.IgnoreRobotsTxt = true // robots already checked against the cached group

	var res render.FetchResult
	var fetchErr error
	c.OnResponse(func(resp *colly.Response) {
		res = render.FetchResult{
			URL:        pageURL,
			Status:     resp.StatusCode,
			Body:       resp.Body,
			Mode:       render.ModeStatic,
			FetchedAt:  time.Now().UTC(),
			ContentTyp: resp.Headers.Get("Content-Type"),
		}
	})
	c.OnError(func(resp *colly.Response, err error) {
		if resp != nil && resp.StatusCode != 0 {
			res = render.FetchResult{URL: pageURL, Status: resp.StatusCode, Mode: render.ModeStatic}
			return
		}
		fetchErr = err
	})

	visitErr := c.Visit(pageURL)
	c.Wait()

	if ctx.Err() != nil {
		return render.FetchResult{}, ctx.Err()
	}
	// Visit surfaces HTTP error statuses as errors; the OnError callback has
	// already captured the status, and the caller needs it to record the page.
	if res.Status != 0 {
		return res, nil
	}
	if fetchErr != nil {
		return render.FetchResult{}, fetchErr
	}
	if visitErr != nil {
		return render.FetchResult{}, visitErr
	}
	return res, nil
}

// robotsFor fetches and caches the robots group and crawl-delay for a host.
// Unreachable robots.txt allows everything, matching crawler convention.
func (s *Scheduler) robotsFor(ctx context.Context, u *url.URL) *robotsEntry {
	s.mu.Lock()
	if entry, ok := s.robots[u.Host]; ok {
		s.mu.Unlock()
		return entry
	}
	s.mu.Unlock()

	entry := &robotsEntry{}
	robotsURL := u.Scheme + "://" + u.Host + "/robots.txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err == nil {
		req.Header.Set("User-Agent", s.cfg.UserAgent)
		client := &http.Client{Timeout: s.cfg.PageTimeout}
		if resp, err := client.Do(req); err == nil {
			body, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			resp.Body.Close()
			if readErr == nil && resp.StatusCode == http.StatusOK {
				if data, err := robotstxt.FromBytes(body); err == nil {
					entry.group = data.FindGroup(s.cfg.UserAgent)
					if entry.group != nil {
						entry.delay = entry.group.CrawlDelay
					}
				}
			}
		}
	}

	s.mu.Lock()
	s.robots[u.Host] = entry
	s.mu.Unlock()
	return entry
}

// limiterFor returns the per-host limiter, honoring robots crawl-delay when
// it is stricter than the configured rate.
func (s *Scheduler) limiterFor(host string, crawlDelay time.Duration) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.limiters[host]; ok {
		return l
	}
	r := rate.Limit(s.cfg.HostRatePerSec)
	if crawlDelay > 0 {
		delayRate := rate.Every(crawlDelay)
		if delayRate < r {
			r = delayRate
		}
	}
	l := rate.NewLimiter(r, 1)
	s.limiters[host] = l
	return l
}

// extractLinks pulls anchor hrefs out of an HTML body, resolved against the
// page URL so relative links keep their directory context.
func extractLinks(body []byte, pageURL string) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "javascript:") ||
			strings.HasPrefix(href, "tel:") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		links = append(links, base.ResolveReference(ref).String())
	})
	return links
}

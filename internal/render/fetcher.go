package render

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/chromedp/chromedp"
)

// Mode is the site-wide fetch mode decided by the Arbiter.
type Mode string

const (
	ModeStatic   Mode = "static"
	ModeRendered Mode = "rendered"
)

// FetchResult is the shared output shape of both fetch paths, so downstream
// extraction never branches on how a page was retrieved.
type FetchResult struct {
	URL        string
	Status     int
	Body       []byte
	Mode       Mode
	FetchedAt  time.Time
	ContentTyp string
}

// Fetcher retrieves one page. StaticFetcher and HeadlessFetcher share the
// output shape; the Arbiter's decision selects which one the crawl uses.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResult, error)
}

// StaticFetcher performs a lightweight HTTP GET without script execution.
type StaticFetcher struct {
	Client    *http.Client
	UserAgent string
	MaxBody   int64
}

const defaultMaxBody = 10 << 20 // 10MB

func NewStaticFetcher(timeout time.Duration, userAgent string) *StaticFetcher {
	return &StaticFetcher{
		Client:    &http.Client{Timeout: timeout},
		UserAgent: userAgent,
		MaxBody:   defaultMaxBody,
	}
}

func (f *StaticFetcher) Fetch(ctx context.Context, url string) (FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return FetchResult{}, fmt.Errorf("building request for %s: %w", url, err)
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return FetchResult{}, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	maxBody := f.MaxBody
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return FetchResult{}, fmt.Errorf("reading %s: %w", url, err)
	}

	return FetchResult{
		URL:        url,
		Status:     resp.StatusCode,
		Body:       body,
		Mode:       ModeStatic,
		FetchedAt:  time.Now().UTC(),
		ContentTyp: resp.Header.Get("Content-Type"),
	}, nil
}

// RenderTimeoutError marks a headless render that exceeded its deadline. The
// caller falls back to static extraction for that page and flags the run's
// render confidence as reduced.
type RenderTimeoutError struct {
	URL string
}

func (e *RenderTimeoutError) Error() string {
	return fmt.Sprintf("rendering %s: timeout", e.URL)
}

// HeadlessFetcher retrieves pages through a headless browser. Render jobs run
// in their own bounded pool, never mixed into the static-fetch concurrency.
type HeadlessFetcher struct {
	timeout time.Duration
	sem     chan struct{}
}

func NewHeadlessFetcher(timeout time.Duration, poolSize int) *HeadlessFetcher {
	if poolSize <= 0 {
		poolSize = 2
	}
	return &HeadlessFetcher{
		timeout: timeout,
		sem:     make(chan struct{}, poolSize),
	}
}

func (f *HeadlessFetcher) Fetch(ctx context.Context, url string) (FetchResult, error) {
	select {
	case f.sem <- struct{}{}:
		defer func() { <-f.sem }()
	case <-ctx.Done():
		return FetchResult{}, ctx.Err()
	}

	renderCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	allocCtx, allocCancel := chromedp.NewContext(renderCtx)
	defer allocCancel()

	var html string
	err := chromedp.Run(allocCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		if renderCtx.Err() == context.DeadlineExceeded {
			return FetchResult{}, &RenderTimeoutError{URL: url}
		}
		return FetchResult{}, fmt.Errorf("rendering %s: %w", url, err)
	}

	return FetchResult{
		URL:       url,
		Status:    http.StatusOK,
		Body:      []byte(html),
		Mode:      ModeRendered,
		FetchedAt: time.Now().UTC(),
	}, nil
}

package crawl

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/siteproof/siteproof/internal/render"
)

// fixtureSite builds a small deterministic site for crawl tests.
func fixtureSite(t *testing.T, pages map[string]string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for path, body := range pages {
		body := body
		mux.HandleFunc(path, func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, body)
		})
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func page(title string, links ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<html><head><title>%s</title></head><body><h1>%s</h1>", title, title)
	for _, l := range links {
		fmt.Fprintf(&b, `<a href="%s">%s</a> `, l, l)
	}
	b.WriteString("<p>Some body text for the page so it is not empty.</p></body></html>")
	return b.String()
}

func testScheduler() *Scheduler {
	return NewScheduler(Config{
		Concurrency:    1, // deterministic fetch order in tests
		PageTimeout:    5 * time.Second,
		HostRatePerSec: 1000,
		UserAgent:      "siteproof-test",
	}, nil, nil, nil)
}

func crawlFixture(t *testing.T, srv *httptest.Server, bounds Bounds) Result {
	t.Helper()
	s := testScheduler()
	res, err := s.Run(context.Background(), srv.URL, bounds, render.Decision{Mode: render.ModeStatic})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return res
}

func TestCrawlBFSOrderAndBounds(t *testing.T) {
	srv := fixtureSite(t, map[string]string{
		"/":     page("Home", "/b", "/a"),
		"/a":    page("A", "/deep"),
		"/b":    page("B"),
		"/deep": page("Deep"),
	})

	res := crawlFixture(t, srv, Bounds{MaxPages: 10, MaxDepth: 1})

	var urls []string
	for _, p := range res.Pages {
		urls = append(urls, p.URL)
	}
	want := []string{srv.URL + "/", srv.URL + "/a", srv.URL + "/b"}
	if len(urls) != len(want) {
		t.Fatalf("pages = %v, want %v", urls, want)
	}
	for i := range want {
		if urls[i] != want[i] {
			t.Errorf("page %d = %s, want %s", i, urls[i], want[i])
		}
	}
	// Depth bound excluded /deep.
	for _, p := range res.Pages {
		if strings.HasSuffix(p.URL, "/deep") {
			t.Error("depth bound violated: /deep crawled at max_depth=1")
		}
	}
}

// Crawling the same unchanged site twice yields an identical page set.
func TestCrawlDeterministic(t *testing.T) {
	srv := fixtureSite(t, map[string]string{
		"/":  page("Home", "/x", "/y", "/z"),
		"/x": page("X"),
		"/y": page("Y"),
		"/z": page("Z"),
	})

	first := crawlFixture(t, srv, Bounds{MaxPages: 10, MaxDepth: 2})
	second := crawlFixture(t, srv, Bounds{MaxPages: 10, MaxDepth: 2})

	if len(first.Pages) != len(second.Pages) {
		t.Fatalf("page counts differ: %d vs %d", len(first.Pages), len(second.Pages))
	}
	for i := range first.Pages {
		a, b := first.Pages[i], second.Pages[i]
		if a.URL != b.URL || a.Depth != b.Depth || a.ContentHash != b.ContentHash {
			t.Errorf("page %d differs: %s/%d/%s vs %s/%d/%s",
				i, a.URL, a.Depth, a.ContentHash, b.URL, b.Depth, b.ContentHash)
		}
	}
}

func TestCrawlNeverRevisitsNormalizedURL(t *testing.T) {
	srv := fixtureSite(t, map[string]string{
		"/":  page("Home", "/a", "/a/", "/a#section", "/a?utm_source=tw"),
		"/a": page("A"),
	})

	res := crawlFixture(t, srv, Bounds{MaxPages: 10, MaxDepth: 2})

	seen := map[string]int{}
	for _, p := range res.Pages {
		seen[p.URL]++
	}
	for u, n := range seen {
		if n > 1 {
			t.Errorf("URL %s crawled %d times", u, n)
		}
	}
	if len(res.Pages) != 2 {
		t.Errorf("expected 2 pages (variants collapse), got %d", len(res.Pages))
	}
}

// Priority pages survive the page cap even when lexicographic BFS order
// would drop them.
func TestCrawlPriorityOverrideUnderCap(t *testing.T) {
	links := []string{"/pricing"}
	fixtures := map[string]string{"/pricing": page("Pricing")}
	// Lexicographically earlier filler pages that would fill the cap.
	for i := 0; i < 8; i++ {
		path := fmt.Sprintf("/a%d", i)
		links = append(links, path)
		fixtures[path] = page(path)
	}
	fixtures["/"] = page("Home", links...)

	srv := fixtureSite(t, fixtures)
	res := crawlFixture(t, srv, Bounds{MaxPages: 4, MaxDepth: 1})

	found := false
	for _, p := range res.Pages {
		if strings.HasSuffix(p.URL, "/pricing") {
			found = true
		}
	}
	if !found {
		t.Error("pricing page dropped under page cap despite priority override")
	}
	if len(res.Pages) > 4 {
		t.Errorf("page cap exceeded: %d pages", len(res.Pages))
	}
}

func TestCrawlSingleFailureDoesNotAbort(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			fmt.Fprint(w, page("Home", "/ok", "/broken"))
		case "/ok":
			fmt.Fprint(w, page("OK"))
		case "/broken":
			http.Error(w, "boom", http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	res := crawlFixture(t, srv, Bounds{MaxPages: 10, MaxDepth: 1})

	var okSeen, brokenSeen bool
	for _, p := range res.Pages {
		if strings.HasSuffix(p.URL, "/ok") && p.FailureReason == "" {
			okSeen = true
		}
		if strings.HasSuffix(p.URL, "/broken") && p.FailureReason == "http_500" {
			brokenSeen = true
			if p.Status != http.StatusInternalServerError {
				t.Errorf("failed page status = %d, want 500", p.Status)
			}
		}
	}
	if !okSeen {
		t.Error("healthy sibling page missing after single failure")
	}
	if !brokenSeen {
		t.Error("failed page not recorded with failure reason")
	}
}

func TestCrawlHostBreakerPausesAfterThreeFailures(t *testing.T) {
	var fetches []string
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fetches = append(fetches, r.URL.Path)
		if r.URL.Path == "/" {
			fmt.Fprint(w, page("Home", "/f1", "/f2", "/f3", "/f4"))
			return
		}
		http.Error(w, "boom", http.StatusBadGateway)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	res := crawlFixture(t, srv, Bounds{MaxPages: 10, MaxDepth: 1})

	if len(res.PausedHosts) != 1 {
		t.Fatalf("expected 1 paused host, got %v", res.PausedHosts)
	}
	// f4 must not have been fetched: the breaker tripped at f3.
	for _, path := range fetches {
		if path == "/f4" {
			t.Error("fetch issued to paused host after breaker tripped")
		}
	}
}

func TestCrawlRespectsRobots(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "User-agent: *\nDisallow: /private\n")
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			fmt.Fprint(w, page("Home", "/public", "/private"))
		case "/public":
			fmt.Fprint(w, page("Public"))
		case "/private":
			t.Error("disallowed path was fetched")
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	res := crawlFixture(t, srv, Bounds{MaxPages: 10, MaxDepth: 1})

	if len(res.RobotsSkipped) != 1 || !strings.HasSuffix(res.RobotsSkipped[0], "/private") {
		t.Errorf("robots skip not recorded: %v", res.RobotsSkipped)
	}
	for _, p := range res.Pages {
		if strings.HasSuffix(p.URL, "/private") {
			t.Error("disallowed URL present in page set")
		}
	}
}

func TestCrawlRootUnreachableIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	s := testScheduler()
	_, err := s.Run(context.Background(), srv.URL, Bounds{MaxPages: 5, MaxDepth: 1}, render.Decision{Mode: render.ModeStatic})
	if err != ErrRootUnreachable {
		t.Errorf("expected ErrRootUnreachable, got %v", err)
	}
}

func TestCrawlFacetedURLsExcluded(t *testing.T) {
	srv := fixtureSite(t, map[string]string{
		"/":         page("Home", "/products?sort=price", "/products"),
		"/products": page("Products"),
	})

	res := crawlFixture(t, srv, Bounds{MaxPages: 10, MaxDepth: 1})

	for _, p := range res.Pages {
		if strings.Contains(p.URL, "sort=") {
			t.Errorf("faceted URL crawled: %s", p.URL)
		}
	}
}

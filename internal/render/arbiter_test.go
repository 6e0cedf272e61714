package render

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

// fakeFetcher serves canned bodies per URL.
type fakeFetcher struct {
	bodies map[string]string
	mode   Mode
	err    error
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (FetchResult, error) {
	if f.err != nil {
		return FetchResult{}, f.err
	}
	body, ok := f.bodies[url]
	if !ok {
		return FetchResult{}, fmt.Errorf("no body for %s", url)
	}
	return FetchResult{URL: url, Status: 200, Body: []byte(body), Mode: f.mode}, nil
}

func defaultThresholds() Thresholds {
	return Thresholds{WordDeltaMin: 50, DeltaRatioMin: 0.20, SimilarityMin: 0.70}
}

func wordsHTML(n int, prefix string) string {
	var b strings.Builder
	b.WriteString("<html><body><p>")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "%s%d ", prefix, i)
	}
	b.WriteString("</p></body></html>")
	return b.String()
}

// A page whose static extraction yields 40 words and whose rendered
// extraction yields 400 (delta 360, ratio 0.9) must flip the site to rendered.
func TestDecideFlipsToRenderedOnLargeDelta(t *testing.T) {
	url := "https://example.com/"
	static := &fakeFetcher{bodies: map[string]string{url: wordsHTML(40, "w")}, mode: ModeStatic}
	headless := &fakeFetcher{bodies: map[string]string{url: wordsHTML(400, "w")}, mode: ModeRendered}

	a := NewArbiter(static, headless, defaultThresholds(), nil)
	d, err := a.Decide(context.Background(), []string{url})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Mode != ModeRendered {
		t.Errorf("mode = %s, want rendered", d.Mode)
	}
	if len(d.Samples) != 1 || !d.Samples[0].RenderRequired {
		t.Errorf("sample not marked render-required: %+v", d.Samples)
	}
	if d.Samples[0].WordDelta < 350 {
		t.Errorf("word delta = %d, want >= 350", d.Samples[0].WordDelta)
	}
}

func TestDecideStaysStaticWhenContentMatches(t *testing.T) {
	urls := []string{"https://example.com/", "https://example.com/about", "https://example.com/pricing"}
	bodies := map[string]string{}
	for _, u := range urls {
		bodies[u] = wordsHTML(200, "same")
	}
	static := &fakeFetcher{bodies: bodies, mode: ModeStatic}
	headless := &fakeFetcher{bodies: bodies, mode: ModeRendered}

	a := NewArbiter(static, headless, defaultThresholds(), nil)
	d, err := a.Decide(context.Background(), urls)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Mode != ModeStatic {
		t.Errorf("mode = %s, want static", d.Mode)
	}
}

// Majority vote: one divergent page out of three is not enough.
func TestDecideMajorityVote(t *testing.T) {
	urls := []string{"https://example.com/", "https://example.com/a", "https://example.com/b"}
	staticBodies := map[string]string{}
	renderedBodies := map[string]string{}
	for _, u := range urls {
		staticBodies[u] = wordsHTML(200, "base")
		renderedBodies[u] = wordsHTML(200, "base")
	}
	// Only the home page needs rendering.
	staticBodies[urls[0]] = wordsHTML(40, "base")
	renderedBodies[urls[0]] = wordsHTML(400, "other")

	a := NewArbiter(
		&fakeFetcher{bodies: staticBodies, mode: ModeStatic},
		&fakeFetcher{bodies: renderedBodies, mode: ModeRendered},
		defaultThresholds(), nil)
	d, err := a.Decide(context.Background(), urls)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Mode != ModeStatic {
		t.Errorf("mode = %s, want static (1 of 3 votes)", d.Mode)
	}
}

// A render timeout falls back to static for that sample and degrades the
// decision instead of failing it.
func TestDecideRenderTimeoutDegrades(t *testing.T) {
	url := "https://example.com/"
	static := &fakeFetcher{bodies: map[string]string{url: wordsHTML(100, "w")}, mode: ModeStatic}
	headless := &fakeFetcher{err: &RenderTimeoutError{URL: url}}

	a := NewArbiter(static, headless, defaultThresholds(), nil)
	d, err := a.Decide(context.Background(), []string{url})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if !d.Degraded {
		t.Error("expected degraded decision after render timeout")
	}
	if d.Mode != ModeStatic {
		t.Errorf("mode = %s, want static fallback", d.Mode)
	}
}

// Only timeouts get the static fallback; a crashed render skips the sample
// without degrading the vote.
func TestDecideNonTimeoutRenderFailureSkipsSample(t *testing.T) {
	urls := []string{"https://example.com/", "https://example.com/a"}
	staticBodies := map[string]string{
		urls[0]: wordsHTML(200, "w"),
		urls[1]: wordsHTML(200, "w"),
	}
	renderedBodies := map[string]string{
		urls[1]: wordsHTML(200, "w"),
	}

	a := NewArbiter(
		&fakeFetcher{bodies: staticBodies, mode: ModeStatic},
		&fakeFetcher{bodies: renderedBodies, mode: ModeRendered},
		defaultThresholds(), nil)
	d, err := a.Decide(context.Background(), urls)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if len(d.Samples) != 1 {
		t.Fatalf("samples = %d, want 1 (failed render skipped)", len(d.Samples))
	}
	if d.Samples[0].RenderFailed {
		t.Error("surviving sample marked render-failed")
	}
	if d.Degraded {
		t.Error("non-timeout failure must not degrade the decision")
	}
}

func TestVisibleWordsSkipsScripts(t *testing.T) {
	body := `<html><body><p>hello world</p><script>var x = "ignored tokens here";</script></body></html>`
	words := VisibleWords([]byte(body))
	if len(words) != 2 {
		t.Errorf("words = %v, want [hello world]", words)
	}
}

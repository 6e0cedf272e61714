package render

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// SampleDelta is the measured render delta for one sampled page.
type SampleDelta struct {
	URL            string  `json:"url"`
	StaticWords    int     `json:"static_words"`
	RenderedWords  int     `json:"rendered_words"`
	WordDelta      int     `json:"word_delta"`
	DeltaRatio     float64 `json:"delta_ratio"`
	Similarity     float64 `json:"similarity"`
	RenderRequired bool    `json:"render_required"`
	RenderFailed   bool    `json:"render_failed,omitempty"`
}

// Decision is the immutable site-wide render mode record for a run. It is
// computed once from the sample and passed explicitly to every subsequent
// fetch; no ambient shared state.
type Decision struct {
	Mode      Mode          `json:"mode"`
	Samples   []SampleDelta `json:"samples"`
	Degraded  bool          `json:"degraded"`
	DecidedAt time.Time     `json:"decided_at"`
}

// Thresholds parameterize the render-required trigger.
type Thresholds struct {
	WordDeltaMin  int     // default 50
	DeltaRatioMin float64 // default 0.20
	SimilarityMin float64 // default 0.70
}

// Arbiter measures the render delta on a page sample and promotes per-page
// verdicts to a site-wide decision by majority vote. The decision is always
// measured, never guessed from technology fingerprinting.
type Arbiter struct {
	static     Fetcher
	headless   Fetcher
	thresholds Thresholds
	logger     *slog.Logger
}

func NewArbiter(static, headless Fetcher, t Thresholds, logger *slog.Logger) *Arbiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Arbiter{static: static, headless: headless, thresholds: t, logger: logger}
}

// Decide fetches each sample URL both ways, computes deltas, and majority-votes
// the site-wide mode. A render timeout on a sample falls back to static for
// that page and degrades decision confidence.
func (a *Arbiter) Decide(ctx context.Context, sampleURLs []string) (Decision, error) {
	d := Decision{Mode: ModeStatic, DecidedAt: time.Now().UTC()}

	votes := 0
	for _, u := range sampleURLs {
		sd, err := a.sampleDelta(ctx, u)
		if err != nil {
			if ctx.Err() != nil {
				return Decision{}, ctx.Err()
			}
			a.logger.Warn("render sample failed", "url", u, "error", err)
			continue
		}
		if sd.RenderFailed {
			d.Degraded = true
		}
		if sd.RenderRequired {
			votes++
		}
		d.Samples = append(d.Samples, sd)
	}

	if len(d.Samples) > 0 && votes*2 > len(d.Samples) {
		d.Mode = ModeRendered
	}
	a.logger.Info("render decision", "mode", d.Mode, "votes", votes, "samples", len(d.Samples), "degraded", d.Degraded)
	return d, nil
}

func (a *Arbiter) sampleDelta(ctx context.Context, url string) (SampleDelta, error) {
	staticRes, err := a.static.Fetch(ctx, url)
	if err != nil {
		return SampleDelta{}, err
	}
	staticWords := VisibleWords(staticRes.Body)

	sd := SampleDelta{URL: url, StaticWords: len(staticWords)}

	renderedRes, err := a.headless.Fetch(ctx, url)
	if err != nil {
		var timeout *RenderTimeoutError
		if errors.As(err, &timeout) {
			// Fall back to the static extraction for this sample.
			sd.RenderFailed = true
			sd.RenderedWords = sd.StaticWords
			sd.Similarity = 1
			return sd, nil
		}
		return SampleDelta{}, err
	}
	renderedWords := VisibleWords(renderedRes.Body)

	sd.RenderedWords = len(renderedWords)
	sd.WordDelta = sd.RenderedWords - sd.StaticWords
	if sd.WordDelta < 0 {
		sd.WordDelta = -sd.WordDelta
	}
	if larger := max(sd.RenderedWords, 1); larger > 0 {
		sd.DeltaRatio = float64(sd.WordDelta) / float64(larger)
	}
	sd.Similarity = jaccard(tokenSet(staticWords), tokenSet(renderedWords))

	t := a.thresholds
	sd.RenderRequired = (sd.WordDelta >= t.WordDeltaMin && sd.DeltaRatio >= t.DeltaRatioMin) ||
		sd.Similarity < t.SimilarityMin
	return sd, nil
}

// VisibleWords extracts the visible text tokens of an HTML document,
// skipping script, style and noscript subtrees.
func VisibleWords(body []byte) []string {
	tokenizer := html.NewTokenizer(strings.NewReader(string(body)))
	var words []string
	skipDepth := 0
	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return words
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			if skippedTag(string(name)) {
				skipDepth++
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			if skippedTag(string(name)) && skipDepth > 0 {
				skipDepth--
			}
		case html.TextToken:
			if skipDepth == 0 {
				words = append(words, strings.Fields(string(tokenizer.Text()))...)
			}
		}
	}
}

func skippedTag(name string) bool {
	switch name {
	case "script", "style", "noscript", "template":
		return true
	}
	return false
}

func tokenSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[strings.ToLower(w)] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 1
	}
	return float64(inter) / float64(union)
}

package question

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/siteproof/siteproof/internal/storage"
)

// Category values for generated questions.
const (
	CategoryUniversal   = "universal"
	CategorySiteDerived = "site_derived"
	CategoryAdaptive    = "adaptive"
	CategoryCustom      = "custom"
)

// Omission reasons recorded instead of fabricated questions.
const (
	OmissionAmbiguousGeneration = "ambiguous_generation_no_site_signals"
	OmissionLowModelConfidence  = "adaptive_skipped_low_classification_confidence"
	OmissionUnknownModel        = "adaptive_skipped_unknown_business_model"
)

// EvidenceChecker verifies that at least one indexed chunk supports a claim.
// The lexical index implements this; vector search is not needed for a
// keyword presence check.
type EvidenceChecker interface {
	HasEvidence(ctx context.Context, runID, text string) (bool, error)
}

// Config bounds the generated set.
type Config struct {
	SiteDerivedCap    int     // default 5
	AdaptiveCap       int     // default 5
	CustomCap         int     // plan-dependent, default 5
	AdaptiveThreshold float64 // business-model confidence gate, default 0.75
}

func (c Config) withDefaults() Config {
	if c.SiteDerivedCap <= 0 {
		c.SiteDerivedCap = 5
	}
	if c.AdaptiveCap <= 0 {
		c.AdaptiveCap = 5
	}
	if c.CustomCap <= 0 {
		c.CustomCap = 5
	}
	if c.AdaptiveThreshold <= 0 {
		c.AdaptiveThreshold = 0.75
	}
	return c
}

// GeneratedSet is the output of one generation pass, not yet persisted.
type GeneratedSet struct {
	Questions []storage.Question // ordinal order: universal, site-derived, adaptive, custom
	Omissions []string           // reasons site-derived or adaptive questions were withheld
}

// Generator produces question sets from site signals. Generation is
// deterministic: unchanged signals and custom questions always yield the
// same texts in the same order.
type Generator struct {
	rules    []Rule
	evidence EvidenceChecker
	cfg      Config
}

func NewGenerator(rules []Rule, evidence EvidenceChecker, cfg Config) *Generator {
	return &Generator{rules: rules, evidence: evidence, cfg: cfg.withDefaults()}
}

// sourcePriority orders selection classes when candidates exceed the cap.
var sourcePriority = map[string]int{
	"faq":    0,
	"policy": 1,
	"nav":    2,
	"claim":  3,
}

// Generate runs the cascade and assembles the four question lists.
func (g *Generator) Generate(ctx context.Context, runID string, sig Signals, custom []string) (GeneratedSet, error) {
	var set GeneratedSet
	ordinal := 0
	add := func(category, rule, text string, confidence float64) {
		set.Questions = append(set.Questions, storage.Question{
			ID:         uuid.New().String(),
			Category:   category,
			Rule:       rule,
			Text:       text,
			Confidence: confidence,
			Ordinal:    ordinal,
		})
		ordinal++
	}

	for _, template := range universalTemplates {
		add(CategoryUniversal, "universal", Substitute(template, sig.Brand), 1.0)
	}

	derived, err := g.siteDerived(ctx, runID, sig)
	if err != nil {
		return GeneratedSet{}, err
	}
	if len(derived) == 0 {
		// The cascade found nothing qualifying. Record the gap; a fabricated
		// question would poison scoring.
		set.Omissions = append(set.Omissions, OmissionAmbiguousGeneration)
	}
	for _, c := range derived {
		add(CategorySiteDerived, c.Rule, c.Text, c.Confidence)
	}

	switch {
	case sig.BusinessModel == "":
		set.Omissions = append(set.Omissions, OmissionUnknownModel)
	case sig.BusinessModelCnf < g.cfg.AdaptiveThreshold:
		set.Omissions = append(set.Omissions,
			fmt.Sprintf("%s model=%s confidence=%.2f threshold=%.2f",
				OmissionLowModelConfidence, sig.BusinessModel, sig.BusinessModelCnf, g.cfg.AdaptiveThreshold))
	default:
		templates, ok := adaptiveTemplates[sig.BusinessModel]
		if !ok {
			set.Omissions = append(set.Omissions, OmissionUnknownModel)
			break
		}
		if len(templates) > g.cfg.AdaptiveCap {
			templates = templates[:g.cfg.AdaptiveCap]
		}
		for _, template := range templates {
			add(CategoryAdaptive, "adaptive_"+sig.BusinessModel, Substitute(template, sig.Brand), sig.BusinessModelCnf)
		}
	}

	if len(custom) > g.cfg.CustomCap {
		custom = custom[:g.cfg.CustomCap]
	}
	for _, text := range custom {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		add(CategoryCustom, "custom", text, 1.0)
	}

	return set, nil
}

// siteDerived evaluates the cascade, verifies claim candidates against the
// index, and selects at most SiteDerivedCap winners.
func (g *Generator) siteDerived(ctx context.Context, runID string, sig Signals) ([]Candidate, error) {
	var candidates []Candidate
	for _, rule := range g.rules {
		for _, c := range rule.Evaluate(sig) {
			if c.Source == "claim" {
				if g.evidence == nil {
					continue
				}
				ok, err := g.evidence.HasEvidence(ctx, runID, c.ClaimText)
				if err != nil {
					return nil, fmt.Errorf("verifying claim %q: %w", c.ClaimText, err)
				}
				if !ok {
					continue
				}
			}
			candidates = append(candidates, c)
		}
	}

	// Dedup by normalized text, first occurrence wins (cascade order).
	seen := make(map[string]struct{}, len(candidates))
	deduped := candidates[:0]
	for _, c := range candidates {
		key := strings.ToLower(strings.TrimSpace(c.Text))
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		deduped = append(deduped, c)
	}

	sort.SliceStable(deduped, func(i, j int) bool {
		pi, pj := sourcePriority[deduped[i].Source], sourcePriority[deduped[j].Source]
		if pi != pj {
			return pi < pj
		}
		if deduped[i].Confidence != deduped[j].Confidence {
			return deduped[i].Confidence > deduped[j].Confidence
		}
		return deduped[i].Text < deduped[j].Text
	})

	if len(deduped) > g.cfg.SiteDerivedCap {
		deduped = deduped[:g.cfg.SiteDerivedCap]
	}
	return deduped, nil
}

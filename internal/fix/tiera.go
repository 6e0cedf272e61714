package fix

import (
	"context"
	"fmt"

	"github.com/siteproof/siteproof/internal/scoring"
	"github.com/siteproof/siteproof/internal/storage"
)

// FullRescorer runs a complete re-crawl and re-score. Supplied by the
// pipeline; estimation never triggers it implicitly.
type FullRescorer interface {
	RecrawlAndScore(ctx context.Context, f storage.Fix, bands []scoring.Band) (Estimate, error)
}

// TierAEstimator delegates to a full pipeline run. Reserved for
// post-implementation verification of an applied fix.
type TierAEstimator struct {
	runner FullRescorer
}

func NewTierA(runner FullRescorer) *TierAEstimator {
	return &TierAEstimator{runner: runner}
}

func (t *TierAEstimator) Estimate(ctx context.Context, f storage.Fix, bands []scoring.Band) (Estimate, error) {
	est, err := t.runner.RecrawlAndScore(ctx, f, bands)
	if err != nil {
		return Estimate{}, fmt.Errorf("full re-score for fix %s: %w", f.ID, err)
	}
	est.Tier = TierA
	return est, nil
}

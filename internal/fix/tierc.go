package fix

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/siteproof/siteproof/internal/scoring"
	"github.com/siteproof/siteproof/internal/storage"
)

// liftRange is a historical score lift observed for a fix category.
type liftRange struct {
	Min float64
	Max float64
}

// historicalLifts maps fix categories (which mirror failure reason codes)
// to lift ranges in overall-score points. Derived from prior estimation
// runs; a category absent here falls back to a conservative default.
var historicalLifts = map[string]liftRange{
	scoring.ReasonMissingPricing:    {4, 9},
	scoring.ReasonMissingDefinition: {3, 7},
	scoring.ReasonBuriedAnswer:      {2, 5},
	scoring.ReasonNotCitable:        {2, 4},
	scoring.ReasonTrustGap:          {1, 4},
	scoring.ReasonConflict:          {3, 8},
}

var defaultLift = liftRange{1, 3}

// TierCEstimator answers from the lift table without touching the index. O(1) per
// estimate regardless of question-set size; the default tier.
type TierCEstimator struct {
	baseline float64 // current overall score under the typical band
}

func NewTierC(baselineOverall float64) *TierCEstimator {
	return &TierCEstimator{baseline: baselineOverall}
}

func (t *TierCEstimator) Estimate(_ context.Context, f storage.Fix, _ []scoring.Band) (Estimate, error) {
	lift, ok := historicalLifts[f.Category]
	if !ok {
		lift = defaultLift
	}

	var affected []string
	if f.QuestionIDs != "" {
		if err := json.Unmarshal([]byte(f.QuestionIDs), &affected); err != nil {
			return Estimate{}, fmt.Errorf("parsing fix question ids: %w", err)
		}
	}

	return Estimate{
		Tier:                TierC,
		LiftMin:             lift.Min,
		LiftMax:             lift.Max,
		NewScoreMin:         clampScore(t.baseline + lift.Min),
		NewScoreMax:         clampScore(t.baseline + lift.Max),
		AffectedQuestionIDs: affected,
	}, nil
}

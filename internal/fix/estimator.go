package fix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/siteproof/siteproof/internal/scoring"
	"github.com/siteproof/siteproof/internal/storage"
)

// Estimation tiers. The tier is a caller decision, not fix metadata.
const (
	TierA = "A" // full re-crawl and re-score, explicit invocation only
	TierB = "B" // patched-index re-score of the affected subset
	TierC = "C" // historical lift table, no re-scoring
)

// Estimate is the outcome of one estimation, tagged with the tier that
// produced it and the question subset it examined.
type Estimate struct {
	Tier                string
	LiftMin             float64
	LiftMax             float64
	NewScoreMin         float64
	NewScoreMax         float64
	AffectedQuestionIDs []string
	RescoredCount       int // grading calls spent, for cost auditing
}

// Estimator is the uniform contract all three tiers implement.
type Estimator interface {
	Estimate(ctx context.Context, f storage.Fix, bands []scoring.Band) (Estimate, error)
}

// Estimators dispatches a tier tag to its implementation.
type Estimators struct {
	C Estimator
	B Estimator
	A Estimator
}

// ForTier resolves a tier tag. Tier A with no configured runner fails here
// rather than at estimate time.
func (e Estimators) ForTier(tier string) (Estimator, error) {
	switch tier {
	case TierC:
		if e.C == nil {
			return nil, errors.New("tier C estimator not configured")
		}
		return e.C, nil
	case TierB:
		if e.B == nil {
			return nil, errors.New("tier B estimator not configured")
		}
		return e.B, nil
	case TierA:
		if e.A == nil {
			return nil, errors.New("tier A requires an explicitly configured full-rescore runner")
		}
		return e.A, nil
	default:
		return nil, fmt.Errorf("unknown estimation tier %q", tier)
	}
}

// ToFixEstimate converts an estimate into its storage row.
func ToFixEstimate(fixID string, est Estimate) (storage.FixEstimate, error) {
	ids, err := json.Marshal(est.AffectedQuestionIDs)
	if err != nil {
		return storage.FixEstimate{}, err
	}
	return storage.FixEstimate{
		ID:          uuid.New().String(),
		FixID:       fixID,
		Tier:        est.Tier,
		LiftMin:     est.LiftMin,
		LiftMax:     est.LiftMax,
		NewScoreMin: est.NewScoreMin,
		NewScoreMax: est.NewScoreMax,
		AffectedIDs: string(ids),
		CreatedAt:   time.Now().UTC(),
	}, nil
}

func clampScore(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 100 {
		return 100
	}
	return x
}

package scoring

import (
	"math"
	"sort"
)

// Report is the JSON contract handed to the scheduler and UI.
type Report struct {
	SiteID      string            `json:"site_id"`
	RunID       string            `json:"run_id"`
	Bands       []BandReport      `json:"bands"`
	TopBlockers []Blocker         `json:"top_blockers"`
	Limitations []string          `json:"limitations"`
	Divergence  *DivergenceReport `json:"divergence,omitempty"`
}

// BandReport is one band's score with its full question trace.
type BandReport struct {
	Band        string           `json:"band"`
	TokenBudget int              `json:"token_budget"`
	Overall     float64          `json:"overall"`
	Categories  []CategoryScore  `json:"categories"`
	Questions   []QuestionReport `json:"questions"`
	Conflicts   []Conflict       `json:"conflicts,omitempty"`
	NeedsReview []string         `json:"needs_human_review,omitempty"`
}

// QuestionReport is one graded question with its evidence excerpt.
type QuestionReport struct {
	Question   string   `json:"question"`
	Category   string   `json:"category"`
	Rule       string   `json:"rule,omitempty"`
	Passed     bool     `json:"passed"`
	ReasonCode string   `json:"reason_code,omitempty"`
	Confidence float64  `json:"confidence"`
	ChunkIDs   []string `json:"chunk_ids"`
	DroppedIDs []string `json:"dropped_over_budget,omitempty"`
	Evidence   string   `json:"evidence,omitempty"`
}

// Blocker aggregates a failure reason across questions and bands.
type Blocker struct {
	ReasonCode string   `json:"reason_code"`
	Count      int      `json:"count"`
	Questions  []string `json:"questions"`
}

// DivergenceReport compares the simulated estimate with observed outcomes
// supplied by the external observation layer. The bucket is informational;
// what downstream does with a divergent run is policy, not pipeline logic.
type DivergenceReport struct {
	SimulatedPassRate float64 `json:"simulated_pass_rate"`
	ObservedPassRate  float64 `json:"observed_pass_rate"`
	MentionRate       float64 `json:"mention_rate"`
	Gap               float64 `json:"gap"`
	// Bucket is "aligned", "simulation_optimistic" or "simulation_pessimistic".
	Bucket string `json:"bucket"`
	// HeadlineSource is "simulated" or "observed" per the divergence policy.
	HeadlineSource   string  `json:"headline_source"`
	HeadlinePassRate float64 `json:"headline_pass_rate"`
}

// DivergencePolicy controls bucket classification and whether observed
// outcomes replace the simulated pass rate as the headline when the two
// disagree beyond the threshold.
type DivergencePolicy struct {
	Threshold      float64 // gap above which the run counts as divergent
	PreferObserved bool
}

// BuildReport assembles the report from per-band results and scores.
// limitations carries every non-fatal degradation recorded during the run;
// silent degradation is disallowed.
func BuildReport(siteID, runID string, bands []BandResult, overalls []float64, categories [][]CategoryScore, limitations []string) Report {
	report := Report{
		SiteID:      siteID,
		RunID:       runID,
		Limitations: limitations,
	}
	if report.Limitations == nil {
		report.Limitations = []string{}
	}

	blockerCount := make(map[string]int)
	blockerQuestions := make(map[string]map[string]struct{})

	for i, br := range bands {
		bandReport := BandReport{
			Band:        br.Band.Name,
			TokenBudget: br.Band.TokenBudget,
			Overall:     overalls[i],
			Categories:  categories[i],
			Conflicts:   br.Conflicts,
			NeedsReview: br.NeedsReview,
		}
		for _, g := range br.Results {
			chunkIDs := make([]string, len(g.Admitted))
			for j, ch := range g.Admitted {
				chunkIDs[j] = ch.ID
			}
			bandReport.Questions = append(bandReport.Questions, QuestionReport{
				Question:   g.Question.Text,
				Category:   g.Question.Category,
				Rule:       g.Question.Rule,
				Passed:     g.Passed,
				ReasonCode: g.ReasonCode,
				Confidence: g.Confidence,
				ChunkIDs:   chunkIDs,
				DroppedIDs: g.DroppedIDs,
				Evidence:   g.Evidence,
			})
			if !g.Passed && g.ReasonCode != "" {
				blockerCount[g.ReasonCode]++
				if blockerQuestions[g.ReasonCode] == nil {
					blockerQuestions[g.ReasonCode] = make(map[string]struct{})
				}
				blockerQuestions[g.ReasonCode][g.Question.Text] = struct{}{}
			}
		}
		report.Bands = append(report.Bands, bandReport)
	}

	for reason, count := range blockerCount {
		questions := make([]string, 0, len(blockerQuestions[reason]))
		for q := range blockerQuestions[reason] {
			questions = append(questions, q)
		}
		sort.Strings(questions)
		report.TopBlockers = append(report.TopBlockers, Blocker{
			ReasonCode: reason,
			Count:      count,
			Questions:  questions,
		})
	}
	sort.Slice(report.TopBlockers, func(i, j int) bool {
		if report.TopBlockers[i].Count != report.TopBlockers[j].Count {
			return report.TopBlockers[i].Count > report.TopBlockers[j].Count
		}
		return report.TopBlockers[i].ReasonCode < report.TopBlockers[j].ReasonCode
	})

	return report
}

// Observed is the read-only input from the observation collaborator.
type Observed struct {
	MentionRate float64
	PerQuestion map[string]bool // question id -> observed pass
}

// AttachDivergence compares simulated results under the typical band with
// observed outcomes and buckets the gap against the policy threshold: runs
// within the threshold are aligned, above it the bucket records which side
// overshot.
func AttachDivergence(report *Report, typical BandResult, obs Observed, policy DivergencePolicy) {
	if len(typical.Results) == 0 {
		return
	}
	simPassed := 0
	obsPassed := 0
	observedCount := 0
	for _, g := range typical.Results {
		if g.Passed {
			simPassed++
		}
		if outcome, ok := obs.PerQuestion[g.Question.ID]; ok {
			observedCount++
			if outcome {
				obsPassed++
			}
		}
	}
	if observedCount == 0 {
		return
	}
	simRate := float64(simPassed) / float64(len(typical.Results))
	obsRate := float64(obsPassed) / float64(observedCount)
	gap := math.Abs(simRate - obsRate)

	bucket := "aligned"
	switch {
	case gap <= policy.Threshold:
	case simRate > obsRate:
		bucket = "simulation_optimistic"
	default:
		bucket = "simulation_pessimistic"
	}

	headlineSource := "simulated"
	headline := simRate
	if policy.PreferObserved && bucket != "aligned" {
		headlineSource = "observed"
		headline = obsRate
	}

	report.Divergence = &DivergenceReport{
		SimulatedPassRate: roundHalfUp(simRate, 4),
		ObservedPassRate:  roundHalfUp(obsRate, 4),
		MentionRate:       obs.MentionRate,
		Gap:               roundHalfUp(gap, 4),
		Bucket:            bucket,
		HeadlineSource:    headlineSource,
		HeadlinePassRate:  roundHalfUp(headline, 4),
	}
}

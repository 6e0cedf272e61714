package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Site is an onboarded site with its crawl configuration.
type Site struct {
	ID               string    `json:"id"`
	RootDomain       string    `json:"root_domain"`
	MaxPages         int       `json:"max_pages"`
	MaxDepth         int       `json:"max_depth"`
	BusinessModel    string    `json:"business_model,omitempty"`     // optional classification, user-overridable
	BusinessModelCnf float64   `json:"business_model_cnf,omitempty"` // classification confidence in [0,1]
	FoldHostVariants bool      `json:"fold_host_variants"`           // treat www/non-www and http/https as one host
	CreatedAt        time.Time `json:"created_at"`
}

// Run is one pipeline execution over a site. Stage outputs hang off the run
// so re-scoring never requires re-crawling.
type Run struct {
	ID          string    `json:"id"`
	SiteID      string    `json:"site_id"`
	Status      string    `json:"status"`                // "running", "completed", "failed"
	RenderMode  string    `json:"render_mode,omitempty"` // "static" or "rendered", set by the arbiter
	Limitations string    `json:"limitations,omitempty"` // JSON array of non-fatal degradation notes
	CreatedAt   time.Time `json:"created_at"`
}

// Page is one crawled URL within a run. Immutable once extraction completes;
// a later run supersedes it with new rows rather than overwriting.
type Page struct {
	ID            string    `json:"id"`
	SiteID        string    `json:"site_id"`
	RunID         string    `json:"run_id"`
	URL           string    `json:"url"` // normalized
	Depth         int       `json:"depth"`
	HTTPStatus    int       `json:"http_status"`
	RenderMode    string    `json:"render_mode,omitempty"`
	ContentHash   string    `json:"content_hash,omitempty"`
	WordCount     int       `json:"word_count"`
	InternalLinks int       `json:"internal_links"`
	ExternalLinks int       `json:"external_links"`
	LowContent    bool      `json:"low_content"`
	FailureReason string    `json:"failure_reason,omitempty"` // empty on success
	FetchedAt     time.Time `json:"fetched_at"`
}

// Chunk is a retrieval unit owned by exactly one page.
type Chunk struct {
	ID            string  `json:"id"`
	PageID        string  `json:"page_id"`
	RunID         string  `json:"run_id"`
	Ordinal       int     `json:"ordinal"`
	Text          string  `json:"text"`
	TokenCount    int     `json:"token_count"`
	HeadingPath   string  `json:"heading_path"` // JSON array of ancestor headings
	StructType    string  `json:"struct_type"`  // "text", "list", "table", "heading", "code"
	ContentHash   string  `json:"content_hash"`
	PositionRatio float64 `json:"position_ratio"`
}

// QuestionSet is a versioned question collection, immutable once generated.
type QuestionSet struct {
	ID        string    `json:"id"`
	SiteID    string    `json:"site_id"`
	RunID     string    `json:"run_id"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
}

// Question belongs to one QuestionSet.
type Question struct {
	ID         string  `json:"id"`
	SetID      string  `json:"set_id"`
	Category   string  `json:"category"`       // "universal", "site_derived", "adaptive", "custom"
	Rule       string  `json:"rule,omitempty"` // generating rule, e.g. "faq_heading", "nav_pricing"
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Ordinal    int     `json:"ordinal"`
}

// SimulationRun is one scoring pass over a QuestionSet at one budget band.
// Immutable once written; a re-score inserts a new row.
type SimulationRun struct {
	ID            string    `json:"id"`
	QuestionSetID string    `json:"question_set_id"`
	RunID         string    `json:"run_id"`
	Band          string    `json:"band"` // "conservative", "typical", "generous"
	TokenBudget   int       `json:"token_budget"`
	CreatedAt     time.Time `json:"created_at"`
}

// QuestionResult is the graded outcome for one question in one simulation.
type QuestionResult struct {
	ID          string  `json:"id"`
	SimID       string  `json:"sim_id"`
	QuestionID  string  `json:"question_id"`
	Passed      bool    `json:"passed"`
	ReasonCode  string  `json:"reason_code,omitempty"`
	Confidence  float64 `json:"confidence"`
	ChunkIDs    string  `json:"chunk_ids"`             // JSON array of retrieved chunk ids, rank order
	DroppedIDs  string  `json:"dropped_ids,omitempty"` // JSON array of chunk ids dropped over budget
	EvidenceTxt string  `json:"evidence,omitempty"`    // admitted-context excerpt used for grading
}

// Score is the weighted aggregate for one SimulationRun.
type Score struct {
	ID         string    `json:"id"`
	SimID      string    `json:"sim_id"`
	Overall    float64   `json:"overall"`
	Categories string    `json:"categories"` // JSON object: category -> {score, weight, contribution}
	CreatedAt  time.Time `json:"created_at"`
}

// Fix is a proposed remediation scaffold.
type Fix struct {
	ID          string    `json:"id"`
	SiteID      string    `json:"site_id"`
	TargetURL   string    `json:"target_url,omitempty"`
	Category    string    `json:"category,omitempty"`
	Scaffold    string    `json:"scaffold"`     // placeholder text, never finished copy
	QuestionIDs string    `json:"question_ids"` // JSON array of question ids it is expected to affect
	CreatedAt   time.Time `json:"created_at"`
}

// FixEstimate is the result of one estimation tier applied to a Fix.
type FixEstimate struct {
	ID          string    `json:"id"`
	FixID       string    `json:"fix_id"`
	Tier        string    `json:"tier"` // "A", "B", "C"
	LiftMin     float64   `json:"lift_min"`
	LiftMax     float64   `json:"lift_max"`
	NewScoreMin float64   `json:"new_score_min"`
	NewScoreMax float64   `json:"new_score_max"`
	AffectedIDs string    `json:"affected_ids"` // JSON array of re-scored question ids
	CreatedAt   time.Time `json:"created_at"`
}

// RenderDecision is the immutable site-wide render mode record for a run.
type RenderDecision struct {
	RunID     string    `json:"run_id"`
	Mode      string    `json:"mode"`     // "static" or "rendered"
	Samples   string    `json:"samples"`  // JSON array of per-page deltas behind the vote
	Degraded  bool      `json:"degraded"` // a sample render timed out, confidence reduced
	DecidedAt time.Time `json:"decided_at"`
}

// ObservedOutcome is read-only input from the external observation layer,
// consumed at report-assembly time for divergence comparison.
type ObservedOutcome struct {
	RunID       string    `json:"run_id"`
	MentionRate float64   `json:"mention_rate"`
	PerQuestion string    `json:"per_question"` // JSON object: question id -> observed pass/fail
	ReceivedAt  time.Time `json:"received_at"`
}

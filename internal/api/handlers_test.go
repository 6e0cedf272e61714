package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/siteproof/siteproof/internal/pipeline"
	"github.com/siteproof/siteproof/internal/scoring"
	"github.com/siteproof/siteproof/internal/storage"
)

const testToken = "test-token"

// fakeRunner records calls and returns canned results.
type fakeRunner struct {
	summary      pipeline.RunSummary
	overalls     map[string]float64
	report       scoring.Report
	estimate     storage.FixEstimate
	err          error
	lastSiteID   string
	lastRunID    string
	lastFixID    string
	lastTier     string
	lastCustom   []string
	analysisRuns int
}

func (f *fakeRunner) RunAnalysis(_ context.Context, siteID string, custom []string) (pipeline.RunSummary, error) {
	f.lastSiteID = siteID
	f.lastCustom = custom
	f.analysisRuns++
	return f.summary, f.err
}

func (f *fakeRunner) ScoreRun(_ context.Context, runID string) (map[string]float64, error) {
	f.lastRunID = runID
	return f.overalls, f.err
}

func (f *fakeRunner) AddCustomQuestions(_ context.Context, runID string, custom []string) (storage.QuestionSet, []storage.Question, error) {
	f.lastRunID = runID
	f.lastCustom = custom
	if f.err != nil {
		return storage.QuestionSet{}, nil, f.err
	}
	return storage.QuestionSet{ID: "set-2", RunID: runID, Version: 2}, nil, nil
}

func (f *fakeRunner) Report(_ context.Context, runID string) (scoring.Report, error) {
	f.lastRunID = runID
	return f.report, f.err
}

func (f *fakeRunner) EstimateFix(_ context.Context, fixID, tier string) (storage.FixEstimate, error) {
	f.lastFixID = fixID
	f.lastTier = tier
	return f.estimate, f.err
}

func newTestHandler(t *testing.T) (http.Handler, *storage.Store, *fakeRunner) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	runner := &fakeRunner{
		summary:  pipeline.RunSummary{RunID: "run-1", RenderMode: "static"},
		overalls: map[string]float64{"typical": 72.5},
	}
	handler := NewAppHandler(AppDeps{
		Store:    store,
		Runner:   runner,
		Token:    testToken,
		Registry: prometheus.NewRegistry(),
	})
	return handler, store, runner
}

func doRequest(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+testToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func seedSite(t *testing.T, store *storage.Store) storage.Site {
	t.Helper()
	site := storage.Site{
		ID:         uuid.New().String(),
		RootDomain: "https://acme.example",
		MaxPages:   50,
		MaxDepth:   3,
		CreatedAt:  time.Now().UTC(),
	}
	if err := store.SaveSite(site); err != nil {
		t.Fatalf("saving site: %v", err)
	}
	return site
}

func TestAuthRequired(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/sites", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/sites", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", rec.Code)
	}
}

func TestHealthAndMetricsBypassAuth(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	for _, path := range []string{"/health", "/metrics"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s without token: status = %d, want 200", path, rec.Code)
		}
	}
}

func TestCreateSiteAndGet(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	rec := doRequest(t, handler, http.MethodPost, "/sites", map[string]any{
		"root_domain": "https://acme.example",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var site storage.Site
	if err := json.NewDecoder(rec.Body).Decode(&site); err != nil {
		t.Fatalf("decoding site: %v", err)
	}
	if site.MaxPages != 50 || site.MaxDepth != 3 {
		t.Errorf("defaults not applied: max_pages=%d max_depth=%d", site.MaxPages, site.MaxDepth)
	}

	rec = doRequest(t, handler, http.MethodGet, "/sites/"+site.ID, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("get: status = %d", rec.Code)
	}
}

func TestCreateSiteRequiresRootDomain(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	rec := doRequest(t, handler, http.MethodPost, "/sites", map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestGetSiteNotFound(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	rec := doRequest(t, handler, http.MethodGet, "/sites/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestStartRunPassesCustomQuestions(t *testing.T) {
	handler, store, runner := newTestHandler(t)
	site := seedSite(t, store)

	rec := doRequest(t, handler, http.MethodPost, "/sites/"+site.ID+"/runs", map[string]any{
		"custom_questions": []string{"Is there a free trial?"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if runner.lastSiteID != site.ID {
		t.Errorf("site id = %q, want %q", runner.lastSiteID, site.ID)
	}
	if len(runner.lastCustom) != 1 || runner.lastCustom[0] != "Is there a free trial?" {
		t.Errorf("custom questions = %v", runner.lastCustom)
	}
}

func TestStartRunSiteNotFound(t *testing.T) {
	handler, _, runner := newTestHandler(t)
	runner.err = storage.ErrNotFound

	rec := doRequest(t, handler, http.MethodPost, "/sites/nope/runs", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestObservedOutcomeRoundTrip(t *testing.T) {
	handler, store, _ := newTestHandler(t)
	site := seedSite(t, store)
	run := storage.Run{ID: uuid.New().String(), SiteID: site.ID, Status: "completed", CreatedAt: time.Now().UTC()}
	if err := store.SaveRun(run); err != nil {
		t.Fatalf("saving run: %v", err)
	}

	rec := doRequest(t, handler, http.MethodPost, "/runs/"+run.ID+"/observed", map[string]any{
		"mention_rate": 0.6,
		"per_question": map[string]bool{"q1": true, "q2": false},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	outcome, err := store.GetObservedOutcome(run.ID)
	if err != nil {
		t.Fatalf("GetObservedOutcome: %v", err)
	}
	if outcome.MentionRate != 0.6 {
		t.Errorf("mention rate = %v, want 0.6", outcome.MentionRate)
	}
	var perQuestion map[string]bool
	if err := json.Unmarshal([]byte(outcome.PerQuestion), &perQuestion); err != nil {
		t.Fatalf("decoding per_question: %v", err)
	}
	if !perQuestion["q1"] || perQuestion["q2"] {
		t.Errorf("per_question = %v", perQuestion)
	}
}

func TestObservedOutcomeRunNotFound(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	rec := doRequest(t, handler, http.MethodPost, "/runs/nope/observed", map[string]any{"mention_rate": 0.5})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestCreateFixAndEstimate(t *testing.T) {
	handler, store, runner := newTestHandler(t)
	site := seedSite(t, store)

	rec := doRequest(t, handler, http.MethodPost, "/fixes", map[string]any{
		"site_id":      site.ID,
		"target_url":   "https://acme.example/pricing",
		"category":     "missing_pricing",
		"scaffold":     "Add a pricing table: [PLAN NAME] costs [PRICE].",
		"question_ids": []string{"q2"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create fix: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var f storage.Fix
	if err := json.NewDecoder(rec.Body).Decode(&f); err != nil {
		t.Fatalf("decoding fix: %v", err)
	}

	runner.estimate = storage.FixEstimate{ID: "est-1", FixID: f.ID, Tier: "B", LiftMin: 2, LiftMax: 8}
	rec = doRequest(t, handler, http.MethodPost, "/fixes/"+f.ID+"/estimates", map[string]any{"tier": "B"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("estimate: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if runner.lastFixID != f.ID || runner.lastTier != "B" {
		t.Errorf("estimate call = (%q, %q), want (%q, B)", runner.lastFixID, runner.lastTier, f.ID)
	}

	rec = doRequest(t, handler, http.MethodGet, "/sites/"+site.ID+"/fixes", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list fixes: status = %d", rec.Code)
	}
	var fixes []storage.Fix
	if err := json.NewDecoder(rec.Body).Decode(&fixes); err != nil {
		t.Fatalf("decoding fixes: %v", err)
	}
	if len(fixes) != 1 {
		t.Errorf("fixes = %d, want 1", len(fixes))
	}
}

func TestEstimateDefaultsToTierC(t *testing.T) {
	handler, store, runner := newTestHandler(t)
	site := seedSite(t, store)
	f := storage.Fix{
		ID: uuid.New().String(), SiteID: site.ID, Category: "missing_definition",
		Scaffold: "Define the product.", QuestionIDs: "[]", CreatedAt: time.Now().UTC(),
	}
	if err := store.SaveFix(f); err != nil {
		t.Fatalf("saving fix: %v", err)
	}

	rec := doRequest(t, handler, http.MethodPost, "/fixes/"+f.ID+"/estimates", map[string]any{})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if runner.lastTier != "C" {
		t.Errorf("tier = %q, want C", runner.lastTier)
	}
}

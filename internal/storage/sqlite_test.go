package storage

import (
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func seedSiteRun(t *testing.T, s *Store) (Site, Run) {
	t.Helper()
	site := Site{
		ID:         "site-1",
		RootDomain: "https://example.com",
		MaxPages:   50,
		MaxDepth:   3,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.SaveSite(site); err != nil {
		t.Fatalf("SaveSite: %v", err)
	}
	run := Run{ID: "run-1", SiteID: site.ID, CreatedAt: time.Now().UTC()}
	if err := s.SaveRun(run); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	return site, run
}

func TestSiteRoundTrip(t *testing.T) {
	s := openTestStore(t)
	site, _ := seedSiteRun(t, s)

	got, err := s.GetSite(site.ID)
	if err != nil {
		t.Fatalf("GetSite: %v", err)
	}
	if got.RootDomain != site.RootDomain || got.MaxPages != 50 || got.MaxDepth != 3 {
		t.Errorf("site mismatch: %+v", got)
	}

	if _, err := s.GetSite("missing"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteSiteCascades(t *testing.T) {
	s := openTestStore(t)
	site, run := seedSiteRun(t, s)

	page := Page{
		ID: "page-1", SiteID: site.ID, RunID: run.ID,
		URL: "https://example.com/", Depth: 0, HTTPStatus: 200,
		RenderMode: "static", FetchedAt: time.Now().UTC(),
	}
	if err := s.SavePage(page); err != nil {
		t.Fatalf("SavePage: %v", err)
	}
	if err := s.SaveChunks([]Chunk{{
		ID: "chunk-1", PageID: page.ID, RunID: run.ID,
		Ordinal: 0, Text: "hello", TokenCount: 1, ContentHash: "abc",
	}}); err != nil {
		t.Fatalf("SaveChunks: %v", err)
	}

	if err := s.DeleteSite(site.ID); err != nil {
		t.Fatalf("DeleteSite: %v", err)
	}
	if _, err := s.GetPage(page.ID); err != ErrNotFound {
		t.Errorf("expected page cascade-deleted, got %v", err)
	}
	if _, err := s.GetChunk("chunk-1"); err != ErrNotFound {
		t.Errorf("expected chunk cascade-deleted, got %v", err)
	}
}

func TestPageUniquePerRunURL(t *testing.T) {
	s := openTestStore(t)
	site, run := seedSiteRun(t, s)

	p := Page{
		ID: "page-1", SiteID: site.ID, RunID: run.ID,
		URL: "https://example.com/about", Depth: 1,
		RenderMode: "static", FetchedAt: time.Now().UTC(),
	}
	if err := s.SavePage(p); err != nil {
		t.Fatalf("SavePage: %v", err)
	}
	p.ID = "page-2"
	if err := s.SavePage(p); err == nil {
		t.Error("expected unique constraint violation for duplicate (run, url)")
	}

	// Same URL in a different run supersedes, it does not conflict.
	run2 := Run{ID: "run-2", SiteID: site.ID, CreatedAt: time.Now().UTC()}
	if err := s.SaveRun(run2); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	p.ID = "page-3"
	p.RunID = run2.ID
	if err := s.SavePage(p); err != nil {
		t.Errorf("expected superseding insert in new run to succeed: %v", err)
	}
}

func TestListPagesDeterministicOrder(t *testing.T) {
	s := openTestStore(t)
	site, run := seedSiteRun(t, s)

	urls := []struct {
		url   string
		depth int
	}{
		{"https://example.com/z", 1},
		{"https://example.com/", 0},
		{"https://example.com/a", 1},
	}
	for i, u := range urls {
		p := Page{
			ID: "p" + string(rune('0'+i)), SiteID: site.ID, RunID: run.ID,
			URL: u.url, Depth: u.depth, RenderMode: "static", FetchedAt: time.Now().UTC(),
		}
		if err := s.SavePage(p); err != nil {
			t.Fatalf("SavePage: %v", err)
		}
	}

	pages, err := s.ListPages(run.ID)
	if err != nil {
		t.Fatalf("ListPages: %v", err)
	}
	want := []string{"https://example.com/", "https://example.com/a", "https://example.com/z"}
	for i, p := range pages {
		if p.URL != want[i] {
			t.Errorf("position %d: got %s, want %s", i, p.URL, want[i])
		}
	}
}

func TestQuestionSetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	site, run := seedSiteRun(t, s)

	set := QuestionSet{ID: "qs-1", SiteID: site.ID, RunID: run.ID, Version: 1, CreatedAt: time.Now().UTC()}
	questions := []Question{
		{ID: "q-1", SetID: set.ID, Category: "universal", Text: "What does Example do?", Ordinal: 0},
		{ID: "q-2", SetID: set.ID, Category: "site_derived", Rule: "faq_heading", Text: "What is our return policy?", Confidence: 0.9, Ordinal: 1},
	}
	if err := s.SaveQuestionSet(set, questions); err != nil {
		t.Fatalf("SaveQuestionSet: %v", err)
	}

	got, err := s.ListQuestions(set.ID)
	if err != nil {
		t.Fatalf("ListQuestions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(got))
	}
	if got[1].Rule != "faq_heading" || got[1].Confidence != 0.9 {
		t.Errorf("question mismatch: %+v", got[1])
	}

	latest, err := s.LatestQuestionSet(run.ID)
	if err != nil {
		t.Fatalf("LatestQuestionSet: %v", err)
	}
	if latest.ID != set.ID {
		t.Errorf("latest set mismatch: %s", latest.ID)
	}
}

func TestSimulationRunImmutableRows(t *testing.T) {
	s := openTestStore(t)
	site, run := seedSiteRun(t, s)

	set := QuestionSet{ID: "qs-1", SiteID: site.ID, RunID: run.ID, Version: 1, CreatedAt: time.Now().UTC()}
	if err := s.SaveQuestionSet(set, nil); err != nil {
		t.Fatalf("SaveQuestionSet: %v", err)
	}

	sim := SimulationRun{ID: "sim-1", QuestionSetID: set.ID, RunID: run.ID, Band: "typical", TokenBudget: 6000, CreatedAt: time.Now().UTC()}
	results := []QuestionResult{
		{ID: "r-1", SimID: sim.ID, QuestionID: "q-1", Passed: true, ReasonCode: "", Confidence: 0.8},
		{ID: "r-2", SimID: sim.ID, QuestionID: "q-2", Passed: false, ReasonCode: "missing_pricing", Confidence: 0.6},
	}
	if err := s.SaveSimulationRun(sim, results); err != nil {
		t.Fatalf("SaveSimulationRun: %v", err)
	}

	got, err := s.ListQuestionResults(sim.ID)
	if err != nil {
		t.Fatalf("ListQuestionResults: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if got[1].ReasonCode != "missing_pricing" || got[1].Passed {
		t.Errorf("result mismatch: %+v", got[1])
	}

	// A re-score inserts a second row, it never replaces the first.
	sim2 := sim
	sim2.ID = "sim-2"
	if err := s.SaveSimulationRun(sim2, nil); err != nil {
		t.Fatalf("second SaveSimulationRun: %v", err)
	}
	sims, err := s.ListSimulationRuns(run.ID)
	if err != nil {
		t.Fatalf("ListSimulationRuns: %v", err)
	}
	if len(sims) != 2 {
		t.Errorf("expected 2 simulation runs, got %d", len(sims))
	}
}

func TestFixEstimateRoundTrip(t *testing.T) {
	s := openTestStore(t)
	site, _ := seedSiteRun(t, s)

	fix := Fix{
		ID: "fix-1", SiteID: site.ID, TargetURL: "https://example.com/pricing",
		Category: "missing_pricing", Scaffold: "Add a pricing section: [PLAN_NAME] costs [PRICE].",
		QuestionIDs: `["q-2"]`, CreatedAt: time.Now().UTC(),
	}
	if err := s.SaveFix(fix); err != nil {
		t.Fatalf("SaveFix: %v", err)
	}

	est := FixEstimate{
		ID: "est-1", FixID: fix.ID, Tier: "B",
		LiftMin: 2.5, LiftMax: 6.0, NewScoreMin: 62.5, NewScoreMax: 66.0,
		AffectedIDs: `["q-2"]`, CreatedAt: time.Now().UTC(),
	}
	if err := s.SaveFixEstimate(est); err != nil {
		t.Fatalf("SaveFixEstimate: %v", err)
	}

	got, err := s.ListFixEstimates(fix.ID)
	if err != nil {
		t.Fatalf("ListFixEstimates: %v", err)
	}
	if len(got) != 1 || got[0].Tier != "B" || got[0].AffectedIDs != `["q-2"]` {
		t.Errorf("estimate mismatch: %+v", got)
	}
}

func TestRenderDecisionRoundTrip(t *testing.T) {
	s := openTestStore(t)
	_, run := seedSiteRun(t, s)

	d := RenderDecision{
		RunID: run.ID, Mode: "rendered",
		Samples:   `[{"url":"https://example.com/","word_delta":360}]`,
		DecidedAt: time.Now().UTC(),
	}
	if err := s.SaveRenderDecision(d); err != nil {
		t.Fatalf("SaveRenderDecision: %v", err)
	}
	got, err := s.GetRenderDecision(run.ID)
	if err != nil {
		t.Fatalf("GetRenderDecision: %v", err)
	}
	if got.Mode != "rendered" || got.Degraded {
		t.Errorf("decision mismatch: %+v", got)
	}
}

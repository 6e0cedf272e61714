// Package api exposes the analysis pipeline over a bearer-authenticated
// JSON REST API and an MCP server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/siteproof/siteproof/internal/pipeline"
	"github.com/siteproof/siteproof/internal/scoring"
	"github.com/siteproof/siteproof/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Runner abstracts the analysis pipeline for the API layer.
type Runner interface {
	RunAnalysis(ctx context.Context, siteID string, custom []string) (pipeline.RunSummary, error)
	ScoreRun(ctx context.Context, runID string) (map[string]float64, error)
	AddCustomQuestions(ctx context.Context, runID string, custom []string) (storage.QuestionSet, []storage.Question, error)
	Report(ctx context.Context, runID string) (scoring.Report, error)
	EstimateFix(ctx context.Context, fixID, tier string) (storage.FixEstimate, error)
}

type AppDeps struct {
	Store    *storage.Store
	Runner   Runner
	Token    string
	Registry *prometheus.Registry // optional; enables GET /metrics
}

// NewAppHandler returns the REST API. Health and metrics stay outside the
// auth boundary; everything else requires the bearer token.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	if deps.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/sites", handleCreateSite(deps))
		r.Get("/sites", handleListSites(deps))
		r.Get("/sites/{id}", handleGetSite(deps))
		r.Patch("/sites/{id}", handleUpdateSite(deps))
		r.Delete("/sites/{id}", handleDeleteSite(deps))
		r.Post("/sites/{id}/runs", handleStartRun(deps))
		r.Get("/sites/{id}/runs", handleListRuns(deps))
		r.Get("/sites/{id}/fixes", handleListFixes(deps))

		r.Get("/runs/{id}", handleGetRun(deps))
		r.Get("/runs/{id}/pages", handleListPages(deps))
		r.Get("/runs/{id}/questions", handleListQuestions(deps))
		r.Post("/runs/{id}/questions", handleAddQuestions(deps))
		r.Post("/runs/{id}/score", handleScoreRun(deps))
		r.Get("/runs/{id}/report", handleReport(deps))
		r.Post("/runs/{id}/observed", handleObservedOutcome(deps))

		r.Post("/fixes", handleCreateFix(deps))
		r.Post("/fixes/{id}/estimates", handleEstimateFix(deps))
		r.Get("/fixes/{id}/estimates", handleListEstimates(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type createSiteRequest struct {
	RootDomain       string `json:"root_domain"`
	MaxPages         int    `json:"max_pages"`
	MaxDepth         int    `json:"max_depth"`
	BusinessModel    string `json:"business_model"`
	FoldHostVariants bool   `json:"fold_host_variants"`
}

func handleCreateSite(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req createSiteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.RootDomain == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "root_domain is required")
			return
		}
		if req.MaxPages <= 0 {
			req.MaxPages = 50
		}
		if req.MaxDepth <= 0 {
			req.MaxDepth = 3
		}

		site := storage.Site{
			ID:               uuid.New().String(),
			RootDomain:       req.RootDomain,
			MaxPages:         req.MaxPages,
			MaxDepth:         req.MaxDepth,
			BusinessModel:    req.BusinessModel,
			FoldHostVariants: req.FoldHostVariants,
			CreatedAt:        time.Now().UTC(),
		}
		if site.BusinessModel != "" {
			site.BusinessModelCnf = 1.0
		}
		if err := deps.Store.SaveSite(site); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save site: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, site)
	}
}

func handleListSites(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		sites, err := deps.Store.ListSites()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list sites: %v", err)
			return
		}
		if sites == nil {
			sites = []storage.Site{}
		}
		writeJSON(w, http.StatusOK, sites)
	}
}

func handleGetSite(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		site, err := deps.Store.GetSite(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "site not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get site: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, site)
	}
}

type updateSiteRequest struct {
	MaxPages      int    `json:"max_pages"`
	MaxDepth      int    `json:"max_depth"`
	BusinessModel string `json:"business_model"`
}

func handleUpdateSite(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		id := chi.URLParam(r, "id")

		site, err := deps.Store.GetSite(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "site not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get site: %v", err)
			return
		}

		req := updateSiteRequest{
			MaxPages:      site.MaxPages,
			MaxDepth:      site.MaxDepth,
			BusinessModel: site.BusinessModel,
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if err := deps.Store.UpdateSiteSettings(id, req.MaxPages, req.MaxDepth, req.BusinessModel); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update site: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	}
}

func handleDeleteSite(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Store.DeleteSite(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "site not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete site: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

type startRunRequest struct {
	CustomQuestions []string `json:"custom_questions"`
}

func handleStartRun(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req startRunRequest
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
				return
			}
		}

		summary, err := deps.Runner.RunAnalysis(r.Context(), chi.URLParam(r, "id"), req.CustomQuestions)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "site not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusBadGateway, "analysis_error", "analysis failed: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, summary)
	}
}

func handleListRuns(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runs, err := deps.Store.ListRuns(chi.URLParam(r, "id"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list runs: %v", err)
			return
		}
		if runs == nil {
			runs = []storage.Run{}
		}
		writeJSON(w, http.StatusOK, runs)
	}
}

func handleGetRun(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, err := deps.Store.GetRun(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "run not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get run: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, run)
	}
}

func handleListPages(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pages, err := deps.Store.ListPages(chi.URLParam(r, "id"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list pages: %v", err)
			return
		}
		if pages == nil {
			pages = []storage.Page{}
		}
		writeJSON(w, http.StatusOK, pages)
	}
}

func handleListQuestions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID := chi.URLParam(r, "id")
		set, err := deps.Store.LatestQuestionSet(runID)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "run has no question set")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get question set: %v", err)
			return
		}
		questions, err := deps.Store.ListQuestions(set.ID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list questions: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"set":       set,
			"questions": questions,
		})
	}
}

type addQuestionsRequest struct {
	CustomQuestions []string `json:"custom_questions"`
}

func handleAddQuestions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req addQuestionsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(req.CustomQuestions) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "custom_questions is required and must not be empty")
			return
		}

		set, questions, err := deps.Runner.AddCustomQuestions(r.Context(), chi.URLParam(r, "id"), req.CustomQuestions)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "run not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to add questions: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"set":       set,
			"questions": questions,
		})
	}
}

func handleScoreRun(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		overalls, err := deps.Runner.ScoreRun(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "run not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to score run: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"overalls": overalls})
	}
}

func handleReport(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := deps.Runner.Report(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "run not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to build report: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

type observedOutcomeRequest struct {
	MentionRate float64         `json:"mention_rate"`
	PerQuestion map[string]bool `json:"per_question"`
}

func handleObservedOutcome(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		runID := chi.URLParam(r, "id")

		if _, err := deps.Store.GetRun(runID); errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "run not found")
			return
		} else if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get run: %v", err)
			return
		}

		var req observedOutcomeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		perQuestion, err := json.Marshal(req.PerQuestion)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to encode outcomes: %v", err)
			return
		}
		if err := deps.Store.SaveObservedOutcome(storage.ObservedOutcome{
			RunID:       runID,
			MentionRate: req.MentionRate,
			PerQuestion: string(perQuestion),
			ReceivedAt:  time.Now().UTC(),
		}); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save outcome: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
	}
}

type createFixRequest struct {
	SiteID      string   `json:"site_id"`
	TargetURL   string   `json:"target_url"`
	Category    string   `json:"category"`
	Scaffold    string   `json:"scaffold"`
	QuestionIDs []string `json:"question_ids"`
}

func handleCreateFix(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req createFixRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.SiteID == "" || req.Scaffold == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "site_id and scaffold are required")
			return
		}

		questionIDs := "[]"
		if req.QuestionIDs != nil {
			b, err := json.Marshal(req.QuestionIDs)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to encode question ids: %v", err)
				return
			}
			questionIDs = string(b)
		}

		f := storage.Fix{
			ID:          uuid.New().String(),
			SiteID:      req.SiteID,
			TargetURL:   req.TargetURL,
			Category:    req.Category,
			Scaffold:    req.Scaffold,
			QuestionIDs: questionIDs,
			CreatedAt:   time.Now().UTC(),
		}
		if err := deps.Store.SaveFix(f); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save fix: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, f)
	}
}

func handleListFixes(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fixes, err := deps.Store.ListFixes(chi.URLParam(r, "id"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list fixes: %v", err)
			return
		}
		if fixes == nil {
			fixes = []storage.Fix{}
		}
		writeJSON(w, http.StatusOK, fixes)
	}
}

type estimateRequest struct {
	Tier string `json:"tier"`
}

func handleEstimateFix(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req estimateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Tier == "" {
			req.Tier = "C"
		}

		record, err := deps.Runner.EstimateFix(r.Context(), chi.URLParam(r, "id"), req.Tier)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "fix not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to estimate: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, record)
	}
}

func handleListEstimates(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		estimates, err := deps.Store.ListFixEstimates(chi.URLParam(r, "id"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list estimates: %v", err)
			return
		}
		if estimates == nil {
			estimates = []storage.FixEstimate{}
		}
		writeJSON(w, http.StatusOK, estimates)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

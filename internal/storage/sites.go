package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// --- Sites ---

func (s *Store) SaveSite(site Site) error {
	_, err := s.db.Exec(`
		INSERT INTO sites (id, root_domain, max_pages, max_depth, business_model, business_model_cnf, fold_host_variants, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		site.ID, site.RootDomain, site.MaxPages, site.MaxDepth,
		site.BusinessModel, site.BusinessModelCnf, boolToInt(site.FoldHostVariants),
		site.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetSite(id string) (Site, error) {
	var site Site
	var createdAt string
	var fold int
	err := s.db.QueryRow(`
		SELECT id, root_domain, max_pages, max_depth, business_model, business_model_cnf, fold_host_variants, created_at
		FROM sites WHERE id = ?`, id,
	).Scan(&site.ID, &site.RootDomain, &site.MaxPages, &site.MaxDepth,
		&site.BusinessModel, &site.BusinessModelCnf, &fold, &createdAt)
	if err == sql.ErrNoRows {
		return Site{}, ErrNotFound
	}
	if err != nil {
		return Site{}, err
	}
	site.FoldHostVariants = fold != 0
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Site{}, fmt.Errorf("parsing created_at: %w", err)
	}
	site.CreatedAt = t
	return site, nil
}

// ListSites returns all onboarded sites, newest first.
func (s *Store) ListSites() ([]Site, error) {
	rows, err := s.db.Query(`
		SELECT id, root_domain, max_pages, max_depth, business_model, business_model_cnf, fold_host_variants, created_at
		FROM sites ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sites []Site
	for rows.Next() {
		var site Site
		var createdAt string
		var fold int
		if err := rows.Scan(&site.ID, &site.RootDomain, &site.MaxPages, &site.MaxDepth,
			&site.BusinessModel, &site.BusinessModelCnf, &fold, &createdAt); err != nil {
			return nil, err
		}
		site.FoldHostVariants = fold != 0
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		site.CreatedAt = t
		sites = append(sites, site)
	}
	return sites, rows.Err()
}

// UpdateSiteSettings mutates the user-editable crawl configuration.
func (s *Store) UpdateSiteSettings(id string, maxPages, maxDepth int, businessModel string) error {
	res, err := s.db.Exec(`
		UPDATE sites SET max_pages = ?, max_depth = ?, business_model = ? WHERE id = ?`,
		maxPages, maxDepth, businessModel, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSite removes a site; foreign keys cascade to all derived data.
func (s *Store) DeleteSite(id string) error {
	res, err := s.db.Exec(`DELETE FROM sites WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Runs ---

func (s *Store) SaveRun(r Run) error {
	status := r.Status
	if status == "" {
		status = "running"
	}
	limitations := r.Limitations
	if limitations == "" {
		limitations = "[]"
	}
	_, err := s.db.Exec(`
		INSERT INTO runs (id, site_id, status, render_mode, limitations, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.SiteID, status, r.RenderMode, limitations,
		r.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetRun(id string) (Run, error) {
	var r Run
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, site_id, status, render_mode, limitations, created_at
		FROM runs WHERE id = ?`, id,
	).Scan(&r.ID, &r.SiteID, &r.Status, &r.RenderMode, &r.Limitations, &createdAt)
	if err == sql.ErrNoRows {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Run{}, fmt.Errorf("parsing created_at: %w", err)
	}
	r.CreatedAt = t
	return r, nil
}

func (s *Store) UpdateRunStatus(id, status string) error {
	res, err := s.db.Exec(`UPDATE runs SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) UpdateRunRenderMode(id, mode string) error {
	_, err := s.db.Exec(`UPDATE runs SET render_mode = ? WHERE id = ?`, mode, id)
	return err
}

// UpdateRunLimitations replaces the run's limitations JSON array.
func (s *Store) UpdateRunLimitations(id, limitationsJSON string) error {
	_, err := s.db.Exec(`UPDATE runs SET limitations = ? WHERE id = ?`, limitationsJSON, id)
	return err
}

func (s *Store) ListRuns(siteID string) ([]Run, error) {
	rows, err := s.db.Query(`
		SELECT id, site_id, status, render_mode, limitations, created_at
		FROM runs WHERE site_id = ? ORDER BY created_at DESC`, siteID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var createdAt string
		if err := rows.Scan(&r.ID, &r.SiteID, &r.Status, &r.RenderMode, &r.Limitations, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		r.CreatedAt = t
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// --- Render decisions ---

func (s *Store) SaveRenderDecision(d RenderDecision) error {
	_, err := s.db.Exec(`
		INSERT INTO render_decisions (run_id, mode, samples, degraded, decided_at)
		VALUES (?, ?, ?, ?, ?)`,
		d.RunID, d.Mode, d.Samples, boolToInt(d.Degraded),
		d.DecidedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetRenderDecision(runID string) (RenderDecision, error) {
	var d RenderDecision
	var decidedAt string
	var degraded int
	err := s.db.QueryRow(`
		SELECT run_id, mode, samples, degraded, decided_at
		FROM render_decisions WHERE run_id = ?`, runID,
	).Scan(&d.RunID, &d.Mode, &d.Samples, &degraded, &decidedAt)
	if err == sql.ErrNoRows {
		return RenderDecision{}, ErrNotFound
	}
	if err != nil {
		return RenderDecision{}, err
	}
	d.Degraded = degraded != 0
	t, err := time.Parse(time.RFC3339, decidedAt)
	if err != nil {
		return RenderDecision{}, fmt.Errorf("parsing decided_at: %w", err)
	}
	d.DecidedAt = t
	return d, nil
}

// --- Observed outcomes ---

func (s *Store) SaveObservedOutcome(o ObservedOutcome) error {
	_, err := s.db.Exec(`
		INSERT INTO observed_outcomes (run_id, mention_rate, per_question, received_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			mention_rate = excluded.mention_rate,
			per_question = excluded.per_question,
			received_at = excluded.received_at`,
		o.RunID, o.MentionRate, o.PerQuestion,
		o.ReceivedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetObservedOutcome(runID string) (ObservedOutcome, error) {
	var o ObservedOutcome
	var receivedAt string
	err := s.db.QueryRow(`
		SELECT run_id, mention_rate, per_question, received_at
		FROM observed_outcomes WHERE run_id = ?`, runID,
	).Scan(&o.RunID, &o.MentionRate, &o.PerQuestion, &receivedAt)
	if err == sql.ErrNoRows {
		return ObservedOutcome{}, ErrNotFound
	}
	if err != nil {
		return ObservedOutcome{}, err
	}
	t, err := time.Parse(time.RFC3339, receivedAt)
	if err != nil {
		return ObservedOutcome{}, fmt.Errorf("parsing received_at: %w", err)
	}
	o.ReceivedAt = t
	return o, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

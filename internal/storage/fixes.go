package storage

import (
	"database/sql"
	"fmt"
	"time"
)

func (s *Store) SaveFix(f Fix) error {
	questionIDs := f.QuestionIDs
	if questionIDs == "" {
		questionIDs = "[]"
	}
	_, err := s.db.Exec(`
		INSERT INTO fixes (id, site_id, target_url, category, scaffold, question_ids, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.SiteID, f.TargetURL, f.Category, f.Scaffold, questionIDs,
		f.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetFix(id string) (Fix, error) {
	var f Fix
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, site_id, target_url, category, scaffold, question_ids, created_at
		FROM fixes WHERE id = ?`, id,
	).Scan(&f.ID, &f.SiteID, &f.TargetURL, &f.Category, &f.Scaffold, &f.QuestionIDs, &createdAt)
	if err == sql.ErrNoRows {
		return Fix{}, ErrNotFound
	}
	if err != nil {
		return Fix{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Fix{}, fmt.Errorf("parsing created_at: %w", err)
	}
	f.CreatedAt = t
	return f, nil
}

func (s *Store) ListFixes(siteID string) ([]Fix, error) {
	rows, err := s.db.Query(`
		SELECT id, site_id, target_url, category, scaffold, question_ids, created_at
		FROM fixes WHERE site_id = ? ORDER BY created_at DESC`, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fixes []Fix
	for rows.Next() {
		var f Fix
		var createdAt string
		if err := rows.Scan(&f.ID, &f.SiteID, &f.TargetURL, &f.Category, &f.Scaffold, &f.QuestionIDs, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		f.CreatedAt = t
		fixes = append(fixes, f)
	}
	return fixes, rows.Err()
}

func (s *Store) SaveFixEstimate(e FixEstimate) error {
	affected := e.AffectedIDs
	if affected == "" {
		affected = "[]"
	}
	_, err := s.db.Exec(`
		INSERT INTO fix_estimates (id, fix_id, tier, lift_min, lift_max, new_score_min, new_score_max, affected_ids, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.FixID, e.Tier, e.LiftMin, e.LiftMax, e.NewScoreMin, e.NewScoreMax, affected,
		e.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) ListFixEstimates(fixID string) ([]FixEstimate, error) {
	rows, err := s.db.Query(`
		SELECT id, fix_id, tier, lift_min, lift_max, new_score_min, new_score_max, affected_ids, created_at
		FROM fix_estimates WHERE fix_id = ? ORDER BY created_at DESC`, fixID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var estimates []FixEstimate
	for rows.Next() {
		var e FixEstimate
		var createdAt string
		if err := rows.Scan(&e.ID, &e.FixID, &e.Tier, &e.LiftMin, &e.LiftMax,
			&e.NewScoreMin, &e.NewScoreMax, &e.AffectedIDs, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		e.CreatedAt = t
		estimates = append(estimates, e)
	}
	return estimates, rows.Err()
}

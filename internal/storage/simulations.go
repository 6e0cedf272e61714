package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// SaveSimulationRun inserts one scoring pass with all its question results.
// Simulation runs are never updated; a re-score writes a new row.
func (s *Store) SaveSimulationRun(sim SimulationRun, results []QuestionResult) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning simulation transaction: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO simulation_runs (id, question_set_id, run_id, band, token_budget, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sim.ID, sim.QuestionSetID, sim.RunID, sim.Band, sim.TokenBudget,
		sim.CreatedAt.UTC().Format(time.RFC3339),
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("inserting simulation run: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO question_results (id, sim_id, question_id, passed, reason_code, confidence, chunk_ids, dropped_ids, evidence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing result insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range results {
		chunkIDs := r.ChunkIDs
		if chunkIDs == "" {
			chunkIDs = "[]"
		}
		droppedIDs := r.DroppedIDs
		if droppedIDs == "" {
			droppedIDs = "[]"
		}
		if _, err := stmt.Exec(r.ID, r.SimID, r.QuestionID, boolToInt(r.Passed), r.ReasonCode,
			r.Confidence, chunkIDs, droppedIDs, r.EvidenceTxt); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting result %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) GetSimulationRun(id string) (SimulationRun, error) {
	var sim SimulationRun
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, question_set_id, run_id, band, token_budget, created_at
		FROM simulation_runs WHERE id = ?`, id,
	).Scan(&sim.ID, &sim.QuestionSetID, &sim.RunID, &sim.Band, &sim.TokenBudget, &createdAt)
	if err == sql.ErrNoRows {
		return SimulationRun{}, ErrNotFound
	}
	if err != nil {
		return SimulationRun{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return SimulationRun{}, fmt.Errorf("parsing created_at: %w", err)
	}
	sim.CreatedAt = t
	return sim, nil
}

// ListSimulationRuns returns all simulation passes for a run, newest first.
func (s *Store) ListSimulationRuns(runID string) ([]SimulationRun, error) {
	rows, err := s.db.Query(`
		SELECT id, question_set_id, run_id, band, token_budget, created_at
		FROM simulation_runs WHERE run_id = ? ORDER BY created_at DESC, band ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sims []SimulationRun
	for rows.Next() {
		var sim SimulationRun
		var createdAt string
		if err := rows.Scan(&sim.ID, &sim.QuestionSetID, &sim.RunID, &sim.Band, &sim.TokenBudget, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		sim.CreatedAt = t
		sims = append(sims, sim)
	}
	return sims, rows.Err()
}

// ListQuestionResults returns a simulation's results in question order.
func (s *Store) ListQuestionResults(simID string) ([]QuestionResult, error) {
	rows, err := s.db.Query(`
		SELECT id, sim_id, question_id, passed, reason_code, confidence, chunk_ids, dropped_ids, evidence
		FROM question_results WHERE sim_id = ? ORDER BY question_id ASC`, simID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []QuestionResult
	for rows.Next() {
		var r QuestionResult
		var passed int
		if err := rows.Scan(&r.ID, &r.SimID, &r.QuestionID, &passed, &r.ReasonCode,
			&r.Confidence, &r.ChunkIDs, &r.DroppedIDs, &r.EvidenceTxt); err != nil {
			return nil, err
		}
		r.Passed = passed != 0
		results = append(results, r)
	}
	return results, rows.Err()
}

// --- Scores ---

func (s *Store) SaveScore(sc Score) error {
	categories := sc.Categories
	if categories == "" {
		categories = "{}"
	}
	_, err := s.db.Exec(`
		INSERT INTO scores (id, sim_id, overall, categories, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		sc.ID, sc.SimID, sc.Overall, categories,
		sc.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetScoreBySim(simID string) (Score, error) {
	var sc Score
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, sim_id, overall, categories, created_at
		FROM scores WHERE sim_id = ? ORDER BY created_at DESC LIMIT 1`, simID,
	).Scan(&sc.ID, &sc.SimID, &sc.Overall, &sc.Categories, &createdAt)
	if err == sql.ErrNoRows {
		return Score{}, ErrNotFound
	}
	if err != nil {
		return Score{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Score{}, fmt.Errorf("parsing created_at: %w", err)
	}
	sc.CreatedAt = t
	return sc, nil
}

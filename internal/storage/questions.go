package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// SaveQuestionSet inserts a question set and its questions in one transaction.
// The set is immutable once written; regeneration inserts a new version.
func (s *Store) SaveQuestionSet(set QuestionSet, questions []Question) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning question set transaction: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO question_sets (id, site_id, run_id, version, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		set.ID, set.SiteID, set.RunID, set.Version,
		set.CreatedAt.UTC().Format(time.RFC3339),
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("inserting question set: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO questions (id, set_id, category, rule, text, confidence, ordinal)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing question insert: %w", err)
	}
	defer stmt.Close()

	for _, q := range questions {
		if _, err := stmt.Exec(q.ID, q.SetID, q.Category, q.Rule, q.Text, q.Confidence, q.Ordinal); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting question %s: %w", q.ID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) GetQuestionSet(id string) (QuestionSet, error) {
	var set QuestionSet
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, site_id, run_id, version, created_at
		FROM question_sets WHERE id = ?`, id,
	).Scan(&set.ID, &set.SiteID, &set.RunID, &set.Version, &createdAt)
	if err == sql.ErrNoRows {
		return QuestionSet{}, ErrNotFound
	}
	if err != nil {
		return QuestionSet{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return QuestionSet{}, fmt.Errorf("parsing created_at: %w", err)
	}
	set.CreatedAt = t
	return set, nil
}

// LatestQuestionSet returns the highest-version set for a run.
func (s *Store) LatestQuestionSet(runID string) (QuestionSet, error) {
	var set QuestionSet
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, site_id, run_id, version, created_at
		FROM question_sets WHERE run_id = ? ORDER BY version DESC LIMIT 1`, runID,
	).Scan(&set.ID, &set.SiteID, &set.RunID, &set.Version, &createdAt)
	if err == sql.ErrNoRows {
		return QuestionSet{}, ErrNotFound
	}
	if err != nil {
		return QuestionSet{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return QuestionSet{}, fmt.Errorf("parsing created_at: %w", err)
	}
	set.CreatedAt = t
	return set, nil
}

// ListQuestions returns a set's questions in generation order.
func (s *Store) ListQuestions(setID string) ([]Question, error) {
	rows, err := s.db.Query(`
		SELECT id, set_id, category, rule, text, confidence, ordinal
		FROM questions WHERE set_id = ? ORDER BY ordinal ASC`, setID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []Question
	for rows.Next() {
		var q Question
		if err := rows.Scan(&q.ID, &q.SetID, &q.Category, &q.Rule, &q.Text, &q.Confidence, &q.Ordinal); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// --- Pages ---

func (s *Store) SavePage(p Page) error {
	_, err := s.db.Exec(`
		INSERT INTO pages (id, site_id, run_id, url, depth, http_status, render_mode, content_hash,
			word_count, internal_links, external_links, low_content, failure_reason, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.SiteID, p.RunID, p.URL, p.Depth, p.HTTPStatus, p.RenderMode, p.ContentHash,
		p.WordCount, p.InternalLinks, p.ExternalLinks, boolToInt(p.LowContent),
		p.FailureReason, p.FetchedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// UpdatePageExtraction records the extractor's output on an existing page row.
// After this call the page is considered immutable for the run.
func (s *Store) UpdatePageExtraction(id, contentHash string, wordCount, internalLinks, externalLinks int, lowContent bool) error {
	res, err := s.db.Exec(`
		UPDATE pages SET content_hash = ?, word_count = ?, internal_links = ?, external_links = ?, low_content = ?
		WHERE id = ?`,
		contentHash, wordCount, internalLinks, externalLinks, boolToInt(lowContent), id)
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

func (s *Store) GetPage(id string) (Page, error) {
	row := s.db.QueryRow(`
		SELECT id, site_id, run_id, url, depth, http_status, render_mode, content_hash,
			word_count, internal_links, external_links, low_content, failure_reason, fetched_at
		FROM pages WHERE id = ?`, id)
	p, err := scanPage(row)
	if err == sql.ErrNoRows {
		return Page{}, ErrNotFound
	}
	return p, err
}

// ListPages returns every page of a run in deterministic order
// (depth first, then URL).
func (s *Store) ListPages(runID string) ([]Page, error) {
	rows, err := s.db.Query(`
		SELECT id, site_id, run_id, url, depth, http_status, render_mode, content_hash,
			word_count, internal_links, external_links, low_content, failure_reason, fetched_at
		FROM pages WHERE run_id = ? ORDER BY depth ASC, url ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pages []Page
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPage(row rowScanner) (Page, error) {
	var p Page
	var low int
	var fetchedAt string
	err := row.Scan(&p.ID, &p.SiteID, &p.RunID, &p.URL, &p.Depth, &p.HTTPStatus, &p.RenderMode,
		&p.ContentHash, &p.WordCount, &p.InternalLinks, &p.ExternalLinks, &low, &p.FailureReason, &fetchedAt)
	if err != nil {
		return Page{}, err
	}
	p.LowContent = low != 0
	t, err := time.Parse(time.RFC3339, fetchedAt)
	if err != nil {
		return Page{}, fmt.Errorf("parsing fetched_at: %w", err)
	}
	p.FetchedAt = t
	return p, nil
}

// --- Chunks ---

// SaveChunks inserts a page's chunks in one transaction.
func (s *Store) SaveChunks(chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning chunk transaction: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO chunks (id, page_id, run_id, ordinal, text, token_count, heading_path, struct_type, content_hash, position_ratio)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		headingPath := c.HeadingPath
		if headingPath == "" {
			headingPath = "[]"
		}
		if _, err := stmt.Exec(c.ID, c.PageID, c.RunID, c.Ordinal, c.Text, c.TokenCount,
			headingPath, c.StructType, c.ContentHash, c.PositionRatio); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting chunk %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) GetChunk(id string) (Chunk, error) {
	var c Chunk
	err := s.db.QueryRow(`
		SELECT id, page_id, run_id, ordinal, text, token_count, heading_path, struct_type, content_hash, position_ratio
		FROM chunks WHERE id = ?`, id,
	).Scan(&c.ID, &c.PageID, &c.RunID, &c.Ordinal, &c.Text, &c.TokenCount,
		&c.HeadingPath, &c.StructType, &c.ContentHash, &c.PositionRatio)
	if err == sql.ErrNoRows {
		return Chunk{}, ErrNotFound
	}
	return c, err
}

// ListChunks returns all chunks of a run ordered by page then ordinal.
func (s *Store) ListChunks(runID string) ([]Chunk, error) {
	rows, err := s.db.Query(`
		SELECT id, page_id, run_id, ordinal, text, token_count, heading_path, struct_type, content_hash, position_ratio
		FROM chunks WHERE run_id = ? ORDER BY page_id ASC, ordinal ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.PageID, &c.RunID, &c.Ordinal, &c.Text, &c.TokenCount,
			&c.HeadingPath, &c.StructType, &c.ContentHash, &c.PositionRatio); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// GetChunksByIDs fetches chunks preserving the order of ids.
func (s *Store) GetChunksByIDs(ids []string) ([]Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	byID := make(map[string]Chunk, len(ids))
	for _, id := range ids {
		c, err := s.GetChunk(id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		byID[id] = c
	}
	out := make([]Chunk, 0, len(byID))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

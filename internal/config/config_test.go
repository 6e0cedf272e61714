package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Crawl.MaxPages != 50 {
		t.Errorf("MaxPages = %d, want 50", cfg.Crawl.MaxPages)
	}
	if cfg.Chunk.MaxTokens != 512 || cfg.Chunk.MinTokens != 100 || cfg.Chunk.OverlapTokens != 50 {
		t.Errorf("chunk defaults wrong: %+v", cfg.Chunk)
	}
	if cfg.Retrieval.RRFK != 60 || cfg.Retrieval.MaxPerPage != 2 {
		t.Errorf("retrieval defaults wrong: %+v", cfg.Retrieval)
	}
	if cfg.Scoring.BandBudgets["typical"] != 6000 {
		t.Errorf("typical band budget = %d, want 6000", cfg.Scoring.BandBudgets["typical"])
	}
}

func TestYAMLFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "crawl:\n  max_pages: 25\nretrieval:\n  top_k: 5\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Crawl.MaxPages != 25 {
		t.Errorf("MaxPages = %d, want 25", cfg.Crawl.MaxPages)
	}
	if cfg.Retrieval.TopK != 5 {
		t.Errorf("TopK = %d, want 5", cfg.Retrieval.TopK)
	}
	// Untouched keys keep defaults.
	if cfg.Crawl.MaxDepth != 3 {
		t.Errorf("MaxDepth = %d, want 3", cfg.Crawl.MaxDepth)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("crawl:\n  max_pages: 25\n"), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	t.Setenv("SITEPROOF_MAX_PAGES", "10")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Crawl.MaxPages != 10 {
		t.Errorf("MaxPages = %d, want 10 (env should win)", cfg.Crawl.MaxPages)
	}
}

func TestValidateRejectsBadChunkBounds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("chunk:\n  min_tokens: 600\n"), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected validation error for min_tokens >= max_tokens")
	}
}

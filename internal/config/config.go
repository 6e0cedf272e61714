package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Crawl     CrawlConfig     `yaml:"crawl"`
	Render    RenderConfig    `yaml:"render"`
	Extract   ExtractConfig   `yaml:"extract"`
	Chunk     ChunkConfig     `yaml:"chunk"`
	Index     IndexConfig     `yaml:"index"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Question  QuestionConfig  `yaml:"question"`
	Scoring   ScoringConfig   `yaml:"scoring"`
}

type ServerConfig struct {
	Port    int    `yaml:"port"`
	Token   string `yaml:"token"`
	MCPPort int    `yaml:"mcp_port"`
}

type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

type CrawlConfig struct {
	MaxPages        int     `yaml:"max_pages"`
	MaxDepth        int     `yaml:"max_depth"`
	Concurrency     int     `yaml:"concurrency"`
	PageTimeoutSec  int     `yaml:"page_timeout_sec"`
	HostRatePerSec  float64 `yaml:"host_rate_per_sec"`
	UserAgent       string  `yaml:"user_agent"`
	FoldHostVariant bool    `yaml:"fold_host_variants"`
}

type RenderConfig struct {
	SampleSize     int `yaml:"sample_size"`
	WordDeltaMin   int `yaml:"word_delta_min"`
	TimeoutSec     int `yaml:"timeout_sec"`
	PoolSize       int `yaml:"pool_size"`
	DeltaRatioPct  int `yaml:"delta_ratio_pct"`  // percent, default 20
	SimilarityPct  int `yaml:"similarity_pct"`   // percent, default 70
}

type ExtractConfig struct {
	MinWordCount int `yaml:"min_word_count"`
}

type ChunkConfig struct {
	MaxTokens     int `yaml:"max_tokens"`
	MinTokens     int `yaml:"min_tokens"`
	OverlapTokens int `yaml:"overlap_tokens"`
}

type IndexConfig struct {
	BM25K1         float64 `yaml:"bm25_k1"`
	BM25B          float64 `yaml:"bm25_b"`
	EmbedBaseURL   string  `yaml:"embed_base_url"`
	EmbedModel     string  `yaml:"embed_model"`
	EmbedBatchSize int     `yaml:"embed_batch_size"`
	CacheSize      int     `yaml:"cache_size"`
}

type RetrievalConfig struct {
	TopK          int     `yaml:"top_k"`
	RRFK          int     `yaml:"rrf_k"`
	MaxPerPage    int     `yaml:"max_per_page"`
	LexicalWeight float64 `yaml:"lexical_weight"`
	VectorWeight  float64 `yaml:"vector_weight"`
}

type QuestionConfig struct {
	AdaptiveThreshold float64 `yaml:"adaptive_threshold"`
	CustomCap         int     `yaml:"custom_cap"`
}

type ScoringConfig struct {
	BandBudgets         map[string]int `yaml:"band_budgets"`
	DivergenceThreshold float64        `yaml:"divergence_threshold"`
	PreferObserved      bool           `yaml:"prefer_observed"`
	NearDupSimilarity   float64        `yaml:"near_dup_similarity"`
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:    4600,
			MCPPort: 4601,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Crawl: CrawlConfig{
			MaxPages:       50,
			MaxDepth:       3,
			Concurrency:    4,
			PageTimeoutSec: 20,
			HostRatePerSec: 2,
			UserAgent:      "siteproof/1.0 (+https://siteproof.dev/bot)",
		},
		Render: RenderConfig{
			SampleSize:    3,
			WordDeltaMin:  50,
			TimeoutSec:    30,
			PoolSize:      2,
			DeltaRatioPct: 20,
			SimilarityPct: 70,
		},
		Extract: ExtractConfig{
			MinWordCount: 30,
		},
		Chunk: ChunkConfig{
			MaxTokens:     512,
			MinTokens:     100,
			OverlapTokens: 50,
		},
		Index: IndexConfig{
			BM25K1:         1.2,
			BM25B:          0.75,
			EmbedBaseURL:   "http://localhost:11434",
			EmbedModel:     "nomic-embed-text",
			EmbedBatchSize: 16,
			CacheSize:      4096,
		},
		Retrieval: RetrievalConfig{
			TopK:          10,
			RRFK:          60,
			MaxPerPage:    2,
			LexicalWeight: 1,
			VectorWeight:  1,
		},
		Question: QuestionConfig{
			AdaptiveThreshold: 0.75,
			CustomCap:         10,
		},
		Scoring: ScoringConfig{
			BandBudgets: map[string]int{
				"conservative": 3000,
				"typical":      6000,
				"generous":     12000,
			},
			DivergenceThreshold: 0.25,
			// Exact duplicates match on content hash; this threshold governs
			// token-set Jaccard for near-duplicate grouping.
			NearDupSimilarity: 0.85,
		},
	}
}

// Load reads configuration from defaults, then an optional YAML file, then
// SITEPROOF_* environment variable overrides. path may be empty, in which
// case $SITEPROOF_CONFIG or ~/.config/siteproof/config.yaml is tried.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path == "" {
		path = os.Getenv("SITEPROOF_CONFIG")
	}
	if path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			candidate := filepath.Join(home, ".config", "siteproof", "config.yaml")
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
			}
		}
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setFloat := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = strings.EqualFold(v, "true") || v == "1"
		}
	}

	setInt("SITEPROOF_PORT", &cfg.Server.Port)
	setInt("SITEPROOF_MCP_PORT", &cfg.Server.MCPPort)
	setString("SITEPROOF_TOKEN", &cfg.Server.Token)
	setString("SITEPROOF_DATA_DIR", &cfg.Storage.DataDir)
	setInt("SITEPROOF_MAX_PAGES", &cfg.Crawl.MaxPages)
	setInt("SITEPROOF_MAX_DEPTH", &cfg.Crawl.MaxDepth)
	setInt("SITEPROOF_CRAWL_CONCURRENCY", &cfg.Crawl.Concurrency)
	setBool("SITEPROOF_FOLD_HOST_VARIANTS", &cfg.Crawl.FoldHostVariant)
	setString("SITEPROOF_EMBED_BASE_URL", &cfg.Index.EmbedBaseURL)
	setString("SITEPROOF_EMBED_MODEL", &cfg.Index.EmbedModel)
	setFloat("SITEPROOF_DIVERGENCE_THRESHOLD", &cfg.Scoring.DivergenceThreshold)
	setBool("SITEPROOF_PREFER_OBSERVED", &cfg.Scoring.PreferObserved)
}

func validate(cfg Config) error {
	if cfg.Crawl.MaxPages <= 0 {
		return fmt.Errorf("crawl.max_pages must be positive, got %d", cfg.Crawl.MaxPages)
	}
	if cfg.Crawl.MaxDepth < 0 {
		return fmt.Errorf("crawl.max_depth must be non-negative, got %d", cfg.Crawl.MaxDepth)
	}
	if cfg.Chunk.MinTokens >= cfg.Chunk.MaxTokens {
		return fmt.Errorf("chunk.min_tokens (%d) must be below chunk.max_tokens (%d)",
			cfg.Chunk.MinTokens, cfg.Chunk.MaxTokens)
	}
	if cfg.Retrieval.MaxPerPage <= 0 {
		return fmt.Errorf("retrieval.max_per_page must be positive, got %d", cfg.Retrieval.MaxPerPage)
	}
	for _, band := range []string{"conservative", "typical", "generous"} {
		if cfg.Scoring.BandBudgets[band] <= 0 {
			return fmt.Errorf("scoring.band_budgets.%s must be positive", band)
		}
	}
	return nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".siteproof"
	}
	return filepath.Join(home, ".local", "share", "siteproof")
}

// Package config defines the findex configuration schema, loading, and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete findex configuration.
type Config struct {
	// DataRoot is where all persistent state lives (indexes, db, logs).
	DataRoot string `yaml:"data_root"`

	Scanner   ScannerConfig   `yaml:"scanner"`
	Parser    ParserConfig    `yaml:"parser"`
	Chunk     ChunkConfig     `yaml:"chunk"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Vector    VectorConfig    `yaml:"vector"`
	Fulltext  FulltextConfig  `yaml:"fulltext"`
	AI        AIConfig        `yaml:"ai"`
	Job       JobConfig       `yaml:"job"`
	Search    SearchConfig    `yaml:"search"`
	Watcher   WatcherConfig   `yaml:"watcher"`
	Server    ServerConfig    `yaml:"server"`
}

// ScannerConfig configures file discovery.
type ScannerConfig struct {
	// MaxWorkers is the parallelism of stat+hash computation (default: 4).
	MaxWorkers int `yaml:"max_workers"`

	// MaxFileSize drops files larger than this many bytes (default: 100MiB).
	MaxFileSize int64 `yaml:"max_file_size"`

	// SupportedExtensions is the extension allow-list (with leading dot).
	SupportedExtensions []string `yaml:"supported_extensions"`
}

// ParserConfig configures content extraction.
type ParserConfig struct {
	// MaxContentLength truncates parsed text to this many characters (default: 1MiB).
	MaxContentLength int `yaml:"max_content_length"`

	// StripGarbage removes repeated-garbage runs from PDF/Office text (default: off).
	StripGarbage bool `yaml:"strip_garbage"`
}

// ChunkConfig configures the size+overlap chunking policy.
type ChunkConfig struct {
	// DefaultSize is the target window size in characters (clamped 100-2000).
	DefaultSize int `yaml:"default_size"`

	// Overlap is the overlap prefix length (clamped 0 to DefaultSize/2).
	Overlap int `yaml:"overlap"`

	// Threshold is the minimum text length to chunk (default: 600).
	Threshold int `yaml:"threshold"`

	// AutoTypes lists file types eligible for chunking.
	AutoTypes []string `yaml:"auto_types"`
}

// EmbeddingConfig configures the embedder.
type EmbeddingConfig struct {
	// OllamaHost is the Ollama-compatible API endpoint.
	OllamaHost string `yaml:"ollama_host"`

	// Model is the embedding model name.
	Model string `yaml:"model"`

	// Dim is the embedding dimension; must match the vector index.
	Dim int `yaml:"dim"`

	// BatchSize caps texts per embedding call (default: 32).
	BatchSize int `yaml:"batch_size"`

	// Timeout is the per-batch deadline (default: 30s).
	Timeout time.Duration `yaml:"timeout"`

	// CacheSize is the query-embedding LRU size (0 disables caching).
	CacheSize int `yaml:"cache_size"`
}

// VectorConfig tunes the nearest-neighbor index.
// The graph parameters take the place of IVF nlist/nprobe: Nprobe, when
// set, overrides the query-time search width.
type VectorConfig struct {
	// M is max connections per HNSW layer (default: 16).
	M int `yaml:"m"`

	// EfSearch is the query-time search width (default: 64).
	EfSearch int `yaml:"ef_search"`

	// Nprobe, when non-zero, overrides EfSearch.
	Nprobe int `yaml:"nprobe"`
}

// FulltextConfig configures the full-text index.
type FulltextConfig struct {
	// UseCJKAnalyzer enables CJK bigram tokenization.
	UseCJKAnalyzer bool `yaml:"use_cjk_analyzer"`

	// K1 and B hold BM25 parameter values. They are defaulted and
	// validated here but not passed to the full-text index.
	K1 float64 `yaml:"k1"`
	B  float64 `yaml:"b"`

	// Boosts are per-field score multipliers.
	Boosts map[string]float64 `yaml:"boosts"`
}

// AIConfig configures the speech and image predictors.
type AIConfig struct {
	// SpeechEndpoint is the speech-to-text service endpoint (empty disables).
	SpeechEndpoint string `yaml:"speech_endpoint"`

	// SpeechMaxDuration caps audio fed to the predictor (default: 15m).
	SpeechMaxDuration time.Duration `yaml:"speech_max_duration"`

	// SpeechTimeout is the per-call deadline (default: 60s).
	SpeechTimeout time.Duration `yaml:"speech_timeout"`

	// ImageEndpoint is the OCR/caption service endpoint (empty disables).
	ImageEndpoint string `yaml:"image_endpoint"`

	// ImageTimeout is the per-call deadline (default: 30s).
	ImageTimeout time.Duration `yaml:"image_timeout"`

	// OCRMinConfidence filters OCR lines below this confidence (default: 0.3).
	OCRMinConfidence float64 `yaml:"ocr_min_confidence"`
}

// JobConfig configures index job execution.
type JobConfig struct {
	// MaxConcurrentFiles bounds per-file build parallelism (default: scanner workers).
	MaxConcurrentFiles int `yaml:"max_concurrent_files"`
}

// SearchConfig configures query behavior.
type SearchConfig struct {
	// HybridBoost multiplies scores of chunks found by both retrievers (default: 1.2).
	HybridBoost float64 `yaml:"hybrid_boost"`

	// RRF switches hybrid fusion to weighted reciprocal rank fusion.
	RRF bool `yaml:"rrf"`

	// RRFConstant is the RRF smoothing parameter k (default: 60).
	RRFConstant int `yaml:"rrf_constant"`

	// DefaultLimit is the result count when the caller passes none (default: 10).
	DefaultLimit int `yaml:"default_limit"`
}

// WatcherConfig configures the directory watcher.
type WatcherConfig struct {
	// Debounce is the quiet period before an incremental job fires (default: 2s).
	Debounce time.Duration `yaml:"debounce"`
}

// ServerConfig holds process-level settings.
type ServerConfig struct {
	LogLevel string `yaml:"log_level"`
}

// DefaultExtensions is the default extension allow-list.
var DefaultExtensions = []string{
	".txt", ".md", ".markdown", ".rst", ".html", ".htm",
	".pdf", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx",
	".go", ".py", ".js", ".ts", ".java", ".c", ".cpp", ".rs", ".rb", ".sh",
	".json", ".yaml", ".yml", ".toml", ".xml", ".csv",
	".png", ".jpg", ".jpeg", ".gif", ".bmp", ".webp",
	".mp3", ".wav", ".m4a", ".flac", ".ogg",
	".mp4", ".mkv", ".avi", ".mov", ".webm",
}

// Default returns the default configuration rooted at dataRoot.
func Default(dataRoot string) *Config {
	return &Config{
		DataRoot: dataRoot,
		Scanner: ScannerConfig{
			MaxWorkers:          4,
			MaxFileSize:         100 * 1024 * 1024,
			SupportedExtensions: append([]string(nil), DefaultExtensions...),
		},
		Parser: ParserConfig{
			MaxContentLength: 1024 * 1024,
		},
		Chunk: ChunkConfig{
			DefaultSize: 1000,
			Overlap:     200,
			Threshold:   600,
			AutoTypes:   []string{"document", "text", "pdf"},
		},
		Embedding: EmbeddingConfig{
			OllamaHost: "http://localhost:11434",
			Model:      "nomic-embed-text",
			Dim:        768,
			BatchSize:  32,
			Timeout:    30 * time.Second,
			CacheSize:  256,
		},
		Vector: VectorConfig{
			M:        16,
			EfSearch: 64,
		},
		Fulltext: FulltextConfig{
			UseCJKAnalyzer: true,
			K1:             1.2,
			B:              0.75,
			Boosts: map[string]float64{
				"title":     1.5,
				"file_name": 1.3,
				"content":   1.0,
			},
		},
		AI: AIConfig{
			SpeechMaxDuration: 15 * time.Minute,
			SpeechTimeout:     60 * time.Second,
			ImageTimeout:      30 * time.Second,
			OCRMinConfidence:  0.3,
		},
		Job: JobConfig{},
		Search: SearchConfig{
			HybridBoost:  1.2,
			RRFConstant:  60,
			DefaultLimit: 10,
		},
		Watcher: WatcherConfig{
			Debounce: 2 * time.Second,
		},
		Server: ServerConfig{
			LogLevel: "info",
		},
	}
}

// Load reads configuration from path, layering it over defaults.
// A missing file returns defaults without error.
func Load(path string) (*Config, error) {
	cfg := Default(defaultDataRoot())

	if path == "" {
		path = filepath.Join(cfg.DataRoot, "config.yaml")
	}

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv applies environment variable overrides.
func (c *Config) applyEnv() {
	if v := os.Getenv("FINDEX_DATA_ROOT"); v != "" {
		c.DataRoot = v
	}
	if v := os.Getenv("FINDEX_OLLAMA_HOST"); v != "" {
		c.Embedding.OllamaHost = v
	}
	if v := os.Getenv("FINDEX_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
}

// Validate clamps all tunables into their supported ranges.
func (c *Config) Validate() error {
	if c.DataRoot == "" {
		return fmt.Errorf("data_root must not be empty")
	}

	if c.Scanner.MaxWorkers <= 0 {
		c.Scanner.MaxWorkers = 4
	}
	if c.Scanner.MaxFileSize <= 0 {
		c.Scanner.MaxFileSize = 100 * 1024 * 1024
	}
	if len(c.Scanner.SupportedExtensions) == 0 {
		c.Scanner.SupportedExtensions = append([]string(nil), DefaultExtensions...)
	}

	if c.Parser.MaxContentLength <= 0 {
		c.Parser.MaxContentLength = 1024 * 1024
	}

	// Chunk window clamps per policy: size 100-2000, overlap 0..size/2.
	if c.Chunk.DefaultSize < 100 {
		c.Chunk.DefaultSize = 100
	}
	if c.Chunk.DefaultSize > 2000 {
		c.Chunk.DefaultSize = 2000
	}
	if c.Chunk.Overlap < 0 {
		c.Chunk.Overlap = 0
	}
	if c.Chunk.Overlap > c.Chunk.DefaultSize/2 {
		c.Chunk.Overlap = c.Chunk.DefaultSize / 2
	}
	if c.Chunk.Threshold <= 0 {
		c.Chunk.Threshold = 600
	}
	if len(c.Chunk.AutoTypes) == 0 {
		c.Chunk.AutoTypes = []string{"document", "text", "pdf"}
	}

	if c.Embedding.BatchSize <= 0 {
		c.Embedding.BatchSize = 32
	}
	if c.Embedding.Dim <= 0 {
		return fmt.Errorf("embedding.dim must be positive")
	}
	if c.Embedding.Timeout <= 0 {
		c.Embedding.Timeout = 30 * time.Second
	}

	if c.Vector.M <= 0 {
		c.Vector.M = 16
	}
	if c.Vector.EfSearch <= 0 {
		c.Vector.EfSearch = 64
	}
	if c.Vector.Nprobe > 0 {
		c.Vector.EfSearch = c.Vector.Nprobe
	}

	if c.Fulltext.K1 <= 0 {
		c.Fulltext.K1 = 1.2
	}
	if c.Fulltext.B <= 0 {
		c.Fulltext.B = 0.75
	}
	if len(c.Fulltext.Boosts) == 0 {
		c.Fulltext.Boosts = map[string]float64{"title": 1.5, "file_name": 1.3, "content": 1.0}
	}

	if c.AI.SpeechMaxDuration <= 0 {
		c.AI.SpeechMaxDuration = 15 * time.Minute
	}
	if c.AI.SpeechTimeout <= 0 {
		c.AI.SpeechTimeout = 60 * time.Second
	}
	if c.AI.ImageTimeout <= 0 {
		c.AI.ImageTimeout = 30 * time.Second
	}
	if c.AI.OCRMinConfidence <= 0 || c.AI.OCRMinConfidence > 1 {
		c.AI.OCRMinConfidence = 0.3
	}

	if c.Job.MaxConcurrentFiles <= 0 {
		c.Job.MaxConcurrentFiles = c.Scanner.MaxWorkers
	}

	if c.Search.HybridBoost <= 0 {
		c.Search.HybridBoost = 1.2
	}
	if c.Search.RRFConstant <= 0 {
		c.Search.RRFConstant = 60
	}
	if c.Search.DefaultLimit <= 0 {
		c.Search.DefaultLimit = 10
	}

	if c.Watcher.Debounce <= 0 {
		c.Watcher.Debounce = 2 * time.Second
	}

	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}

	return nil
}

// Save writes the configuration as YAML to path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Paths derived from DataRoot.

// DBPath returns the relational store path.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataRoot, "db", "app.db")
}

// VectorIndexPath returns the vector index file path.
func (c *Config) VectorIndexPath() string {
	return filepath.Join(c.DataRoot, "indexes", "vector", "file_index.bin")
}

// FulltextIndexPath returns the full-text index directory.
func (c *Config) FulltextIndexPath() string {
	return filepath.Join(c.DataRoot, "indexes", "fulltext")
}

// LockPath returns the single-process lock file path.
func (c *Config) LockPath() string {
	return filepath.Join(c.DataRoot, "findex.lock")
}

func defaultDataRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".findex"
	}
	return filepath.Join(home, ".findex")
}

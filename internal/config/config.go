package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// Config is the complete amanrag configuration. It is loaded once by the CLI
// and passed down explicitly; no component reads it from global state.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Retrieval  RetrievalConfig  `yaml:"retrieval" json:"retrieval"`
	Expansion  ExpansionConfig  `yaml:"expansion" json:"expansion"`
	Rerank     RerankConfig     `yaml:"rerank" json:"rerank"`
	Router     RouterConfig     `yaml:"router" json:"router"`
	Generation GenerationConfig `yaml:"generation" json:"generation"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Storage    StorageConfig    `yaml:"storage" json:"storage"`
	Server     ServerConfig     `yaml:"server" json:"server"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// RetrievalConfig tunes the hybrid retriever.
// Alpha and Oversample are tunable defaults, not validated constants:
// adjust them against representative query sets.
type RetrievalConfig struct {
	// Alpha weights the normalized vector score; 1-Alpha weights keyword.
	Alpha float64 `yaml:"alpha" json:"alpha"`

	// Oversample multiplies TopK to leave room for reranking.
	Oversample int `yaml:"oversample" json:"oversample"`

	// TopK is the number of chunks handed to generation.
	TopK int `yaml:"top_k" json:"top_k"`

	// IdentifierFields are metadata keys whose equality predicates run as
	// exact-identifier lookups.
	IdentifierFields []string `yaml:"identifier_fields" json:"identifier_fields"`

	// KeywordBackend selects the keyword index: "bleve" or "sqlite".
	KeywordBackend string `yaml:"keyword_backend" json:"keyword_backend"`

	// MaxConcurrency bounds per-variant index lookups in flight.
	MaxConcurrency int `yaml:"max_concurrency" json:"max_concurrency"`

	EmbedTimeout time.Duration `yaml:"embed_timeout" json:"embed_timeout"`
}

// ExpansionConfig configures the query expander.
type ExpansionConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// MaxVariants includes the original query.
	MaxVariants int `yaml:"max_variants" json:"max_variants"`

	// ExpandedWeight scales scores contributed by generated variants.
	ExpandedWeight float64       `yaml:"expanded_weight" json:"expanded_weight"`
	Timeout        time.Duration `yaml:"timeout" json:"timeout"`
}

// RerankConfig configures the reranking stage.
type RerankConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Provider is "llm" (fast-tier ordering call) or "lexical" (token overlap).
	Provider string        `yaml:"provider" json:"provider"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
}

// RouterConfig configures tier routing.
type RouterConfig struct {
	// ComplexWordThreshold: queries with more words are complex.
	ComplexWordThreshold int `yaml:"complex_word_threshold" json:"complex_word_threshold"`

	// SimpleWordThreshold: signal-free queries with at most this many words are simple.
	SimpleWordThreshold int `yaml:"simple_word_threshold" json:"simple_word_threshold"`

	// ComplexKeywords flag multi-step or comparative questions.
	ComplexKeywords []string `yaml:"complex_keywords" json:"complex_keywords"`

	ClassifierTimeout time.Duration `yaml:"classifier_timeout" json:"classifier_timeout"`

	// SessionCacheSize bounds cached classifications per session.
	SessionCacheSize int `yaml:"session_cache_size" json:"session_cache_size"`

	// MaxSessions bounds concurrently tracked sessions.
	MaxSessions int           `yaml:"max_sessions" json:"max_sessions"`
	SessionTTL  time.Duration `yaml:"session_ttl" json:"session_ttl"`
}

// GenerationConfig configures the two model tiers.
type GenerationConfig struct {
	// Provider is the generation backend; only "ollama" is supported.
	Provider       string        `yaml:"provider" json:"provider"`
	Host           string        `yaml:"host" json:"host"`
	FastModel      string        `yaml:"fast_model" json:"fast_model"`
	ComplexModel   string        `yaml:"complex_model" json:"complex_model"`
	FastTimeout    time.Duration `yaml:"fast_timeout" json:"fast_timeout"`
	ComplexTimeout time.Duration `yaml:"complex_timeout" json:"complex_timeout"`

	// ContextBudget caps the characters of chunk text placed in a prompt.
	ContextBudget int    `yaml:"context_budget" json:"context_budget"`
	SystemPrompt  string `yaml:"system_prompt" json:"system_prompt"`

	Breaker BreakerConfig `yaml:"breaker" json:"breaker"`
}

// BreakerConfig configures the per-tier circuit breaker.
type BreakerConfig struct {
	Enabled      bool          `yaml:"enabled" json:"enabled"`
	MinRequests  uint32        `yaml:"min_requests" json:"min_requests"`
	FailureRatio float64       `yaml:"failure_ratio" json:"failure_ratio"`
	OpenTimeout  time.Duration `yaml:"open_timeout" json:"open_timeout"`
}

// EmbeddingsConfig configures the query embedder.
type EmbeddingsConfig struct {
	// Provider is "ollama" or "static".
	Provider   string        `yaml:"provider" json:"provider"`
	Model      string        `yaml:"model" json:"model"`
	Host       string        `yaml:"host" json:"host"`
	Dimensions int           `yaml:"dimensions" json:"dimensions"`
	CacheSize  int           `yaml:"cache_size" json:"cache_size"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
	MaxRetries int           `yaml:"max_retries" json:"max_retries"`
}

// StorageConfig locates indexes and chunk sources.
type StorageConfig struct {
	// DataDir holds the keyword index, vector index and chunk database.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// ChunkStore is "sqlite" (persistent) or "memory".
	ChunkStore string `yaml:"chunk_store" json:"chunk_store"`

	// ChunkFiles are JSONL files produced by the ingestion pipeline.
	ChunkFiles []string `yaml:"chunk_files" json:"chunk_files"`

	// Watch reloads ChunkFiles on change while serving.
	Watch         bool          `yaml:"watch" json:"watch"`
	WatchDebounce time.Duration `yaml:"watch_debounce" json:"watch_debounce"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr" json:"addr"`

	// RateLimit is requests per second allowed per session; 0 disables.
	RateLimit      float64       `yaml:"rate_limit" json:"rate_limit"`
	RateBurst      int           `yaml:"rate_burst" json:"rate_burst"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
}

// LoggingConfig configures the slog JSON logger.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	FilePath  string `yaml:"file_path" json:"file_path"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// DefaultComplexKeywords flag questions that need the complex tier.
var DefaultComplexKeywords = []string{
	"compare", "comparison", "analyze", "analyse", "explain why", "how does",
	"relationship between", "what is the relationship", "synthesize",
	"evaluate", "discuss", "multiple", "several", "difference between",
	"pros and cons", "step by step", "trade-off", "tradeoff",
}

// DefaultIdentifierFields are exact-match metadata keys.
var DefaultIdentifierFields = []string{
	"article_number", "cas_number", "registry_number", "section_number",
}

// NewConfig returns a Config with defaults applied.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Retrieval: RetrievalConfig{
			Alpha:            0.7,
			Oversample:       3,
			TopK:             5,
			IdentifierFields: append([]string(nil), DefaultIdentifierFields...),
			KeywordBackend:   "bleve",
			MaxConcurrency:   8,
			EmbedTimeout:     10 * time.Second,
		},
		Expansion: ExpansionConfig{
			Enabled:        true,
			MaxVariants:    3,
			ExpandedWeight: 0.8,
			Timeout:        3 * time.Second,
		},
		Rerank: RerankConfig{
			Enabled:  true,
			Provider: "llm",
			Timeout:  5 * time.Second,
		},
		Router: RouterConfig{
			ComplexWordThreshold: 15,
			SimpleWordThreshold:  4,
			ComplexKeywords:      append([]string(nil), DefaultComplexKeywords...),
			ClassifierTimeout:    2 * time.Second,
			SessionCacheSize:     256,
			MaxSessions:          1024,
			SessionTTL:           30 * time.Minute,
		},
		Generation: GenerationConfig{
			Provider:       "ollama",
			Host:           "http://localhost:11434",
			FastModel:      "llama3.2:1b",
			ComplexModel:   "llama3.1:8b",
			FastTimeout:    30 * time.Second,
			ComplexTimeout: 120 * time.Second,
			ContextBudget:  12000,
			SystemPrompt:   "You are a helpful assistant that provides accurate, concise answers.",
			Breaker: BreakerConfig{
				Enabled:      true,
				MinRequests:  5,
				FailureRatio: 0.6,
				OpenTimeout:  30 * time.Second,
			},
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "ollama",
			Model:      "nomic-embed-text",
			Host:       "http://localhost:11434",
			Dimensions: 768,
			CacheSize:  1000,
			Timeout:    10 * time.Second,
			MaxRetries: 2,
		},
		Storage: StorageConfig{
			DataDir:       defaultDataDir(),
			ChunkStore:    "sqlite",
			WatchDebounce: 500 * time.Millisecond,
		},
		Server: ServerConfig{
			Addr:           "127.0.0.1:8080",
			RateLimit:      5,
			RateBurst:      10,
			RequestTimeout: 180 * time.Second,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".amanrag", "data")
	}
	return filepath.Join(home, ".amanrag", "data")
}

// GetUserConfigPath returns the user configuration file, following XDG:
//   - $XDG_CONFIG_HOME/amanrag/config.yaml
//   - ~/.config/amanrag/config.yaml
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "amanrag", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "amanrag", "config.yaml")
	}
	return filepath.Join(home, ".config", "amanrag", "config.yaml")
}

// Load loads configuration for dir, in order of increasing precedence:
//  1. Defaults
//  2. User config (~/.config/amanrag/config.yaml)
//  3. Project config (.amanrag.yaml in dir)
//  4. Environment variables (AMANRAG_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if path := GetUserConfigPath(); fileExists(path) {
		if err := cfg.loadYAML(path); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	for _, name := range []string{".amanrag.yaml", ".amanrag.yml"} {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			if err := cfg.loadYAML(path); err != nil {
				return nil, err
			}
			break
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, invalidConfig(err)
	}
	return cfg, nil
}

// LoadFile loads defaults overlaid with a single explicit file, then env.
func LoadFile(path string) (*Config, error) {
	cfg := NewConfig()
	if err := cfg.loadYAML(path); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, invalidConfig(err)
	}
	return cfg, nil
}

func invalidConfig(err error) error {
	return amanerrors.ConfigError("invalid configuration: "+err.Error(), err).
		WithSuggestion("Check the file with 'amanrag config show' or regenerate it with 'amanrag config init --force'")
}

// loadYAML decodes path over the current values; keys absent from the file
// keep their previous value, explicit zero values override.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("AMANRAG_ALPHA"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Retrieval.Alpha = f
		}
	}
	if v := os.Getenv("AMANRAG_OVERSAMPLE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Retrieval.Oversample = n
		}
	}
	if v := os.Getenv("AMANRAG_TOP_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Retrieval.TopK = n
		}
	}
	if v := os.Getenv("AMANRAG_KEYWORD_BACKEND"); v != "" {
		c.Retrieval.KeywordBackend = v
	}
	if v := os.Getenv("AMANRAG_EXPANSION_ENABLED"); v != "" {
		c.Expansion.Enabled = parseBool(v)
	}
	if v := os.Getenv("AMANRAG_RERANK_ENABLED"); v != "" {
		c.Rerank.Enabled = parseBool(v)
	}
	if v := os.Getenv("AMANRAG_RERANK_PROVIDER"); v != "" {
		c.Rerank.Provider = v
	}
	// AMANRAG_OLLAMA_HOST points both generation and embeddings at one server.
	if v := os.Getenv("AMANRAG_OLLAMA_HOST"); v != "" {
		c.Generation.Host = v
		c.Embeddings.Host = v
	}
	if v := os.Getenv("AMANRAG_FAST_MODEL"); v != "" {
		c.Generation.FastModel = v
	}
	if v := os.Getenv("AMANRAG_COMPLEX_MODEL"); v != "" {
		c.Generation.ComplexModel = v
	}
	if v := os.Getenv("AMANRAG_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("AMANRAG_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("AMANRAG_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("AMANRAG_SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("AMANRAG_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	r := c.Retrieval
	if r.Alpha < 0 || r.Alpha > 1 {
		return fmt.Errorf("retrieval.alpha must be between 0 and 1, got %f", r.Alpha)
	}
	if r.Oversample < 1 {
		return fmt.Errorf("retrieval.oversample must be at least 1, got %d", r.Oversample)
	}
	if r.TopK < 1 {
		return fmt.Errorf("retrieval.top_k must be positive, got %d", r.TopK)
	}
	if r.MaxConcurrency < 1 {
		return fmt.Errorf("retrieval.max_concurrency must be positive, got %d", r.MaxConcurrency)
	}
	if !oneOf(r.KeywordBackend, "bleve", "sqlite") {
		return fmt.Errorf("retrieval.keyword_backend must be 'bleve' or 'sqlite', got %s", r.KeywordBackend)
	}

	if c.Expansion.MaxVariants < 1 {
		return fmt.Errorf("expansion.max_variants must be at least 1, got %d", c.Expansion.MaxVariants)
	}
	if c.Expansion.ExpandedWeight <= 0 || c.Expansion.ExpandedWeight > 1 {
		return fmt.Errorf("expansion.expanded_weight must be in (0, 1], got %f", c.Expansion.ExpandedWeight)
	}

	if !oneOf(c.Rerank.Provider, "llm", "lexical") {
		return fmt.Errorf("rerank.provider must be 'llm' or 'lexical', got %s", c.Rerank.Provider)
	}

	if c.Router.ComplexWordThreshold <= c.Router.SimpleWordThreshold {
		return fmt.Errorf("router.complex_word_threshold (%d) must exceed simple_word_threshold (%d)",
			c.Router.ComplexWordThreshold, c.Router.SimpleWordThreshold)
	}

	g := c.Generation
	if !oneOf(g.Provider, "ollama") {
		return fmt.Errorf("generation.provider must be 'ollama', got %s", g.Provider)
	}
	if strings.TrimSpace(g.FastModel) == "" || strings.TrimSpace(g.ComplexModel) == "" {
		return fmt.Errorf("generation.fast_model and generation.complex_model are required")
	}
	if g.FastTimeout <= 0 || g.ComplexTimeout <= 0 {
		return fmt.Errorf("generation timeouts must be positive")
	}

	if !oneOf(c.Embeddings.Provider, "ollama", "static") {
		return fmt.Errorf("embeddings.provider must be 'ollama' or 'static', got %s", c.Embeddings.Provider)
	}
	if c.Embeddings.Dimensions < 1 {
		return fmt.Errorf("embeddings.dimensions must be positive, got %d", c.Embeddings.Dimensions)
	}

	if !oneOf(c.Storage.ChunkStore, "sqlite", "memory") {
		return fmt.Errorf("storage.chunk_store must be 'sqlite' or 'memory', got %s", c.Storage.ChunkStore)
	}

	if !oneOf(strings.ToLower(c.Logging.Level), "debug", "info", "warn", "error") {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}
	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

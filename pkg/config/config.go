// Package config defines the application configuration: file paths, LLM and
// embedder providers, retrieval budgets, research protocol tunables and the
// server surface. Every section implements SetDefaults and Validate; Load
// runs the full pipeline (expand env vars, set defaults, validate).
package config

import (
	"fmt"
	"os"
	"time"
)

// Config is the root configuration document.
type Config struct {
	Paths         PathsConfig         `yaml:"paths"`
	LLM           LLMConfig           `yaml:"llm"`
	Embedder      EmbedderConfig      `yaml:"embedder"`
	Vector        VectorConfig        `yaml:"vector"`
	Research      ResearchConfig      `yaml:"research"`
	Server        ServerConfig        `yaml:"server"`
	Observability ObservabilityConfig `yaml:"observability"`
	Log           LogConfig           `yaml:"log"`
}

// PathsConfig locates the on-disk working directories.
type PathsConfig struct {
	BatchesDir  string `yaml:"batches_dir"`
	SessionsDir string `yaml:"sessions_dir"`
	PromptsDir  string `yaml:"prompts_dir"`
	ReportsDir  string `yaml:"reports_dir"`
}

func (c *PathsConfig) SetDefaults() {
	if c.BatchesDir == "" {
		c.BatchesDir = "./data/batches"
	}
	if c.SessionsDir == "" {
		c.SessionsDir = "./data/sessions"
	}
	if c.PromptsDir == "" {
		c.PromptsDir = "./prompts"
	}
	if c.ReportsDir == "" {
		c.ReportsDir = "./data/reports"
	}
}

func (c *PathsConfig) Validate() error {
	if c.SessionsDir == "" {
		return fmt.Errorf("paths: sessions_dir is required")
	}
	return nil
}

// LLMConfig configures the research model provider.
type LLMConfig struct {
	Provider    string        `yaml:"provider"` // "openai" or "anthropic"
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	IdleTimeout time.Duration `yaml:"idle_timeout"` // max gap between stream chunks
	MaxRetries  int           `yaml:"max_retries"`
}

func (c *LLMConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = "openai"
	}
	if c.Model == "" {
		switch c.Provider {
		case "anthropic":
			c.Model = "claude-sonnet-4-20250514"
		default:
			c.Model = "gpt-4o"
		}
	}
	if c.APIKey == "" {
		switch c.Provider {
		case "anthropic":
			c.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		default:
			c.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	if c.BaseURL == "" {
		switch c.Provider {
		case "anthropic":
			c.BaseURL = "https://api.anthropic.com/v1"
		default:
			c.BaseURL = "https://api.openai.com/v1"
		}
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 8192
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 120 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
}

func (c *LLMConfig) Validate() error {
	switch c.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("llm: unsupported provider %q", c.Provider)
	}
	if c.APIKey == "" {
		return fmt.Errorf("llm: api_key is required (set %s)", apiKeyEnvVar(c.Provider))
	}
	return nil
}

func apiKeyEnvVar(provider string) string {
	if provider == "anthropic" {
		return "ANTHROPIC_API_KEY"
	}
	return "OPENAI_API_KEY"
}

// EmbedderConfig configures the embedding provider used for semantic
// retrieval. Disabled when no API key is available; semantic retrieval then
// falls back to keyword search.
type EmbedderConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	Dimension int    `yaml:"dimension"`
}

func (c *EmbedderConfig) SetDefaults() {
	if c.Model == "" {
		c.Model = "text-embedding-3-small"
	}
	if c.APIKey == "" {
		c.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	if c.Dimension == 0 {
		c.Dimension = 1536
	}
}

func (c *EmbedderConfig) Validate() error {
	if c.Enabled && c.APIKey == "" {
		return fmt.Errorf("embedder: enabled but no api_key")
	}
	return nil
}

// VectorConfig selects the vector store backing semantic retrieval.
type VectorConfig struct {
	Provider string `yaml:"provider"` // "chromem" (embedded) or "qdrant"
	Path     string `yaml:"path"`     // chromem persistence dir, empty = in-memory
	Host     string `yaml:"host"`     // qdrant
	Port     int    `yaml:"port"`     // qdrant
	UseTLS   bool   `yaml:"use_tls"`  // qdrant
	APIKey   string `yaml:"api_key"`  // qdrant
}

func (c *VectorConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = "chromem"
	}
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
}

func (c *VectorConfig) Validate() error {
	switch c.Provider {
	case "chromem", "qdrant":
		return nil
	default:
		return fmt.Errorf("vector: unsupported provider %q", c.Provider)
	}
}

// RetrievalBudgets caps the characters returned per retrieval call,
// by content type.
type RetrievalBudgets struct {
	TranscriptChars int `yaml:"transcript_chars"`
	CommentsChars   int `yaml:"comments_chars"`
	MetadataChars   int `yaml:"metadata_chars"`
}

// ResearchConfig holds the research protocol tunables. The defaults encode
// the protocol's standard behavior; overriding them is mostly useful in
// tests and small-batch experiments.
type ResearchConfig struct {
	MaxAmendmentRounds int `yaml:"max_amendment_rounds"` // phase 1 goal amendment loop
	MaxFollowups       int `yaml:"max_followups"`        // retrieval rounds per step

	// Planning thresholds in words. Below SmallBatchWords every step gets
	// chunk_strategy=all; between the two thresholds single-source batches
	// stay "all" while multi-source ones go sequential with MediumChunkSize;
	// above LargeBatchWords everything is sequential with ChunkSize and a
	// previous_findings synthesis step is appended.
	SmallBatchWords int `yaml:"small_batch_words"`
	LargeBatchWords int `yaml:"large_batch_words"`
	MediumChunkSize int `yaml:"medium_chunk_size"`
	ChunkSize       int `yaml:"chunk_size"`
	ChunkOverlap    int `yaml:"chunk_overlap"`

	MaxDigestEntries int `yaml:"max_digest_entries"` // global step-digest cap
	DigestMaxWords   int `yaml:"digest_max_words"`
	MaxEntriesPerSub int `yaml:"max_entries_per_sub"` // per-window additions per sub-array

	Budgets RetrievalBudgets `yaml:"retrieval_budgets"`

	PromptTimeout    time.Duration `yaml:"prompt_timeout"`    // user prompt hard timeout
	AutosaveDebounce time.Duration `yaml:"autosave_debounce"` // session flush coalescing
}

func (c *ResearchConfig) SetDefaults() {
	if c.MaxAmendmentRounds == 0 {
		c.MaxAmendmentRounds = 3
	}
	if c.MaxFollowups == 0 {
		c.MaxFollowups = 3
	}
	if c.SmallBatchWords == 0 {
		c.SmallBatchWords = 5000
	}
	if c.LargeBatchWords == 0 {
		c.LargeBatchWords = 10000
	}
	if c.MediumChunkSize == 0 {
		c.MediumChunkSize = 4000
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = 3000
	}
	if c.ChunkOverlap == 0 {
		c.ChunkOverlap = 400
	}
	if c.MaxDigestEntries == 0 {
		c.MaxDigestEntries = 12
	}
	if c.DigestMaxWords == 0 {
		c.DigestMaxWords = 400
	}
	if c.MaxEntriesPerSub == 0 {
		c.MaxEntriesPerSub = 10
	}
	if c.Budgets.TranscriptChars == 0 {
		c.Budgets.TranscriptChars = 50000
	}
	if c.Budgets.CommentsChars == 0 {
		c.Budgets.CommentsChars = 15000
	}
	if c.Budgets.MetadataChars == 0 {
		c.Budgets.MetadataChars = 10000
	}
	if c.PromptTimeout == 0 {
		c.PromptTimeout = 300 * time.Second
	}
	if c.AutosaveDebounce == 0 {
		c.AutosaveDebounce = 500 * time.Millisecond
	}
}

func (c *ResearchConfig) Validate() error {
	if c.SmallBatchWords >= c.LargeBatchWords {
		return fmt.Errorf("research: small_batch_words (%d) must be below large_batch_words (%d)",
			c.SmallBatchWords, c.LargeBatchWords)
	}
	if c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("research: chunk_overlap (%d) must be below chunk_size (%d)",
			c.ChunkOverlap, c.ChunkSize)
	}
	return nil
}

// ServerConfig configures the HTTP/WebSocket surface.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReplayBuffer    int           `yaml:"replay_buffer"` // frames retained per batch
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = 8420
	}
	if c.ReplayBuffer == 0 {
		c.ReplayBuffer = 100
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

func (c *ServerConfig) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("server: invalid port %d", c.Port)
	}
	return nil
}

// ObservabilityConfig toggles the Prometheus and OpenTelemetry exports.
type ObservabilityConfig struct {
	MetricsEnabled bool   `yaml:"metrics_enabled"`
	TracingEnabled bool   `yaml:"tracing_enabled"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"` // empty = stdout exporter
	ServiceName    string `yaml:"service_name"`
}

func (c *ObservabilityConfig) SetDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "fathom"
	}
}

func (c *ObservabilityConfig) Validate() error { return nil }

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "simple" or "verbose"
	File   string `yaml:"file"`   // empty = stderr
}

func (c *LogConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "simple"
	}
}

func (c *LogConfig) Validate() error { return nil }

// SetDefaults fills every unset field across all sections.
func (c *Config) SetDefaults() {
	c.Paths.SetDefaults()
	c.LLM.SetDefaults()
	c.Embedder.SetDefaults()
	c.Vector.SetDefaults()
	c.Research.SetDefaults()
	c.Server.SetDefaults()
	c.Observability.SetDefaults()
	c.Log.SetDefaults()
}

// Validate checks every section and returns the first problem found.
func (c *Config) Validate() error {
	validators := []func() error{
		c.Paths.Validate,
		c.LLM.Validate,
		c.Embedder.Validate,
		c.Vector.Validate,
		c.Research.Validate,
		c.Server.Validate,
		c.Observability.Validate,
		c.Log.Validate,
	}
	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}
	return nil
}

// ProcessConfigPipeline runs the standard post-parse steps in order.
func (c *Config) ProcessConfigPipeline() error {
	c.SetDefaults()
	return c.Validate()
}

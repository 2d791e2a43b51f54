// Package config loads runtime configuration from the environment and an
// optional config file using viper.
package config

import (
	"log/slog"
	"math"
	"os"
	"strings"
	"time"

	"github.com/Lllllllleong/documentanalysisflow/internal/errors"
	"github.com/spf13/viper"
)

// AI providers.
const (
	ProviderVertex    = "vertex"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
	ProviderPreview   = "preview"
)

// Storage and cache backends.
const (
	BackendMemory    = "memory"
	BackendFirestore = "firestore"
	BackendNone      = "none"
)

// Config holds all configuration values.
type Config struct {
	// Google Cloud
	ProjectID        string
	VertexRegion     string
	GeminiModel      string
	WorkflowID       string
	WorkflowLocation string

	// AI provider selection
	AIProvider      string
	LLMModel        string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	OllamaHost      string

	// AI adapter behaviour
	AITimeout          time.Duration
	AIMaxAttempts      int
	AIBackoffInitial   time.Duration
	AIBackoffMax       time.Duration
	AIMaxContextTokens int
	AIOversizePolicy   string
	AIChunkConcurrency int

	// Rate limiting of outbound AI calls
	RateLimitRequests int
	RateLimitWindow   time.Duration
	RateLimitMaxWait  time.Duration

	// Storage
	StoreBackend    string
	CacheBackend    string
	CacheTTL        time.Duration
	CacheCollection string
	UploadBucket    string
	UploadDir       string

	// Upload validation
	MaxFileSize       int64
	AllowedExtensions []string

	// Pipeline
	ChunkMaxChars     int
	ChunkOverlapChars int
	PipelineWorkers   int
	ProgressQueueSize int

	// Server and logging
	Port     string
	LogLevel slog.Level
	LogFile  string
}

// SetDefaults registers every key with its default value.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("project_id", "")
	v.SetDefault("vertex_ai_region", "us-central1")
	v.SetDefault("gemini_model", "gemini-1.5-pro")
	v.SetDefault("workflow_id", "")
	v.SetDefault("workflow_location", "us-central1")

	v.SetDefault("ai_provider", ProviderPreview)
	v.SetDefault("llm_model", "")
	v.SetDefault("openai_api_key", "")
	v.SetDefault("anthropic_api_key", "")
	v.SetDefault("ollama_host", "http://localhost:11434")

	v.SetDefault("ai.timeout", "60s")
	v.SetDefault("ai.max_attempts", 3)
	v.SetDefault("ai.backoff_initial", "4s")
	v.SetDefault("ai.backoff_max", "10s")
	v.SetDefault("ai.max_context_tokens", 4000)
	v.SetDefault("ai.oversize_policy", "summarize")
	v.SetDefault("ai.chunk_concurrency", 4)

	v.SetDefault("rate_limit.requests", 10)
	v.SetDefault("rate_limit.window", "60s")
	v.SetDefault("rate_limit.max_wait", "0s")

	v.SetDefault("store_backend", BackendMemory)
	v.SetDefault("cache.backend", BackendMemory)
	v.SetDefault("cache.ttl", "3600s")
	v.SetDefault("cache.collection", "analysis_cache")
	v.SetDefault("upload_bucket", "")
	v.SetDefault("upload_dir", "uploads")

	v.SetDefault("max_file_size", 5*1024*1024)
	v.SetDefault("allowed_extensions", []string{".pdf", ".txt", ".md"})

	v.SetDefault("chunk.max_chars", 12000)
	v.SetDefault("chunk.overlap_chars", 200)
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("progress.queue_size", 16)

	v.SetDefault("port", "8080")
	v.SetDefault("log_level", "INFO")
	v.SetDefault("log_file", "")
}

// NewViper returns a viper instance bound to the environment. Nested keys map
// to env names by replacing "." with "_", so "rate_limit.requests" reads
// RATE_LIMIT_REQUESTS. DOCFLOW_CONFIG names an optional config file.
func NewViper() (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	if path := os.Getenv("DOCFLOW_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", path)
		}
	}
	return v, nil
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	v, err := NewViper()
	if err != nil {
		return nil, err
	}
	return LoadWithViper(v)
}

// LoadWithViper builds a Config from a prepared viper instance.
func LoadWithViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		ProjectID:        v.GetString("project_id"),
		VertexRegion:     v.GetString("vertex_ai_region"),
		GeminiModel:      v.GetString("gemini_model"),
		WorkflowID:       v.GetString("workflow_id"),
		WorkflowLocation: v.GetString("workflow_location"),

		AIProvider:      strings.ToLower(v.GetString("ai_provider")),
		LLMModel:        v.GetString("llm_model"),
		OpenAIAPIKey:    v.GetString("openai_api_key"),
		AnthropicAPIKey: v.GetString("anthropic_api_key"),
		OllamaHost:      v.GetString("ollama_host"),

		AITimeout:          v.GetDuration("ai.timeout"),
		AIMaxAttempts:      v.GetInt("ai.max_attempts"),
		AIBackoffInitial:   v.GetDuration("ai.backoff_initial"),
		AIBackoffMax:       v.GetDuration("ai.backoff_max"),
		AIMaxContextTokens: v.GetInt("ai.max_context_tokens"),
		AIOversizePolicy:   strings.ToLower(v.GetString("ai.oversize_policy")),
		AIChunkConcurrency: v.GetInt("ai.chunk_concurrency"),

		RateLimitRequests: v.GetInt("rate_limit.requests"),
		RateLimitWindow:   v.GetDuration("rate_limit.window"),
		RateLimitMaxWait:  v.GetDuration("rate_limit.max_wait"),

		StoreBackend:    strings.ToLower(v.GetString("store_backend")),
		CacheBackend:    strings.ToLower(v.GetString("cache.backend")),
		CacheTTL:        v.GetDuration("cache.ttl"),
		CacheCollection: v.GetString("cache.collection"),
		UploadBucket:    v.GetString("upload_bucket"),
		UploadDir:       v.GetString("upload_dir"),

		MaxFileSize:       v.GetInt64("max_file_size"),
		AllowedExtensions: splitList(v.GetStringSlice("allowed_extensions")),

		ChunkMaxChars:     v.GetInt("chunk.max_chars"),
		ChunkOverlapChars: v.GetInt("chunk.overlap_chars"),
		PipelineWorkers:   v.GetInt("pipeline.workers"),
		ProgressQueueSize: v.GetInt("progress.queue_size"),

		Port:     v.GetString("port"),
		LogLevel: ParseLogLevel(v.GetString("log_level")),
		LogFile:  v.GetString("log_file"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	needsProject := c.StoreBackend == BackendFirestore || c.CacheBackend == BackendFirestore ||
		c.AIProvider == ProviderVertex || c.UploadBucket != "" || c.WorkflowID != ""
	if needsProject && c.ProjectID == "" {
		return errors.New("PROJECT_ID environment variable must be set")
	}

	switch c.AIProvider {
	case ProviderVertex, ProviderOllama, ProviderPreview:
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return errors.New("OPENAI_API_KEY environment variable must be set")
		}
	case ProviderAnthropic:
		if c.AnthropicAPIKey == "" {
			return errors.New("ANTHROPIC_API_KEY environment variable must be set")
		}
	default:
		return errors.Newf("unsupported AI provider: %s", c.AIProvider)
	}

	switch c.StoreBackend {
	case BackendMemory, BackendFirestore:
	default:
		return errors.Newf("unsupported store backend: %s", c.StoreBackend)
	}
	switch c.CacheBackend {
	case BackendMemory, BackendFirestore, BackendNone:
	default:
		return errors.Newf("unsupported cache backend: %s", c.CacheBackend)
	}
	switch c.AIOversizePolicy {
	case "summarize", "reject":
	default:
		return errors.Newf("unsupported oversize policy: %s", c.AIOversizePolicy)
	}

	if c.RateLimitRequests <= 0 || c.RateLimitWindow <= 0 {
		return errors.New("rate limit requests and window must be positive")
	}
	if c.AIMaxAttempts < 1 {
		return errors.New("AI_MAX_ATTEMPTS must be at least 1")
	}
	if c.ChunkOverlapChars >= c.ChunkMaxChars {
		return errors.Newf("chunk overlap (%d) must be smaller than chunk size (%d)", c.ChunkOverlapChars, c.ChunkMaxChars)
	}
	if tokens := ChunkTokens(c.ChunkMaxChars); c.AIMaxContextTokens > 0 && tokens > c.AIMaxContextTokens {
		return errors.WithHintf(
			errors.Newf("chunk.max_chars (%d) needs ~%d tokens, above ai.max_context_tokens (%d)", c.ChunkMaxChars, tokens, c.AIMaxContextTokens),
			"lower chunk.max_chars to at most %d", c.AIMaxContextTokens*charsPerWord*100/133)
	}
	return nil
}

// Token estimate for a full chunk, at the word rate the AI adapter uses.
const (
	charsPerWord  = 5
	tokensPerWord = 1.33
)

// ChunkTokens estimates the tokens of a chunk of maxChars characters.
func ChunkTokens(maxChars int) int {
	return int(math.Ceil(float64(maxChars) / charsPerWord * tokensPerWord))
}

// splitList accepts both list values and a comma separated env string.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// ParseLogLevel maps a level name to slog, defaulting to INFO.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

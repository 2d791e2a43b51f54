package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.RateLimitRequests)
	assert.Equal(t, 60*time.Second, cfg.RateLimitWindow)
	assert.Equal(t, time.Duration(0), cfg.RateLimitMaxWait)
	assert.Equal(t, time.Hour, cfg.CacheTTL)
	assert.Equal(t, 3, cfg.AIMaxAttempts)
	assert.Equal(t, 4000, cfg.AIMaxContextTokens)
	assert.Equal(t, "summarize", cfg.AIOversizePolicy)
	assert.Equal(t, int64(5*1024*1024), cfg.MaxFileSize)
	assert.Equal(t, []string{".pdf", ".txt", ".md"}, cfg.AllowedExtensions)
	assert.Equal(t, ProviderPreview, cfg.AIProvider)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("RATE_LIMIT_REQUESTS", "3")
	t.Setenv("RATE_LIMIT_WINDOW", "10s")
	t.Setenv("ALLOWED_EXTENSIONS", ".TXT, .pdf")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("AI_OVERSIZE_POLICY", "reject")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.RateLimitRequests)
	assert.Equal(t, 10*time.Second, cfg.RateLimitWindow)
	assert.Equal(t, []string{".txt", ".pdf"}, cfg.AllowedExtensions)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, "reject", cfg.AIOversizePolicy)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		set  map[string]any
		want string
	}{
		{"firestore needs project", map[string]any{"store_backend": "firestore"}, "PROJECT_ID"},
		{"openai needs key", map[string]any{"ai_provider": "openai"}, "OPENAI_API_KEY"},
		{"unknown provider", map[string]any{"ai_provider": "bard"}, "unsupported AI provider"},
		{"bad cache backend", map[string]any{"cache.backend": "redis"}, "unsupported cache backend"},
		{"zero rate", map[string]any{"rate_limit.requests": 0}, "must be positive"},
		{"overlap too large", map[string]any{"chunk.overlap_chars": 20000}, "chunk overlap"},
		{"chunk exceeds model context", map[string]any{"ai.max_context_tokens": 1000}, "chunk.max_chars (12000)"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := viper.New()
			SetDefaults(v)
			for k, val := range tc.set {
				v.Set(k, val)
			}
			_, err := LoadWithViper(v)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestValidate_ChunkFitsModelContext(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("ai.max_context_tokens", 1000)
	v.Set("chunk.max_chars", 3000)
	v.Set("chunk.overlap_chars", 100)
	cfg, err := LoadWithViper(v)
	require.NoError(t, err)
	assert.LessOrEqual(t, ChunkTokens(cfg.ChunkMaxChars), cfg.AIMaxContextTokens)

	// the hinted size is accepted
	v.Set("chunk.max_chars", 3759)
	_, err = LoadWithViper(v)
	require.NoError(t, err)
	v.Set("chunk.max_chars", 3800)
	_, err = LoadWithViper(v)
	require.Error(t, err)
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelWarn, ParseLogLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLogLevel("ERROR"))
	assert.Equal(t, slog.LevelInfo, ParseLogLevel("nonsense"))
}

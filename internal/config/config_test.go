package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/match-orchestrator/internal/cache"
	"github.com/jonathan/match-orchestrator/internal/llm"
)

// isolate runs the test from an empty directory so no match.yaml is picked up.
func isolate(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
	for _, env := range legacyEnv {
		t.Setenv(env, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, 3, cfg.Executor.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Executor.RetryDelay)
	assert.Equal(t, 60*time.Second, cfg.Executor.CallTimeout)
	assert.Equal(t, 35.0, cfg.Orchestration.FallbackScore)
	assert.Equal(t, 25.0, cfg.Orchestration.DivergenceThreshold)
	assert.Equal(t, 12000, cfg.Orchestration.MaxDocumentLength)
	assert.Equal(t, CacheMemory, cfg.Cache.Backend)
	assert.Equal(t, 30*24*time.Hour, cfg.Cache.DefaultProfileTTL)
	assert.Equal(t, 24*time.Hour, cfg.Cache.AgentResultTTL)
	assert.Equal(t, 24, cfg.JWT.ExpirationHours)
}

func TestLoad_File(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "match.yaml")
	content := `
server:
  addr: ":9090"
llm:
  provider: gemini
  model_advanced: gemini-2.5-pro-exp
executor:
  max_attempts: 5
  retry_delay: 250ms
orchestration:
  divergence_threshold: 15
cache:
  backend: none
  agent_result_ttl: 2h
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, 5, cfg.Executor.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Executor.RetryDelay)
	assert.Equal(t, 15.0, cfg.Orchestration.DivergenceThreshold)
	assert.Equal(t, CacheNone, cfg.Cache.Backend)
	assert.Equal(t, 2*time.Hour, cfg.Cache.AgentResultTTL)

	mc := cfg.ModelConfig()
	assert.Equal(t, llm.ProviderGemini, mc.Provider)
	assert.Equal(t, "gemini-2.5-pro-exp", mc.GetModel(llm.TierAdvanced))
	assert.Equal(t, "gemini-2.5-flash", mc.GetModel(llm.TierStandard))
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	isolate(t)
	_, err := Load("/nonexistent/match.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("MATCH_SERVER_ADDR", ":7000")
	t.Setenv("MATCH_ORCHESTRATION_FALLBACK_SCORE", "30")
	t.Setenv("OPENAI_API_KEY", "sk-legacy")
	t.Setenv("DATABASE_URL", "postgres://localhost/match")
	t.Setenv("MATCH_CACHE_BACKEND", "postgres")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, 30.0, cfg.Orchestration.FallbackScore)
	assert.Equal(t, "sk-legacy", cfg.APIKey())
	assert.Equal(t, "postgres://localhost/match", cfg.Database.URL)
	assert.NoError(t, cfg.RequireLLM())
}

func TestLoad_PrefixedEnvWinsOverLegacy(t *testing.T) {
	isolate(t)
	t.Setenv("OPENAI_API_KEY", "sk-legacy")
	t.Setenv("MATCH_LLM_OPENAI_API_KEY", "sk-prefixed")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-prefixed", cfg.APIKey())
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	isolate(t)
	cfg, err := Load("")
	require.NoError(t, err)
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"unknown provider", func(c *Config) { c.LLM.Provider = "acme" }, "llm.provider"},
		{"zero attempts", func(c *Config) { c.Executor.MaxAttempts = 0 }, "max_attempts"},
		{"negative delay", func(c *Config) { c.Executor.RetryDelay = -time.Second }, "retry_delay"},
		{"threshold out of range", func(c *Config) { c.Orchestration.DivergenceThreshold = 120 }, "divergence_threshold"},
		{"inverted thresholds", func(c *Config) { c.Orchestration.RedFlagBelow = 90 }, "red_flag_below"},
		{"postgres without url", func(c *Config) { c.Cache.Backend = CachePostgres }, "database.url"},
		{"redis without addr", func(c *Config) { c.Cache.Backend = CacheRedis }, "redis.addr"},
		{"unknown backend", func(c *Config) { c.Cache.Backend = "memcached" }, "cache.backend"},
		{"zero ttl", func(c *Config) { c.Cache.CurrentJobTTL = 0 }, "ttl"},
		{"zero jwt expiration", func(c *Config) { c.JWT.ExpirationHours = 0 }, "expiration_hours"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRequireLLM_MissingKey(t *testing.T) {
	cfg := validConfig(t)
	cfg.LLM.Provider = "gemini"
	err := cfg.RequireLLM()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GEMINI_API_KEY")
}

func TestConversions(t *testing.T) {
	cfg := validConfig(t)
	cfg.Executor.MaxAttempts = 4
	cfg.Orchestration.DivergenceThreshold = 10
	cfg.Cache.AgentResultTTL = time.Hour

	assert.Equal(t, 4, cfg.ExecutorOptions().MaxAttempts)
	assert.NotEmpty(t, cfg.ExecutorOptions().Prices)
	assert.Equal(t, 10.0, cfg.AggregatorOptions().DivergenceThreshold)

	c := cache.New(cache.NewMemoryStore(), cfg.CacheOptions()...)
	assert.Equal(t, time.Hour, c.TTL(cache.AgentResult))
	assert.Equal(t, 7*24*time.Hour, c.TTL(cache.CurrentJob))
}

func TestJWTConfig(t *testing.T) {
	assert.Equal(t, 24*time.Hour, JWTConfig{ExpirationHours: 24}.Expiration())
	assert.Error(t, JWTConfig{}.RequireSecret())
	assert.Error(t, JWTConfig{Secret: "short"}.RequireSecret())
	assert.NoError(t, JWTConfig{Secret: "a-long-enough-secret"}.RequireSecret())
}

// Package config loads service configuration from a file and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jonathan/match-orchestrator/internal/cache"
	"github.com/jonathan/match-orchestrator/internal/executor"
	"github.com/jonathan/match-orchestrator/internal/llm"
	"github.com/jonathan/match-orchestrator/internal/orchestration"
)

// EnvPrefix prefixes every environment override, e.g. MATCH_SERVER_ADDR.
const EnvPrefix = "MATCH"

// Cache backends.
const (
	CacheNone     = "none"
	CacheMemory   = "memory"
	CachePostgres = "postgres"
	CacheRedis    = "redis"
)

// Config is the complete service configuration.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Executor      ExecutorConfig      `mapstructure:"executor"`
	Orchestration OrchestrationConfig `mapstructure:"orchestration"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// RateLimit is requests per second per client on the evaluation endpoints.
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
}

type LLMConfig struct {
	Provider      string `mapstructure:"provider"`
	OpenAIAPIKey  string `mapstructure:"openai_api_key"`
	GeminiAPIKey  string `mapstructure:"gemini_api_key"`
	BaseURL       string `mapstructure:"base_url"`
	ModelLite     string `mapstructure:"model_lite"`
	ModelStandard string `mapstructure:"model_standard"`
	ModelAdvanced string `mapstructure:"model_advanced"`
}

type ExecutorConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
}

type OrchestrationConfig struct {
	FallbackScore       float64 `mapstructure:"fallback_score"`
	DivergenceThreshold float64 `mapstructure:"divergence_threshold"`
	RedFlagBelow        float64 `mapstructure:"red_flag_below"`
	PositiveAtOrAbove   float64 `mapstructure:"positive_at_or_above"`
	AgentMaxTokens      int     `mapstructure:"agent_max_tokens"`
	ScoringMaxTokens    int     `mapstructure:"scoring_max_tokens"`
	TailoringMaxTokens  int     `mapstructure:"tailoring_max_tokens"`
	MaxDocumentLength   int     `mapstructure:"max_document_length"`
}

type CacheConfig struct {
	Backend             string        `mapstructure:"backend"`
	DefaultProfileTTL   time.Duration `mapstructure:"default_profile_ttl"`
	CurrentJobTTL       time.Duration `mapstructure:"current_job_ttl"`
	ProcessingResultTTL time.Duration `mapstructure:"processing_result_ttl"`
	AgentResultTTL      time.Duration `mapstructure:"agent_result_ttl"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type LoggingConfig struct {
	JSON  bool `mapstructure:"json"`
	Debug bool `mapstructure:"debug"`
}

// legacyEnv maps keys to the unprefixed variables older deployments set.
var legacyEnv = map[string]string{
	"llm.openai_api_key":   "OPENAI_API_KEY",
	"llm.gemini_api_key":   "GEMINI_API_KEY",
	"database.url":         "DATABASE_URL",
	"redis.addr":           "REDIS_ADDR",
	"jwt.secret":           "JWT_SECRET",
	"jwt.expiration_hours": "JWT_EXPIRATION_HOURS",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "5m")
	v.SetDefault("server.rate_limit", 0.5)
	v.SetDefault("server.rate_burst", 5)

	v.SetDefault("llm.provider", string(llm.ProviderOpenAI))
	v.SetDefault("llm.openai_api_key", "")
	v.SetDefault("llm.gemini_api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.model_lite", "")
	v.SetDefault("llm.model_standard", "")
	v.SetDefault("llm.model_advanced", "")

	exec := executor.DefaultOptions()
	v.SetDefault("executor.max_attempts", exec.MaxAttempts)
	v.SetDefault("executor.retry_delay", exec.RetryDelay.String())
	v.SetDefault("executor.call_timeout", exec.CallTimeout.String())

	orch := orchestration.DefaultOptions()
	v.SetDefault("orchestration.fallback_score", orch.FallbackScore)
	v.SetDefault("orchestration.divergence_threshold", orch.DivergenceThreshold)
	v.SetDefault("orchestration.red_flag_below", orch.RedFlagBelow)
	v.SetDefault("orchestration.positive_at_or_above", orch.PositiveAtOrAbove)
	v.SetDefault("orchestration.agent_max_tokens", 0)
	v.SetDefault("orchestration.scoring_max_tokens", 0)
	v.SetDefault("orchestration.tailoring_max_tokens", 0)
	v.SetDefault("orchestration.max_document_length", orch.MaxDocumentLength)

	ttls := cache.DefaultTTLs()
	v.SetDefault("cache.backend", CacheMemory)
	v.SetDefault("cache.default_profile_ttl", ttls[cache.DefaultProfile].String())
	v.SetDefault("cache.current_job_ttl", ttls[cache.CurrentJob].String())
	v.SetDefault("cache.processing_result_ttl", ttls[cache.ProcessingResult].String())
	v.SetDefault("cache.agent_result_ttl", ttls[cache.AgentResult].String())

	v.SetDefault("database.url", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiration_hours", 24)

	v.SetDefault("logging.json", false)
	v.SetDefault("logging.debug", false)
}

// Load reads configuration from path (optional; "" searches for match.yaml in
// the working directory and ./config) and the environment, then validates it.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("match")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges and cross-field requirements. It does not
// require provider credentials; see RequireLLM.
func (c *Config) Validate() error {
	switch llm.Provider(c.LLM.Provider) {
	case llm.ProviderOpenAI, llm.ProviderGemini:
	default:
		return fmt.Errorf("config error: unsupported llm.provider %q", c.LLM.Provider)
	}

	if c.Executor.MaxAttempts < 1 {
		return fmt.Errorf("config error: executor.max_attempts must be at least 1")
	}
	if c.Executor.RetryDelay < 0 {
		return fmt.Errorf("config error: executor.retry_delay must be non-negative")
	}
	if c.Executor.CallTimeout <= 0 {
		return fmt.Errorf("config error: executor.call_timeout must be positive")
	}

	o := c.Orchestration
	for name, v := range map[string]float64{
		"fallback_score":       o.FallbackScore,
		"divergence_threshold": o.DivergenceThreshold,
		"red_flag_below":       o.RedFlagBelow,
		"positive_at_or_above": o.PositiveAtOrAbove,
	} {
		if v < 0 || v > 100 {
			return fmt.Errorf("config error: orchestration.%s must be within [0, 100], got %v", name, v)
		}
	}
	if o.RedFlagBelow >= o.PositiveAtOrAbove {
		return fmt.Errorf("config error: orchestration.red_flag_below must be lower than positive_at_or_above")
	}
	if o.AgentMaxTokens < 0 || o.ScoringMaxTokens < 0 || o.TailoringMaxTokens < 0 {
		return fmt.Errorf("config error: token ceilings must be non-negative")
	}
	if o.MaxDocumentLength <= 0 {
		return fmt.Errorf("config error: orchestration.max_document_length must be positive")
	}

	switch c.Cache.Backend {
	case CacheNone, CacheMemory:
	case CachePostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("config error: cache.backend %q requires database.url", CachePostgres)
		}
	case CacheRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("config error: cache.backend %q requires redis.addr", CacheRedis)
		}
	default:
		return fmt.Errorf("config error: unsupported cache.backend %q", c.Cache.Backend)
	}
	for name, ttl := range c.cacheTTLs() {
		if ttl <= 0 {
			return fmt.Errorf("config error: cache ttl for %s must be positive", name)
		}
	}

	if c.JWT.ExpirationHours < 1 {
		return fmt.Errorf("config error: jwt.expiration_hours must be at least 1, got %d", c.JWT.ExpirationHours)
	}
	return nil
}

// RequireLLM checks that the configured provider has credentials.
func (c *Config) RequireLLM() error {
	if c.APIKey() == "" {
		return fmt.Errorf("config error: no API key for provider %s (set %s or %s_LLM_%s_API_KEY)",
			c.LLM.Provider, legacyEnv["llm."+c.LLM.Provider+"_api_key"], EnvPrefix, strings.ToUpper(c.LLM.Provider))
	}
	return nil
}

// APIKey returns the key of the configured provider.
func (c *Config) APIKey() string {
	if llm.Provider(c.LLM.Provider) == llm.ProviderGemini {
		return c.LLM.GeminiAPIKey
	}
	return c.LLM.OpenAIAPIKey
}

// ModelConfig builds the provider model table, applying per-tier overrides.
func (c *Config) ModelConfig() *llm.Config {
	mc := llm.DefaultConfigFor(llm.Provider(c.LLM.Provider))
	mc.BaseURL = c.LLM.BaseURL
	for tier, model := range map[llm.ModelTier]string{
		llm.TierLite:     c.LLM.ModelLite,
		llm.TierStandard: c.LLM.ModelStandard,
		llm.TierAdvanced: c.LLM.ModelAdvanced,
	} {
		if model != "" {
			mc = mc.WithModel(tier, model)
		}
	}
	return mc
}

// ExecutorOptions converts the retry settings.
func (c *Config) ExecutorOptions() executor.Options {
	opts := executor.DefaultOptions()
	opts.MaxAttempts = c.Executor.MaxAttempts
	opts.RetryDelay = c.Executor.RetryDelay
	opts.CallTimeout = c.Executor.CallTimeout
	return opts
}

// AggregatorOptions converts the orchestration tuning.
func (c *Config) AggregatorOptions() orchestration.Options {
	opts := orchestration.DefaultOptions()
	o := c.Orchestration
	opts.FallbackScore = o.FallbackScore
	opts.DivergenceThreshold = o.DivergenceThreshold
	opts.RedFlagBelow = o.RedFlagBelow
	opts.PositiveAtOrAbove = o.PositiveAtOrAbove
	opts.ScoringMaxTokens = o.ScoringMaxTokens
	opts.TailoringMaxTokens = o.TailoringMaxTokens
	opts.MaxDocumentLength = o.MaxDocumentLength
	return opts
}

func (c *Config) cacheTTLs() map[cache.Kind]time.Duration {
	return map[cache.Kind]time.Duration{
		cache.DefaultProfile:   c.Cache.DefaultProfileTTL,
		cache.CurrentJob:       c.Cache.CurrentJobTTL,
		cache.ProcessingResult: c.Cache.ProcessingResultTTL,
		cache.AgentResult:      c.Cache.AgentResultTTL,
	}
}

// CacheOptions converts the TTL settings.
func (c *Config) CacheOptions() []cache.Option {
	var opts []cache.Option
	for kind, ttl := range c.cacheTTLs() {
		opts = append(opts, cache.WithTTL(kind, ttl))
	}
	return opts
}

package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jonathan/match-orchestrator/internal/agents"
	"github.com/jonathan/match-orchestrator/internal/cache"
	"github.com/jonathan/match-orchestrator/internal/config"
	"github.com/jonathan/match-orchestrator/internal/db"
	"github.com/jonathan/match-orchestrator/internal/executor"
	"github.com/jonathan/match-orchestrator/internal/llm"
	"github.com/jonathan/match-orchestrator/internal/logger"
	"github.com/jonathan/match-orchestrator/internal/metrics"
	"github.com/jonathan/match-orchestrator/internal/orchestration"
	"github.com/jonathan/match-orchestrator/internal/pipeline"
	"github.com/jonathan/match-orchestrator/internal/prompts"
)

// app holds everything a command needs. close releases it in reverse order.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	metrics *metrics.Metrics
	db      *db.DB
	cache   *cache.Cache
	service *pipeline.Service
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	_ = a.log.Sync()
}

// loadConfig reads the config and builds the logger the command will use.
func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.Logging.JSON, cfg.Logging.Debug || verbose)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, log, nil
}

// newStorage opens the database and the cache store the config asks for.
// It does not need provider credentials.
func newStorage(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log, metrics: metrics.New()}

	if cfg.Database.URL != "" {
		database, err := db.Connect(ctx, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, database.Close)
		if err := database.EnsureSchema(ctx); err != nil {
			a.close()
			return nil, err
		}
		a.db = database
	}

	var store cache.Store
	switch cfg.Cache.Backend {
	case config.CacheNone:
	case config.CacheMemory:
		store = cache.NewMemoryStore()
	case config.CachePostgres:
		store = a.db.CacheStore()
	case config.CacheRedis:
		rs, err := cache.NewRedisStore(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			a.close()
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = rs.Close() })
		store = rs
	}
	if store != nil {
		opts := append(cfg.CacheOptions(), cache.WithLogger(log), cache.WithMetrics(a.metrics))
		a.cache = cache.New(store, opts...)
	}
	log.Info("storage ready",
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.Bool("database", a.db != nil))
	return a, nil
}

// newApp builds the full pipeline stack on top of newStorage.
func newApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app, error) {
	if err := cfg.RequireLLM(); err != nil {
		return nil, err
	}
	a, err := newStorage(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	client, err := llm.NewClient(ctx, cfg.ModelConfig(), cfg.APIKey())
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	a.closers = append(a.closers, func() { _ = client.Close() })

	registry, err := prompts.Load()
	if err != nil {
		a.close()
		return nil, err
	}
	exec := executor.New(client, registry, cfg.ExecutorOptions(), log)

	aggOpts := cfg.AggregatorOptions()
	runnerOpts := []agents.RunnerOption{
		agents.WithCache(a.cache),
		agents.WithMetrics(a.metrics),
		agents.WithLogger(log),
		agents.WithFallbackScore(aggOpts.FallbackScore),
		agents.WithMaxTokens(cfg.Orchestration.AgentMaxTokens),
	}
	aggOptions := []orchestration.Option{
		orchestration.WithMetrics(a.metrics),
		orchestration.WithLogger(log),
	}
	if a.db != nil {
		recorder := a.db.UsageRecorder()
		runnerOpts = append(runnerOpts, agents.WithUsageRecorder(recorder))
		aggOptions = append(aggOptions, orchestration.WithUsageRecorder(recorder))
	}

	runner, err := agents.NewRunner(exec, []agents.Roster{agents.ScoringRoster(), agents.TailoringRoster()}, runnerOpts...)
	if err != nil {
		a.close()
		return nil, err
	}
	agg, err := orchestration.NewAggregator(exec, aggOpts, aggOptions...)
	if err != nil {
		a.close()
		return nil, err
	}

	a.service = pipeline.NewService(agents.NewDispatcher(runner, log), agg,
		pipeline.WithCache(a.cache),
		pipeline.WithLogger(log))
	log.Info("pipeline ready",
		zap.String("provider", cfg.LLM.Provider),
		zap.String("model", client.GetModel(llm.TierStandard)))
	return a, nil
}

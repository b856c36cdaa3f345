package agents

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/match-orchestrator/internal/logger"
)

// ResultSet holds one result per roster agent plus execution metadata.
type ResultSet struct {
	Roster  string
	Results map[Kind]Result
	// Order is the roster order of Results.
	Order    []Kind
	WallTime time.Duration
	Executed int
}

// Fallbacks counts results that are fallbacks.
func (s *ResultSet) Fallbacks() int {
	n := 0
	for _, r := range s.Results {
		if r.IsFallback {
			n++
		}
	}
	return n
}

// FromCache counts results served from the cache.
func (s *ResultSet) FromCache() int {
	n := 0
	for _, r := range s.Results {
		if r.FromCache {
			n++
		}
	}
	return n
}

// Ordered returns the results in roster order.
func (s *ResultSet) Ordered() []Result {
	out := make([]Result, 0, len(s.Order))
	for _, k := range s.Order {
		out = append(out, s.Results[k])
	}
	return out
}

// ProgressFunc is called once per finished agent. Calls are serialized.
type ProgressFunc func(res Result, completed, total int)

// Dispatcher runs a whole roster concurrently and waits for every agent.
type Dispatcher struct {
	runner *Runner
	logger *zap.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(runner *Runner, log *zap.Logger) *Dispatcher {
	return &Dispatcher{runner: runner, logger: logger.OrNop(log)}
}

// Run launches every agent of roster at once and returns when all have
// finished. Failed agents contribute fallback results, so the set always has
// one result per agent. Only a template error is returned, and it cancels
// the remaining agents.
func (d *Dispatcher) Run(ctx context.Context, roster Roster, in Input, progress ProgressFunc) (*ResultSet, error) {
	start := time.Now()
	results := make([]Result, len(roster.Agents))

	var mu sync.Mutex
	completed := 0

	g, gctx := errgroup.WithContext(ctx)
	for i, def := range roster.Agents {
		g.Go(func() error {
			res, err := d.runner.Run(gctx, roster.Name, def, in)
			if err != nil {
				return err
			}
			results[i] = res

			if progress != nil {
				mu.Lock()
				completed++
				progress(res, completed, len(roster.Agents))
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	set := &ResultSet{
		Roster:   roster.Name,
		Results:  make(map[Kind]Result, len(results)),
		Order:    roster.Kinds(),
		WallTime: time.Since(start),
		Executed: len(results),
	}
	for _, r := range results {
		set.Results[r.Kind] = r
	}

	d.logger.Info("roster completed",
		zap.String("roster", roster.Name),
		zap.Int("agents", set.Executed),
		zap.Int("fallbacks", set.Fallbacks()),
		zap.Int("cached", set.FromCache()),
		zap.Duration("wall_time", set.WallTime))
	return set, nil
}

package config

import (
	"github.com/felixgeelhaar/mneme/internal/memory"
	"github.com/felixgeelhaar/mneme/internal/provider"
	"github.com/felixgeelhaar/mneme/internal/retry"
)

// StoreConfig maps the memory section onto the store's thresholds.
// The query cache is swept on the same interval as the answer cache.
func (c *Config) StoreConfig() memory.Config {
	cfg := c.Memory.storeConfig()
	if d := c.Cache.SweepInterval.Std(); d > 0 {
		cfg.QuerySweepInterval = d
	}
	return cfg
}

func (m MemoryConfig) storeConfig() memory.Config {
	cfg := memory.DefaultConfig()
	cfg.WorkingThreshold = m.WorkingThreshold
	cfg.PromoteThreshold = m.PromoteThreshold
	cfg.SyncPersistThreshold = m.SyncPersistThreshold
	cfg.MaxEpisodic = m.MaxEpisodic
	cfg.PersistQueueSize = m.PersistQueueSize
	cfg.PersistDebounce = m.PersistDebounce.Std()
	if m.QueryCacheTTL > 0 {
		cfg.QueryCacheTTL = m.QueryCacheTTL.Std()
	}
	return cfg
}

// Scorer builds the importance scorer from the configured weights.
// Unknown category names are ignored.
func (m MemoryConfig) Scorer() memory.Scorer {
	sc := memory.DefaultScorer()
	sc.Weights = m.Weights
	if m.RecencyHalfLife > 0 {
		sc.HalfLife = m.RecencyHalfLife.Std()
	}
	if len(m.CategoryWeights) > 0 {
		weights := make(map[memory.Category]float64, len(m.CategoryWeights))
		for name, w := range m.CategoryWeights {
			if c := memory.Category(name); c.Valid() {
				weights[c] = w
			}
		}
		sc.CategoryWeights = weights
	}
	return sc
}

// Options returns the invoker defaults.
func (i InvokerConfig) Options() []provider.InvokerOption {
	return []provider.InvokerOption{
		provider.WithBackoff(retry.Policy{Base: i.BackoffBase.Std(), Max: i.BackoffMax.Std()}),
		provider.WithDefaults(i.Timeout.Std(), i.Retries, i.BackoffBase.Std()),
		provider.WithCoalescing(i.Coalesce),
	}
}

// Backoff is the per-item replay backoff.
func (o OutboxConfig) Backoff() retry.Policy {
	return retry.Policy{Attempts: 1, Base: o.BackoffBase.Std(), Max: o.BackoffMax.Std()}
}

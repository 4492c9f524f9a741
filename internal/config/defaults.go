package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/felixgeelhaar/mneme/internal/guard"
	"github.com/felixgeelhaar/mneme/internal/memory"
	cron "github.com/netresearch/go-cron"
)

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	return &Config{
		Cache: CacheConfig{
			DefaultTTL:    Duration(5 * time.Minute),
			SweepInterval: Duration(time.Minute),
		},
		Invoker: InvokerConfig{
			Timeout:     Duration(30 * time.Second),
			Retries:     2,
			BackoffBase: Duration(500 * time.Millisecond),
			BackoffMax:  Duration(10 * time.Second),
		},
		Memory: MemoryConfig{
			WorkingThreshold:     20,
			PromoteThreshold:     0.5,
			SyncPersistThreshold: 0.7,
			MaxEpisodic:          1000,
			PersistQueueSize:     64,
			PersistDebounce:      Duration(2 * time.Second),
			QueryCacheTTL:        Duration(30 * time.Second),
			RecencyHalfLife:      Duration(72 * time.Hour),
			Weights:              memory.DefaultWeights,
			CategoryWeights: map[string]float64{
				"general":     0.5,
				"technical":   0.8,
				"personal":    0.9,
				"creative":    0.7,
				"educational": 0.8,
			},
			Index: true,
		},
		Outbox: OutboxConfig{
			DrainSchedule: "@every 1m",
			BackoffBase:   Duration(5 * time.Second),
			BackoffMax:    Duration(10 * time.Minute),
		},
		Schedule: ScheduleConfig{
			Maintenance: "@every 10m",
			Sweep:       "@every 5m",
		},
		Workers: WorkerConfig{Count: 2, Queue: 64},
		Providers: map[string]ProviderConfig{
			"generation": {Type: "stub"},
		},
		Guard: guard.DefaultPolicy,
		Connectivity: ConnectivityConfig{
			ProbeInterval: Duration(30 * time.Second),
		},
	}
}

// ValidationResult represents the outcome of a validation pass.
type ValidationResult struct {
	Valid    bool
	Warnings []string
	Errors   []string
}

func (r *ValidationResult) fail(format string, args ...any) {
	r.Valid = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *ValidationResult) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

var providerTypes = map[string]bool{
	"openai": true, "ollama": true, "gemini": true, "anthropic": true,
	"cli": true, "searxng": true, "stub": true, "plugin": true,
}

// Validate checks the configuration for errors and questionable values.
func (c *Config) Validate() ValidationResult {
	res := ValidationResult{
		Valid:    true,
		Warnings: []string{},
		Errors:   []string{},
	}

	m := c.Memory
	for name, v := range map[string]float64{
		"memory.promote_threshold":      m.PromoteThreshold,
		"memory.sync_persist_threshold": m.SyncPersistThreshold,
	} {
		if v < 0 || v > 1 {
			res.fail("%s must be within [0,1], got %g", name, v)
		}
	}
	if m.SyncPersistThreshold < m.PromoteThreshold {
		res.warn("memory.sync_persist_threshold is below promote_threshold; every promotion writes synchronously")
	}
	w := m.Weights
	if w.Sentiment < 0 || w.Recency < 0 || w.Length < 0 || w.Category < 0 {
		res.fail("memory.weights must not be negative")
	} else if sum := w.Sentiment + w.Recency + w.Length + w.Category; sum == 0 {
		res.fail("memory.weights must not all be zero")
	} else if sum > 1.0001 {
		res.warn("memory.weights sum to %.2f; importance will saturate at 1", sum)
	}
	for cat, v := range m.CategoryWeights {
		if v < 0 || v > 1 {
			res.fail("memory.category_weights.%s must be within [0,1], got %g", cat, v)
		}
	}
	if m.WorkingThreshold <= 0 {
		res.warn("memory.working_threshold is disabled; consolidation only runs on schedule")
	}
	if m.MaxEpisodic <= 0 {
		res.warn("memory.max_episodic is disabled; the episodic tier is unbounded")
	}
	if m.Embedder != "" {
		if _, ok := c.Providers[m.Embedder]; !ok {
			res.fail("memory.embedder refers to unknown provider %q", m.Embedder)
		}
	}

	if c.Invoker.Retries < 0 {
		res.fail("invoker.retries must not be negative")
	}
	if c.Invoker.Timeout <= 0 {
		res.fail("invoker.timeout must be positive")
	}
	if c.Cache.DefaultTTL <= 0 {
		res.fail("cache.default_ttl must be positive")
	}

	for name, spec := range map[string]string{
		"outbox.drain_schedule": c.Outbox.DrainSchedule,
		"schedule.maintenance":  c.Schedule.Maintenance,
		"schedule.sweep":        c.Schedule.Sweep,
	} {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			res.fail("%s: %v", name, err)
		}
	}

	if len(c.Providers) == 0 {
		res.warn("no providers configured")
	}
	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p := c.Providers[name]
		switch {
		case !providerTypes[p.Type]:
			res.fail("providers.%s: unknown type %q", name, p.Type)
		case p.Type == "cli" && p.Binary == "":
			res.fail("providers.%s: cli providers need a binary", name)
		case p.Type == "plugin" && p.PluginPath == "":
			res.fail("providers.%s: plugin providers need a plugin_path", name)
		case p.Type == "searxng" && p.BaseURL == "":
			res.fail("providers.%s: searxng needs a base_url", name)
		}
	}

	if bad, ok := guard.ValidPatterns(c.Guard); !ok {
		res.fail("guard: invalid pattern %q", bad)
	}
	if c.Connectivity.ProbeURL != "" && c.Connectivity.ProbeInterval <= 0 {
		res.fail("connectivity.probe_interval must be positive when probe_url is set")
	}

	return res
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/felixgeelhaar/mneme/internal/memory"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestLoad_Formats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"yaml", "mneme.yaml", `
invoker:
  timeout: 5s
  retries: 4
memory:
  weights:
    sentiment: 0.5
    recency: 0.2
    length: 0.2
    category: 0.1
providers:
  generation:
    type: ollama
    model: llama3.2
`},
		{"json", "mneme.json", `{
  "invoker": {"timeout": "5s", "retries": 4},
  "memory": {"weights": {"sentiment": 0.5, "recency": 0.2, "length": 0.2, "category": 0.1}},
  "providers": {"generation": {"type": "ollama", "model": "llama3.2"}}
}`},
		{"jsonc", "mneme.jsonc", `{
  // local model
  "invoker": {"timeout": "5s", "retries": 4,},
  "memory": {"weights": {"sentiment": 0.5, "recency": 0.2, "length": 0.2, "category": 0.1}},
  "providers": {"generation": {"type": "ollama", "model": "llama3.2"}},
}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeFile(t, tt.file, tt.content))
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if cfg.Invoker.Timeout.Std() != 5*time.Second || cfg.Invoker.Retries != 4 {
				t.Errorf("Expected timeout 5s and 4 retries, got %s and %d", cfg.Invoker.Timeout.Std(), cfg.Invoker.Retries)
			}
			if cfg.Memory.Weights.Sentiment != 0.5 {
				t.Errorf("Expected sentiment weight 0.5, got %g", cfg.Memory.Weights.Sentiment)
			}
			if p := cfg.Providers["generation"]; p.Type != "ollama" || p.Model != "llama3.2" {
				t.Errorf("Expected ollama generation provider, got %+v", p)
			}
			// untouched sections keep their defaults
			if cfg.Memory.WorkingThreshold != 20 || cfg.Cache.DefaultTTL.Std() != 5*time.Minute {
				t.Errorf("Expected defaults to survive, got threshold %d ttl %s", cfg.Memory.WorkingThreshold, cfg.Cache.DefaultTTL.Std())
			}
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(writeFile(t, "mneme.toml", "")); err == nil || !strings.Contains(err.Error(), "unsupported config format") {
		t.Errorf("Expected unsupported format error, got %v", err)
	}
	if _, err := Load(writeFile(t, "bad.yaml", "invoker:\n  timeout: soon\n")); err == nil {
		t.Error("Expected invalid duration error")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected missing file error")
	}
	cfg, err := Load("")
	if err != nil || cfg.Invoker.Retries != 2 {
		t.Errorf("Expected defaults for an empty path, got %+v %v", cfg, err)
	}
}

func TestValidate(t *testing.T) {
	if res := Default().Validate(); !res.Valid {
		t.Fatalf("Expected defaults to be valid, got %v", res.Errors)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"threshold range", func(c *Config) { c.Memory.PromoteThreshold = 1.5 }, "memory.promote_threshold"},
		{"negative weight", func(c *Config) { c.Memory.Weights.Length = -1 }, "memory.weights"},
		{"zero weights", func(c *Config) { c.Memory.Weights = memory.Weights{} }, "all be zero"},
		{"bad cron", func(c *Config) { c.Outbox.DrainSchedule = "every minute" }, "outbox.drain_schedule"},
		{"unknown provider type", func(c *Config) { c.Providers["x"] = ProviderConfig{Type: "mystery"} }, "unknown type"},
		{"cli without binary", func(c *Config) { c.Providers["x"] = ProviderConfig{Type: "cli"} }, "binary"},
		{"unknown embedder", func(c *Config) { c.Memory.Embedder = "nope" }, "memory.embedder"},
		{"bad guard glob", func(c *Config) { c.Guard.BlockedPatterns = []string{"[x"} }, "guard"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			res := cfg.Validate()
			if res.Valid {
				t.Fatal("Expected validation to fail")
			}
			if !strings.Contains(strings.Join(res.Errors, "\n"), tt.want) {
				t.Errorf("Expected an error mentioning %q, got %v", tt.want, res.Errors)
			}
		})
	}

	t.Run("warnings", func(t *testing.T) {
		cfg := Default()
		cfg.Memory.MaxEpisodic = 0
		res := cfg.Validate()
		if !res.Valid || len(res.Warnings) == 0 {
			t.Errorf("Expected a warning only, got %+v", res)
		}
	})
}

func TestEncode(t *testing.T) {
	out, err := Default().Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !strings.Contains(string(out), "timeout: 30s") {
		t.Errorf("Expected durations written as text, got:\n%s", out)
	}
}

func TestMemoryConfig_Scorer(t *testing.T) {
	m := Default().Memory
	m.CategoryWeights = map[string]float64{"technical": 0.2, "bogus": 1}
	m.RecencyHalfLife = Duration(24 * time.Hour)

	sc := m.Scorer()
	if sc.HalfLife != 24*time.Hour {
		t.Errorf("Expected 24h half-life, got %s", sc.HalfLife)
	}
	if len(sc.CategoryWeights) != 1 || sc.CategoryWeights[memory.CategoryTechnical] != 0.2 {
		t.Errorf("Expected only the technical weight, got %v", sc.CategoryWeights)
	}

	cfg := Default()
	cfg.Memory = m
	cfg.Cache.SweepInterval = Duration(5 * time.Second)
	store := cfg.StoreConfig()
	if store.WorkingThreshold != 20 || store.PersistDebounce != 2*time.Second {
		t.Errorf("Expected defaults carried over, got %+v", store)
	}
	if store.QuerySweepInterval != 5*time.Second {
		t.Errorf("Expected query sweep to follow cache.sweep_interval, got %s", store.QuerySweepInterval)
	}
}

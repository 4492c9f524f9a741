// Package config loads mneme's settings from JSON, JSONC or YAML files
// layered over built-in defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/felixgeelhaar/mneme/internal/guard"
	"github.com/felixgeelhaar/mneme/internal/memory"
	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration written as "30s", "2m" and so on.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "0" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

type CacheConfig struct {
	DefaultTTL    Duration `json:"default_ttl" yaml:"default_ttl"`
	SweepInterval Duration `json:"sweep_interval" yaml:"sweep_interval"`
}

type InvokerConfig struct {
	Timeout     Duration `json:"timeout" yaml:"timeout"`
	Retries     int      `json:"retries" yaml:"retries"`
	BackoffBase Duration `json:"backoff_base" yaml:"backoff_base"`
	BackoffMax  Duration `json:"backoff_max" yaml:"backoff_max"`
	Coalesce    bool     `json:"coalesce" yaml:"coalesce"`
}

type MemoryConfig struct {
	WorkingThreshold     int                `json:"working_threshold" yaml:"working_threshold"`
	PromoteThreshold     float64            `json:"promote_threshold" yaml:"promote_threshold"`
	SyncPersistThreshold float64            `json:"sync_persist_threshold" yaml:"sync_persist_threshold"`
	MaxEpisodic          int                `json:"max_episodic" yaml:"max_episodic"`
	PersistQueueSize     int                `json:"persist_queue_size" yaml:"persist_queue_size"`
	PersistDebounce      Duration           `json:"persist_debounce" yaml:"persist_debounce"`
	QueryCacheTTL        Duration           `json:"query_cache_ttl" yaml:"query_cache_ttl"`
	RecencyHalfLife      Duration           `json:"recency_half_life" yaml:"recency_half_life"`
	Weights              memory.Weights     `json:"weights" yaml:"weights"`
	CategoryWeights      map[string]float64 `json:"category_weights" yaml:"category_weights"`
	Index                bool               `json:"index" yaml:"index"`
	// Embedder names the provider used for embeddings. Empty uses the
	// built-in hashing embedder.
	Embedder string `json:"embedder" yaml:"embedder"`
}

type OutboxConfig struct {
	DrainSchedule string   `json:"drain_schedule" yaml:"drain_schedule"`
	BackoffBase   Duration `json:"backoff_base" yaml:"backoff_base"`
	BackoffMax    Duration `json:"backoff_max" yaml:"backoff_max"`
}

type ScheduleConfig struct {
	Maintenance string `json:"maintenance" yaml:"maintenance"`
	Sweep       string `json:"sweep" yaml:"sweep"`
}

type StorageConfig struct {
	Path      string `json:"path" yaml:"path"`
	Ephemeral bool   `json:"ephemeral" yaml:"ephemeral"`
}

type WorkerConfig struct {
	Count int `json:"count" yaml:"count"`
	Queue int `json:"queue" yaml:"queue"`
}

// ProviderConfig describes one registered adapter.
type ProviderConfig struct {
	Type    string `json:"type" yaml:"type"`
	Model   string `json:"model,omitempty" yaml:"model,omitempty"`
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	// APIKeyRef names an environment variable holding the key. Without it the
	// key is read from the encrypted setting providers.<name>.api_key.
	APIKeyRef  string   `json:"api_key_ref,omitempty" yaml:"api_key_ref,omitempty"`
	Binary     string   `json:"binary,omitempty" yaml:"binary,omitempty"`
	Args       []string `json:"args,omitempty" yaml:"args,omitempty"`
	PluginPath string   `json:"plugin_path,omitempty" yaml:"plugin_path,omitempty"`
	// Responses scripts the stub provider.
	Responses []string `json:"responses,omitempty" yaml:"responses,omitempty"`
}

type ConnectivityConfig struct {
	ProbeURL      string   `json:"probe_url" yaml:"probe_url"`
	ProbeInterval Duration `json:"probe_interval" yaml:"probe_interval"`
}

// Config is the full configuration tree.
type Config struct {
	Cache        CacheConfig               `json:"cache" yaml:"cache"`
	Invoker      InvokerConfig             `json:"invoker" yaml:"invoker"`
	Memory       MemoryConfig              `json:"memory" yaml:"memory"`
	Outbox       OutboxConfig              `json:"outbox" yaml:"outbox"`
	Schedule     ScheduleConfig            `json:"schedule" yaml:"schedule"`
	Storage      StorageConfig             `json:"storage" yaml:"storage"`
	Workers      WorkerConfig              `json:"workers" yaml:"workers"`
	Providers    map[string]ProviderConfig `json:"providers" yaml:"providers"`
	Guard        guard.Policy              `json:"guard" yaml:"guard"`
	Connectivity ConnectivityConfig        `json:"connectivity" yaml:"connectivity"`
}

// Load reads path over the defaults. The extension picks the format:
// .json, .jsonc (JSON with comments) or .yaml/.yml.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal JSON config: %w", err)
		}
	case ".jsonc":
		std, err := hujson.Standardize(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse JSONC config: %w", err)
		}
		if err := json.Unmarshal(std, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal JSONC config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal YAML config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s (use .json, .jsonc or .yaml)", ext)
	}

	return cfg, nil
}

// DefaultPath returns ~/.mneme/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".mneme", "config.yaml"), nil
}

// DefaultDBPath returns ~/.mneme/mneme.db.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".mneme", "mneme.db"), nil
}

// Encode writes cfg as YAML.
func (c *Config) Encode() ([]byte, error) {
	return yaml.Marshal(c)
}

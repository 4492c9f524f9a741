package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/felixgeelhaar/mneme/internal/config"
	"github.com/felixgeelhaar/mneme/internal/credential"
	"github.com/felixgeelhaar/mneme/internal/memory"
	"github.com/felixgeelhaar/mneme/internal/observe"
	"github.com/felixgeelhaar/mneme/internal/plugin"
	"github.com/felixgeelhaar/mneme/internal/provider"
	"github.com/felixgeelhaar/mneme/internal/runtime"
	"github.com/felixgeelhaar/mneme/internal/store"
	"github.com/spf13/cobra"
)

// resolveConfigPath returns --config, or the default file when it exists.
// An empty result means built-in defaults.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if def, err := config.DefaultPath(); err == nil {
		if _, err := os.Stat(def); err == nil {
			return def
		}
	}
	return ""
}

func loadConfig(obs *observe.Observer) (*config.Config, error) {
	path := resolveConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	res := cfg.Validate()
	for _, w := range res.Warnings {
		obs.Log().Warn().Str("config", path).Msg(w)
	}
	if !res.Valid {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(res.Errors, "; "))
	}
	if ephemeral {
		cfg.Storage.Ephemeral = true
	}
	return cfg, nil
}

func newObserver(cmd *cobra.Command) *observe.Observer {
	if ciMode {
		return observe.NewJSON(cmd.ErrOrStderr(), verbose)
	}
	return observe.New(cmd.ErrOrStderr(), verbose)
}

func openStorage(cfg *config.Config) (store.Storage, error) {
	if cfg.Storage.Ephemeral {
		return store.NewMemoryStore(), nil
	}
	path := cfg.Storage.Path
	if path == "" {
		def, err := config.DefaultDBPath()
		if err != nil {
			return nil, err
		}
		path = def
	}
	s, err := store.NewSQLiteStore(path)
	if err != nil {
		return nil, fmt.Errorf("failed to init store: %w", err)
	}
	return s, nil
}

func openVault(s store.Storage) (*credential.Vault, error) {
	m, err := credential.NewManager()
	if err != nil {
		return nil, err
	}
	return credential.NewVault(s, m), nil
}

// session is one command's view of the core.
type session struct {
	core    *runtime.Core
	storage store.Storage
}

func openSession(cmd *cobra.Command) (*session, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	obs := newObserver(cmd)
	cfg, err := loadConfig(obs)
	if err != nil {
		return nil, err
	}
	storage, err := openStorage(cfg)
	if err != nil {
		return nil, err
	}
	vault, err := openVault(storage)
	if err != nil {
		storage.Close()
		return nil, err
	}
	adapters, closers, err := buildAdapters(ctx, cfg, vault)
	if err != nil {
		storage.Close()
		return nil, err
	}
	core, err := runtime.Open(ctx, runtime.Deps{
		Storage:    storage,
		Observer:   obs,
		Config:     cfg,
		Adapters:   adapters,
		Offline:    offline,
		OnShutdown: closers,
	})
	if err != nil {
		for _, fn := range closers {
			fn()
		}
		storage.Close()
		return nil, err
	}
	return &session{core: core, storage: storage}, nil
}

// close lets queued tasks finish and consolidates before shutting down, since
// the working tier does not survive the process.
func (s *session) close(ctx context.Context) error {
	s.core.Dispatcher().Stop()
	_, err := s.core.Memory().Consolidate(ctx)
	if errors.Is(err, memory.ErrConsolidationInFlight) {
		err = nil
	}
	return errors.Join(err, s.core.Shutdown(ctx), s.storage.Close())
}

// detectCLIAgent finds the first locally installed agent CLI.
func detectCLIAgent() (string, error) {
	for _, t := range []string{"claude", "codex", "gemini", "llm"} {
		if path, err := exec.LookPath(t); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no local CLI agents detected (tried claude, codex, gemini, llm)")
}

// apiKey resolves a provider key from its env reference or the vault.
func apiKey(vault *credential.Vault, name string, pc config.ProviderConfig) string {
	if pc.APIKeyRef != "" {
		return os.Getenv(pc.APIKeyRef)
	}
	key, _ := vault.Get("providers." + name + ".api_key")
	return key
}

func buildAdapters(ctx context.Context, cfg *config.Config, vault *credential.Vault) (map[string]provider.Adapter, []func(), error) {
	adapters := make(map[string]provider.Adapter, len(cfg.Providers))
	var closers []func()
	fail := func(name string, err error) (map[string]provider.Adapter, []func(), error) {
		for _, fn := range closers {
			fn()
		}
		return nil, nil, fmt.Errorf("failed to initialize provider %s: %w", name, err)
	}

	for name, pc := range cfg.Providers {
		switch pc.Type {
		case "openai":
			p, err := provider.NewOpenAIProvider(apiKey(vault, name, pc), pc.BaseURL, pc.Model)
			if err != nil {
				return fail(name, err)
			}
			adapters[name] = provider.NewChatAdapter(name, p)
		case "ollama":
			p, err := provider.NewOllamaProvider(pc.BaseURL, pc.Model)
			if err != nil {
				return fail(name, err)
			}
			adapters[name] = provider.NewChatAdapter(name, p)
		case "gemini":
			p, err := provider.NewGeminiProvider(apiKey(vault, name, pc), pc.Model)
			if err != nil {
				return fail(name, err)
			}
			closers = append(closers, func() { p.Close() })
			adapters[name] = provider.NewChatAdapter(name, p)
		case "anthropic":
			p, err := provider.NewAnthropicProvider(apiKey(vault, name, pc), pc.Model)
			if err != nil {
				return fail(name, err)
			}
			if pc.BaseURL != "" {
				p.SetBaseURL(pc.BaseURL)
			}
			adapters[name] = provider.NewChatAdapter(name, p)
		case "cli":
			bin := pc.Binary
			if bin == "auto" {
				found, err := detectCLIAgent()
				if err != nil {
					return fail(name, err)
				}
				bin = found
			}
			p, err := provider.NewCLIProvider(bin, pc.Args)
			if err != nil {
				return fail(name, err)
			}
			adapters[name] = provider.NewChatAdapter(name, p)
		case "searxng":
			adapters[name] = provider.NewSearchAdapter(name, provider.NewSearXNGSearcher(pc.BaseURL, apiKey(vault, name, pc)))
		case "stub":
			adapters[name] = provider.NewChatAdapter(name, provider.NewStubProvider(pc.Responses...))
		case "plugin":
			host, err := plugin.Launch(pc.PluginPath, pc.Args...)
			if err != nil {
				return fail(name, err)
			}
			closers = append(closers, host.Close)
			a, err := plugin.NewAdapter(ctx, name, host.Remote)
			if err != nil {
				return fail(name, err)
			}
			adapters[name] = a
		default:
			return fail(name, fmt.Errorf("unknown provider type %q", pc.Type))
		}
	}
	return adapters, closers, nil
}

// Package runtime wires the cache, bus, providers, memory and outbox into
// one explicitly constructed Core and drives its background work.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/felixgeelhaar/mneme/internal/cache"
	"github.com/felixgeelhaar/mneme/internal/config"
	"github.com/felixgeelhaar/mneme/internal/events"
	"github.com/felixgeelhaar/mneme/internal/guard"
	"github.com/felixgeelhaar/mneme/internal/memory"
	"github.com/felixgeelhaar/mneme/internal/observe"
	"github.com/felixgeelhaar/mneme/internal/outbox"
	"github.com/felixgeelhaar/mneme/internal/provider"
	"github.com/felixgeelhaar/mneme/internal/store"
	"github.com/felixgeelhaar/mneme/internal/worker"
)

const historySize = 256

// Deps are the externally supplied parts of a Core.
type Deps struct {
	// Storage backs the episodic tier and the outbox. Nil keeps both in process.
	Storage store.Documents
	// Embedder overrides the configured embedder.
	Embedder memory.Embedder
	Observer *observe.Observer
	Config   *config.Config
	// Adapters are registered under their map key.
	Adapters map[string]provider.Adapter
	// Offline starts the core disconnected.
	Offline bool
	// OnShutdown runs after everything else has stopped, e.g. to kill plugins.
	OnShutdown []func()
}

// Core is the assembled memory-and-provider core.
type Core struct {
	cfg *config.Config
	obs *observe.Observer

	bus          *events.Bus
	registry     *provider.Registry
	invoker      *provider.Invoker
	answers      *cache.Cache[string]
	memory       *memory.Store
	outbox       *outbox.Outbox
	dispatcher   *worker.Dispatcher
	guard        *guard.Guard
	connectivity *Connectivity
	scheduler    *Scheduler

	unwatch    func()
	onShutdown []func()

	mu         sync.Mutex
	started    bool
	stopProbe  context.CancelFunc
	probeDone  chan struct{}
	shutdownMu sync.Once
}

// Open assembles a Core and restores durable state. Background work only
// begins with Start.
func Open(ctx context.Context, deps Deps) (*Core, error) {
	cfg := deps.Config
	if cfg == nil {
		cfg = config.Default()
	}
	obs := observe.Or(deps.Observer)

	c := &Core{
		cfg:        cfg,
		obs:        obs,
		bus:        events.NewBus(obs, historySize),
		registry:   provider.NewRegistry(),
		guard:      guard.New(cfg.Guard),
		onShutdown: deps.OnShutdown,
	}
	c.connectivity = NewConnectivity(c.bus, obs, !deps.Offline)
	c.invoker = provider.NewInvoker(c.registry, append(cfg.Invoker.Options(),
		provider.WithPublisher(c.bus),
		provider.WithObserver(obs),
	)...)
	c.answers = cache.New[string](
		cache.WithDefaultTTL(cfg.Cache.DefaultTTL.Std()),
		cache.WithSweepInterval(cfg.Cache.SweepInterval.Std()),
	)
	c.dispatcher = worker.New(c.bus, obs, cfg.Workers.Count, cfg.Workers.Queue)

	for name, a := range deps.Adapters {
		if err := c.registry.Register(name, a); err != nil {
			c.dispatcher.Stop()
			return nil, err
		}
	}

	embedder := deps.Embedder
	if embedder == nil {
		if cfg.Memory.Embedder != "" {
			embedder = memory.ProviderEmbedder{Invoker: c.invoker, Provider: cfg.Memory.Embedder}
		} else {
			embedder = memory.HashEmbedder{}
		}
	}
	memOpts := []memory.Option{
		memory.WithConfig(cfg.StoreConfig()),
		memory.WithScorer(cfg.Memory.Scorer()),
		memory.WithPublisher(c.bus),
		memory.WithObserver(obs),
	}
	if cfg.Memory.Index {
		memOpts = append(memOpts, memory.WithIndex(memory.NewChromemIndex()))
	}
	c.memory = memory.New(deps.Storage, embedder, memOpts...)
	if _, exists := deps.Adapters[memory.AdapterName]; !exists {
		if err := c.registry.Register(memory.AdapterName, memory.AsAdapter(c.memory)); err != nil {
			c.dispatcher.Stop()
			c.memory.Close(ctx)
			return nil, err
		}
	}

	c.outbox = outbox.New(deps.Storage, c.invoker,
		outbox.WithPublisher(c.bus),
		outbox.WithObserver(obs),
		outbox.WithBackoff(cfg.Outbox.Backoff()),
		outbox.OnResolved(c.resolved),
	)

	if err := c.memory.Load(ctx); err != nil {
		c.dispatcher.Stop()
		c.memory.Close(ctx)
		return nil, fmt.Errorf("failed to load memory: %w", err)
	}
	if err := c.outbox.Load(ctx); err != nil {
		c.dispatcher.Stop()
		c.memory.Close(ctx)
		return nil, fmt.Errorf("failed to load outbox: %w", err)
	}
	c.unwatch = c.outbox.Watch(c.bus, c.dispatcher)

	c.scheduler = NewScheduler(c.dispatcher, obs)
	jobs := []struct {
		name, spec string
		fn         func(context.Context) error
	}{
		{"outbox.drain", cfg.Outbox.DrainSchedule, c.drainIfOnline},
		{"memory.maintain", cfg.Schedule.Maintenance, c.Maintain},
		{"cache.sweep", cfg.Schedule.Sweep, func(context.Context) error {
			c.answers.Sweep()
			return nil
		}},
	}
	for _, j := range jobs {
		if err := c.scheduler.Add(j.name, j.spec, j.fn); err != nil {
			c.dispatcher.Stop()
			c.memory.Close(ctx)
			return nil, err
		}
	}
	return c, nil
}

// Start begins scheduled jobs and, when configured, the connectivity probe.
func (c *Core) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true
	c.scheduler.Start()
	c.answers.Start()

	if url, every := c.cfg.Connectivity.ProbeURL, c.cfg.Connectivity.ProbeInterval.Std(); url != "" && every > 0 {
		probeCtx, cancel := context.WithCancel(ctx)
		c.stopProbe = cancel
		c.probeDone = make(chan struct{})
		go func() {
			defer close(c.probeDone)
			c.connectivity.Probe(probeCtx, nil, url, every)
		}()
	}
	c.obs.Log().Info().Int("providers", c.registry.Count()).Msg("core started")
}

// Shutdown stops background work, waits for queued tasks and flushes memory.
func (c *Core) Shutdown(ctx context.Context) error {
	var err error
	c.shutdownMu.Do(func() {
		c.mu.Lock()
		if c.stopProbe != nil {
			c.stopProbe()
			<-c.probeDone
		}
		c.mu.Unlock()

		c.scheduler.Stop(ctx)
		c.unwatch()
		c.dispatcher.Stop()
		err = c.memory.Close(ctx)
		c.answers.Close()
		for _, fn := range c.onShutdown {
			fn()
		}
		if err != nil {
			c.obs.Log().Error().Err(err).Msg("memory not fully persisted at shutdown")
		}
	})
	return err
}

// Maintain consolidates the working tier, enforces the episodic cap and
// flushes pending writes.
func (c *Core) Maintain(ctx context.Context) error {
	var errs []error
	if _, err := c.memory.Consolidate(ctx); err != nil && !errors.Is(err, memory.ErrConsolidationInFlight) {
		errs = append(errs, err)
	}
	if max := c.cfg.Memory.MaxEpisodic; max > 0 {
		if _, err := c.memory.Cleanup(ctx, max); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.memory.ForcePersist(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Core) drainIfOnline(ctx context.Context) error {
	if !c.connectivity.Online() || c.outbox.Size() == 0 {
		return nil
	}
	_, err := c.outbox.Drain(ctx)
	return err
}

func (c *Core) Bus() *events.Bus               { return c.bus }
func (c *Core) Registry() *provider.Registry   { return c.registry }
func (c *Core) Invoker() *provider.Invoker     { return c.invoker }
func (c *Core) Memory() *memory.Store          { return c.memory }
func (c *Core) Outbox() *outbox.Outbox         { return c.outbox }
func (c *Core) Connectivity() *Connectivity    { return c.connectivity }
func (c *Core) Dispatcher() *worker.Dispatcher { return c.dispatcher }
func (c *Core) Config() *config.Config         { return c.cfg }
func (c *Core) Scheduler() *Scheduler          { return c.scheduler }

// CachedAnswers returns the number of live cached answers.
func (c *Core) CachedAnswers() int { return c.answers.Len() }

package runtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/felixgeelhaar/mneme/internal/events"
	"github.com/felixgeelhaar/mneme/internal/observe"
)

// Connectivity tracks whether providers are reachable. Transitions are
// announced on the bus as network:online and network:offline.
type Connectivity struct {
	mu     sync.RWMutex
	online bool
	since  time.Time

	bus events.Publisher
	obs *observe.Observer
}

// NewConnectivity starts in the given state without emitting anything.
func NewConnectivity(bus events.Publisher, obs *observe.Observer, online bool) *Connectivity {
	return &Connectivity{
		online: online,
		since:  time.Now(),
		bus:    events.OrDiscard(bus),
		obs:    observe.Or(obs),
	}
}

// Online reports the current state.
func (c *Connectivity) Online() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.online
}

// Since returns when the current state began.
func (c *Connectivity) Since() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.since
}

// SetOnline records the state and reports whether it changed. Only changes
// are emitted.
func (c *Connectivity) SetOnline(online bool) bool {
	c.mu.Lock()
	if c.online == online {
		c.mu.Unlock()
		return false
	}
	c.online = online
	c.since = time.Now()
	payload := events.ConnectivityPayload{Online: online, Since: c.since}
	c.mu.Unlock()

	name := events.NetworkOffline
	if online {
		name = events.NetworkOnline
	}
	c.obs.Log().Info().Str("state", string(name)).Msg("connectivity changed")
	c.bus.Emit(name, payload)
	return true
}

// Probe checks url every interval until ctx is done. Any HTTP response
// below 500 counts as online.
func (c *Connectivity) Probe(ctx context.Context, client *http.Client, url string, interval time.Duration) error {
	if client == nil {
		client = http.DefaultClient
	}
	timeout := interval
	if timeout <= 0 || timeout > 5*time.Second {
		timeout = 5 * time.Second
	}

	check := func() {
		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, url, nil)
		if err != nil {
			c.obs.Log().Warn().Str("url", url).Err(err).Msg("invalid probe url")
			return
		}
		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() == nil {
				c.SetOnline(false)
			}
			return
		}
		resp.Body.Close()
		c.SetOnline(resp.StatusCode < http.StatusInternalServerError)
	}

	check()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			check()
		}
	}
}

package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/felixgeelhaar/mneme/internal/observe"
	"github.com/google/uuid"
)

// Name identifies a kind of event.
type Name string

const (
	MemoryStored        Name = "memory:stored"
	MemoryEvicted       Name = "memory:evicted"
	MemoryPersistFailed Name = "memory:persist_failed"
	OutboxQueued        Name = "outbox:queued"
	OutboxDrained       Name = "outbox:drained"
	ProviderFailed      Name = "provider:failed"
	NetworkOnline       Name = "network:online"
	NetworkOffline      Name = "network:offline"
	TaskFailed          Name = "task:failed"
)

// Event is a single emitted notification.
type Event struct {
	ID        string
	Name      Name
	Timestamp time.Time
	Payload   any
}

// Handler reacts to an event. A returned error is logged by the bus and never
// reaches the emitter.
type Handler func(Event) error

// Publisher is the emitting half of the bus, as seen by producers.
type Publisher interface {
	Emit(name Name, payload any)
}

// Subscriber is the subscribing half of the bus, as seen by consumers.
type Subscriber interface {
	On(name Name, handler Handler) func()
	OnAll(handler Handler) func()
}

type subscription struct {
	id      uint64
	handler Handler
}

// Bus is a synchronous publish/subscribe registry.
// Handlers for one name run in registration order, followed by catch-all handlers.
type Bus struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[Name][]subscription
	all      []subscription
	history  *ring
	obs      *observe.Observer
}

// NewBus creates a new event bus. historySize bounds Recent; zero disables it.
func NewBus(obs *observe.Observer, historySize int) *Bus {
	return &Bus{
		handlers: make(map[Name][]subscription),
		history:  newRing(historySize),
		obs:      observe.Or(obs),
	}
}

// On registers a handler for one event name and returns its unsubscribe func.
func (b *Bus) On(name Name, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers[name] = append(b.handlers[name], subscription{id: id, handler: handler})

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(name, id) })
	}
}

// OnAll registers a handler for all event names.
func (b *Bus) OnAll(handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.all = append(b.all, subscription{id: id, handler: handler})

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.all = without(b.all, id)
		})
	}
}

func (b *Bus) remove(name Name, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := without(b.handlers[name], id)
	if len(subs) == 0 {
		delete(b.handlers, name)
		return
	}
	b.handlers[name] = subs
}

// without returns a fresh slice so that snapshots taken by Publish stay valid.
func without(subs []subscription, id uint64) []subscription {
	out := make([]subscription, 0, len(subs))
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}

// Emit publishes payload under name.
func (b *Bus) Emit(name Name, payload any) {
	b.Publish(Event{Name: name, Payload: payload})
}

// Publish sends an event to all registered handlers.
// Handlers run outside the lock, so they may subscribe, unsubscribe or emit.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	b.mu.RLock()
	specific := b.handlers[event.Name]
	all := b.all
	b.mu.RUnlock()

	b.history.add(event)

	for _, s := range specific {
		b.dispatch(event, s)
	}
	for _, s := range all {
		b.dispatch(event, s)
	}
}

func (b *Bus) dispatch(event Event, s subscription) {
	defer func() {
		if r := recover(); r != nil {
			b.obs.Log().Error().
				Str("event", string(event.Name)).
				Str("panic", fmt.Sprint(r)).
				Msg("event handler panicked")
		}
	}()

	if err := s.handler(event); err != nil {
		b.obs.Log().Warn().
			Str("event", string(event.Name)).
			Err(err).
			Msg("event handler failed")
	}
}

// Recent returns up to n of the most recent events, oldest first.
func (b *Bus) Recent(n int) []Event {
	return b.history.last(n)
}

// Discard is a Publisher that drops every event.
type Discard struct{}

func (Discard) Emit(Name, any) {}

// OrDiscard returns p, or Discard when p is nil.
func OrDiscard(p Publisher) Publisher {
	if p == nil {
		return Discard{}
	}
	return p
}

// Package outbox parks operations attempted while offline and replays them,
// oldest first, once connectivity returns.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/mneme/internal/events"
	"github.com/felixgeelhaar/mneme/internal/observe"
	"github.com/felixgeelhaar/mneme/internal/provider"
	"github.com/felixgeelhaar/mneme/internal/retry"
	"github.com/felixgeelhaar/mneme/internal/store"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
)

const collectionItems = "outbox"

var (
	ErrNotFound      = errors.New("outbox item not found")
	ErrInvalidOpType = errors.New("operation type must be provider.method")
)

// Item is one parked operation. Attempts only ever grows.
type Item struct {
	ID            string          `json:"id"`
	OperationType string          `json:"operation_type"`
	Payload       json.RawMessage `json:"payload"`
	QueuedAt      time.Time       `json:"queued_at"`
	Attempts      int             `json:"attempts"`
	LastAttemptAt time.Time       `json:"last_attempt_at,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
}

// Target splits OperationType into provider and method names.
func (it Item) Target() (providerName, method string, err error) {
	return splitOpType(it.OperationType)
}

// Request decodes the parked payload.
func (it Item) Request() (provider.Request, error) {
	var req provider.Request
	if len(it.Payload) == 0 {
		return req, nil
	}
	if err := json.Unmarshal(it.Payload, &req); err != nil {
		return req, fmt.Errorf("decode outbox payload %s: %w", it.ID, err)
	}
	return req, nil
}

func splitOpType(op string) (string, string, error) {
	i := strings.LastIndex(op, ".")
	if i <= 0 || i == len(op)-1 {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidOpType, op)
	}
	return op[:i], op[i+1:], nil
}

// Report summarizes one drain pass.
type Report struct {
	Replayed  int
	Failed    int
	Deferred  int
	Remaining int
	FailedIDs []string
}

// Invoker replays parked operations.
type Invoker interface {
	Invoke(ctx context.Context, providerName, methodName string, req provider.Request, opts ...provider.CallOption) (*provider.Result, error)
}

// Dispatcher runs fire-and-forget tasks.
type Dispatcher interface {
	Submit(name string, fn func(context.Context) error) bool
}

type Option func(*Outbox)

func WithPublisher(p events.Publisher) Option {
	return func(o *Outbox) { o.bus = events.OrDiscard(p) }
}

func WithObserver(obs *observe.Observer) Option {
	return func(o *Outbox) { o.obs = observe.Or(obs) }
}

// WithBackoff sets the per-item replay backoff. An item that failed n times
// is not retried until Floor(n-1) after its last attempt.
func WithBackoff(p retry.Policy) Option {
	return func(o *Outbox) { o.backoff = p }
}

// WithStorageRetry sets the retry policy for durable writes.
func WithStorageRetry(p retry.Policy) Option {
	return func(o *Outbox) { o.writes = p }
}

// OnResolved registers a hook called after an item replays successfully.
func OnResolved(fn func(Item, *provider.Result)) Option {
	return func(o *Outbox) { o.onResolved = fn }
}

func WithClock(now func() time.Time) Option {
	return func(o *Outbox) { o.now = now }
}

// Outbox is a durable FIFO of operations awaiting replay.
type Outbox struct {
	backend    store.Documents
	invoker    Invoker
	bus        events.Publisher
	obs        *observe.Observer
	backoff    retry.Policy
	writes     retry.Policy
	onResolved func(Item, *provider.Result)
	now        func() time.Time

	mu    sync.Mutex
	items []*Item

	drainMu sync.Mutex
}

// New creates an outbox over backend. A nil backend keeps items in process.
func New(backend store.Documents, invoker Invoker, opts ...Option) *Outbox {
	if backend == nil {
		backend = store.NewMemoryStore()
	}
	o := &Outbox{
		backend: backend,
		invoker: invoker,
		bus:     events.Discard{},
		obs:     observe.Nop(),
		backoff: retry.Policy{Attempts: 1, Base: 5 * time.Second, Max: 10 * time.Minute},
		writes:  retry.Default,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Load restores parked items from the backend, keeping insertion order.
// Items already held in memory are kept.
func (o *Outbox) Load(ctx context.Context) error {
	var docs []store.Document
	err := retry.Do(ctx, o.writes, func(ctx context.Context, _ int) error {
		var err error
		docs, err = o.backend.List(ctx, collectionItems)
		return err
	})
	if err != nil {
		return provider.StorageError("load outbox", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	known := make(map[string]bool, len(o.items))
	for _, it := range o.items {
		known[it.ID] = true
	}
	var loaded []*Item
	for _, doc := range docs {
		var it Item
		if err := json.Unmarshal(doc.Body, &it); err != nil {
			o.obs.Log().Warn().Str("item", doc.Key).Err(err).Msg("skipping unreadable outbox item")
			continue
		}
		if known[it.ID] {
			continue
		}
		loaded = append(loaded, &it)
	}
	o.items = append(loaded, o.items...)
	return nil
}

// Enqueue parks an operation. If the durable write fails the item is still
// held in memory and returned together with a storage error.
func (o *Outbox) Enqueue(ctx context.Context, opType string, req provider.Request) (*Item, error) {
	if _, _, err := splitOpType(opType); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode outbox payload: %w", err)
	}
	it := &Item{
		ID:            ulid.Make().String(),
		OperationType: opType,
		Payload:       payload,
		QueuedAt:      o.now(),
	}
	body, err := json.Marshal(it)
	if err != nil {
		return nil, fmt.Errorf("encode outbox item: %w", err)
	}

	o.mu.Lock()
	o.items = append(o.items, it)
	pending := len(o.items)
	o.mu.Unlock()

	o.bus.Emit(events.OutboxQueued, events.OutboxQueuedPayload{ID: it.ID, OperationType: opType, Pending: pending})

	err = retry.Do(ctx, o.writes, func(ctx context.Context, _ int) error {
		err := o.backend.Append(ctx, collectionItems, it.ID, body)
		if errors.Is(err, store.ErrExists) {
			return nil
		}
		return err
	})
	if err != nil {
		o.obs.Log().Error().Str("item", it.ID).Err(err).Msg("outbox item not persisted")
		return it.copy(), provider.StorageError("enqueue "+it.ID, err)
	}
	return it.copy(), nil
}

type drainConfig struct {
	ignoreBackoff bool
}

type DrainOption func(*drainConfig)

// IgnoreBackoff replays every item regardless of when it last failed.
func IgnoreBackoff() DrainOption {
	return func(c *drainConfig) { c.ignoreBackoff = true }
}

// Drain replays the items queued when the pass starts, in FIFO order. Items
// enqueued meanwhile wait for the next pass. Only one pass runs at a time.
// The returned error reports cancellation or failed bookkeeping writes;
// replay failures are counted in the report.
func (o *Outbox) Drain(ctx context.Context, opts ...DrainOption) (rep Report, err error) {
	var cfg drainConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	o.drainMu.Lock()
	defer o.drainMu.Unlock()

	ctx, span := o.obs.StartSpan(ctx, "outbox.drain")
	defer func() {
		span.SetAttributes(
			attribute.Int("outbox.replayed", rep.Replayed),
			attribute.Int("outbox.failed", rep.Failed),
			attribute.Int("outbox.deferred", rep.Deferred),
		)
		observe.EndSpan(span, err)
	}()

	o.mu.Lock()
	batch := make([]*Item, len(o.items))
	copy(batch, o.items)
	o.mu.Unlock()

	var errs []error
	now := o.now()
	for i, it := range batch {
		if ctx.Err() != nil {
			rep.Deferred += len(batch) - i
			errs = append(errs, ctx.Err())
			break
		}
		if !cfg.ignoreBackoff && !o.due(it, now) {
			rep.Deferred++
			continue
		}
		res, replayErr := o.replay(ctx, it)
		if replayErr == nil {
			rep.Replayed++
			if err := o.resolve(ctx, it, res); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		if ctx.Err() != nil && errors.Is(replayErr, ctx.Err()) {
			rep.Deferred += len(batch) - i
			errs = append(errs, ctx.Err())
			break
		}
		rep.Failed++
		rep.FailedIDs = append(rep.FailedIDs, it.ID)
		if err := o.recordFailure(ctx, it, replayErr); err != nil {
			errs = append(errs, err)
		}
	}

	rep.Remaining = o.Size()
	o.bus.Emit(events.OutboxDrained, events.OutboxDrainedPayload{
		Replayed:  rep.Replayed,
		Failed:    rep.Failed,
		Deferred:  rep.Deferred,
		Remaining: rep.Remaining,
		FailedIDs: append([]string(nil), rep.FailedIDs...),
	})
	if rep.Replayed+rep.Failed > 0 {
		o.obs.Log().Info().
			Int("replayed", rep.Replayed).
			Int("failed", rep.Failed).
			Int("remaining", rep.Remaining).
			Msg("outbox drained")
	}
	return rep, errors.Join(errs...)
}

func (o *Outbox) due(it *Item, now time.Time) bool {
	if it.Attempts == 0 || it.LastAttemptAt.IsZero() {
		return true
	}
	return !now.Before(it.LastAttemptAt.Add(o.backoff.Floor(it.Attempts - 1)))
}

func (o *Outbox) replay(ctx context.Context, it *Item) (res *provider.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("replay %s panicked: %v", it.ID, r)
		}
	}()
	providerName, method, err := it.Target()
	if err != nil {
		return nil, err
	}
	req, err := it.Request()
	if err != nil {
		return nil, err
	}
	return o.invoker.Invoke(ctx, providerName, method, req)
}

func (o *Outbox) resolve(ctx context.Context, it *Item, res *provider.Result) error {
	o.mu.Lock()
	removed := o.take(it.ID)
	o.mu.Unlock()

	if o.onResolved != nil && removed != nil {
		o.onResolved(*removed, res)
	}
	err := retry.Do(ctx, o.writes, func(ctx context.Context, _ int) error {
		return o.backend.Delete(ctx, collectionItems, it.ID)
	})
	if err != nil {
		o.obs.Log().Error().Str("item", it.ID).Err(err).Msg("replayed outbox item not deleted")
		return provider.StorageError("delete "+it.ID, err)
	}
	return nil
}

func (o *Outbox) recordFailure(ctx context.Context, it *Item, cause error) error {
	o.mu.Lock()
	it.Attempts++
	it.LastAttemptAt = o.now()
	it.LastError = cause.Error()
	live := o.indexOf(it.ID) >= 0
	body, encErr := json.Marshal(it)
	o.mu.Unlock()

	o.obs.Log().Warn().
		Str("item", it.ID).
		Str("operation", it.OperationType).
		Int("attempts", it.Attempts).
		Err(cause).
		Msg("outbox replay failed")

	if !live {
		return nil
	}
	if encErr != nil {
		o.obs.Log().Error().Str("item", it.ID).Err(encErr).Msg("outbox item not encodable")
		return fmt.Errorf("encode outbox item %s: %w", it.ID, encErr)
	}
	err := retry.Do(ctx, o.writes, func(ctx context.Context, _ int) error {
		return o.backend.Update(ctx, collectionItems, it.ID, body)
	})
	if err != nil {
		return provider.StorageError("update "+it.ID, err)
	}
	return nil
}

// take removes id from the queue. Callers hold o.mu.
func (o *Outbox) take(id string) *Item {
	i := o.indexOf(id)
	if i < 0 {
		return nil
	}
	it := o.items[i]
	o.items = append(o.items[:i], o.items[i+1:]...)
	return it.copy()
}

func (o *Outbox) indexOf(id string) int {
	for i, it := range o.items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

// Peek returns a copy of the queued items, oldest first.
func (o *Outbox) Peek() []Item {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Item, len(o.items))
	for i, it := range o.items {
		out[i] = *it.copy()
	}
	return out
}

func (o *Outbox) Size() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.items)
}

// Remove drops an item without replaying it.
func (o *Outbox) Remove(ctx context.Context, id string) error {
	o.mu.Lock()
	removed := o.take(id)
	o.mu.Unlock()
	if removed == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	err := retry.Do(ctx, o.writes, func(ctx context.Context, _ int) error {
		return o.backend.Delete(ctx, collectionItems, id)
	})
	if err != nil {
		return provider.StorageError("delete "+id, err)
	}
	o.obs.Log().Info().Str("item", id).Msg("outbox item removed")
	return nil
}

// Watch drains through d whenever the network comes back online. It returns
// the unsubscribe func.
func (o *Outbox) Watch(sub events.Subscriber, d Dispatcher) func() {
	return sub.On(events.NetworkOnline, func(events.Event) error {
		if o.Size() == 0 {
			return nil
		}
		if !d.Submit("outbox.drain", func(ctx context.Context) error {
			_, err := o.Drain(ctx)
			return err
		}) {
			return errors.New("drain task not accepted")
		}
		return nil
	})
}

func (it *Item) copy() *Item {
	c := *it
	c.Payload = append(json.RawMessage(nil), it.Payload...)
	return &c
}

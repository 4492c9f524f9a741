package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/felixgeelhaar/mneme/internal/events"
	"github.com/felixgeelhaar/mneme/internal/observe"
	"github.com/felixgeelhaar/mneme/internal/provider"
	"github.com/felixgeelhaar/mneme/internal/retry"
	"github.com/felixgeelhaar/mneme/internal/store"
)

const collectionRecords = "memory"

type opKind int

const (
	opWrite opKind = iota
	opDelete
)

type pendingOp struct {
	seq    uint64
	kind   opKind
	id     string
	record *Record
}

// persister batches durable writes. It keeps the latest pending op per record
// id, flushes after a debounce interval or when the queue is full, and keeps
// failed ops queued until they succeed or are discarded.
type persister struct {
	backend  store.Documents
	policy   retry.Policy
	limit    int
	debounce time.Duration
	bus      events.Publisher
	obs      *observe.Observer

	mu      sync.Mutex
	seq     uint64
	pending map[string]pendingOp
	order   []string
	timer   *time.Timer
	closed  bool

	writeMu sync.Mutex
}

func newPersister(backend store.Documents, policy retry.Policy, limit int, debounce time.Duration, bus events.Publisher, obs *observe.Observer) *persister {
	if limit <= 0 {
		limit = DefaultPersistQueueSize
	}
	return &persister{
		backend:  backend,
		policy:   policy,
		limit:    limit,
		debounce: debounce,
		bus:      events.OrDiscard(bus),
		obs:      observe.Or(obs),
		pending:  make(map[string]pendingOp),
	}
}

// enqueue queues op and reports whether the queue has reached its bound.
func (p *persister) enqueue(kind opKind, id string, r *Record) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.seq++
	if _, ok := p.pending[id]; !ok {
		p.order = append(p.order, id)
	}
	op := pendingOp{seq: p.seq, kind: kind, id: id}
	if r != nil {
		op.record = r.clone()
	}
	p.pending[id] = op

	if len(p.pending) >= p.limit {
		return true
	}
	p.arm()
	return false
}

// arm starts or restarts the debounce timer. Callers hold p.mu.
func (p *persister) arm() {
	if p.closed || p.debounce <= 0 {
		return
	}
	if p.timer == nil {
		p.timer = time.AfterFunc(p.debounce, func() {
			if err := p.flush(context.Background()); err != nil {
				p.obs.Log().Warn().Err(err).Msg("background persist incomplete")
			}
		})
		return
	}
	p.timer.Reset(p.debounce)
}

func (p *persister) snapshot() []pendingOp {
	p.mu.Lock()
	defer p.mu.Unlock()
	ops := make([]pendingOp, 0, len(p.order))
	for _, id := range p.order {
		ops = append(ops, p.pending[id])
	}
	return ops
}

// settle removes op if nothing newer replaced it meanwhile.
func (p *persister) settle(op pendingOp) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cur, ok := p.pending[op.id]
	if !ok || cur.seq != op.seq {
		return
	}
	p.drop(op.id)
}

// drop removes id from the queue. Callers hold p.mu.
func (p *persister) drop(id string) {
	delete(p.pending, id)
	for i, queued := range p.order {
		if queued == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

// flush writes every pending op once, with retry. Ops that still fail stay queued.
func (p *persister) flush(ctx context.Context) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	var errs []error
	for _, op := range p.snapshot() {
		if err := p.apply(ctx, op); err != nil {
			p.failed(op.id, err)
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		p.settle(op)
	}
	if len(errs) > 0 {
		p.mu.Lock()
		p.arm()
		p.mu.Unlock()
		return provider.StorageError("persist", errors.Join(errs...))
	}
	return nil
}

// writeNow persists r synchronously, superseding any queued op for it.
// On failure the write is queued so it is not lost.
func (p *persister) writeNow(ctx context.Context, r *Record) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	p.mu.Lock()
	p.seq++
	op := pendingOp{seq: p.seq, kind: opWrite, id: r.ID, record: r.clone()}
	p.drop(r.ID)
	p.mu.Unlock()

	if err := p.apply(ctx, op); err != nil {
		p.failed(r.ID, err)
		p.mu.Lock()
		if _, queued := p.pending[r.ID]; !queued {
			p.pending[r.ID] = op
			p.order = append(p.order, r.ID)
		}
		p.arm()
		p.mu.Unlock()
		return provider.StorageError("persist "+r.ID, err)
	}
	return nil
}

func (p *persister) apply(ctx context.Context, op pendingOp) error {
	var body []byte
	if op.kind == opWrite {
		var err error
		if body, err = encodeRecord(op.record); err != nil {
			return err
		}
	}
	return retry.Do(ctx, p.policy, func(ctx context.Context, _ int) error {
		if op.kind == opDelete {
			return p.backend.Delete(ctx, collectionRecords, op.id)
		}
		return p.backend.Update(ctx, collectionRecords, op.id, body)
	})
}

func (p *persister) failed(id string, err error) {
	p.obs.Log().Error().Str("record", id).Err(err).Msg("memory persist failed")
	p.bus.Emit(events.MemoryPersistFailed, events.MemoryPersistFailedPayload{ID: id, Reason: err.Error()})
}

func (p *persister) discard(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.pending[id]; !ok {
		return false
	}
	p.drop(id)
	return true
}

func (p *persister) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

func (p *persister) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.timer != nil {
		p.timer.Stop()
	}
}

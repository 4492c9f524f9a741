package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/felixgeelhaar/mneme/internal/events"
	"github.com/felixgeelhaar/mneme/internal/observe"
)

const (
	DefaultWorkers   = 2
	DefaultQueueSize = 64
)

// Task is a unit of fire-and-forget work.
type Task func(ctx context.Context) error

type job struct {
	name string
	fn   Task
}

// Dispatcher runs one-shot tasks on a fixed set of workers. Failures never
// reach the submitter; they are logged and published as task:failed.
type Dispatcher struct {
	bus events.Publisher
	obs *observe.Observer

	mu      sync.RWMutex
	jobs    chan job
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New starts a dispatcher with the given number of workers and queue capacity.
func New(bus events.Publisher, obs *observe.Observer, workers, queue int) *Dispatcher {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if queue <= 0 {
		queue = DefaultQueueSize
	}
	d := &Dispatcher{
		bus:  events.OrDiscard(bus),
		obs:  observe.Or(obs),
		jobs: make(chan job, queue),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.loop()
	}
	return d
}

// Submit queues fn under name. It never blocks and reports false when the
// queue is full or the dispatcher is stopped.
func (d *Dispatcher) Submit(name string, fn func(context.Context) error) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return false
	}
	select {
	case d.jobs <- job{name: name, fn: fn}:
		return true
	default:
		d.obs.Log().Warn().Str("task", name).Msg("task queue full, dropping")
		return false
	}
}

// Pending returns the number of queued tasks not yet picked up.
func (d *Dispatcher) Pending() int {
	return len(d.jobs)
}

// Stop refuses new tasks, runs the ones already queued and waits for the
// workers to exit. It is safe to call more than once.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.jobs)
	d.mu.Unlock()

	d.wg.Wait()
	d.cancel()
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()
	for j := range d.jobs {
		d.run(j)
	}
}

func (d *Dispatcher) run(j job) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			d.obs.Log().Error().Str("task", j.name).Err(err).Msg("task failed")
			d.bus.Emit(events.TaskFailed, events.TaskFailedPayload{Task: j.name, Reason: err.Error()})
		}
	}()
	err = j.fn(d.ctx)
}

package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/felixgeelhaar/mneme/internal/events"
)

type recorder struct {
	mu     sync.Mutex
	failed []events.TaskFailedPayload
}

func (r *recorder) Emit(name events.Name, payload any) {
	if name != events.TaskFailed {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, payload.(events.TaskFailedPayload))
}

func (r *recorder) snapshot() []events.TaskFailedPayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.TaskFailedPayload(nil), r.failed...)
}

func TestDispatcher_RunsTasks(t *testing.T) {
	d := New(nil, nil, 3, 10)
	var n atomic.Int32
	for i := 0; i < 10; i++ {
		if !d.Submit("count", func(context.Context) error {
			n.Add(1)
			return nil
		}) {
			t.Fatalf("Expected submit %d to be accepted", i)
		}
	}
	d.Stop()

	if n.Load() != 10 {
		t.Errorf("Expected 10 tasks to run, got %d", n.Load())
	}
}

func TestDispatcher_FailuresAreEmitted(t *testing.T) {
	rec := &recorder{}
	d := New(rec, nil, 1, 4)

	d.Submit("remember", func(context.Context) error { return errors.New("disk full") })
	d.Submit("explode", func(context.Context) error { panic("boom") })
	d.Stop()

	got := rec.snapshot()
	if len(got) != 2 {
		t.Fatalf("Expected 2 task:failed events, got %d", len(got))
	}
	if got[0].Task != "remember" || got[0].Reason != "disk full" {
		t.Errorf("Expected remember/disk full, got %+v", got[0])
	}
	if got[1].Task != "explode" || got[1].Reason != "panic: boom" {
		t.Errorf("Expected explode/panic: boom, got %+v", got[1])
	}
}

func TestDispatcher_SubmitWhenFull(t *testing.T) {
	d := New(nil, nil, 1, 1)
	release := make(chan struct{})
	started := make(chan struct{})

	d.Submit("block", func(context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started
	if !d.Submit("queued", func(context.Context) error { return nil }) {
		t.Fatal("Expected the queue slot to accept a task")
	}
	if d.Submit("overflow", func(context.Context) error { return nil }) {
		t.Error("Expected submit to fail when the queue is full")
	}
	close(release)
	d.Stop()
}

func TestDispatcher_Stop(t *testing.T) {
	d := New(nil, nil, 1, 4)
	var ran atomic.Bool
	d.Submit("slow", func(ctx context.Context) error {
		time.Sleep(20 * time.Millisecond)
		ran.Store(ctx.Err() == nil)
		return nil
	})
	d.Stop()

	if !ran.Load() {
		t.Error("Expected queued task to finish with a live context before Stop returned")
	}
	if d.Submit("late", func(context.Context) error { return nil }) {
		t.Error("Expected submit after Stop to be refused")
	}
	d.Stop()
}

package runtime

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type countingDispatcher struct {
	submitted atomic.Int32
}

func (d *countingDispatcher) Submit(name string, fn func(context.Context) error) bool {
	d.submitted.Add(1)
	fn(context.Background())
	return true
}

func TestScheduler_Add(t *testing.T) {
	s := NewScheduler(&countingDispatcher{}, nil)
	noop := func(context.Context) error { return nil }

	if err := s.Add("disabled", "", noop); err != nil {
		t.Errorf("Expected an empty spec to be skipped, got %v", err)
	}
	if err := s.Add("broken", "every so often", noop); err == nil {
		t.Error("Expected an invalid spec to fail")
	}
	if err := s.Add("sweep", "*/5 * * * *", noop); err != nil {
		t.Errorf("Expected a standard spec to parse, got %v", err)
	}
	if jobs := s.Jobs(); len(jobs) != 1 || jobs[0] != "sweep" {
		t.Errorf("Expected only sweep registered, got %v", jobs)
	}
}

func TestScheduler_Fires(t *testing.T) {
	d := &countingDispatcher{}
	s := NewScheduler(d, nil)
	var ran atomic.Bool
	if err := s.Add("tick", "@every 1s", func(context.Context) error {
		ran.Store(true)
		return nil
	}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	s.Start()
	defer s.Stop(context.Background())

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && !ran.Load() {
		time.Sleep(20 * time.Millisecond)
	}
	if !ran.Load() || d.submitted.Load() == 0 {
		t.Error("Expected the job to fire through the dispatcher")
	}
}

package runtime

import (
	"context"
	"fmt"

	"github.com/felixgeelhaar/mneme/internal/observe"
	cron "github.com/netresearch/go-cron"
)

// Dispatcher runs fire-and-forget tasks.
type Dispatcher interface {
	Submit(name string, fn func(context.Context) error) bool
}

// Scheduler fires recurring maintenance jobs. Each firing is handed to the
// dispatcher, so a slow job never blocks the cron loop.
type Scheduler struct {
	cron *cron.Cron
	d    Dispatcher
	obs  *observe.Observer
	jobs []string
}

func NewScheduler(d Dispatcher, obs *observe.Observer) *Scheduler {
	return &Scheduler{
		cron: cron.New(),
		d:    d,
		obs:  observe.Or(obs),
	}
}

// Add registers fn under a standard cron spec or a descriptor such as
// "@every 5m". An empty spec disables the job.
func (s *Scheduler) Add(name, spec string, fn func(context.Context) error) error {
	if spec == "" {
		return nil
	}
	_, err := s.cron.AddFunc(spec, func() {
		if !s.d.Submit(name, fn) {
			s.obs.Log().Warn().Str("job", name).Msg("scheduled job skipped")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %s %q: %w", name, spec, err)
	}
	s.jobs = append(s.jobs, name)
	return nil
}

// Jobs lists the registered job names.
func (s *Scheduler) Jobs() []string {
	return append([]string(nil), s.jobs...)
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for in-progress firings, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

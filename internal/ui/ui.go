package ui

import (
	"fmt"

	"github.com/felixgeelhaar/mneme/internal/events"
)

// UI receives the core's progress as it happens.
type UI interface {
	UpdateStatus(status string)
	UpdatePending(n int)
	Log(msg string)
}

type SilentUI struct{}

func (s SilentUI) UpdateStatus(status string) {}
func (s SilentUI) UpdatePending(n int)        {}
func (s SilentUI) Log(msg string)             {}

// Attach feeds every bus event into u. pending, when set, is consulted after
// outbox events. The returned func detaches u.
func Attach(bus events.Subscriber, u UI, pending func() int) func() {
	return bus.OnAll(func(e events.Event) error {
		switch e.Name {
		case events.NetworkOnline:
			u.UpdateStatus("online")
		case events.NetworkOffline:
			u.UpdateStatus("offline")
		case events.OutboxQueued:
			if p, ok := e.Payload.(events.OutboxQueuedPayload); ok && pending == nil {
				u.UpdatePending(p.Pending)
			}
		case events.OutboxDrained:
			if p, ok := e.Payload.(events.OutboxDrainedPayload); ok && pending == nil {
				u.UpdatePending(p.Remaining)
			}
		}
		if pending != nil && (e.Name == events.OutboxQueued || e.Name == events.OutboxDrained) {
			u.UpdatePending(pending())
		}
		u.Log(Describe(e))
		return nil
	})
}

// Describe renders an event as a single log line.
func Describe(e events.Event) string {
	ts := e.Timestamp.Format("15:04:05")
	switch p := e.Payload.(type) {
	case events.MemoryStoredPayload:
		return fmt.Sprintf("%s stored %s in %s (%s, importance %.2f)", ts, p.ID, p.Tier, p.Category, p.Importance)
	case events.MemoryEvictedPayload:
		return fmt.Sprintf("%s evicted %s: %s", ts, p.ID, p.Reason)
	case events.MemoryPersistFailedPayload:
		return fmt.Sprintf("%s persist failed for %s: %s", ts, p.ID, p.Reason)
	case events.OutboxQueuedPayload:
		return fmt.Sprintf("%s queued %s %s (%d pending)", ts, p.OperationType, p.ID, p.Pending)
	case events.OutboxDrainedPayload:
		return fmt.Sprintf("%s drained: %d replayed, %d failed, %d deferred, %d left", ts, p.Replayed, p.Failed, p.Deferred, p.Remaining)
	case events.ProviderFailedPayload:
		return fmt.Sprintf("%s %s.%s failed after %d attempts (%s): %s", ts, p.Provider, p.Method, p.Attempts, p.Kind, p.Reason)
	case events.ConnectivityPayload:
		if p.Online {
			return ts + " network online"
		}
		return ts + " network offline"
	case events.TaskFailedPayload:
		return fmt.Sprintf("%s task %s failed: %s", ts, p.Task, p.Reason)
	default:
		return fmt.Sprintf("%s %s", ts, e.Name)
	}
}

package events

import "time"

// Payload types carried by the core's events. Each one includes the id and,
// for failures, the reason, so subscribers need not query the stores.

type MemoryStoredPayload struct {
	ID         string
	Tier       string
	Category   string
	Importance float64
}

type MemoryEvictedPayload struct {
	ID         string
	Reason     string // capacity, discarded, deleted
	Importance float64
}

type MemoryPersistFailedPayload struct {
	ID     string
	Reason string
}

type OutboxQueuedPayload struct {
	ID            string
	OperationType string
	Pending       int
}

type OutboxDrainedPayload struct {
	Replayed  int
	Failed    int
	Deferred  int
	Remaining int
	FailedIDs []string
}

type ProviderFailedPayload struct {
	Provider string
	Method   string
	Attempts int
	Kind     string
	Reason   string
}

type ConnectivityPayload struct {
	Online bool
	Since  time.Time
}

type TaskFailedPayload struct {
	Task   string
	Reason string
}

package events

import "sync"

// ring is a fixed-size history of published events.
type ring struct {
	mu    sync.Mutex
	buf   []Event
	start int
	count int
}

func newRing(size int) *ring {
	if size <= 0 {
		return nil
	}
	return &ring{buf: make([]Event, size)}
}

func (r *ring) add(e Event) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := (r.start + r.count) % len(r.buf)
	r.buf[idx] = e
	if r.count < len(r.buf) {
		r.count++
	} else {
		r.start = (r.start + 1) % len(r.buf)
	}
}

func (r *ring) last(n int) []Event {
	if r == nil || n <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if n > r.count {
		n = r.count
	}
	out := make([]Event, 0, n)
	for i := r.count - n; i < r.count; i++ {
		out = append(out, r.buf[(r.start+i)%len(r.buf)])
	}
	return out
}

package events

import "sync"

const defaultRecorderCap = 256

// RecordedEvent pairs an emitted event with a monotonically increasing
// sequence number so consumers can page through history deterministically.
type RecordedEvent struct {
	Sequence int64
	Event    Event
}

// Recorder is an Emitter that retains the most recent events in memory. The
// RPC layer serves its escrow_listEvents method from a Recorder.
type Recorder struct {
	mu     sync.RWMutex
	seq    int64
	events []RecordedEvent
	cap    int
}

// NewRecorder returns a recorder bounded to capacity. A non-positive capacity
// falls back to the default.
func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = defaultRecorderCap
	}
	return &Recorder{cap: capacity}
}

// Emit implements the Emitter interface.
func (r *Recorder) Emit(evt Event) {
	if r == nil || evt == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.events = append(r.events, RecordedEvent{Sequence: r.seq, Event: evt})
	if len(r.events) > r.cap {
		r.events = r.events[len(r.events)-r.cap:]
	}
}

// List returns up to limit retained events, newest last. A non-positive limit
// returns the full retained window.
func (r *Recorder) List(limit int) []RecordedEvent {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := len(r.events)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]RecordedEvent, n)
	copy(out, r.events[len(r.events)-n:])
	return out
}

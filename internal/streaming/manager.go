// Package streaming fans answer events out to SSE and WebSocket clients.
// Events are kept in a per-run ring buffer so a reconnecting client can
// replay from its Last-Event-ID instead of losing the stream.
package streaming

import (
	"sync"
	"time"
)

// Event types emitted over an answer stream, in protocol order:
// start, zero or more deltas, then final or error, then end.
const (
	EventStart = "start"
	EventDelta = "delta"
	EventFinal = "final"
	EventError = "error"
	EventEnd   = "end"
)

// Event is one frame of an answer stream.
type Event struct {
	RunID     string                 `json:"run_id"`
	Type      string                 `json:"type"`
	Content   string                 `json:"content,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Seq       uint64                 `json:"seq"`
}

// Manager is an in-process pub/sub hub keyed by run ID. Publish never
// blocks: a subscriber that cannot keep up has events dropped and must
// replay from its last seen sequence number.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	history     map[string]*ring
	capacity    int
	nextSeq     uint64
}

var (
	defaultManager *Manager
	managerOnce    sync.Once
)

// Get returns the process-wide manager, creating it on first use.
func Get() *Manager {
	managerOnce.Do(func() {
		defaultManager = NewManager(256)
	})
	return defaultManager
}

// Configure adjusts the default manager's per-run replay capacity.
// Existing rings keep their size; only new runs are affected.
func Configure(capacity int) {
	m := Get()
	m.mu.Lock()
	defer m.mu.Unlock()
	if capacity > 0 {
		m.capacity = capacity
	}
}

// NewManager builds a manager with the given per-run replay capacity.
func NewManager(capacity int) *Manager {
	if capacity <= 0 {
		capacity = 256
	}
	return &Manager{
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
		capacity:    capacity,
	}
}

// Subscribe registers a listener for a run's events. The returned channel
// is buffered; the caller must Unsubscribe when done.
func (m *Manager) Subscribe(runID string) chan Event {
	ch := make(chan Event, 64)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscribers[runID] == nil {
		m.subscribers[runID] = make(map[chan Event]struct{})
	}
	m.subscribers[runID][ch] = struct{}{}
	return ch
}

// Unsubscribe removes a listener and closes its channel.
func (m *Manager) Unsubscribe(runID string, ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subscribers[runID]
	if subs == nil {
		return
	}
	if _, ok := subs[ch]; !ok {
		return
	}
	delete(subs, ch)
	close(ch)
	if len(subs) == 0 {
		delete(m.subscribers, runID)
	}
}

// Publish assigns the event a sequence number, records it for replay and
// fans it out. Slow subscribers have the event dropped rather than
// stalling the producer.
func (m *Manager) Publish(ev Event) Event {
	m.mu.Lock()
	m.nextSeq++
	ev.Seq = m.nextSeq
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	r := m.history[ev.RunID]
	if r == nil {
		r = newRing(m.capacity)
		m.history[ev.RunID] = r
	}
	r.push(ev)

	targets := make([]chan Event, 0, len(m.subscribers[ev.RunID]))
	for ch := range m.subscribers[ev.RunID] {
		targets = append(targets, ch)
	}
	m.mu.Unlock()

	for _, ch := range targets {
		select {
		case ch <- ev:
		default:
		}
	}
	return ev
}

// ReplaySince returns the run's buffered events with Seq > after, oldest
// first. after == 0 replays everything still buffered.
func (m *Manager) ReplaySince(runID string, after uint64) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r := m.history[runID]
	if r == nil {
		return nil
	}
	return r.since(after)
}

// Forget drops a run's replay buffer. Called once the run is terminal
// and its clients have disconnected.
func (m *Manager) Forget(runID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.history, runID)
}

// ring is a fixed-size event buffer ordered by insertion.
type ring struct {
	buf  []Event
	head int
	size int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Event, capacity)}
}

func (r *ring) push(ev Event) {
	r.buf[r.head] = ev
	r.head = (r.head + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
}

func (r *ring) since(after uint64) []Event {
	out := make([]Event, 0, r.size)
	start := r.head - r.size
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < r.size; i++ {
		ev := r.buf[(start+i)%len(r.buf)]
		if ev.Seq > after {
			out = append(out, ev)
		}
	}
	return out
}

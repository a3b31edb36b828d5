// Package trace records the ordered sequence of phase transitions a single
// host workflow goes through, and fans them out to subscribers. It exists
// so a run can be observed live (CLI progress output) and so tests can
// assert phase ordering and cancellation-responsiveness without coupling
// to the workflow engine's internals.
package trace

import (
	"sync"
	"time"

	"github.com/nexops/pvefleet/pkg/types"
)

// Transition is one phase change recorded for a single host's run.
type Transition struct {
	// RunID correlates every transition from one host's single Run call,
	// so log/trace aggregation can separate concurrently running hosts'
	// histories without relying on timestamp ordering alone.
	RunID     string
	Host      string
	Phase     types.Phase
	Status    types.PhaseStatus
	Timestamp time.Time
	Detail    string
}

// Subscriber is a channel that receives transitions.
type Subscriber chan Transition

// Tracer distributes phase transitions to subscribers. The zero value is
// not usable; construct with New. Safe for concurrent use by multiple
// host workflows sharing one fleet run.
type Tracer struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]bool
	history     []Transition
}

// New returns a ready-to-use Tracer.
func New() *Tracer {
	return &Tracer{
		subscribers: make(map[Subscriber]bool),
	}
}

// Subscribe registers a new listener. Callers must Unsubscribe when done.
func (t *Tracer) Subscribe() Subscriber {
	t.mu.Lock()
	defer t.mu.Unlock()

	sub := make(Subscriber, 64)
	t.subscribers[sub] = true
	return sub
}

// Unsubscribe removes and closes a subscription.
func (t *Tracer) Unsubscribe(sub Subscriber) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.subscribers[sub]; ok {
		delete(t.subscribers, sub)
		close(sub)
	}
}

// Record appends a transition to the run history and broadcasts it to
// every current subscriber. Delivery is best-effort: a subscriber with a
// full buffer misses the event rather than blocking the workflow.
func (t *Tracer) Record(tr Transition) {
	if tr.Timestamp.IsZero() {
		tr.Timestamp = time.Now()
	}

	t.mu.Lock()
	t.history = append(t.history, tr)
	subs := make([]Subscriber, 0, len(t.subscribers))
	for sub := range t.subscribers {
		subs = append(subs, sub)
	}
	t.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub <- tr:
		default:
		}
	}
}

// History returns every transition recorded so far, in order. The slice
// is a copy; callers may retain it freely.
func (t *Tracer) History() []Transition {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Transition, len(t.history))
	copy(out, t.history)
	return out
}

// ForHost filters History to one host's transitions, preserving order.
func (t *Tracer) ForHost(host string) []Transition {
	all := t.History()
	out := make([]Transition, 0, len(all))
	for _, tr := range all {
		if tr.Host == host {
			out = append(out, tr)
		}
	}
	return out
}

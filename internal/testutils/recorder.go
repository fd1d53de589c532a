package testutils

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aretw0/sessionflow/pkg/event"
)

// Recorder captures every event published on a bus, in publish order.
type Recorder struct {
	mu     sync.Mutex
	events []event.Event
	sub    *event.Subscription
}

// NewRecorder subscribes a recorder to all events on bus. The subscription is cancelled
// when the test ends.
func NewRecorder(t *testing.T, bus *event.Bus) *Recorder {
	t.Helper()
	r := &Recorder{}
	r.sub = bus.SubscribeAll(func(e event.Event) {
		r.mu.Lock()
		r.events = append(r.events, e)
		r.mu.Unlock()
	})
	t.Cleanup(r.sub.Cancel)
	return r
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the recorded event types, optionally restricted to the given ones.
func (r *Recorder) Types(only ...string) []string {
	keep := make(map[string]bool, len(only))
	for _, o := range only {
		keep[o] = true
	}
	var out []string
	for _, e := range r.Events() {
		if len(keep) == 0 || keep[e.EventType()] {
			out = append(out, e.EventType())
		}
	}
	return out
}

// Count returns how many events of the given type were recorded.
func (r *Recorder) Count(eventType string) int {
	n := 0
	for _, e := range r.Events() {
		if e.EventType() == eventType {
			n++
		}
	}
	return n
}

// Reset forgets everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// WaitFor blocks until at least n events of the given type were recorded.
func (r *Recorder) WaitFor(t *testing.T, eventType string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return r.Count(eventType) >= n
	}, 2*time.Second, 5*time.Millisecond, "waiting for %d %s events", n, eventType)
}

// Of returns the recorded events of type T.
func Of[T event.Event](r *Recorder) []T {
	var out []T
	for _, e := range r.Events() {
		if typed, ok := e.(T); ok {
			out = append(out, typed)
		}
	}
	return out
}

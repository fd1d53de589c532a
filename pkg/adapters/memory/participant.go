package memory

import (
	"context"
	"maps"
	"sync"

	"github.com/aretw0/sessionflow/pkg/domain"
)

// RunState is a reset participant holding per-run counters (score, pickups and the
// like). Cleanup clears the live values, Restore reapplies the initial ones and
// Rebind bumps the generation so holders of stale references can notice.
type RunState struct {
	Journal
	Name    string
	Order   int
	Initial map[string]int

	mu         sync.Mutex
	values     map[string]int
	generation int
}

// NewRunState creates a RunState seeded with initial.
func NewRunState(name string, initial map[string]int) *RunState {
	return &RunState{Name: name, Initial: initial, values: maps.Clone(initial)}
}

func (s *RunState) ParticipantName() string { return s.Name }
func (s *RunState) ResetOrder() int         { return s.Order }

// ShouldParticipate opts out of scoped resets that only touch specific actors.
func (s *RunState) ShouldParticipate(scope domain.ResetScope) bool {
	return scope == domain.ScopeAllActorsInScene || scope == domain.ScopePlayersOnly
}

func (s *RunState) Cleanup(ctx context.Context, rc domain.ResetContext) error {
	s.mu.Lock()
	s.values = map[string]int{}
	s.mu.Unlock()
	s.add("cleanup %s", rc.Signature)
	return nil
}

func (s *RunState) Restore(ctx context.Context, rc domain.ResetContext) error {
	s.mu.Lock()
	s.values = maps.Clone(s.Initial)
	if s.values == nil {
		s.values = map[string]int{}
	}
	s.mu.Unlock()
	s.add("restore %s", rc.Signature)
	return nil
}

func (s *RunState) Rebind(ctx context.Context, rc domain.ResetContext) error {
	s.mu.Lock()
	s.generation++
	s.mu.Unlock()
	s.add("rebind %s", rc.Signature)
	return nil
}

// Add increments a counter.
func (s *RunState) Add(key string, delta int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values == nil {
		s.values = map[string]int{}
	}
	s.values[key] += delta
}

// Value returns a counter.
func (s *RunState) Value(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[key]
}

// Generation counts completed rebinds.
func (s *RunState) Generation() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

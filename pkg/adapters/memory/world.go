package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/aretw0/sessionflow/pkg/domain"
	"github.com/aretw0/sessionflow/pkg/ports"
)

// Actor is a plain world element. Kind is the canonical classification; Hint is only
// consulted when Kind is unknown.
type Actor struct {
	ID   string
	Kind domain.ActorKind
	Hint domain.ActorKind
}

func (a *Actor) ActorID() string             { return a.ID }
func (a *Actor) ActorKind() domain.ActorKind { return a.Kind }
func (a *Actor) RoleHint() domain.ActorKind  { return a.Hint }

// World implements ports.ActorRegistry and ports.SpawnRegistry in memory.
// Safe for concurrent use.
type World struct {
	mu     sync.RWMutex
	scenes map[string][]*Actor
	spawns int
}

// NewWorld creates an empty world.
func NewWorld() *World {
	return &World{scenes: make(map[string][]*Actor)}
}

// Add places actors in a scene, replacing any actor with the same id.
func (w *World) Add(scene string, actors ...*Actor) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, a := range actors {
		list := w.scenes[scene]
		if i := slices.IndexFunc(list, func(x *Actor) bool { return x.ID == a.ID }); i >= 0 {
			list[i] = a
			continue
		}
		w.scenes[scene] = append(list, a)
	}
}

// Actors implements ports.ActorRegistry.
func (w *World) Actors(scene string) []ports.Actor {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]ports.Actor, 0, len(w.scenes[scene]))
	for _, a := range w.scenes[scene] {
		out = append(out, a)
	}
	return out
}

// Lookup implements ports.ActorRegistry.
func (w *World) Lookup(scene, id string) (ports.Actor, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, a := range w.scenes[scene] {
		if a.ID == id {
			return a, true
		}
	}
	return nil, false
}

// Spawn creates an actor of the given role unless one already exists in the scene.
func (w *World) Spawn(ctx context.Context, scene string, role domain.ActorKind) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, a := range w.scenes[scene] {
		if a.Kind == role {
			return nil
		}
	}
	w.spawns++
	w.scenes[scene] = append(w.scenes[scene], &Actor{ID: fmt.Sprintf("%s-%d", role, w.spawns), Kind: role})
	return nil
}

// Despawn removes an actor. Removing an unknown actor is a no-op.
func (w *World) Despawn(ctx context.Context, scene, id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.scenes[scene] = slices.DeleteFunc(w.scenes[scene], func(a *Actor) bool { return a.ID == id })
	return nil
}

// Spawned returns how many actors Spawn created.
func (w *World) Spawned() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.spawns
}

package ports

import (
	"context"

	"github.com/aretw0/sessionflow/pkg/domain"
)

// Actor is a world element the reset orchestrator can target.
type Actor interface {
	ActorID() string
	ActorKind() domain.ActorKind
}

// RoleHinter is implemented by actors that cannot declare a canonical kind but can offer
// a role hint. Classifying through it is degraded-mode usage.
type RoleHinter interface {
	RoleHint() domain.ActorKind
}

// ActorRegistry enumerates the actors of a scene.
type ActorRegistry interface {
	// Actors returns the actors of scene in registration order.
	Actors(scene string) []Actor

	// Lookup finds an actor by id.
	Lookup(scene, id string) (Actor, bool)
}

// SpawnRegistry spawns and despawns named world elements. Both calls are idempotent.
type SpawnRegistry interface {
	Spawn(ctx context.Context, scene string, role domain.ActorKind) error
	Despawn(ctx context.Context, scene, id string) error
}

// ResetParticipant takes part in world resets. Participants own their internal state;
// the orchestrator only sequences the calls.
type ResetParticipant interface {
	// ParticipantName identifies the participant in logs and failure reports.
	ParticipantName() string

	// ResetOrder orders participants; lower runs first.
	ResetOrder() int

	// ShouldParticipate filters participants by reset scope.
	ShouldParticipate(scope domain.ResetScope) bool

	Cleanup(ctx context.Context, rc domain.ResetContext) error
	Restore(ctx context.Context, rc domain.ResetContext) error
	Rebind(ctx context.Context, rc domain.ResetContext) error
}

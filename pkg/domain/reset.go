package domain

import (
	"fmt"
	"slices"
	"time"
)

// ResetScope selects which actors take part in a world reset.
type ResetScope string

const (
	ScopeAllActorsInScene ResetScope = "all_actors_in_scene"
	ScopePlayersOnly      ResetScope = "players_only"
	ScopeByKind           ResetScope = "by_kind"
	ScopeActorIDSet       ResetScope = "actor_id_set"
	ScopeEaterOnly        ResetScope = "eater_only"
)

// ParseResetScope converts a string into a ResetScope.
func ParseResetScope(s string) (ResetScope, error) {
	switch ResetScope(s) {
	case ScopeAllActorsInScene, ScopePlayersOnly, ScopeByKind, ScopeActorIDSet, ScopeEaterOnly:
		return ResetScope(s), nil
	}
	return "", fmt.Errorf("unknown reset scope %q", s)
}

// ResetRequest asks the world reset orchestrator to reset part of the world.
type ResetRequest struct {
	Scope    ResetScope `json:"scope"`
	Reason   string     `json:"reason"`
	ActorIDs []string   `json:"actor_ids,omitempty"`
	Kind     ActorKind  `json:"kind,omitempty"`

	// Scene targets a specific scene; empty means the active scene.
	Scene string `json:"scene,omitempty"`

	// Signature correlates the reset with the operation that caused it (usually a
	// transition). When empty the orchestrator derives one from the request content.
	Signature Signature `json:"signature,omitempty"`
}

// Clone returns a deep copy of the request.
func (r ResetRequest) Clone() ResetRequest {
	r.ActorIDs = slices.Clone(r.ActorIDs)
	return r
}

// ResetStep is one of the three ordered reset phases.
type ResetStep string

const (
	StepCleanup ResetStep = "cleanup"
	StepRestore ResetStep = "restore"
	StepRebind  ResetStep = "rebind"
)

// ResetSteps lists the phases in execution order.
var ResetSteps = []ResetStep{StepCleanup, StepRestore, StepRebind}

// ResetContext is handed to every participant. It is built fresh per reset attempt
// and never mutated; WithStep projects it onto the next phase.
type ResetContext struct {
	Scene     string       `json:"scene"`
	Request   ResetRequest `json:"request"`
	Signature Signature    `json:"signature"`
	Serial    uint64       `json:"serial"`
	Frame     uint64       `json:"frame"`
	StartedAt time.Time    `json:"started_at"`
	Step      ResetStep    `json:"step"`

	// Targets lists the ids of the actors resolved for the request scope.
	Targets []string `json:"targets,omitempty"`
}

// WithStep returns a copy of the context positioned at step.
func (c ResetContext) WithStep(step ResetStep) ResetContext {
	c.Request = c.Request.Clone()
	c.Targets = slices.Clone(c.Targets)
	c.Step = step
	return c
}

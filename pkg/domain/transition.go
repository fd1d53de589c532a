package domain

import (
	"fmt"
	"slices"
)

// Profile classifies a scene transition.
type Profile string

const (
	ProfileStartup  Profile = "startup"
	ProfileFrontend Profile = "frontend"
	ProfileGameplay Profile = "gameplay"
)

// ParseProfile converts a string into a Profile.
func ParseProfile(s string) (Profile, error) {
	switch Profile(s) {
	case ProfileStartup, ProfileFrontend, ProfileGameplay:
		return Profile(s), nil
	}
	return "", fmt.Errorf("unknown transition profile %q", s)
}

// Signature is the deterministic correlation key of one logical operation.
type Signature string

// TransitionRequest describes a scene swap. Treat it as immutable once submitted.
type TransitionRequest struct {
	ScenesToLoad      []string `json:"scenes_to_load,omitempty" yaml:"load,omitempty"`
	ScenesToUnload    []string `json:"scenes_to_unload,omitempty" yaml:"unload,omitempty"`
	TargetActiveScene string   `json:"target_active_scene,omitempty" yaml:"active,omitempty"`
	UseFade           bool     `json:"use_fade" yaml:"fade"`
	Profile           Profile  `json:"profile" yaml:"profile"`

	// ContextSignature lets callers distinguish otherwise identical requests.
	ContextSignature string `json:"context_signature,omitempty" yaml:"context,omitempty"`

	// RequesterID identifies the caller for diagnostics. It does not take part in the signature.
	RequesterID string `json:"requester_id,omitempty" yaml:"requester,omitempty"`
}

// Clone returns a deep copy so the orchestrator never shares slices with the caller.
func (r TransitionRequest) Clone() TransitionRequest {
	r.ScenesToLoad = slices.Clone(r.ScenesToLoad)
	r.ScenesToUnload = slices.Clone(r.ScenesToUnload)
	return r
}

// TransitionPhase enumerates the ordered phases of one scene transition.
type TransitionPhase int

const (
	PhaseStarted TransitionPhase = iota
	PhaseFadeInCompleted
	PhaseScenesReady
	PhaseBeforeFadeOut
	PhaseCompleted
)

// TransitionPhases lists all phases in firing order.
var TransitionPhases = []TransitionPhase{
	PhaseStarted, PhaseFadeInCompleted, PhaseScenesReady, PhaseBeforeFadeOut, PhaseCompleted,
}

func (p TransitionPhase) String() string {
	switch p {
	case PhaseStarted:
		return "started"
	case PhaseFadeInCompleted:
		return "fade_in_completed"
	case PhaseScenesReady:
		return "scenes_ready"
	case PhaseBeforeFadeOut:
		return "before_fade_out"
	case PhaseCompleted:
		return "completed"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// EventType returns the bus event type used for this phase.
func (p TransitionPhase) EventType() string {
	return "transition." + p.String()
}

// TransitionContext travels with every phase event of one transition.
type TransitionContext struct {
	Signature Signature         `json:"signature"`
	Request   TransitionRequest `json:"request"`
}

package session

import "github.com/aretw0/sessionflow/pkg/domain"

// Trigger is a request the state machine reacts to.
type Trigger string

const (
	TriggerBeginIntro    Trigger = "begin_intro"
	TriggerEnterGameplay Trigger = "enter_gameplay"
	TriggerPause         Trigger = "pause"
	TriggerResume        Trigger = "resume"
	TriggerReturnToBoot  Trigger = "return_to_boot"
	TriggerRunEnded      Trigger = "run_ended"
)

// Transition is a single allowed edge in the session state machine.
type Transition struct {
	From    domain.SessionState
	To      domain.SessionState
	Trigger Trigger
}

var transitionsTable = []Transition{
	// Entry into gameplay
	{From: domain.StateBoot, To: domain.StateIntroStage, Trigger: TriggerBeginIntro},
	{From: domain.StateBoot, To: domain.StatePlaying, Trigger: TriggerEnterGameplay},
	{From: domain.StateIntroStage, To: domain.StatePlaying, Trigger: TriggerEnterGameplay},

	// Pause
	{From: domain.StatePlaying, To: domain.StatePaused, Trigger: TriggerPause},
	{From: domain.StatePaused, To: domain.StatePlaying, Trigger: TriggerResume},

	// Terminal outcome
	{From: domain.StatePlaying, To: domain.StatePostPlay, Trigger: TriggerRunEnded},

	// Back to frontend
	{From: domain.StateIntroStage, To: domain.StateBoot, Trigger: TriggerReturnToBoot},
	{From: domain.StatePlaying, To: domain.StateBoot, Trigger: TriggerReturnToBoot},
	{From: domain.StatePaused, To: domain.StateBoot, Trigger: TriggerReturnToBoot},
	{From: domain.StatePostPlay, To: domain.StateBoot, Trigger: TriggerReturnToBoot},
}

// TransitionFor returns the allowed transition for a given state+trigger.
func TransitionFor(from domain.SessionState, tr Trigger) (Transition, bool) {
	for _, t := range transitionsTable {
		if t.From == from && t.Trigger == tr {
			return t, true
		}
	}
	return Transition{}, false
}

type verdict int

const (
	verdictApply verdict = iota
	verdictNoop
	verdictInvalid
)

// decide classifies a trigger against the current state. A trigger whose target is the
// current state is a no-op rather than an error.
func decide(current domain.SessionState, tr Trigger) (Transition, verdict) {
	if t, ok := TransitionFor(current, tr); ok {
		return t, verdictApply
	}
	for _, t := range transitionsTable {
		if t.Trigger == tr && t.To == current {
			return t, verdictNoop
		}
	}
	return Transition{}, verdictInvalid
}

package domain

import "fmt"

// SessionState is the lifecycle state of a play session.
type SessionState string

const (
	StateBoot       SessionState = "boot"        // Frontend/menu, no run active
	StateIntroStage SessionState = "intro_stage" // Scenes ready, waiting for intro confirmation
	StatePlaying    SessionState = "playing"     // Gameplay may run (if the gate is open)
	StatePaused     SessionState = "paused"      // Holds the Pause gate token
	StatePostPlay   SessionState = "post_play"   // Terminal outcome reached for the run
)

// States lists every session state in lifecycle order.
var States = []SessionState{StateBoot, StateIntroStage, StatePlaying, StatePaused, StatePostPlay}

// ParseSessionState converts a string into a SessionState.
func ParseSessionState(s string) (SessionState, error) {
	for _, st := range States {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown session state %q", s)
}

// Outcome is the terminal result of a run.
type Outcome string

const (
	OutcomeVictory Outcome = "victory"
	OutcomeDefeat  Outcome = "defeat"
)

// Mode is the operating posture of the engine.
type Mode string

const (
	// ModeStrict fails fast and loudly (development, tests, CI).
	ModeStrict Mode = "strict"
	// ModeRelease degrades gracefully and keeps the session alive.
	ModeRelease Mode = "release"
)

// ParseMode converts a string into a Mode. Empty input yields ModeRelease.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeStrict:
		return ModeStrict, nil
	case ModeRelease, "":
		return ModeRelease, nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

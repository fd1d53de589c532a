package domain

import "time"

// Event types, following the "category.action" convention.
const (
	EventSessionEnteredState = "session.entered_state"
	EventRunStarted          = "run.started"
	EventRunEnded            = "run.ended"
	EventRunOutcomeDetected  = "run.outcome_detected"

	EventTransitionStarted         = "transition.started"
	EventTransitionFadeInCompleted = "transition.fade_in_completed"
	EventTransitionScenesReady     = "transition.scenes_ready"
	EventTransitionBeforeFadeOut   = "transition.before_fade_out"
	EventTransitionCompleted       = "transition.completed"

	EventWorldResetStarted   = "world_reset.started"
	EventWorldResetCompleted = "world_reset.completed"

	EventGateChanged      = "gate.changed"
	EventIntroStarted     = "intro.started"
	EventIntroCompleted   = "intro.completed"
	EventDegradedReported = "degraded.reported"
)

// Meta carries fields common to every event.
type Meta struct {
	At time.Time `json:"at"`
}

// Timestamp returns when the event occurred.
func (m Meta) Timestamp() time.Time { return m.At }

func stamp() Meta { return Meta{At: time.Now()} }

// SessionEnteredState is emitted on every successful state machine transition.
type SessionEnteredState struct {
	Meta
	State    SessionState `json:"state"`
	Previous SessionState `json:"previous"`
}

func (SessionEnteredState) EventType() string { return EventSessionEnteredState }

// NewSessionEnteredState creates a SessionEnteredState event.
func NewSessionEnteredState(state, previous SessionState) SessionEnteredState {
	return SessionEnteredState{Meta: stamp(), State: state, Previous: previous}
}

// RunStarted is emitted when a new run enters Playing for the first time.
type RunStarted struct {
	Meta
	RunID string       `json:"run_id"`
	State SessionState `json:"state"`
}

func (RunStarted) EventType() string { return EventRunStarted }

// NewRunStarted creates a RunStarted event.
func NewRunStarted(runID string, state SessionState) RunStarted {
	return RunStarted{Meta: stamp(), RunID: runID, State: state}
}

// RunEnded is emitted at most once per run.
type RunEnded struct {
	Meta
	RunID   string  `json:"run_id"`
	Outcome Outcome `json:"outcome"`
	Reason  string  `json:"reason"`
}

func (RunEnded) EventType() string { return EventRunEnded }

// NewRunEnded creates a RunEnded event.
func NewRunEnded(runID string, outcome Outcome, reason string) RunEnded {
	return RunEnded{Meta: stamp(), RunID: runID, Outcome: outcome, Reason: reason}
}

// RunOutcomeDetected is published by gameplay outcome detectors. The session state
// machine turns the first one of a run into RunEnded and ignores the rest.
type RunOutcomeDetected struct {
	Meta
	Outcome Outcome `json:"outcome"`
	Reason  string  `json:"reason"`
	Source  string  `json:"source,omitempty"`
}

func (RunOutcomeDetected) EventType() string { return EventRunOutcomeDetected }

// NewRunOutcomeDetected creates a RunOutcomeDetected event.
func NewRunOutcomeDetected(outcome Outcome, reason, source string) RunOutcomeDetected {
	return RunOutcomeDetected{Meta: stamp(), Outcome: outcome, Reason: reason, Source: source}
}

// TransitionEvent is emitted once per phase of a scene transition.
type TransitionEvent struct {
	Meta
	Phase   TransitionPhase   `json:"phase"`
	Context TransitionContext `json:"context"`
}

func (e TransitionEvent) EventType() string { return e.Phase.EventType() }

// Signature is shorthand for e.Context.Signature.
func (e TransitionEvent) Signature() Signature { return e.Context.Signature }

// NewTransitionEvent creates a TransitionEvent for phase.
func NewTransitionEvent(phase TransitionPhase, tc TransitionContext) TransitionEvent {
	return TransitionEvent{Meta: stamp(), Phase: phase, Context: tc}
}

// WorldResetStarted is emitted when an accepted reset begins its Cleanup phase.
type WorldResetStarted struct {
	Meta
	Signature Signature `json:"signature"`
	Reason    string    `json:"reason"`
	Serial    uint64    `json:"serial"`
	Scene     string    `json:"scene,omitempty"`
}

func (WorldResetStarted) EventType() string { return EventWorldResetStarted }

// NewWorldResetStarted creates a WorldResetStarted event.
func NewWorldResetStarted(sig Signature, reason string, serial uint64, scene string) WorldResetStarted {
	return WorldResetStarted{Meta: stamp(), Signature: sig, Reason: reason, Serial: serial, Scene: scene}
}

// WorldResetCompleted is emitted for every reset attempt that was admitted or could not
// run, so that waiters are never starved. Guarded marks a request that repeated a reset
// completed within the guard window; Serial is then the serial of that earlier reset.
type WorldResetCompleted struct {
	Meta
	Signature Signature `json:"signature"`
	Reason    string    `json:"reason"`
	Serial    uint64    `json:"serial"`
	Failed    bool      `json:"failed"`
	Failure   string    `json:"failure,omitempty"`
	Guarded   bool      `json:"guarded,omitempty"`
}

func (WorldResetCompleted) EventType() string { return EventWorldResetCompleted }

// NewWorldResetCompleted creates a WorldResetCompleted event.
func NewWorldResetCompleted(sig Signature, reason string, serial uint64, failure string) WorldResetCompleted {
	return WorldResetCompleted{
		Meta:      stamp(),
		Signature: sig,
		Reason:    reason,
		Serial:    serial,
		Failed:    failure != "",
		Failure:   failure,
	}
}

// NewWorldResetGuarded creates the WorldResetCompleted event of a guarded duplicate.
func NewWorldResetGuarded(sig Signature, reason string, serial uint64) WorldResetCompleted {
	e := NewWorldResetCompleted(sig, reason, serial, "")
	e.Guarded = true
	return e
}

// GateChanged is emitted on every open/closed edge of the simulation gate.
type GateChanged struct {
	Meta
	IsOpen bool      `json:"is_open"`
	Token  GateToken `json:"token"` // token whose acquire/release caused the edge
}

func (GateChanged) EventType() string { return EventGateChanged }

// NewGateChanged creates a GateChanged event.
func NewGateChanged(isOpen bool, token GateToken) GateChanged {
	return GateChanged{Meta: stamp(), IsOpen: isOpen, Token: token}
}

// IntroStageStarted is emitted when the intro stage is armed.
type IntroStageStarted struct {
	Meta
	Context IntroContext `json:"context"`
}

func (IntroStageStarted) EventType() string { return EventIntroStarted }

// NewIntroStageStarted creates an IntroStageStarted event.
func NewIntroStageStarted(ic IntroContext) IntroStageStarted {
	return IntroStageStarted{Meta: stamp(), Context: ic}
}

// IntroStageCompleted is emitted when the intro stage is completed or skipped.
type IntroStageCompleted struct {
	Meta
	Context IntroContext `json:"context"`
	Reason  string       `json:"reason"`
	Skipped bool         `json:"skipped"`
}

func (IntroStageCompleted) EventType() string { return EventIntroCompleted }

// NewIntroStageCompleted creates an IntroStageCompleted event.
func NewIntroStageCompleted(ic IntroContext, reason string, skipped bool) IntroStageCompleted {
	return IntroStageCompleted{Meta: stamp(), Context: ic, Reason: reason, Skipped: skipped}
}

// DegradedReport records a failure that was downgraded so the session could continue.
type DegradedReport struct {
	Feature string    `json:"feature"`
	Reason  string    `json:"reason"`
	Detail  string    `json:"detail,omitempty"`
	Mode    Mode      `json:"mode"`
	At      time.Time `json:"at"`
}

// DegradedReported mirrors a DegradedReport onto the bus.
type DegradedReported struct {
	Meta
	Report DegradedReport `json:"report"`
}

func (DegradedReported) EventType() string { return EventDegradedReported }

// NewDegradedReported creates a DegradedReported event.
func NewDegradedReported(r DegradedReport) DegradedReported {
	return DegradedReported{Meta: stamp(), Report: r}
}

package domain

import (
	"errors"
	"fmt"
)

// ErrMissingDependency is returned in Strict mode when a required collaborator is absent.
var ErrMissingDependency = errors.New("missing dependency")

// ErrDuplicateRequest is returned when a request is coalesced with an identical one.
var ErrDuplicateRequest = errors.New("duplicate request")

// ErrTimeout marks a bounded wait that was exceeded.
var ErrTimeout = errors.New("timed out")

// ErrParticipantFailure is wrapped by every reset participant failure.
var ErrParticipantFailure = errors.New("reset participant failed")

// ErrInvalidTransition is returned when a state machine request is not legal from the current state.
var ErrInvalidTransition = errors.New("invalid session transition")

// ErrTransitionBusy is returned when a different scene transition already owns the pipeline.
var ErrTransitionBusy = errors.New("another scene transition is in flight")

// ErrIntroNotActive is returned when waiting on an intro stage that was never armed.
var ErrIntroNotActive = errors.New("no intro stage active")

// ErrClosed is returned by components after Close.
var ErrClosed = errors.New("component closed")

// ParticipantError records one participant failing one reset phase.
type ParticipantError struct {
	Participant string
	Step        ResetStep
	Err         error
}

func (e *ParticipantError) Error() string {
	return fmt.Sprintf("participant %q failed %s: %v", e.Participant, e.Step, e.Err)
}

func (e *ParticipantError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrParticipantFailure) match any participant error.
func (e *ParticipantError) Is(target error) bool { return target == ErrParticipantFailure }

// PhaseError aggregates the participant failures of one reset phase.
type PhaseError struct {
	Step     ResetStep
	Failures []*ParticipantError
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("reset %s: %d participant(s) failed: %v", e.Step, len(e.Failures), e.Unwrap())
}

// Unwrap exposes the individual participant failures.
func (e *PhaseError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

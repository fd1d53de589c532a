package reset

import (
	"context"
	"time"

	"github.com/aretw0/sessionflow/pkg/domain"
)

// Result describes a finished reset.
type Result struct {
	Signature domain.Signature
	Request   domain.ResetRequest
	Serial    uint64

	// Guarded is set when the request repeated a reset that just completed.
	Guarded bool
	// InFlight is set when the request was rejected because the same signature was resetting.
	InFlight bool

	Targets      []string
	Participants []string
	Failures     []*domain.ParticipantError
	Spawned      []domain.ActorKind
	Elapsed      time.Duration
}

// Ran reports whether the reset actually executed.
func (r Result) Ran() bool { return !r.Guarded && !r.InFlight }

// Task is the handle of a triggered reset.
type Task struct {
	done   chan struct{}
	result Result
	err    error
}

func newTask() *Task {
	return &Task{done: make(chan struct{})}
}

func resolvedTask(res Result) *Task {
	t := newTask()
	t.finish(res, nil)
	return t
}

func (t *Task) finish(res Result, err error) {
	t.result, t.err = res, err
	close(t.done)
}

// Done is closed once the reset finished.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the reset finished or ctx is cancelled.
func (t *Task) Wait(ctx context.Context) (Result, error) {
	select {
	case <-t.done:
		return t.result, t.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Package intro coordinates the intro stage that sits between "scenes ready" and
// "playing". Entry into Playing waits on a single-slot completion future that is
// resolved by an explicit confirmation, a skip, or the policy's auto-complete.
package intro

import (
	"context"
	"log/slog"
	"sync"

	"github.com/aretw0/sessionflow/internal/logging"
	"github.com/aretw0/sessionflow/pkg/domain"
	"github.com/aretw0/sessionflow/pkg/event"
)

// ReasonSuperseded is the result reason seen by waiters of a stage that was re-armed.
const ReasonSuperseded = "superseded"

// Result is the value a completed intro stage resolves to.
type Result struct {
	Context    domain.IntroContext
	Reason     string
	Skipped    bool
	Superseded bool
}

type stage struct {
	ctx    domain.IntroContext
	done   chan struct{}
	result Result
}

// Coordinator owns the single intro-stage slot.
type Coordinator struct {
	mu      sync.Mutex
	current *stage
	active  bool

	publisher event.Publisher
	logger    *slog.Logger
}

// Option configures the Coordinator.
type Option func(*Coordinator)

// WithPublisher sets where intro events go.
func WithPublisher(pub event.Publisher) Option {
	return func(c *Coordinator) {
		c.publisher = pub
	}
}

// WithLogger configures the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// NewCoordinator creates an idle coordinator.
func NewCoordinator(opts ...Option) *Coordinator {
	c := &Coordinator{
		publisher: event.Nop{},
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Begin arms a fresh completion slot. If a stage is already active it is re-armed:
// waiters on the previous slot are released with a Superseded result and must call
// Wait again to observe the new stage. The previous stage can no longer be completed or
// skipped, so Superseded is the final result of its slot; waiters never receive the
// outcome of the stage that replaced it.
func (c *Coordinator) Begin(ic domain.IntroContext) {
	c.mu.Lock()
	prev := c.current
	rearm := c.active
	if rearm {
		prev.result = Result{Context: prev.ctx, Reason: ReasonSuperseded, Superseded: true}
		close(prev.done)
	}
	c.current = &stage{ctx: ic, done: make(chan struct{})}
	c.active = true
	c.mu.Unlock()

	if rearm {
		c.logger.Warn("Intro stage re-armed while active",
			"previous_signature", prev.ctx.Signature,
			"signature", ic.Signature,
		)
	}
	c.logger.Debug("Intro stage started", "signature", ic.Signature, "scene", ic.Scene)
	c.publisher.Publish(domain.NewIntroStageStarted(ic))
}

// Complete resolves the active stage. It returns false (and logs) when no stage is active.
func (c *Coordinator) Complete(reason string) bool {
	return c.finish(reason, false)
}

// Skip resolves the active stage as skipped. It returns false when no stage is active.
func (c *Coordinator) Skip(reason string) bool {
	return c.finish(reason, true)
}

func (c *Coordinator) finish(reason string, skipped bool) bool {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		c.logger.Debug("Intro completion ignored, no stage active", "reason", reason, "skipped", skipped)
		return false
	}
	st := c.current
	st.result = Result{Context: st.ctx, Reason: reason, Skipped: skipped}
	c.active = false
	close(st.done)
	c.mu.Unlock()

	c.logger.Debug("Intro stage completed", "signature", st.ctx.Signature, "reason", reason, "skipped", skipped)
	c.publisher.Publish(domain.NewIntroStageCompleted(st.ctx, reason, skipped))
	return true
}

// Wait blocks until the current stage resolves or ctx is cancelled. A stage that has
// already resolved returns its result immediately. Waiting before any Begin returns
// domain.ErrIntroNotActive.
func (c *Coordinator) Wait(ctx context.Context) (Result, error) {
	c.mu.Lock()
	st := c.current
	c.mu.Unlock()

	if st == nil {
		return Result{}, domain.ErrIntroNotActive
	}
	select {
	case <-st.done:
		return st.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Done returns a channel closed when the current stage resolves, or nil if no stage
// was ever armed.
func (c *Coordinator) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	return c.current.done
}

// IsActive reports whether a stage is armed and unresolved.
func (c *Coordinator) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Context returns the context of the active stage.
func (c *Coordinator) Context() (domain.IntroContext, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return domain.IntroContext{}, false
	}
	return c.current.ctx, true
}

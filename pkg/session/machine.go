package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/aretw0/sessionflow/internal/logging"
	"github.com/aretw0/sessionflow/pkg/degraded"
	"github.com/aretw0/sessionflow/pkg/domain"
	"github.com/aretw0/sessionflow/pkg/event"
	"github.com/aretw0/sessionflow/pkg/intro"
	"github.com/aretw0/sessionflow/pkg/ports"
)

// Reason strings used when the machine drives the intro stage itself.
const (
	ReasonAutoComplete = "auto_complete"
	ReasonLeftIntro    = "left_intro_stage"
)

// Machine is the session state machine.
type Machine struct {
	mu         sync.Mutex
	state      domain.SessionState
	runID      string
	runEnded   bool
	introEpoch uint64

	gate      ports.SimulationGate
	intro     *intro.Coordinator
	policy    intro.PolicyResolver
	posture   *degraded.Policy
	publisher event.Publisher
	logger    *slog.Logger
	newRunID  func() string

	waiters sync.WaitGroup
	stop    context.CancelFunc
	life    context.Context
}

// Option configures the Machine.
type Option func(*Machine)

// WithGate sets the simulation gate driven by Pause/Resume.
func WithGate(g ports.SimulationGate) Option {
	return func(m *Machine) {
		m.gate = g
	}
}

// WithIntro sets the intro coordinator and the policy used to decide how each
// entry into gameplay treats the intro stage.
func WithIntro(c *intro.Coordinator, policy intro.PolicyResolver) Option {
	return func(m *Machine) {
		m.intro = c
		if policy != nil {
			m.policy = policy
		}
	}
}

// WithDegraded sets the degraded-mode policy.
func WithDegraded(p *degraded.Policy) Option {
	return func(m *Machine) {
		m.posture = p
	}
}

// WithPublisher sets where session events go.
func WithPublisher(pub event.Publisher) Option {
	return func(m *Machine) {
		m.publisher = pub
	}
}

// WithLogger configures the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Machine) {
		m.logger = logger
	}
}

// WithRunIDs overrides run id generation.
func WithRunIDs(fn func() string) Option {
	return func(m *Machine) {
		m.newRunID = fn
	}
}

// NewMachine creates a machine in Boot.
func NewMachine(opts ...Option) *Machine {
	m := &Machine{
		state:     domain.StateBoot,
		policy:    intro.StaticPolicy(domain.IntroManual),
		publisher: event.Nop{},
		logger:    logging.NewNop(),
		newRunID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.posture == nil {
		m.posture = degraded.NewPolicy(domain.ModeRelease, degraded.WithLogger(m.logger), degraded.WithPublisher(m.publisher))
	}
	m.life, m.stop = context.WithCancel(context.Background())
	return m
}

// State returns the current session state.
func (m *Machine) State() domain.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// RunID returns the id of the current (or last) run, empty before the first run.
func (m *Machine) RunID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runID
}

// CanSimulate reports whether gameplay simulation may advance: the session is Playing
// and no gate token is held.
func (m *Machine) CanSimulate() bool {
	m.mu.Lock()
	playing := m.state == domain.StatePlaying
	m.mu.Unlock()
	return playing && (m.gate == nil || m.gate.IsOpen())
}

// entry captures what a committed transition has to announce once the lock is released.
type entry struct {
	from, to domain.SessionState
	runID    string
	epoch    uint64
	newRun   bool
	outcome  domain.Outcome
	reason   string
	endRun   bool
}

// apply runs a trigger under the lock. It returns applied=false for no-ops and
// ErrInvalidTransition for requests the current state does not accept.
func (m *Machine) apply(tr Trigger, guard func(from domain.SessionState) bool) (entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, v := decide(m.state, tr)
	switch v {
	case verdictNoop:
		m.logger.Debug("session request is a no-op", "state", m.state, "trigger", tr)
		return entry{}, false, nil
	case verdictInvalid:
		m.logger.Debug("session request ignored", "state", m.state, "trigger", tr)
		return entry{}, false, fmt.Errorf("%w: %s in %s", domain.ErrInvalidTransition, tr, m.state)
	}
	if guard != nil && !guard(t.From) {
		return entry{}, false, nil
	}

	e := entry{from: t.From, to: t.To}
	m.state = t.To
	switch {
	case t.To == domain.StatePlaying && (t.From == domain.StateBoot || t.From == domain.StateIntroStage):
		m.runID = m.newRunID()
		m.runEnded = false
		e.newRun = true
	case t.To == domain.StateBoot || t.To == domain.StateIntroStage:
		m.introEpoch++
	}
	e.runID = m.runID
	e.epoch = m.introEpoch
	return e, true, nil
}

// announce performs the side effects of a committed transition outside the lock.
func (m *Machine) announce(e entry) {
	if e.from == domain.StatePaused && m.gate != nil {
		m.gate.Release(domain.TokenPause)
	}
	if e.to == domain.StatePaused && m.gate != nil {
		m.gate.Acquire(domain.TokenPause)
	}

	m.logger.Info("session state changed", "from", e.from, "to", e.to)
	m.publisher.Publish(domain.NewSessionEnteredState(e.to, e.from))

	if e.newRun {
		if m.gate != nil && !m.gate.IsOpen() {
			m.logger.Debug("run started with gate closed, simulation held", "run_id", e.runID)
		}
		m.publisher.Publish(domain.NewRunStarted(e.runID, e.to))
	}
	if e.endRun {
		m.publisher.Publish(domain.NewRunEnded(e.runID, e.outcome, e.reason))
	}
}

func (m *Machine) requireGate(ctx context.Context, op string) error {
	if m.gate != nil {
		return nil
	}
	return m.posture.Missing(ctx, domain.FeatureGate, op+" without a simulation gate")
}

// Pause moves Playing to Paused and acquires the Pause token. Pausing while already
// paused is a no-op.
func (m *Machine) Pause(ctx context.Context) error {
	if err := m.requireGate(ctx, "pause"); err != nil {
		return err
	}
	e, ok, err := m.apply(TriggerPause, nil)
	if err != nil || !ok {
		return err
	}
	m.announce(e)
	return nil
}

// Resume moves Paused back to Playing and releases the Pause token.
func (m *Machine) Resume(ctx context.Context) error {
	if err := m.requireGate(ctx, "resume"); err != nil {
		return err
	}
	e, ok, err := m.apply(TriggerResume, nil)
	if err != nil || !ok {
		return err
	}
	m.announce(e)
	return nil
}

// ReturnToBoot drives any state back to Boot. A pending intro stage is skipped and a
// held Pause token is released.
func (m *Machine) ReturnToBoot(reason string) error {
	e, ok, err := m.apply(TriggerReturnToBoot, nil)
	if err != nil || !ok {
		return err
	}
	if e.from == domain.StateIntroStage && m.intro != nil {
		m.intro.Skip(ReasonLeftIntro)
	}
	m.logger.Debug("returning to boot", "reason", reason)
	m.announce(e)
	return nil
}

// EndRun moves Playing to PostPlay and emits RunEnded. It returns true only for the
// first outcome of a run; later outcomes are ignored until the next run starts.
func (m *Machine) EndRun(outcome domain.Outcome, reason string) bool {
	var ended bool
	e, ok, err := m.apply(TriggerRunEnded, func(domain.SessionState) bool {
		if m.runEnded || m.runID == "" {
			return false
		}
		m.runEnded = true
		ended = true
		return true
	})
	if err != nil || !ok || !ended {
		m.logger.Debug("run outcome ignored", "outcome", outcome, "reason", reason)
		return false
	}
	e.endRun = true
	e.outcome = outcome
	e.reason = reason
	m.announce(e)
	return true
}

// RequestVictory ends the current run with a victory.
func (m *Machine) RequestVictory(reason string) bool {
	return m.EndRun(domain.OutcomeVictory, reason)
}

// RequestDefeat ends the current run with a defeat.
func (m *Machine) RequestDefeat(reason string) bool {
	return m.EndRun(domain.OutcomeDefeat, reason)
}

// EnterGameplay is called when a gameplay scene is ready. Depending on the intro policy
// resolved for the transition it either enters Playing directly or arms the intro stage.
// With a manual policy the call returns while the session waits in IntroStage.
func (m *Machine) EnterGameplay(ctx context.Context, tc domain.TransitionContext) error {
	policy := m.policy.Resolve(tc)
	if policy != domain.IntroDisabled && m.intro == nil {
		if err := m.posture.Missing(ctx, domain.FeatureIntro, "intro stage requested without a coordinator"); err != nil {
			return err
		}
		policy = domain.IntroDisabled
	}

	if policy == domain.IntroDisabled {
		e, ok, err := m.apply(TriggerEnterGameplay, nil)
		if err != nil || !ok {
			return err
		}
		m.announce(e)
		return nil
	}

	e, ok, err := m.apply(TriggerBeginIntro, nil)
	if err != nil || !ok {
		return err
	}
	epoch := e.epoch

	m.announce(e)
	m.intro.Begin(domain.IntroContext{
		Signature: tc.Signature,
		Scene:     tc.Request.TargetActiveScene,
		Profile:   tc.Request.Profile,
		Reason:    string(policy),
	})

	if policy == domain.IntroAutoComplete {
		m.intro.Complete(ReasonAutoComplete)
		m.finishIntro(epoch)
		return nil
	}

	m.waiters.Add(1)
	go func() {
		defer m.waiters.Done()
		m.awaitIntro(epoch)
	}()
	return nil
}

func (m *Machine) awaitIntro(epoch uint64) {
	for {
		res, err := m.intro.Wait(m.life)
		if err != nil {
			m.logger.Debug("intro wait ended", "err", err)
			return
		}
		if res.Superseded {
			continue
		}
		m.finishIntro(epoch)
		return
	}
}

// finishIntro enters Playing if the intro stage armed at epoch is still current.
func (m *Machine) finishIntro(epoch uint64) {
	e, ok, err := m.apply(TriggerEnterGameplay, func(from domain.SessionState) bool {
		return from == domain.StateIntroStage && m.introEpoch == epoch
	})
	if err != nil || !ok {
		m.logger.Debug("stale intro completion ignored", "epoch", epoch)
		return
	}
	m.announce(e)
}

// CompleteIntro confirms the pending intro stage.
func (m *Machine) CompleteIntro(reason string) bool {
	if m.intro == nil {
		return false
	}
	return m.intro.Complete(reason)
}

// SkipIntro skips the pending intro stage.
func (m *Machine) SkipIntro(reason string) bool {
	if m.intro == nil {
		return false
	}
	return m.intro.Skip(reason)
}

// Attach subscribes the machine to run outcome detections on the bus.
func (m *Machine) Attach(bus *event.Bus) (detach func()) {
	sub := event.On(bus, domain.EventRunOutcomeDetected, func(e domain.RunOutcomeDetected) {
		m.EndRun(e.Outcome, e.Reason)
	})
	return sub.Cancel
}

// Close stops pending intro waiters.
func (m *Machine) Close() {
	m.stop()
	m.waiters.Wait()
}

package sessionflow

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/aretw0/sessionflow/internal/logging"
	"github.com/aretw0/sessionflow/pkg/degraded"
	"github.com/aretw0/sessionflow/pkg/domain"
	"github.com/aretw0/sessionflow/pkg/event"
	"github.com/aretw0/sessionflow/pkg/gate"
	"github.com/aretw0/sessionflow/pkg/intro"
	"github.com/aretw0/sessionflow/pkg/ports"
	"github.com/aretw0/sessionflow/pkg/reset"
	"github.com/aretw0/sessionflow/pkg/session"
	"github.com/aretw0/sessionflow/pkg/transition"
)

// Scenes names the scenes the command surface moves between.
type Scenes struct {
	// Frontend is the menu scene.
	Frontend string `json:"frontend" yaml:"frontend" mapstructure:"frontend"`
	// Gameplay lists the scenes of the first level; the first one becomes active.
	Gameplay []string `json:"gameplay" yaml:"gameplay" mapstructure:"gameplay"`
}

// DefaultScenes is used when no scenes are configured.
var DefaultScenes = Scenes{Frontend: "Menu", Gameplay: []string{"Arena"}}

// Timing groups the windows and timeouts of the pipelines. Zero capacities fall
// back to the package defaults.
type Timing struct {
	TransitionDedup time.Duration
	ResetGuard      time.Duration
	ResetPoll       time.Duration
	ResetTimeout    time.Duration
	DedupCapacity   int
	GuardCapacity   int
}

// DefaultTiming holds the documented defaults.
var DefaultTiming = Timing{
	TransitionDedup: transition.DefaultDedupWindow,
	ResetGuard:      reset.DefaultGuardWindow,
	ResetPoll:       transition.DefaultResetPoll,
	ResetTimeout:    transition.DefaultResetTimeout,
}

// Engine wires the gate, the session machine, the intro coordinator and the two
// orchestrators onto one event bus and exposes the command surface.
type Engine struct {
	mode      domain.Mode
	bus       *event.Bus
	gate      *gate.Gate
	posture   *degraded.Policy
	intro     *intro.Coordinator
	machine   *session.Machine
	transit   *transition.Orchestrator
	resets    *reset.Orchestrator
	reporter  ports.DegradedReporter
	loader    ports.SceneLoader
	fade      ports.FadeService
	hud       ports.HUDService
	input     ports.InputModeService
	actors    ports.ActorRegistry
	spawner   ports.SpawnRegistry
	policy    intro.PolicyResolver
	essential []domain.ActorKind
	resetOn   []domain.Profile
	timing    Timing
	noGate    bool
	useFade   bool
	logger    *slog.Logger

	mu      sync.Mutex
	scenes  Scenes
	current []string
	cycle   uint64

	detach []func()
}

// Option configures the Engine.
type Option func(*Engine)

// WithMode sets the Strict/Release posture (Release by default).
func WithMode(mode domain.Mode) Option {
	return func(e *Engine) {
		e.mode = mode
	}
}

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithBus shares an existing event bus.
func WithBus(bus *event.Bus) Option {
	return func(e *Engine) {
		e.bus = bus
	}
}

// WithoutGate runs the engine with no simulation gate, as when the gate service cannot be
// resolved by the host.
func WithoutGate() Option {
	return func(e *Engine) {
		e.noGate = true
	}
}

// WithDegradedReporter sets where degraded-mode reports are delivered.
func WithDegradedReporter(r ports.DegradedReporter) Option {
	return func(e *Engine) {
		e.reporter = r
	}
}

// WithSceneLoader sets the scene loader used by transitions.
func WithSceneLoader(l ports.SceneLoader) Option {
	return func(e *Engine) {
		e.loader = l
	}
}

// WithPresentation sets the optional fade, HUD and input-mode services. Nil values are
// allowed.
func WithPresentation(fade ports.FadeService, hud ports.HUDService, input ports.InputModeService) Option {
	return func(e *Engine) {
		e.fade = fade
		e.hud = hud
		e.input = input
	}
}

// WithActors sets the actor registry and spawner used by world resets.
func WithActors(registry ports.ActorRegistry, spawner ports.SpawnRegistry) Option {
	return func(e *Engine) {
		e.actors = registry
		e.spawner = spawner
	}
}

// WithEssentialRoles overrides the roles restored after a full-scene reset.
func WithEssentialRoles(roles ...domain.ActorKind) Option {
	return func(e *Engine) {
		e.essential = roles
	}
}

// WithIntroPolicy sets the intro policy resolver (manual by default).
func WithIntroPolicy(p intro.PolicyResolver) Option {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithScenes sets the frontend and gameplay scenes.
func WithScenes(s Scenes) Option {
	return func(e *Engine) {
		e.scenes = s
	}
}

// WithResetProfiles sets the transition profiles that trigger a world reset and
// make the transition wait for it.
func WithResetProfiles(profiles ...domain.Profile) Option {
	return func(e *Engine) {
		e.resetOn = profiles
	}
}

// WithFadeTransitions toggles the fade requested by command-surface transitions.
func WithFadeTransitions(on bool) Option {
	return func(e *Engine) {
		e.useFade = on
	}
}

// WithTiming overrides the pipeline windows and timeouts. Zero fields keep their defaults.
func WithTiming(t Timing) Option {
	return func(e *Engine) {
		if t.TransitionDedup != 0 {
			e.timing.TransitionDedup = t.TransitionDedup
		}
		if t.ResetGuard != 0 {
			e.timing.ResetGuard = t.ResetGuard
		}
		if t.ResetPoll != 0 {
			e.timing.ResetPoll = t.ResetPoll
		}
		if t.ResetTimeout != 0 {
			e.timing.ResetTimeout = t.ResetTimeout
		}
		if t.DedupCapacity != 0 {
			e.timing.DedupCapacity = t.DedupCapacity
		}
		if t.GuardCapacity != 0 {
			e.timing.GuardCapacity = t.GuardCapacity
		}
	}
}

// New builds and wires an Engine.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		mode:    domain.ModeRelease,
		policy:  intro.StaticPolicy(domain.IntroManual),
		scenes:  DefaultScenes,
		timing:  DefaultTiming,
		useFade: true,
		resetOn: []domain.Profile{domain.ProfileGameplay},
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if _, err := domain.ParseMode(string(e.mode)); err != nil {
		return nil, err
	}
	if e.scenes.Frontend == "" || len(e.scenes.Gameplay) == 0 {
		return nil, fmt.Errorf("scenes: frontend and at least one gameplay scene are required")
	}
	if e.bus == nil {
		e.bus = event.NewBus(event.WithLogger(e.logger))
	}
	e.current = slices.Clone(e.scenes.Gameplay)

	postureOpts := []degraded.Option{degraded.WithLogger(e.logger), degraded.WithPublisher(e.bus)}
	if e.reporter != nil {
		postureOpts = append(postureOpts, degraded.WithReporter(e.reporter))
	}
	e.posture = degraded.NewPolicy(e.mode, postureOpts...)

	var g ports.SimulationGate
	if !e.noGate {
		e.gate = gate.New(gate.WithPublisher(e.bus), gate.WithLogger(e.logger))
		g = e.gate
	}

	e.intro = intro.NewCoordinator(intro.WithPublisher(e.bus), intro.WithLogger(e.logger))

	e.machine = session.NewMachine(
		session.WithGate(g),
		session.WithIntro(e.intro, e.policy),
		session.WithDegraded(e.posture),
		session.WithPublisher(e.bus),
		session.WithLogger(e.logger.With("component", "session")),
	)

	e.transit = transition.NewOrchestrator(
		transition.WithGate(g),
		transition.WithSceneLoader(e.loader),
		transition.WithFade(e.fade),
		transition.WithHUD(e.hud),
		transition.WithInputMode(e.input, nil),
		transition.WithResetBarrier(e.bus, e.timing.ResetPoll, e.timing.ResetTimeout, e.resetOn...),
		transition.WithDedup(e.timing.TransitionDedup, e.timing.DedupCapacity),
		transition.WithDegraded(e.posture),
		transition.WithPublisher(e.bus),
		transition.WithLogger(e.logger.With("component", "transition")),
	)

	resetOpts := []reset.Option{
		reset.WithGate(g),
		reset.WithActors(e.actors),
		reset.WithSpawner(e.spawner),
		reset.WithActiveScene(e.activeScene),
		reset.WithTrigger(e.transit.IsActive, e.resetOn...),
		reset.WithGuard(e.timing.ResetGuard, e.timing.GuardCapacity),
		reset.WithDegraded(e.posture),
		reset.WithPublisher(e.bus),
		reset.WithLogger(e.logger.With("component", "reset")),
	}
	if e.essential != nil {
		resetOpts = append(resetOpts, reset.WithEssentialRoles(e.essential...))
	}
	e.resets = reset.NewOrchestrator(resetOpts...)

	// The reset trigger subscribes before the session so a gameplay transition admits
	// its reset before the session reacts to the same ScenesReady.
	e.detach = append(e.detach,
		e.resets.Attach(e.bus),
		e.machine.Attach(e.bus),
		event.On(e.bus, domain.EventTransitionScenesReady, e.onScenesReady).Cancel,
	)
	return e, nil
}

func (e *Engine) activeScene() string {
	if e.loader == nil {
		return ""
	}
	return e.loader.ActiveScene()
}

func (e *Engine) onScenesReady(ev domain.TransitionEvent) {
	if ev.Context.Request.Profile != domain.ProfileGameplay {
		return
	}
	if !e.transit.IsActive(ev.Signature()) {
		e.logger.Warn("ScenesReady for inactive transition dropped", "signature", ev.Signature())
		return
	}
	if err := e.machine.EnterGameplay(context.Background(), ev.Context); err != nil {
		e.logger.Error("Failed to enter gameplay", "signature", ev.Signature(), "err", err)
	}
}

// Bus returns the event bus every component publishes on.
func (e *Engine) Bus() *event.Bus { return e.bus }

// Timing returns the windows and capacities the pipelines were built with.
func (e *Engine) Timing() Timing { return e.timing }

// Mode returns the engine posture.
func (e *Engine) Mode() domain.Mode { return e.mode }

// State returns the current session state.
func (e *Engine) State() domain.SessionState { return e.machine.State() }

// CanSimulate reports whether gameplay simulation may advance.
func (e *Engine) CanSimulate() bool { return e.machine.CanSimulate() }

// RegisterParticipant adds a world reset participant.
func (e *Engine) RegisterParticipant(p ports.ResetParticipant) (unregister func()) {
	return e.resets.Register(p)
}

// Close detaches the engine from the bus and waits for background work.
func (e *Engine) Close() {
	for _, d := range e.detach {
		d()
	}
	e.detach = nil
	e.machine.Close()
	e.resets.Close()
}

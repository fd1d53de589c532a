package transition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aretw0/sessionflow/internal/logging"
	"github.com/aretw0/sessionflow/pkg/degraded"
	"github.com/aretw0/sessionflow/pkg/domain"
	"github.com/aretw0/sessionflow/pkg/event"
	"github.com/aretw0/sessionflow/pkg/ports"
)

const (
	DefaultDedupWindow   = 250 * time.Millisecond
	DefaultDedupCapacity = 256
	DefaultResetPoll     = 50 * time.Millisecond
	DefaultResetTimeout  = 5 * time.Second
)

// DefaultInputModes maps each profile to the input context applied on completion.
var DefaultInputModes = map[domain.Profile]string{
	domain.ProfileStartup:  "ui",
	domain.ProfileFrontend: "ui",
	domain.ProfileGameplay: "gameplay",
}

// Result describes how a transition request was handled.
type Result struct {
	Context domain.TransitionContext

	// Coalesced is set when the request joined an identical in-flight transition.
	Coalesced bool
	// Duplicate is set when the request repeated a transition that just completed.
	Duplicate bool

	ResetWaited   bool
	ResetTimedOut bool

	// Skipped lists the optional features that were skipped.
	Skipped []string
	Elapsed time.Duration
}

type flight struct {
	tc     domain.TransitionContext
	done   chan struct{}
	result Result
	err    error
}

// Orchestrator runs scene transitions. At most one transition is active at a time.
type Orchestrator struct {
	gate   ports.SimulationGate
	loader ports.SceneLoader
	fade   ports.FadeService
	hud    ports.HUDService
	input  ports.InputModeService

	inputModes map[domain.Profile]string

	resetBus     *event.Bus
	resetProfile map[domain.Profile]bool
	resetPoll    time.Duration
	resetTimeout time.Duration

	dedupWindow   time.Duration
	dedupCapacity int
	recent        *expirable.LRU[domain.Signature, Result]

	active atomic.Pointer[flight]

	posture   *degraded.Policy
	publisher event.Publisher
	logger    *slog.Logger
}

// Option configures the Orchestrator.
type Option func(*Orchestrator)

// WithGate sets the simulation gate. Without one the SceneTransition token is not held.
func WithGate(g ports.SimulationGate) Option {
	return func(o *Orchestrator) {
		o.gate = g
	}
}

// WithSceneLoader sets the collaborator that loads and unloads scenes.
func WithSceneLoader(l ports.SceneLoader) Option {
	return func(o *Orchestrator) {
		o.loader = l
	}
}

// WithFade sets the optional fade service.
func WithFade(f ports.FadeService) Option {
	return func(o *Orchestrator) {
		o.fade = f
	}
}

// WithHUD sets the optional loading HUD.
func WithHUD(h ports.HUDService) Option {
	return func(o *Orchestrator) {
		o.hud = h
	}
}

// WithInputMode sets the optional input-mode service and the per-profile modes it applies.
// A nil modes map keeps DefaultInputModes.
func WithInputMode(s ports.InputModeService, modes map[domain.Profile]string) Option {
	return func(o *Orchestrator) {
		o.input = s
		if modes != nil {
			o.inputModes = modes
		}
	}
}

// WithResetBarrier makes transitions of the given profiles wait, between ScenesReady and
// BeforeFadeOut, for the WorldResetCompleted event carrying their signature. The wait is
// polled every poll interval and gives up after timeout.
func WithResetBarrier(bus *event.Bus, poll, timeout time.Duration, profiles ...domain.Profile) Option {
	return func(o *Orchestrator) {
		o.resetBus = bus
		if poll > 0 {
			o.resetPoll = poll
		}
		if timeout > 0 {
			o.resetTimeout = timeout
		}
		if len(profiles) == 0 {
			profiles = []domain.Profile{domain.ProfileGameplay}
		}
		o.resetProfile = make(map[domain.Profile]bool, len(profiles))
		for _, p := range profiles {
			o.resetProfile[p] = true
		}
	}
}

// WithDedup configures the window during which a completed signature is treated as a
// duplicate.
func WithDedup(window time.Duration, capacity int) Option {
	return func(o *Orchestrator) {
		o.dedupWindow = window
		if capacity > 0 {
			o.dedupCapacity = capacity
		}
	}
}

// WithDegraded sets the degraded-mode policy.
func WithDegraded(p *degraded.Policy) Option {
	return func(o *Orchestrator) {
		o.posture = p
	}
}

// WithPublisher sets where phase events go.
func WithPublisher(pub event.Publisher) Option {
	return func(o *Orchestrator) {
		o.publisher = pub
	}
}

// WithLogger configures the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// NewOrchestrator creates an idle orchestrator.
func NewOrchestrator(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		inputModes:    DefaultInputModes,
		resetPoll:     DefaultResetPoll,
		resetTimeout:  DefaultResetTimeout,
		dedupWindow:   DefaultDedupWindow,
		dedupCapacity: DefaultDedupCapacity,
		publisher:     event.Nop{},
		logger:        logging.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.posture == nil {
		o.posture = degraded.NewPolicy(domain.ModeRelease, degraded.WithLogger(o.logger), degraded.WithPublisher(o.publisher))
	}
	if o.dedupWindow > 0 {
		o.recent = expirable.NewLRU[domain.Signature, Result](o.dedupCapacity, nil, o.dedupWindow)
	}
	return o
}

// ActiveSignature returns the signature of the transition in flight, if any.
func (o *Orchestrator) ActiveSignature() (domain.Signature, bool) {
	f := o.active.Load()
	if f == nil {
		return "", false
	}
	return f.tc.Signature, true
}

// IsActive reports whether sig is the transition currently in flight. Phase listeners use
// it to drop events of stale transitions.
func (o *Orchestrator) IsActive(sig domain.Signature) bool {
	active, ok := o.ActiveSignature()
	return ok && active == sig
}

// RequestTransition runs the transition pipeline for req and returns once Completed has
// been published. An identical in-flight request waits for that transition and returns
// its result marked Coalesced. A different request while one is in flight fails with
// domain.ErrTransitionBusy.
func (o *Orchestrator) RequestTransition(ctx context.Context, req domain.TransitionRequest) (Result, error) {
	req = req.Clone()
	tc := domain.TransitionContext{Signature: Signature(req), Request: req}

	f := &flight{tc: tc, done: make(chan struct{})}
	for {
		if prev, ok := o.recentResult(tc.Signature); ok {
			o.logger.Debug("Duplicate transition request ignored", "signature", tc.Signature, "requester", req.RequesterID)
			return prev, nil
		}
		if o.active.CompareAndSwap(nil, f) {
			break
		}
		cur := o.active.Load()
		if cur == nil {
			continue
		}
		if cur.tc.Signature != tc.Signature {
			return Result{Context: tc}, fmt.Errorf("%w: %s is in flight", domain.ErrTransitionBusy, cur.tc.Signature)
		}
		o.logger.Warn("Transition already in flight, coalescing", "signature", tc.Signature, "requester", req.RequesterID)
		select {
		case <-cur.done:
		case <-ctx.Done():
			return Result{Context: tc, Coalesced: true}, ctx.Err()
		}
		res := cur.result
		res.Coalesced = true
		return res, cur.err
	}

	res, err := o.run(ctx, tc)
	f.result, f.err = res, err
	if err == nil && o.recent != nil {
		o.recent.Add(tc.Signature, res)
	}
	o.active.Store(nil)
	close(f.done)
	return res, err
}

func (o *Orchestrator) recentResult(sig domain.Signature) (Result, bool) {
	if o.recent == nil {
		return Result{}, false
	}
	prev, ok := o.recent.Get(sig)
	if !ok {
		return Result{}, false
	}
	prev.Duplicate = true
	prev.Coalesced = false
	return prev, true
}

func (o *Orchestrator) run(ctx context.Context, tc domain.TransitionContext) (res Result, err error) {
	start := time.Now()
	res.Context = tc
	req := tc.Request
	log := o.logger.With("signature", tc.Signature, "profile", req.Profile)

	ctx, span := tracer.Start(ctx, "scene transition", trace.WithAttributes(
		attribute.String("transition.signature", string(tc.Signature)),
		attribute.String("transition.profile", string(req.Profile)),
		attribute.StringSlice("transition.load", req.ScenesToLoad),
		attribute.StringSlice("transition.unload", req.ScenesToUnload),
	))
	defer func() {
		res.Elapsed = time.Since(start)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	// 1. Started
	held := false
	release := func() {
		if held {
			held = false
			o.gate.Release(domain.TokenSceneTransition)
		}
	}
	defer release()
	if o.gate == nil {
		if err := o.posture.Missing(ctx, domain.FeatureGate, "transition without a simulation gate"); err != nil {
			return res, err
		}
	} else {
		o.gate.Acquire(domain.TokenSceneTransition)
		held = true
	}
	log.Info("Transition started", "requester", req.RequesterID)
	o.showHUD(ctx, &res, domain.PhaseStarted)
	o.emit(domain.PhaseStarted, tc)

	// 2. FadeInCompleted
	if req.UseFade {
		o.runFade(ctx, &res, true)
	}
	o.emit(domain.PhaseFadeInCompleted, tc)

	// 3. ScenesReady
	if err := o.swapScenes(ctx, req); err != nil {
		log.Error("Scene swap failed", "err", err)
		if req.UseFade {
			o.runFade(context.WithoutCancel(ctx), &res, false)
		}
		release()
		o.hideHUD(domain.PhaseCompleted, tc.Signature)
		o.emit(domain.PhaseCompleted, tc)
		return res, err
	}
	waitReset := o.resetBus != nil && o.resetProfile[req.Profile]
	var arrived atomic.Bool
	if waitReset {
		sub := event.On(o.resetBus, domain.EventWorldResetCompleted, func(e domain.WorldResetCompleted) {
			if e.Signature == tc.Signature {
				arrived.Store(true)
			}
		})
		defer sub.Cancel()
	}
	o.emit(domain.PhaseScenesReady, tc)

	// 4. BeforeFadeOut, after the reset barrier
	var cancelled error
	if waitReset {
		res.ResetWaited = true
		switch werr := o.awaitReset(ctx, &arrived); {
		case werr == nil:
		case errors.Is(werr, domain.ErrTimeout):
			res.ResetTimedOut = true
			log.Warn("World reset did not complete in time", "timeout", o.resetTimeout)
			o.posture.Timeout(ctx, domain.FeatureResetWait,
				fmt.Sprintf("no world reset completion for %s within %s", tc.Signature, o.resetTimeout))
		default:
			// The caller gave up; the pipeline still finishes so the gate reopens.
			log.Warn("Reset wait cancelled", "err", werr)
			cancelled = fmt.Errorf("waiting for world reset: %w", werr)
			ctx = context.WithoutCancel(ctx)
		}
	}
	o.emit(domain.PhaseBeforeFadeOut, tc)

	// 5. Fade out
	if req.UseFade {
		o.runFade(ctx, &res, false)
	}

	// 6. Completed
	release()
	o.applyInputMode(ctx, &res, req.Profile)
	o.hideHUD(domain.PhaseCompleted, tc.Signature)
	o.emit(domain.PhaseCompleted, tc)
	log.Info("Transition completed", "skipped", res.Skipped, "reset_timed_out", res.ResetTimedOut)
	return res, cancelled
}

func (o *Orchestrator) emit(phase domain.TransitionPhase, tc domain.TransitionContext) {
	o.publisher.Publish(domain.NewTransitionEvent(phase, tc))
}

func (o *Orchestrator) swapScenes(ctx context.Context, req domain.TransitionRequest) error {
	if o.loader == nil {
		return o.posture.Missing(ctx, domain.FeatureSceneLoader, "no scene loader, scene swap skipped")
	}
	for _, name := range req.ScenesToUnload {
		if err := o.loader.UnloadScene(ctx, name); err != nil {
			return fmt.Errorf("unload scene %q: %w", name, err)
		}
	}
	for _, name := range req.ScenesToLoad {
		if err := o.loader.LoadScene(ctx, name); err != nil {
			return fmt.Errorf("load scene %q: %w", name, err)
		}
	}
	if req.TargetActiveScene != "" {
		if err := o.loader.SetActiveScene(ctx, req.TargetActiveScene); err != nil {
			return fmt.Errorf("activate scene %q: %w", req.TargetActiveScene, err)
		}
	}
	return nil
}

// awaitReset polls until the reset completion arrived. It returns domain.ErrTimeout
// once the timeout elapsed and the context error when ctx is done first.
func (o *Orchestrator) awaitReset(ctx context.Context, arrived *atomic.Bool) error {
	if arrived.Load() {
		return nil
	}
	ticker := time.NewTicker(o.resetPoll)
	defer ticker.Stop()
	deadline := time.Now().Add(o.resetTimeout)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if arrived.Load() {
				return nil
			}
			if time.Now().After(deadline) {
				return domain.ErrTimeout
			}
		}
	}
}

func (o *Orchestrator) skip(ctx context.Context, res *Result, feature, reason, detail string) {
	res.Skipped = append(res.Skipped, feature)
	o.posture.Report(ctx, feature, reason, detail)
}

func (o *Orchestrator) runFade(ctx context.Context, res *Result, in bool) {
	if o.fade == nil {
		if !in {
			return
		}
		o.skip(ctx, res, domain.FeatureFade, degraded.ReasonMissingDependency, "fade requested without a fade service")
		return
	}
	var err error
	if in {
		err = o.fade.FadeIn(ctx)
	} else {
		err = o.fade.FadeOut(ctx)
	}
	if err != nil {
		o.skip(ctx, res, domain.FeatureFade, degraded.ReasonFailure, err.Error())
	}
}

func (o *Orchestrator) showHUD(ctx context.Context, res *Result, phase domain.TransitionPhase) {
	if o.hud == nil {
		o.skip(ctx, res, domain.FeatureHUD, degraded.ReasonMissingDependency, "no loading HUD")
		return
	}
	o.hud.Show(res.Context.Signature, phase)
}

func (o *Orchestrator) hideHUD(phase domain.TransitionPhase, sig domain.Signature) {
	if o.hud != nil {
		o.hud.Hide(sig, phase)
	}
}

func (o *Orchestrator) applyInputMode(ctx context.Context, res *Result, profile domain.Profile) {
	mode, ok := o.inputModes[profile]
	if !ok {
		return
	}
	if o.input == nil {
		o.skip(ctx, res, domain.FeatureInputMode, degraded.ReasonMissingDependency, "no input mode service, "+mode+" not applied")
		return
	}
	if err := o.input.Apply(ctx, mode); err != nil {
		o.skip(ctx, res, domain.FeatureInputMode, degraded.ReasonFailure, err.Error())
	}
}

package reset

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
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
	DefaultGuardWindow   = 500 * time.Millisecond
	DefaultGuardCapacity = 256

	// ReasonScenesReady is the reason of resets triggered by a transition.
	ReasonScenesReady = "scenes_ready"
)

type registration struct {
	seq int
	p   ports.ResetParticipant
}

// Orchestrator runs world resets.
type Orchestrator struct {
	mu           sync.Mutex
	participants []registration
	seq          int
	inFlight     map[domain.Signature]bool
	completed    *expirable.LRU[domain.Signature, Result]

	serial atomic.Uint64
	tasks  sync.WaitGroup

	registry  ports.ActorRegistry
	spawner   ports.SpawnRegistry
	gate      ports.SimulationGate
	scene     func() string
	frame     func() uint64
	essential []domain.ActorKind

	triggerProfiles map[domain.Profile]bool
	isActive        func(domain.Signature) bool

	guardWindow   time.Duration
	guardCapacity int

	posture   *degraded.Policy
	publisher event.Publisher
	logger    *slog.Logger
}

// Option configures the Orchestrator.
type Option func(*Orchestrator)

// WithActors sets the registry used to resolve reset targets.
func WithActors(r ports.ActorRegistry) Option {
	return func(o *Orchestrator) {
		o.registry = r
	}
}

// WithSpawner sets the registry used to restore essential actors.
func WithSpawner(s ports.SpawnRegistry) Option {
	return func(o *Orchestrator) {
		o.spawner = s
	}
}

// WithEssentialRoles sets the roles that must exist after a full-scene reset.
func WithEssentialRoles(roles ...domain.ActorKind) Option {
	return func(o *Orchestrator) {
		o.essential = roles
	}
}

// WithGate sets the gate on which the WorldReset token is held while a reset runs.
func WithGate(g ports.SimulationGate) Option {
	return func(o *Orchestrator) {
		o.gate = g
	}
}

// WithActiveScene sets the source of the scene used when a request names none.
func WithActiveScene(fn func() string) Option {
	return func(o *Orchestrator) {
		o.scene = fn
	}
}

// WithFrameSource sets the frame counter stamped on reset contexts.
func WithFrameSource(fn func() uint64) Option {
	return func(o *Orchestrator) {
		o.frame = fn
	}
}

// WithTrigger selects the transition profiles whose ScenesReady phase triggers a reset
// once the orchestrator is attached to a bus. isActive, when set, filters out phase
// events of transitions that are no longer in flight.
func WithTrigger(isActive func(domain.Signature) bool, profiles ...domain.Profile) Option {
	return func(o *Orchestrator) {
		o.isActive = isActive
		if len(profiles) == 0 {
			return
		}
		o.triggerProfiles = make(map[domain.Profile]bool, len(profiles))
		for _, p := range profiles {
			o.triggerProfiles[p] = true
		}
	}
}

// WithGuard configures the duplicate-guard window.
func WithGuard(window time.Duration, capacity int) Option {
	return func(o *Orchestrator) {
		o.guardWindow = window
		if capacity > 0 {
			o.guardCapacity = capacity
		}
	}
}

// WithDegraded sets the degraded-mode policy.
func WithDegraded(p *degraded.Policy) Option {
	return func(o *Orchestrator) {
		o.posture = p
	}
}

// WithPublisher sets where reset events go.
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

// NewOrchestrator creates an orchestrator with no participants.
func NewOrchestrator(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		inFlight:        make(map[domain.Signature]bool),
		essential:       []domain.ActorKind{domain.KindPlayer},
		triggerProfiles: map[domain.Profile]bool{domain.ProfileGameplay: true},
		guardWindow:     DefaultGuardWindow,
		guardCapacity:   DefaultGuardCapacity,
		publisher:       event.Nop{},
		logger:          logging.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.posture == nil {
		o.posture = degraded.NewPolicy(domain.ModeRelease, degraded.WithLogger(o.logger), degraded.WithPublisher(o.publisher))
	}
	if o.guardWindow > 0 {
		o.completed = expirable.NewLRU[domain.Signature, Result](o.guardCapacity, nil, o.guardWindow)
	}
	return o
}

// Register adds a participant. The returned function removes it again.
func (o *Orchestrator) Register(p ports.ResetParticipant) (unregister func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seq++
	seq := o.seq
	o.participants = append(o.participants, registration{seq: seq, p: p})
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		o.participants = slices.DeleteFunc(o.participants, func(r registration) bool { return r.seq == seq })
	}
}

// Participants returns the names of the registered participants in run order.
func (o *Orchestrator) Participants() []string {
	o.mu.Lock()
	regs := slices.Clone(o.participants)
	o.mu.Unlock()
	sortRegistrations(regs)
	names := make([]string, len(regs))
	for i, r := range regs {
		names[i] = r.p.ParticipantName()
	}
	return names
}

// Serial returns the serial number of the last accepted reset.
func (o *Orchestrator) Serial() uint64 { return o.serial.Load() }

// RequestSignature derives the signature of a request that carries none.
func RequestSignature(req domain.ResetRequest) domain.Signature {
	ids := slices.Clone(req.ActorIDs)
	slices.Sort(ids)
	key := strings.Join([]string{
		string(req.Scope), req.Reason, string(req.Kind), req.Scene,
		strconv.Itoa(len(ids)), strings.Join(ids, "\x00"),
	}, "\x1f")
	return domain.Signature(fmt.Sprintf("reset:%s#%016x", req.Scope, xxhash.Sum64String(key)))
}

// TriggerReset admits a reset request and runs it in the background. Admission is
// synchronous: a duplicate or re-entrant request returns an already finished Task. A
// guarded duplicate still publishes a WorldResetCompleted (Guarded set) so a transition
// waiting on the signature is released; a re-entrant one leaves that to the running reset.
func (o *Orchestrator) TriggerReset(ctx context.Context, req domain.ResetRequest) *Task {
	req = req.Clone()
	if req.Scope == "" {
		req.Scope = domain.ScopeAllActorsInScene
	}
	sig := req.Signature
	if sig == "" {
		sig = RequestSignature(req)
		req.Signature = sig
	}

	o.mu.Lock()
	if o.inFlight[sig] {
		o.mu.Unlock()
		o.logger.Warn("Reset already in flight, request rejected", "signature", sig, "reason", req.Reason)
		return resolvedTask(Result{Signature: sig, Request: req, InFlight: true})
	}
	if o.completed != nil {
		if prev, ok := o.completed.Get(sig); ok {
			o.mu.Unlock()
			o.logger.Info("Duplicate reset guarded", "signature", sig, "reason", req.Reason, "serial", prev.Serial)
			o.publisher.Publish(domain.NewWorldResetGuarded(sig, req.Reason, prev.Serial))
			return resolvedTask(Result{Signature: sig, Request: req, Serial: prev.Serial, Guarded: true})
		}
	}
	o.inFlight[sig] = true
	o.mu.Unlock()

	task := newTask()
	o.tasks.Add(1)
	go func() {
		defer o.tasks.Done()
		res, err := o.run(context.WithoutCancel(ctx), req)
		task.finish(res, err)
	}()
	return task
}

// settle moves a signature from the in-flight set to the guard cache. It runs before
// WorldResetCompleted is published, so a request seen after the event is guarded rather
// than rejected as in flight.
func (o *Orchestrator) settle(sig domain.Signature, res Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inFlight, sig)
	if o.completed != nil {
		o.completed.Add(sig, res)
	}
}

// Reset triggers a reset and waits for it.
func (o *Orchestrator) Reset(ctx context.Context, req domain.ResetRequest) (Result, error) {
	return o.TriggerReset(ctx, req).Wait(ctx)
}

func (o *Orchestrator) run(ctx context.Context, req domain.ResetRequest) (res Result, err error) {
	start := time.Now()
	res = Result{Signature: req.Signature, Request: req}

	scene := req.Scene
	if scene == "" && o.scene != nil {
		scene = o.scene()
	}
	serial := o.serial.Add(1)
	res.Serial = serial
	log := o.logger.With("signature", req.Signature, "serial", serial, "scope", req.Scope)

	ctx, span := tracer.Start(ctx, "world reset", trace.WithAttributes(
		attribute.String("reset.signature", string(req.Signature)),
		attribute.String("reset.scope", string(req.Scope)),
		attribute.Int64("reset.serial", int64(serial)),
	))

	var failure string
	defer func() {
		res.Elapsed = time.Since(start)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			failure = err.Error()
		}
		span.End()
		log.Info("World reset completed", "failures", len(res.Failures), "elapsed", res.Elapsed)
		o.settle(req.Signature, res)
		o.publisher.Publish(domain.NewWorldResetCompleted(req.Signature, req.Reason, serial, failure))
	}()

	log.Info("World reset started", "reason", req.Reason, "scene", scene)
	o.publisher.Publish(domain.NewWorldResetStarted(req.Signature, req.Reason, serial, scene))

	if o.gate == nil {
		if err := o.posture.Missing(ctx, domain.FeatureGate, "world reset without a simulation gate"); err != nil {
			return res, err
		}
	} else {
		o.gate.Acquire(domain.TokenWorldReset)
		defer o.gate.Release(domain.TokenWorldReset)
	}

	targets, err := o.resolveTargets(ctx, scene, req)
	if err != nil {
		return res, err
	}
	for _, a := range targets {
		res.Targets = append(res.Targets, a.ActorID())
	}

	regs := o.selectParticipants(req.Scope, targets)
	for _, r := range regs {
		res.Participants = append(res.Participants, r.p.ParticipantName())
	}
	if len(regs) == 0 {
		failure = "no reset participants"
		o.posture.Report(ctx, domain.FeatureResetRunner, degraded.ReasonFailure,
			fmt.Sprintf("%s resolved no participants for scope %s", req.Signature, req.Scope))
		return res, nil
	}

	rc := domain.ResetContext{
		Scene:     scene,
		Request:   req,
		Signature: req.Signature,
		Serial:    serial,
		StartedAt: start,
		Targets:   res.Targets,
	}
	if o.frame != nil {
		rc.Frame = o.frame()
	}

	for _, step := range domain.ResetSteps {
		failures := o.runPhase(ctx, rc.WithStep(step), regs)
		if len(failures) == 0 {
			continue
		}
		res.Failures = append(res.Failures, failures...)
		perr := &domain.PhaseError{Step: step, Failures: failures}
		if o.posture.Strict() {
			log.Error("Reset phase failed", "step", step, "err", perr)
			return res, perr
		}
		log.Warn("Reset phase had failures", "step", step, "err", perr)
		failure = perr.Error()
	}

	if req.Scope == domain.ScopeAllActorsInScene {
		spawned, err := o.ensureEssential(ctx, scene)
		res.Spawned = spawned
		if err != nil {
			return res, err
		}
	}
	return res, nil
}

func sortRegistrations(regs []registration) {
	slices.SortStableFunc(regs, func(a, b registration) int {
		if c := cmp.Compare(a.p.ResetOrder(), b.p.ResetOrder()); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})
}

// selectParticipants returns the registered participants accepting scope plus the
// resolved targets that participate themselves, in run order.
func (o *Orchestrator) selectParticipants(scope domain.ResetScope, targets []ports.Actor) []registration {
	o.mu.Lock()
	regs := slices.Clone(o.participants)
	base := o.seq + 1
	o.mu.Unlock()

	regs = slices.DeleteFunc(regs, func(r registration) bool { return !r.p.ShouldParticipate(scope) })
	for i, a := range targets {
		p, ok := a.(ports.ResetParticipant)
		if !ok || !p.ShouldParticipate(scope) {
			continue
		}
		if slices.ContainsFunc(regs, func(r registration) bool { return r.p == p }) {
			continue
		}
		regs = append(regs, registration{seq: base + i, p: p})
	}
	sortRegistrations(regs)
	return regs
}

// runPhase runs one step in batches of equal ResetOrder. Within a batch participants
// run concurrently; panics are captured per participant.
func (o *Orchestrator) runPhase(ctx context.Context, rc domain.ResetContext, regs []registration) []*domain.ParticipantError {
	ctx, span := tracer.Start(ctx, "reset "+string(rc.Step), trace.WithAttributes(
		attribute.String("reset.signature", string(rc.Signature)),
		attribute.Int("reset.participants", len(regs)),
	))
	defer span.End()

	var (
		mu       sync.Mutex
		failures []*domain.ParticipantError
	)
	for batch := range batches(regs) {
		var wg conc.WaitGroup
		for _, r := range batch {
			wg.Go(func() {
				err := o.call(ctx, rc, r.p)
				if err == nil {
					return
				}
				pe := &domain.ParticipantError{Participant: r.p.ParticipantName(), Step: rc.Step, Err: err}
				o.logger.Error("Reset participant failed",
					"participant", pe.Participant,
					"step", rc.Step,
					"signature", rc.Signature,
					"err", err,
				)
				mu.Lock()
				failures = append(failures, pe)
				mu.Unlock()
			})
		}
		wg.Wait()
	}
	slices.SortStableFunc(failures, func(a, b *domain.ParticipantError) int {
		return cmp.Compare(indexOf(regs, a.Participant), indexOf(regs, b.Participant))
	})
	if len(failures) > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d participant(s) failed", len(failures)))
	}
	return failures
}

func indexOf(regs []registration, name string) int {
	return slices.IndexFunc(regs, func(r registration) bool { return r.p.ParticipantName() == name })
}

func (o *Orchestrator) call(ctx context.Context, rc domain.ResetContext, p ports.ResetParticipant) (err error) {
	var pc panics.Catcher
	pc.Try(func() {
		switch rc.Step {
		case domain.StepCleanup:
			err = p.Cleanup(ctx, rc)
		case domain.StepRestore:
			err = p.Restore(ctx, rc)
		case domain.StepRebind:
			err = p.Rebind(ctx, rc)
		}
	})
	if r := pc.Recovered(); r != nil {
		return r.AsError()
	}
	return err
}

// batches yields consecutive runs of participants sharing a ResetOrder.
func batches(regs []registration) func(yield func([]registration) bool) {
	return func(yield func([]registration) bool) {
		for start := 0; start < len(regs); {
			end := start + 1
			for end < len(regs) && regs[end].p.ResetOrder() == regs[start].p.ResetOrder() {
				end++
			}
			if !yield(regs[start:end]) {
				return
			}
			start = end
		}
	}
}

// ensureEssential spawns every essential role missing from scene.
func (o *Orchestrator) ensureEssential(ctx context.Context, scene string) ([]domain.ActorKind, error) {
	if len(o.essential) == 0 || o.registry == nil {
		return nil, nil
	}
	present := make(map[domain.ActorKind]bool)
	for _, a := range o.registry.Actors(scene) {
		present[Classify(a).Kind] = true
	}
	var spawned []domain.ActorKind
	for _, role := range o.essential {
		if present[role] {
			continue
		}
		if o.spawner == nil {
			if err := o.posture.Missing(ctx, domain.FeatureSpawn, fmt.Sprintf("essential %s missing in %q and no spawner", role, scene)); err != nil {
				return spawned, err
			}
			continue
		}
		if err := o.spawner.Spawn(ctx, scene, role); err != nil {
			return spawned, fmt.Errorf("spawn essential %s: %w", role, err)
		}
		o.logger.Info("Essential actor spawned", "role", role, "scene", scene)
		spawned = append(spawned, role)
	}
	return spawned, nil
}

// Attach subscribes the orchestrator to ScenesReady phases on bus.
func (o *Orchestrator) Attach(bus *event.Bus) (detach func()) {
	sub := event.On(bus, domain.EventTransitionScenesReady, func(e domain.TransitionEvent) {
		o.onScenesReady(e.Context)
	})
	return sub.Cancel
}

func (o *Orchestrator) onScenesReady(tc domain.TransitionContext) {
	if !o.triggerProfiles[tc.Request.Profile] {
		return
	}
	if o.isActive != nil && !o.isActive(tc.Signature) {
		o.logger.Warn("ScenesReady for inactive transition dropped", "signature", tc.Signature)
		return
	}
	o.TriggerReset(context.Background(), domain.ResetRequest{
		Scope:     domain.ScopeAllActorsInScene,
		Reason:    ReasonScenesReady,
		Scene:     tc.Request.TargetActiveScene,
		Signature: tc.Signature,
	})
}

// Close waits for running resets to finish.
func (o *Orchestrator) Close() {
	o.tasks.Wait()
}

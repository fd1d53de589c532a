package reset_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/sessionflow/internal/testutils"
	"github.com/aretw0/sessionflow/pkg/adapters/memory"
	"github.com/aretw0/sessionflow/pkg/degraded"
	"github.com/aretw0/sessionflow/pkg/domain"
	"github.com/aretw0/sessionflow/pkg/event"
	"github.com/aretw0/sessionflow/pkg/gate"
	"github.com/aretw0/sessionflow/pkg/ports"
	"github.com/aretw0/sessionflow/pkg/reset"
	"github.com/aretw0/sessionflow/pkg/transition"
)

type rig struct {
	bus     *event.Bus
	gate    *gate.Gate
	world   *memory.World
	reports *degraded.Recorder
	rec     *testutils.Recorder
	log     *testutils.CallLog
	orch    *reset.Orchestrator
}

func newRig(t *testing.T, mode domain.Mode, opts ...reset.Option) *rig {
	t.Helper()
	bus := event.NewBus()
	r := &rig{
		bus:     bus,
		gate:    gate.New(gate.WithPublisher(bus)),
		world:   memory.NewWorld(),
		reports: degraded.NewRecorder(0),
		rec:     testutils.NewRecorder(t, bus),
		log:     &testutils.CallLog{},
	}
	r.world.Add("Arena",
		&memory.Actor{ID: "player-1", Kind: domain.KindPlayer},
		&memory.Actor{ID: "npc-1", Kind: domain.KindNPC},
	)
	base := []reset.Option{
		reset.WithGate(r.gate),
		reset.WithActors(r.world),
		reset.WithSpawner(r.world),
		reset.WithActiveScene(func() string { return "Arena" }),
		reset.WithPublisher(bus),
		reset.WithDegraded(degraded.NewPolicy(mode, degraded.WithReporter(r.reports))),
	}
	r.orch = reset.NewOrchestrator(append(base, opts...)...)
	t.Cleanup(r.orch.Close)
	return r
}

func (r *rig) participant(name string, order int) *testutils.Participant {
	p := &testutils.Participant{Name: name, Order: order, Log: r.log}
	r.orch.Register(p)
	return p
}

func full(sig domain.Signature) domain.ResetRequest {
	return domain.ResetRequest{Scope: domain.ScopeAllActorsInScene, Reason: "test", Signature: sig}
}

func phaseOf(call string) string {
	return call[strings.LastIndex(call, ":")+1:]
}

func TestOrchestrator_PhasesRunInOrder(t *testing.T) {
	r := newRig(t, domain.ModeStrict)
	r.participant("late", 10)
	r.participant("early-a", 0)
	r.participant("early-b", 0)

	res, err := r.orch.Reset(context.Background(), full("sig-1"))
	require.NoError(t, err)

	calls := r.log.Calls()
	require.Len(t, calls, 9)
	for i, step := range domain.ResetSteps {
		batch := calls[i*3 : i*3+3]
		for _, c := range batch {
			assert.Equal(t, string(step), phaseOf(c))
		}
		assert.ElementsMatch(t, []string{"early-a:" + string(step), "early-b:" + string(step)}, batch[:2])
		assert.Equal(t, "late:"+string(step), batch[2])
	}
	assert.Equal(t, []string{"early-a", "early-b", "late"}, res.Participants)
	assert.Equal(t, []string{"early-a", "early-b", "late"}, r.orch.Participants())
	assert.Equal(t, []string{domain.EventWorldResetStarted, domain.EventWorldResetCompleted},
		r.rec.Types(domain.EventWorldResetStarted, domain.EventWorldResetCompleted))
}

func TestOrchestrator_ContextIsSharedAcrossParticipants(t *testing.T) {
	r := newRig(t, domain.ModeStrict, reset.WithFrameSource(func() uint64 { return 42 }))
	r.participant("a", 0)
	r.participant("b", 1)

	res, err := r.orch.Reset(context.Background(), full("sig-ctx"))
	require.NoError(t, err)

	for _, rc := range r.log.Contexts() {
		assert.Equal(t, domain.Signature("sig-ctx"), rc.Signature)
		assert.Equal(t, res.Serial, rc.Serial)
		assert.Equal(t, uint64(42), rc.Frame)
		assert.Equal(t, "Arena", rc.Scene)
		assert.ElementsMatch(t, []string{"player-1", "npc-1"}, rc.Targets)
	}
}

func TestOrchestrator_DuplicateScenesReady(t *testing.T) {
	r := newRig(t, domain.ModeRelease)
	r.participant("world", 0)
	detach := r.orch.Attach(r.bus)
	defer detach()

	tc := domain.TransitionContext{
		Signature: "gameplay:Arena#00000000000000aa",
		Request:   domain.TransitionRequest{TargetActiveScene: "Arena", Profile: domain.ProfileGameplay},
	}
	r.bus.Publish(domain.NewTransitionEvent(domain.PhaseScenesReady, tc))
	r.bus.Publish(domain.NewTransitionEvent(domain.PhaseScenesReady, tc))

	r.rec.WaitFor(t, domain.EventWorldResetCompleted, 1)
	r.bus.Publish(domain.NewTransitionEvent(domain.PhaseScenesReady, tc))
	r.orch.Close()

	// The in-flight duplicate publishes nothing; the one after completion is guarded.
	assert.Equal(t, 1, r.rec.Count(domain.EventWorldResetStarted))
	completed := testutils.Of[domain.WorldResetCompleted](r.rec)
	require.Len(t, completed, 2)
	assert.Equal(t, tc.Signature, completed[0].Signature)
	assert.Equal(t, reset.ReasonScenesReady, completed[0].Reason)
	assert.False(t, completed[0].Guarded)
	assert.Equal(t, tc.Signature, completed[1].Signature)
	assert.True(t, completed[1].Guarded)
	assert.Equal(t, completed[0].Serial, completed[1].Serial)
	assert.Equal(t, []string{"world:cleanup", "world:restore", "world:rebind"}, r.log.Calls())
}

func TestOrchestrator_GuardedResetReleasesTransitionBarrier(t *testing.T) {
	r := newRig(t, domain.ModeRelease, reset.WithGuard(time.Minute, 0))
	r.participant("world", 0)
	detach := r.orch.Attach(r.bus)
	defer detach()

	trans := transition.NewOrchestrator(
		transition.WithGate(r.gate),
		transition.WithSceneLoader(memory.NewSceneLoader("Menu")),
		transition.WithPublisher(r.bus),
		transition.WithResetBarrier(r.bus, 5*time.Millisecond, time.Second),
		transition.WithDedup(10*time.Millisecond, 0),
		transition.WithDegraded(degraded.NewPolicy(domain.ModeRelease, degraded.WithReporter(r.reports))),
	)
	req := domain.TransitionRequest{
		ScenesToLoad:      []string{"Arena"},
		TargetActiveScene: "Arena",
		Profile:           domain.ProfileGameplay,
	}
	ctx := context.Background()

	first, err := trans.RequestTransition(ctx, req)
	require.NoError(t, err)
	assert.True(t, first.ResetWaited)
	assert.False(t, first.ResetTimedOut)

	// Past the transition dedup window but inside the reset guard window.
	time.Sleep(30 * time.Millisecond)
	second, err := trans.RequestTransition(ctx, req)
	require.NoError(t, err)
	assert.False(t, second.Duplicate)
	assert.True(t, second.ResetWaited)
	assert.False(t, second.ResetTimedOut)
	assert.Less(t, second.Elapsed, 500*time.Millisecond)

	assert.Equal(t, 1, r.rec.Count(domain.EventWorldResetStarted))
	assert.Equal(t, 0, r.reports.Count(domain.FeatureResetWait))
	assert.True(t, r.gate.IsOpen())
}

func TestOrchestrator_GuardedAndInFlightResults(t *testing.T) {
	r := newRig(t, domain.ModeRelease)
	p := r.participant("slow", 0)
	p.Delay = 30 * time.Millisecond
	ctx := context.Background()

	first := r.orch.TriggerReset(ctx, full("sig-dup"))
	again, err := r.orch.TriggerReset(ctx, full("sig-dup")).Wait(ctx)
	require.NoError(t, err)
	assert.True(t, again.InFlight)
	assert.False(t, again.Ran())

	res, err := first.Wait(ctx)
	require.NoError(t, err)
	assert.True(t, res.Ran())

	guarded, err := r.orch.Reset(ctx, full("sig-dup"))
	require.NoError(t, err)
	assert.True(t, guarded.Guarded)
	assert.Equal(t, res.Serial, guarded.Serial)
}

func TestOrchestrator_GuardWindowExpires(t *testing.T) {
	r := newRig(t, domain.ModeRelease, reset.WithGuard(20*time.Millisecond, 0))
	r.participant("world", 0)
	ctx := context.Background()

	_, err := r.orch.Reset(ctx, full("sig-window"))
	require.NoError(t, err)
	time.Sleep(60 * time.Millisecond)
	res, err := r.orch.Reset(ctx, full("sig-window"))
	require.NoError(t, err)

	assert.True(t, res.Ran())
	assert.Equal(t, uint64(2), r.orch.Serial())
}

func TestOrchestrator_ReleaseContinuesPastFailures(t *testing.T) {
	r := newRig(t, domain.ModeRelease)
	broken := r.participant("broken", 0)
	broken.Fail = map[domain.ResetStep]error{domain.StepCleanup: errors.New("pool exhausted")}
	panicky := r.participant("panicky", 0)
	panicky.Panic = map[domain.ResetStep]bool{domain.StepRestore: true}
	r.participant("healthy", 0)

	res, err := r.orch.Reset(context.Background(), full("sig-fail"))
	require.NoError(t, err)

	require.Len(t, res.Failures, 2)
	assert.Equal(t, "broken", res.Failures[0].Participant)
	assert.Equal(t, domain.StepCleanup, res.Failures[0].Step)
	assert.Equal(t, "panicky", res.Failures[1].Participant)
	assert.Contains(t, res.Failures[1].Error(), "exploded")

	assert.Contains(t, r.log.Calls(), "healthy:rebind")
	completed := testutils.Of[domain.WorldResetCompleted](r.rec)
	require.Len(t, completed, 1)
	assert.True(t, completed[0].Failed)
	assert.True(t, r.gate.IsOpen())
}

func TestOrchestrator_StrictStopsAfterFailingPhase(t *testing.T) {
	r := newRig(t, domain.ModeStrict)
	broken := r.participant("broken", 0)
	broken.Fail = map[domain.ResetStep]error{domain.StepRestore: errors.New("save slot corrupt")}
	r.participant("sibling", 0)

	_, err := r.orch.Reset(context.Background(), full("sig-strict"))
	require.Error(t, err)

	var perr *domain.PhaseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, domain.StepRestore, perr.Step)
	assert.ErrorIs(t, err, domain.ErrParticipantFailure)

	calls := r.log.Calls()
	assert.Contains(t, calls, "sibling:restore")
	assert.NotContains(t, calls, "sibling:rebind")
	assert.Equal(t, 1, r.rec.Count(domain.EventWorldResetCompleted))
	assert.True(t, r.gate.IsOpen())
}

func TestOrchestrator_GateHeldDuringReset(t *testing.T) {
	r := newRig(t, domain.ModeStrict)
	held := make(chan bool, 1)
	r.orch.Register(tokenCheck{check: func() { held <- r.gate.IsTokenActive(domain.TokenWorldReset) }})

	_, err := r.orch.Reset(context.Background(), full("sig-gate"))
	require.NoError(t, err)
	assert.True(t, <-held)
	assert.True(t, r.gate.IsOpen())
}

type tokenCheck struct{ check func() }

func (tokenCheck) ParticipantName() string                  { return "gate-check" }
func (tokenCheck) ResetOrder() int                          { return 0 }
func (tokenCheck) ShouldParticipate(domain.ResetScope) bool { return true }
func (p tokenCheck) Cleanup(context.Context, domain.ResetContext) error {
	p.check()
	return nil
}
func (tokenCheck) Restore(context.Context, domain.ResetContext) error { return nil }
func (tokenCheck) Rebind(context.Context, domain.ResetContext) error  { return nil }

func TestOrchestrator_NoParticipantsStillCompletes(t *testing.T) {
	r := newRig(t, domain.ModeStrict)

	res, err := r.orch.Reset(context.Background(), full("sig-empty"))
	require.NoError(t, err)
	assert.Empty(t, res.Participants)

	completed := testutils.Of[domain.WorldResetCompleted](r.rec)
	require.Len(t, completed, 1)
	assert.True(t, completed[0].Failed)
	assert.Equal(t, 1, r.reports.Count(domain.FeatureResetRunner))
}

func TestOrchestrator_ScopeFilter(t *testing.T) {
	r := newRig(t, domain.ModeRelease)
	players := r.participant("players", 0)
	players.Scopes = []domain.ResetScope{domain.ScopePlayersOnly}
	r.participant("everyone", 0)

	res, err := r.orch.Reset(context.Background(), domain.ResetRequest{Scope: domain.ScopeEaterOnly, Reason: "qa"})
	require.NoError(t, err)
	assert.Equal(t, []string{"everyone"}, res.Participants)
}

func TestOrchestrator_TargetResolution(t *testing.T) {
	ctx := context.Background()

	t.Run("actor id set skips missing ids", func(t *testing.T) {
		r := newRig(t, domain.ModeStrict)
		r.participant("world", 0)
		res, err := r.orch.Reset(ctx, domain.ResetRequest{
			Scope:    domain.ScopeActorIDSet,
			ActorIDs: []string{"npc-1", "ghost"},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"npc-1"}, res.Targets)
	})

	t.Run("players only", func(t *testing.T) {
		r := newRig(t, domain.ModeStrict)
		r.participant("world", 0)
		res, err := r.orch.Reset(ctx, domain.ResetRequest{Scope: domain.ScopePlayersOnly})
		require.NoError(t, err)
		assert.Equal(t, []string{"player-1"}, res.Targets)
		assert.Zero(t, r.reports.Count(domain.FeatureClassifier))
	})

	t.Run("eater only uses fallback classification", func(t *testing.T) {
		r := newRig(t, domain.ModeRelease)
		r.participant("world", 0)
		r.world.Add("Arena",
			&memory.Actor{ID: "blob", Hint: domain.KindEater},
			&memory.Actor{ID: "EaterBoss"},
			&memory.Actor{ID: "eater-canon", Kind: domain.KindEater},
		)
		res, err := r.orch.Reset(ctx, domain.ResetRequest{Scope: domain.ScopeEaterOnly})
		require.NoError(t, err)
		assert.Equal(t, []string{"blob", "EaterBoss", "eater-canon"}, res.Targets)
		assert.Equal(t, 1, r.reports.Count(domain.FeatureClassifier))
	})

	t.Run("by kind requires a kind", func(t *testing.T) {
		r := newRig(t, domain.ModeRelease)
		r.participant("world", 0)
		_, err := r.orch.Reset(ctx, domain.ResetRequest{Scope: domain.ScopeByKind})
		assert.Error(t, err)
		assert.Equal(t, 1, r.rec.Count(domain.EventWorldResetCompleted))
	})
}

type participatingActor struct {
	*testutils.Participant
	id string
}

func (a participatingActor) ActorID() string             { return a.id }
func (a participatingActor) ActorKind() domain.ActorKind { return domain.KindNPC }

type fixedRegistry []ports.Actor

func (f fixedRegistry) Actors(string) []ports.Actor { return f }

func (f fixedRegistry) Lookup(_, id string) (ports.Actor, bool) {
	for _, a := range f {
		if a.ActorID() == id {
			return a, true
		}
	}
	return nil, false
}

func TestOrchestrator_TargetActorsParticipate(t *testing.T) {
	log := &testutils.CallLog{}
	brain := participatingActor{Participant: &testutils.Participant{Name: "npc-brain", Order: 5, Log: log}, id: "npc-2"}
	orch := reset.NewOrchestrator(
		reset.WithGate(gate.New()),
		reset.WithActors(fixedRegistry{brain, &memory.Actor{ID: "player-1", Kind: domain.KindPlayer}}),
		reset.WithEssentialRoles(),
	)
	defer orch.Close()
	orch.Register(&testutils.Participant{Name: "world", Log: log})

	res, err := orch.Reset(context.Background(), full("sig-actors"))
	require.NoError(t, err)
	assert.Equal(t, []string{"world", "npc-brain"}, res.Participants)
	assert.Contains(t, log.Calls(), "npc-brain:rebind")
}

func TestOrchestrator_EssentialRoles(t *testing.T) {
	ctx := context.Background()

	t.Run("spawns missing player", func(t *testing.T) {
		r := newRig(t, domain.ModeStrict)
		r.participant("world", 0)
		require.NoError(t, r.world.Despawn(ctx, "Arena", "player-1"))

		res, err := r.orch.Reset(ctx, full("sig-spawn"))
		require.NoError(t, err)
		assert.Equal(t, []domain.ActorKind{domain.KindPlayer}, res.Spawned)
		assert.Equal(t, 1, r.world.Spawned())
	})

	t.Run("partial scope does not spawn", func(t *testing.T) {
		r := newRig(t, domain.ModeStrict)
		r.participant("world", 0)
		require.NoError(t, r.world.Despawn(ctx, "Arena", "player-1"))

		res, err := r.orch.Reset(ctx, domain.ResetRequest{Scope: domain.ScopeActorIDSet, ActorIDs: []string{"npc-1"}})
		require.NoError(t, err)
		assert.Empty(t, res.Spawned)
	})
}

func TestOrchestrator_AttachFiltersTransitions(t *testing.T) {
	r := newRig(t, domain.ModeRelease, reset.WithTrigger(func(sig domain.Signature) bool {
		return sig == "gameplay:Arena#live"
	}))
	r.participant("world", 0)
	detach := r.orch.Attach(r.bus)
	defer detach()

	stale := domain.TransitionContext{Signature: "gameplay:Arena#stale", Request: domain.TransitionRequest{Profile: domain.ProfileGameplay}}
	menu := domain.TransitionContext{Signature: "frontend:Menu#live", Request: domain.TransitionRequest{Profile: domain.ProfileFrontend}}
	r.bus.Publish(domain.NewTransitionEvent(domain.PhaseScenesReady, stale))
	r.bus.Publish(domain.NewTransitionEvent(domain.PhaseScenesReady, menu))
	r.orch.Close()

	assert.Zero(t, r.rec.Count(domain.EventWorldResetStarted))
}

func TestRequestSignature(t *testing.T) {
	a := domain.ResetRequest{Scope: domain.ScopeActorIDSet, Reason: "qa", ActorIDs: []string{"b", "a"}}
	b := domain.ResetRequest{Scope: domain.ScopeActorIDSet, Reason: "qa", ActorIDs: []string{"a", "b"}}

	assert.Equal(t, reset.RequestSignature(a), reset.RequestSignature(b))
	assert.Regexp(t, `^reset:actor_id_set#[0-9a-f]{16}$`, string(reset.RequestSignature(a)))

	b.Reason = "other"
	assert.NotEqual(t, reset.RequestSignature(a), reset.RequestSignature(b))
}

func TestClassify(t *testing.T) {
	cases := []struct {
		actor  *memory.Actor
		kind   domain.ActorKind
		source domain.ClassificationSource
	}{
		{&memory.Actor{ID: "x", Kind: domain.KindProp}, domain.KindProp, domain.SourceCanonical},
		{&memory.Actor{ID: "x", Hint: domain.KindNPC}, domain.KindNPC, domain.SourceFallback},
		{&memory.Actor{ID: "Player_02"}, domain.KindPlayer, domain.SourceFallback},
		{&memory.Actor{ID: "crate"}, domain.KindUnknown, domain.SourceUnclassified},
	}
	for _, tc := range cases {
		c := reset.Classify(tc.actor)
		assert.Equal(t, tc.kind, c.Kind, tc.actor.ID)
		assert.Equal(t, tc.source, c.Source, tc.actor.ID)
	}
}

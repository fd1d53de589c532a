package session_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/sessionflow/internal/testutils"
	"github.com/aretw0/sessionflow/pkg/degraded"
	"github.com/aretw0/sessionflow/pkg/domain"
	"github.com/aretw0/sessionflow/pkg/event"
	"github.com/aretw0/sessionflow/pkg/gate"
	"github.com/aretw0/sessionflow/pkg/intro"
	"github.com/aretw0/sessionflow/pkg/session"
)

type fixture struct {
	bus     *event.Bus
	gate    *gate.Gate
	intro   *intro.Coordinator
	machine *session.Machine
	rec     *testutils.Recorder
}

func newFixture(t *testing.T, policy domain.IntroPolicy, opts ...session.Option) *fixture {
	t.Helper()
	bus := event.NewBus()
	f := &fixture{
		bus:   bus,
		gate:  gate.New(gate.WithPublisher(bus)),
		intro: intro.NewCoordinator(intro.WithPublisher(bus)),
		rec:   testutils.NewRecorder(t, bus),
	}
	base := []session.Option{
		session.WithGate(f.gate),
		session.WithIntro(f.intro, intro.StaticPolicy(policy)),
		session.WithPublisher(bus),
	}
	f.machine = session.NewMachine(append(base, opts...)...)
	t.Cleanup(f.machine.Close)
	return f
}

func gameplay() domain.TransitionContext {
	return domain.TransitionContext{
		Signature: "gameplay:Arena#0000000000000001",
		Request:   domain.TransitionRequest{TargetActiveScene: "Arena", Profile: domain.ProfileGameplay},
	}
}

func TestTransitionTable(t *testing.T) {
	tr, ok := session.TransitionFor(domain.StateBoot, session.TriggerEnterGameplay)
	require.True(t, ok)
	assert.Equal(t, domain.StatePlaying, tr.To)

	_, ok = session.TransitionFor(domain.StateBoot, session.TriggerPause)
	assert.False(t, ok)

	_, ok = session.TransitionFor(domain.StatePaused, session.TriggerRunEnded)
	assert.False(t, ok)
}

func TestMachine_DisabledIntroEntersPlaying(t *testing.T) {
	f := newFixture(t, domain.IntroDisabled)

	require.NoError(t, f.machine.EnterGameplay(context.Background(), gameplay()))

	assert.Equal(t, domain.StatePlaying, f.machine.State())
	assert.NotEmpty(t, f.machine.RunID())
	assert.True(t, f.machine.CanSimulate())
	assert.Equal(t, []string{domain.EventSessionEnteredState, domain.EventRunStarted}, f.rec.Types())
	assert.Zero(t, f.rec.Count(domain.EventIntroStarted))
}

func TestMachine_ManualIntroWaitsForConfirmation(t *testing.T) {
	f := newFixture(t, domain.IntroManual)
	ctx := context.Background()

	require.NoError(t, f.machine.EnterGameplay(ctx, gameplay()))
	assert.Equal(t, domain.StateIntroStage, f.machine.State())
	assert.False(t, f.machine.CanSimulate())
	assert.Zero(t, f.rec.Count(domain.EventRunStarted))

	// Re-entrant gameplay-ready while the intro is pending is tolerated.
	require.NoError(t, f.machine.EnterGameplay(ctx, gameplay()))
	assert.Equal(t, 1, f.rec.Count(domain.EventIntroStarted))

	assert.True(t, f.machine.CompleteIntro("player confirmed"))
	f.rec.WaitFor(t, domain.EventRunStarted, 1)

	assert.Equal(t, domain.StatePlaying, f.machine.State())
	completed := testutils.Of[domain.IntroStageCompleted](f.rec)
	require.Len(t, completed, 1)
	assert.Equal(t, "player confirmed", completed[0].Reason)
	assert.Equal(t, domain.Signature("gameplay:Arena#0000000000000001"), completed[0].Context.Signature)
}

func TestMachine_AutoCompleteIntroIsSynchronous(t *testing.T) {
	f := newFixture(t, domain.IntroAutoComplete)

	require.NoError(t, f.machine.EnterGameplay(context.Background(), gameplay()))

	assert.Equal(t, domain.StatePlaying, f.machine.State())
	assert.Equal(t, []string{
		domain.EventSessionEnteredState,
		domain.EventIntroStarted,
		domain.EventIntroCompleted,
		domain.EventSessionEnteredState,
		domain.EventRunStarted,
	}, f.rec.Types())
}

func TestMachine_ReturnToBootDuringIntroDropsCompletion(t *testing.T) {
	f := newFixture(t, domain.IntroManual)
	ctx := context.Background()

	require.NoError(t, f.machine.EnterGameplay(ctx, gameplay()))
	require.NoError(t, f.machine.ReturnToBoot("exit to menu"))

	f.rec.WaitFor(t, domain.EventIntroCompleted, 1)
	assert.Equal(t, domain.StateBoot, f.machine.State())
	assert.Zero(t, f.rec.Count(domain.EventRunStarted))
	assert.False(t, f.intro.IsActive())
}

func TestMachine_PauseResumeDrivesGate(t *testing.T) {
	f := newFixture(t, domain.IntroDisabled)
	ctx := context.Background()
	require.NoError(t, f.machine.EnterGameplay(ctx, gameplay()))

	require.NoError(t, f.machine.Pause(ctx))
	assert.Equal(t, domain.StatePaused, f.machine.State())
	assert.True(t, f.gate.IsTokenActive(domain.TokenPause))
	assert.False(t, f.machine.CanSimulate())

	// Second pause is a no-op: no extra token, no extra event.
	require.NoError(t, f.machine.Pause(ctx))
	assert.Equal(t, 1, f.gate.Count(domain.TokenPause))
	assert.Equal(t, 2, f.rec.Count(domain.EventSessionEnteredState))

	require.NoError(t, f.machine.Resume(ctx))
	assert.Equal(t, domain.StatePlaying, f.machine.State())
	assert.True(t, f.gate.IsOpen())
	assert.True(t, f.machine.CanSimulate())

	// Resume does not start a new run.
	assert.Equal(t, 1, f.rec.Count(domain.EventRunStarted))
}

func TestMachine_InvalidRequestsAreIgnored(t *testing.T) {
	f := newFixture(t, domain.IntroDisabled)
	ctx := context.Background()

	err := f.machine.Pause(ctx)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, domain.StateBoot, f.machine.State())

	assert.False(t, f.machine.RequestVictory("too early"))
	assert.Empty(t, f.rec.Types())
}

func TestMachine_ReturnToBootFromPausedReleasesToken(t *testing.T) {
	f := newFixture(t, domain.IntroDisabled)
	ctx := context.Background()
	require.NoError(t, f.machine.EnterGameplay(ctx, gameplay()))
	require.NoError(t, f.machine.Pause(ctx))

	require.NoError(t, f.machine.ReturnToBoot("menu"))

	assert.Equal(t, domain.StateBoot, f.machine.State())
	assert.True(t, f.gate.IsOpen())
}

func TestMachine_RunEndsOncePerRun(t *testing.T) {
	f := newFixture(t, domain.IntroDisabled)
	ctx := context.Background()
	detach := f.machine.Attach(f.bus)
	defer detach()

	require.NoError(t, f.machine.EnterGameplay(ctx, gameplay()))
	firstRun := f.machine.RunID()

	assert.True(t, f.machine.RequestVictory("boss down"))
	assert.False(t, f.machine.RequestDefeat("late hit"))
	f.bus.Publish(domain.NewRunOutcomeDetected(domain.OutcomeDefeat, "timer", "hud"))

	assert.Equal(t, domain.StatePostPlay, f.machine.State())
	ended := testutils.Of[domain.RunEnded](f.rec)
	require.Len(t, ended, 1)
	assert.Equal(t, domain.OutcomeVictory, ended[0].Outcome)
	assert.Equal(t, firstRun, ended[0].RunID)

	// A new run re-arms the guard.
	require.NoError(t, f.machine.ReturnToBoot("restart"))
	require.NoError(t, f.machine.EnterGameplay(ctx, gameplay()))
	assert.NotEqual(t, firstRun, f.machine.RunID())

	f.bus.Publish(domain.NewRunOutcomeDetected(domain.OutcomeDefeat, "fell", "physics"))
	ended = testutils.Of[domain.RunEnded](f.rec)
	require.Len(t, ended, 2)
	assert.Equal(t, domain.OutcomeDefeat, ended[1].Outcome)
}

func TestMachine_MissingGate(t *testing.T) {
	ctx := context.Background()

	t.Run("release proceeds and reports", func(t *testing.T) {
		recorder := degraded.NewRecorder(0)
		m := session.NewMachine(
			session.WithDegraded(degraded.NewPolicy(domain.ModeRelease, degraded.WithReporter(recorder))),
		)
		defer m.Close()
		require.NoError(t, m.EnterGameplay(ctx, gameplay()))

		require.NoError(t, m.Pause(ctx))
		assert.Equal(t, domain.StatePaused, m.State())
		assert.Equal(t, 1, recorder.Count(domain.FeatureGate))
	})

	t.Run("strict fails", func(t *testing.T) {
		m := session.NewMachine(
			session.WithDegraded(degraded.NewPolicy(domain.ModeStrict)),
			session.WithIntro(nil, intro.StaticPolicy(domain.IntroDisabled)),
		)
		defer m.Close()
		require.NoError(t, m.EnterGameplay(ctx, gameplay()))

		err := m.Pause(ctx)
		assert.ErrorIs(t, err, domain.ErrMissingDependency)
		assert.Equal(t, domain.StatePlaying, m.State())
	})
}

func TestMachine_MissingIntroCoordinator(t *testing.T) {
	ctx := context.Background()

	m := session.NewMachine(session.WithDegraded(degraded.NewPolicy(domain.ModeStrict)))
	defer m.Close()
	err := m.EnterGameplay(ctx, gameplay())
	assert.ErrorIs(t, err, domain.ErrMissingDependency)
	assert.Equal(t, domain.StateBoot, m.State())

	relaxed := session.NewMachine()
	defer relaxed.Close()
	require.NoError(t, relaxed.EnterGameplay(ctx, gameplay()))
	assert.Equal(t, domain.StatePlaying, relaxed.State())
}

package sessionflow_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/sessionflow"
	"github.com/aretw0/sessionflow/internal/testutils"
	"github.com/aretw0/sessionflow/pkg/adapters/memory"
	"github.com/aretw0/sessionflow/pkg/degraded"
	"github.com/aretw0/sessionflow/pkg/domain"
	"github.com/aretw0/sessionflow/pkg/intro"
)

type harness struct {
	eng     *sessionflow.Engine
	loader  *memory.SceneLoader
	world   *memory.World
	reports *degraded.Recorder
	rec     *testutils.Recorder
	calls   *testutils.CallLog
}

func newHarness(t *testing.T, policy domain.IntroPolicy, opts ...sessionflow.Option) *harness {
	t.Helper()
	h := &harness{
		loader:  memory.NewSceneLoader("Menu"),
		world:   memory.NewWorld(),
		reports: degraded.NewRecorder(0),
		calls:   &testutils.CallLog{},
	}
	h.world.Add("Arena", &memory.Actor{ID: "player-1", Kind: domain.KindPlayer})
	base := []sessionflow.Option{
		sessionflow.WithSceneLoader(h.loader),
		sessionflow.WithPresentation(&memory.Fade{}, &memory.HUD{}, &memory.InputMode{}),
		sessionflow.WithActors(h.world, h.world),
		sessionflow.WithIntroPolicy(intro.StaticPolicy(policy)),
		sessionflow.WithDegradedReporter(h.reports),
	}
	eng, err := sessionflow.New(append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(eng.Close)
	h.eng = eng
	h.rec = testutils.NewRecorder(t, eng.Bus())
	eng.RegisterParticipant(&testutils.Participant{Name: "world-state", Log: h.calls})
	return h
}

func TestEngine_NormalGameplayCycle(t *testing.T) {
	h := newHarness(t, domain.IntroAutoComplete, sessionflow.WithMode(domain.ModeStrict))
	ctx := context.Background()

	res, err := h.eng.RequestStart(ctx)
	require.NoError(t, err)
	assert.True(t, res.ResetWaited)
	assert.False(t, res.ResetTimedOut)

	assert.Equal(t, domain.StatePlaying, h.eng.State())
	assert.True(t, h.eng.CanSimulate())
	assert.Equal(t, "Arena", h.loader.ActiveScene())
	assert.Equal(t, []string{domain.EventTransitionStarted, domain.EventTransitionCompleted},
		h.rec.Types(domain.EventTransitionStarted, domain.EventTransitionCompleted))
	assert.Equal(t, 1, h.rec.Count(domain.EventWorldResetStarted))
	assert.Equal(t, 1, h.rec.Count(domain.EventWorldResetCompleted))
	assert.Equal(t, 1, h.rec.Count(domain.EventRunStarted))
	assert.Contains(t, h.calls.Calls(), "world-state:rebind")

	require.NoError(t, h.eng.RequestPause(ctx))
	snap := h.eng.Snapshot()
	assert.Equal(t, domain.StatePaused, snap.State)
	assert.False(t, snap.GateOpen)
	assert.Equal(t, map[domain.GateToken]int{domain.TokenPause: 1}, snap.Tokens)

	require.NoError(t, h.eng.RequestResume(ctx))
	assert.True(t, h.eng.Snapshot().GateOpen)
	assert.Equal(t, domain.StatePlaying, h.eng.State())

	h.eng.ReportOutcome(domain.OutcomeVictory, "boss down", "arena")
	h.eng.ReportOutcome(domain.OutcomeVictory, "boss down", "arena")
	assert.False(t, h.eng.RequestDefeat("late"))

	assert.Equal(t, domain.StatePostPlay, h.eng.State())
	ended := testutils.Of[domain.RunEnded](h.rec)
	require.Len(t, ended, 1)
	assert.Equal(t, domain.OutcomeVictory, ended[0].Outcome)
	assert.Empty(t, h.reports.Reports())
}

func TestEngine_ManualIntroHoldsPlaying(t *testing.T) {
	h := newHarness(t, domain.IntroManual)
	ctx := context.Background()

	_, err := h.eng.RequestStart(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StateIntroStage, h.eng.State())
	assert.True(t, h.eng.Snapshot().IntroActive)
	assert.False(t, h.eng.CanSimulate())

	assert.True(t, h.eng.SkipIntro("qa"))
	h.rec.WaitFor(t, domain.EventRunStarted, 1)
	assert.Equal(t, domain.StatePlaying, h.eng.State())
}

func TestEngine_StartOutsideBootIsRejected(t *testing.T) {
	h := newHarness(t, domain.IntroAutoComplete)
	ctx := context.Background()

	_, err := h.eng.RequestStart(ctx)
	require.NoError(t, err)
	_, err = h.eng.RequestStart(ctx)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, 1, h.rec.Count(domain.EventTransitionStarted))
}

func TestEngine_ExitToMenuAndRestart(t *testing.T) {
	h := newHarness(t, domain.IntroAutoComplete)
	ctx := context.Background()

	_, err := h.eng.RequestStart(ctx)
	require.NoError(t, err)
	firstRun := h.eng.Snapshot().RunID

	_, err = h.eng.RequestExitToMenu(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StateBoot, h.eng.State())
	assert.Equal(t, "Menu", h.loader.ActiveScene())
	assert.True(t, h.eng.Snapshot().GateOpen)

	// A new boot cycle is not mistaken for a duplicate of the first start.
	res, err := h.eng.RequestStart(ctx)
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, domain.StatePlaying, h.eng.State())
	assert.NotEqual(t, firstRun, h.eng.Snapshot().RunID)
	assert.Equal(t, 2, h.rec.Count(domain.EventWorldResetStarted))
}

func TestEngine_RequestReset(t *testing.T) {
	h := newHarness(t, domain.IntroAutoComplete)
	ctx := context.Background()

	_, err := h.eng.RequestStart(ctx)
	require.NoError(t, err)
	require.True(t, h.eng.RequestDefeat("fell"))

	res, err := h.eng.RequestReset(ctx, "")
	require.NoError(t, err)
	assert.True(t, res.Ran())
	assert.Equal(t, sessionflow.ReasonRestart, res.Request.Reason)
	assert.Equal(t, domain.StatePlaying, h.eng.State())
	assert.Equal(t, 2, h.rec.Count(domain.EventRunStarted))

	_, err = newHarness(t, domain.IntroAutoComplete).eng.RequestReset(ctx, "too early")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestEngine_LevelChange(t *testing.T) {
	h := newHarness(t, domain.IntroAutoComplete)
	ctx := context.Background()
	h.world.Add("Caves", &memory.Actor{ID: "player-9", Kind: domain.KindPlayer})

	_, err := h.eng.RequestStart(ctx)
	require.NoError(t, err)

	res, err := h.eng.RequestLevelChange(ctx, "Caves")
	require.NoError(t, err)
	assert.Equal(t, []string{"Arena"}, res.Context.Request.ScenesToUnload)
	assert.Equal(t, "Caves", h.loader.ActiveScene())
	assert.Equal(t, domain.StatePlaying, h.eng.State())
	assert.Equal(t, 2, h.rec.Count(domain.EventRunStarted))

	_, err = h.eng.RequestLevelChange(ctx)
	assert.Error(t, err)
}

func TestEngine_FailedLevelChangeKeepsCurrentLevel(t *testing.T) {
	h := newHarness(t, domain.IntroAutoComplete)
	ctx := context.Background()

	_, err := h.eng.RequestStart(ctx)
	require.NoError(t, err)

	h.loader.Fail = map[string]error{"Caves": errors.New("missing asset bundle")}
	_, err = h.eng.RequestLevelChange(ctx, "Caves")
	require.Error(t, err)
	assert.Equal(t, domain.StateBoot, h.eng.State())

	h.loader.Fail = nil
	res, err := h.eng.RequestStart(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Arena"}, res.Context.Request.ScenesToLoad)
	assert.Equal(t, "Arena", h.loader.ActiveScene())
	assert.Equal(t, domain.StatePlaying, h.eng.State())
}

func TestNew_TimingCapacities(t *testing.T) {
	eng, err := sessionflow.New(sessionflow.WithTiming(sessionflow.Timing{DedupCapacity: 1, GuardCapacity: 2}))
	require.NoError(t, err)
	t.Cleanup(eng.Close)

	assert.Equal(t, 1, eng.Timing().DedupCapacity)
	assert.Equal(t, 2, eng.Timing().GuardCapacity)
	assert.Equal(t, sessionflow.DefaultTiming.ResetTimeout, eng.Timing().ResetTimeout)
}

func TestEngine_ContentSwapHoldsToken(t *testing.T) {
	h := newHarness(t, domain.IntroAutoComplete)
	ctx := context.Background()
	_, err := h.eng.RequestStart(ctx)
	require.NoError(t, err)

	var tokenHeld bool
	h.eng.RegisterParticipant(&tokenWatcher{check: func() {
		tokenHeld = h.eng.Snapshot().Tokens[domain.TokenContentSwap] == 1
	}})

	res, err := h.eng.RequestContentSwap(ctx, domain.ResetRequest{Scope: domain.ScopePlayersOnly})
	require.NoError(t, err)
	assert.True(t, res.Ran())
	assert.Equal(t, []string{"player-1"}, res.Targets)
	assert.True(t, tokenHeld)
	assert.True(t, h.eng.Snapshot().GateOpen)
	assert.Equal(t, domain.StatePlaying, h.eng.State())
}

func TestEngine_ContentSwapWithoutGate(t *testing.T) {
	ctx := context.Background()

	t.Run("release reports and proceeds", func(t *testing.T) {
		h := newHarness(t, domain.IntroAutoComplete, sessionflow.WithoutGate())

		assert.NotPanics(t, func() {
			res, err := h.eng.RequestContentSwap(ctx, domain.ResetRequest{Scope: domain.ScopeAllActorsInScene})
			assert.NoError(t, err)
			assert.True(t, res.Ran())
		})
		assert.Equal(t, 1, h.reports.Count(domain.FeatureContentSwap))
		assert.Positive(t, h.rec.Count(domain.EventDegradedReported))
	})

	t.Run("strict fails loudly", func(t *testing.T) {
		h := newHarness(t, domain.IntroAutoComplete, sessionflow.WithoutGate(), sessionflow.WithMode(domain.ModeStrict))

		_, err := h.eng.RequestContentSwap(ctx, domain.ResetRequest{Scope: domain.ScopeAllActorsInScene})
		assert.ErrorIs(t, err, domain.ErrMissingDependency)
		assert.Zero(t, h.rec.Count(domain.EventWorldResetStarted))
	})
}

func TestEngine_ResetBarrierTimeoutDegrades(t *testing.T) {
	h := newHarness(t, domain.IntroAutoComplete, sessionflow.WithTiming(sessionflow.Timing{
		ResetPoll:    5 * time.Millisecond,
		ResetTimeout: 40 * time.Millisecond,
	}))
	h.eng.RegisterParticipant(&testutils.Participant{Name: "slow", Delay: 200 * time.Millisecond})

	res, err := h.eng.RequestStart(context.Background())
	require.NoError(t, err)
	assert.True(t, res.ResetTimedOut)
	assert.Equal(t, 1, h.reports.Count(domain.FeatureResetWait))
	assert.Zero(t, h.eng.Snapshot().Tokens[domain.TokenSceneTransition])
}

func TestNew_Validation(t *testing.T) {
	_, err := sessionflow.New(sessionflow.WithMode("chaos"))
	assert.Error(t, err)

	_, err = sessionflow.New(sessionflow.WithScenes(sessionflow.Scenes{Frontend: "Menu"}))
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	assert.NotEmpty(t, sessionflow.Version)
}

type tokenWatcher struct{ check func() }

func (*tokenWatcher) ParticipantName() string                  { return "token-watcher" }
func (*tokenWatcher) ResetOrder() int                          { return 0 }
func (*tokenWatcher) ShouldParticipate(domain.ResetScope) bool { return true }
func (p *tokenWatcher) Cleanup(context.Context, domain.ResetContext) error {
	p.check()
	return nil
}
func (*tokenWatcher) Restore(context.Context, domain.ResetContext) error { return nil }
func (*tokenWatcher) Rebind(context.Context, domain.ResetContext) error  { return nil }

package sessionflow

import (
	"context"
	"fmt"
	"slices"

	"github.com/aretw0/sessionflow/pkg/domain"
	"github.com/aretw0/sessionflow/pkg/reset"
	"github.com/aretw0/sessionflow/pkg/transition"
)

// Reasons attached to the requests issued by the command surface.
const (
	ReasonExitToMenu  = "exit_to_menu"
	ReasonRestart     = "restart"
	ReasonLevelChange = "level_change"
	ReasonContentSwap = "content_swap"
)

// cycleSignature distinguishes requests of one boot cycle from identical ones of the next.
func (e *Engine) cycleSignature() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fmt.Sprintf("cycle-%d", e.cycle)
}

func (e *Engine) nextCycle() {
	e.mu.Lock()
	e.cycle++
	e.mu.Unlock()
}

func (e *Engine) currentScenes() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.current)
}

func (e *Engine) gameplayRequest(load, unload []string, requester string) domain.TransitionRequest {
	return domain.TransitionRequest{
		ScenesToLoad:      load,
		ScenesToUnload:    unload,
		TargetActiveScene: load[0],
		UseFade:           e.useFade,
		Profile:           domain.ProfileGameplay,
		ContextSignature:  e.cycleSignature(),
		RequesterID:       requester,
	}
}

// RequestStart leaves the frontend for gameplay. It is only accepted in Boot and returns
// once the gameplay transition completed; depending on the intro policy the session is
// then Playing or waiting in IntroStage.
func (e *Engine) RequestStart(ctx context.Context) (transition.Result, error) {
	if st := e.machine.State(); st != domain.StateBoot {
		e.logger.Debug("Start request ignored", "state", st)
		return transition.Result{}, fmt.Errorf("%w: start in %s", domain.ErrInvalidTransition, st)
	}
	return e.transit.RequestTransition(ctx, e.gameplayRequest(e.currentScenes(), []string{e.scenes.Frontend}, "start"))
}

// RequestPause pauses gameplay.
func (e *Engine) RequestPause(ctx context.Context) error { return e.machine.Pause(ctx) }

// RequestResume resumes gameplay.
func (e *Engine) RequestResume(ctx context.Context) error { return e.machine.Resume(ctx) }

// CompleteIntro confirms the pending intro stage.
func (e *Engine) CompleteIntro(reason string) bool { return e.machine.CompleteIntro(reason) }

// SkipIntro skips the pending intro stage.
func (e *Engine) SkipIntro(reason string) bool { return e.machine.SkipIntro(reason) }

// RequestVictory ends the current run with a victory.
func (e *Engine) RequestVictory(reason string) bool { return e.machine.RequestVictory(reason) }

// RequestDefeat ends the current run with a defeat.
func (e *Engine) RequestDefeat(reason string) bool { return e.machine.RequestDefeat(reason) }

// ReportOutcome publishes an outcome detection, as a gameplay detector would.
func (e *Engine) ReportOutcome(outcome domain.Outcome, reason, source string) {
	e.bus.Publish(domain.NewRunOutcomeDetected(outcome, reason, source))
}

// RequestExitToMenu returns the session to Boot and transitions to the frontend scene.
func (e *Engine) RequestExitToMenu(ctx context.Context) (transition.Result, error) {
	if err := e.machine.ReturnToBoot(ReasonExitToMenu); err != nil {
		return transition.Result{}, err
	}
	e.nextCycle()

	return e.transit.RequestTransition(ctx, domain.TransitionRequest{
		ScenesToLoad:      []string{e.scenes.Frontend},
		ScenesToUnload:    e.currentScenes(),
		TargetActiveScene: e.scenes.Frontend,
		UseFade:           e.useFade,
		Profile:           domain.ProfileFrontend,
		ContextSignature:  e.cycleSignature(),
		RequesterID:       "exit_to_menu",
	})
}

// RequestReset restarts the run in place: the session returns to Boot, the active scene
// is reset and gameplay is entered again.
func (e *Engine) RequestReset(ctx context.Context, reason string) (reset.Result, error) {
	if reason == "" {
		reason = ReasonRestart
	}
	st := e.machine.State()
	if st == domain.StateBoot {
		return reset.Result{}, fmt.Errorf("%w: reset in %s", domain.ErrInvalidTransition, st)
	}
	if err := e.machine.ReturnToBoot(reason); err != nil {
		return reset.Result{}, err
	}
	e.nextCycle()

	scene := e.activeScene()
	sig := domain.Signature(fmt.Sprintf("%s:%s#%s", ReasonRestart, scene, e.cycleSignature()))
	res, err := e.resets.Reset(ctx, domain.ResetRequest{
		Scope:     domain.ScopeAllActorsInScene,
		Reason:    reason,
		Scene:     scene,
		Signature: sig,
	})
	if err != nil {
		return res, err
	}
	err = e.machine.EnterGameplay(ctx, domain.TransitionContext{
		Signature: sig,
		Request:   domain.TransitionRequest{TargetActiveScene: scene, Profile: domain.ProfileGameplay},
	})
	return res, err
}

// RequestLevelChange swaps the gameplay scenes for level and starts a new run there.
func (e *Engine) RequestLevelChange(ctx context.Context, level ...string) (transition.Result, error) {
	if len(level) == 0 {
		return transition.Result{}, fmt.Errorf("level change needs at least one scene")
	}
	if err := e.machine.ReturnToBoot(ReasonLevelChange); err != nil {
		return transition.Result{}, err
	}
	e.nextCycle()

	unload := e.currentScenes()
	res, err := e.transit.RequestTransition(ctx, e.gameplayRequest(slices.Clone(level), unload, "level_change"))
	if err != nil {
		return res, err
	}
	e.mu.Lock()
	e.current = slices.Clone(level)
	e.mu.Unlock()
	return res, nil
}

// RequestContentSwap resets part of the world in place while holding the ContentSwap
// gate token. The session state is left untouched.
func (e *Engine) RequestContentSwap(ctx context.Context, req domain.ResetRequest) (reset.Result, error) {
	if req.Reason == "" {
		req.Reason = ReasonContentSwap
	}
	if e.gate == nil {
		if err := e.posture.Missing(ctx, domain.FeatureContentSwap, "content swap without a simulation gate"); err != nil {
			return reset.Result{}, err
		}
	} else {
		e.gate.Acquire(domain.TokenContentSwap)
		defer e.gate.Release(domain.TokenContentSwap)
	}
	return e.resets.Reset(ctx, req)
}

// Snapshot is a point-in-time view of the engine.
type Snapshot struct {
	Mode             domain.Mode              `json:"mode"`
	State            domain.SessionState      `json:"state"`
	RunID            string                   `json:"run_id,omitempty"`
	CanSimulate      bool                     `json:"can_simulate"`
	GateOpen         bool                     `json:"gate_open"`
	Tokens           map[domain.GateToken]int `json:"tokens,omitempty"`
	ActiveTransition domain.Signature         `json:"active_transition,omitempty"`
	ActiveScene      string                   `json:"active_scene,omitempty"`
	IntroActive      bool                     `json:"intro_active"`
	ResetSerial      uint64                   `json:"reset_serial"`
	Participants     []string                 `json:"participants,omitempty"`
}

// Snapshot captures the current engine state.
func (e *Engine) Snapshot() Snapshot {
	s := Snapshot{
		Mode:         e.mode,
		State:        e.machine.State(),
		RunID:        e.machine.RunID(),
		CanSimulate:  e.machine.CanSimulate(),
		GateOpen:     true,
		ActiveScene:  e.activeScene(),
		IntroActive:  e.intro.IsActive(),
		ResetSerial:  e.resets.Serial(),
		Participants: e.resets.Participants(),
	}
	if e.gate != nil {
		s.GateOpen = e.gate.IsOpen()
		s.Tokens = e.gate.Tokens()
	}
	if sig, ok := e.transit.ActiveSignature(); ok {
		s.ActiveTransition = sig
	}
	return s
}

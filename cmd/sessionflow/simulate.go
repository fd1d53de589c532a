package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/aretw0/sessionflow/pkg/domain"
	"github.com/aretw0/sessionflow/pkg/event"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a full gameplay cycle against in-memory collaborators",
	Long: `Runs boot -> gameplay -> pause -> resume -> outcome -> menu and prints the
session flow as it happens. With --level the run also changes to a configured level
before the outcome.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		outcome, _ := cmd.Flags().GetString("outcome")
		level, _ := cmd.Flags().GetString("level")
		verbose, _ := cmd.Flags().GetBool("events")

		rt, err := newRuntime(cfg)
		if err != nil {
			return err
		}
		defer rt.Close()

		sim := &simulation{
			rt:      rt,
			out:     cmd.OutOrStdout(),
			outcome: domain.Outcome(outcome),
			level:   level,
			started: make(chan struct{}, 4),
		}
		sub := sim.trace(verbose)
		defer sub.Cancel()

		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()
		return sim.run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().String("outcome", string(domain.OutcomeVictory), "Run outcome: victory or defeat")
	simulateCmd.Flags().String("level", "", "Configured level to change to before the outcome")
	simulateCmd.Flags().Bool("events", false, "Print every bus event")
}

type simulation struct {
	rt      *runtime
	outcome domain.Outcome
	level   string

	mu  sync.Mutex
	out io.Writer

	// started receives one token each time a run enters Playing.
	started chan struct{}
}

func (s *simulation) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, format, args...)
}

// trace prints state changes, and every event when verbose is set.
func (s *simulation) trace(verbose bool) *event.Subscription {
	return s.rt.engine.Bus().SubscribeAll(func(e event.Event) {
		switch ev := e.(type) {
		case domain.SessionEnteredState:
			s.printf("%s -> %s\n", ev.Previous, ev.State)
			if ev.State == domain.StatePlaying && ev.Previous != domain.StatePaused {
				select {
				case s.started <- struct{}{}:
				default:
				}
			}
		default:
			if verbose {
				s.printf("  %s\n", e.EventType())
			}
		}
	})
}

func (s *simulation) run(ctx context.Context) error {
	eng := s.rt.engine
	if _, err := eng.RequestStart(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	if err := s.awaitPlaying(ctx); err != nil {
		return err
	}

	if err := eng.RequestPause(ctx); err != nil {
		return fmt.Errorf("pause: %w", err)
	}
	if err := eng.RequestResume(ctx); err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	s.rt.runState.Add("score", 100)

	if s.level != "" {
		scenes, ok := s.rt.cfg.Level(s.level)
		if !ok {
			return fmt.Errorf("unknown level %q", s.level)
		}
		if _, err := eng.RequestLevelChange(ctx, scenes...); err != nil {
			return fmt.Errorf("level change: %w", err)
		}
		if err := s.awaitPlaying(ctx); err != nil {
			return err
		}
	}

	switch s.outcome {
	case domain.OutcomeVictory:
		eng.RequestVictory("simulation")
	case domain.OutcomeDefeat:
		eng.RequestDefeat("simulation")
	default:
		return fmt.Errorf("unknown outcome %q", s.outcome)
	}

	if _, err := eng.RequestExitToMenu(ctx); err != nil {
		return fmt.Errorf("exit to menu: %w", err)
	}

	snap := eng.Snapshot()
	s.printf("resets: %d, degraded reports: %d, final state: %s\n",
		snap.ResetSerial, len(s.rt.recorder.Reports()), snap.State)
	return nil
}

// awaitPlaying completes a manual intro stage and waits until the run enters Playing.
func (s *simulation) awaitPlaying(ctx context.Context) error {
	eng := s.rt.engine
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if eng.State() == domain.StateIntroStage {
			eng.CompleteIntro("simulation")
		}
		select {
		case <-s.started:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("waiting for gameplay in %s: %w", eng.State(), ctx.Err())
		case <-ticker.C:
		}
	}
}

/*
Package sessionflow is a session-flow orchestration engine for games and other
interactive simulations.

It governs the lifecycle of a play session (Boot, IntroStage, Playing, Paused and
PostPlay) and keeps it synchronized with two pipelines: scene transitions and world
resets. A reference-counted simulation gate suppresses gameplay simulation while a
transition, a pause, a reset or a content swap is in flight.

# Concept

Producers such as scene loaders, input handlers, overlays, QA harnesses and outcome
detectors may fire duplicate, late or racing signals. The engine absorbs them:

  - Transitions are identified by a deterministic signature. Identical requests are
    coalesced while in flight and ignored for a short window after completion.
  - Resets triggered by the same signature run once, even when "scenes ready" is
    announced twice.
  - A run ends at most once, whatever the number of outcome detections.
  - Missing collaborators fail loudly in Strict mode and degrade with a report in
    Release mode.

# Usage

Create an Engine with the collaborators your host provides and drive it through the
command surface:

	eng, err := sessionflow.New(
		sessionflow.WithSceneLoader(loader),
		sessionflow.WithActors(world, world),
		sessionflow.WithIntroPolicy(intro.StaticPolicy(domain.IntroAutoComplete)),
	)
	if err != nil {
		log.Fatal(err)
	}
	defer eng.Close()

	if _, err := eng.RequestStart(ctx); err != nil {
		log.Fatal(err)
	}
	// eng.CanSimulate() is true once the transition completed.

Every state change, transition phase, reset and gate edge is published on the event
bus returned by Bus.
*/
package sessionflow

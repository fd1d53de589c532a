/*
Package ports defines the driven ports (interfaces) of the session-flow engine.

These interfaces decouple the orchestration core from the presentation layer, the scene
system and the world simulation, allowing the engine to run against in-memory adapters in
tests and against real collaborators in a host.

# Key Interfaces

  - SceneLoader: performs scene loads, unloads and active-scene selection.
  - ActorRegistry / SpawnRegistry: enumerate world actors and spawn missing essential roles.
  - ResetParticipant: a unit of world state that takes part in Cleanup/Restore/Rebind.
  - FadeService / HUDService / InputModeService: optional presentation collaborators.
  - DegradedReporter: receives failures downgraded in Release mode.
*/
package ports

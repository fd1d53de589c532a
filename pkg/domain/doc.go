/*
Package domain contains the core domain models of the session-flow engine.

It defines the vocabulary shared by the gate, the session state machine and the two
orchestrators: session states, gate tokens, transition and reset requests, their
correlation signatures and phases, and the events published on the bus. This package is
kept pure and free of I/O, following Hexagonal Architecture principles.

# Key Entities

  - SessionState: Boot, IntroStage, Playing, Paused, PostPlay.
  - TransitionRequest / TransitionContext: a scene swap and its correlation signature.
  - ResetRequest / ResetContext: a world reset and the phase it is currently in.
  - Events: the immutable notifications fanned out by the event bus.
*/
package domain

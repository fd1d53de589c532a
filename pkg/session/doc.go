/*
Package session implements the session state machine: Boot, IntroStage, Playing, Paused
and PostPlay.

The machine is table driven. Every request is checked against the transition table: a
legal request is applied and announced with SessionEnteredState, a request that would
re-enter the current state is a silent no-op, and anything else is logged at debug level
and ignored. Side effects are limited to the simulation gate (the Pause token) and the run
lifecycle events, of which RunEnded fires at most once per run.
*/
package session

/*
Package degraded implements the Strict/Release posture of the engine.

Every component routes its recoverable failures through a Policy. In Strict mode a missing
required collaborator is an error that stops the operation; in Release mode the same
condition is recorded on the degraded-mode channel and the feature is skipped. Timeouts and
fallback usage are always reported and never stop anything, so the simulation gate always
eventually re-opens.
*/
package degraded

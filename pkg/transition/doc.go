// Package transition runs scene transitions as a five-phase pipeline:
// Started, FadeInCompleted, ScenesReady, BeforeFadeOut and Completed.
//
// Every request is reduced to a deterministic signature. While a transition is in flight
// an identical request is coalesced onto it and a different one is rejected; a request
// repeating a transition that just finished is treated as a duplicate. The orchestrator
// holds the SceneTransition gate token for the whole pipeline and releases it on every
// exit path.
package transition

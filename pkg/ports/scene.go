package ports

import "context"

// SceneLoader performs the actual scene swaps requested by the transition orchestrator.
type SceneLoader interface {
	// LoadScene loads a scene additively. Loading an already loaded scene is a no-op.
	LoadScene(ctx context.Context, name string) error

	// UnloadScene unloads a scene. Unloading a scene that is not loaded is a no-op.
	UnloadScene(ctx context.Context, name string) error

	// SetActiveScene selects the scene that receives newly spawned actors.
	SetActiveScene(ctx context.Context, name string) error

	// ActiveScene returns the currently active scene.
	ActiveScene() string
}

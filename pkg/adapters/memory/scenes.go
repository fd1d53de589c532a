package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// SceneLoader implements ports.SceneLoader in memory.
// Safe for concurrent use.
type SceneLoader struct {
	mu     sync.RWMutex
	loaded []string
	active string

	// Delay simulates load time for every call.
	Delay time.Duration
	// Fail makes loading the named scene fail.
	Fail map[string]error
}

// NewSceneLoader creates a loader with the given scenes already loaded. The first one
// becomes active.
func NewSceneLoader(initial ...string) *SceneLoader {
	l := &SceneLoader{}
	for _, name := range initial {
		if !slices.Contains(l.loaded, name) {
			l.loaded = append(l.loaded, name)
		}
	}
	if len(l.loaded) > 0 {
		l.active = l.loaded[0]
	}
	return l
}

func (l *SceneLoader) wait(ctx context.Context) error {
	if l.Delay <= 0 {
		return nil
	}
	select {
	case <-time.After(l.Delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LoadScene loads a scene. Loading a loaded scene is a no-op.
func (l *SceneLoader) LoadScene(ctx context.Context, name string) error {
	if err := l.wait(ctx); err != nil {
		return err
	}
	if err := l.Fail[name]; err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !slices.Contains(l.loaded, name) {
		l.loaded = append(l.loaded, name)
	}
	return nil
}

// UnloadScene unloads a scene. Unloading the active scene clears it.
func (l *SceneLoader) UnloadScene(ctx context.Context, name string) error {
	if err := l.wait(ctx); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if i := slices.Index(l.loaded, name); i >= 0 {
		l.loaded = slices.Delete(l.loaded, i, i+1)
	}
	if l.active == name {
		l.active = ""
	}
	return nil
}

// SetActiveScene activates a loaded scene.
func (l *SceneLoader) SetActiveScene(ctx context.Context, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !slices.Contains(l.loaded, name) {
		return fmt.Errorf("scene %q is not loaded", name)
	}
	l.active = name
	return nil
}

// ActiveScene returns the active scene.
func (l *SceneLoader) ActiveScene() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active
}

// Loaded returns the loaded scenes in load order.
func (l *SceneLoader) Loaded() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.loaded)
}

package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/aretw0/sessionflow/pkg/domain"
)

// Journal records presentation calls in order.
type Journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *Journal) add(format string, args ...any) {
	j.mu.Lock()
	j.entries = append(j.entries, fmt.Sprintf(format, args...))
	j.mu.Unlock()
}

// Entries returns the recorded calls.
func (j *Journal) Entries() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return slices.Clone(j.entries)
}

// Fade implements ports.FadeService.
type Fade struct {
	Journal
	Duration time.Duration
	Err      error
}

func (f *Fade) run(ctx context.Context, name string) error {
	if f.Duration > 0 {
		select {
		case <-time.After(f.Duration):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.Err != nil {
		return f.Err
	}
	f.add("%s", name)
	return nil
}

// FadeIn fades to opaque.
func (f *Fade) FadeIn(ctx context.Context) error { return f.run(ctx, "fade_in") }

// FadeOut fades to transparent.
func (f *Fade) FadeOut(ctx context.Context) error { return f.run(ctx, "fade_out") }

// HUD implements ports.HUDService.
type HUD struct {
	Journal
	mu      sync.Mutex
	visible bool
}

// Show displays the loading HUD.
func (h *HUD) Show(sig domain.Signature, phase domain.TransitionPhase) {
	h.mu.Lock()
	h.visible = true
	h.mu.Unlock()
	h.add("show %s %s", phase, sig)
}

// Hide removes the loading HUD.
func (h *HUD) Hide(sig domain.Signature, phase domain.TransitionPhase) {
	h.mu.Lock()
	h.visible = false
	h.mu.Unlock()
	h.add("hide %s %s", phase, sig)
}

// Visible reports whether the HUD is showing.
func (h *HUD) Visible() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.visible
}

// InputMode implements ports.InputModeService.
type InputMode struct {
	Journal
	mu   sync.Mutex
	mode string
}

// Apply switches the input context.
func (m *InputMode) Apply(ctx context.Context, mode string) error {
	m.mu.Lock()
	m.mode = mode
	m.mu.Unlock()
	m.add("%s", mode)
	return nil
}

// Mode returns the current input context.
func (m *InputMode) Mode() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

package ports

import (
	"context"

	"github.com/aretw0/sessionflow/pkg/domain"
)

// FadeService drives the full-screen fade used to hide scene swaps.
type FadeService interface {
	// FadeIn fades to opaque and returns once the screen is covered.
	FadeIn(ctx context.Context) error

	// FadeOut fades back to transparent.
	FadeOut(ctx context.Context) error
}

// HUDService shows and hides the loading HUD for a transition.
type HUDService interface {
	Show(sig domain.Signature, phase domain.TransitionPhase)
	Hide(sig domain.Signature, phase domain.TransitionPhase)
}

// InputModeService applies the input context once a transition completes.
type InputModeService interface {
	Apply(ctx context.Context, mode string) error
}

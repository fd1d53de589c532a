package domain

import "fmt"

// IntroPolicy decides how the intro stage behaves for a transition.
type IntroPolicy string

const (
	// IntroDisabled goes straight to Playing.
	IntroDisabled IntroPolicy = "disabled"
	// IntroManual waits for an explicit external confirmation.
	IntroManual IntroPolicy = "manual"
	// IntroAutoComplete completes the stage immediately (automation and QA flows).
	IntroAutoComplete IntroPolicy = "auto_complete"
)

// ParseIntroPolicy converts a string into an IntroPolicy.
func ParseIntroPolicy(s string) (IntroPolicy, error) {
	switch IntroPolicy(s) {
	case IntroDisabled, IntroManual, IntroAutoComplete:
		return IntroPolicy(s), nil
	}
	return "", fmt.Errorf("unknown intro policy %q", s)
}

// IntroContext describes the intro stage being armed.
type IntroContext struct {
	Signature Signature `json:"signature,omitempty"`
	Scene     string    `json:"scene,omitempty"`
	Profile   Profile   `json:"profile,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

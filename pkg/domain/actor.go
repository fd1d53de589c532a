package domain

import "fmt"

// ActorKind is the canonical classification of a world actor.
type ActorKind string

const (
	KindUnknown ActorKind = ""
	KindPlayer  ActorKind = "player"
	KindEater   ActorKind = "eater"
	KindNPC     ActorKind = "npc"
	KindProp    ActorKind = "prop"
)

// ParseActorKind converts a string into an ActorKind. Empty input yields KindUnknown.
func ParseActorKind(s string) (ActorKind, error) {
	switch ActorKind(s) {
	case KindUnknown, KindPlayer, KindEater, KindNPC, KindProp:
		return ActorKind(s), nil
	}
	return KindUnknown, fmt.Errorf("unknown actor kind %q", s)
}

// ClassificationSource tells how an actor kind was obtained.
type ClassificationSource string

const (
	// SourceCanonical means the actor declared its kind.
	SourceCanonical ClassificationSource = "canonical"
	// SourceFallback means the kind came from a role hint; usage is reported as degraded.
	SourceFallback ClassificationSource = "fallback"
	// SourceUnclassified means no kind could be determined.
	SourceUnclassified ClassificationSource = "unclassified"
)

// Classification is the result of classifying one actor.
type Classification struct {
	Kind   ActorKind
	Source ClassificationSource
}

// IsFallback reports whether the classification came from the fallback path.
func (c Classification) IsFallback() bool {
	return c.Source == SourceFallback
}

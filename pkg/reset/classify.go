package reset

import (
	"strings"

	"github.com/aretw0/sessionflow/pkg/domain"
	"github.com/aretw0/sessionflow/pkg/ports"
)

var hintedKinds = []domain.ActorKind{domain.KindPlayer, domain.KindEater, domain.KindNPC, domain.KindProp}

// Classify determines the kind of an actor. The declared kind wins; otherwise the role
// hint is used, and as a last resort the actor id is matched against the known kind
// names. Both of the latter are fallbacks.
func Classify(a ports.Actor) domain.Classification {
	if k := a.ActorKind(); k != domain.KindUnknown {
		return domain.Classification{Kind: k, Source: domain.SourceCanonical}
	}
	if h, ok := a.(ports.RoleHinter); ok {
		if k := h.RoleHint(); k != domain.KindUnknown {
			return domain.Classification{Kind: k, Source: domain.SourceFallback}
		}
	}
	id := strings.ToLower(a.ActorID())
	for _, k := range hintedKinds {
		if strings.Contains(id, string(k)) {
			return domain.Classification{Kind: k, Source: domain.SourceFallback}
		}
	}
	return domain.Classification{Kind: domain.KindUnknown, Source: domain.SourceUnclassified}
}

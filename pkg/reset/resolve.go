package reset

import (
	"context"
	"fmt"

	"github.com/aretw0/sessionflow/pkg/domain"
	"github.com/aretw0/sessionflow/pkg/ports"
)

// resolveTargets maps the request scope onto the actors of scene.
func (o *Orchestrator) resolveTargets(ctx context.Context, scene string, req domain.ResetRequest) ([]ports.Actor, error) {
	if o.registry == nil {
		return nil, o.posture.Missing(ctx, domain.FeatureActorLookup, "no actor registry, reset targets not resolved")
	}

	switch req.Scope {
	case domain.ScopeAllActorsInScene:
		return o.registry.Actors(scene), nil

	case domain.ScopeActorIDSet:
		var out []ports.Actor
		for _, id := range req.ActorIDs {
			a, ok := o.registry.Lookup(scene, id)
			if !ok {
				o.logger.Info("Reset target not found, skipped", "actor", id, "scene", scene)
				continue
			}
			out = append(out, a)
		}
		return out, nil

	case domain.ScopePlayersOnly:
		return o.byKind(ctx, scene, domain.KindPlayer), nil

	case domain.ScopeEaterOnly:
		return o.byKind(ctx, scene, domain.KindEater), nil

	case domain.ScopeByKind:
		if req.Kind == domain.KindUnknown {
			return nil, fmt.Errorf("scope %s requires a kind", req.Scope)
		}
		return o.byKind(ctx, scene, req.Kind), nil
	}
	return nil, fmt.Errorf("unknown reset scope %q", req.Scope)
}

// byKind filters the actors of scene by classification. Matches that relied on a
// fallback classification are reported once per call.
func (o *Orchestrator) byKind(ctx context.Context, scene string, kind domain.ActorKind) []ports.Actor {
	var (
		out      []ports.Actor
		fallback []string
	)
	for _, a := range o.registry.Actors(scene) {
		c := Classify(a)
		if c.Kind != kind {
			continue
		}
		if c.IsFallback() {
			fallback = append(fallback, a.ActorID())
		}
		out = append(out, a)
	}
	if len(fallback) > 0 {
		o.posture.Fallback(ctx, domain.FeatureClassifier,
			fmt.Sprintf("%d %s actor(s) classified without a canonical kind: %v", len(fallback), kind, fallback))
	}
	return out
}

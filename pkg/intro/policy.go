package intro

import "github.com/aretw0/sessionflow/pkg/domain"

// PolicyResolver decides, per transition, how the intro stage behaves.
type PolicyResolver interface {
	Resolve(tc domain.TransitionContext) domain.IntroPolicy
}

// StaticPolicy resolves every transition to the same policy.
type StaticPolicy domain.IntroPolicy

// Resolve implements PolicyResolver.
func (p StaticPolicy) Resolve(domain.TransitionContext) domain.IntroPolicy {
	return domain.IntroPolicy(p)
}

// ProfilePolicy resolves by transition profile, falling back to Default.
type ProfilePolicy struct {
	Default   domain.IntroPolicy
	ByProfile map[domain.Profile]domain.IntroPolicy
}

// Resolve implements PolicyResolver.
func (p ProfilePolicy) Resolve(tc domain.TransitionContext) domain.IntroPolicy {
	if pol, ok := p.ByProfile[tc.Request.Profile]; ok {
		return pol
	}
	if p.Default == "" {
		return domain.IntroManual
	}
	return p.Default
}

// PolicyFunc adapts a function to PolicyResolver.
type PolicyFunc func(tc domain.TransitionContext) domain.IntroPolicy

// Resolve implements PolicyResolver.
func (f PolicyFunc) Resolve(tc domain.TransitionContext) domain.IntroPolicy {
	return f(tc)
}

package testutils

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/aretw0/sessionflow/pkg/domain"
)

// CallLog records participant calls as "name:step" strings.
type CallLog struct {
	mu    sync.Mutex
	calls []string
	ctxs  []domain.ResetContext
}

func (l *CallLog) add(name string, rc domain.ResetContext) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, fmt.Sprintf("%s:%s", name, rc.Step))
	l.ctxs = append(l.ctxs, rc)
}

// Calls returns the recorded calls in order.
func (l *CallLog) Calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.calls)
}

// Contexts returns the reset contexts seen by participants, in call order.
func (l *CallLog) Contexts() []domain.ResetContext {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.ctxs)
}

// Participant is a scripted reset participant.
type Participant struct {
	Name  string
	Order int
	// Scopes limits participation; empty means every scope.
	Scopes []domain.ResetScope
	// Fail makes the given step return an error.
	Fail map[domain.ResetStep]error
	// Panic makes the given step panic.
	Panic map[domain.ResetStep]bool
	// Delay is slept before every step.
	Delay time.Duration
	Log   *CallLog
}

func (p *Participant) ParticipantName() string { return p.Name }
func (p *Participant) ResetOrder() int         { return p.Order }

func (p *Participant) ShouldParticipate(scope domain.ResetScope) bool {
	return len(p.Scopes) == 0 || slices.Contains(p.Scopes, scope)
}

func (p *Participant) Cleanup(ctx context.Context, rc domain.ResetContext) error {
	return p.step(ctx, rc)
}

func (p *Participant) Restore(ctx context.Context, rc domain.ResetContext) error {
	return p.step(ctx, rc)
}

func (p *Participant) Rebind(ctx context.Context, rc domain.ResetContext) error {
	return p.step(ctx, rc)
}

func (p *Participant) step(ctx context.Context, rc domain.ResetContext) error {
	if p.Delay > 0 {
		select {
		case <-time.After(p.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if p.Log != nil {
		p.Log.add(p.Name, rc)
	}
	if p.Panic[rc.Step] {
		panic(fmt.Sprintf("%s exploded in %s", p.Name, rc.Step))
	}
	return p.Fail[rc.Step]
}

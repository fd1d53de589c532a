// Package gate implements the simulation gate: a reference-counted, named-token
// mutual-exclusion primitive. Simulation is permitted only while no token is held.
package gate

import (
	"log/slog"
	"maps"
	"sync"

	"github.com/aretw0/sessionflow/internal/logging"
	"github.com/aretw0/sessionflow/pkg/domain"
	"github.com/aretw0/sessionflow/pkg/event"
)

// Gate holds a multiset of tokens. It is open iff the multiset is empty.
// GateChanged is published on every open/closed edge, never on plain refcount changes.
type Gate struct {
	mu     sync.Mutex
	tokens map[domain.GateToken]int

	publisher event.Publisher
	logger    *slog.Logger
}

// Option configures the Gate.
type Option func(*Gate)

// WithPublisher sets where GateChanged events go.
func WithPublisher(pub event.Publisher) Option {
	return func(g *Gate) {
		g.publisher = pub
	}
}

// WithLogger configures a logger for the Gate.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		g.logger = logger
	}
}

// New creates an open gate.
func New(opts ...Option) *Gate {
	g := &Gate{
		tokens:    make(map[domain.GateToken]int),
		publisher: event.Nop{},
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Acquire increments the refcount of token. The first token overall closes the gate.
func (g *Gate) Acquire(token domain.GateToken) {
	g.mu.Lock()
	closed := len(g.tokens) == 0
	g.tokens[token]++
	refs := g.tokens[token]
	g.mu.Unlock()

	g.logger.Debug("Gate token acquired", "token", token, "refs", refs)
	if closed {
		g.logger.Debug("Gate closed", "token", token)
		g.publisher.Publish(domain.NewGateChanged(false, token))
	}
}

// Release decrements the refcount of token. Releasing a token that is not held is a
// no-op: several independent callers may release the same token.
func (g *Gate) Release(token domain.GateToken) {
	g.mu.Lock()
	refs, held := g.tokens[token]
	if !held {
		g.mu.Unlock()
		g.logger.Debug("Gate release ignored, token not held", "token", token)
		return
	}
	refs--
	if refs <= 0 {
		delete(g.tokens, token)
	} else {
		g.tokens[token] = refs
	}
	opened := len(g.tokens) == 0
	g.mu.Unlock()

	g.logger.Debug("Gate token released", "token", token, "refs", refs)
	if opened {
		g.logger.Debug("Gate opened", "token", token)
		g.publisher.Publish(domain.NewGateChanged(true, token))
	}
}

// ReleaseAll drops every reference to token at once. Used by QA harnesses to recover
// from leaked tokens.
func (g *Gate) ReleaseAll(token domain.GateToken) {
	g.mu.Lock()
	_, held := g.tokens[token]
	delete(g.tokens, token)
	opened := held && len(g.tokens) == 0
	g.mu.Unlock()

	if opened {
		g.publisher.Publish(domain.NewGateChanged(true, token))
	}
}

// IsOpen reports whether no token is held.
func (g *Gate) IsOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.tokens) == 0
}

// IsTokenActive reports whether token is held at least once.
func (g *Gate) IsTokenActive(token domain.GateToken) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tokens[token] > 0
}

// Count returns the refcount of token.
func (g *Gate) Count(token domain.GateToken) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tokens[token]
}

// Tokens returns a snapshot of the held tokens and their refcounts.
func (g *Gate) Tokens() map[domain.GateToken]int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return maps.Clone(g.tokens)
}

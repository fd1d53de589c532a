package ports

import "github.com/aretw0/sessionflow/pkg/domain"

// SimulationGate is the reference-counted gate consumed by the state machine and the
// orchestrators. Simulation may run only while no token is held.
type SimulationGate interface {
	Acquire(token domain.GateToken)
	Release(token domain.GateToken)
	IsOpen() bool
	IsTokenActive(token domain.GateToken) bool
}

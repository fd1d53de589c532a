// Package event provides the synchronous, in-order publish/subscribe bus that connects
// the gate, the session state machine and the orchestrators.
//
// Events are dispatched on the publisher's goroutine to every handler registered at
// publish time; nothing is queued. Subscriptions are explicit capability handles: the
// only way to stop receiving events is to Cancel the handle returned by Subscribe, so a
// test can build an isolated bus and tear it down deterministically.
//
// # Basic Usage
//
//	bus := event.NewBus()
//
//	sub := event.On(bus, domain.EventGateChanged, func(e domain.GateChanged) {
//	    log.Printf("gate open=%v", e.IsOpen)
//	})
//	defer sub.Cancel()
//
//	bus.Publish(domain.NewGateChanged(false, domain.TokenPause))
//
// Handlers must not assume they run on any particular goroutine and must never block
// on work that itself needs to publish on the same bus.
package event

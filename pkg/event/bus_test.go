package event_test

import (
	"sync"
	"testing"

	"github.com/aretw0/sessionflow/pkg/domain"
	"github.com/aretw0/sessionflow/pkg/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishInRegistrationOrder(t *testing.T) {
	bus := event.NewBus()

	var order []string
	bus.Subscribe(domain.EventGateChanged, func(e event.Event) { order = append(order, "first") })
	bus.SubscribeAll(func(e event.Event) { order = append(order, "wildcard") })
	bus.Subscribe(domain.EventGateChanged, func(e event.Event) { order = append(order, "second") })

	bus.Publish(domain.NewGateChanged(false, domain.TokenPause))

	assert.Equal(t, []string{"first", "second", "wildcard"}, order)
}

func TestBus_TypedSubscription(t *testing.T) {
	bus := event.NewBus()

	var got []domain.GateChanged
	sub := event.On(bus, domain.EventGateChanged, func(e domain.GateChanged) {
		got = append(got, e)
	})

	bus.Publish(domain.NewGateChanged(false, domain.TokenPause))
	bus.Publish(domain.NewRunStarted("run-1", domain.StatePlaying)) // other type, not delivered

	require.Len(t, got, 1)
	assert.False(t, got[0].IsOpen)
	assert.Equal(t, domain.TokenPause, got[0].Token)

	sub.Cancel()
	sub.Cancel() // idempotent
	bus.Publish(domain.NewGateChanged(true, domain.TokenPause))
	assert.Len(t, got, 1)
	assert.Equal(t, 0, bus.SubscriptionCount())
}

func TestBus_TransitionPhaseRouting(t *testing.T) {
	bus := event.NewBus()

	var phases []domain.TransitionPhase
	for _, p := range domain.TransitionPhases {
		event.On(bus, p.EventType(), func(e domain.TransitionEvent) {
			phases = append(phases, e.Phase)
		})
	}

	tc := domain.TransitionContext{Signature: "sig"}
	bus.Publish(domain.NewTransitionEvent(domain.PhaseScenesReady, tc))
	bus.Publish(domain.NewTransitionEvent(domain.PhaseCompleted, tc))

	assert.Equal(t, []domain.TransitionPhase{domain.PhaseScenesReady, domain.PhaseCompleted}, phases)
	assert.Equal(t, domain.EventTransitionScenesReady, domain.PhaseScenesReady.EventType())
}

func TestBus_PanickingHandlerDoesNotBlockOthers(t *testing.T) {
	bus := event.NewBus()

	called := false
	bus.Subscribe(domain.EventRunEnded, func(e event.Event) { panic("boom") })
	bus.Subscribe(domain.EventRunEnded, func(e event.Event) { called = true })

	assert.NotPanics(t, func() {
		bus.Publish(domain.NewRunEnded("run-1", domain.OutcomeVictory, "test"))
	})
	assert.True(t, called)
}

func TestBus_CancelDuringPublish(t *testing.T) {
	bus := event.NewBus()

	calls := 0
	var sub *event.Subscription
	sub = bus.Subscribe(domain.EventRunStarted, func(e event.Event) {
		calls++
		sub.Cancel()
	})
	bus.Subscribe(domain.EventRunStarted, func(e event.Event) { calls++ })

	bus.Publish(domain.NewRunStarted("a", domain.StatePlaying))
	bus.Publish(domain.NewRunStarted("b", domain.StatePlaying))

	assert.Equal(t, 3, calls)
}

func TestBus_ConcurrentPublish(t *testing.T) {
	bus := event.NewBus()

	var mu sync.Mutex
	count := 0
	bus.SubscribeAll(func(e event.Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish(domain.NewGateChanged(true, domain.TokenMenu))
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, count)
}

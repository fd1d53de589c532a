package sessionflow_test

import (
	"context"
	"fmt"
	"log"

	"github.com/aretw0/sessionflow"
	"github.com/aretw0/sessionflow/pkg/adapters/memory"
	"github.com/aretw0/sessionflow/pkg/domain"
	"github.com/aretw0/sessionflow/pkg/event"
	"github.com/aretw0/sessionflow/pkg/intro"
)

// ExampleNew_memory runs a full session cycle against the in-memory collaborators.
func ExampleNew_memory() {
	// 1. Describe the world: a menu scene loaded, an arena with a player.
	loader := memory.NewSceneLoader("Menu")
	world := memory.NewWorld()
	world.Add("Arena", &memory.Actor{ID: "hero", Kind: domain.KindPlayer})

	// 2. Build the engine. Auto-complete skips the wait on the intro stage.
	engine, err := sessionflow.New(
		sessionflow.WithSceneLoader(loader),
		sessionflow.WithPresentation(&memory.Fade{}, &memory.HUD{}, &memory.InputMode{}),
		sessionflow.WithActors(world, world),
		sessionflow.WithIntroPolicy(intro.StaticPolicy(domain.IntroAutoComplete)),
	)
	if err != nil {
		log.Fatal(err)
	}
	defer engine.Close()

	// 3. Follow state changes.
	event.On(engine.Bus(), domain.EventSessionEnteredState, func(e domain.SessionEnteredState) {
		fmt.Printf("%s -> %s\n", e.Previous, e.State)
	})

	// 4. Play.
	ctx := context.Background()
	if _, err := engine.RequestStart(ctx); err != nil {
		log.Fatal(err)
	}
	_ = engine.RequestPause(ctx)
	_ = engine.RequestResume(ctx)
	engine.RequestVictory("boss down")

	// Output:
	// boot -> intro_stage
	// intro_stage -> playing
	// playing -> paused
	// paused -> playing
	// playing -> post_play
}

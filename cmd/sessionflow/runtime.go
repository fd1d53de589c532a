package main

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	backend "github.com/redis/go-redis/v9"

	"github.com/aretw0/sessionflow"
	"github.com/aretw0/sessionflow/internal/config"
	"github.com/aretw0/sessionflow/pkg/adapters/mcp"
	"github.com/aretw0/sessionflow/pkg/adapters/memory"
	"github.com/aretw0/sessionflow/pkg/adapters/redis"
	"github.com/aretw0/sessionflow/pkg/degraded"
	"github.com/aretw0/sessionflow/pkg/domain"
	"github.com/aretw0/sessionflow/pkg/observability"
)

// runtime is an Engine wired to in-memory collaborators.
type runtime struct {
	cfg      config.Config
	logger   *slog.Logger
	engine   *sessionflow.Engine
	loader   *memory.SceneLoader
	world    *memory.World
	runState *memory.RunState
	registry *prometheus.Registry
	reports  *redis.Reporter
	recorder *degraded.Recorder

	closers []func()
}

func newRuntime(cfg config.Config) (*runtime, error) {
	rt := &runtime{
		cfg:      cfg,
		logger:   cfg.Logger(),
		loader:   memory.NewSceneLoader(cfg.Scenes.Startup),
		world:    memory.NewWorld(),
		runState: memory.NewRunState("run-state", map[string]int{"lives": 3}),
		registry: prometheus.NewRegistry(),
		recorder: degraded.NewRecorder(0),
	}
	rt.seedWorld()

	reporters := degraded.Multi{rt.recorder}
	if cfg.Redis.Addr != "" {
		client := backend.NewClient(&backend.Options{Addr: cfg.Redis.Addr})
		rt.closers = append(rt.closers, func() { _ = client.Close() })
		rt.reports = redis.NewReporter(client,
			redis.WithKey(cfg.Redis.Key),
			redis.WithMaxEntries(cfg.Redis.MaxEntries),
		)
		reporters = append(reporters, rt.reports)
	}

	opts, err := cfg.EngineOptions()
	if err != nil {
		return nil, err
	}
	opts = append(opts,
		sessionflow.WithLogger(rt.logger),
		sessionflow.WithSceneLoader(rt.loader),
		sessionflow.WithPresentation(&memory.Fade{}, &memory.HUD{}, &memory.InputMode{}),
		sessionflow.WithActors(rt.world, rt.world),
		sessionflow.WithDegradedReporter(reporters),
	)
	eng, err := sessionflow.New(opts...)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to build engine: %w", err)
	}
	rt.engine = eng
	rt.closers = append(rt.closers, eng.Close)

	metrics, err := observability.NewMetrics(rt.registry)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.closers = append(rt.closers, metrics.Attach(eng.Bus()))
	rt.closers = append(rt.closers, eng.RegisterParticipant(rt.runState))
	return rt, nil
}

// seedWorld places one player in every gameplay scene and level.
func (rt *runtime) seedWorld() {
	scenes := append([]string{}, rt.cfg.Scenes.Gameplay...)
	for _, level := range rt.cfg.Scenes.Levels {
		scenes = append(scenes, level...)
	}
	for _, scene := range scenes {
		rt.world.Add(scene, &memory.Actor{ID: "player-" + scene, Kind: domain.KindPlayer})
	}
}

// reportSource prefers Redis and falls back to the in-memory recorder.
func (rt *runtime) reportSource() mcp.ReportSource {
	if rt.reports != nil {
		return rt.reports
	}
	return rt.recorder
}

// Close releases resources in reverse order.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

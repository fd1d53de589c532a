// Package config loads the sessionflow runtime configuration.
//
// Values are resolved in layers: built-in defaults, then an optional YAML file,
// then SESSIONFLOW_* environment variables. The result is validated before use.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/aretw0/sessionflow"
	"github.com/aretw0/sessionflow/internal/logging"
	"github.com/aretw0/sessionflow/pkg/domain"
	"github.com/aretw0/sessionflow/pkg/intro"
	"github.com/aretw0/sessionflow/pkg/reset"
	"github.com/aretw0/sessionflow/pkg/transition"
)

// Config is the full runtime configuration.
type Config struct {
	Mode       string           `mapstructure:"mode" env:"SESSIONFLOW_MODE"`
	LogLevel   string           `mapstructure:"log_level" env:"SESSIONFLOW_LOG_LEVEL"`
	Intro      IntroConfig      `mapstructure:"intro"`
	Scenes     ScenesConfig     `mapstructure:"scenes"`
	Transition TransitionConfig `mapstructure:"transition"`
	Reset      ResetConfig      `mapstructure:"reset"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Redis      RedisConfig      `mapstructure:"redis"`
}

type IntroConfig struct {
	Policy string `mapstructure:"policy" env:"SESSIONFLOW_INTRO_POLICY"`
}

// ScenesConfig names the scenes of the boot cycle. Levels maps a level name to the
// scenes it loads.
type ScenesConfig struct {
	Startup  string              `mapstructure:"startup" env:"SESSIONFLOW_SCENES_STARTUP"`
	Frontend string              `mapstructure:"frontend" env:"SESSIONFLOW_SCENES_FRONTEND"`
	Gameplay []string            `mapstructure:"gameplay" env:"SESSIONFLOW_SCENES_GAMEPLAY" envSeparator:","`
	Levels   map[string][]string `mapstructure:"levels"`
}

type TransitionConfig struct {
	Fade          bool          `mapstructure:"fade" env:"SESSIONFLOW_TRANSITION_FADE"`
	ResetTimeout  time.Duration `mapstructure:"reset_timeout" env:"SESSIONFLOW_TRANSITION_RESET_TIMEOUT"`
	PollInterval  time.Duration `mapstructure:"poll_interval" env:"SESSIONFLOW_TRANSITION_POLL_INTERVAL"`
	DedupWindow   time.Duration `mapstructure:"dedup_window" env:"SESSIONFLOW_TRANSITION_DEDUP_WINDOW"`
	DedupCapacity int           `mapstructure:"dedup_capacity" env:"SESSIONFLOW_TRANSITION_DEDUP_CAPACITY"`
}

type ResetConfig struct {
	GuardWindow    time.Duration `mapstructure:"guard_window" env:"SESSIONFLOW_RESET_GUARD_WINDOW"`
	GuardCapacity  int           `mapstructure:"guard_capacity" env:"SESSIONFLOW_RESET_GUARD_CAPACITY"`
	EssentialRoles []string      `mapstructure:"essential_roles" env:"SESSIONFLOW_RESET_ESSENTIAL_ROLES" envSeparator:","`
	Profiles       []string      `mapstructure:"profiles" env:"SESSIONFLOW_RESET_PROFILES" envSeparator:","`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr" env:"SESSIONFLOW_HTTP_ADDR"`
}

// RedisConfig enables the Redis degraded-report sink when Addr is set.
type RedisConfig struct {
	Addr       string `mapstructure:"addr" env:"SESSIONFLOW_REDIS_ADDR"`
	Key        string `mapstructure:"key" env:"SESSIONFLOW_REDIS_KEY"`
	MaxEntries int64  `mapstructure:"max_entries" env:"SESSIONFLOW_REDIS_MAX_ENTRIES"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Mode:     string(domain.ModeRelease),
		LogLevel: "info",
		Intro:    IntroConfig{Policy: string(domain.IntroManual)},
		Scenes: ScenesConfig{
			Startup:  "Boot",
			Frontend: sessionflow.DefaultScenes.Frontend,
			Gameplay: slices.Clone(sessionflow.DefaultScenes.Gameplay),
		},
		Transition: TransitionConfig{
			Fade:          true,
			ResetTimeout:  transition.DefaultResetTimeout,
			PollInterval:  transition.DefaultResetPoll,
			DedupWindow:   transition.DefaultDedupWindow,
			DedupCapacity: transition.DefaultDedupCapacity,
		},
		Reset: ResetConfig{
			GuardWindow:    reset.DefaultGuardWindow,
			GuardCapacity:  reset.DefaultGuardCapacity,
			EssentialRoles: []string{string(domain.KindPlayer)},
			Profiles:       []string{string(domain.ProfileGameplay)},
		},
		HTTP:  HTTPConfig{Addr: ":8080"},
		Redis: RedisConfig{Key: "sessionflow:degraded", MaxEntries: 1000},
	}
}

// Load resolves the configuration. An empty path skips the file layer.
func Load(path string) (Config, error) {
	var data []byte
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		data = b
	}
	return Parse(data)
}

// Parse applies YAML data and the environment on top of Default.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if len(data) > 0 {
		var raw map[string]any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return Config{}, fmt.Errorf("parse config yaml: %w", err)
		}
		if err := decode(raw, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(raw map[string]any, cfg *Config) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		ZeroFields:       true,
		ErrorUnused:      true,
		Result:           cfg,
	})
	if err != nil {
		return fmt.Errorf("config decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// Validate checks every field that has a closed set of values or a lower bound.
func (c Config) Validate() error {
	var errs []error
	if _, err := domain.ParseMode(c.Mode); err != nil {
		errs = append(errs, err)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if _, err := domain.ParseIntroPolicy(c.Intro.Policy); err != nil {
		errs = append(errs, err)
	}
	if c.Scenes.Frontend == "" {
		errs = append(errs, errors.New("scenes.frontend is required"))
	}
	if len(c.Scenes.Gameplay) == 0 {
		errs = append(errs, errors.New("scenes.gameplay needs at least one scene"))
	}
	for name, scenes := range c.Scenes.Levels {
		if len(scenes) == 0 {
			errs = append(errs, fmt.Errorf("scenes.levels.%s has no scenes", name))
		}
	}
	if c.Transition.ResetTimeout <= 0 {
		errs = append(errs, errors.New("transition.reset_timeout must be positive"))
	}
	if c.Transition.PollInterval <= 0 {
		errs = append(errs, errors.New("transition.poll_interval must be positive"))
	}
	if c.Transition.DedupWindow < 0 || c.Reset.GuardWindow < 0 {
		errs = append(errs, errors.New("dedup and guard windows cannot be negative"))
	}
	if c.Transition.DedupCapacity < 0 || c.Reset.GuardCapacity < 0 || c.Redis.MaxEntries < 0 {
		errs = append(errs, errors.New("capacities cannot be negative"))
	}
	for _, r := range c.Reset.EssentialRoles {
		if _, err := domain.ParseActorKind(r); err != nil {
			errs = append(errs, err)
		}
	}
	for _, p := range c.Reset.Profiles {
		if _, err := domain.ParseProfile(p); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Level returns the scenes of a named level.
func (c Config) Level(name string) ([]string, bool) {
	scenes, ok := c.Scenes.Levels[name]
	return scenes, ok
}

// Logger builds the process logger for the configured level.
func (c Config) Logger() *slog.Logger {
	level, err := logging.ParseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	return logging.New(level)
}

// EngineOptions translates the configuration into Engine options. Collaborators
// (scene loader, presentation, actors) are wired by the caller.
func (c Config) EngineOptions() ([]sessionflow.Option, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	mode, _ := domain.ParseMode(c.Mode)
	policy, _ := domain.ParseIntroPolicy(c.Intro.Policy)

	roles := make([]domain.ActorKind, 0, len(c.Reset.EssentialRoles))
	for _, r := range c.Reset.EssentialRoles {
		kind, _ := domain.ParseActorKind(r)
		roles = append(roles, kind)
	}
	profiles := make([]domain.Profile, 0, len(c.Reset.Profiles))
	for _, p := range c.Reset.Profiles {
		profile, _ := domain.ParseProfile(p)
		profiles = append(profiles, profile)
	}

	return []sessionflow.Option{
		sessionflow.WithMode(mode),
		sessionflow.WithIntroPolicy(intro.StaticPolicy(policy)),
		sessionflow.WithScenes(sessionflow.Scenes{
			Frontend: c.Scenes.Frontend,
			Gameplay: c.Scenes.Gameplay,
		}),
		sessionflow.WithTiming(sessionflow.Timing{
			TransitionDedup: c.Transition.DedupWindow,
			ResetGuard:      c.Reset.GuardWindow,
			ResetPoll:       c.Transition.PollInterval,
			ResetTimeout:    c.Transition.ResetTimeout,
			DedupCapacity:   c.Transition.DedupCapacity,
			GuardCapacity:   c.Reset.GuardCapacity,
		}),
		sessionflow.WithEssentialRoles(roles...),
		sessionflow.WithResetProfiles(profiles...),
		sessionflow.WithFadeTransitions(c.Transition.Fade),
	}, nil
}

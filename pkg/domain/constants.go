package domain

// GateToken names a reservation that keeps the simulation suspended while held.
type GateToken string

// Well-known gate tokens.
const (
	TokenPause           GateToken = "Pause"
	TokenSceneTransition GateToken = "SceneTransition"
	TokenWorldReset      GateToken = "WorldReset"
	TokenContentSwap     GateToken = "ContentSwap"
	TokenMenu            GateToken = "Menu"
)

// Degraded-mode feature keys used when reporting.
const (
	FeatureGate        = "gate"
	FeatureSceneLoader = "scene_loader"
	FeatureFade        = "fade"
	FeatureHUD         = "hud"
	FeatureInputMode   = "input_mode"
	FeatureResetWait   = "transition.reset_wait"
	FeatureActorLookup = "reset.actor_registry"
	FeatureSpawn       = "reset.spawn"
	FeatureClassifier  = "reset.classification"
	FeatureIntro       = "intro"
	FeatureResetRunner = "reset.runner"
	FeatureOutcome     = "session.outcome"
	FeatureContentSwap = "content_swap"
)

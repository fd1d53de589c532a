package tests

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/sessionflow/pkg/domain"
	"github.com/aretw0/sessionflow/pkg/ports"
)

// SceneLoaderContractTest verifies that an adapter complies with ports.SceneLoader.
// The loader must start with no scene named "contract-a" or "contract-b" loaded.
func SceneLoaderContractTest(t *testing.T, loader ports.SceneLoader) {
	t.Helper()
	ctx := context.Background()

	t.Run("LoadIsIdempotent", func(t *testing.T) {
		require.NoError(t, loader.LoadScene(ctx, "contract-a"))
		require.NoError(t, loader.LoadScene(ctx, "contract-a"))
	})

	t.Run("SetActiveScene", func(t *testing.T) {
		require.NoError(t, loader.SetActiveScene(ctx, "contract-a"))
		assert.Equal(t, "contract-a", loader.ActiveScene())
	})

	t.Run("SetActiveRequiresLoadedScene", func(t *testing.T) {
		assert.Error(t, loader.SetActiveScene(ctx, "contract-b"))
	})

	t.Run("UnloadIsIdempotent", func(t *testing.T) {
		require.NoError(t, loader.UnloadScene(ctx, "contract-a"))
		require.NoError(t, loader.UnloadScene(ctx, "contract-a"))
		require.NoError(t, loader.UnloadScene(ctx, "contract-b"))
	})
}

// GateContractTest verifies that an adapter complies with ports.SimulationGate.
// The gate must start open.
func GateContractTest(t *testing.T, g ports.SimulationGate) {
	t.Helper()

	require.True(t, g.IsOpen(), "gate must start open")

	g.Release(domain.TokenMenu)
	assert.True(t, g.IsOpen(), "releasing an unheld token must not close the gate")

	g.Acquire(domain.TokenPause)
	g.Acquire(domain.TokenSceneTransition)
	assert.False(t, g.IsOpen())
	assert.True(t, g.IsTokenActive(domain.TokenPause))

	g.Release(domain.TokenPause)
	assert.False(t, g.IsOpen())
	assert.False(t, g.IsTokenActive(domain.TokenPause))

	g.Release(domain.TokenSceneTransition)
	assert.True(t, g.IsOpen())
}

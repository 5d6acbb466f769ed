package commands

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liberty-specpriv/specpriv/pkg/observability"
	"github.com/liberty-specpriv/specpriv/pkg/specrt"
)

func testProviders(t *testing.T) observability.Providers {
	t.Helper()

	providers, err := observability.Init(observability.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = providers.Shutdown(context.Background()) })

	return providers
}

// setupStageEnv maps stageCount stages' shared segments and points the
// environment variables OpenStageResources reads at them, the way
// SpawnWorkers would for a real spawned worker. Deliberately not run
// under t.Parallel(): the segments it mmaps live at fixed addresses keyed
// only by stage index, so two of these running concurrently in the same
// process would race on the same addresses.
func setupStageEnv(t *testing.T, stageCount int) {
	t.Helper()

	resources, err := specrt.CreatePipelineResources(stageCount)
	require.NoError(t, err)

	t.Cleanup(func() {
		for _, r := range resources {
			_ = r.Close()
			_ = r.Unlink()
		}
	})

	for _, kv := range specrt.EnvFor(resources) {
		k, v, ok := strings.Cut(kv, "=")
		require.True(t, ok)
		t.Setenv(k, v)
	}
}

func TestRunWorkerStageCommitsCleanIterations(t *testing.T) {
	providers := testProviders(t)
	metrics, err := observability.NewRuntimeMetrics(providers.Meter)
	require.NoError(t, err)

	setupStageEnv(t, 1)

	err = runWorkerStage(context.Background(), providers, metrics, 0, 5)
	assert.NoError(t, err)
}

func TestRunWorkerStageZeroIterationsFinishesImmediately(t *testing.T) {
	providers := testProviders(t)
	metrics, err := observability.NewRuntimeMetrics(providers.Meter)
	require.NoError(t, err)

	setupStageEnv(t, 3)

	err = runWorkerStage(context.Background(), providers, metrics, 2, 0)
	assert.NoError(t, err)
}

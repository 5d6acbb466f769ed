package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liberty-specpriv/specpriv/pkg/config"
)

func TestBuildRunConfigFromParamsDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.BuildRunConfigFromParams(config.Params{})
	require.NoError(t, err)

	def := config.DefaultRunConfig()
	assert.Equal(t, def.Workers, cfg.Workers)
	assert.Equal(t, def.QueueCapacity, cfg.QueueCapacity)
	assert.Equal(t, def.SegmentSize, cfg.SegmentSize)
}

func TestBuildRunConfigFromParamsWorkers(t *testing.T) {
	t.Parallel()

	cfg, err := config.BuildRunConfigFromParams(config.Params{Workers: 8})
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Workers)
}

func TestBuildRunConfigFromParamsRejectsNegativeWorkers(t *testing.T) {
	t.Parallel()

	_, err := config.BuildRunConfigFromParams(config.Params{Workers: -1})
	assert.ErrorIs(t, err, config.ErrInvalidWorkers)
}

func TestBuildRunConfigFromParamsSegmentSize(t *testing.T) {
	t.Parallel()

	cfg, err := config.BuildRunConfigFromParams(config.Params{SegmentSize: "256MiB"})
	require.NoError(t, err)

	assert.Equal(t, int64(256*1024*1024), cfg.SegmentSize)
}

func TestBuildRunConfigFromParamsRejectsBadSegmentSize(t *testing.T) {
	t.Parallel()

	_, err := config.BuildRunConfigFromParams(config.Params{SegmentSize: "not-a-size"})
	assert.ErrorIs(t, err, config.ErrInvalidSizeFormat)
}

func TestBuildRunConfigFromParamsRejectsNegativeGCPercent(t *testing.T) {
	t.Parallel()

	_, err := config.BuildRunConfigFromParams(config.Params{GCPercent: -5})
	assert.ErrorIs(t, err, config.ErrInvalidGCPercent)
}

func TestBuildRunConfigFromParamsBallastSize(t *testing.T) {
	t.Parallel()

	cfg, err := config.BuildRunConfigFromParams(config.Params{BallastSize: "1GiB"})
	require.NoError(t, err)

	assert.Equal(t, int64(1024*1024*1024), cfg.BallastSize)
}

func TestBuildRunConfigFromParamsEmptyBallastIsZero(t *testing.T) {
	t.Parallel()

	cfg, err := config.BuildRunConfigFromParams(config.Params{})
	require.NoError(t, err)

	assert.Zero(t, cfg.BallastSize)
}

func TestParseOptionalSizeZero(t *testing.T) {
	t.Parallel()

	got, err := config.ParseOptionalSize("0")
	require.NoError(t, err)
	assert.Zero(t, got)
}

func TestParseOptionalSizeParsesHumanSize(t *testing.T) {
	t.Parallel()

	got, err := config.ParseOptionalSize("4MiB")
	require.NoError(t, err)
	assert.Equal(t, int64(4*1024*1024), got)
}

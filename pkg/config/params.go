package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// Sentinel errors for configuration.
var (
	ErrInvalidSizeFormat = errors.New("invalid size format")
	ErrInvalidGCPercent  = errors.New("invalid GC percent")
	ErrInvalidWorkers    = errors.New("worker count must be positive")
)

// maxInt64 is the largest value int64 can hold, used to clamp uint64 sizes.
const maxInt64 = int64(^uint64(0) >> 1)

// Params holds raw CLI parameter values for building a RunConfig. Size
// strings use humanize format (e.g. "64MB", "1GiB").
type Params struct {
	Workers       int
	QueueCapacity int
	SegmentSize   string
	ProfilePath   string
	GCPercent     int
	BallastSize   string
}

// BuildRunConfigFromParams builds a RunConfig from raw CLI parameters,
// overlaying them onto DefaultRunConfig() wherever a param was actually set.
func BuildRunConfigFromParams(params Params) (RunConfig, error) {
	cfg := DefaultRunConfig()

	if params.Workers < 0 {
		return RunConfig{}, fmt.Errorf("%w: %d", ErrInvalidWorkers, params.Workers)
	}

	if params.Workers > 0 {
		cfg.Workers = params.Workers
	}

	if params.QueueCapacity > 0 {
		cfg.QueueCapacity = params.QueueCapacity
	}

	if params.ProfilePath != "" {
		cfg.ProfilePath = params.ProfilePath
	}

	if params.SegmentSize != "" {
		size, err := humanize.ParseBytes(params.SegmentSize)
		if err != nil {
			return RunConfig{}, fmt.Errorf("%w for segment-size: %s", ErrInvalidSizeFormat, params.SegmentSize)
		}

		cfg.SegmentSize = safeInt64(size)
	}

	if params.GCPercent < 0 {
		return RunConfig{}, fmt.Errorf("%w: %d", ErrInvalidGCPercent, params.GCPercent)
	}

	cfg.GCPercent = params.GCPercent

	ballastBytes, err := ParseOptionalSize(params.BallastSize)
	if err != nil {
		return RunConfig{}, err
	}

	cfg.BallastSize = ballastBytes

	return cfg, nil
}

// ParseOptionalSize parses a human-readable size string, returning 0 for
// empty or "0".
func ParseOptionalSize(sizeValue string) (int64, error) {
	trimmed := strings.TrimSpace(sizeValue)
	if trimmed == "" || trimmed == "0" {
		return 0, nil
	}

	parsed, err := humanize.ParseBytes(trimmed)
	if err != nil {
		return 0, fmt.Errorf("%w for ballast-size: %s", ErrInvalidSizeFormat, sizeValue)
	}

	return safeInt64(parsed), nil
}

// safeInt64 converts uint64 to int64, clamping to maxInt64 to prevent overflow.
func safeInt64(v uint64) int64 {
	if v > uint64(maxInt64) {
		return maxInt64
	}

	return int64(v)
}

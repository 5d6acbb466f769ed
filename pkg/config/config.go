// Package config builds and validates the runtime configuration a speculative
// parallel run is launched with: worker/stage count, heap segment and
// software-queue sizing, and the runtime tuning knobs (GC percent, ballast)
// the coordinator applies before spawning workers.
package config

import (
	"runtime"

	"github.com/liberty-specpriv/specpriv/pkg/squeue"
)

// percentDivisor converts percentage ratios (e.g. 60, 75) to fractions.
const percentDivisor = 100

// optimalWorkerRatio is the fraction of CPU cores to use for speculative
// worker stages, leaving headroom for the dedicated committer process.
const optimalWorkerRatio = 75

// defaultSegmentSize is the default size of one versioned heap segment (64 MiB).
const defaultSegmentSize = 64 * 1024 * 1024

// defaultQueueCapacity is the default software-queue ring capacity in words.
const defaultQueueCapacity = squeue.QSize

// RunConfig configures one speculative parallel run.
type RunConfig struct {
	// Workers is the number of pipeline stage processes to spawn.
	Workers int

	// QueueCapacity is the number of uint64 words each inter-stage software
	// queue holds.
	QueueCapacity int

	// SegmentSize is the size in bytes of each versioned heap segment
	// mapped per worker.
	SegmentSize int64

	// ProfilePath, when set, is read at plan time to seed heap assignment
	// decisions with observed short-lived/long-lived classifications.
	ProfilePath string

	// GCPercent controls Go's GC aggressiveness in the committer process.
	// Zero uses Go's default (100).
	GCPercent int

	// BallastSize reserves bytes in a long-lived slice to smooth GC
	// behavior in the committer process. Zero disables it.
	BallastSize int64
}

// DefaultRunConfig returns the default configuration for the current machine.
func DefaultRunConfig() RunConfig {
	workers := max(runtime.NumCPU()*optimalWorkerRatio/percentDivisor, 1)

	return RunConfig{
		Workers:       workers,
		QueueCapacity: defaultQueueCapacity,
		SegmentSize:   defaultSegmentSize,
		GCPercent:     0,
		BallastSize:   0,
	}
}

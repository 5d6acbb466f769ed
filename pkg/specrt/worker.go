package specrt

import (
	"fmt"
	"log/slog"
)

// ViolationDetector reports whether iteration iter's speculative work
// turned out to have read a value a later-committing producer
// overwrote, the condition that forces a misspeculation.
type ViolationDetector interface {
	CheckViolation(iter uint64) (violated bool, reason string)
}

// Worker runs one pipeline stage's body across a range of loop iterations
// in its own process, advancing through BeginIter/EndIter pairs and
// reacting to misspeculation the same way regardless of which stage it
// executes.
type Worker struct {
	StageIndex int
	channel    *Channel
	detector   ViolationDetector
	logger     *slog.Logger

	iteration      uint64
	recoveryPoint  uint64 // first iteration the next recovery re-executes from
}

// NewWorker creates a Worker for the given pipeline stage.
func NewWorker(stageIndex int, detector ViolationDetector, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{StageIndex: stageIndex, channel: NewChannel(), detector: detector, logger: logger}
}

// Channel exposes the worker's channel-mode state machine.
func (w *Worker) Channel() *Channel { return w.channel }

// BeginIter marks the start of one loop iteration's speculative work.
func (w *Worker) BeginIter(iter uint64) error {
	if w.channel.Mode() != VerOK {
		return fmt.Errorf("specrt: stage %d cannot begin iteration %d in mode %s", w.StageIndex, iter, w.channel.Mode())
	}

	w.iteration = iter
	w.logger.Debug("begin_iter", "stage", w.StageIndex, "iter", iter)

	return nil
}

// EndIter closes out the iteration begun by BeginIter, checking for a
// dependence violation and transitioning the channel to VerMisspec if one
// occurred.
func (w *Worker) EndIter() (misspeculated bool, err error) {
	violated, reason := w.detector.CheckViolation(w.iteration)
	if !violated {
		w.logger.Debug("end_iter", "stage", w.StageIndex, "iter", w.iteration)

		return false, nil
	}

	w.logger.Warn("misspeculation detected", "stage", w.StageIndex, "iter", w.iteration, "reason", reason)

	if err := w.channel.Transition(VerMisspec); err != nil {
		return true, err
	}

	return true, nil
}

// DoRecovery walks the channel through VerMisspec -> VerRecover -> VerOK,
// re-executing iterations from the last known-good recovery point
// non-speculatively so committed state is reconstructed exactly.
func (w *Worker) DoRecovery(reExecute func(fromIter, toIter uint64) error) error {
	if err := w.channel.Transition(VerRecover); err != nil {
		return err
	}

	w.logger.Info("recovering", "stage", w.StageIndex, "from", w.recoveryPoint, "to", w.iteration)

	if err := reExecute(w.recoveryPoint, w.iteration); err != nil {
		return fmt.Errorf("specrt: recovery re-execution failed: %w", err)
	}

	w.recoveryPoint = w.iteration + 1

	return w.channel.Transition(VerOK)
}

// WorkerFinishes marks this worker's iteration range exhausted.
func (w *Worker) WorkerFinishes() error {
	return w.channel.Transition(VerTerm)
}

// CommitStage is one committer step for one worker: it returns nil at once
// if the worker's channel is VerTerm, runs recovery first if it is
// VerMisspec, and then commits the worker's current iteration and returns.
// It does not wait for further iterations; callers invoke it again for
// each one.
func CommitStage(w *Worker, reExecute func(fromIter, toIter uint64) error, commitIter func(iter uint64) error) error {
	for {
		switch w.channel.Mode() {
		case VerTerm:
			return nil
		case VerMisspec:
			if err := w.DoRecovery(reExecute); err != nil {
				return err
			}
		case VerOK:
			if err := commitIter(w.iteration); err != nil {
				return fmt.Errorf("specrt: committing iteration %d: %w", w.iteration, err)
			}

			return nil
		default:
			return fmt.Errorf("specrt: stage %d committer observed unexpected mode %s", w.StageIndex, w.channel.Mode())
		}
	}
}

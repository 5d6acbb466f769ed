package txio

import (
	"context"
	"fmt"
	"runtime"
)

// Replayer performs one suspended sub-event for real, in the committer
// process, once progressive commit has determined it is safe to do so in
// program order.
type Replayer interface {
	Replay(e SubEvent) error
}

// Committer drives the progressive commit walk over a Tree: it always
// replays sub-events from the logically-earliest outstanding transaction,
// and only moves on to the next transaction once the current one is
// marked ready and fully drained, guaranteeing the replayed I/O stream is
// indistinguishable from the sequential execution it speculates around.
type Committer struct {
	tree     *Tree
	replayer Replayer
}

// NewCommitter creates a Committer that replays through replayer.
func NewCommitter(tree *Tree, replayer Replayer) *Committer {
	return &Committer{tree: tree, replayer: replayer}
}

// Step attempts to make one unit of progress: replay every pending
// sub-event of the earliest transaction, and retire it if it is now Done.
// It returns false when no progress was possible (the tree is empty, or
// the earliest transaction has no pending events and is not yet ready),
// which callers treat as "block until more events arrive".
func (c *Committer) Step() (progressed bool, err error) {
	tx := c.tree.Peek()
	if tx == nil {
		return false, nil
	}

	pending := tx.Pending()
	if len(pending) == 0 {
		if tx.Done() {
			c.tree.Remove()

			return true, nil
		}

		return false, nil
	}

	for _, e := range pending {
		if err := c.replayer.Replay(e); err != nil {
			return false, fmt.Errorf("txio: replaying %s event (seq %d): %w", e.Kind, e.Seq, err)
		}
	}

	tx.Commit(len(pending))

	if tx.Done() {
		c.tree.Remove()
	}

	return true, nil
}

// Run drives Step in a loop until ctx is cancelled or the tree is
// permanently empty (drained reports true and no further transactions
// will ever be inserted).
func (c *Committer) Run(ctx context.Context, drained func() bool) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		progressed, err := c.Step()
		if err != nil {
			return err
		}

		if !progressed {
			if c.tree.Len() == 0 && drained() {
				return nil
			}

			runtime.Gosched()
		}
	}
}

package specrt

import (
	"fmt"
	"sync"

	"github.com/liberty-specpriv/specpriv/pkg/txio"
)

// TxDetector is the ViolationDetector backed by the pipeline's shared
// txio.Tree: every iteration's speculative work is issued as a
// Transaction tagged with its program-order TimeVector, and a dependence
// violation is whatever the tree would refuse to accept next in program
// order, rather than a synthetic always-clean result.
type TxDetector struct {
	mu      sync.Mutex
	stage   int
	tree    *txio.Tree
	last    txio.TimeVector
	pending map[uint64]*txio.Transaction
}

// NewTxDetector creates a TxDetector for stage that checks misspeculation
// against tree, the transaction tree shared with the committer. start is
// the TimeVector this stage's first issued iteration is expected to be
// adjacent to.
func NewTxDetector(stage int, tree *txio.Tree, start txio.TimeVector) *TxDetector {
	return &TxDetector{
		stage:   stage,
		tree:    tree,
		last:    start.Clone(),
		pending: make(map[uint64]*txio.Transaction),
	}
}

// Issue registers iter's TimeVector and the sub-events a worker produced
// while running it speculatively, inserting the transaction into the
// shared tree so the committer can replay it, and stashing it so a later
// CheckViolation call can compare it against program order.
func (d *TxDetector) Issue(iter uint64, tv txio.TimeVector, events []txio.SubEvent) {
	tx := &txio.Transaction{Time: tv}
	for _, e := range events {
		tx.AddEvent(e)
	}

	tx.MarkReady()

	d.mu.Lock()
	d.pending[iter] = tx
	d.mu.Unlock()

	d.tree.Insert(tx)
}

// CheckViolation reports a misspeculation when iter's transaction is not
// Adjacent, in program order, to the last TimeVector this detector
// confirmed: a gap or an out-of-order arrival means some iteration this
// one's speculative work depended on has not actually committed the
// value it ran ahead of.
func (d *TxDetector) CheckViolation(iter uint64) (violated bool, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, ok := d.pending[iter]
	if !ok {
		return false, ""
	}

	if !d.last.Adjacent(tx.Time) {
		return true, fmt.Sprintf("stage %d iteration %d committed out of program order: last %s, this %s",
			d.stage, iter, d.last, tx.Time)
	}

	d.last = tx.Time.Clone()
	delete(d.pending, iter)

	return false, ""
}

// Reissue re-registers iter at tv, the path DoRecovery takes when
// replaying an iteration non-speculatively: the recovered transaction
// must still land in the tree so the committer eventually replays it.
func (d *TxDetector) Reissue(iter uint64, tv txio.TimeVector) {
	d.Issue(iter, tv, nil)
}

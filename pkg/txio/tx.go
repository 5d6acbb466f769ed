package txio

import "container/heap"

// SubEvent is one suspended operation within a transaction: a single I/O
// call a worker could not perform immediately, captured with enough
// information for the committer to replay it later.
type SubEvent struct {
	Seq     uint64 // order within the owning transaction
	Kind    string // e.g. "write", "read", "flush"
	Payload []byte
}

// Transaction is one worker iteration's complete set of suspended I/O
// operations, tagged with the TimeVector the committer uses to decide
// when it is safe to replay.
type Transaction struct {
	Time   TimeVector
	Events []SubEvent // kept sorted by Seq

	ready  bool // every expected sub-event has arrived
	upto   int  // how many of Events have already been committed
}

// AddEvent appends a sub-event, keeping Events ordered by Seq (sub-events
// usually arrive in order already; the insertion sort is cheap for the
// rare out-of-order arrival and keeps committing a pure linear scan).
func (t *Transaction) AddEvent(e SubEvent) {
	i := len(t.Events)

	for i > 0 && t.Events[i-1].Seq > e.Seq {
		i--
	}

	t.Events = append(t.Events, SubEvent{})
	copy(t.Events[i+1:], t.Events[i:])
	t.Events[i] = e
}

// MarkReady records that the worker that owns t has finished its
// iteration: no further sub-events will be added.
func (t *Transaction) MarkReady() { t.ready = true }

// Pending returns the sub-events not yet committed.
func (t *Transaction) Pending() []SubEvent {
	return t.Events[t.upto:]
}

// Commit marks n more sub-events committed.
func (t *Transaction) Commit(n int) {
	t.upto += n
}

// Done reports whether every sub-event has been committed and the
// transaction is marked ready (no more will ever arrive).
func (t *Transaction) Done() bool {
	return t.ready && t.upto >= len(t.Events)
}

// txHeap is a container/heap priority queue of transactions ordered by
// TimeVector, so the committer always considers the logically-earliest
// outstanding transaction first.
type txHeap []*Transaction

func (h txHeap) Len() int            { return len(h) }
func (h txHeap) Less(i, j int) bool  { return h[i].Time.Less(h[j].Time) }
func (h txHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *txHeap) Push(x interface{}) { *h = append(*h, x.(*Transaction)) }

func (h *txHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]

	return item
}

// Tree is the transaction tree: every outstanding transaction across every
// worker, ordered so the committer can always find the program-order-next
// one ready to progress.
type Tree struct {
	pq txHeap
}

// NewTree creates an empty transaction tree.
func NewTree() *Tree {
	t := &Tree{}
	heap.Init(&t.pq)

	return t
}

// Insert adds tx to the tree.
func (t *Tree) Insert(tx *Transaction) {
	heap.Push(&t.pq, tx)
}

// Peek returns the logically-earliest transaction without removing it, or
// nil if the tree is empty.
func (t *Tree) Peek() *Transaction {
	if len(t.pq) == 0 {
		return nil
	}

	return t.pq[0]
}

// Remove pops and discards the logically-earliest transaction, called
// once it reports Done().
func (t *Tree) Remove() *Transaction {
	if len(t.pq) == 0 {
		return nil
	}

	return heap.Pop(&t.pq).(*Transaction)
}

// Len reports how many transactions remain outstanding.
func (t *Tree) Len() int { return len(t.pq) }

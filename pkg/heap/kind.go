// Package heap implements the versioned heap layer: the static AU ->
// HeapKind assignment that the Critic/Remediator/Transform stages consume,
// and the runtime shared-memory segments that back each heap kind at
// execution time.
package heap

import "github.com/liberty-specpriv/specpriv/pkg/ctxau"

// Kind is one of the eight heap classifications an AU can be assigned.
type Kind int

const (
	Unclassified Kind = iota
	Shared
	Local
	Private
	ReadOnly
	Redux
	KillPrivate
	SharePrivate
)

func (k Kind) String() string {
	switch k {
	case Shared:
		return "Shared"
	case Local:
		return "Local"
	case Private:
		return "Private"
	case ReadOnly:
		return "ReadOnly"
	case Redux:
		return "Redux"
	case KillPrivate:
		return "KillPrivate"
	case SharePrivate:
		return "SharePrivate"
	default:
		return "Unclassified"
	}
}

// ReductionOp enumerates the operators a Redux-kind AU may combine with at
// commit time.
type ReductionOp int

const (
	ReduxNone ReductionOp = iota
	ReduxAdd
	ReduxMul
	ReduxMin
	ReduxMax
	ReduxOr
	ReduxAnd
	ReduxXor
)

// NumSubheaps is the number of allocation namespaces each heap segment is
// statically partitioned into.
const NumSubheaps = 16

// entry is one AU's heap classification inside an Assignment, which is
// built once per selected loop and then treated as immutable.
type entry struct {
	kind    Kind
	subheap int
	redux   ReductionOp
}

// Assignment maps every AU considered for a loop to exactly one HeapKind
// plus a sub-heap id.
type Assignment struct {
	entries map[*ctxau.AU]entry
}

// NewAssignment creates an empty heap assignment.
func NewAssignment() *Assignment {
	return &Assignment{entries: make(map[*ctxau.AU]entry)}
}

// Assign records au's classification. Calling Assign twice for the same AU
// with a different kind is a programmer error; every AU is meant to settle
// on exactly one kind. The second call overwrites rather than panicking.
func (a *Assignment) Assign(au *ctxau.AU, kind Kind, subheap int, redux ReductionOp) {
	a.entries[au] = entry{kind: kind, subheap: subheap, redux: redux}
}

// KindOf returns au's assigned kind, or Unclassified if never assigned.
// Unclassified AUs reduce the applicability of Locality remedies but are
// not otherwise fatal.
func (a *Assignment) KindOf(au *ctxau.AU) Kind {
	e, ok := a.entries[au]
	if !ok {
		return Unclassified
	}

	return e.kind
}

// SubheapOf returns au's sub-heap id, or 0 if unassigned.
func (a *Assignment) SubheapOf(au *ctxau.AU) int {
	return a.entries[au].subheap
}

// ReduxOpOf returns au's reduction operator; only meaningful when
// KindOf(au) == Redux.
func (a *Assignment) ReduxOpOf(au *ctxau.AU) ReductionOp {
	return a.entries[au].redux
}

// Disjoint reports whether a and b are assigned to different (kind,
// subheap) pairs, the condition the Locality remedy's "disjoint
// heaps/sub-heaps" clause checks.
func (a *Assignment) Disjoint(au1, au2 *ctxau.AU) bool {
	e1, ok1 := a.entries[au1]
	e2, ok2 := a.entries[au2]

	if !ok1 || !ok2 {
		return false
	}

	return e1.kind != e2.kind || e1.subheap != e2.subheap
}

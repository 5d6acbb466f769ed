package heap_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/liberty-specpriv/specpriv/pkg/ctxau"
	"github.com/liberty-specpriv/specpriv/pkg/heap"
)

func TestAssignmentEveryAUHasAKind(t *testing.T) {
	m := ctxau.NewManager()
	au := m.FoldAU(ctxau.AUHeap, "%call", m.NewFunctionCtx("main"))

	a := heap.NewAssignment()
	assert.Equal(t, heap.Unclassified, a.KindOf(au))

	a.Assign(au, heap.Private, 3, heap.ReduxNone)
	assert.Equal(t, heap.Private, a.KindOf(au))
	assert.Equal(t, 3, a.SubheapOf(au))
}

func TestAssignmentDisjoint(t *testing.T) {
	m := ctxau.NewManager()
	fn := m.NewFunctionCtx("main")
	au1 := m.FoldAU(ctxau.AUHeap, "%a", fn)
	au2 := m.FoldAU(ctxau.AUHeap, "%b", fn)

	a := heap.NewAssignment()
	a.Assign(au1, heap.Private, 0, heap.ReduxNone)
	a.Assign(au2, heap.Private, 0, heap.ReduxNone)
	assert.False(t, a.Disjoint(au1, au2), "same kind and sub-heap")

	a.Assign(au2, heap.Private, 1, heap.ReduxNone)
	assert.True(t, a.Disjoint(au1, au2), "different sub-heap")

	a.Assign(au2, heap.Shared, 0, heap.ReduxNone)
	assert.True(t, a.Disjoint(au1, au2), "different kind")
}

func TestBaseAddressDeterministicAndSpaced(t *testing.T) {
	a0 := heap.BaseAddress(0)
	a1 := heap.BaseAddress(1)
	a0Again := heap.BaseAddress(0)

	assert.Equal(t, a0, a0Again, "same index always yields the same address")
	assert.Greater(t, a1, a0, "successive segments are laid out at increasing addresses")
	assert.GreaterOrEqual(t, a1-a0, uintptr(1)<<30, "segments are spaced wide enough to hold NumSubheaps sub-heaps")
}

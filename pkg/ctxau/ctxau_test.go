package ctxau_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liberty-specpriv/specpriv/pkg/ctxau"
)

// fold(Ctx) results are equal iff the argument Ctxs are structurally equal,
// and likewise for AUs.
func TestFoldCanonicalization(t *testing.T) {
	m := ctxau.NewManager()

	f1 := m.NewFunctionCtx("main")
	f2 := m.NewFunctionCtx("main")
	assert.Same(t, f1, f2, "structurally equal Ctx must fold to the same pointer")

	other := m.NewFunctionCtx("helper")
	assert.NotSame(t, f1, other)

	l1 := m.NewLoopCtx("loop.header", 1, f1)
	l2 := m.NewLoopCtx("loop.header", 1, f2)
	assert.Same(t, l1, l2)

	a1 := m.FoldAU(ctxau.AUHeap, "%call1", l1)
	a2 := m.FoldAU(ctxau.AUHeap, "%call1", l2)
	assert.Same(t, a1, a2)

	a3 := m.FoldAU(ctxau.AUHeap, "%call2", l1)
	assert.NotSame(t, a1, a3)
}

func TestTopIsSingleton(t *testing.T) {
	m := ctxau.NewManager()
	assert.Same(t, ctxau.Top, m.FoldCtx(ctxau.CtxTop, "", "", 0, nil))
}

// Ctx.Matches is reflexive and transitive.
func TestMatchesReflexiveTransitive(t *testing.T) {
	m := ctxau.NewManager()

	f := m.NewFunctionCtx("main")
	l1 := m.NewLoopCtx("outer", 1, f)
	l2 := m.NewLoopCtx("inner", 2, l1)

	assert.True(t, l2.Matches(l2), "reflexive")
	assert.True(t, l1.Matches(l1))
	assert.True(t, ctxau.Top.Matches(ctxau.Top))

	// l2's full chain [Top, Function(main), Loop(outer), Loop(inner)]
	// matches l1's chain [Top, Function(main), Loop(outer)] as a subsequence.
	require.True(t, l2.Matches(l1))
	require.True(t, l1.Matches(f))
	// transitivity: l2.Matches(l1) && l1.Matches(f) => l2.Matches(f)
	assert.True(t, l2.Matches(f))

	// A context with a step absent from l2's chain does not match.
	otherFn := m.NewFunctionCtx("other")
	assert.False(t, l2.Matches(otherFn))
}

func TestMatchesAllowsGaps(t *testing.T) {
	m := ctxau.NewManager()

	f := m.NewFunctionCtx("main")
	l1 := m.NewLoopCtx("outer", 1, f)
	l2 := m.NewLoopCtx("middle", 2, l1)
	l3 := m.NewLoopCtx("inner", 3, l2)

	// l3's chain contains l1's steps with a gap (l2 in between); Matches
	// allows gaps as long as order is preserved.
	assert.True(t, l3.Matches(l1))
}

func TestAUEqualAcceptsMatchingContext(t *testing.T) {
	m := ctxau.NewManager()

	f := m.NewFunctionCtx("main")
	l1 := m.NewLoopCtx("outer", 1, f)
	l2 := m.NewLoopCtx("inner", 2, l1)

	a1 := m.FoldAU(ctxau.AUHeap, "%x", l1)
	a2 := m.FoldAU(ctxau.AUHeap, "%x", l2)

	assert.True(t, a1.Equal(a2), "AU contexts related by Matches are equal")
}

func TestCloneContextFlattensChains(t *testing.T) {
	m := ctxau.NewManager()

	f := m.NewFunctionCtx("orig")
	loop := m.NewLoopCtx("loop.hdr", 1, f)
	au := m.FoldAU(ctxau.AUHeap, "%call", loop)

	vmap := ctxau.ValueMap{"orig": "clone1", "loop.hdr": "loop.hdr.clone1"}
	cmap, amap := m.CloneContext(f, vmap)

	require.NotEmpty(t, cmap)
	clonedF, ok := cmap[f]
	require.True(t, ok)
	assert.Equal(t, "clone1", clonedF.Fn())

	clonedLoop, ok := cmap[loop]
	require.True(t, ok)
	assert.Equal(t, "loop.hdr.clone1", clonedLoop.Header())

	clonedAU, ok := amap[au]
	require.True(t, ok)
	assert.Same(t, clonedLoop, clonedAU.Ctx())
}

func TestInlineContextReparentsChildren(t *testing.T) {
	m := ctxau.NewManager()

	f := m.NewFunctionCtx("callee")
	outer := m.NewLoopCtx("outer", 1, f)
	inner := m.NewLoopCtx("inner", 2, outer)

	cmap, _ := m.InlineContext(outer, ctxau.ValueMap{})

	replacement, ok := cmap[outer]
	require.True(t, ok)
	assert.Same(t, f, replacement, "oldCtx is replaced by its parent")

	innerClone, ok := cmap[inner]
	require.True(t, ok)
	assert.Same(t, f, innerClone.Parent(), "children reparented through the inlined ctx")
}

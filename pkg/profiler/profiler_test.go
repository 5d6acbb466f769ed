package profiler_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liberty-specpriv/specpriv/pkg/ctxau"
	"github.com/liberty-specpriv/specpriv/pkg/profiler"
)

func TestShortLivedClassification(t *testing.T) {
	m := ctxau.NewManager()
	au := m.FoldAU(ctxau.AUHeap, "%node", m.NewLoopCtx("loop", 1, m.NewFunctionCtx("main")))

	p := profiler.New()
	for i := 0; i < 10; i++ {
		p.Alloc(au, uintptr(0x1000+i*16), 16)
		p.Free(uintptr(0x1000 + i*16))
	}
	p.FinalizeLiveObjects()

	report := profiler.BuildReport(p)
	require.Len(t, report.Objects, 1)
	assert.Equal(t, profiler.ShortLived, report.Objects[0].Classification)
}

func TestLongLivedWhenStillLiveAtExit(t *testing.T) {
	m := ctxau.NewManager()
	au := m.FoldAU(ctxau.AUHeap, "%cache", m.NewFunctionCtx("main"))

	p := profiler.New()
	p.Alloc(au, 0x2000, 64)
	p.FinalizeLiveObjects()

	report := profiler.BuildReport(p)
	require.Len(t, report.Objects, 1)
	assert.Equal(t, profiler.LongLived, report.Objects[0].Classification)
}

func TestValuePredictionInvalidatedByDivergence(t *testing.T) {
	m := ctxau.NewManager()
	au := m.FoldAU(ctxau.AUHeap, "%flag", m.NewFunctionCtx("main"))

	p := profiler.New()
	p.Load(au, 1)
	p.Load(au, 1)
	p.Load(au, 2)

	o, ok := profiler.BuildReport(p).Lookup(au)
	require.True(t, ok)
	assert.False(t, o.PredictionValid)
}

func TestValuePredictionHoldsWhenConstant(t *testing.T) {
	m := ctxau.NewManager()
	au := m.FoldAU(ctxau.AUHeap, "%flag", m.NewFunctionCtx("main"))

	p := profiler.New()
	p.Load(au, 7)
	p.Load(au, 7)

	o, ok := profiler.BuildReport(p).Lookup(au)
	require.True(t, ok)
	assert.True(t, o.PredictionValid)
	assert.Equal(t, int64(7), o.PredictedValue)
}

func TestResidueDisjointness(t *testing.T) {
	m := ctxau.NewManager()
	a := m.FoldAU(ctxau.AUHeap, "%a", m.NewFunctionCtx("main"))
	b := m.FoldAU(ctxau.AUHeap, "%b", m.NewFunctionCtx("main"))

	p := profiler.New()
	p.PointsToInst(a, 0x1000)
	p.PointsToInst(b, 0x2001)

	ra, _ := profiler.BuildReport(p).Lookup(a)
	rb, _ := profiler.BuildReport(p).Lookup(b)
	assert.True(t, ra.Residue.DisjointFrom(rb.Residue))
}

func TestReportRoundTripsThroughText(t *testing.T) {
	m := ctxau.NewManager()
	au := m.FoldAU(ctxau.AUHeap, "%node", m.NewLoopCtx("loop.header", 1, m.NewFunctionCtx("main")))

	p := profiler.New()
	p.Alloc(au, 0x3000, 32)
	p.Free(0x3000)
	p.Load(au, 42)
	p.PointsToInst(au, 0x4010)
	p.FinalizeLiveObjects()

	var buf bytes.Buffer
	_, err := profiler.BuildReport(p).WriteTo(&buf)
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "BEGIN SPEC PRIV PROFILE")
	assert.Contains(t, buf.String(), "END SPEC PRIV PROFILE")

	parsed, err := profiler.ReadReport(&buf)
	require.NoError(t, err)
	require.Len(t, parsed.Objects, 1)
	assert.Equal(t, au.String(), parsed.Objects[0].ID)
	assert.Equal(t, int64(42), parsed.Objects[0].PredictedValue)
	assert.True(t, parsed.Objects[0].PredictionValid)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	m := ctxau.NewManager()
	au := m.FoldAU(ctxau.AUHeap, "%x", m.NewFunctionCtx("main"))

	p := profiler.New()
	p.Load(au, 9)

	report := profiler.BuildReport(p)
	path := t.TempDir() + "/profile.txt"
	require.NoError(t, report.Save(path))

	loaded, err := profiler.Load(path)
	require.NoError(t, err)
	require.Len(t, loaded.Objects, 1)
	assert.Equal(t, int64(9), loaded.Objects[0].PredictedValue)
}

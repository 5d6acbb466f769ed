package commands

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liberty-specpriv/specpriv/pkg/ctxau"
	"github.com/liberty-specpriv/specpriv/pkg/profiler"
)

func TestReplayTraceAllocFree(t *testing.T) {
	t.Parallel()

	trace := strings.Join([]string{
		`{"kind":"func_entry","func":"loopBody"}`,
		`{"kind":"loop_entry"}`,
		`{"kind":"alloc","func":"loopBody","au_tag":"heap","au_value":"%node","addr":4096,"size":32}`,
		`{"kind":"load","func":"loopBody","au_tag":"heap","au_value":"%node","value":7}`,
		`{"kind":"free","addr":4096}`,
		`{"kind":"loop_exit"}`,
		`{"kind":"func_exit"}`,
		``,
	}, "\n")

	mgr := ctxau.NewManager()
	prof := profiler.New()

	err := replayTrace(strings.NewReader(trace), mgr, prof)
	require.NoError(t, err)

	prof.FinalizeLiveObjects()

	report := profiler.BuildReport(prof)
	assert.NotNil(t, report)
}

func TestReplayTraceUnknownKindErrors(t *testing.T) {
	t.Parallel()

	mgr := ctxau.NewManager()
	prof := profiler.New()

	err := replayTrace(strings.NewReader(`{"kind":"teleport"}`), mgr, prof)
	assert.Error(t, err)
}

func TestReplayTraceMalformedJSONErrors(t *testing.T) {
	t.Parallel()

	mgr := ctxau.NewManager()
	prof := profiler.New()

	err := replayTrace(strings.NewReader(`not json`), mgr, prof)
	assert.Error(t, err)
}

func TestReplayTraceSkipsBlankLines(t *testing.T) {
	t.Parallel()

	trace := "\n\n" + `{"kind":"func_entry"}` + "\n\n"

	mgr := ctxau.NewManager()
	prof := profiler.New()

	err := replayTrace(strings.NewReader(trace), mgr, prof)
	require.NoError(t, err)
}

func TestAuForFallsBackToUnknownTag(t *testing.T) {
	t.Parallel()

	mgr := ctxau.NewManager()
	au := auFor(mgr, traceEvent{Func: "f", AUTag: "not-a-real-tag", AUValue: "%x"})

	require.NotNil(t, au)
	assert.Equal(t, ctxau.AUUnknown, au.Tag())
}

func TestAuForFoldsRepeatedReferencesToSameAU(t *testing.T) {
	t.Parallel()

	mgr := ctxau.NewManager()
	ev := traceEvent{Func: "f", AUTag: "heap", AUValue: "%node"}

	a := auFor(mgr, ev)
	b := auFor(mgr, ev)

	assert.True(t, a.Equal(b))
}

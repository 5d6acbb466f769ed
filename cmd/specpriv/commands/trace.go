package commands

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/liberty-specpriv/specpriv/pkg/ctxau"
	"github.com/liberty-specpriv/specpriv/pkg/profiler"
)

// traceEvent is one line of a newline-delimited JSON instrumentation trace:
// the textual interchange format a real LLVM instrumentation pass would
// emit, replayed here since no such pass is part of this tree.
type traceEvent struct {
	Kind    string `json:"kind"`
	Func    string `json:"func,omitempty"`
	AUTag   string `json:"au_tag,omitempty"`
	AUValue string `json:"au_value,omitempty"`
	Addr    uint64 `json:"addr,omitempty"`
	Size    uint64 `json:"size,omitempty"`
	Value   int64  `json:"value,omitempty"`
}

var auTagByName = map[string]ctxau.AUTag{
	"undefined": ctxau.AUUndefined,
	"io":        ctxau.AUIO,
	"null":      ctxau.AUNull,
	"constant":  ctxau.AUConstant,
	"global":    ctxau.AUGlobal,
	"stack":     ctxau.AUStack,
	"heap":      ctxau.AUHeap,
}

// replayTrace reads newline-delimited JSON trace events from r and feeds
// them into p, folding each event's AU through m so repeated (tag, value,
// func) triples always hit the same *ctxau.AU.
func replayTrace(r io.Reader, m *ctxau.Manager, p *profiler.Profiler) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var ev traceEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return fmt.Errorf("trace: decoding event: %w", err)
		}

		if err := applyEvent(m, p, ev); err != nil {
			return err
		}
	}

	return scanner.Err()
}

func applyEvent(m *ctxau.Manager, p *profiler.Profiler, ev traceEvent) error {
	switch ev.Kind {
	case "func_entry":
		p.FuncEntry()
	case "func_exit":
		p.FuncExit()
	case "loop_entry":
		p.LoopEntry()
	case "loop_exit":
		p.LoopExit()
	case "loop_invoc":
		p.LoopInvoc()
	case "loop_iter":
		p.LoopIter()
	case "alloc":
		p.Alloc(auFor(m, ev), uintptr(ev.Addr), uintptr(ev.Size))
	case "free":
		p.Free(uintptr(ev.Addr))
	case "points_to":
		p.PointsToInst(auFor(m, ev), uintptr(ev.Addr))
	case "load":
		p.Load(auFor(m, ev), ev.Value)
	case "store":
		p.Store(auFor(m, ev), ev.Value)
	default:
		return fmt.Errorf("trace: unknown event kind %q", ev.Kind)
	}

	return nil
}

func auFor(m *ctxau.Manager, ev traceEvent) *ctxau.AU {
	tag, ok := auTagByName[ev.AUTag]
	if !ok {
		tag = ctxau.AUUnknown
	}

	ctx := m.NewFunctionCtx(ev.Func)

	return m.FoldAU(tag, ev.AUValue, ctx)
}

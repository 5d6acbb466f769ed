// Package transform turns a feasible Criticism plus its heap assignment
// and remedy edits into a concrete rewrite plan: a flat, ordered list of
// actions the code generator applies to the loop's IR. Since the IR and
// its generator are external collaborators, this package only builds and
// validates the plan data structure.
package transform

import (
	"fmt"
	"sort"

	"github.com/liberty-specpriv/specpriv/pkg/critic"
	"github.com/liberty-specpriv/specpriv/pkg/ctxau"
	"github.com/liberty-specpriv/specpriv/pkg/heap"
	"github.com/liberty-specpriv/specpriv/pkg/remedy"
)

// ActionKind enumerates the categories of rewrite the plan can contain.
type ActionKind int

const (
	// ActionHeapAlloc replaces a static (Constant/Global) AU's storage
	// with a heap_alloc call inserted at program startup.
	ActionHeapAlloc ActionKind = iota
	// ActionHeapFree frees a static AU's replacement storage at shutdown.
	ActionHeapFree
	// ActionSubstituteAllocSite rewrites a dynamic (Stack/Heap) AU's
	// allocation call to allocate from its assigned heap/sub-heap instead.
	ActionSubstituteAllocSite
	// ActionInjectFunctionExitFree frees a dynamic AU's storage at every
	// function-exit point its lifetime doesn't already escape.
	ActionInjectFunctionExitFree
	// ActionSpawnWorkers inserts begin_invocation/spawn/join/
	// end_invocation around the parallelized loop.
	ActionSpawnWorkers
	// ActionMarkIterationBoundary inserts begin_iter/end_iter/
	// worker_finishes/final_iter_ckpt_check at iteration boundaries.
	ActionMarkIterationBoundary
	// ActionApplyRemedyEdit carries over one Edit recorded by a selected
	// remedy (TXIO insertion, residue check, heap migration, ...).
	ActionApplyRemedyEdit
)

func (k ActionKind) String() string {
	switch k {
	case ActionHeapAlloc:
		return "heap_alloc"
	case ActionHeapFree:
		return "heap_free"
	case ActionSubstituteAllocSite:
		return "substitute_alloc_site"
	case ActionInjectFunctionExitFree:
		return "inject_function_exit_free"
	case ActionSpawnWorkers:
		return "spawn_workers"
	case ActionMarkIterationBoundary:
		return "mark_iteration_boundary"
	case ActionApplyRemedyEdit:
		return "apply_remedy_edit"
	default:
		return "?"
	}
}

// Action is one step of the rewrite plan.
type Action struct {
	Kind   ActionKind
	Target string // an AU's String() identity, a NodeID, or a synthetic label
	Detail map[string]string
}

// Plan is the complete, ordered rewrite a code generator applies to
// transform the loop's IR from its sequential form into the parallelized
// form the Criticism describes.
type Plan struct {
	Kind    critic.PlanKind
	Actions []Action
}

// Build assembles a Plan from a feasible Criticism, the heap assignment it
// was computed against, and the edit log the selected remedies recorded.
// It returns an error if c is not Feasible.
func Build(c critic.Criticism, assignment *heap.Assignment, aus []*ctxau.AU, edits *remedy.EditLog) (*Plan, error) {
	if !c.Feasible {
		return nil, fmt.Errorf("transform: cannot build a plan from an infeasible criticism: %s", c.Reason)
	}

	p := &Plan{Kind: c.Kind}

	p.addHeapActions(assignment, aus)
	p.addRemedyEdits(edits)
	p.addSpawnAndBoundaryActions(c)

	return p, nil
}

func (p *Plan) addHeapActions(assignment *heap.Assignment, aus []*ctxau.AU) {
	sorted := append([]*ctxau.AU(nil), aus...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].String() < sorted[j].String() })

	for _, au := range sorted {
		kind := assignment.KindOf(au)
		if kind == heap.Unclassified {
			continue
		}

		switch au.Tag() {
		case ctxau.AUConstant, ctxau.AUGlobal:
			p.Actions = append(p.Actions,
				Action{Kind: ActionHeapAlloc, Target: au.String(), Detail: map[string]string{"heap": kind.String()}},
				Action{Kind: ActionHeapFree, Target: au.String(), Detail: map[string]string{"heap": kind.String()}},
			)
		case ctxau.AUStack, ctxau.AUHeap:
			p.Actions = append(p.Actions,
				Action{Kind: ActionSubstituteAllocSite, Target: au.String(), Detail: map[string]string{"heap": kind.String()}},
				Action{Kind: ActionInjectFunctionExitFree, Target: au.String(), Detail: map[string]string{"heap": kind.String()}},
			)
		}
	}
}

func (p *Plan) addRemedyEdits(edits *remedy.EditLog) {
	if edits == nil {
		return
	}

	for _, e := range edits.Edits() {
		p.Actions = append(p.Actions, Action{
			Kind:   ActionApplyRemedyEdit,
			Target: e.NodeID,
			Detail: mergeDetail(map[string]string{"edit_kind": fmt.Sprint(int(e.Kind))}, e.Detail),
		})
	}
}

func mergeDetail(base, extra map[string]string) map[string]string {
	for k, v := range extra {
		base[k] = v
	}

	return base
}

func (p *Plan) addSpawnAndBoundaryActions(c critic.Criticism) {
	p.Actions = append(p.Actions, Action{
		Kind:   ActionSpawnWorkers,
		Target: "loop",
		Detail: map[string]string{"plan": c.Kind.String(), "stages": fmt.Sprint(len(c.Stages))},
	})

	for i, s := range c.Stages {
		mode := "parallel"

		switch {
		case s.Replicated:
			mode = "replicated_prefix"
		case s.Sequential:
			mode = "sequential"
		}

		p.Actions = append(p.Actions, Action{
			Kind:   ActionMarkIterationBoundary,
			Target: fmt.Sprintf("stage%d", i),
			Detail: map[string]string{"mode": mode},
		})
	}
}

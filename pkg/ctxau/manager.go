package ctxau

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Manager canonicalizes Ctx and AU values for a single process's lifetime.
// It is safe for concurrent use; the speculation runtime's committer and
// each worker process own independent Managers, since pointer identity is
// never assumed to be stable across process boundaries.
type Manager struct {
	mu  sync.Mutex
	ctx map[ctxKey]*Ctx
	au  map[auKey]*AU

	// strings interns fn/header names so that structurally equal Ctx/AU
	// values always compare equal string fields by value; xxhash buckets
	// candidates before the exact string comparison, mirroring the
	// structural-tuple hash-cons the original FoldManager performed via
	// LLVM's FoldingSet.
	strings map[uint64][]string
}

// NewManager creates an empty canonicalization pool.
func NewManager() *Manager {
	return &Manager{
		ctx:     map[ctxKey]*Ctx{Top.key(): Top},
		au:      make(map[auKey]*AU),
		strings: make(map[uint64][]string),
	}
}

func (m *Manager) intern(s string) string {
	if s == "" {
		return ""
	}

	h := xxhash.Sum64String(s)

	for _, candidate := range m.strings[h] {
		if candidate == s {
			return candidate
		}
	}

	m.strings[h] = append(m.strings[h], s)

	return s
}

// FoldCtx returns the canonical representative of a structurally equal Ctx,
// inserting a new one if none exists yet: two folds are equal iff their arguments
// are structurally equal.
func (m *Manager) FoldCtx(tag CtxTag, fn, header string, depth int, parent *Ctx) *Ctx {
	if tag == CtxTop {
		return Top
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	candidate := &Ctx{
		tag:    tag,
		fn:     m.intern(fn),
		header: m.intern(header),
		depth:  depth,
		parent: parent,
	}

	if existing, ok := m.ctx[candidate.key()]; ok {
		return existing
	}

	m.ctx[candidate.key()] = candidate

	return candidate
}

// NewFunctionCtx folds a Function context whose parent is Top.
func (m *Manager) NewFunctionCtx(fn string) *Ctx {
	return m.FoldCtx(CtxFunction, fn, "", 0, Top)
}

// NewLoopCtx folds a Loop context nested under parent (typically a
// Function context, or another Loop context for nested loops).
func (m *Manager) NewLoopCtx(header string, depth int, parent *Ctx) *Ctx {
	return m.FoldCtx(CtxLoop, "", header, depth, parent)
}

// FoldAU returns the canonical representative of a structurally equal AU,
// inserting it if none exists yet.
func (m *Manager) FoldAU(tag AUTag, value string, ctx *Ctx) *AU {
	m.mu.Lock()
	defer m.mu.Unlock()

	candidate := &AU{tag: tag, value: m.intern(value), ctx: ctx}

	if existing, ok := m.au[candidate.key()]; ok {
		return existing
	}

	m.au[candidate.key()] = candidate

	return candidate
}

// AllAUs returns every AU folded into this manager so far, in insertion
// order undefined (map iteration order); callers that need determinism
// should sort by String().
func (m *Manager) AllAUs() []*AU {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*AU, 0, len(m.au))
	for _, a := range m.au {
		out = append(out, a)
	}

	return out
}

// CtxMap records a remapping from an old Ctx to its replacement, produced by
// CloneContext/InlineContext.
type CtxMap map[*Ctx]*Ctx

// AUMap records a remapping from an old AU to its replacement.
type AUMap map[*AU]*AU

// ValueMap supplies the old-value -> new-value substitution used when
// cloning or inlining a context (e.g. a function's formal values mapped to
// an inlined call site's actual values).
type ValueMap map[string]string

// CloneContext duplicates every Ctx whose transitive parent is oldCtx,
// remapping fn/header names through vmap, and duplicates every AU that
// referenced one of those Ctxs. Relationships are flattened: if both a->b
// and b->c are recorded during the walk, the final maps record a->c
// directly (mirrors FoldManager::cloneContext's cmap flattening).
func (m *Manager) CloneContext(oldCtx *Ctx, vmap ValueMap) (CtxMap, AUMap) {
	cmap := CtxMap{}

	m.mu.Lock()
	children := m.childrenOf(oldCtx)
	m.mu.Unlock()

	m.cloneChildren(oldCtx, children, vmap, cmap)
	flattenCtxMap(cmap)

	amap := m.remapAUs(cmap, vmap)

	return cmap, amap
}

// childrenOf returns every known Ctx whose Parent() == of. Must be called
// with m.mu held, or before any concurrent mutation.
func (m *Manager) childrenOf(of *Ctx) []*Ctx {
	var out []*Ctx

	for _, c := range m.ctx {
		if c.parent == of {
			out = append(out, c)
		}
	}

	return out
}

func (m *Manager) cloneChildren(oldCtx *Ctx, directChildren []*Ctx, vmap ValueMap, cmap CtxMap) {
	fringe := append([]*Ctx(nil), directChildren...)
	// The root itself also participates: its own remapped identity (fn or
	// header substituted via vmap) seeds replacement for its children.
	replacement := oldCtx

	if newFn, ok := vmap[oldCtx.fn]; ok && oldCtx.tag == CtxFunction {
		replacement = m.FoldCtx(CtxFunction, newFn, "", 0, oldCtx.parent)
	} else if newHeader, ok := vmap[oldCtx.header]; ok && oldCtx.tag == CtxLoop {
		replacement = m.FoldCtx(CtxLoop, "", newHeader, oldCtx.depth, oldCtx.parent)
	}

	if replacement != oldCtx {
		cmap[oldCtx] = replacement
	}

	parentFor := map[*Ctx]*Ctx{oldCtx: replacement}

	for len(fringe) > 0 {
		child := fringe[len(fringe)-1]
		fringe = fringe[:len(fringe)-1]

		newParent := parentFor[child.parent]
		if newParent == nil {
			newParent = child.parent
		}

		fn, header := child.fn, child.header
		if mapped, ok := vmap[fn]; ok {
			fn = mapped
		}

		if mapped, ok := vmap[header]; ok {
			header = mapped
		}

		clone := m.FoldCtx(child.tag, fn, header, child.depth, newParent)
		cmap[child] = clone
		parentFor[child] = clone

		m.mu.Lock()
		grandchildren := m.childrenOf(child)
		m.mu.Unlock()
		fringe = append(fringe, grandchildren...)
	}
}

// flattenCtxMap resolves chains (a->b, b->c) into direct edges (a->c) by
// repeated substitution until a fixed point, matching FoldManager.cpp.
func flattenCtxMap(cmap CtxMap) {
	for {
		changed := false

		for from, to := range cmap {
			if next, ok := cmap[to]; ok && next != to {
				cmap[from] = next
				changed = true

				break
			}
		}

		if !changed {
			break
		}
	}
}

// remapAUs rebuilds every AU whose context changed under cmap, substituting
// its value through vmap when present.
func (m *Manager) remapAUs(cmap CtxMap, vmap ValueMap) AUMap {
	amap := AUMap{}

	m.mu.Lock()
	all := make([]*AU, 0, len(m.au))
	for _, a := range m.au {
		all = append(all, a)
	}
	m.mu.Unlock()

	for _, oldAU := range all {
		if oldAU.ctx == nil {
			continue
		}

		newCtx, ok := cmap[oldAU.ctx]
		if !ok {
			continue
		}

		value := oldAU.value
		if mapped, ok := vmap[value]; ok {
			value = mapped
		}

		amap[oldAU] = m.FoldAU(oldAU.tag, value, newCtx)
	}

	return amap
}

// InlineContext treats oldCtx as replaced by its parent (the function that
// contained oldCtx has been inlined away), remapping any loop headers
// inside it through vmap, and returns the same (CtxMap, AUMap) shape as
// CloneContext.
func (m *Manager) InlineContext(oldCtx *Ctx, vmap ValueMap) (CtxMap, AUMap) {
	cmap := CtxMap{oldCtx: oldCtx.parent}

	m.mu.Lock()
	children := m.childrenOf(oldCtx)
	m.mu.Unlock()

	fringe := append([]*Ctx(nil), children...)
	parentFor := map[*Ctx]*Ctx{oldCtx: oldCtx.parent}

	for len(fringe) > 0 {
		child := fringe[len(fringe)-1]
		fringe = fringe[:len(fringe)-1]

		newParent := parentFor[child.parent]
		if newParent == nil {
			newParent = child.parent
		}

		header := child.header
		if mapped, ok := vmap[header]; ok {
			header = mapped
		}

		clone := m.FoldCtx(child.tag, child.fn, header, child.depth, newParent)
		cmap[child] = clone
		parentFor[child] = clone

		m.mu.Lock()
		grandchildren := m.childrenOf(child)
		m.mu.Unlock()
		fringe = append(fringe, grandchildren...)
	}

	flattenCtxMap(cmap)

	amap := m.remapAUs(cmap, vmap)

	return cmap, amap
}

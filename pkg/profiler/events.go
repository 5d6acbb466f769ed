package profiler

import (
	"math"

	"github.com/liberty-specpriv/specpriv/pkg/ctxau"
)

// MagicInvalid is the sentinel value written for a predicted load the
// profiler never actually observed stabilize, distinguishing "never
// converged" from a genuinely predicted constant of zero.
const MagicInvalid = math.MinInt64

// siteStats accumulates everything the profiler learns about one AU over
// the run: how long its instances live, what values load from it settle
// on, and the residue set of pointers observed into it.
type siteStats struct {
	id int
	au *ctxau.AU

	allocations  uint64
	totalLife    uint64
	maxLife      uint64
	liveAtExit   uint64 // allocations never matched by a free

	predicted     int64
	predictionSet bool
	predictionOK  bool // false once two different values have been observed

	residue Residue
}

func (s *siteStats) observeLifetime(life uint64) {
	s.allocations++
	s.totalLife += life

	if life > s.maxLife {
		s.maxLife = life
	}
}

func (s *siteStats) observeValue(v int64) {
	if !s.predictionSet {
		s.predicted = v
		s.predictionSet = true
		s.predictionOK = true

		return
	}

	if s.predicted != v {
		s.predictionOK = false
	}
}

// meanLifetime returns the average event-count lifetime of instances that
// were freed, or 0 if none were.
func (s *siteStats) meanLifetime() float64 {
	if s.allocations == 0 {
		return 0
	}

	return float64(s.totalLife) / float64(s.allocations)
}

// Classification is the short-lived/long-lived verdict the Locality and
// Short-Lived-AA remedies key their applicability on.
type Classification int

const (
	Unknown Classification = iota
	ShortLived
	LongLived
)

func (c Classification) String() string {
	switch c {
	case ShortLived:
		return "SHORT_LIVED"
	case LongLived:
		return "LONG_LIVED"
	default:
		return "UNKNOWN"
	}
}

// shortLivedThreshold is the mean-lifetime cutoff, in profiler clock ticks
// (one per Alloc and one per Free), at or below which an AU is classified short-lived: its instances
// rarely survive past the loop iteration that created them, so a remedy
// can safely reuse their storage per iteration instead of heap-allocating.
const shortLivedThreshold = 4.0

// Classify derives a site's verdict from its accumulated stats. An AU with
// an instance still live at exit is LongLived; an AU with no completed
// allocation/free pair and nothing live at exit is Unknown rather than
// guessed at.
func (s *siteStats) classify() Classification {
	if s.allocations == 0 {
		if s.liveAtExit > 0 {
			return LongLived
		}

		return Unknown
	}

	if s.meanLifetime() <= shortLivedThreshold && s.liveAtExit == 0 {
		return ShortLived
	}

	return LongLived
}

// Profiler consumes an instrumented run's event stream and accumulates, per
// AU, the statistics a textual profile reports. Event methods are not
// safe for concurrent use; callers that profile multiple worker processes
// run one Profiler per process and merge the resulting Reports.
type Profiler struct {
	clock timestamp

	shadow *shadowTable
	sites  map[*ctxau.AU]*siteStats
	nextID int

	callDepth int
	loopDepth int
	iteration uint64
	invocation uint64
}

// New creates an empty Profiler.
func New() *Profiler {
	return &Profiler{shadow: newShadowTable(), sites: make(map[*ctxau.AU]*siteStats)}
}

func (p *Profiler) siteFor(au *ctxau.AU) *siteStats {
	s, ok := p.sites[au]
	if !ok {
		s = &siteStats{id: p.nextID, au: au}
		p.nextID++
		p.sites[au] = s
	}

	return s
}

func (p *Profiler) tick() timestamp {
	p.clock++

	return p.clock
}

// FuncEntry records entry into a call, deepening the call-context depth
// tracked for lifetime accounting.
func (p *Profiler) FuncEntry() { p.callDepth++ }

// FuncExit records return from a call.
func (p *Profiler) FuncExit() {
	if p.callDepth > 0 {
		p.callDepth--
	}
}

// LoopEntry records entry into the profiled loop's preheader.
func (p *Profiler) LoopEntry() { p.loopDepth++ }

// LoopExit records leaving the profiled loop entirely.
func (p *Profiler) LoopExit() {
	if p.loopDepth > 0 {
		p.loopDepth--
	}
}

// LoopInvoc records the start of one top-level invocation of the loop
// (the loop may be invoked many times across the whole program run, once
// per call site that reaches it).
func (p *Profiler) LoopInvoc() { p.invocation++ }

// LoopIter records advancing to the next iteration within the current
// invocation.
func (p *Profiler) LoopIter() { p.iteration++ }

// Alloc records that au produced a new instance at addr of the given size.
func (p *Profiler) Alloc(au *ctxau.AU, addr uintptr, size uintptr) {
	now := p.tick()
	p.shadow.allocate(addr, size, p.siteFor(au).id, now)
}

// Free records that the instance at addr was released. If addr was never
// allocated through Alloc (the profiler started mid-run, or the address
// came from a source it doesn't track) the call is a no-op.
func (p *Profiler) Free(addr uintptr) {
	now := p.tick()

	life, siteID, ok := p.shadow.free(addr, now)
	if !ok {
		return
	}

	for _, s := range p.sites {
		if s.id == siteID {
			s.observeLifetime(life)

			return
		}
	}
}

// PointsToInst records that an instruction's result may point into au;
// used by PointsToArg/PointsToInst to accumulate the residue set consumed
// by the Pointer-Residue remedy.
func (p *Profiler) PointsToInst(au *ctxau.AU, observedAddr uintptr) {
	s := p.siteFor(au)
	s.residue = s.residue.Observe(observedAddr)
}

// PointsToArg records a pointer passed as a call argument, observed to
// reference au; tracked identically to PointsToInst since the remedy only
// cares about the union of ever-observed residues.
func (p *Profiler) PointsToArg(au *ctxau.AU, observedAddr uintptr) {
	p.PointsToInst(au, observedAddr)
}

// Load records a load from au yielding value v, feeding the value
// predictor.
func (p *Profiler) Load(au *ctxau.AU, v int64) {
	p.siteFor(au).observeValue(v)
}

// Store records a store to au of value v. Stores invalidate a converged
// prediction the same way a differing load would: once any write is seen
// the profiler cannot promise every future load returns the first value,
// unless every store also agreed.
func (p *Profiler) Store(au *ctxau.AU, v int64) {
	p.siteFor(au).observeValue(v)
}

// FinalizeLiveObjects marks every address the shadow table still
// considers allocated as "live at exit", which excludes it from a
// short-lived classification regardless of how brief its observed
// lifetime looked.
func (p *Profiler) FinalizeLiveObjects() {
	for _, e := range p.shadow.live() {
		for _, s := range p.sites {
			if s.id == e.siteID {
				s.liveAtExit++
			}
		}
	}
}

// Package profiler implements the points-to/allocation-unit profiler: an
// instrumented run records, per AU, how long objects live, what values
// loads from it return, and the residues of pointers observed into it, then
// emits a textual profile the Critic
// and Remediator set load back in as a second PDG-construction input.
package profiler

// Residue is a 16-bit set of the values addr mod 16 observed in pointers
// into a given AU (bit i set when some pointer had addr mod 16 == i), used
// by the Pointer-Residue remedy to cheaply rule out aliasing between two
// AUs without a full points-to comparison: if their residue sets are
// disjoint, no concrete pointer value can have produced both.
type Residue uint16

// Observe adds ptr mod 16 to the residue set.
func (r Residue) Observe(ptr uintptr) Residue {
	return r | Residue(1)<<(ptr%16)
}

// DisjointFrom reports whether r shares no bit with other; disjoint
// residue sets certify the AUs they were collected for cannot alias.
func (r Residue) DisjointFrom(other Residue) bool {
	return r&other == 0
}

// Empty reports whether no pointer has ever been observed.
func (r Residue) Empty() bool { return r == 0 }

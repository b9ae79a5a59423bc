// Package clock implements vector clocks: the minimum mechanism to detect
// concurrent writes across replicas without a global serialiser.
//
// Each node keeps a counter. Every local write increments the node's own
// counter; every received write merges in the sender's counters. Comparing
// two clocks tells you whether one causally precedes the other, or whether
// they're concurrent (neither saw the other's write).
package clock

import "maps"

// Relation describes how two vector clocks relate to each other.
type Relation int

const (
	Equal      Relation = iota // identical on every node
	Before                     // strictly dominated by other
	After                      // strictly dominates other
	Concurrent                 // neither dominates — a real conflict
)

// VectorClock is a mapping of nodeID -> monotonically non-decreasing
// counter. A missing entry is equivalent to 0.
type VectorClock map[string]uint64

// New returns an empty clock.
func New() VectorClock {
	return make(VectorClock)
}

// Tick increments self's own counter. Call this on every local write.
func (vc VectorClock) Tick(self string) {
	vc[self]++
}

// Update merges other's counters in element-wise (keeping the max at each
// node), then increments self's own counter — the standard "causal receive"
// rule: observing another node's write is itself an event.
func (vc VectorClock) Update(self string, other VectorClock) VectorClock {
	merged := vc.Merge(other)
	merged.Tick(self)
	return merged
}

// Merge combines two clocks by taking the element-wise maximum. It does not
// resolve conflicts, only combines version history.
func (vc VectorClock) Merge(other VectorClock) VectorClock {
	merged := vc.Copy()
	for node, cnt := range other {
		if cnt > merged[node] {
			merged[node] = cnt
		}
	}
	return merged
}

// Compare determines how vc relates to other.
func (vc VectorClock) Compare(other VectorClock) Relation {
	vcDominates := false
	otherDominates := false

	for node, cnt := range vc {
		if cnt > other[node] {
			vcDominates = true
		} else if cnt < other[node] {
			otherDominates = true
		}
	}
	for node, cnt := range other {
		if _, ok := vc[node]; !ok && cnt > 0 {
			otherDominates = true
		}
	}

	switch {
	case !vcDominates && !otherDominates:
		return Equal
	case vcDominates && !otherDominates:
		return After
	case !vcDominates && otherDominates:
		return Before
	default:
		return Concurrent
	}
}

// Dominates reports whether vc is strictly newer than other (i.e. vc
// causally descends other and has actually advanced beyond it).
func (vc VectorClock) Dominates(other VectorClock) bool {
	return vc.Compare(other) == After
}

// GEQ reports whether vc is causally greater-than-or-equal-to other: either
// it dominates, or the two clocks are identical.
func (vc VectorClock) GEQ(other VectorClock) bool {
	rel := vc.Compare(other)
	return rel == After || rel == Equal
}

// Copy returns a deep copy — maps are reference types in Go, so callers that
// intend to retain a clock must copy it first.
func (vc VectorClock) Copy() VectorClock {
	c := make(VectorClock, len(vc))
	maps.Copy(c, vc)
	return c
}

// ToDict and FromDict exist purely so the wire/disk representation is
// explicit rather than relying on VectorClock's underlying map type.

// ToDict returns the clock as a plain map, suitable for JSON encoding.
func (vc VectorClock) ToDict() map[string]uint64 {
	return map[string]uint64(vc.Copy())
}

// FromDict builds a VectorClock from a plain map (e.g. decoded JSON).
func FromDict(d map[string]uint64) VectorClock {
	if d == nil {
		return New()
	}
	return VectorClock(d).Copy()
}

package lattice

import (
	"fmt"

	"github.com/o2lab/fpcf/internal/entity"
)

// EOptionP is the visible state of one (entity, kind) pair: an EPK (no
// value yet), an interim value carrying one or both bounds, or a final,
// immutable value. It is always passed by value; callers must never mutate
// the Property values it points at.
type EOptionP struct {
	E    entity.Entity
	K    KindID
	LB   Property // present for InterimLUB, InterimLB and FinalEP
	UB   Property // present for InterimLUB, InterimUB and FinalEP
	final bool
}

// EPK constructs the "no value computed yet" shape for (e, k).
func EPK(e entity.Entity, k KindID) EOptionP {
	return EOptionP{E: e, K: k}
}

// InterimLUB constructs an interim value carrying both a lower and an
// upper bound.
func InterimLUB(e entity.Entity, k KindID, lb, ub Property) EOptionP {
	return EOptionP{E: e, K: k, LB: lb, UB: ub}
}

// InterimUB constructs an interim value carrying only an upper bound, for
// kinds that only ever narrow from above.
func InterimUB(e entity.Entity, k KindID, ub Property) EOptionP {
	return EOptionP{E: e, K: k, UB: ub}
}

// InterimLB constructs an interim value carrying only a lower bound.
func InterimLB(e entity.Entity, k KindID, lb Property) EOptionP {
	return EOptionP{E: e, K: k, LB: lb}
}

// FinalEP constructs a sealed, stable value. No further updates are
// possible once a state holds this shape.
func FinalEP(e entity.Entity, k KindID, p Property) EOptionP {
	return EOptionP{E: e, K: k, UB: p, LB: p, final: true}
}

// IsEPK reports whether no value has been computed yet.
func (p EOptionP) IsEPK() bool { return !p.final && p.LB == nil && p.UB == nil }

// IsFinal reports whether the value is stable and can never change again.
func (p EOptionP) IsFinal() bool { return p.final }

// IsRefinable is the complement of IsFinal.
func (p EOptionP) IsRefinable() bool { return !p.final }

// UpperBound returns the current upper bound and whether one is present.
// For a FinalEP the upper bound equals the final value.
func (p EOptionP) UpperBound() (Property, bool) {
	if p.UB == nil {
		return nil, false
	}
	return p.UB, true
}

// LowerBound returns the current lower bound and whether one is present.
func (p EOptionP) LowerBound() (Property, bool) {
	if p.LB == nil {
		return nil, false
	}
	return p.LB, true
}

// AsFinal returns the sealed property and true iff p is final.
func (p EOptionP) AsFinal() (Property, bool) {
	if !p.final {
		return nil, false
	}
	return p.UB, true
}

func (p EOptionP) String() string {
	switch {
	case p.final:
		return fmt.Sprintf("FinalEP(%s, %s)", p.E, p.UB)
	case p.LB != nil && p.UB != nil:
		return fmt.Sprintf("InterimLUB(%s, lb=%s, ub=%s)", p.E, p.LB, p.UB)
	case p.UB != nil:
		return fmt.Sprintf("InterimUB(%s, ub=%s)", p.E, p.UB)
	case p.LB != nil:
		return fmt.Sprintf("InterimLB(%s, lb=%s)", p.E, p.LB)
	default:
		return fmt.Sprintf("EPK(%s, %s)", p.E, p.K)
	}
}

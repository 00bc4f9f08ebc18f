// Package lattice defines property kinds, their bounds, join semantics and
// fallback values — the ≈5% "leaves first" layer everything else in the
// property store builds on.
package lattice

import (
	"fmt"

	"github.com/o2lab/fpcf/internal/entity"
)

// Property is an immutable value belonging to some registered kind. Two
// properties of the same kind are comparable under the kind's partial
// order via Lub.
type Property interface {
	// Kind returns the property kind this value belongs to.
	Kind() KindID
	// Equal reports whether two properties of the same kind carry the same
	// value. Used by IsUpdated to detect no-op updates.
	Equal(other Property) bool
	String() string
}

// KindID re-exports entity.KindID so callers of this package don't need to
// import entity just to spell out the type.
type KindID = entity.KindID

// CycleResolver promotes a still-refinable upper bound to a final property
// once quiescence is reached and no analysis can tighten it further. The
// default, installed by Registry.Register when none is supplied, is the
// identity function: the current upper bound is promoted as-is.
type CycleResolver func(ub Property) Property

// Kind is the registered description of a property family: its lattice
// operations, fallback, optional fast-track seed, and cycle-resolution
// strategy.
type Kind struct {
	ID   KindID
	Name string

	// Lub computes the least upper bound of two properties of this kind.
	// Must be total, associative, commutative and idempotent.
	Lub func(a, b Property) Property

	// Fallback is installed as the final value for any entity of this kind
	// that no analysis ever produced during the phase.
	Fallback Property

	// FastTrack optionally describes a cheap starting value for an entity of
	// this kind. The property store does not invoke it: a first read returns
	// the same EOptionP whether or not FastTrack is set.
	FastTrack func(e entity.Entity) (Property, bool)

	// CycleResolve promotes a refinable eOptionP's current upper bound to a
	// final property after quiescence. Defaults to identity(ub).
	CycleResolve CycleResolver

	// HalfLattice marks kinds that only ever carry one bound (only a lower
	// bound or only an upper bound) rather than both; EOptionP construction
	// for such kinds uses InterimLB/InterimUB instead of InterimLUB.
	HalfLattice bool
}

func identityResolve(ub Property) Property { return ub }

// IsUpdated reports whether newP strictly refines oldP: it is more
// informative and not merely equal to it. FinalEP values are always
// considered maximally informative; a Final can never be "updated" again.
func IsUpdated(newP, oldP EOptionP) bool {
	if oldP.IsFinal() {
		return false
	}
	if newP.IsFinal() != oldP.IsFinal() {
		return true
	}
	switch {
	case newP.UB != nil && oldP.UB != nil && newP.LB != nil && oldP.LB != nil:
		return !newP.UB.Equal(oldP.UB) || !newP.LB.Equal(oldP.LB)
	case newP.UB != nil && oldP.UB != nil:
		return !newP.UB.Equal(oldP.UB)
	case newP.LB != nil && oldP.LB != nil:
		return !newP.LB.Equal(oldP.LB)
	default:
		// Shape changed (e.g. EPK -> interim): always an update.
		return newP.UB != nil || newP.LB != nil
	}
}

// CheckIsValidUpdate is the debug-mode monotonicity check described in
// spec.md §4.1: if IsUpdated reports true, the new extension must be >=
// the old one under the kind's Lub. It is only ever invoked when the store
// runs with DebugMode enabled, since it duplicates the join every update.
func CheckIsValidUpdate(k Kind, oldP, newP EOptionP) error {
	if !IsUpdated(newP, oldP) {
		return nil
	}
	oldUB, oldOK := oldP.UpperBound()
	newUB, newOK := newP.UpperBound()
	if !oldOK || !newOK {
		return nil
	}
	joined := k.Lub(oldUB, newUB)
	if !joined.Equal(newUB) {
		return fmt.Errorf("lattice: non-monotone update for kind %s: lub(%s,%s)=%s != new %s",
			k.Name, oldUB, newUB, joined, newUB)
	}
	return nil
}

// Registry is the ≈N-kind registry created at startup. Kind ids are dense
// and assigned in registration order.
type Registry struct {
	byID   []Kind
	byName map[string]KindID
}

// NewRegistry returns an empty kind registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]KindID)}
}

// Register assigns the next dense id to k and stores it. Name collisions
// are fatal (a programmer error per spec.md §6).
func (r *Registry) Register(k Kind) KindID {
	if _, exists := r.byName[k.Name]; exists {
		panic(fmt.Sprintf("lattice: duplicate property kind name %q", k.Name))
	}
	if k.CycleResolve == nil {
		k.CycleResolve = identityResolve
	}
	id := KindID(len(r.byID))
	k.ID = id
	r.byID = append(r.byID, k)
	r.byName[k.Name] = id
	return id
}

// Kind returns the registered kind for id. Panics if id is out of range,
// which can only happen for a KindID minted by a different registry.
func (r *Registry) Kind(id KindID) Kind {
	return r.byID[id]
}

// Lookup resolves a kind by name.
func (r *Registry) Lookup(name string) (KindID, bool) {
	id, ok := r.byName[name]
	return id, ok
}

// Len returns the number of registered kinds.
func (r *Registry) Len() int { return len(r.byID) }

// Package scheduler topologically orders analysis managers according to
// their uses/derives manifests, partitions them into phases compatible
// with the property store's lifecycle, and drives each phase to
// completion (spec.md §4.5, §6).
package scheduler

import (
	"github.com/o2lab/fpcf/internal/lattice"
	"github.com/o2lab/fpcf/internal/store"
)

// Side distinguishes which bound of a kind a manifest reads.
type Side int

const (
	LowerBound Side = iota
	UpperBound
)

// PropertyBound names a kind together with the bound an analysis reads or
// produces.
type PropertyBound struct {
	Kind lattice.KindID
	Side Side
}

// Manifest is one analysis's scheduler manifest, per spec.md §6.
type Manifest struct {
	Name string

	Uses                   []PropertyBound
	DerivesEagerly          []PropertyBound
	DerivesLazily           *PropertyBound // at most one
	DerivesCollaboratively  []PropertyBound

	// Init runs once, before any phase is set up.
	Init func(s *store.PropertyStore) error
	// BeforeSchedule runs once this manifest's phase's SetupPhase has
	// returned but before Start.
	BeforeSchedule func(s *store.PropertyStore) error
	// Start is the point at which computations are actually submitted.
	Start func(s *store.PropertyStore) error
	// AfterPhaseScheduling runs once Start has returned for every manifest
	// in the phase.
	AfterPhaseScheduling func(s *store.PropertyStore) error
	// AfterPhaseCompletion runs once the phase has reached quiescence.
	AfterPhaseCompletion func(s *store.PropertyStore) error
}

func (m Manifest) allDerived() []PropertyBound {
	out := append([]PropertyBound{}, m.DerivesEagerly...)
	if m.DerivesLazily != nil {
		out = append(out, *m.DerivesLazily)
	}
	out = append(out, m.DerivesCollaboratively...)
	return out
}

func callOptional(fn func(s *store.PropertyStore) error, s *store.PropertyStore) error {
	if fn == nil {
		return nil
	}
	return fn(s)
}

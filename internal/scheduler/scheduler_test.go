package scheduler_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/o2lab/fpcf/internal/lattice"
	"github.com/o2lab/fpcf/internal/scheduler"
	"github.com/o2lab/fpcf/internal/store"
)

type dummyProp struct{ n int }

func (d dummyProp) Kind() lattice.KindID          { return 0 }
func (d dummyProp) Equal(o lattice.Property) bool { return d.n == o.(dummyProp).n }
func (d dummyProp) String() string                { return "" }

func dummyLub(a, b lattice.Property) lattice.Property {
	if a.(dummyProp).n > b.(dummyProp).n {
		return a
	}
	return b
}

func twoKindRegistry(t *testing.T) (*lattice.Registry, lattice.KindID, lattice.KindID) {
	t.Helper()
	reg := lattice.NewRegistry()
	a := reg.Register(lattice.Kind{Name: "A", Lub: dummyLub, Fallback: dummyProp{}})
	b := reg.Register(lattice.Kind{Name: "B", Lub: dummyLub, Fallback: dummyProp{}})
	return reg, a, b
}

// A producer of kind B that uses kind A must run in a phase after A's
// producer.
func TestScheduleOrdersProducersBeforeConsumers(t *testing.T) {
	reg, a, b := twoKindRegistry(t)

	producerA := scheduler.Manifest{Name: "producerA", DerivesEagerly: []scheduler.PropertyBound{{Kind: a}}}
	producerB := scheduler.Manifest{
		Name:           "producerB",
		Uses:           []scheduler.PropertyBound{{Kind: a}},
		DerivesEagerly: []scheduler.PropertyBound{{Kind: b}},
	}

	phases, err := scheduler.Schedule([]scheduler.Manifest{producerB, producerA}, reg, store.NewSuppressionMatrix())
	require.NoError(t, err)
	require.Len(t, phases, 2)
	assert.Equal(t, "producerA", phases[0].Manifests[0].Name)
	assert.Equal(t, "producerB", phases[1].Manifests[0].Name)
}

// Two manifests whose kinds mutually depend on each other must be placed in
// the same phase rather than rejected as an unsatisfiable order.
func TestScheduleKeepsCyclicManifestsInOnePhase(t *testing.T) {
	reg, a, b := twoKindRegistry(t)

	m1 := scheduler.Manifest{
		Name:           "m1",
		Uses:           []scheduler.PropertyBound{{Kind: b}},
		DerivesEagerly: []scheduler.PropertyBound{{Kind: a}},
	}
	m2 := scheduler.Manifest{
		Name:           "m2",
		Uses:           []scheduler.PropertyBound{{Kind: a}},
		DerivesEagerly: []scheduler.PropertyBound{{Kind: b}},
	}

	phases, err := scheduler.Schedule([]scheduler.Manifest{m1, m2}, reg, store.NewSuppressionMatrix())
	require.NoError(t, err)
	require.Len(t, phases, 1)
	assert.Len(t, phases[0].Manifests, 2)
}

// Two manifests that both declare a lazy producer for the same kind, and
// are forced into the same phase by a mutual dependency on that kind, is a
// configuration error.
func TestScheduleRejectsDuplicateLazyProducers(t *testing.T) {
	reg, a, _ := twoKindRegistry(t)
	bound := scheduler.PropertyBound{Kind: a}

	m1 := scheduler.Manifest{Name: "m1", Uses: []scheduler.PropertyBound{{Kind: a}}, DerivesLazily: &bound}
	m2 := scheduler.Manifest{Name: "m2", Uses: []scheduler.PropertyBound{{Kind: a}}, DerivesLazily: &bound}

	_, err := scheduler.Schedule([]scheduler.Manifest{m1, m2}, reg, store.NewSuppressionMatrix())
	require.Error(t, err)
}

// An eager producer and a lazy producer for the same kind, forced into the
// same phase by a mutual dependency on that kind, is inconsistent and must
// be rejected.
func TestScheduleRejectsEagerLazyClash(t *testing.T) {
	reg, a, _ := twoKindRegistry(t)
	bound := scheduler.PropertyBound{Kind: a}

	m1 := scheduler.Manifest{Name: "m1", Uses: []scheduler.PropertyBound{{Kind: a}}, DerivesEagerly: []scheduler.PropertyBound{bound}}
	m2 := scheduler.Manifest{Name: "m2", Uses: []scheduler.PropertyBound{{Kind: a}}, DerivesLazily: &bound}

	_, err := scheduler.Schedule([]scheduler.Manifest{m1, m2}, reg, store.NewSuppressionMatrix())
	require.Error(t, err)
}

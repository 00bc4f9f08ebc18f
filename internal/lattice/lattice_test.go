package lattice_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/o2lab/fpcf/internal/entity"
	"github.com/o2lab/fpcf/internal/lattice"
)

// intMax is a minimal Property implementation for exercising the join laws:
// a flat lattice of integers ordered by value, joined by max.
type intMax int

func (i intMax) Kind() lattice.KindID          { return 0 }
func (i intMax) Equal(o lattice.Property) bool { return i == o.(intMax) }
func (i intMax) String() string                { return "" }

func maxLub(a, b lattice.Property) lattice.Property {
	if a.(intMax) > b.(intMax) {
		return a
	}
	return b
}

func TestLubIsIdempotentCommutativeAssociative(t *testing.T) {
	a, b, c := intMax(1), intMax(2), intMax(3)

	assert.Equal(t, a, maxLub(a, a), "idempotent")
	assert.Equal(t, maxLub(a, b), maxLub(b, a), "commutative")
	assert.Equal(t, maxLub(maxLub(a, b), c), maxLub(a, maxLub(b, c)), "associative")
}

func TestIsUpdatedNoOpLaw(t *testing.T) {
	e := entity.Named("e")
	interim := lattice.InterimUB(e, 0, intMax(1))

	assert.False(t, lattice.IsUpdated(interim, interim), "identical value is not an update")
	assert.True(t, lattice.IsUpdated(lattice.InterimUB(e, 0, intMax(2)), interim), "a different ub is an update")
	assert.True(t, lattice.IsUpdated(interim, lattice.EPK(e, 0)), "gaining a bound over an EPK is an update")
}

func TestFinalIsNeverUpdated(t *testing.T) {
	e := entity.Named("e")
	final := lattice.FinalEP(e, 0, intMax(5))
	assert.False(t, lattice.IsUpdated(lattice.FinalEP(e, 0, intMax(9)), final), "a final state can never be updated again")
}

func TestCheckIsValidUpdateRejectsNonMonotoneStep(t *testing.T) {
	reg := lattice.NewRegistry()
	kindID := reg.Register(lattice.Kind{Name: "IntMax", Lub: maxLub, Fallback: intMax(0)})
	kind := reg.Kind(kindID)

	e := entity.Named("e")
	old := lattice.InterimUB(e, kindID, intMax(5))
	monotone := lattice.InterimUB(e, kindID, intMax(7))
	require.NoError(t, lattice.CheckIsValidUpdate(kind, old, monotone))
	require.Error(t, lattice.CheckIsValidUpdate(kind, monotone, old), "7 -> 5 moves down the lattice")
}

func TestRegistryLookupRoundTrip(t *testing.T) {
	reg := lattice.NewRegistry()
	id := reg.Register(lattice.Kind{Name: "IntMax", Lub: maxLub, Fallback: intMax(0)})

	got, ok := reg.Lookup("IntMax")
	require.True(t, ok)
	assert.Equal(t, id, got)
	assert.Equal(t, 1, reg.Len())
}

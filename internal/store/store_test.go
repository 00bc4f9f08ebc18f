package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/o2lab/fpcf/internal/entity"
	"github.com/o2lab/fpcf/internal/lattice"
	"github.com/o2lab/fpcf/internal/result"
	"github.com/o2lab/fpcf/internal/store"
)

// level is a small flat lattice used across these scenarios: NotSet < N for
// any integer N < M implies N joins to M (max), mirroring the shape every
// worked analysis in analyses/ actually uses.
type level int

func (l level) Kind() lattice.KindID          { return 0 }
func (l level) Equal(o lattice.Property) bool { return l == o.(level) }
func (l level) String() string                { return "" }

func levelLub(a, b lattice.Property) lattice.Property {
	if a.(level) > b.(level) {
		return a
	}
	return b
}

func newRegistryWithOneKind(t *testing.T, fallback level) (*lattice.Registry, lattice.KindID) {
	t.Helper()
	reg := lattice.NewRegistry()
	id := reg.Register(lattice.Kind{Name: "Level", Lub: levelLub, Fallback: fallback})
	return reg, id
}

func setupPhase(t *testing.T, s *store.PropertyStore, kinds ...lattice.KindID) {
	t.Helper()
	active := make(map[lattice.KindID]store.Role, len(kinds))
	for _, k := range kinds {
		active[k] = store.RoleEager
	}
	require.NoError(t, s.SetupPhase(store.PhaseConfig{Name: "test", ActiveKinds: active, Suppress: store.NewSuppressionMatrix()}))
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// Scenario 1: a linear dependency chain. B is final immediately; A reads B
// and becomes final only once B has.
func TestLinearChain(t *testing.T) {
	reg, kind := newRegistryWithOneKind(t, level(-1))
	s := store.New(reg, store.Options{Workers: 2})
	defer s.Close()
	setupPhase(t, s, kind)

	a, b := entity.Named("A"), entity.Named("B")

	s.ScheduleEagerComputationForEntity(b, func(e entity.Entity) result.Result {
		return result.Final{EP: lattice.FinalEP(e, kind, level(1))}
	})
	s.ScheduleEagerComputationForEntity(a, func(e entity.Entity) result.Result {
		bv := s.Get(context.Background(), b, kind)
		if bv.IsFinal() {
			p, _ := bv.AsFinal()
			return result.Final{EP: lattice.FinalEP(e, kind, p)}
		}
		return result.Interim{
			EP:        lattice.InterimUB(e, kind, level(0)),
			Dependees: []lattice.EOptionP{bv},
			C: func(updated lattice.EOptionP) result.Result {
				p, _ := updated.AsFinal()
				return result.Final{EP: lattice.FinalEP(e, kind, p)}
			},
		}
	})

	require.NoError(t, s.WaitOnPhaseCompletion())

	av := s.Get(context.Background(), a, kind)
	require.True(t, av.IsFinal())
	p, _ := av.AsFinal()
	assert.Equal(t, level(1), p)
}

// Scenario 2: join via partial results. Two independent eager computations
// each contribute a Partial update to the same entity; the final value is
// their join, regardless of arrival order.
func TestJoinViaPartialResults(t *testing.T) {
	reg, kind := newRegistryWithOneKind(t, level(-1))
	s := store.New(reg, store.Options{Workers: 4})
	defer s.Close()
	active := map[lattice.KindID]store.Role{kind: store.RoleCollaborative}
	require.NoError(t, s.SetupPhase(store.PhaseConfig{Name: "test", ActiveKinds: active, Suppress: store.NewSuppressionMatrix()}))

	c := entity.Named("C")
	contribute := func(v level) result.PropertyComputation {
		return func(_ entity.Entity) result.Result {
			return result.Partial{E: c, K: kind, Update: func(current lattice.EOptionP) (lattice.EOptionP, bool) {
				existing := level(-1)
				if ub, ok := current.UpperBound(); ok {
					existing = ub.(level)
				}
				joined := levelLub(existing, v).(level)
				if ub, ok := current.UpperBound(); ok && ub.(level) == joined {
					return current, false
				}
				return lattice.InterimUB(c, kind, joined), true
			}}
		}
	}
	s.ScheduleEagerComputationForEntity(c, contribute(3))
	s.ScheduleEagerComputationForEntity(c, contribute(7))
	s.ScheduleEagerComputationForEntity(c, contribute(2))

	require.NoError(t, s.WaitOnPhaseCompletion())

	cv := s.Get(context.Background(), c, kind)
	require.True(t, cv.IsFinal(), "cycle resolution promotes the collaborative ub to final at quiescence")
	p, _ := cv.AsFinal()
	assert.Equal(t, level(7), p)
}

// Scenario 3: a cycle that tightens. X and Y each depend on the other; both
// start refinable and are promoted to final by cycle resolution once
// quiescence is reached with no further tightening possible.
func TestCycleWithTightening(t *testing.T) {
	reg, kind := newRegistryWithOneKind(t, level(-1))
	s := store.New(reg, store.Options{Workers: 2})
	defer s.Close()
	setupPhase(t, s, kind)

	x, y := entity.Named("X"), entity.Named("Y")

	mkComputation := func(self, other entity.Entity) result.PropertyComputation {
		var run result.PropertyComputation
		run = func(e entity.Entity) result.Result {
			ov := s.Get(context.Background(), other, kind)
			return result.Interim{
				EP:        lattice.InterimUB(e, kind, level(1)),
				Dependees: []lattice.EOptionP{ov},
				C: func(updated lattice.EOptionP) result.Result {
					return run(self)
				},
			}
		}
		return run
	}
	s.ScheduleEagerComputationForEntity(x, mkComputation(x, y))
	s.ScheduleEagerComputationForEntity(y, mkComputation(y, x))

	require.NoError(t, s.WaitOnPhaseCompletion())

	xv := s.Get(context.Background(), x, kind)
	yv := s.Get(context.Background(), y, kind)
	require.True(t, xv.IsFinal())
	require.True(t, yv.IsFinal())
}

// Scenario 4: suppression. The Depender->Dependee pair is suppressed, which
// holds back interim updates only; the dependee here goes straight to
// final, and that final update must still wake the depender.
func TestSuppression(t *testing.T) {
	reg := lattice.NewRegistry()
	dependerKind := reg.Register(lattice.Kind{Name: "Depender", Lub: levelLub, Fallback: level(-1)})
	dependeeKind := reg.Register(lattice.Kind{Name: "Dependee", Lub: levelLub, Fallback: level(-1)})

	s := store.New(reg, store.Options{Workers: 2})
	defer s.Close()

	suppress := store.NewSuppressionMatrix()
	suppress.Suppress(dependerKind, dependeeKind)
	active := map[lattice.KindID]store.Role{dependerKind: store.RoleEager, dependeeKind: store.RoleEager}
	require.NoError(t, s.SetupPhase(store.PhaseConfig{Name: "test", ActiveKinds: active, Suppress: suppress}))

	woken := make(chan level, 4)
	d, q := entity.Named("Dependee"), entity.Named("Depender")

	s.ScheduleEagerComputationForEntity(q, func(e entity.Entity) result.Result {
		dv := s.Get(context.Background(), d, dependeeKind)
		return result.Interim{
			EP:        lattice.InterimUB(e, dependerKind, level(0)),
			Dependees: []lattice.EOptionP{dv},
			C: func(updated lattice.EOptionP) result.Result {
				if ub, ok := updated.UpperBound(); ok {
					woken <- ub.(level)
				}
				if updated.IsFinal() {
					p, _ := updated.AsFinal()
					return result.Final{EP: lattice.FinalEP(e, dependerKind, p)}
				}
				return result.Final{EP: lattice.FinalEP(e, dependerKind, level(99))}
			},
		}
	})
	s.ScheduleEagerComputationForEntity(d, func(e entity.Entity) result.Result {
		return result.Final{EP: lattice.FinalEP(e, dependeeKind, level(5))}
	})

	require.NoError(t, s.WaitOnPhaseCompletion())

	qv := s.Get(context.Background(), q, dependerKind)
	require.True(t, qv.IsFinal())
	p, _ := qv.AsFinal()
	assert.Equal(t, level(5), p, "depender only ever observes the dependee's final value")
}

// Scenario 5: fallback. An entity nobody ever computes a value for still
// receives its kind's fallback once the phase reaches quiescence.
func TestFallback(t *testing.T) {
	reg, kind := newRegistryWithOneKind(t, level(-7))
	s := store.New(reg, store.Options{Workers: 1})
	defer s.Close()
	setupPhase(t, s, kind)

	never := entity.Named("Never")
	s.Force(context.Background(), never, kind)

	require.NoError(t, s.WaitOnPhaseCompletion())

	v := s.Get(context.Background(), never, kind)
	require.True(t, v.IsFinal())
	p, _ := v.AsFinal()
	assert.Equal(t, level(-7), p)
}

// Scenario 6: cancellation. Once Cancel is called, a still-refinable state
// is left exactly as it is rather than being forced to final by fallback or
// cycle resolution.
func TestCancellationLeavesRefinableStatesAlone(t *testing.T) {
	reg, kind := newRegistryWithOneKind(t, level(-1))
	s := store.New(reg, store.Options{Workers: 1})
	defer s.Close()
	setupPhase(t, s, kind)

	stuck := entity.Named("Stuck")
	s.ScheduleEagerComputationForEntity(stuck, func(e entity.Entity) result.Result {
		return result.Interim{
			EP:        lattice.InterimUB(e, kind, level(0)),
			Dependees: []lattice.EOptionP{lattice.EPK(entity.Named("NeverResolves"), kind)},
			C: func(updated lattice.EOptionP) result.Result {
				return result.Final{EP: lattice.FinalEP(e, kind, level(1))}
			},
		}
	})

	s.Cancel()
	require.NoError(t, s.WaitOnPhaseCompletion())

	v := s.Get(context.Background(), stuck, kind)
	assert.False(t, v.IsFinal(), "canceled phase leaves refinable states untouched")
}

// Package fieldassignability lazily derives how often a struct field is
// written outside its declaring constructor, grounded on
// preprocessor/summary.go's visitStore/recordWrite walk over SSA Store
// instructions in the teacher repo (the same instruction kind, read for a
// different purpose: assignment counting rather than race detection).
package fieldassignability

import (
	"go/types"

	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"

	"github.com/o2lab/fpcf/internal/entity"
	"github.com/o2lab/fpcf/internal/lattice"
	"github.com/o2lab/fpcf/internal/result"
	"github.com/o2lab/fpcf/internal/scheduler"
	"github.com/o2lab/fpcf/internal/store"
)

// Level is the three-valued assignability lattice from the OPAL
// FieldAssignability fixtures: EffectivelyFinal < LazilyInitialized <
// Assignable. Higher ordinal is less informative (more ways the field has
// been observed to change), so Lub picks the max ordinal.
type Level int

const (
	EffectivelyFinal Level = iota
	LazilyInitialized
	Assignable
)

func (l Level) String() string {
	switch l {
	case EffectivelyFinal:
		return "EffectivelyFinal"
	case LazilyInitialized:
		return "LazilyInitialized"
	default:
		return "Assignable"
	}
}

// FieldAssignability is the Property wrapping a Level.
type FieldAssignability struct{ Level Level }

func (p FieldAssignability) Kind() lattice.KindID { return kindID }
func (p FieldAssignability) Equal(o lattice.Property) bool {
	return p.Level == o.(FieldAssignability).Level
}
func (p FieldAssignability) String() string { return p.Level.String() }

var kindID lattice.KindID

func lub(a, b lattice.Property) lattice.Property {
	la, lb := a.(FieldAssignability).Level, b.(FieldAssignability).Level
	if la > lb {
		return FieldAssignability{Level: la}
	}
	return FieldAssignability{Level: lb}
}

// RegisterKind installs the FieldAssignability kind.
func RegisterKind(reg *lattice.Registry) lattice.KindID {
	kindID = reg.Register(lattice.Kind{
		Name:     "FieldAssignability",
		Lub:      lub,
		Fallback: FieldAssignability{Level: Assignable},
	})
	return kindID
}

// FieldEntity identifies one struct field across the whole program, by
// declaring type and name. Field identity here is structural (by name)
// rather than pointer identity, since *types.Var field handles aren't
// guaranteed to be interned across packages.
type FieldEntity entity.Named

func (f FieldEntity) String() string { return string(f) }

func fieldName(named *types.Named, field string) FieldEntity {
	return FieldEntity(named.Obj().Pkg().Path() + "." + named.Obj().Name() + "." + field)
}

// writeCounts walks every instruction of every function and counts, per
// field, the Store instructions that write to it outside a constructor,
// where a constructor is any function whose name starts with "New" — the
// same heuristic boundary preprocessor/summary.go drew between
// "constructor store" and "ordinary store". A field written only inside
// constructors is recorded with a count of zero.
func writeCounts(prog *ssa.Program) map[FieldEntity]int {
	counts := make(map[FieldEntity]int)
	for fn := range ssautil.AllFunctions(prog) {
		if fn == nil {
			continue
		}
		constructor := isConstructor(fn)
		for _, b := range fn.Blocks {
			for _, instr := range b.Instrs {
				store, ok := instr.(*ssa.Store)
				if !ok {
					continue
				}
				fa, ok := store.Addr.(*ssa.FieldAddr)
				if !ok {
					continue
				}
				structType, ok := derefNamed(fa.X.Type())
				if !ok {
					continue
				}
				st, ok := structType.Underlying().(*types.Struct)
				if !ok || fa.Field >= st.NumFields() {
					continue
				}
				fe := fieldName(structType, st.Field(fa.Field).Name())
				if !constructor {
					counts[fe]++
				} else if _, seen := counts[fe]; !seen {
					counts[fe] = 0
				}
			}
		}
	}
	return counts
}

func isConstructor(fn *ssa.Function) bool {
	return len(fn.Name()) > 3 && fn.Name()[:3] == "New"
}

func derefNamed(t types.Type) (*types.Named, bool) {
	if ptr, ok := t.(*types.Pointer); ok {
		t = ptr.Elem()
	}
	named, ok := t.(*types.Named)
	return named, ok
}

// Manifest registers the lazy FieldAssignability producer: outside-
// constructor write counts are precomputed once in Start (cheap relative to
// a full SSA walk per field), and the registered computation only looks the
// precomputed count up, matching spec.md §6's "derivesLazily" shape.
func Manifest(prog *ssa.Program, kind lattice.KindID) scheduler.Manifest {
	var counts map[FieldEntity]int
	bound := scheduler.PropertyBound{Kind: kind, Side: scheduler.UpperBound}
	return scheduler.Manifest{
		Name:          "fieldassignability.writes",
		DerivesLazily: &bound,
		Start: func(s *store.PropertyStore) error {
			counts = writeCounts(prog)
			s.RegisterLazyPropertyComputation(kind, func(e entity.Entity) result.Result {
				fe := e.(FieldEntity)
				n, known := counts[fe]
				level := Assignable
				switch {
				case !known:
					level = EffectivelyFinal
				case n == 0:
					level = EffectivelyFinal
				case n == 1:
					level = LazilyInitialized
				}
				return result.Final{EP: lattice.FinalEP(e, kind, FieldAssignability{Level: level})}
			})
			return nil
		},
	}
}

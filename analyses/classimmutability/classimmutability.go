// Package classimmutability derives per-field and per-type immutability
// collaboratively: every field of a struct type contributes one Partial
// update to its declaring type's ClassImmutability property, mirroring
// OPAL's class_immutability fixture tree where a class's immutability is
// the join of its fields' immutability. Grounded on preprocessor/summary.go
// for how the teacher enumerates a struct's fields from an *ssa.Type.
package classimmutability

import (
	"go/types"

	"golang.org/x/tools/go/ssa"

	"github.com/o2lab/fpcf/internal/entity"
	"github.com/o2lab/fpcf/internal/lattice"
	"github.com/o2lab/fpcf/internal/result"
	"github.com/o2lab/fpcf/internal/scheduler"
	"github.com/o2lab/fpcf/internal/store"
)

// Level is the shared four-point immutability scale used by both
// FieldImmutability and ClassImmutability in the OPAL fixtures.
type Level int

const (
	TransitivelyImmutable Level = iota
	DependentlyImmutable
	NonTransitivelyImmutable
	Mutable
)

func (l Level) String() string {
	switch l {
	case TransitivelyImmutable:
		return "TransitivelyImmutable"
	case DependentlyImmutable:
		return "DependentlyImmutable"
	case NonTransitivelyImmutable:
		return "NonTransitivelyImmutable"
	default:
		return "Mutable"
	}
}

func max(a, b Level) Level {
	if a > b {
		return a
	}
	return b
}

// FieldImmutability is the per-field property.
type FieldImmutability struct{ Level Level }

func (p FieldImmutability) Kind() lattice.KindID { return fieldKindID }
func (p FieldImmutability) Equal(o lattice.Property) bool {
	return p.Level == o.(FieldImmutability).Level
}
func (p FieldImmutability) String() string { return p.Level.String() }

// ClassImmutability is the per-type property, always at least as mutable
// as its least immutable field.
type ClassImmutability struct{ Level Level }

func (p ClassImmutability) Kind() lattice.KindID { return classKindID }
func (p ClassImmutability) Equal(o lattice.Property) bool {
	return p.Level == o.(ClassImmutability).Level
}
func (p ClassImmutability) String() string { return p.Level.String() }

var fieldKindID, classKindID lattice.KindID

func fieldLub(a, b lattice.Property) lattice.Property {
	return FieldImmutability{Level: max(a.(FieldImmutability).Level, b.(FieldImmutability).Level)}
}

func classLub(a, b lattice.Property) lattice.Property {
	return ClassImmutability{Level: max(a.(ClassImmutability).Level, b.(ClassImmutability).Level)}
}

// RegisterKinds installs both FieldImmutability and ClassImmutability.
func RegisterKinds(reg *lattice.Registry) (fieldKind, classKind lattice.KindID) {
	fieldKindID = reg.Register(lattice.Kind{Name: "FieldImmutability", Lub: fieldLub, Fallback: FieldImmutability{Level: Mutable}})
	classKindID = reg.Register(lattice.Kind{Name: "ClassImmutability", Lub: classLub, Fallback: ClassImmutability{Level: Mutable}})
	return fieldKindID, classKindID
}

// TypeEntity identifies a named type by its package path and name, as a
// string. It does not import the universe package, so this analysis stays
// independent of how the universe was loaded; it is a different entity
// from universe.TypeEntity.
type TypeEntity entity.Named

func (t TypeEntity) String() string { return string(t) }

func typeEntity(named *types.Named) TypeEntity {
	return TypeEntity(named.Obj().Pkg().Path() + "." + named.Obj().Name())
}

// fieldImmutability classifies a field by its static type alone: basic
// value types and other immutable-by-construction types are
// TransitivelyImmutable, pointers and interfaces are Mutable (they may
// alias externally-mutable state), everything else is
// NonTransitivelyImmutable pending its own recursive analysis (out of
// scope for this illustrative computation, spec.md §1's "soundness proofs"
// non-goal).
func fieldImmutability(t types.Type) Level {
	switch u := t.Underlying().(type) {
	case *types.Basic:
		return TransitivelyImmutable
	case *types.Pointer, *types.Interface, *types.Map, *types.Chan, *types.Slice:
		return Mutable
	default:
		_ = u
		return NonTransitivelyImmutable
	}
}

// Manifest derives FieldImmutability eagerly for every field of every
// struct in prog, then joins each into its declaring type's
// ClassImmutability via a Partial update — the collaborative-derivation
// shape from spec.md §6.
func Manifest(prog *ssa.Program, fieldKind, classKind lattice.KindID) scheduler.Manifest {
	return scheduler.Manifest{
		Name:                   "classimmutability.fields",
		DerivesEagerly:         []scheduler.PropertyBound{{Kind: fieldKind, Side: scheduler.UpperBound}},
		DerivesCollaboratively: []scheduler.PropertyBound{{Kind: classKind, Side: scheduler.UpperBound}},
		Start: func(s *store.PropertyStore) error {
			for _, member := range allNamedStructs(prog) {
				named, st := member.named, member.st
				te := typeEntity(named)
				for i := 0; i < st.NumFields(); i++ {
					field := st.Field(i)
					fe := entity.Named(te.String() + "#" + field.Name())
					level := fieldImmutability(field.Type())
					s.ScheduleEagerComputationForEntity(fe, func(e entity.Entity) result.Result {
						fp := FieldImmutability{Level: level}
						cl := classFromField(level)
						return result.Results{Items: []result.Result{
							result.Final{EP: lattice.FinalEP(e, fieldKind, fp)},
							result.Partial{E: te, K: classKind, Update: func(current lattice.EOptionP) (lattice.EOptionP, bool) {
								existing := TransitivelyImmutable
								if cur, ok := current.UpperBound(); ok {
									existing = cur.(ClassImmutability).Level
								}
								joined := max(existing, cl)
								if cur, ok := current.UpperBound(); ok && cur.(ClassImmutability).Level == joined {
									return current, false
								}
								return lattice.InterimUB(te, classKind, ClassImmutability{Level: joined}), true
							}},
						}}
					})
				}
			}
			return nil
		},
	}
}

func classFromField(l Level) Level {
	if l == TransitivelyImmutable {
		return TransitivelyImmutable
	}
	return l
}

type namedStruct struct {
	named *types.Named
	st    *types.Struct
}

func allNamedStructs(prog *ssa.Program) []namedStruct {
	var out []namedStruct
	for _, pkg := range prog.AllPackages() {
		for _, member := range pkg.Members {
			t, ok := member.(*ssa.Type)
			if !ok {
				continue
			}
			named, ok := t.Type().(*types.Named)
			if !ok {
				continue
			}
			st, ok := named.Underlying().(*types.Struct)
			if !ok {
				continue
			}
			out = append(out, namedStruct{named: named, st: st})
		}
	}
	return out
}

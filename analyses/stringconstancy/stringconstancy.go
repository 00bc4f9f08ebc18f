// Package stringconstancy lazily classifies how constant a string-valued
// SSA value is: Constant (a literal, or a Phi whose edges are all
// literals), PartiallyConstant (a Phi joins a literal with a non-literal),
// or Dynamic (anything else). Grounded on pass/visitor.go's CFGVisitor walk in the teacher repo,
// here specialized to *ssa.Value definitions instead of basic blocks.
package stringconstancy

import (
	"golang.org/x/tools/go/ssa"

	"github.com/o2lab/fpcf/internal/entity"
	"github.com/o2lab/fpcf/internal/lattice"
	"github.com/o2lab/fpcf/internal/result"
	"github.com/o2lab/fpcf/internal/scheduler"
	"github.com/o2lab/fpcf/internal/store"
)

// Level is Constant < PartiallyConstant < Dynamic.
type Level int

const (
	Constant Level = iota
	PartiallyConstant
	Dynamic
)

func (l Level) String() string {
	switch l {
	case Constant:
		return "Constant"
	case PartiallyConstant:
		return "PartiallyConstant"
	default:
		return "Dynamic"
	}
}

// StringConstancy is the Property wrapping a Level.
type StringConstancy struct{ Level Level }

func (p StringConstancy) Kind() lattice.KindID { return kindID }
func (p StringConstancy) Equal(o lattice.Property) bool {
	return p.Level == o.(StringConstancy).Level
}
func (p StringConstancy) String() string { return p.Level.String() }

var kindID lattice.KindID

func lub(a, b lattice.Property) lattice.Property {
	la, lb := a.(StringConstancy).Level, b.(StringConstancy).Level
	if la > lb {
		return StringConstancy{Level: la}
	}
	return StringConstancy{Level: lb}
}

// RegisterKind installs the StringConstancy kind.
func RegisterKind(reg *lattice.Registry) lattice.KindID {
	kindID = reg.Register(lattice.Kind{
		Name:     "StringConstancy",
		Lub:      lub,
		Fallback: StringConstancy{Level: Dynamic},
	})
	return kindID
}

// ValueEntity wraps an *ssa.Value; identity is the pointer, matching
// entity.Ptr's contract.
type ValueEntity struct {
	entity.Ptr[ssa.Value]
}

func classify(v ssa.Value) Level {
	switch val := v.(type) {
	case *ssa.Const:
		if val.Value != nil {
			return Constant
		}
		return Dynamic
	case *ssa.Phi:
		sawConst, sawNonConst := false, false
		for _, edge := range val.Edges {
			if _, ok := edge.(*ssa.Const); ok {
				sawConst = true
			} else {
				sawNonConst = true
			}
		}
		switch {
		case sawConst && !sawNonConst:
			return Constant
		case sawConst && sawNonConst:
			return PartiallyConstant
		default:
			return Dynamic
		}
	default:
		return Dynamic
	}
}

// Manifest registers the lazy StringConstancy producer: the underlying
// *ssa.Value is classified only when first requested, per spec.md §6's
// "derivesLazily" shape — no work happens for values nobody asks about.
func Manifest(kind lattice.KindID) scheduler.Manifest {
	bound := scheduler.PropertyBound{Kind: kind, Side: scheduler.UpperBound}
	return scheduler.Manifest{
		Name:          "stringconstancy.values",
		DerivesLazily: &bound,
		Start: func(s *store.PropertyStore) error {
			s.RegisterLazyPropertyComputation(kind, func(e entity.Entity) result.Result {
				ve := e.(ValueEntity)
				level := classify(*ve.Value)
				return result.Final{EP: lattice.FinalEP(e, kind, StringConstancy{Level: level})}
			})
			return nil
		},
	}
}

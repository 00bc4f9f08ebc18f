// Package lcpfields performs linear constant propagation across pairs of
// struct fields whose stored values alias each other through branching
// assignments, grounded on the
// lcp_on_fields/FieldReadWriteWithBranchingExample.java fixture: two fields
// are each initially guessed constant from their first observed write, and
// each field's analysis registers the other as a dependee so a later,
// conflicting write to either one drags both down to Variable. This is the
// one worked analysis that genuinely needs Interim + a continuation, since
// a field's final answer can depend on a sibling field that hasn't
// stabilized yet.
package lcpfields

import (
	"go/constant"
	"go/token"

	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"

	"github.com/o2lab/fpcf/internal/entity"
	"github.com/o2lab/fpcf/internal/lattice"
	"github.com/o2lab/fpcf/internal/result"
	"github.com/o2lab/fpcf/internal/scheduler"
	"github.com/o2lab/fpcf/internal/store"
)

// LCPValue is Constant(n) for exactly one observed constant value, or
// Variable once two different constants (or a non-constant write) are ever
// seen for the same field. There is deliberately no join between two
// *distinct* constants: it goes straight to Variable, matching the
// fixture's "no lattice value between them" comment.
type LCPValue struct {
	IsConstant bool
	Value      constant.Value // valid iff IsConstant
}

func Variable() LCPValue { return LCPValue{} }

func ConstantValue(v constant.Value) LCPValue { return LCPValue{IsConstant: true, Value: v} }

func (p LCPValue) Kind() lattice.KindID { return kindID }

func (p LCPValue) Equal(o lattice.Property) bool {
	other := o.(LCPValue)
	if p.IsConstant != other.IsConstant {
		return false
	}
	if !p.IsConstant {
		return true
	}
	return constant.Compare(p.Value, token.EQL, other.Value) && p.Value.Kind() == other.Value.Kind()
}

func (p LCPValue) String() string {
	if p.IsConstant {
		return "Constant(" + p.Value.String() + ")"
	}
	return "Variable"
}

var kindID lattice.KindID

func lub(a, b lattice.Property) lattice.Property {
	pa, pb := a.(LCPValue), b.(LCPValue)
	if !pa.IsConstant || !pb.IsConstant {
		return Variable()
	}
	if pa.Equal(pb) {
		return pa
	}
	return Variable()
}

// RegisterKind installs the LCPValue kind, whose lattice has no ordering
// between distinct constants: Lub(Constant(1), Constant(2)) = Variable.
func RegisterKind(reg *lattice.Registry) lattice.KindID {
	kindID = reg.Register(lattice.Kind{Name: "LCPValue", Lub: lub, Fallback: Variable()})
	return kindID
}

// FieldEntity identifies a struct field by (declaring type, field name).
type FieldEntity entity.Named

func (f FieldEntity) String() string { return string(f) }

// observedWrites classifies every *ssa.FieldAddr store in fn: for each
// field, the sequence of written values as either a constant or "unknown".
type write struct {
	field FieldEntity
	c     constant.Value // nil if not a compile-time constant
}

func observedWrites(fn *ssa.Function) []write {
	var out []write
	for _, b := range fn.Blocks {
		for _, instr := range b.Instrs {
			st, ok := instr.(*ssa.Store)
			if !ok {
				continue
			}
			fa, ok := st.Addr.(*ssa.FieldAddr)
			if !ok {
				continue
			}
			fe := FieldEntity(fa.String())
			if c, ok := st.Val.(*ssa.Const); ok && c.Value != nil {
				out = append(out, write{field: fe, c: c.Value})
			} else {
				out = append(out, write{field: fe, c: nil})
			}
		}
	}
	return out
}

// computation returns the PropertyComputation for one field given the full
// per-field write history for the enclosing function, so it can register
// every other field touched by the same function as a dependee: a later
// conflicting write elsewhere in the pair still needs to drag this field to
// Variable, which is exactly the cyclic-dependee case spec.md §8 scenario 3
// exercises (a two-node cycle that tightens as new information arrives).
func computation(all []write, self FieldEntity, kind lattice.KindID) result.PropertyComputation {
	var mine []write
	siblings := map[FieldEntity]bool{}
	for _, w := range all {
		if w.field == self {
			mine = append(mine, w)
		} else {
			siblings[w.field] = true
		}
	}

	guess := func() LCPValue {
		var v LCPValue
		first := true
		for _, w := range mine {
			var cur LCPValue
			if w.c != nil {
				cur = ConstantValue(w.c)
			} else {
				cur = Variable()
			}
			if first {
				v = cur
				first = false
				continue
			}
			v = lub(v, cur).(LCPValue)
		}
		return v
	}

	var run result.PropertyComputation
	run = func(e entity.Entity) result.Result {
		v := guess()
		if len(siblings) == 0 || !v.IsConstant {
			return result.Final{EP: lattice.FinalEP(e, kind, v)}
		}

		var deps []lattice.EOptionP
		for sib := range siblings {
			deps = append(deps, lattice.EPK(sib, kind))
		}
		return result.Interim{
			EP:        lattice.InterimUB(e, kind, v),
			Dependees: deps,
			C: func(updated lattice.EOptionP) result.Result {
				if updated.IsFinal() {
					if p, ok := updated.AsFinal(); ok {
						if sv, ok := p.(LCPValue); ok && !sv.IsConstant {
							return result.Final{EP: lattice.FinalEP(e, kind, Variable())}
						}
					}
				}
				return run(e)
			},
		}
	}
	return run
}

// Manifest derives LCPValue eagerly for every struct field written in prog,
// wiring the sibling-dependee cycle described in computation's doc comment.
func Manifest(prog *ssa.Program, kind lattice.KindID) scheduler.Manifest {
	return scheduler.Manifest{
		Name:           "lcpfields.constants",
		DerivesEagerly: []scheduler.PropertyBound{{Kind: kind, Side: scheduler.UpperBound}},
		Start: func(s *store.PropertyStore) error {
			for _, fn := range ssaFunctions(prog) {
				all := observedWrites(fn)
				seen := map[FieldEntity]bool{}
				for _, w := range all {
					if seen[w.field] {
						continue
					}
					seen[w.field] = true
					fe := w.field
					s.ScheduleEagerComputationForEntity(fe, computation(all, fe, kind))
				}
			}
			return nil
		},
	}
}

func ssaFunctions(prog *ssa.Program) []*ssa.Function {
	var out []*ssa.Function
	for fn := range ssautil.AllFunctions(prog) {
		if fn != nil {
			out = append(out, fn)
		}
	}
	return out
}

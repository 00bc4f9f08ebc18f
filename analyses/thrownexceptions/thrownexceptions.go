// Package thrownexceptions derives, eagerly, the set of panic value types a
// function might propagate to its caller — a stand-in for OPAL's
// ThrownExceptions property, whose lattice joins by set union rather than a
// scalar order. Grounded on pass/fn_pass.go's per-instruction dispatch over
// *ssa.Function bodies in the teacher repo (there walking for lock/unlock
// calls, here walking for ssa.Panic instructions).
package thrownexceptions

import (
	"go/types"
	"sort"
	"strings"

	"golang.org/x/tools/go/ssa"

	"github.com/o2lab/fpcf/internal/entity"
	"github.com/o2lab/fpcf/internal/lattice"
	"github.com/o2lab/fpcf/internal/result"
	"github.com/o2lab/fpcf/internal/scheduler"
	"github.com/o2lab/fpcf/internal/store"
	"github.com/o2lab/fpcf/internal/universe"
)

// AnalysisFailed is the sentinel joined in when a panic's value is not of a
// named type (e.g. a string literal or an error interface value), so the set
// cannot name it. It is also the kind's fallback.
const AnalysisFailed = "<AnalysisFailed>"

// ThrownExceptions is a set-valued property, ordered by superset; joining
// two sets is their union.
type ThrownExceptions struct {
	Types map[string]struct{}
}

func newSet(types ...string) ThrownExceptions {
	s := ThrownExceptions{Types: make(map[string]struct{}, len(types))}
	for _, t := range types {
		s.Types[t] = struct{}{}
	}
	return s
}

func (p ThrownExceptions) Kind() lattice.KindID { return kindID }

func (p ThrownExceptions) Equal(o lattice.Property) bool {
	other := o.(ThrownExceptions)
	if len(p.Types) != len(other.Types) {
		return false
	}
	for t := range p.Types {
		if _, ok := other.Types[t]; !ok {
			return false
		}
	}
	return true
}

func (p ThrownExceptions) String() string {
	names := make([]string, 0, len(p.Types))
	for t := range p.Types {
		names = append(names, t)
	}
	sort.Strings(names)
	return "{" + strings.Join(names, ", ") + "}"
}

var kindID lattice.KindID

func lub(a, b lattice.Property) lattice.Property {
	pa, pb := a.(ThrownExceptions), b.(ThrownExceptions)
	joined := make(map[string]struct{}, len(pa.Types)+len(pb.Types))
	for t := range pa.Types {
		joined[t] = struct{}{}
	}
	for t := range pb.Types {
		joined[t] = struct{}{}
	}
	return ThrownExceptions{Types: joined}
}

// RegisterKind installs the ThrownExceptions kind.
func RegisterKind(reg *lattice.Registry) lattice.KindID {
	kindID = reg.Register(lattice.Kind{
		Name:     "ThrownExceptions",
		Lub:      lub,
		Fallback: newSet(AnalysisFailed),
	})
	return kindID
}

func panicTypes(fn *ssa.Function) (ThrownExceptions, bool) {
	names := []string{}
	sound := true
	for _, b := range fn.Blocks {
		for _, instr := range b.Instrs {
			p, ok := instr.(*ssa.Panic)
			if !ok {
				continue
			}
			// Panic's operand is always converted to interface{}; look
			// through that conversion to the value's own type.
			t := p.X.Type()
			if mi, ok := p.X.(*ssa.MakeInterface); ok {
				t = mi.X.Type()
			}
			if named, ok := t.(*types.Named); ok {
				names = append(names, named.Obj().Pkg().Path()+"."+named.Obj().Name())
			} else {
				sound = false
			}
		}
	}
	return newSet(names...), sound
}

// Manifest derives ThrownExceptions eagerly for every function the
// universe discovered, batching a Final result per function via Results —
// here always length 1, but Results is used regardless to demonstrate the
// batched-return shape spec.md §6 documents.
func Manifest(u *universe.Universe, kind lattice.KindID) scheduler.Manifest {
	return scheduler.Manifest{
		Name:           "thrownexceptions.panics",
		DerivesEagerly: []scheduler.PropertyBound{{Kind: kind, Side: scheduler.UpperBound}},
		Start: func(s *store.PropertyStore) error {
			for _, e := range u.Functions {
				fe := e.(universe.FuncEntity)
				fn := fe.Value
				s.ScheduleEagerComputationForEntity(e, func(ent entity.Entity) result.Result {
					set, sound := panicTypes(fn)
					if !sound {
						set.Types[AnalysisFailed] = struct{}{}
					}
					return result.Results{Items: []result.Result{
						result.Final{EP: lattice.FinalEP(ent, kind, set)},
					}}
				})
			}
			return nil
		},
	}
}

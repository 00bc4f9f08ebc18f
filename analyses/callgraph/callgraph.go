// Package callgraph derives a Reachability property for every function in
// the loaded universe, eagerly, from a whole-program call graph — the
// simplest possible worked analysis, grounded on analyzer/analyzer.go's own
// pointer-analysis-then-callgraph pipeline (now relocated to
// internal/universe) and on golang.org/x/tools/go/callgraph's CHA builder.
package callgraph

import (
	"strings"

	"golang.org/x/tools/go/callgraph"
	"golang.org/x/tools/go/callgraph/cha"
	"golang.org/x/tools/go/ssa"

	"github.com/o2lab/fpcf/internal/entity"
	"github.com/o2lab/fpcf/internal/lattice"
	"github.com/o2lab/fpcf/internal/result"
	"github.com/o2lab/fpcf/internal/scheduler"
	"github.com/o2lab/fpcf/internal/store"
	"github.com/o2lab/fpcf/internal/universe"
)

// Reachability is NotReachable < Reachable: a two-element lattice, the
// smallest non-trivial one in the corpus, joined by "either side reachable
// wins".
type Reachability struct{ Value bool }

func (r Reachability) Kind() lattice.KindID { return kindID }
func (r Reachability) Equal(o lattice.Property) bool {
	return r.Value == o.(Reachability).Value
}
func (r Reachability) String() string {
	if r.Value {
		return "Reachable"
	}
	return "NotReachable"
}

func lub(a, b lattice.Property) lattice.Property {
	return Reachability{Value: a.(Reachability).Value || b.(Reachability).Value}
}

var kindID lattice.KindID

// RegisterKind installs the Reachability kind into reg and records its id
// for use by Reachability.Kind in this package.
func RegisterKind(reg *lattice.Registry) lattice.KindID {
	kindID = reg.Register(lattice.Kind{
		Name:     "Reachability",
		Lub:      lub,
		Fallback: Reachability{Value: false},
	})
	return kindID
}

// Build constructs a CHA call graph over every function of u.Program. The
// graph has no roots of its own; Manifest walks it from the roots it is
// given.
func Build(u *universe.Universe) *callgraph.Graph {
	return cha.CallGraph(u.Program)
}

// Manifest derives Reachability eagerly for every ssa.Function in cg:
// Reachable if it can be reached from roots, NotReachable otherwise,
// matching spec.md §6's "derivesEagerly" shape: the
// computation itself never blocks on another kind, so it always returns a
// Final result directly.
func Manifest(cg *callgraph.Graph, roots []*ssa.Function, kind lattice.KindID) scheduler.Manifest {
	reachable := make(map[*ssa.Function]bool)
	var walk func(n *callgraph.Node)
	walk = func(n *callgraph.Node) {
		if n == nil || n.Func == nil || reachable[n.Func] {
			return
		}
		reachable[n.Func] = true
		for _, e := range n.Out {
			walk(e.Callee)
		}
	}
	for _, r := range roots {
		if n := cg.Nodes[r]; n != nil {
			walk(n)
		}
	}

	return scheduler.Manifest{
		Name:           "callgraph.reachability",
		DerivesEagerly: []scheduler.PropertyBound{{Kind: kind, Side: scheduler.UpperBound}},
		Start: func(s *store.PropertyStore) error {
			for fn, node := range cg.Nodes {
				if fn == nil {
					continue
				}
				e := universe.FuncEntity{Ptr: entity.Ptr[ssa.Function]{Value: node.Func, Label: describe(fn)}}
				isReachable := reachable[fn]
				s.ScheduleEagerComputationForEntity(e, func(_ entity.Entity) result.Result {
					return result.Final{EP: lattice.FinalEP(e, kind, Reachability{Value: isReachable})}
				})
			}
			return nil
		},
	}
}

func describe(fn *ssa.Function) string {
	if fn.Pkg != nil {
		return strings.Join([]string{fn.Pkg.Pkg.Path(), fn.Name()}, ".")
	}
	return fn.Name()
}

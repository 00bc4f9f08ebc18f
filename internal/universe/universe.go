// Package universe builds the entity universe a store-based analysis run
// reasons over, from real Go source rather than bytecode (spec.md §1 puts
// bytecode parsing out of scope; something still has to hand the scheduler
// its starting set of entities). It is adapted from the package-loading and
// SSA-construction pipeline in analyzer/analyzer.go, trimmed to the parts
// that only discover program elements rather than analyze them.
package universe

import (
	"fmt"
	"go/types"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"

	"github.com/o2lab/fpcf/internal/entity"
)

// FuncEntity is an entity.Entity wrapping one *ssa.Function, standing in
// for OPAL's "Method" entity kind (GLOSSARY).
type FuncEntity struct {
	entity.Ptr[ssa.Function]
}

// TypeEntity is an entity.Entity wrapping the *types.Named of one *ssa.Type
// package member, standing in for OPAL's "ClassFile"/"Type" entity kind.
type TypeEntity struct {
	entity.Ptr[types.Named]
}

// Universe is the loaded program: every function and named type discovered
// under the requested package patterns, ready to hand to
// PropertyStore.ScheduleEagerComputationsForEntities.
type Universe struct {
	Program   *ssa.Program
	Packages  []*ssa.Package
	Functions []entity.Entity
	Types     []entity.Entity
}

// Options configures which packages are loaded and which are treated as
// opaque library boundaries whose functions are not added to the universe,
// mirroring AnalyzerConfig.ExcludedPackages in analyzer/analyzer.go.
type Options struct {
	Patterns []string
	Excluded []string
	Log      *logrus.Entry
}

// Load runs packages.Load + ssautil.AllPackages over opts.Patterns and
// returns the discovered entity universe. It performs no pointer analysis
// and no callgraph construction: those remain analyses' own concern,
// exercised through golang.org/x/tools/go/pointer and
// golang.org/x/tools/go/callgraph directly inside a manifest's Start hook
// when an analysis needs them (e.g. analyses/callgraph).
func Load(opts Options) (*Universe, error) {
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	cfg := &packages.Config{Mode: packages.LoadAllSyntax}
	initial, err := packages.Load(cfg, opts.Patterns...)
	if err != nil {
		return nil, fmt.Errorf("universe: loading packages: %w", err)
	}
	if packages.PrintErrors(initial) > 0 {
		return nil, fmt.Errorf("universe: errors while loading %v", opts.Patterns)
	}

	prog, pkgs := ssautil.AllPackages(initial, ssa.SanityCheckFunctions)
	prog.Build()

	excluded := make(map[string]bool, len(opts.Excluded))
	for _, p := range opts.Excluded {
		excluded[p] = true
	}

	u := &Universe{Program: prog, Packages: pkgs}
	for _, pkg := range pkgs {
		if pkg == nil || isExcluded(pkg.Pkg.Path(), excluded) {
			continue
		}
		for _, member := range pkg.Members {
			switch v := member.(type) {
			case *ssa.Function:
				u.Functions = append(u.Functions, FuncEntity{entity.Ptr[ssa.Function]{Value: v, Label: v.String()}})
			case *ssa.Type:
				if named, ok := v.Type().(*types.Named); ok {
					u.Types = append(u.Types, TypeEntity{entity.Ptr[types.Named]{Value: named, Label: named.String()}})
				}
			}
		}
	}
	opts.Log.WithFields(logrus.Fields{
		"functions": len(u.Functions),
		"types":     len(u.Types),
	}).Info("universe loaded")
	return u, nil
}

func isExcluded(path string, excluded map[string]bool) bool {
	for pkg := range excluded {
		if path == pkg || strings.HasPrefix(path, pkg+"/") {
			return true
		}
	}
	return false
}

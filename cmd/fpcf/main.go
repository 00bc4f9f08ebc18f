// Command fpcf runs the property store and scheduler over a Go program,
// the way the teacher's own cmd/main.go drove its race checker: parse
// flags, load the program, run the analysis pipeline, print the result.
// Rebuilt on cobra (the rest of the retrieved pack's CLI library of choice)
// instead of the teacher's flag-package entrypoint.
package main

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"

	"github.com/o2lab/fpcf/analyses/callgraph"
	"github.com/o2lab/fpcf/analyses/classimmutability"
	"github.com/o2lab/fpcf/analyses/fieldassignability"
	"github.com/o2lab/fpcf/analyses/lcpfields"
	"github.com/o2lab/fpcf/analyses/stringconstancy"
	"github.com/o2lab/fpcf/analyses/thrownexceptions"
	"github.com/o2lab/fpcf/internal/config"
	"github.com/o2lab/fpcf/internal/lattice"
	"github.com/o2lab/fpcf/internal/report"
	"github.com/o2lab/fpcf/internal/scheduler"
	"github.com/o2lab/fpcf/internal/store"
	"github.com/o2lab/fpcf/internal/telemetry"
	"github.com/o2lab/fpcf/internal/universe"
)

var (
	flagExclude    []string
	flagConfigPath string
	flagOut        string
	flagHTML       string
)

func main() {
	log := logrus.New()
	root := newRootCmd(log)
	if err := root.Execute(); err != nil {
		log.WithError(err).Fatal("fpcf failed")
	}
}

func newRootCmd(log *logrus.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:   "fpcf",
		Short: "Fixed-point property store and scheduler over a Go program",
	}

	run := &cobra.Command{
		Use:   "run [package patterns...]",
		Short: "Load a program and run the worked analyses to quiescence",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalysis(log, args)
		},
	}
	run.Flags().StringSliceVar(&flagExclude, "exclude", nil, "package path prefixes to exclude from the universe")
	run.Flags().StringVar(&flagConfigPath, "config", "", "path to a YAML config file (defaults: one worker per CPU, no deadline)")
	run.Flags().StringVar(&flagOut, "out", "report.md", "path to write the Markdown results report")
	run.Flags().StringVar(&flagHTML, "html", "", "optional path to also write an HTML rendering of the report")

	root.AddCommand(run)
	return root
}

func runAnalysis(log *logrus.Logger, patterns []string) error {
	cfg := config.Default(numCPU())
	if flagConfigPath != "" {
		loaded, err := config.Load(flagConfigPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	}

	entry := logrus.NewEntry(log)
	if cfg.Debug {
		log.SetLevel(logrus.DebugLevel)
	}

	u, err := universe.Load(universe.Options{Patterns: patterns, Excluded: flagExclude, Log: entry})
	if err != nil {
		return err
	}

	reg := lattice.NewRegistry()
	reachKind := callgraph.RegisterKind(reg)
	fieldAssignKind := fieldassignability.RegisterKind(reg)
	fieldImmKind, classImmKind := classimmutability.RegisterKinds(reg)
	thrownKind := thrownexceptions.RegisterKind(reg)
	stringKind := stringconstancy.RegisterKind(reg)
	lcpKind := lcpfields.RegisterKind(reg)

	metrics := telemetry.NewMetrics(prometheus.NewRegistry())
	s := store.New(reg, store.Options{Workers: cfg.Workers, Debug: cfg.Debug, Log: entry, Metrics: metrics})
	defer s.Close()

	cg := callgraph.Build(u)
	manifests := []scheduler.Manifest{
		callgraph.Manifest(cg, entryPoints(u.Program), reachKind),
		fieldassignability.Manifest(u.Program, fieldAssignKind),
		classimmutability.Manifest(u.Program, fieldImmKind, classImmKind),
		thrownexceptions.Manifest(u, thrownKind),
		stringconstancy.Manifest(stringKind),
		lcpfields.Manifest(u.Program, lcpKind),
	}

	suppress := store.NewSuppressionMatrix()
	for _, rule := range cfg.Suppress {
		dependerKind, ok1 := reg.Lookup(rule.Depender)
		dependeeKind, ok2 := reg.Lookup(rule.Dependee)
		if ok1 && ok2 {
			suppress.Suppress(dependerKind, dependeeKind)
		}
	}

	deadline := time.Duration(cfg.DeadlineSeconds) * time.Second
	if err := scheduler.Run(s, manifests, suppress, deadline); err != nil {
		return err
	}
	if s.Failed() {
		return fmt.Errorf("fpcf: one or more analyses failed; see logs")
	}

	triples := report.Collect(s, []lattice.KindID{
		reachKind, fieldAssignKind, fieldImmKind, classImmKind, thrownKind, stringKind, lcpKind,
	})
	markdown := report.Markdown(triples)
	if err := os.WriteFile(flagOut, []byte(markdown), 0o644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	entry.WithField("path", flagOut).Info("wrote report")

	if flagHTML != "" {
		html, err := report.HTML(markdown)
		if err != nil {
			return fmt.Errorf("rendering html: %w", err)
		}
		if err := os.WriteFile(flagHTML, []byte(html), 0o644); err != nil {
			return fmt.Errorf("writing html report: %w", err)
		}
		entry.WithField("path", flagHTML).Info("wrote html report")
	}
	return nil
}

// entryPoints treats every function named "main" or "init" as a call-graph
// root, a cheap stand-in for a real entry-point analysis.
func entryPoints(prog *ssa.Program) []*ssa.Function {
	var out []*ssa.Function
	for fn := range ssautil.AllFunctions(prog) {
		if fn == nil {
			continue
		}
		if fn.Name() == "main" || fn.Name() == "init" {
			out = append(out, fn)
		}
	}
	return out
}

func numCPU() int {
	n := os.Getenv("FPCF_WORKERS")
	if n == "" {
		return runtime.NumCPU()
	}
	var workers int
	fmt.Sscanf(n, "%d", &workers)
	if workers <= 0 {
		return runtime.NumCPU()
	}
	return workers
}

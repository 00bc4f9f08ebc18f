// Package report renders a completed phase's final properties as Markdown
// and, optionally, HTML. Reporting is explicitly an external collaborator
// of the core (spec.md §1); this package is the CLI's own "reporting
// wrapper" built on top of the store's public Entities API.
package report

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/o2lab/fpcf/internal/lattice"
	"github.com/o2lab/fpcf/internal/store"
)

// Triple is one (entity, kind, final property) result, per spec.md §6
// ("Output is delivered to the caller as a set of (entity, kind, final
// property) triples").
type Triple struct {
	Entity   string
	Kind     string
	Property string
}

// Collect gathers every final triple for the given kinds from s. Any
// entity whose state is not yet final (should not occur after a
// successful WaitOnPhaseCompletion) is reported with its raw EOptionP
// string instead of panicking, matching spec.md §6's "log of incomplete
// state".
func Collect(s *store.PropertyStore, kinds []lattice.KindID) []Triple {
	reg := s.Registry()
	var out []Triple
	for _, k := range kinds {
		name := reg.Kind(k).Name
		for _, ep := range s.Entities(k) {
			if p, ok := ep.AsFinal(); ok {
				out = append(out, Triple{Entity: ep.E.String(), Kind: name, Property: p.String()})
			} else {
				out = append(out, Triple{Entity: ep.E.String(), Kind: name, Property: "INCOMPLETE: " + ep.String()})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Entity < out[j].Entity
	})
	return out
}

// Markdown renders triples as a Markdown table.
func Markdown(triples []Triple) string {
	var b bytes.Buffer
	b.WriteString("# Property store results\n\n")
	b.WriteString("| Entity | Kind | Property |\n")
	b.WriteString("|---|---|---|\n")
	for _, t := range triples {
		fmt.Fprintf(&b, "| %s | %s | %s |\n", escapePipes(t.Entity), t.Kind, escapePipes(t.Property))
	}
	return b.String()
}

func escapePipes(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '|' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}

// HTML converts a Markdown report to HTML via goldmark, for callers that
// want to serve or save a rendered page instead of raw Markdown. The table
// extension is enabled so the results table renders as an HTML <table>.
func HTML(markdown string) (string, error) {
	var buf bytes.Buffer
	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	if err := md.Convert([]byte(markdown), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

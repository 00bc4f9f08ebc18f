package report_test

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/o2lab/fpcf/internal/report"
)

func TestMarkdownRendersOneRowPerTriple(t *testing.T) {
	triples := []report.Triple{
		{Entity: "pkg.Foo", Kind: "Reachability", Property: "Reachable"},
		{Entity: "pkg.Bar", Kind: "Reachability", Property: "NotReachable"},
	}

	got := report.Markdown(triples)

	want := []string{
		"| pkg.Foo | Reachability | Reachable |",
		"| pkg.Bar | Reachability | NotReachable |",
	}
	for _, line := range want {
		if !strings.Contains(got, line) {
			t.Errorf("markdown output missing row %q\ngot:\n%s", line, got)
		}
	}
}

func TestMarkdownEscapesPipesInValues(t *testing.T) {
	triples := []report.Triple{{Entity: "a|b", Kind: "K", Property: "v"}}
	got := report.Markdown(triples)
	if !strings.Contains(got, `a\|b`) {
		t.Errorf("expected escaped pipe in entity name, got:\n%s", got)
	}
}

func TestHTMLRendersTableFromMarkdown(t *testing.T) {
	md := report.Markdown([]report.Triple{{Entity: "E", Kind: "K", Property: "P"}})
	html, err := report.HTML(md)
	if err != nil {
		t.Fatalf("HTML: %v", err)
	}
	if !strings.Contains(html, "<table>") {
		t.Errorf("expected an HTML table, got:\n%s", html)
	}
}

func TestTripleRoundTripsThroughCollectLikeShape(t *testing.T) {
	a := report.Triple{Entity: "E", Kind: "K", Property: "P"}
	b := report.Triple{Entity: "E", Kind: "K", Property: "P"}
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("identical triples should compare equal (-want +got):\n%s", diff)
	}
}

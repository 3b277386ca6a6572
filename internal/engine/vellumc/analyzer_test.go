package vellumc_test

import (
	"reflect"
	"testing"

	"vellum/internal/engine"
	"vellum/internal/engine/vellumc"
	"vellum/internal/overlay"
)

func newAnalyzer(t *testing.T) engine.SourceAnalyzer {
	t.Helper()
	return vellumc.New(t.TempDir(), overlay.EncodingUTF16).Analyzer()
}

const outlineText = "= A\nbody\n== B\n=== C\n== D\nend\n"

func TestDocumentSymbolsNesting(t *testing.T) {
	syms := newAnalyzer(t).DocumentSymbols(outlineText)

	if len(syms) != 1 || syms[0].Name != "A" {
		t.Fatalf("top level = %+v, want single A", syms)
	}
	a := syms[0]
	if len(a.Children) != 2 || a.Children[0].Name != "B" || a.Children[1].Name != "D" {
		t.Fatalf("A children = %+v", a.Children)
	}
	b := a.Children[0]
	if len(b.Children) != 1 || b.Children[0].Name != "C" {
		t.Fatalf("B children = %+v", b.Children)
	}
	if a.Range.Start.Line != 0 || a.Range.End.Line != 6 {
		t.Fatalf("A range = %+v", a.Range)
	}
	if b.Range.Start.Line != 2 || b.Range.End.Line != 3 {
		t.Fatalf("B range = %+v", b.Range)
	}
}

func TestFoldingRangesSkipEmptySections(t *testing.T) {
	ranges := newAnalyzer(t).FoldingRanges(outlineText)

	// C's section is its own line only, so it does not fold.
	if len(ranges) != 3 {
		t.Fatalf("ranges = %+v, want 3", ranges)
	}
	if ranges[0].StartLine != 0 || ranges[0].EndLine != 6 {
		t.Fatalf("ranges[0] = %+v", ranges[0])
	}
	if ranges[1].StartLine != 2 || ranges[1].EndLine != 3 {
		t.Fatalf("ranges[1] = %+v", ranges[1])
	}
	if ranges[2].StartLine != 4 || ranges[2].EndLine != 6 {
		t.Fatalf("ranges[2] = %+v", ranges[2])
	}
}

func TestSelectionRangeChain(t *testing.T) {
	got := newAnalyzer(t).SelectionRanges(outlineText, []overlay.Position{{Line: 1, Character: 2}})
	if len(got) != 1 {
		t.Fatalf("results = %d", len(got))
	}

	sel := got[0]
	if sel.Range.Start.Line != 1 || sel.Range.End.Line != 1 || sel.Range.End.Character != 4 {
		t.Fatalf("line range = %+v", sel.Range)
	}
	// "body" sits directly under A, whose section spans the whole document,
	// so the chain collapses to line -> document.
	if sel.Parent == nil || sel.Parent.Range.Start.Line != 0 || sel.Parent.Range.End.Line != 6 {
		t.Fatalf("parent = %+v", sel.Parent)
	}
	if sel.Parent.Parent != nil {
		t.Fatalf("chain too deep: %+v", sel.Parent.Parent)
	}
}

func TestSelectionRangeIncludesSection(t *testing.T) {
	got := newAnalyzer(t).SelectionRanges(outlineText, []overlay.Position{{Line: 5, Character: 0}})
	if len(got) != 1 {
		t.Fatalf("results = %d", len(got))
	}

	// "end" belongs to D's section (lines 4..6), nested in the document.
	sel := got[0]
	if sel.Range.Start.Line != 5 {
		t.Fatalf("line range = %+v", sel.Range)
	}
	if sel.Parent == nil || sel.Parent.Range.Start.Line != 4 || sel.Parent.Range.End.Line != 6 {
		t.Fatalf("section = %+v", sel.Parent)
	}
	if sel.Parent.Parent == nil || sel.Parent.Parent.Range.Start.Line != 0 {
		t.Fatalf("document = %+v", sel.Parent.Parent)
	}
}

func TestSemanticTokensDeltaEncoding(t *testing.T) {
	toks := newAnalyzer(t).SemanticTokens("= T <a>\n@a\n")
	want := []uint32{
		0, 0, 7, engine.TokenHeading, 0,
		0, 4, 3, engine.TokenLabel, 0,
		1, 0, 2, engine.TokenReference, 0,
	}
	if !reflect.DeepEqual(toks.Data, want) {
		t.Fatalf("data = %v, want %v", toks.Data, want)
	}
}

func TestSemanticTokensUTF16Width(t *testing.T) {
	// One astral-plane rune before the label: 2 UTF-16 units wide.
	toks := newAnalyzer(t).SemanticTokens("\U0001D11E <a>\n")
	want := []uint32{0, 3, 3, engine.TokenLabel, 0}
	if !reflect.DeepEqual(toks.Data, want) {
		t.Fatalf("data = %v, want %v", toks.Data, want)
	}
}

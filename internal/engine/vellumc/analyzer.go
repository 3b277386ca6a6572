package vellumc

import (
	"fmt"
	"sort"

	"go.lsp.dev/protocol"

	"vellum/internal/engine"
	"vellum/internal/overlay"
)

// analyzer answers source-only queries from text alone. It carries no
// mutable state, so concurrent use is safe.
type analyzer struct {
	enc overlay.Encoding
}

func (a analyzer) DocumentSymbols(text string) []protocol.DocumentSymbol {
	fm := parseSource("", text, a.enc)
	ends := sectionEnds(fm)

	type symNode struct {
		sym      protocol.DocumentSymbol
		level    int
		children []*symNode
	}
	root := &symNode{}
	stack := []*symNode{root}

	for k, h := range fm.headings {
		name := h.text
		if name == "" {
			name = "(untitled)"
		}
		endLine := ends[k]
		node := &symNode{
			sym: protocol.DocumentSymbol{
				Name:   name,
				Detail: fmt.Sprintf("level %d", h.level),
				Kind:   symKindString,
				Range: protocol.Range{
					Start: protocol.Position{Line: h.line},
					End:   protocol.Position{Line: endLine, Character: lineWidth(fm, endLine, a.enc)},
				},
				SelectionRange: lspRange(h.rng),
			},
			level: h.level,
		}
		for len(stack) > 1 && stack[len(stack)-1].level >= h.level {
			stack = stack[:len(stack)-1]
		}
		parent := stack[len(stack)-1]
		parent.children = append(parent.children, node)
		stack = append(stack, node)
	}

	var convert func(nodes []*symNode) []protocol.DocumentSymbol
	convert = func(nodes []*symNode) []protocol.DocumentSymbol {
		out := make([]protocol.DocumentSymbol, 0, len(nodes))
		for _, n := range nodes {
			n.sym.Children = convert(n.children)
			out = append(out, n.sym)
		}
		return out
	}
	return convert(root.children)
}

func (a analyzer) FoldingRanges(text string) []protocol.FoldingRange {
	fm := parseSource("", text, a.enc)
	ends := sectionEnds(fm)

	var ranges []protocol.FoldingRange
	for k, h := range fm.headings {
		if ends[k] <= h.line {
			continue
		}
		ranges = append(ranges, protocol.FoldingRange{
			StartLine: h.line,
			EndLine:   ends[k],
			Kind:      protocol.RegionFoldingRange,
		})
	}
	return ranges
}

func (a analyzer) SelectionRanges(text string, positions []overlay.Position) []protocol.SelectionRange {
	fm := parseSource("", text, a.enc)
	ends := sectionEnds(fm)
	lastLine := uint32(0)
	if n := len(fm.lines); n > 0 {
		lastLine = uint32(n - 1)
	}
	docRange := protocol.Range{
		End: protocol.Position{Line: lastLine, Character: lineWidth(fm, lastLine, a.enc)},
	}

	out := make([]protocol.SelectionRange, 0, len(positions))
	for _, pos := range positions {
		chain := protocol.SelectionRange{Range: docRange}

		// Innermost enclosing heading section, if any.
		best := -1
		for k, h := range fm.headings {
			if h.line <= pos.Line && pos.Line <= ends[k] {
				best = k
			}
		}
		if best >= 0 {
			sectionRange := protocol.Range{
				Start: protocol.Position{Line: fm.headings[best].line},
				End:   protocol.Position{Line: ends[best], Character: lineWidth(fm, ends[best], a.enc)},
			}
			if sectionRange != docRange {
				chain = protocol.SelectionRange{Range: sectionRange, Parent: &protocol.SelectionRange{Range: docRange}}
			}
		}

		line := pos.Line
		if int(line) >= len(fm.lines) {
			line = lastLine
		}
		lineRange := protocol.Range{
			Start: protocol.Position{Line: line},
			End:   protocol.Position{Line: line, Character: lineWidth(fm, line, a.enc)},
		}
		parent := chain
		out = append(out, protocol.SelectionRange{Range: lineRange, Parent: &parent})
	}
	return out
}

func (a analyzer) SemanticTokens(text string) *engine.SemanticTokens {
	fm := parseSource("", text, a.enc)

	type tok struct {
		line, start, length, typ uint32
	}
	var toks []tok
	add := func(rng overlay.Range, typ uint32) {
		if rng.End.Character <= rng.Start.Character {
			return
		}
		toks = append(toks, tok{
			line:   rng.Start.Line,
			start:  rng.Start.Character,
			length: rng.End.Character - rng.Start.Character,
			typ:    typ,
		})
	}
	for _, h := range fm.headings {
		add(h.rng, engine.TokenHeading)
	}
	for _, l := range fm.labels {
		add(l.rng, engine.TokenLabel)
	}
	for _, r := range fm.refs {
		add(r.rng, engine.TokenReference)
	}
	for _, inc := range fm.includes {
		add(inc.rng, engine.TokenInclude)
	}

	sort.Slice(toks, func(i, j int) bool {
		if toks[i].line != toks[j].line {
			return toks[i].line < toks[j].line
		}
		return toks[i].start < toks[j].start
	})

	data := make([]uint32, 0, len(toks)*5)
	prevLine, prevStart := uint32(0), uint32(0)
	for _, t := range toks {
		dLine := t.line - prevLine
		dStart := t.start
		if dLine == 0 {
			dStart = t.start - prevStart
		}
		data = append(data, dLine, dStart, t.length, t.typ, 0)
		prevLine, prevStart = t.line, t.start
	}
	return &engine.SemanticTokens{Data: data}
}

// sectionEnds computes, per heading, the last line of its section: the line
// before the next heading of the same or a shallower level, or the last
// line of the file.
func sectionEnds(fm *fileModel) []uint32 {
	lastLine := 0
	if len(fm.lines) > 0 {
		lastLine = len(fm.lines) - 1
	}
	ends := make([]uint32, len(fm.headings))
	for k, h := range fm.headings {
		end := uint32(lastLine)
		for _, next := range fm.headings[k+1:] {
			if next.level <= h.level {
				end = next.line - 1
				break
			}
		}
		ends[k] = end
	}
	return ends
}

func lineWidth(fm *fileModel, line uint32, enc overlay.Encoding) uint32 {
	if int(line) >= len(fm.lines) {
		return 0
	}
	return overlay.ColumnUnits(fm.lines[line], enc)
}

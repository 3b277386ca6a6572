package vellumc

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"vellum/internal/engine"
	"vellum/internal/overlay"
)

// LSP symbol kind codes used in query results.
const (
	symKindString = 15
	symKindKey    = 20
)

type world struct {
	e *Engine
}

func (w *world) WorkspaceRoot() string { return w.e.root }

func (w *world) DependenciesOf(entry string) []string {
	entry = filepath.Clean(entry)
	m := w.e.last
	if m == nil || m.entry != entry {
		built, _, err := w.e.build(context.Background(), entry)
		if err != nil {
			return []string{entry}
		}
		m = built
	}
	return append([]string(nil), m.files...)
}

// model picks the query's data source: the compiled document when the
// caller has one, the last built graph otherwise.
func (w *world) model(doc engine.Document) *model {
	if d, ok := doc.(*document); ok && d.m != nil {
		return d.m
	}
	return w.e.last
}

func (w *world) Query(ctx context.Context, doc engine.Document, q engine.Query) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m := w.model(doc)
	if m == nil {
		return nil, nil
	}
	switch q.Kind {
	case engine.QueryHover:
		return w.hover(m, q)
	case engine.QueryCompletion:
		return w.completion(m, q)
	case engine.QueryDefinition, engine.QueryDeclaration:
		return w.definition(m, q)
	case engine.QueryReferences:
		return w.references(m, q)
	case engine.QueryRename:
		return w.rename(m, q)
	case engine.QueryPrepareRename:
		return w.prepareRename(m, q)
	case engine.QueryInlayHint:
		return w.inlayHints(m, q)
	case engine.QueryCodeLens:
		return w.codeLenses(m, q)
	case engine.QuerySignatureHelp:
		return w.signatureHelp(m, q)
	case engine.QueryWorkspaceSymbol:
		return w.workspaceSymbols(m, q)
	}
	return nil, fmt.Errorf("unsupported query kind %q", q.Kind)
}

func (w *world) hover(m *model, q engine.Query) (any, error) {
	fm := m.fms[filepath.Clean(q.Path)]
	if fm == nil {
		return nil, nil
	}
	if ref, ok := tokenAt(fm.refs, q.Pos); ok {
		site, found := m.labels[ref.name]
		if !found {
			return nil, nil
		}
		defLine := ""
		if sfm := m.fms[site.file]; sfm != nil && int(site.def.line) < len(sfm.lines) {
			defLine = sfm.lines[site.def.line]
		}
		value := fmt.Sprintf("`<%s>`\n\n```vlm\n%s\n```\n\n*%s:%d*",
			site.def.raw, defLine, filepath.Base(site.file), site.def.line+1)
		rng := lspRange(ref.rng)
		return protocol.Hover{
			Contents: protocol.MarkupContent{Kind: protocol.Markdown, Value: value},
			Range:    &rng,
		}, nil
	}
	if def, ok := tokenAt(fm.labels, q.Pos); ok {
		n := 0
		for _, rs := range m.refs {
			if rs.use.name == def.name {
				n++
			}
		}
		rng := lspRange(def.rng)
		return protocol.Hover{
			Contents: protocol.MarkupContent{
				Kind:  protocol.Markdown,
				Value: fmt.Sprintf("`<%s>`: %s", def.raw, countRefs(n)),
			},
			Range: &rng,
		}, nil
	}
	return nil, nil
}

func (w *world) completion(m *model, q engine.Query) (any, error) {
	fm := m.fms[filepath.Clean(q.Path)]
	if fm == nil || int(q.Pos.Line) >= len(fm.lines) {
		return nil, nil
	}
	line := fm.lines[q.Pos.Line]
	cursor := overlay.OffsetForPosition(line, overlay.Position{Line: 0, Character: q.Pos.Character}, w.e.enc)

	at := strings.LastIndexByte(line[:cursor], '@')
	if at < 0 || (at > 0 && isRefByte(line[at-1])) {
		return protocol.CompletionList{Items: []protocol.CompletionItem{}}, nil
	}
	prefix := line[at+1 : cursor]
	for _, b := range []byte(prefix) {
		if b < 0x80 && !isRefByte(b) {
			return protocol.CompletionList{Items: []protocol.CompletionItem{}}, nil
		}
	}

	names := make([]string, 0, len(m.labels))
	for name := range m.labels {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	items := make([]protocol.CompletionItem, 0, len(names))
	for _, name := range names {
		site := m.labels[name]
		items = append(items, protocol.CompletionItem{
			Label:      name,
			Kind:       18, // reference
			Detail:     fmt.Sprintf("label in %s", filepath.Base(site.file)),
			InsertText: name,
		})
	}
	return protocol.CompletionList{IsIncomplete: false, Items: items}, nil
}

func (w *world) definition(m *model, q engine.Query) (any, error) {
	fm := m.fms[filepath.Clean(q.Path)]
	if fm == nil {
		return nil, nil
	}
	ref, ok := tokenAt(fm.refs, q.Pos)
	if !ok {
		return nil, nil
	}
	site, found := m.labels[ref.name]
	if !found {
		return nil, nil
	}
	return []protocol.Location{{URI: uri.File(site.file), Range: lspRange(site.def.rng)}}, nil
}

func (w *world) references(m *model, q engine.Query) (any, error) {
	name, ok := nameAt(m, q)
	if !ok {
		return nil, nil
	}
	var locs []protocol.Location
	for _, rs := range m.refs {
		if rs.use.name == name {
			locs = append(locs, protocol.Location{URI: uri.File(rs.file), Range: lspRange(rs.use.rng)})
		}
	}
	return locs, nil
}

func (w *world) rename(m *model, q engine.Query) (any, error) {
	name, ok := nameAt(m, q)
	if !ok {
		return nil, fmt.Errorf("no label or reference at %d:%d", q.Pos.Line, q.Pos.Character)
	}
	if q.NewName == "" || strings.ContainsAny(q.NewName, " \t<>@\"") {
		return nil, fmt.Errorf("invalid label name %q", q.NewName)
	}
	site, found := m.labels[name]
	if !found {
		return nil, fmt.Errorf("reference %q does not resolve to a label", name)
	}

	changes := make(map[uri.URI][]protocol.TextEdit)
	defURI := uri.File(site.file)
	changes[defURI] = append(changes[defURI], protocol.TextEdit{
		Range:   lspRange(site.def.inner),
		NewText: q.NewName,
	})
	for _, rs := range m.refs {
		if rs.use.name != name {
			continue
		}
		u := uri.File(rs.file)
		changes[u] = append(changes[u], protocol.TextEdit{
			Range:   lspRange(rs.use.inner),
			NewText: q.NewName,
		})
	}
	return protocol.WorkspaceEdit{Changes: changes}, nil
}

func (w *world) prepareRename(m *model, q engine.Query) (any, error) {
	fm := m.fms[filepath.Clean(q.Path)]
	if fm == nil {
		return nil, nil
	}
	if ref, ok := tokenAt(fm.refs, q.Pos); ok {
		return lspRange(ref.inner), nil
	}
	if def, ok := tokenAt(fm.labels, q.Pos); ok {
		return lspRange(def.inner), nil
	}
	return nil, nil
}

func (w *world) inlayHints(m *model, q engine.Query) (any, error) {
	fm := m.fms[filepath.Clean(q.Path)]
	if fm == nil {
		return nil, nil
	}
	var hints []engine.InlayHint
	for _, ref := range fm.refs {
		if ref.line < q.Window.Start.Line || ref.line > q.Window.End.Line {
			continue
		}
		site, found := m.labels[ref.name]
		if !found || site.file == fm.path {
			continue
		}
		hints = append(hints, engine.InlayHint{
			Position:    protocol.Position{Line: ref.rng.End.Line, Character: ref.rng.End.Character},
			Label:       filepath.Base(site.file),
			PaddingLeft: true,
		})
	}
	return hints, nil
}

func (w *world) codeLenses(m *model, q engine.Query) (any, error) {
	path := filepath.Clean(q.Path)
	fm := m.fms[path]
	if fm == nil {
		return nil, nil
	}
	var lenses []protocol.CodeLens
	for _, def := range fm.labels {
		site, ok := m.labels[def.name]
		if !ok || site.file != path || site.def.rng != def.rng {
			continue // duplicate definition, lens belongs to the canonical one
		}
		n := 0
		for _, rs := range m.refs {
			if rs.use.name == def.name {
				n++
			}
		}
		lenses = append(lenses, protocol.CodeLens{
			Range: lspRange(def.rng),
			Command: &protocol.Command{
				Title:     countRefs(n),
				Command:   "vellum.showReferences",
				Arguments: []interface{}{path, def.rng.Start.Line, def.rng.Start.Character},
			},
		})
	}
	return lenses, nil
}

func (w *world) signatureHelp(m *model, q engine.Query) (any, error) {
	fm := m.fms[filepath.Clean(q.Path)]
	if fm == nil || int(q.Pos.Line) >= len(fm.lines) {
		return nil, nil
	}
	if !strings.HasPrefix(strings.TrimLeft(fm.lines[q.Pos.Line], " \t"), "#include") {
		return nil, nil
	}
	return protocol.SignatureHelp{
		Signatures: []protocol.SignatureInformation{{
			Label:         `#include "path"`,
			Documentation: "Splice another document file into this one. The path is resolved relative to the including file.",
			Parameters:    []protocol.ParameterInformation{{Label: `"path"`}},
		}},
	}, nil
}

func (w *world) workspaceSymbols(m *model, q engine.Query) (any, error) {
	var syms []protocol.SymbolInformation
	for _, path := range m.files {
		fm := m.fms[path]
		for _, h := range fm.headings {
			if !foldMatch(h.text, q.Pattern) {
				continue
			}
			syms = append(syms, protocol.SymbolInformation{
				Name:          h.text,
				Kind:          symKindString,
				Location:      protocol.Location{URI: uri.File(path), Range: lspRange(h.rng)},
				ContainerName: filepath.Base(path),
			})
		}
		for _, def := range fm.labels {
			if !foldMatch(def.name, q.Pattern) {
				continue
			}
			syms = append(syms, protocol.SymbolInformation{
				Name:          def.name,
				Kind:          symKindKey,
				Location:      protocol.Location{URI: uri.File(path), Range: lspRange(def.rng)},
				ContainerName: filepath.Base(path),
			})
		}
	}
	return syms, nil
}

// nameAt resolves the label name under the cursor, whether it is a
// definition or a reference.
func nameAt(m *model, q engine.Query) (string, bool) {
	fm := m.fms[filepath.Clean(q.Path)]
	if fm == nil {
		return "", false
	}
	if ref, ok := tokenAt(fm.refs, q.Pos); ok {
		return ref.name, true
	}
	if def, ok := tokenAt(fm.labels, q.Pos); ok {
		return def.name, true
	}
	return "", false
}

func tokenAt(toks []labelTok, pos overlay.Position) (labelTok, bool) {
	for _, tok := range toks {
		if tok.rng.Start.Line != pos.Line {
			continue
		}
		if tok.rng.Start.Character <= pos.Character && pos.Character <= tok.rng.End.Character {
			return tok, true
		}
	}
	return labelTok{}, false
}

func countRefs(n int) string {
	if n == 1 {
		return "1 reference"
	}
	return fmt.Sprintf("%d references", n)
}

func foldMatch(name, pattern string) bool {
	if pattern == "" {
		return true
	}
	return strings.Contains(strings.ToLower(name), strings.ToLower(pattern))
}

func lspRange(r overlay.Range) protocol.Range {
	return protocol.Range{
		Start: protocol.Position{Line: r.Start.Line, Character: r.Start.Character},
		End:   protocol.Position{Line: r.End.Line, Character: r.End.Character},
	}
}

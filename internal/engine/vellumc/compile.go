package vellumc

import (
	"context"
	"fmt"
	"path/filepath"

	"vellum/internal/engine"
)

// model is the compiled view of one entry's include tree.
type model struct {
	entry  string
	files  []string // breadth-first, entry first
	fms    map[string]*fileModel
	incs   map[string][]resolvedInclude
	labels map[string]labelSite
	refs   []refSite
	title  string
}

type resolvedInclude struct {
	decl   includeDecl
	target string // absolute
}

type labelSite struct {
	file string
	def  labelTok
}

type refSite struct {
	file string
	use  labelTok
}

// document implements engine.Document.
type document struct {
	entry string
	title string
	m     *model
}

func (d *document) Entry() string { return d.entry }
func (d *document) Title() string { return d.title }

func (e *Engine) Compile(ctx context.Context) (engine.Document, []engine.Diagnostic, error) {
	if e.entry == "" {
		return nil, nil, engine.ErrNoEntry
	}
	m, diags, err := e.build(ctx, e.entry)
	if err != nil {
		return nil, nil, err
	}
	e.last = m
	return &document{entry: m.entry, title: m.title, m: m}, diags, nil
}

// build resolves the include tree breadth-first from entry and checks
// labels and references across it. An unreadable entry is fatal; an
// unreadable include is a diagnostic on the including line.
func (e *Engine) build(ctx context.Context, entry string) (*model, []engine.Diagnostic, error) {
	m := &model{
		entry:  entry,
		fms:    make(map[string]*fileModel),
		incs:   make(map[string][]resolvedInclude),
		labels: make(map[string]labelSite),
	}
	var diags []engine.Diagnostic

	entryFM, err := e.parseFile(entry)
	if err != nil {
		return nil, nil, fmt.Errorf("read entry: %w", err)
	}
	m.files = append(m.files, entry)
	m.fms[entry] = entryFM

	queue := []string{entry}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		path := queue[0]
		queue = queue[1:]
		fm := m.fms[path]

		for _, inc := range fm.includes {
			target := inc.target
			if !filepath.IsAbs(target) {
				target = filepath.Join(filepath.Dir(path), target)
			}
			target = filepath.Clean(target)
			m.incs[path] = append(m.incs[path], resolvedInclude{decl: inc, target: target})

			if _, seen := m.fms[target]; seen {
				continue
			}
			sub, err := e.parseFile(target)
			if err != nil {
				diags = append(diags, engine.Diagnostic{
					Path:     path,
					Range:    inc.rng,
					Severity: engine.SeverityError,
					Code:     "bad-include",
					Message:  fmt.Sprintf("cannot read %q: %v", inc.target, err),
				})
				continue
			}
			m.files = append(m.files, target)
			m.fms[target] = sub
			queue = append(queue, target)
		}
	}

	diags = append(diags, detectCycles(m)...)
	diags = append(diags, checkLabels(m)...)

	for _, h := range entryFM.headings {
		if h.level == 1 {
			m.title = h.text
			break
		}
	}
	return m, diags, nil
}

// detectCycles walks the resolved include graph depth-first and reports the
// edge that closes each cycle.
func detectCycles(m *model) []engine.Diagnostic {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(m.files))
	var diags []engine.Diagnostic

	var visit func(path string)
	visit = func(path string) {
		color[path] = grey
		for _, inc := range m.incs[path] {
			switch color[inc.target] {
			case grey:
				diags = append(diags, engine.Diagnostic{
					Path:     path,
					Range:    inc.decl.rng,
					Severity: engine.SeverityError,
					Code:     "include-cycle",
					Message:  fmt.Sprintf("including %q closes an include cycle", inc.decl.target),
				})
			case white:
				if _, ok := m.fms[inc.target]; ok {
					visit(inc.target)
				}
			}
		}
		color[path] = black
	}
	visit(m.entry)
	return diags
}

// checkLabels fills the label table, records references, and reports
// duplicate labels, unknown references, and labels nothing points at.
func checkLabels(m *model) []engine.Diagnostic {
	var diags []engine.Diagnostic

	for _, path := range m.files {
		for _, def := range m.fms[path].labels {
			if first, dup := m.labels[def.name]; dup {
				diags = append(diags, engine.Diagnostic{
					Path:     path,
					Range:    def.rng,
					Severity: engine.SeverityError,
					Code:     "dup-label",
					Message: fmt.Sprintf("label %q already defined in %s:%d",
						def.raw, filepath.Base(first.file), first.def.line+1),
				})
				continue
			}
			m.labels[def.name] = labelSite{file: path, def: def}
		}
	}

	used := make(map[string]bool)
	for _, path := range m.files {
		for _, use := range m.fms[path].refs {
			m.refs = append(m.refs, refSite{file: path, use: use})
			if _, ok := m.labels[use.name]; !ok {
				diags = append(diags, engine.Diagnostic{
					Path:     path,
					Range:    use.rng,
					Severity: engine.SeverityError,
					Code:     "unknown-ref",
					Message:  fmt.Sprintf("reference %q does not resolve to a label", use.raw),
				})
				continue
			}
			used[use.name] = true
		}
	}

	for _, path := range m.files {
		for _, def := range m.fms[path].labels {
			site, ok := m.labels[def.name]
			if !ok || site.file != path || site.def.rng != def.rng {
				continue // duplicate, already reported
			}
			if !used[def.name] {
				diags = append(diags, engine.Diagnostic{
					Path:     path,
					Range:    def.rng,
					Severity: engine.SeverityWarning,
					Code:     "unused-label",
					Message:  fmt.Sprintf("label %q is never referenced", def.raw),
				})
			}
		}
	}
	return diags
}

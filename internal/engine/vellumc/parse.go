package vellumc

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"vellum/internal/overlay"
)

// fileModel is the parse result for one file. Ranges are already in the
// engine's negotiated encoding.
type fileModel struct {
	path     string
	content  string
	lines    []string
	headings []heading
	labels   []labelTok
	refs     []labelTok
	includes []includeDecl
}

type heading struct {
	level int
	text  string
	line  uint32
	rng   overlay.Range
}

// labelTok is a `<name>` anchor or an `@name` reference. rng covers the
// whole token including delimiters, inner only the name.
type labelTok struct {
	name  string // NFC-normalized
	raw   string
	line  uint32
	rng   overlay.Range
	inner overlay.Range
}

type includeDecl struct {
	target string // as written, usually relative
	line   uint32
	rng    overlay.Range // the quoted path including quotes
}

func parseSource(path, content string, enc overlay.Encoding) *fileModel {
	fm := &fileModel{
		path:    path,
		content: content,
		lines:   strings.Split(content, "\n"),
	}
	for i, line := range fm.lines {
		fm.scanLine(uint32(i), line, enc)
	}
	return fm
}

func (fm *fileModel) scanLine(ln uint32, line string, enc overlay.Encoding) {
	trimmed := strings.TrimLeft(line, " \t")
	indent := len(line) - len(trimmed)

	switch {
	case strings.HasPrefix(trimmed, "="):
		level := 0
		for level < len(trimmed) && trimmed[level] == '=' {
			level++
		}
		if level < len(trimmed) && trimmed[level] == ' ' {
			text := strings.TrimSpace(trimmed[level:])
			fm.headings = append(fm.headings, heading{
				level: level,
				text:  stripAnchors(text),
				line:  ln,
				rng:   lineRange(ln, line, indent, len(line), enc),
			})
		}
	case strings.HasPrefix(trimmed, "#include"):
		rest := strings.TrimLeft(trimmed[len("#include"):], " \t")
		if strings.HasPrefix(rest, "\"") {
			if end := strings.IndexByte(rest[1:], '"'); end >= 0 {
				start := len(line) - len(rest)
				fm.includes = append(fm.includes, includeDecl{
					target: rest[1 : 1+end],
					line:   ln,
					rng:    lineRange(ln, line, start, start+end+2, enc),
				})
			}
		}
	}

	fm.scanInline(ln, line, enc)
}

// scanInline collects `<label>` anchors and `@ref` references anywhere on
// the line, heading lines included.
func (fm *fileModel) scanInline(ln uint32, line string, enc overlay.Encoding) {
	for i := 0; i < len(line); {
		switch line[i] {
		case '<':
			rel := strings.IndexByte(line[i+1:], '>')
			if rel < 0 {
				i++
				continue
			}
			raw := line[i+1 : i+1+rel]
			if raw == "" || strings.ContainsAny(raw, " \t<") {
				i++
				continue
			}
			fm.labels = append(fm.labels, labelTok{
				name:  norm.NFC.String(raw),
				raw:   raw,
				line:  ln,
				rng:   lineRange(ln, line, i, i+rel+2, enc),
				inner: lineRange(ln, line, i+1, i+1+rel, enc),
			})
			i += rel + 2
		case '@':
			if i > 0 && isRefByte(line[i-1]) {
				i++
				continue
			}
			j := i + 1
			for j < len(line) {
				r, size := utf8.DecodeRuneInString(line[j:])
				if !isRefRune(r) {
					break
				}
				j += size
			}
			if j > i+1 {
				raw := line[i+1 : j]
				fm.refs = append(fm.refs, labelTok{
					name:  norm.NFC.String(raw),
					raw:   raw,
					line:  ln,
					rng:   lineRange(ln, line, i, j, enc),
					inner: lineRange(ln, line, i+1, j, enc),
				})
			}
			i = j
		default:
			i++
		}
	}
}

// stripAnchors removes inline `<label>` tokens from heading text so titles
// read clean.
func stripAnchors(s string) string {
	for {
		open := strings.IndexByte(s, '<')
		if open < 0 {
			return strings.TrimSpace(s)
		}
		rel := strings.IndexByte(s[open+1:], '>')
		if rel < 0 {
			return strings.TrimSpace(s)
		}
		s = s[:open] + s[open+2+rel:]
	}
}

// lineRange builds a single-line range from byte offsets within line.
func lineRange(ln uint32, line string, start, end int, enc overlay.Encoding) overlay.Range {
	return overlay.Range{
		Start: overlay.Position{Line: ln, Character: overlay.ColumnUnits(line[:start], enc)},
		End:   overlay.Position{Line: ln, Character: overlay.ColumnUnits(line[:end], enc)},
	}
}

func isRefRune(r rune) bool {
	return r == '_' || r == '-' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func isRefByte(b byte) bool {
	return b == '_' || b == '-' ||
		(b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

package vellumc

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strings"

	"github.com/mattn/go-runewidth"

	"vellum/internal/engine"
)

// pageLines is how many rendered lines fit one A4-ish page.
const pageLines = 54

func (e *Engine) Export(ctx context.Context, doc engine.Document, format engine.Format, page int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d, ok := doc.(*document)
	if !ok || d.m == nil {
		return nil, fmt.Errorf("document was not compiled by this engine")
	}

	pages := paginate(renderLines(d.m))
	if page == 0 {
		page = 1
	}
	if page < 1 || page > len(pages) {
		return nil, fmt.Errorf("page %d out of range: document has %d", page, len(pages))
	}
	lines := pages[page-1]

	switch format {
	case engine.FormatPDF:
		return renderPDF(lines), nil
	case engine.FormatSVG:
		return renderSVG(lines), nil
	case engine.FormatPNG:
		return renderPNG(lines)
	}
	return nil, fmt.Errorf("unknown export format %q", format)
}

// renderLines flattens the include tree into one line stream, splicing each
// included file at its directive. Already-spliced files are skipped, which
// also keeps cyclic trees finite.
func renderLines(m *model) []string {
	var out []string
	seen := make(map[string]bool)

	var walk func(path string)
	walk = func(path string) {
		if seen[path] {
			return
		}
		seen[path] = true
		fm := m.fms[path]
		if fm == nil {
			return
		}
		incs := m.incs[path]
		idx := 0
		for i, line := range fm.lines {
			if idx < len(incs) && incs[idx].decl.line == uint32(i) {
				walk(incs[idx].target)
				idx++
				continue
			}
			out = append(out, line)
		}
	}
	walk(m.entry)
	return out
}

func paginate(lines []string) [][]string {
	if len(lines) == 0 {
		return [][]string{nil}
	}
	var pages [][]string
	for start := 0; start < len(lines); start += pageLines {
		end := start + pageLines
		if end > len(lines) {
			end = len(lines)
		}
		pages = append(pages, lines[start:end])
	}
	return pages
}

var pdfEscaper = strings.NewReplacer(`\`, `\\`, "(", `\(`, ")", `\)`)

// renderPDF writes a minimal single-page PDF with one text stream.
func renderPDF(lines []string) []byte {
	var content bytes.Buffer
	content.WriteString("BT\n/F1 11 Tf\n14 TL\n36 806 Td\n")
	for _, line := range lines {
		fmt.Fprintf(&content, "(%s) Tj\nT*\n", pdfEscaper.Replace(line))
	}
	content.WriteString("ET\n")

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, 6)
	writeObj := func(num int, body string) {
		offsets[num] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", num, body)
	}
	writeObj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	writeObj(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	writeObj(3, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 595 842] "+
		"/Resources << /Font << /F1 4 0 R >> >> /Contents 5 0 R >>")
	writeObj(4, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")
	writeObj(5, fmt.Sprintf("<< /Length %d >>\nstream\n%sendstream", content.Len(), content.String()))

	xref := buf.Len()
	buf.WriteString("xref\n0 6\n0000000000 65535 f \n")
	for num := 1; num <= 5; num++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[num])
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size 6 /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", xref)
	return buf.Bytes()
}

var xmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")

func renderSVG(lines []string) []byte {
	var b bytes.Buffer
	b.WriteString(`<svg xmlns="http://www.w3.org/2000/svg" width="595" height="842" viewBox="0 0 595 842">` + "\n")
	b.WriteString(`  <rect width="595" height="842" fill="white"/>` + "\n")
	y := 36
	for _, line := range lines {
		if line != "" {
			fmt.Fprintf(&b, `  <text x="36" y="%d" font-family="serif" font-size="11">%s</text>`+"\n",
				y, xmlEscaper.Replace(line))
		}
		y += 14
	}
	b.WriteString("</svg>\n")
	return b.Bytes()
}

// renderPNG rasterizes the page as grey line boxes sized by display width,
// one box per non-empty line.
func renderPNG(lines []string) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, 595, 842))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	ink := image.NewUniform(color.RGBA{R: 70, G: 70, B: 70, A: 255})

	y := 28
	for _, line := range lines {
		w := runewidth.StringWidth(line) * 6
		if w > 523 {
			w = 523
		}
		if w > 0 {
			draw.Draw(img, image.Rect(36, y, 36+w, y+9), ink, image.Point{}, draw.Src)
		}
		y += 14
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

package diagfmt

import (
	"encoding/json"
	"io"
	"strings"

	"vellum/internal/engine"
)

// PositionJSON is a 1-based file position.
type PositionJSON struct {
	Line uint32 `json:"line"`
	Col  uint32 `json:"col"`
}

// DiagnosticJSON is one diagnostic in JSON output.
type DiagnosticJSON struct {
	File     string       `json:"file"`
	Severity string       `json:"severity"`
	Code     string       `json:"code"`
	Message  string       `json:"message"`
	Start    PositionJSON `json:"start"`
	End      PositionJSON `json:"end"`
}

// Output is the root structure of JSON diagnostics output.
type Output struct {
	Diagnostics []DiagnosticJSON `json:"diagnostics"`
	Errors      int              `json:"errors"`
	Warnings    int              `json:"warnings"`
}

// JSON writes diags as an indented JSON document.
func JSON(w io.Writer, diags []engine.Diagnostic, opts JSONOpts) error {
	out := Output{Diagnostics: make([]DiagnosticJSON, 0, len(diags))}
	for _, d := range diags {
		out.Diagnostics = append(out.Diagnostics, DiagnosticJSON{
			File:     displayPath(d.Path, opts.PathMode, opts.Root),
			Severity: strings.ToLower(d.Severity.String()),
			Code:     d.Code,
			Message:  d.Message,
			Start:    PositionJSON{Line: d.Range.Start.Line + 1, Col: d.Range.Start.Character + 1},
			End:      PositionJSON{Line: d.Range.End.Line + 1, Col: d.Range.End.Character + 1},
		})
	}
	c := Count(diags)
	out.Errors = c.Errors
	out.Warnings = c.Warnings

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

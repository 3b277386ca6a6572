package diagfmt

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/fatih/color"

	"vellum/internal/engine"
)

var (
	errColor  = color.New(color.FgRed, color.Bold)
	warnColor = color.New(color.FgYellow, color.Bold)
	infoColor = color.New(color.FgCyan)
	hintColor = color.New(color.FgHiBlack)
)

func severityColor(s engine.Severity) *color.Color {
	switch s {
	case engine.SeverityError:
		return errColor
	case engine.SeverityWarning:
		return warnColor
	case engine.SeverityInformation:
		return infoColor
	default:
		return hintColor
	}
}

// Pretty prints one line per diagnostic:
//
//	<path>:<line>:<col>: <SEV> <code>: <message>
//
// Lines and columns are 1-based.
func Pretty(w io.Writer, diags []engine.Diagnostic, opts PrettyOpts) {
	for _, d := range diags {
		sev := d.Severity.String()
		if opts.Color {
			sev = severityColor(d.Severity).Sprint(sev)
		}
		fmt.Fprintf(w, "%s:%d:%d: %s %s: %s\n",
			displayPath(d.Path, opts.PathMode, opts.Root),
			d.Range.Start.Line+1, d.Range.Start.Character+1,
			sev, d.Code, d.Message)
	}
}

func displayPath(path string, mode PathMode, root string) string {
	switch mode {
	case PathModeBasename:
		return filepath.Base(path)
	case PathModeAbsolute:
		return path
	default:
		if root != "" {
			if rel, err := filepath.Rel(root, path); err == nil && !strings.HasPrefix(rel, "..") {
				return rel
			}
		}
		return path
	}
}

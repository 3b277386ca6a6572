package check

import (
	"fmt"
	"io"

	"vellum/internal/diagfmt"
	"vellum/internal/engine"
)

// AllDiagnostics flattens the results into one sorted diagnostic list.
func AllDiagnostics(results []Result) []engine.Diagnostic {
	var all []engine.Diagnostic
	for _, r := range results {
		all = append(all, r.Diags...)
	}
	diagfmt.Sort(all)
	return all
}

// Report writes per-entry failures, every diagnostic and a summary line,
// and returns the severity counts.
func Report(w io.Writer, results []Result, opts diagfmt.PrettyOpts) diagfmt.Counts {
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(w, "%s: %v\n", r.Entry, r.Err)
		}
	}

	all := AllDiagnostics(results)
	diagfmt.Pretty(w, all, opts)

	c := diagfmt.Count(all)
	fmt.Fprintf(w, "checked %d %s: %d %s, %d %s\n",
		len(results), plural(len(results), "document", "documents"),
		c.Errors, plural(c.Errors, "error", "errors"),
		c.Warnings, plural(c.Warnings, "warning", "warnings"))
	return c
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// HasErrors reports whether any entry failed outright or produced error
// diagnostics.
func HasErrors(results []Result) bool {
	for _, r := range results {
		if r.Err != nil {
			return true
		}
		for _, d := range r.Diags {
			if d.Severity == engine.SeverityError {
				return true
			}
		}
	}
	return false
}

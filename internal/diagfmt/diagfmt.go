// Package diagfmt renders engine diagnostics for humans and tools.
package diagfmt

import (
	"sort"

	"vellum/internal/engine"
)

// Counts tallies diagnostics by severity.
type Counts struct {
	Errors   int
	Warnings int
	Infos    int
	Hints    int
}

// Count tallies diags.
func Count(diags []engine.Diagnostic) Counts {
	var c Counts
	for _, d := range diags {
		switch d.Severity {
		case engine.SeverityError:
			c.Errors++
		case engine.SeverityWarning:
			c.Warnings++
		case engine.SeverityInformation:
			c.Infos++
		case engine.SeverityHint:
			c.Hints++
		}
	}
	return c
}

// Total returns the number of counted diagnostics.
func (c Counts) Total() int {
	return c.Errors + c.Warnings + c.Infos + c.Hints
}

// Sort orders diags by path, then position, then severity. Pretty and JSON
// expect their input pre-sorted.
func Sort(diags []engine.Diagnostic) {
	sort.SliceStable(diags, func(i, j int) bool {
		a, b := diags[i], diags[j]
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		if a.Range.Start.Line != b.Range.Start.Line {
			return a.Range.Start.Line < b.Range.Start.Line
		}
		if a.Range.Start.Character != b.Range.Start.Character {
			return a.Range.Start.Character < b.Range.Start.Character
		}
		return a.Severity < b.Severity
	})
}

package engine

import "vellum/internal/overlay"

// Severity defines the importance of a diagnostic. Values mirror the LSP
// wire encoding.
type Severity uint8

const (
	SeverityError Severity = iota + 1
	SeverityWarning
	SeverityInformation
	SeverityHint
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "ERROR"
	case SeverityWarning:
		return "WARNING"
	case SeverityInformation:
		return "INFO"
	case SeverityHint:
		return "HINT"
	}
	return "UNKNOWN"
}

// Diagnostic is one finding against a file, with a range expressed in the
// engine's negotiated position encoding.
type Diagnostic struct {
	Path     string
	Range    overlay.Range
	Severity Severity
	Code     string
	Message  string
}

package engine

import "vellum/internal/overlay"

// QueryKind selects which feature a Query asks for.
type QueryKind uint8

const (
	QueryHover QueryKind = iota + 1
	QueryCompletion
	QueryDefinition
	QueryDeclaration
	QueryReferences
	QueryRename
	QueryPrepareRename
	QueryInlayHint
	QueryCodeLens
	QuerySignatureHelp
	QueryWorkspaceSymbol
)

func (k QueryKind) String() string {
	switch k {
	case QueryHover:
		return "hover"
	case QueryCompletion:
		return "completion"
	case QueryDefinition:
		return "definition"
	case QueryDeclaration:
		return "declaration"
	case QueryReferences:
		return "references"
	case QueryRename:
		return "rename"
	case QueryPrepareRename:
		return "prepareRename"
	case QueryInlayHint:
		return "inlayHint"
	case QueryCodeLens:
		return "codeLens"
	case QuerySignatureHelp:
		return "signatureHelp"
	case QueryWorkspaceSymbol:
		return "workspaceSymbol"
	}
	return "unknown"
}

// NeedsDocument reports whether the query must run against a compiled
// document. The rest answer from the dependency graph alone.
func (k QueryKind) NeedsDocument() bool {
	switch k {
	case QueryHover, QueryCompletion, QueryDefinition, QueryRename, QueryPrepareRename:
		return true
	}
	return false
}

// Query is one feature request. Kind decides which of the optional fields
// are meaningful.
type Query struct {
	Kind QueryKind
	// Path is the absolute file the request addresses. Empty for
	// workspace-scoped kinds.
	Path string
	// Pos is the request position in the negotiated encoding.
	Pos overlay.Position
	// Window bounds inlay hint computation.
	Window overlay.Range
	// NewName is the rename target.
	NewName string
	// Pattern filters workspace symbols.
	Pattern string
}

package engine

import "go.lsp.dev/protocol"

// The protocol package in use speaks LSP 3.15. Inlay hints and semantic
// tokens arrived in later revisions, so their wire shapes live here.

// InlayHint is an inline annotation attached to a source position.
type InlayHint struct {
	Position     protocol.Position `json:"position"`
	Label        string            `json:"label"`
	Kind         int               `json:"kind,omitempty"`
	PaddingLeft  bool              `json:"paddingLeft,omitempty"`
	PaddingRight bool              `json:"paddingRight,omitempty"`
}

const (
	InlayHintKindType      = 1
	InlayHintKindParameter = 2
)

// SemanticTokens carries the delta-encoded token stream: quintuples of
// (deltaLine, deltaStartChar, length, tokenType, tokenModifiers).
type SemanticTokens struct {
	ResultID string   `json:"resultId,omitempty"`
	Data     []uint32 `json:"data"`
}

// Semantic token type indices into TokenTypes.
const (
	TokenHeading uint32 = iota
	TokenLabel
	TokenReference
	TokenInclude
)

// TokenTypes is the legend advertised in the server capabilities, in index
// order.
var TokenTypes = []string{"keyword", "property", "variable", "macro"}

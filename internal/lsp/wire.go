package lsp

import (
	"encoding/json"
	"strings"

	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"vellum/internal/overlay"
)

// The protocol package in use predates some of the wire shapes this server
// speaks (position-encoding negotiation, inlay hints, a pointer range on
// content changes). Request params are therefore decoded into the thin local
// structs below; results reuse protocol types.

type initializeParams struct {
	ProcessID             int               `json:"processId,omitempty"`
	RootPath              string            `json:"rootPath,omitempty"`
	RootURI               uri.URI           `json:"rootUri,omitempty"`
	InitializationOptions json.RawMessage   `json:"initializationOptions,omitempty"`
	Capabilities          clientCaps        `json:"capabilities"`
	WorkspaceFolders      []workspaceFolder `json:"workspaceFolders,omitempty"`
}

type workspaceFolder struct {
	URI  uri.URI `json:"uri"`
	Name string  `json:"name"`
}

type clientCaps struct {
	General generalCaps `json:"general,omitempty"`
}

type generalCaps struct {
	PositionEncodings []string `json:"positionEncodings,omitempty"`
}

type initializeResult struct {
	Capabilities serverCapabilities `json:"capabilities"`
	ServerInfo   serverInfo         `json:"serverInfo"`
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

type serverCapabilities struct {
	PositionEncoding       string                  `json:"positionEncoding,omitempty"`
	TextDocumentSync       textDocumentSyncOptions `json:"textDocumentSync"`
	HoverProvider          bool                    `json:"hoverProvider"`
	CompletionProvider     *completionOptions      `json:"completionProvider,omitempty"`
	SignatureHelpProvider  *signatureHelpOptions   `json:"signatureHelpProvider,omitempty"`
	DefinitionProvider     bool                    `json:"definitionProvider"`
	DeclarationProvider    bool                    `json:"declarationProvider"`
	ReferencesProvider     bool                    `json:"referencesProvider"`
	DocumentSymbolProvider bool                    `json:"documentSymbolProvider"`
	WorkspaceSymbolProvider bool                   `json:"workspaceSymbolProvider"`
	FoldingRangeProvider   bool                    `json:"foldingRangeProvider"`
	SelectionRangeProvider bool                    `json:"selectionRangeProvider"`
	RenameProvider         *renameOptions          `json:"renameProvider,omitempty"`
	CodeLensProvider       *codeLensOptions        `json:"codeLensProvider,omitempty"`
	InlayHintProvider      bool                    `json:"inlayHintProvider"`
	SemanticTokensProvider *semanticTokensOptions  `json:"semanticTokensProvider,omitempty"`
	ExecuteCommandProvider *executeCommandOptions  `json:"executeCommandProvider,omitempty"`
}

type textDocumentSyncOptions struct {
	OpenClose bool        `json:"openClose"`
	Change    int         `json:"change"`
	Save      saveOptions `json:"save"`
}

type saveOptions struct {
	IncludeText bool `json:"includeText"`
}

type completionOptions struct {
	TriggerCharacters []string `json:"triggerCharacters,omitempty"`
}

type signatureHelpOptions struct {
	TriggerCharacters []string `json:"triggerCharacters,omitempty"`
}

type renameOptions struct {
	PrepareProvider bool `json:"prepareProvider"`
}

type codeLensOptions struct {
	ResolveProvider bool `json:"resolveProvider"`
}

type semanticTokensOptions struct {
	Legend semanticTokensLegend `json:"legend"`
	Full   bool                 `json:"full"`
}

type semanticTokensLegend struct {
	TokenTypes     []string `json:"tokenTypes"`
	TokenModifiers []string `json:"tokenModifiers"`
}

type executeCommandOptions struct {
	Commands []string `json:"commands"`
}

type textDocumentIdentifier struct {
	URI uri.URI `json:"uri"`
}

type didOpenParams struct {
	TextDocument struct {
		URI     uri.URI `json:"uri"`
		Version int32   `json:"version"`
		Text    string  `json:"text"`
	} `json:"textDocument"`
}

type didChangeParams struct {
	TextDocument   textDocumentIdentifier `json:"textDocument"`
	ContentChanges []contentChange        `json:"contentChanges"`
}

// contentChange keeps the range a pointer: a rangeless change replaces the
// whole document, which the protocol package's value field cannot express.
type contentChange struct {
	Range *protocol.Range `json:"range,omitempty"`
	Text  string          `json:"text"`
}

type didSaveParams struct {
	TextDocument textDocumentIdentifier `json:"textDocument"`
	Text         string                 `json:"text,omitempty"`
}

type didCloseParams struct {
	TextDocument textDocumentIdentifier `json:"textDocument"`
}

type positionParams struct {
	TextDocument textDocumentIdentifier `json:"textDocument"`
	Position     protocol.Position      `json:"position"`
}

type renameParams struct {
	TextDocument textDocumentIdentifier `json:"textDocument"`
	Position     protocol.Position      `json:"position"`
	NewName      string                 `json:"newName"`
}

type documentParams struct {
	TextDocument textDocumentIdentifier `json:"textDocument"`
}

type inlayHintParams struct {
	TextDocument textDocumentIdentifier `json:"textDocument"`
	Range        protocol.Range         `json:"range"`
}

type selectionRangeParams struct {
	TextDocument textDocumentIdentifier `json:"textDocument"`
	Positions    []protocol.Position    `json:"positions"`
}

type workspaceSymbolParams struct {
	Query string `json:"query"`
}

type executeCommandParams struct {
	Command   string            `json:"command"`
	Arguments []json.RawMessage `json:"arguments,omitempty"`
}

// pathOf maps a document URI onto an absolute file path. Non-file schemes
// have no overlay entry and no place in the engine, so they report false.
func pathOf(u uri.URI) (string, bool) {
	if !strings.HasPrefix(string(u), "file://") {
		return "", false
	}
	return u.Filename(), true
}

func toOverlayPos(p protocol.Position) overlay.Position {
	return overlay.Position{Line: p.Line, Character: p.Character}
}

func toOverlayRange(r *protocol.Range) *overlay.Range {
	if r == nil {
		return nil
	}
	return &overlay.Range{Start: toOverlayPos(r.Start), End: toOverlayPos(r.End)}
}

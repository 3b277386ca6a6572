package lsp

import (
	"context"

	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
)

// clientPublisher pushes merged diagnostics to the connected editor. A nil
// list is published as an empty array: the protocol reads null as "no
// change" in some clients, and withdrawal must clear.
type clientPublisher struct {
	conn jsonrpc2.Conn
	// max caps the diagnostics published per file. Zero means no cap.
	max int
}

func (p clientPublisher) PublishDiagnostics(ctx context.Context, fileURI uri.URI, diags []protocol.Diagnostic) error {
	if diags == nil {
		diags = []protocol.Diagnostic{}
	}
	if p.max > 0 && len(diags) > p.max {
		diags = diags[:p.max]
	}
	return p.conn.Notify(ctx, "textDocument/publishDiagnostics", protocol.PublishDiagnosticsParams{
		URI:         fileURI,
		Diagnostics: diags,
	})
}

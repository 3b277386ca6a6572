package lsp

import (
	"context"
	"encoding/json"
	"os"

	"go.lsp.dev/jsonrpc2"

	"vellum/internal/engine"
	"vellum/internal/overlay"
)

// Feature queries come in two shapes. Document-bound kinds go through the
// registry, which routes between the pinned main session and the primary
// one; source-only kinds read the overlay (or disk) and answer from the
// analyzer without engine access.

func replyBadParams(ctx context.Context, reply jsonrpc2.Replier, err error) error {
	return reply(ctx, nil, jsonrpc2.Errorf(jsonrpc2.InvalidParams, "%v", err))
}

// queryReply runs q through the registry and replies with whatever it
// returns. A nil result is a legitimate miss, not an error.
func (s *Server) queryReply(ctx context.Context, reply jsonrpc2.Replier, q engine.Query) error {
	reg := s.reg()
	if reg == nil {
		return reply(ctx, nil, jsonrpc2.NewError(serverNotInitialized, "server not initialized"))
	}
	res, err := reg.Query(ctx, q)
	if err != nil {
		return reply(ctx, nil, err)
	}
	return reply(ctx, res, nil)
}

func (s *Server) hover(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params positionParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		return replyBadParams(ctx, reply, err)
	}
	path, ok := pathOf(params.TextDocument.URI)
	if !ok {
		return reply(ctx, nil, nil)
	}
	s.implicitFocus(ctx, focusActivity, path)
	return s.queryReply(ctx, reply, engine.Query{
		Kind: engine.QueryHover,
		Path: path,
		Pos:  toOverlayPos(params.Position),
	})
}

func (s *Server) completion(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params positionParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		return replyBadParams(ctx, reply, err)
	}
	path, ok := pathOf(params.TextDocument.URI)
	if !ok {
		return reply(ctx, nil, nil)
	}
	return s.queryReply(ctx, reply, engine.Query{
		Kind: engine.QueryCompletion,
		Path: path,
		Pos:  toOverlayPos(params.Position),
	})
}

func (s *Server) signatureHelp(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params positionParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		return replyBadParams(ctx, reply, err)
	}
	path, ok := pathOf(params.TextDocument.URI)
	if !ok {
		return reply(ctx, nil, nil)
	}
	return s.queryReply(ctx, reply, engine.Query{
		Kind: engine.QuerySignatureHelp,
		Path: path,
		Pos:  toOverlayPos(params.Position),
	})
}

func (s *Server) definition(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params positionParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		return replyBadParams(ctx, reply, err)
	}
	path, ok := pathOf(params.TextDocument.URI)
	if !ok {
		return reply(ctx, nil, nil)
	}
	return s.queryReply(ctx, reply, engine.Query{
		Kind: engine.QueryDefinition,
		Path: path,
		Pos:  toOverlayPos(params.Position),
	})
}

func (s *Server) declaration(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params positionParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		return replyBadParams(ctx, reply, err)
	}
	path, ok := pathOf(params.TextDocument.URI)
	if !ok {
		return reply(ctx, nil, nil)
	}
	return s.queryReply(ctx, reply, engine.Query{
		Kind: engine.QueryDeclaration,
		Path: path,
		Pos:  toOverlayPos(params.Position),
	})
}

func (s *Server) references(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params positionParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		return replyBadParams(ctx, reply, err)
	}
	path, ok := pathOf(params.TextDocument.URI)
	if !ok {
		return reply(ctx, nil, nil)
	}
	return s.queryReply(ctx, reply, engine.Query{
		Kind: engine.QueryReferences,
		Path: path,
		Pos:  toOverlayPos(params.Position),
	})
}

func (s *Server) rename(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params renameParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		return replyBadParams(ctx, reply, err)
	}
	path, ok := pathOf(params.TextDocument.URI)
	if !ok {
		return reply(ctx, nil, nil)
	}
	return s.queryReply(ctx, reply, engine.Query{
		Kind:    engine.QueryRename,
		Path:    path,
		Pos:     toOverlayPos(params.Position),
		NewName: params.NewName,
	})
}

func (s *Server) prepareRename(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params positionParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		return replyBadParams(ctx, reply, err)
	}
	path, ok := pathOf(params.TextDocument.URI)
	if !ok {
		return reply(ctx, nil, nil)
	}
	return s.queryReply(ctx, reply, engine.Query{
		Kind: engine.QueryPrepareRename,
		Path: path,
		Pos:  toOverlayPos(params.Position),
	})
}

func (s *Server) inlayHint(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params inlayHintParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		return replyBadParams(ctx, reply, err)
	}
	path, ok := pathOf(params.TextDocument.URI)
	if !ok {
		return reply(ctx, nil, nil)
	}
	return s.queryReply(ctx, reply, engine.Query{
		Kind: engine.QueryInlayHint,
		Path: path,
		Window: overlay.Range{
			Start: toOverlayPos(params.Range.Start),
			End:   toOverlayPos(params.Range.End),
		},
	})
}

func (s *Server) codeLens(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params documentParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		return replyBadParams(ctx, reply, err)
	}
	path, ok := pathOf(params.TextDocument.URI)
	if !ok {
		return reply(ctx, nil, nil)
	}
	return s.queryReply(ctx, reply, engine.Query{
		Kind: engine.QueryCodeLens,
		Path: path,
	})
}

func (s *Server) workspaceSymbol(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params workspaceSymbolParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		return replyBadParams(ctx, reply, err)
	}
	return s.queryReply(ctx, reply, engine.Query{
		Kind:    engine.QueryWorkspaceSymbol,
		Pattern: params.Query,
	})
}

// Source-only queries below. They never wait on a compile; a file the
// editor has not opened is read from disk.

func (s *Server) documentSymbol(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params documentParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		return replyBadParams(ctx, reply, err)
	}
	path, ok := pathOf(params.TextDocument.URI)
	if !ok {
		return reply(ctx, nil, nil)
	}
	text, an, err := s.source(path)
	if err != nil {
		return reply(ctx, nil, err)
	}
	return reply(ctx, an.DocumentSymbols(text), nil)
}

func (s *Server) foldingRange(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params documentParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		return replyBadParams(ctx, reply, err)
	}
	path, ok := pathOf(params.TextDocument.URI)
	if !ok {
		return reply(ctx, nil, nil)
	}
	s.implicitFocus(ctx, focusActivity, path)
	text, an, err := s.source(path)
	if err != nil {
		return reply(ctx, nil, err)
	}
	return reply(ctx, an.FoldingRanges(text), nil)
}

func (s *Server) selectionRange(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params selectionRangeParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		return replyBadParams(ctx, reply, err)
	}
	path, ok := pathOf(params.TextDocument.URI)
	if !ok {
		return reply(ctx, nil, nil)
	}
	text, an, err := s.source(path)
	if err != nil {
		return reply(ctx, nil, err)
	}
	positions := make([]overlay.Position, 0, len(params.Positions))
	for _, p := range params.Positions {
		positions = append(positions, toOverlayPos(p))
	}
	return reply(ctx, an.SelectionRanges(text, positions), nil)
}

func (s *Server) semanticTokensFull(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params documentParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		return replyBadParams(ctx, reply, err)
	}
	path, ok := pathOf(params.TextDocument.URI)
	if !ok {
		return reply(ctx, nil, nil)
	}
	s.implicitFocus(ctx, focusActivity, path)
	text, an, err := s.source(path)
	if err != nil {
		return reply(ctx, nil, err)
	}
	return reply(ctx, an.SemanticTokens(text), nil)
}

// source fetches the file text and the shared analyzer for a source-only
// query.
func (s *Server) source(path string) (string, engine.SourceAnalyzer, error) {
	text, err := s.sourceText(path)
	if err != nil {
		return "", nil, jsonrpc2.Errorf(jsonrpc2.InvalidParams, "read %s: %v", path, err)
	}
	an := s.analyzer()
	if an == nil {
		return "", nil, jsonrpc2.NewError(serverNotInitialized, "server not initialized")
	}
	return text, an, nil
}

// sourceText prefers the overlay copy and falls back to disk for files the
// editor has not opened.
func (s *Server) sourceText(path string) (string, error) {
	if text, ok := s.ov.Content(path); ok {
		return text, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *Server) analyzer() engine.SourceAnalyzer {
	reg := s.reg()
	if reg == nil {
		return nil
	}
	p := reg.Primary()
	if p == nil {
		return nil
	}
	return p.Analyzer()
}

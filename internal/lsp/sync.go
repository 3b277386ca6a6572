package lsp

import (
	"context"
	"encoding/json"

	"go.lsp.dev/jsonrpc2"

	"vellum/internal/editor"
	"vellum/internal/export"
	"vellum/internal/overlay"
	"vellum/internal/session"
)

// Text synchronization. These are notifications: there is nothing to reply,
// so decode and apply failures are logged and the next full sync heals the
// client's view.

func (s *Server) didOpen(ctx context.Context, req jsonrpc2.Request) error {
	var params didOpenParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		s.lg.Warn("didOpen params", "err", err)
		return nil
	}
	path, ok := pathOf(params.TextDocument.URI)
	if !ok {
		return nil
	}
	if err := s.ov.Open(ctx, path, params.TextDocument.Text); err != nil {
		s.lg.Warn("open overlay", "path", path, "err", err)
		return nil
	}
	s.implicitFocus(ctx, focusOpen, path)
	return nil
}

func (s *Server) didChange(ctx context.Context, req jsonrpc2.Request) error {
	var params didChangeParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		s.lg.Warn("didChange params", "err", err)
		return nil
	}
	path, ok := pathOf(params.TextDocument.URI)
	if !ok {
		return nil
	}
	changes := make([]overlay.ContentChange, 0, len(params.ContentChanges))
	for _, c := range params.ContentChanges {
		changes = append(changes, overlay.ContentChange{
			Range: toOverlayRange(c.Range),
			Text:  c.Text,
		})
	}
	if err := s.ov.Edit(ctx, path, changes, s.enc); err != nil {
		s.lg.Warn("edit overlay", "path", path, "err", err)
	}
	return nil
}

func (s *Server) didSave(ctx context.Context, req jsonrpc2.Request) error {
	var params didSaveParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		s.lg.Warn("didSave params", "err", err)
		return nil
	}
	path, ok := pathOf(params.TextDocument.URI)
	if !ok {
		return nil
	}
	if a := s.exportFor(ctx, path); a != nil {
		a.Saved()
	}
	return nil
}

func (s *Server) didClose(ctx context.Context, req jsonrpc2.Request) error {
	var params didCloseParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		s.lg.Warn("didClose params", "err", err)
		return nil
	}
	path, ok := pathOf(params.TextDocument.URI)
	if !ok {
		return nil
	}
	if err := s.ov.Close(ctx, path); err != nil {
		s.lg.Warn("close overlay", "path", path, "err", err)
	}
	return nil
}

// implicitFocus forwards open or activity focus to the registry unless the
// manual-focus latch suppresses it. The registry handles pin suppression on
// its own: while pinned it records the path as the unpin fallback without
// re-targeting.
func (s *Server) implicitFocus(ctx context.Context, kind focusKind, path string) {
	if !s.focus.note(kind, path) {
		return
	}
	reg := s.reg()
	if reg == nil {
		return
	}
	if _, err := reg.Focus(ctx, path); err != nil {
		s.lg.Warn("focus", "path", path, "err", err)
	}
}

// exportFor picks the actor whose group serves path: the main group while
// its pinned dependency graph contains the file, the primary group for
// everything else.
func (s *Server) exportFor(ctx context.Context, path string) *export.Actor {
	group := editor.PrimaryGroup
	if reg := s.reg(); reg != nil && reg.MainServes(ctx, path) {
		group = session.MainGroup
	}
	return s.exports[group]
}

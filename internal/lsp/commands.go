package lsp

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/uri"

	"vellum/internal/editor"
	"vellum/internal/engine"
	"vellum/internal/export"
	"vellum/internal/overlay"
	"vellum/internal/session"
)

// Commands reachable through workspace/executeCommand.
const (
	cmdExportPDF      = "vellum.exportPdf"
	cmdExportSVG      = "vellum.exportSvg"
	cmdExportPNG      = "vellum.exportPng"
	cmdClearCache     = "vellum.doClearCache"
	cmdPinMain        = "vellum.pinMain"
	cmdFocusMain      = "vellum.focusMain"
	cmdChangeEntry    = "vellum.changeEntry"
	cmdShowReferences = "vellum.showReferences"
)

// commandNames is the executeCommandProvider capability list.
var commandNames = []string{
	cmdExportPDF,
	cmdExportSVG,
	cmdExportPNG,
	cmdClearCache,
	cmdPinMain,
	cmdFocusMain,
	cmdChangeEntry,
	cmdShowReferences,
}

func (s *Server) executeCommand(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params executeCommandParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		return replyBadParams(ctx, reply, err)
	}
	res, err := s.runCommand(ctx, params.Command, params.Arguments)
	if err != nil {
		return reply(ctx, nil, err)
	}
	return reply(ctx, res, nil)
}

func (s *Server) runCommand(ctx context.Context, name string, args []json.RawMessage) (any, error) {
	s.lg.Debug("command", "name", name)
	switch name {
	case cmdExportPDF:
		return s.commandExport(ctx, args, engine.FormatPDF)
	case cmdExportSVG:
		return s.commandExport(ctx, args, engine.FormatSVG)
	case cmdExportPNG:
		return s.commandExport(ctx, args, engine.FormatPNG)
	case cmdClearCache:
		return nil, s.commandClearCache(ctx)
	case cmdPinMain:
		return nil, s.commandPin(ctx, args)
	case cmdFocusMain:
		return nil, s.commandFocus(ctx, args)
	case cmdChangeEntry:
		return nil, s.commandChangeEntry(ctx, args)
	case cmdShowReferences:
		return s.commandShowReferences(ctx, args)
	}
	return nil, fmt.Errorf("%w: %q", jsonrpc2.ErrMethodNotFound, name)
}

// commandExport compiles the named file's document and renders it, replying
// with the written artifact path. The file's serving session does the work:
// the main session when its pinned graph contains the file, the primary
// session otherwise. While a pin holds the primary entry in place, an
// outside file gets a throwaway task session so the pin stays undisturbed.
func (s *Server) commandExport(ctx context.Context, args []json.RawMessage, f engine.Format) (string, error) {
	path, err := pathArg(args, 0)
	if err != nil {
		return "", jsonrpc2.Errorf(jsonrpc2.InvalidParams, "export: %v", err)
	}
	page, err := pageArg(args, 1)
	if err != nil {
		return "", jsonrpc2.Errorf(jsonrpc2.InvalidParams, "export: %v", err)
	}
	reg := s.reg()
	if reg == nil {
		return "", jsonrpc2.NewError(serverNotInitialized, "server not initialized")
	}

	group := editor.PrimaryGroup
	var doc engine.Document
	switch {
	case reg.MainServes(ctx, path):
		group = session.MainGroup
		doc, err = documentFor(ctx, reg.Main())
	case !reg.Pinned():
		primary := reg.Primary()
		if primary == nil {
			return "", jsonrpc2.NewError(serverNotInitialized, "server not initialized")
		}
		if _, err := primary.ChangeEntry(ctx, path); err != nil {
			return "", err
		}
		doc, err = documentFor(ctx, primary)
	default:
		err = reg.RunTask(ctx, path, func(ctx context.Context, ts *session.Session) error {
			d, derr := documentFor(ctx, ts)
			doc = d
			return derr
		})
	}
	if err != nil {
		return "", err
	}
	return s.exports[group].ExportNow(ctx, doc, f, page)
}

// documentFor returns the session's cached document when it matches the
// current entry, compiling inline otherwise.
func documentFor(ctx context.Context, sess *session.Session) (engine.Document, error) {
	entry := sess.Entry()
	type out struct {
		doc engine.Document
		err error
	}
	r, err := session.Steal(ctx, sess, func(svc *session.Service) out {
		if doc := svc.Document(); doc != nil && doc.Entry() == entry {
			return out{doc: doc}
		}
		doc, _, err := svc.Engine.Compile(ctx)
		return out{doc: doc, err: err}
	})
	if err != nil {
		return nil, err
	}
	if r.err != nil {
		return nil, r.err
	}
	if r.doc == nil {
		return nil, export.ErrNoDocument
	}
	return r.doc, nil
}

func (s *Server) commandClearCache(ctx context.Context) error {
	reg := s.reg()
	if reg == nil {
		return jsonrpc2.NewError(serverNotInitialized, "server not initialized")
	}
	reg.ClearCaches(ctx)
	return nil
}

func (s *Server) commandPin(ctx context.Context, args []json.RawMessage) error {
	path, err := optionalPathArg(args, 0)
	if err != nil {
		return jsonrpc2.Errorf(jsonrpc2.InvalidParams, "pinMain: %v", err)
	}
	reg := s.reg()
	if reg == nil {
		return jsonrpc2.NewError(serverNotInitialized, "server not initialized")
	}
	return reg.Pin(ctx, path)
}

// commandFocus is manual focus. A path latches manual focus; null releases
// the latch and restores whatever implicit focus last pointed at.
func (s *Server) commandFocus(ctx context.Context, args []json.RawMessage) error {
	path, err := optionalPathArg(args, 0)
	if err != nil {
		return jsonrpc2.Errorf(jsonrpc2.InvalidParams, "focusMain: %v", err)
	}
	reg := s.reg()
	if reg == nil {
		return jsonrpc2.NewError(serverNotInitialized, "server not initialized")
	}
	if path == "" {
		if restored := s.focus.release(); restored != "" {
			_, err := reg.Focus(ctx, restored)
			return err
		}
		return nil
	}
	s.focus.note(focusManual, path)
	_, ferr := reg.Focus(ctx, path)
	return ferr
}

func (s *Server) commandChangeEntry(ctx context.Context, args []json.RawMessage) error {
	path, err := optionalPathArg(args, 0)
	if err != nil {
		return jsonrpc2.Errorf(jsonrpc2.InvalidParams, "changeEntry: %v", err)
	}
	reg := s.reg()
	if reg == nil {
		return jsonrpc2.NewError(serverNotInitialized, "server not initialized")
	}
	primary := reg.Primary()
	if primary == nil {
		return jsonrpc2.NewError(serverNotInitialized, "server not initialized")
	}
	if path == "" {
		if def := s.manifest.EntryPath(s.root); def != "" {
			_, err := primary.ChangeEntry(ctx, def)
			return err
		}
		return primary.Disable(ctx)
	}
	_, cerr := primary.ChangeEntry(ctx, path)
	return cerr
}

// commandShowReferences backs the reference-count code lens: same answer as
// textDocument/references at the lens position.
func (s *Server) commandShowReferences(ctx context.Context, args []json.RawMessage) (any, error) {
	path, err := pathArg(args, 0)
	if err != nil {
		return nil, jsonrpc2.Errorf(jsonrpc2.InvalidParams, "showReferences: %v", err)
	}
	line, err := uint32Arg(args, 1)
	if err != nil {
		return nil, jsonrpc2.Errorf(jsonrpc2.InvalidParams, "showReferences: %v", err)
	}
	char, err := uint32Arg(args, 2)
	if err != nil {
		return nil, jsonrpc2.Errorf(jsonrpc2.InvalidParams, "showReferences: %v", err)
	}
	reg := s.reg()
	if reg == nil {
		return nil, jsonrpc2.NewError(serverNotInitialized, "server not initialized")
	}
	return reg.Query(ctx, engine.Query{
		Kind: engine.QueryReferences,
		Path: path,
		Pos:  overlay.Position{Line: line, Character: char},
	})
}

// Positional argument extractors. Editors send command arguments as loose
// JSON arrays; each extractor enforces the type of one slot.

func stringArg(args []json.RawMessage, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("missing argument %d", i)
	}
	var v string
	if err := json.Unmarshal(args[i], &v); err != nil {
		return "", fmt.Errorf("argument %d: %v", i, err)
	}
	return v, nil
}

func uint32Arg(args []json.RawMessage, i int) (uint32, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("missing argument %d", i)
	}
	var v uint32
	if err := json.Unmarshal(args[i], &v); err != nil {
		return 0, fmt.Errorf("argument %d: %v", i, err)
	}
	return v, nil
}

// pathArg accepts either a plain path or a file URI.
func pathArg(args []json.RawMessage, i int) (string, error) {
	v, err := stringArg(args, i)
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(v, "file://") {
		v = uri.URI(v).Filename()
	}
	return filepath.Clean(v), nil
}

// optionalPathArg treats a missing or null slot as "no path".
func optionalPathArg(args []json.RawMessage, i int) (string, error) {
	if i >= len(args) || string(args[i]) == "null" {
		return "", nil
	}
	return pathArg(args, i)
}

// pageArg reads the optional trailing options object of the export
// commands.
func pageArg(args []json.RawMessage, i int) (int, error) {
	if i >= len(args) || string(args[i]) == "null" {
		return 0, nil
	}
	var opts struct {
		Page int `json:"page"`
	}
	if err := json.Unmarshal(args[i], &opts); err != nil {
		return 0, fmt.Errorf("argument %d: %v", i, err)
	}
	if opts.Page < 0 {
		return 0, fmt.Errorf("argument %d: page %d out of range", i, opts.Page)
	}
	return opts.Page, nil
}

// Package lsp serves the language protocol over a JSON-RPC connection and
// wires editor traffic into the document overlay, the session registry and
// the export actors.
//
// The connection handler runs requests one at a time, which keeps overlay
// edits applied in arrival order. Compiles happen on the session loops, so a
// slow document never blocks the wire; feature requests borrow engine access
// through the registry instead of waiting for compiles to finish.
package lsp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"go.lsp.dev/jsonrpc2"

	"vellum/internal/editor"
	"vellum/internal/engine"
	"vellum/internal/export"
	"vellum/internal/log"
	"vellum/internal/overlay"
	"vellum/internal/project"
	"vellum/internal/session"
	"vellum/internal/trace"
	"vellum/internal/version"
)

// Options configures a server.
type Options struct {
	// Root, when set, overrides the workspace root sent by the client.
	Root string
	// Factory builds compile engines for the registry's sessions.
	Factory engine.Factory

	Logger *log.Logger
	Tracer trace.Tracer
}

// Server speaks the language protocol on one connection.
type Server struct {
	opts Options
	lg   *log.Logger
	tr   trace.Tracer

	conn jsonrpc2.Conn

	mu      sync.Mutex
	state   phase
	exitErr error

	stopOnce sync.Once

	// The fields below are assembled during initialize.
	root     string
	enc      overlay.Encoding
	manifest project.Manifest
	ov       *overlay.Overlay
	registry *session.Registry
	exports  map[string]*export.Actor
	focus    focusState

	backendCancel context.CancelFunc
}

// NewServer builds a server; Run attaches it to a connection.
func NewServer(opts Options) *Server {
	lg := opts.Logger
	if lg == nil {
		lg = log.Nop()
	}
	tr := opts.Tracer
	if tr == nil {
		tr = trace.Nop
	}
	return &Server{
		opts: opts,
		lg:   lg.Named("lsp"),
		tr:   tr,
		enc:  overlay.EncodingUTF16,
	}
}

// Run serves rwc until the client exits or the stream closes. It returns
// ErrExit after a clean shutdown handshake, ErrExitWithoutShutdown when the
// client skipped shutdown, the context error on cancellation, and nil when
// the stream simply closed.
func (s *Server) Run(ctx context.Context, rwc io.ReadWriteCloser) error {
	conn := jsonrpc2.NewConn(jsonrpc2.NewStream(rwc))
	s.conn = conn
	conn.Go(ctx, s.gate(s.handle))

	select {
	case <-conn.Done():
	case <-ctx.Done():
		_ = conn.Close()
		<-conn.Done()
	}
	s.teardown()

	s.mu.Lock()
	err := s.exitErr
	s.mu.Unlock()
	if err == nil {
		err = ctx.Err()
	}
	return err
}

// stop records why the connection ends and closes it. First caller wins.
func (s *Server) stop(err error) {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.exitErr = err
		s.mu.Unlock()
		if s.conn != nil {
			_ = s.conn.Close()
		}
	})
}

// teardown stops the backend. The registry closes first so session teardown
// can still reach the diagnostics aggregator.
func (s *Server) teardown() {
	s.mu.Lock()
	reg := s.registry
	cancel := s.backendCancel
	s.registry = nil
	s.backendCancel = nil
	s.mu.Unlock()

	if reg != nil {
		ctx, done := context.WithTimeout(context.Background(), 3*time.Second)
		reg.Close(ctx)
		done()
	}
	if cancel != nil {
		cancel()
	}
}

func (s *Server) reg() *session.Registry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry
}

// handle is the post-gate dispatcher. Methods arrive here only in phases
// where the gate allows them.
func (s *Server) handle(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	sp := trace.Begin(s.tr, trace.ScopeServer, req.Method())
	err := s.dispatch(ctx, reply, req)
	if err != nil {
		sp.End(err.Error())
		return err
	}
	sp.End("")
	return nil
}

func (s *Server) dispatch(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	switch req.Method() {
	case "initialize":
		return s.initialize(ctx, reply, req)
	case "initialized":
		s.lg.Info("client ready", "root", s.root, "encoding", s.enc.String())
		return nil
	case "shutdown":
		return reply(ctx, nil, nil)
	case "textDocument/didOpen":
		return s.didOpen(ctx, req)
	case "textDocument/didChange":
		return s.didChange(ctx, req)
	case "textDocument/didSave":
		return s.didSave(ctx, req)
	case "textDocument/didClose":
		return s.didClose(ctx, req)
	case "textDocument/hover":
		return s.hover(ctx, reply, req)
	case "textDocument/completion":
		return s.completion(ctx, reply, req)
	case "textDocument/signatureHelp":
		return s.signatureHelp(ctx, reply, req)
	case "textDocument/definition":
		return s.definition(ctx, reply, req)
	case "textDocument/declaration":
		return s.declaration(ctx, reply, req)
	case "textDocument/references":
		return s.references(ctx, reply, req)
	case "textDocument/rename":
		return s.rename(ctx, reply, req)
	case "textDocument/prepareRename":
		return s.prepareRename(ctx, reply, req)
	case "textDocument/documentSymbol":
		return s.documentSymbol(ctx, reply, req)
	case "textDocument/foldingRange":
		return s.foldingRange(ctx, reply, req)
	case "textDocument/selectionRange":
		return s.selectionRange(ctx, reply, req)
	case "textDocument/semanticTokens/full":
		return s.semanticTokensFull(ctx, reply, req)
	case "textDocument/inlayHint":
		return s.inlayHint(ctx, reply, req)
	case "textDocument/codeLens":
		return s.codeLens(ctx, reply, req)
	case "workspace/symbol":
		return s.workspaceSymbol(ctx, reply, req)
	case "workspace/executeCommand":
		return s.executeCommand(ctx, reply, req)
	default:
		if _, ok := req.(*jsonrpc2.Call); !ok {
			return nil
		}
		return jsonrpc2.MethodNotFoundHandler(ctx, reply, req)
	}
}

func (s *Server) initialize(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params initializeParams
	if len(req.Params()) > 0 {
		if err := json.Unmarshal(req.Params(), &params); err != nil {
			return reply(ctx, nil, jsonrpc2.Errorf(jsonrpc2.ParseError, "initialize params: %v", err))
		}
	}

	root, err := s.resolveRoot(params)
	if err != nil {
		return reply(ctx, nil, jsonrpc2.Errorf(jsonrpc2.InvalidParams, "workspace root: %v", err))
	}
	enc := negotiateEncoding(params.Capabilities.General.PositionEncodings)
	manifest := s.loadManifest(root, params.InitializationOptions)

	s.buildBackend(root, enc, manifest)
	s.lg.Info("initialize", "root", root, "encoding", enc.String())

	return reply(ctx, initializeResult{
		Capabilities: s.capabilities(enc),
		ServerInfo:   serverInfo{Name: "vellum-languageserver", Version: version.Number},
	}, nil)
}

// resolveRoot picks the workspace root: an explicit server option wins, then
// rootUri, the deprecated rootPath, the first workspace folder, and finally
// manifest discovery upward from the working directory.
func (s *Server) resolveRoot(params initializeParams) (string, error) {
	if s.opts.Root != "" {
		return filepath.Abs(s.opts.Root)
	}
	if p, ok := pathOf(params.RootURI); ok {
		return filepath.Abs(p)
	}
	if params.RootPath != "" {
		return filepath.Abs(params.RootPath)
	}
	for _, f := range params.WorkspaceFolders {
		if p, ok := pathOf(f.URI); ok {
			return filepath.Abs(p)
		}
	}
	return project.ResolveRoot("")
}

// negotiateEncoding picks utf-8 when the client offers it and falls back to
// the protocol-mandated utf-16 otherwise.
func negotiateEncoding(offered []string) overlay.Encoding {
	for _, e := range offered {
		if e == overlay.EncodingUTF8.String() {
			return overlay.EncodingUTF8
		}
	}
	return overlay.EncodingUTF16
}

// loadManifest reads vellum.toml under root and layers the client's
// initializationOptions on top. A payload that fails to decode or validate
// keeps the disk manifest.
func (s *Server) loadManifest(root string, raw json.RawMessage) project.Manifest {
	m, err := project.LoadAt(root)
	if err != nil {
		s.lg.Warn("load manifest", "root", root, "err", err)
		m = project.Default()
	}
	if len(raw) == 0 || string(raw) == "null" {
		return m
	}
	merged := m
	if err := json.Unmarshal(raw, &merged); err != nil {
		s.lg.Warn("initialization options", "err", err)
		return m
	}
	if err := merged.Validate(); err != nil {
		s.lg.Warn("initialization options", "err", err)
		return m
	}
	return merged
}

// buildBackend assembles the overlay, the diagnostics aggregator, the
// session registry and one export actor per long-lived group. Everything
// runs under its own context so a dropped connection cannot leak loops.
func (s *Server) buildBackend(root string, enc overlay.Encoding, m project.Manifest) {
	bctx, cancel := context.WithCancel(context.Background())

	ov := overlay.New(s.lg)
	agg := editor.New(clientPublisher{conn: s.conn, max: m.Diagnostics.Max}, s.lg, s.tr)
	go func() { _ = agg.Run(bctx) }()

	exports := make(map[string]*export.Actor, 2)
	for _, group := range []string{editor.PrimaryGroup, session.MainGroup} {
		a := export.New(s.exportConfig(group, root, m))
		exports[group] = a
		go func() { _ = a.Run(bctx) }()
	}

	registry := session.NewRegistry(session.RegistryConfig{
		Root:         root,
		DefaultEntry: m.EntryPath(root),
		Encoding:     enc,
		Factory:      s.opts.Factory,
		Overlay:      ov,
		Reporter:     agg,
		OnCompile: func(group string, doc engine.Document) {
			if a := exports[group]; a != nil {
				a.Notify(doc)
			}
		},
		Logger: s.lg,
		Tracer: s.tr,
	})

	s.mu.Lock()
	s.root = root
	s.enc = enc
	s.manifest = m
	s.ov = ov
	s.registry = registry
	s.exports = exports
	s.backendCancel = cancel
	s.mu.Unlock()

	if err := registry.Start(bctx); err != nil {
		s.lg.Warn("start registry", "err", err)
	}
}

func (s *Server) exportConfig(group, root string, m project.Manifest) export.Config {
	mode, err := export.ParseMode(m.Export.Mode)
	if err != nil {
		s.lg.Warn("export mode", "mode", m.Export.Mode, "err", err)
		mode = export.ModeNever
	}
	formats := make([]engine.Format, 0, len(m.Export.Formats))
	for _, name := range m.Export.Formats {
		f, err := engine.ParseFormat(name)
		if err != nil {
			s.lg.Warn("export format", "format", name, "err", err)
			continue
		}
		formats = append(formats, f)
	}
	return export.Config{
		Group:   group,
		Root:    root,
		Dir:     m.OutputDir(root),
		Pattern: m.Export.Pattern,
		Mode:    mode,
		Formats: formats,
		Render:  s.renderVia(group),
		Logger:  s.lg,
		Tracer:  s.tr,
	}
}

// renderVia exports through the group's session so the render sees the same
// engine state the compile produced.
func (s *Server) renderVia(group string) export.RenderFunc {
	return func(ctx context.Context, doc engine.Document, f engine.Format, page int) ([]byte, error) {
		sess := s.sessionFor(group)
		if sess == nil {
			return nil, fmt.Errorf("no session for group %q", group)
		}
		type rendered struct {
			data []byte
			err  error
		}
		r, err := session.Steal(ctx, sess, func(svc *session.Service) rendered {
			data, err := svc.Engine.Export(ctx, doc, f, page)
			return rendered{data: data, err: err}
		})
		if err != nil {
			return nil, err
		}
		return r.data, r.err
	}
}

func (s *Server) sessionFor(group string) *session.Session {
	reg := s.reg()
	if reg == nil {
		return nil
	}
	if group == session.MainGroup {
		return reg.Main()
	}
	return reg.Primary()
}

// Incremental sync; the overlay applies ranged edits itself.
const syncIncremental = 2

func (s *Server) capabilities(enc overlay.Encoding) serverCapabilities {
	return serverCapabilities{
		PositionEncoding: enc.String(),
		TextDocumentSync: textDocumentSyncOptions{
			OpenClose: true,
			Change:    syncIncremental,
			// The overlay already holds the saved text; shipping it
			// again on save would be wasted bytes.
			Save: saveOptions{IncludeText: false},
		},
		HoverProvider:           true,
		CompletionProvider:      &completionOptions{TriggerCharacters: []string{"@"}},
		SignatureHelpProvider:   &signatureHelpOptions{TriggerCharacters: []string{"\""}},
		DefinitionProvider:      true,
		DeclarationProvider:     true,
		ReferencesProvider:      true,
		DocumentSymbolProvider:  true,
		WorkspaceSymbolProvider: true,
		FoldingRangeProvider:    true,
		SelectionRangeProvider:  true,
		RenameProvider:          &renameOptions{PrepareProvider: true},
		CodeLensProvider:        &codeLensOptions{},
		InlayHintProvider:       true,
		SemanticTokensProvider: &semanticTokensOptions{
			Legend: semanticTokensLegend{
				TokenTypes:     engine.TokenTypes,
				TokenModifiers: []string{},
			},
			Full: true,
		},
		ExecuteCommandProvider: &executeCommandOptions{Commands: commandNames},
	}
}

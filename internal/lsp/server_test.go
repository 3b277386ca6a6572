package lsp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
)

func TestInitializeNegotiatesEncoding(t *testing.T) {
	cases := []struct {
		name    string
		offered []string
		want    string
	}{
		{"utf-8 offered", []string{"utf-16", "utf-8"}, "utf-8"},
		{"nothing offered", nil, "utf-16"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			root := writeWorkspace(t, nil)
			c := newTestClient(t)

			res := c.initialize(root, tc.offered, nil)
			if got := res.Capabilities.PositionEncoding; got != tc.want {
				t.Fatalf("positionEncoding = %q, want %q", got, tc.want)
			}
			if res.Capabilities.TextDocumentSync.Change != syncIncremental {
				t.Fatalf("sync kind = %d, want %d", res.Capabilities.TextDocumentSync.Change, syncIncremental)
			}
			if res.ServerInfo.Name == "" {
				t.Fatal("missing serverInfo")
			}
		})
	}
}

func TestInitializeAdvertisesCommands(t *testing.T) {
	root := writeWorkspace(t, nil)
	c := newTestClient(t)

	res := c.initialize(root, nil, nil)
	ec := res.Capabilities.ExecuteCommandProvider
	if ec == nil {
		t.Fatal("no executeCommandProvider")
	}
	want := map[string]bool{cmdExportPDF: false, cmdPinMain: false, cmdFocusMain: false, cmdChangeEntry: false, cmdClearCache: false}
	for _, name := range ec.Commands {
		if _, ok := want[name]; ok {
			want[name] = true
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("command %s not advertised", name)
		}
	}
}

func TestDidOpenPublishesDiagnostics(t *testing.T) {
	content := "= Intro <intro>\n@intro\n@missing\n"
	root := writeWorkspace(t, map[string]string{"main.vlm": content})
	c := newTestClient(t)
	c.initialize(root, []string{"utf-8"}, nil)

	main := filepath.Join(root, "main.vlm")
	c.open(main, content)

	diags := c.awaitDiagnostics(main, 1)
	d := diags[0]
	if got := fmt.Sprint(d.Code); got != "unknown-ref" {
		t.Fatalf("code = %q, want unknown-ref", got)
	}
	if d.Source != "vellum" {
		t.Fatalf("source = %q", d.Source)
	}
	if d.Range.Start.Line != 2 {
		t.Fatalf("line = %d, want 2", d.Range.Start.Line)
	}

	// A ranged edit points the bad reference at the real label.
	c.change(main, &protocol.Range{
		Start: protocol.Position{Line: 2, Character: 1},
		End:   protocol.Position{Line: 2, Character: 8},
	}, "intro")
	c.awaitDiagnostics(main, 0)
}

func TestWholeDocumentChangeReplacesContent(t *testing.T) {
	content := "@missing\n"
	root := writeWorkspace(t, map[string]string{"main.vlm": content})
	c := newTestClient(t)
	c.initialize(root, []string{"utf-8"}, nil)

	main := filepath.Join(root, "main.vlm")
	c.open(main, content)
	c.awaitDiagnostics(main, 1)

	// No range: the whole document is replaced.
	c.change(main, nil, "= Clean <c>\n@c\n")
	c.awaitDiagnostics(main, 0)
}

func TestManifestDefaultEntryCompilesAtStartup(t *testing.T) {
	root := writeWorkspace(t, map[string]string{
		"vellum.toml": "[workspace]\nentry = \"main.vlm\"\n",
		"main.vlm":    "@missing\n",
	})
	c := newTestClient(t)
	c.initialize(root, []string{"utf-8"}, nil)

	diags := c.awaitDiagnostics(filepath.Join(root, "main.vlm"), 1)
	if got := fmt.Sprint(diags[0].Code); got != "unknown-ref" {
		t.Fatalf("code = %q, want unknown-ref", got)
	}
}

func TestInitializationOptionsCapDiagnostics(t *testing.T) {
	content := "@a\n@b\n"
	root := writeWorkspace(t, map[string]string{"main.vlm": content})
	c := newTestClient(t)
	c.initialize(root, []string{"utf-8"}, map[string]any{
		"diagnostics": map[string]any{"max": 1},
	})

	main := filepath.Join(root, "main.vlm")
	c.open(main, content)

	// Two unknown references, capped to one on the wire.
	c.awaitDiagnostics(main, 1)
}

func TestHoverResolvesReference(t *testing.T) {
	content := "= Intro <intro>\n@intro\n@missing\n"
	root := writeWorkspace(t, map[string]string{"main.vlm": content})
	c := newTestClient(t)
	c.initialize(root, []string{"utf-8"}, nil)

	main := filepath.Join(root, "main.vlm")
	c.open(main, content)
	c.awaitDiagnostics(main, 1)

	var res json.RawMessage
	err := c.call("textDocument/hover", positionParams{
		TextDocument: textDocumentIdentifier{URI: uri.File(main)},
		Position:     protocol.Position{Line: 1, Character: 2},
	}, &res)
	if err != nil {
		t.Fatalf("hover: %v", err)
	}
	if string(res) == "null" {
		t.Fatal("expected hover content over a resolved reference")
	}
	if !strings.Contains(string(res), "intro") {
		t.Fatalf("hover = %s", res)
	}
}

func TestDocumentSymbolReadsUnopenedFile(t *testing.T) {
	root := writeWorkspace(t, map[string]string{"notes.vlm": "= One\n== Two\n"})
	c := newTestClient(t)
	c.initialize(root, []string{"utf-8"}, nil)

	var syms []protocol.DocumentSymbol
	err := c.call("textDocument/documentSymbol", documentParams{
		TextDocument: textDocumentIdentifier{URI: uri.File(filepath.Join(root, "notes.vlm"))},
	}, &syms)
	if err != nil {
		t.Fatalf("documentSymbol: %v", err)
	}
	if len(syms) != 1 || syms[0].Name != "One" {
		t.Fatalf("symbols = %+v, want single One", syms)
	}
	if len(syms[0].Children) != 1 || syms[0].Children[0].Name != "Two" {
		t.Fatalf("children = %+v", syms[0].Children)
	}
}

func TestExportCommandWritesArtifact(t *testing.T) {
	content := "= Title\nbody\n"
	root := writeWorkspace(t, map[string]string{"main.vlm": content})
	c := newTestClient(t)
	c.initialize(root, []string{"utf-8"}, nil)

	main := filepath.Join(root, "main.vlm")
	c.open(main, content)

	res, err := c.command(cmdExportPDF, main)
	if err != nil {
		t.Fatalf("exportPdf: %v", err)
	}
	var artifact string
	if err := json.Unmarshal(res, &artifact); err != nil {
		t.Fatalf("result %s: %v", res, err)
	}
	if want := filepath.Join(root, "main.pdf"); artifact != want {
		t.Fatalf("artifact = %q, want %q", artifact, want)
	}
	data, err := os.ReadFile(artifact)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		t.Fatalf("artifact does not look like a PDF: %q", data[:min(len(data), 8)])
	}
}

func TestUnknownCommandIsMethodNotFound(t *testing.T) {
	root := writeWorkspace(t, nil)
	c := newTestClient(t)
	c.initialize(root, nil, nil)

	_, err := c.command("vellum.bogus")
	if err == nil {
		t.Fatal("unknown command succeeded")
	}
	if code := rpcCode(t, err); code != jsonrpc2.MethodNotFound {
		t.Fatalf("code = %d, want %d", code, jsonrpc2.MethodNotFound)
	}
}

func TestPinMainServesDependencies(t *testing.T) {
	root := writeWorkspace(t, map[string]string{
		"main.vlm": "= M <m>\n#include \"dep.vlm\"\n",
		"dep.vlm":  "@m\n",
	})
	c := newTestClient(t)
	c.initialize(root, []string{"utf-8"}, nil)

	main := filepath.Join(root, "main.vlm")
	dep := filepath.Join(root, "dep.vlm")

	if _, err := c.command(cmdPinMain, main); err != nil {
		t.Fatalf("pinMain: %v", err)
	}

	// The label lives in main.vlm, so resolution only works when the query
	// is answered by the pinned session's world, not by compiling dep.vlm
	// alone.
	var locs []protocol.Location
	err := c.call("textDocument/definition", positionParams{
		TextDocument: textDocumentIdentifier{URI: uri.File(dep)},
		Position:     protocol.Position{Line: 0, Character: 1},
	}, &locs)
	if err != nil {
		t.Fatalf("definition: %v", err)
	}
	if len(locs) != 1 {
		t.Fatalf("locations = %+v, want one", locs)
	}
	if string(locs[0].URI) != string(uri.File(main)) {
		t.Fatalf("definition in %s, want %s", locs[0].URI, uri.File(main))
	}

	if _, err := c.command(cmdPinMain, nil); err != nil {
		t.Fatalf("unpin: %v", err)
	}
}

func TestFocusCommandLatchesAndRestores(t *testing.T) {
	root := writeWorkspace(t, map[string]string{
		"a.vlm": "@missa\n",
		"b.vlm": "@missb\n",
	})
	c := newTestClient(t)
	c.initialize(root, []string{"utf-8"}, nil)

	a := filepath.Join(root, "a.vlm")
	b := filepath.Join(root, "b.vlm")

	// Implicit focus through didOpen lands on b.
	c.open(b, "@missb\n")
	c.awaitDiagnostics(b, 1)

	// Manual focus moves the primary entry to a and latches.
	if _, err := c.command(cmdFocusMain, a); err != nil {
		t.Fatalf("focusMain: %v", err)
	}
	c.awaitDiagnostics(a, 1)

	// Releasing restores the last implicit focus; a's diagnostics clear
	// because the primary group stops mentioning the file.
	if _, err := c.command(cmdFocusMain, nil); err != nil {
		t.Fatalf("focusMain null: %v", err)
	}
	c.awaitDiagnostics(a, 0)
}

func TestChangeEntryCommand(t *testing.T) {
	root := writeWorkspace(t, map[string]string{
		"vellum.toml": "[workspace]\nentry = \"main.vlm\"\n",
		"main.vlm":    "= Clean <c>\n@c\n",
		"other.vlm":   "@missing\n",
	})
	c := newTestClient(t)
	c.initialize(root, []string{"utf-8"}, nil)

	other := filepath.Join(root, "other.vlm")
	if _, err := c.command(cmdChangeEntry, other); err != nil {
		t.Fatalf("changeEntry: %v", err)
	}
	c.awaitDiagnostics(other, 1)

	// Null reverts to the manifest default; other.vlm leaves the report.
	if _, err := c.command(cmdChangeEntry, nil); err != nil {
		t.Fatalf("changeEntry null: %v", err)
	}
	c.awaitDiagnostics(other, 0)
}

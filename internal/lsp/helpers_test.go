package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"vellum/internal/engine/vellumc"
)

// The tests drive a real server over an in-memory pipe: a jsonrpc2 client on
// one end, Run on the other. The client handler records publishDiagnostics
// traffic so tests can wait for compile results.

type publishedDiags struct {
	URI         uri.URI               `json:"uri"`
	Diagnostics []protocol.Diagnostic `json:"diagnostics"`
}

type testClient struct {
	t    *testing.T
	conn jsonrpc2.Conn

	run    chan error
	exited bool

	publishes chan publishedDiags
}

func newTestClient(t *testing.T) *testClient {
	t.Helper()
	serverSide, clientSide := net.Pipe()

	srv := NewServer(Options{Factory: vellumc.New})
	run := make(chan error, 1)
	go func() { run <- srv.Run(context.Background(), serverSide) }()

	tc := &testClient{t: t, run: run, publishes: make(chan publishedDiags, 64)}
	conn := jsonrpc2.NewConn(jsonrpc2.NewStream(clientSide))
	conn.Go(context.Background(), func(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
		if req.Method() == "textDocument/publishDiagnostics" {
			var p publishedDiags
			if err := json.Unmarshal(req.Params(), &p); err == nil {
				select {
				case tc.publishes <- p:
				default:
				}
			}
		}
		return nil
	})
	tc.conn = conn

	t.Cleanup(func() {
		_ = conn.Close()
		if tc.exited {
			return
		}
		select {
		case <-run:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop after connection close")
		}
	})
	return tc
}

func (c *testClient) call(method string, params, result any) error {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := c.conn.Call(ctx, method, params, result)
	return err
}

func (c *testClient) notify(method string, params any) {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.conn.Notify(ctx, method, params); err != nil {
		c.t.Fatalf("notify %s: %v", method, err)
	}
}

// initialize performs the handshake. encodings goes into
// general.positionEncodings; opts, when non-nil, becomes the
// initializationOptions payload.
func (c *testClient) initialize(root string, encodings []string, opts any) initializeResult {
	c.t.Helper()
	params := initializeParams{RootURI: uri.File(root)}
	params.Capabilities.General.PositionEncodings = encodings
	if opts != nil {
		raw, err := json.Marshal(opts)
		if err != nil {
			c.t.Fatalf("marshal options: %v", err)
		}
		params.InitializationOptions = raw
	}
	var res initializeResult
	if err := c.call("initialize", params, &res); err != nil {
		c.t.Fatalf("initialize: %v", err)
	}
	c.notify("initialized", struct{}{})
	return res
}

func (c *testClient) open(path, text string) {
	c.t.Helper()
	var params didOpenParams
	params.TextDocument.URI = uri.File(path)
	params.TextDocument.Version = 1
	params.TextDocument.Text = text
	c.notify("textDocument/didOpen", params)
}

func (c *testClient) change(path string, rng *protocol.Range, text string) {
	c.t.Helper()
	c.notify("textDocument/didChange", didChangeParams{
		TextDocument:   textDocumentIdentifier{URI: uri.File(path)},
		ContentChanges: []contentChange{{Range: rng, Text: text}},
	})
}

// command invokes workspace/executeCommand with positional arguments.
func (c *testClient) command(name string, args ...any) (json.RawMessage, error) {
	c.t.Helper()
	rawArgs := make([]json.RawMessage, 0, len(args))
	for _, a := range args {
		raw, err := json.Marshal(a)
		if err != nil {
			c.t.Fatalf("marshal argument: %v", err)
		}
		rawArgs = append(rawArgs, raw)
	}
	var res json.RawMessage
	err := c.call("workspace/executeCommand", executeCommandParams{Command: name, Arguments: rawArgs}, &res)
	return res, err
}

// awaitDiagnostics waits for a publish for path carrying exactly count
// diagnostics, skipping publishes for other files and intermediate states.
func (c *testClient) awaitDiagnostics(path string, count int) []protocol.Diagnostic {
	c.t.Helper()
	want := uri.File(path)
	deadline := time.After(10 * time.Second)
	for {
		select {
		case p := <-c.publishes:
			if p.URI == want && len(p.Diagnostics) == count {
				return p.Diagnostics
			}
		case <-deadline:
			c.t.Fatalf("no publish with %d diagnostics for %s", count, path)
		}
	}
}

// awaitExit consumes the server's Run result.
func (c *testClient) awaitExit() error {
	c.t.Helper()
	select {
	case err := <-c.run:
		c.exited = true
		return err
	case <-time.After(10 * time.Second):
		c.t.Fatal("server did not exit")
		return nil
	}
}

func writeWorkspace(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func rpcCode(t *testing.T, err error) jsonrpc2.Code {
	t.Helper()
	var respErr *jsonrpc2.Error
	if !errors.As(err, &respErr) {
		t.Fatalf("error %v is not a jsonrpc2 error", err)
	}
	return respErr.Code
}

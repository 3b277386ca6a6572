package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"vellum/internal/engine/vellumc"
	"vellum/internal/lsp"
	"vellum/internal/mirror"
	"vellum/internal/trace"
)

var lspCmd = &cobra.Command{
	Use:          "lsp",
	Short:        "Run the vellum language server over stdio",
	SilenceUsage: true,
	RunE:         runLSP,
}

func init() {
	lspCmd.Flags().String("root", "", "workspace root override")
	lspCmd.Flags().String("mirror", "", "record the inbound client stream to a .vlmrec file")
	lspCmd.Flags().String("replay", "", "serve a recorded .vlmrec stream instead of stdin")
}

func runLSP(cmd *cobra.Command, _ []string) error {
	cleanup, err := setupTracing(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	rootFlag, err := cmd.Flags().GetString("root")
	if err != nil {
		return fmt.Errorf("failed to get root flag: %w", err)
	}
	mirrorPath, err := cmd.Flags().GetString("mirror")
	if err != nil {
		return fmt.Errorf("failed to get mirror flag: %w", err)
	}
	replayPath, err := cmd.Flags().GetString("replay")
	if err != nil {
		return fmt.Errorf("failed to get replay flag: %w", err)
	}

	lg := stderrLogger(cmd)

	var in io.Reader = os.Stdin
	if replayPath != "" {
		rec, err := mirror.Open(replayPath)
		if err != nil {
			return fmt.Errorf("open replay stream: %w", err)
		}
		defer rec.Close()
		in = mirror.ReplayReader(rec)
	}
	if mirrorPath != "" {
		w, err := mirror.Create(mirrorPath)
		if err != nil {
			return fmt.Errorf("open mirror output: %w", err)
		}
		defer w.Close()
		in = mirror.TeeReader(in, w, lg)
	}

	server := lsp.NewServer(lsp.Options{
		Root:    rootFlag,
		Factory: vellumc.New,
		Logger:  lg,
		Tracer:  trace.FromContext(cmd.Context()),
	})
	if err := server.Run(cmd.Context(), stdioPipe{in: in, out: os.Stdout}); err != nil {
		if errors.Is(err, lsp.ErrExit) {
			return nil
		}
		if errors.Is(err, lsp.ErrExitWithoutShutdown) {
			return fmt.Errorf("lsp exit without shutdown")
		}
		return err
	}
	return nil
}

// stdioPipe joins a read side and a write side into the single
// read-write-closer the server consumes.
type stdioPipe struct {
	in  io.Reader
	out io.Writer
}

func (p stdioPipe) Read(b []byte) (int, error)  { return p.in.Read(b) }
func (p stdioPipe) Write(b []byte) (int, error) { return p.out.Write(b) }

func (p stdioPipe) Close() error {
	var first error
	if c, ok := p.in.(io.Closer); ok {
		first = c.Close()
	}
	if c, ok := p.out.(io.Closer); ok {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"vellum/internal/engine/vellumc"
	"vellum/internal/lsp"
	"vellum/internal/mirror"
	"vellum/internal/trace"
)

var replayCmd = &cobra.Command{
	Use:   "replay <file.vlmrec>",
	Short: "Replay a recorded client session against a fresh server",
	Long: `Replay feeds a session recorded with "vellum lsp --mirror" into an
in-process language server and reports how the run ended. Server responses
are discarded; diagnostics and logs go to stderr as usual.`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE:         runReplay,
}

func init() {
	replayCmd.Flags().String("root", "", "workspace root override")
}

func runReplay(cmd *cobra.Command, args []string) error {
	cleanup, err := setupTracing(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	rootFlag, err := cmd.Flags().GetString("root")
	if err != nil {
		return fmt.Errorf("failed to get root flag: %w", err)
	}

	path := args[0]
	frames, err := countRecords(path)
	if err != nil {
		return err
	}

	rec, err := mirror.Open(path)
	if err != nil {
		return fmt.Errorf("open record stream: %w", err)
	}
	defer rec.Close()

	server := lsp.NewServer(lsp.Options{
		Root:    rootFlag,
		Factory: vellumc.New,
		Logger:  stderrLogger(cmd),
		Tracer:  trace.FromContext(cmd.Context()),
	})

	start := time.Now()
	runErr := server.Run(cmd.Context(), stdioPipe{in: mirror.ReplayReader(rec), out: io.Discard})
	elapsed := time.Since(start).Round(time.Millisecond)

	outcome := "stream end"
	switch {
	case runErr == nil:
	case errors.Is(runErr, lsp.ErrExit):
		outcome = "clean exit"
	case errors.Is(runErr, lsp.ErrExitWithoutShutdown):
		outcome = "exit without shutdown"
	default:
		return fmt.Errorf("replay failed after %d %s: %w", frames, plural(frames, "frame", "frames"), runErr)
	}

	fmt.Fprintf(os.Stdout, "replayed %d %s in %s (%s)\n",
		frames, plural(frames, "frame", "frames"), elapsed, outcome)
	return nil
}

// countRecords validates the stream up front so a corrupt file fails before
// a server is spun up.
func countRecords(path string) (int, error) {
	rec, err := mirror.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open record stream: %w", err)
	}
	defer rec.Close()

	n := 0
	for {
		if _, err := rec.Next(); err != nil {
			if errors.Is(err, io.EOF) {
				return n, nil
			}
			return 0, fmt.Errorf("record stream %s: %w", path, err)
		}
		n++
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

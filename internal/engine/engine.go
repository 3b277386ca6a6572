// Package engine defines the contract between the language server and a
// document compilation engine. The server never reaches into engine
// internals: it sets the entry file, feeds overlay change-sets, asks for a
// compile, and answers feature queries through World and SourceAnalyzer.
package engine

import (
	"context"
	"errors"

	"go.lsp.dev/protocol"

	"vellum/internal/overlay"
)

// ErrNoEntry reports a compile attempt before any entry file was set.
var ErrNoEntry = errors.New("engine: no entry file set")

// Document is a successfully compiled document tree.
type Document interface {
	// Entry returns the absolute path of the entry file the document was
	// compiled from.
	Entry() string
	// Title returns the text of the first top-level heading, or "" when the
	// document has none.
	Title() string
}

// Exporter renders a compiled document into an artifact format.
type Exporter interface {
	// Export renders doc. Page selects the page for paged formats and is
	// 1-based; 0 means the first page.
	Export(ctx context.Context, doc Document, format Format, page int) ([]byte, error)
}

// World answers feature queries against the engine's current dependency
// graph. Queries that need a compiled document receive one; the rest accept
// a nil doc and answer from the last known graph, so they keep working while
// the entry fails to compile.
type World interface {
	// WorkspaceRoot returns the absolute workspace root the engine was
	// created for.
	WorkspaceRoot() string
	// DependenciesOf returns the absolute paths reachable from entry through
	// includes, entry itself first.
	DependenciesOf(entry string) []string
	Query(ctx context.Context, doc Document, q Query) (any, error)
}

// SourceAnalyzer answers queries that depend on a single file's text alone.
// Implementations must be safe for concurrent use: these queries are served
// without exclusive access to the engine.
type SourceAnalyzer interface {
	DocumentSymbols(text string) []protocol.DocumentSymbol
	FoldingRanges(text string) []protocol.FoldingRange
	SelectionRanges(text string, positions []overlay.Position) []protocol.SelectionRange
	SemanticTokens(text string) *SemanticTokens
}

// Engine is one compiler instance. All methods except Analyzer and World
// accessors mutate or read state owned by a single session goroutine; the
// caller is responsible for that exclusivity.
type Engine interface {
	Exporter

	// SetEntry switches the compilation target to the given absolute path.
	SetEntry(path string) error
	// ApplyChangeSet folds an overlay change-set into the engine's memory
	// shadow. Tombstoned paths fall back to disk content.
	ApplyChangeSet(cs overlay.ChangeSet)
	// Compile builds the document tree from the current entry. Diagnostics
	// are data, not failure; the error return is reserved for conditions
	// that leave no usable result.
	Compile(ctx context.Context) (Document, []Diagnostic, error)
	World() World
	Analyzer() SourceAnalyzer
	// ClearCache drops memoized parse results; the memory shadow survives.
	ClearCache()
}

// Factory creates an engine rooted at an absolute workspace directory. The
// encoding selects the column unit for every range the engine reports.
type Factory func(root string, enc overlay.Encoding) Engine

// Package vellumc is the reference document engine: a single-pass compiler
// for .vlm markup. It implements the engine interfaces well enough to drive
// the server, the CLI, and the tests end to end.
package vellumc

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"

	"vellum/internal/engine"
	"vellum/internal/overlay"
)

// parseTTL bounds how long a parsed file is reused for an unchanged
// path@stamp key.
const parseTTL = 30 * time.Second

type shadowEntry struct {
	content string
	stamp   time.Time
}

// Engine compiles a tree of .vlm files reachable from one entry file.
// Overlay change-sets shadow disk content path by path; removing a shadow
// entry makes disk authoritative again.
type Engine struct {
	root  string
	enc   overlay.Encoding
	entry string

	shadow map[string]shadowEntry
	parses *cache.Cache
	last   *model
}

// New creates an engine rooted at an absolute workspace directory. It
// satisfies engine.Factory.
func New(root string, enc overlay.Encoding) engine.Engine {
	return &Engine{
		root:   filepath.Clean(root),
		enc:    enc,
		shadow: make(map[string]shadowEntry),
		parses: cache.New(parseTTL, 2*parseTTL),
	}
}

func (e *Engine) SetEntry(path string) error {
	if !filepath.IsAbs(path) {
		return fmt.Errorf("entry %q: path must be absolute", path)
	}
	e.entry = filepath.Clean(path)
	return nil
}

func (e *Engine) ApplyChangeSet(cs overlay.ChangeSet) {
	for _, up := range cs.Updates {
		e.shadow[up.Path] = shadowEntry{content: up.Content, stamp: up.Stamp}
	}
	for _, rm := range cs.Removes {
		delete(e.shadow, rm.Path)
	}
}

func (e *Engine) ClearCache() {
	e.parses.Flush()
}

func (e *Engine) World() engine.World {
	return &world{e: e}
}

func (e *Engine) Analyzer() engine.SourceAnalyzer {
	return analyzer{enc: e.enc}
}

// readFile returns the current content of path: the overlay shadow when
// present, disk otherwise.
func (e *Engine) readFile(path string) (string, time.Time, error) {
	if sh, ok := e.shadow[path]; ok {
		return sh.content, sh.stamp, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", time.Time{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", time.Time{}, err
	}
	return string(data), info.ModTime(), nil
}

// parseFile parses path through the TTL cache. The cache key carries the
// content stamp, so an overlay edit always misses.
func (e *Engine) parseFile(path string) (*fileModel, error) {
	content, stamp, err := e.readFile(path)
	if err != nil {
		return nil, err
	}
	key := path + "@" + strconv.FormatInt(stamp.UnixNano(), 10)
	if hit, ok := e.parses.Get(key); ok {
		return hit.(*fileModel), nil
	}
	fm := parseSource(path, content, e.enc)
	e.parses.Set(key, fm, cache.DefaultExpiration)
	return fm, nil
}

package export

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"vellum/internal/engine"
)

// ErrEscapesOutput reports a substituted artifact path that climbs outside
// the output root.
var ErrEscapesOutput = errors.New("export: path escapes output root")

// OutputPath resolves the artifact path for an entry file. The pattern
// supports three variables: $root is the output root, $dir the entry's
// directory below the workspace root, $name the entry's base name without
// extension. An empty pattern mirrors the source layout under the output
// root. Relative results are joined under the output root, the format
// extension replaces whatever the pattern produced, and a result outside
// the output root is rejected.
func OutputPath(pattern, outDir, root, entry string, f engine.Format) (string, error) {
	if outDir == "" {
		outDir = root
	}
	if pattern == "" {
		pattern = "$root/$dir/$name"
	}

	dir := "."
	if rel, err := filepath.Rel(root, filepath.Dir(entry)); err == nil {
		dir = rel
	}
	name := strings.TrimSuffix(filepath.Base(entry), filepath.Ext(entry))

	out := strings.ReplaceAll(pattern, "$root", outDir)
	out = strings.ReplaceAll(out, "$dir", dir)
	out = strings.ReplaceAll(out, "$name", name)
	if !filepath.IsAbs(out) {
		out = filepath.Join(outDir, out)
	}
	out = filepath.Clean(out)
	if ext := filepath.Ext(out); ext != "" {
		out = strings.TrimSuffix(out, ext)
	}
	out += f.Ext()

	if !within(outDir, out) {
		return "", fmt.Errorf("%w: %s", ErrEscapesOutput, out)
	}
	return out, nil
}

func within(parent, path string) bool {
	rel, err := filepath.Rel(parent, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

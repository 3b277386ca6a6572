package check

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"vellum/internal/project"
)

// DiscoverEntries resolves the documents to check. Explicit args win, then
// the manifest's workspace entry, then every document at the workspace
// root. Relative args are resolved against root.
func DiscoverEntries(root string, m project.Manifest, args []string) ([]string, error) {
	if len(args) > 0 {
		seen := make(map[string]struct{}, len(args))
		out := make([]string, 0, len(args))
		for _, a := range args {
			p := a
			if !filepath.IsAbs(p) {
				p = filepath.Join(root, p)
			}
			p = filepath.Clean(p)
			if _, err := os.Stat(p); err != nil {
				return nil, fmt.Errorf("entry %s: %w", a, err)
			}
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
		return out, nil
	}

	if entry := m.EntryPath(root); entry != "" {
		if _, err := os.Stat(entry); err != nil {
			return nil, fmt.Errorf("manifest entry: %w", err)
		}
		return []string{entry}, nil
	}

	matches, err := filepath.Glob(filepath.Join(root, "*.vlm"))
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no documents to check under %s", root)
	}
	sort.Strings(matches)
	return matches, nil
}

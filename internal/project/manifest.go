package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Manifest is the decoded vellum.toml workspace manifest.
type Manifest struct {
	Workspace   Workspace   `toml:"workspace"`
	Export      Export      `toml:"export"`
	Diagnostics Diagnostics `toml:"diagnostics"`
}

// Workspace configures the compilation root of the workspace.
type Workspace struct {
	// Entry is the default entry document, relative to the manifest
	// directory. Empty means no default.
	Entry string `toml:"entry"`
}

// Export configures artifact generation.
type Export struct {
	// Dir is the output root for artifacts, resolved against the workspace
	// root unless absolute. Empty means the workspace root itself.
	Dir string `toml:"dir"`
	// Pattern is the output path template. Supported variables:
	// $root (output root), $dir (entry's directory below the workspace
	// root), $name (entry's base name without extension).
	Pattern string `toml:"pattern"`
	// Mode is one of never, onType, onSave, onDocumentHasTitle.
	Mode string `toml:"mode"`
	// Formats lists artifact formats (pdf, svg, png).
	Formats []string `toml:"formats"`
}

// Diagnostics configures diagnostics publication.
type Diagnostics struct {
	// Max caps the diagnostics published per file. Zero means no cap.
	Max int `toml:"max"`
}

// Default returns the manifest used when no vellum.toml exists.
func Default() Manifest {
	return Manifest{
		Export: Export{
			Pattern: "$root/$name",
			Mode:    "never",
			Formats: []string{"pdf"},
		},
	}
}

// Load reads and validates a manifest file.
func Load(path string) (Manifest, error) {
	m := Default()
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return Manifest{}, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	if err := m.Validate(); err != nil {
		return Manifest{}, fmt.Errorf("invalid %s: %w", filepath.Base(path), err)
	}
	return m, nil
}

// LoadAt loads the manifest from dir, falling back to Default when the file
// does not exist.
func LoadAt(dir string) (Manifest, error) {
	path := filepath.Join(dir, ManifestName)
	m, err := Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return Manifest{}, err
	}
	return m, nil
}

// Validate checks manifest field constraints.
func (m *Manifest) Validate() error {
	if m.Workspace.Entry != "" && filepath.IsAbs(m.Workspace.Entry) {
		return fmt.Errorf("workspace.entry must be relative, got %q", m.Workspace.Entry)
	}
	switch m.Export.Mode {
	case "", "never", "onType", "onSave", "onDocumentHasTitle":
	default:
		return fmt.Errorf("export.mode %q (expected never|onType|onSave|onDocumentHasTitle)", m.Export.Mode)
	}
	for _, f := range m.Export.Formats {
		switch f {
		case "pdf", "svg", "png":
		default:
			return fmt.Errorf("export.formats entry %q (expected pdf|svg|png)", f)
		}
	}
	return nil
}

// EntryPath resolves the default entry against the workspace root. Returns
// "" when no default entry is configured.
func (m *Manifest) EntryPath(root string) string {
	if m.Workspace.Entry == "" {
		return ""
	}
	return filepath.Join(root, m.Workspace.Entry)
}

// OutputDir resolves the artifact output root against the workspace root.
func (m *Manifest) OutputDir(root string) string {
	if m.Export.Dir == "" {
		return root
	}
	if filepath.IsAbs(m.Export.Dir) {
		return filepath.Clean(m.Export.Dir)
	}
	return filepath.Join(root, m.Export.Dir)
}

package export

import (
	"errors"
	"path/filepath"
	"testing"

	"vellum/internal/engine"
)

func TestOutputPath(t *testing.T) {
	cases := []struct {
		name    string
		pattern string
		outDir  string
		entry   string
		format  engine.Format
		want    string
		wantErr bool
	}{
		{
			name:   "empty pattern mirrors source tree",
			outDir: "/ws/out",
			entry:  "/ws/book/ch1.vlm",
			format: engine.FormatPDF,
			want:   filepath.Join("/ws/out", "book", "ch1.pdf"),
		},
		{
			name:   "empty output root falls back to workspace root",
			entry:  "/ws/a.vlm",
			format: engine.FormatPDF,
			want:   filepath.Join("/ws", "a.pdf"),
		},
		{
			name:    "flat layout under output root",
			pattern: "$root/$name",
			outDir:  "/ws/out",
			entry:   "/ws/book/ch1.vlm",
			format:  engine.FormatSVG,
			want:    filepath.Join("/ws/out", "ch1.svg"),
		},
		{
			name:    "relative pattern joined under output root",
			pattern: "artifacts/$name",
			outDir:  "/ws/out",
			entry:   "/ws/a.vlm",
			format:  engine.FormatPNG,
			want:    filepath.Join("/ws/out", "artifacts", "a.png"),
		},
		{
			name:    "pattern extension replaced by format extension",
			pattern: "$root/$name.bin",
			outDir:  "/ws/out",
			entry:   "/ws/a.vlm",
			format:  engine.FormatPDF,
			want:    filepath.Join("/ws/out", "a.pdf"),
		},
		{
			name:    "traversal in pattern rejected",
			pattern: "$root/../$name",
			outDir:  "/ws/out",
			entry:   "/ws/a.vlm",
			format:  engine.FormatPDF,
			wantErr: true,
		},
		{
			name:    "entry outside workspace escapes via dir",
			outDir:  "/ws/out",
			entry:   "/other/a.vlm",
			format:  engine.FormatPDF,
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := OutputPath(tc.pattern, tc.outDir, "/ws", tc.entry, tc.format)
			if tc.wantErr {
				if !errors.Is(err, ErrEscapesOutput) {
					t.Fatalf("err = %v, want ErrEscapesOutput", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("OutputPath: %v", err)
			}
			if got != tc.want {
				t.Errorf("OutputPath = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestParseMode(t *testing.T) {
	cases := []struct {
		in   string
		want Mode
	}{
		{"", ModeNever},
		{"never", ModeNever},
		{"onType", ModeOnType},
		{"onSave", ModeOnSave},
		{"onDocumentHasTitle", ModeOnDocumentHasTitle},
	}
	for _, tc := range cases {
		got, err := ParseMode(tc.in)
		if err != nil || got != tc.want {
			t.Errorf("ParseMode(%q) = %v, %v", tc.in, got, err)
		}
	}
	if _, err := ParseMode("sometimes"); err == nil {
		t.Error("ParseMode accepted an unknown mode")
	}
}

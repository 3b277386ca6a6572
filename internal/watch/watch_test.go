package watch_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"vellum/internal/watch"
)

func vlmOnly(path string) bool { return filepath.Ext(path) == ".vlm" }

func startWatcher(t *testing.T, root string) <-chan []string {
	t.Helper()
	w, err := watch.New(watch.Config{
		Root:     root,
		Debounce: 50 * time.Millisecond,
		Match:    vlmOnly,
	})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	t.Cleanup(func() { _ = w.Stop() })

	batches, err := w.Start()
	if err != nil {
		t.Fatalf("start watcher: %v", err)
	}
	return batches
}

// collectUntil drains batches until every wanted path was seen or the
// deadline passes. Returns the union of all received paths.
func collectUntil(t *testing.T, batches <-chan []string, want ...string) map[string]bool {
	t.Helper()
	missing := make(map[string]bool, len(want))
	for _, p := range want {
		missing[p] = true
	}
	seen := make(map[string]bool)
	deadline := time.After(2 * time.Second)
	for len(missing) > 0 {
		select {
		case batch := <-batches:
			for _, p := range batch {
				seen[p] = true
				delete(missing, p)
			}
		case <-deadline:
			t.Fatalf("timed out, still missing %v (saw %v)", missing, seen)
		}
	}
	return seen
}

func TestRapidWritesCoalesce(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.vlm")
	if err := os.WriteFile(path, []byte("v0"), 0o644); err != nil {
		t.Fatal(err)
	}

	batches := startWatcher(t, root)

	for i := 0; i < 10; i++ {
		if err := os.WriteFile(path, []byte("edit"), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case batch := <-batches:
		if len(batch) != 1 || batch[0] != path {
			t.Fatalf("batch = %v, want [%s]", batch, path)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no batch arrived")
	}

	select {
	case batch := <-batches:
		t.Fatalf("unexpected second batch %v", batch)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestNonMatchingFilesIgnored(t *testing.T) {
	root := t.TempDir()
	batches := startWatcher(t, root)

	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "doc.vlm"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	seen := collectUntil(t, batches, filepath.Join(root, "doc.vlm"))
	if seen[filepath.Join(root, "notes.txt")] {
		t.Fatal("batch contained a non-matching file")
	}
}

func TestNewSubdirectoryIsWatched(t *testing.T) {
	root := t.TempDir()
	batches := startWatcher(t, root)

	sub := filepath.Join(root, "chapters")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	// The directory watch attaches asynchronously; files created in the
	// same instant are picked up by the subtree scan instead.
	time.Sleep(100 * time.Millisecond)
	inner := filepath.Join(sub, "ch1.vlm")
	if err := os.WriteFile(inner, []byte("= One\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	collectUntil(t, batches, inner)
}

func TestRemovalsReported(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.vlm")
	if err := os.WriteFile(path, []byte("v0"), 0o644); err != nil {
		t.Fatal(err)
	}

	batches := startWatcher(t, root)
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	collectUntil(t, batches, path)
}

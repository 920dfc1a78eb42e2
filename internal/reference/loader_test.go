package reference

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/kozaktomas/face-organizer/internal/logging"
	"github.com/sbinet/npyio"
)

func writeNPY(t *testing.T, path string, data any) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	if err := npyio.Write(f, data); err != nil {
		t.Fatalf("npyio.Write: %v", err)
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeNPY(t, filepath.Join(dir, "alice.npy"), []float32{1, 0, 0})
	writeNPY(t, filepath.Join(dir, "bob.npy"), []float64{0, 2, 0})
	if err := os.WriteFile(filepath.Join(dir, "carol.json"), []byte(`[0, 0, 3]`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "dave.json"), []byte(`{"embedding": [1, 1, 0]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	// Skipped: wrong dimension, zero vector, garbage, unrelated extension
	writeNPY(t, filepath.Join(dir, "eve.npy"), []float32{1, 0})
	writeNPY(t, filepath.Join(dir, "frank.npy"), []float32{0, 0, 0})
	if err := os.WriteFile(filepath.Join(dir, "grace.json"), []byte(`not json`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "readme.txt"), []byte(`hi`), 0o644); err != nil {
		t.Fatal(err)
	}

	set, err := LoadDir(dir, logging.Discard())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"alice", "bob", "carol", "dave"}
	got := set.Names()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: expected %s, got %s", i, want[i], got[i])
		}
	}
	if set.Dim() != 3 {
		t.Errorf("expected dim 3, got %d", set.Dim())
	}
	if row := set.Row(1); row[1] != 1 {
		t.Errorf("expected bob normalized, got %v", row)
	}
}

func TestLoadDir_Missing(t *testing.T) {
	_, err := LoadDir(filepath.Join(t.TempDir(), "nope"), logging.Discard())
	if !errors.Is(err, ErrDirNotFound) {
		t.Errorf("expected ErrDirNotFound, got %v", err)
	}
}

func TestLoadDir_Empty(t *testing.T) {
	set, err := LoadDir(t.TempDir(), logging.Discard())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if set.Len() != 0 {
		t.Errorf("expected empty set, got %d", set.Len())
	}
}

func TestMeanRows(t *testing.T) {
	got := meanRows([]float64{1, 2, 3, 5}, 2, 2)
	if got[0] != 2 || got[1] != 3.5 {
		t.Errorf("expected [2 3.5], got %v", got)
	}
}

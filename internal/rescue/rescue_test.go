package rescue

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func touch(t *testing.T, paths ...string) {
	t.Helper()
	for _, p := range paths {
		if err := os.WriteFile(p, []byte("JOB A a.sh\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestNumber(t *testing.T) {
	tests := []struct {
		path string
		want int
	}{
		{"wf.dag", 0},
		{"wf.dag.rescue001", 1},
		{"wf.dag.rescue999", 999},
		{"wf.dag.rescue000", 0},
		{"wf.dag.rescue01", 0},
		{"wf.dag.rescue0010", 0},
		{"wf.dag.rescue002.old", 0},
	}

	for _, tt := range tests {
		if got := Number(tt.path); got != tt.want {
			t.Errorf("Number(%q) = %d, want %d", tt.path, got, tt.want)
		}
	}
}

func TestRootName(t *testing.T) {
	tests := map[string]string{
		"wf.dag":           "wf.dag",
		"wf.dag.rescue003": "wf.dag",
		"wf.dag.rescue000": "wf.dag.rescue000",
		"/a/b.rescue010":   "/a/b",
	}
	for in, want := range tests {
		if got := RootName(in); got != want {
			t.Errorf("RootName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNext(t *testing.T) {
	tests := map[string]string{
		"wf":           "wf.rescue001",
		"wf.rescue002": "wf.rescue003",
		"wf.rescue998": "wf.rescue999",
		"wf.rescue999": "wf.rescue999",
	}
	for in, want := range tests {
		if got := Next(in); got != want {
			t.Errorf("Next(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestHighest(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "wf")

	got, err := Highest(root)
	if err != nil {
		t.Fatal(err)
	}
	if got != root {
		t.Errorf("Highest() without rescue files = %q, want root", got)
	}

	touch(t, root, root+".rescue001", root+".rescue002", root+".rescue000",
		root+".rescue002.old", filepath.Join(dir, "other.rescue005"))

	got, err = Highest(root)
	if err != nil {
		t.Fatal(err)
	}
	if got != root+".rescue002" {
		t.Errorf("Highest() = %q, want %q", got, root+".rescue002")
	}

	got, err = Highest(root + ".rescue001")
	if err != nil {
		t.Fatal(err)
	}
	if got != root+".rescue002" {
		t.Errorf("Highest(rescue path) = %q", got)
	}
}

func TestAll_Sorted(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "wf")
	touch(t, root+".rescue010", root+".rescue002", root+".rescue100")

	files, err := All(root)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{root + ".rescue002", root + ".rescue010", root + ".rescue100"}
	if !slices.Equal(files, want) {
		t.Errorf("All() = %v, want %v", files, want)
	}
}

func TestRenameStale(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "wf")
	touch(t, root+".rescue001", root+".rescue002", root+".rescue003")

	renamed, err := RenameStale(2, root)
	if err != nil {
		t.Fatal(err)
	}
	if len(renamed) != 2 {
		t.Errorf("renamed %d files, want 2", len(renamed))
	}

	for _, name := range []string{".rescue001", ".rescue002.old", ".rescue003.old"} {
		if _, err := os.Stat(root + name); err != nil {
			t.Errorf("expected %s to exist: %v", name, err)
		}
	}
	if _, err := os.Stat(root + ".rescue002"); !os.IsNotExist(err) {
		t.Error("rescue002 should have been renamed")
	}
}

func TestSelect(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "wf")
	touch(t, root, root+".rescue001", root+".rescue002", root+".rescue003")

	sel, err := Select(root, 0, true)
	if err != nil {
		t.Fatal(err)
	}
	if sel.File != root {
		t.Errorf("no-rescue File = %q", sel.File)
	}

	sel, err = Select(root, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	if sel.File != root+".rescue003" {
		t.Errorf("default File = %q", sel.File)
	}

	sel, err = Select(root+".rescue003", 1, false)
	if err != nil {
		t.Fatal(err)
	}
	if sel.File != root+".rescue001" || sel.Root != root {
		t.Errorf("from=1 selection = %+v", sel)
	}
	if len(sel.Renamed) != 2 {
		t.Errorf("Renamed = %v, want rescue002 and rescue003", sel.Renamed)
	}
}

func TestSelect_Errors(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "wf")
	touch(t, root)

	if _, err := Select(root, 1000, false); !errors.Is(err, ErrInvalidNumber) {
		t.Errorf("expected ErrInvalidNumber, got %v", err)
	}
	if _, err := Select(root, -1, false); !errors.Is(err, ErrInvalidNumber) {
		t.Errorf("expected ErrInvalidNumber, got %v", err)
	}
	if _, err := Select(root, 2, true); !errors.Is(err, ErrConflictingOptions) {
		t.Errorf("expected ErrConflictingOptions, got %v", err)
	}
	if _, err := Select(root, 5, false); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := Select(filepath.Join(dir, "missing"), 0, false); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

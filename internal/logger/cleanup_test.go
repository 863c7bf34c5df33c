package logger

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCleanStale(t *testing.T) {
	dir := t.TempDir()

	old := time.Now().Add(-40 * 24 * time.Hour)
	write := func(name string, mtime time.Time) {
		t.Helper()
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
			t.Fatalf("WriteFile(%s) error = %v", name, err)
		}
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			t.Fatalf("Chtimes(%s) error = %v", name, err)
		}
	}
	write("streamfall.log", time.Now())
	write("streamfall-2024-01-02T15-04-05.000.log", old)
	write("streamfall-2024-01-01T10-00-00.000.log.gz", old)
	write("notes.txt", old)

	removed, err := CleanStale(dir, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("CleanStale() error = %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	for _, name := range []string{"streamfall.log", "notes.txt"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s should survive the sweep: %v", name, err)
		}
	}
	for _, name := range []string{"streamfall-2024-01-02T15-04-05.000.log", "streamfall-2024-01-01T10-00-00.000.log.gz"} {
		if _, err := os.Stat(filepath.Join(dir, name)); !os.IsNotExist(err) {
			t.Errorf("%s should be gone", name)
		}
	}
}

func TestCleanStaleMissingDir(t *testing.T) {
	removed, err := CleanStale(filepath.Join(t.TempDir(), "never-created"), time.Hour)
	if err != nil {
		t.Fatalf("CleanStale() error = %v", err)
	}
	if removed != 0 {
		t.Errorf("removed = %d, want 0", removed)
	}
}

package session

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteExitScripts_CreatesExecutableScripts(t *testing.T) {
	dir := t.TempDir()
	if err := WriteExitScripts(dir); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"done", "incomplete"} {
		path := filepath.Join(dir, name)
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("%s not written: %v", name, err)
		}
		if info.Mode()&0o111 == 0 {
			t.Errorf("%s is not executable: mode=%v", name, info.Mode())
		}
	}
}

func TestDoneMarkerExists(t *testing.T) {
	dir := t.TempDir()
	if DoneMarkerExists(dir) {
		t.Fatal("expected no marker in a fresh directory")
	}
	if err := os.WriteFile(filepath.Join(dir, ".done-exit"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if !DoneMarkerExists(dir) {
		t.Fatal("expected marker to be detected")
	}
}

func TestClearExitMarkers(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, ".done-exit"), nil, 0o644)
	os.WriteFile(filepath.Join(dir, ".worker-error"), nil, 0o644)

	ClearExitMarkers(dir)

	if DoneMarkerExists(dir) || ErrorFlagExists(dir) {
		t.Fatal("expected both markers cleared")
	}
}

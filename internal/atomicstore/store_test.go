package atomicstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestStore_UpdateFields_CreatesAndMerges(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "state.json"))

	if err := s.UpdateFields("test", func(doc map[string]any) error {
		doc["phase"] = "init"
		doc["name"] = "op1"
		return nil
	}); err != nil {
		t.Fatalf("UpdateFields() error = %v", err)
	}

	var doc map[string]any
	if err := s.ReadField(&doc); err != nil {
		t.Fatalf("ReadField() error = %v", err)
	}
	if doc["phase"] != "init" || doc["name"] != "op1" {
		t.Fatalf("unexpected document: %#v", doc)
	}

	if err := s.UpdateFields("test", func(doc map[string]any) error {
		doc["phase"] = "planned"
		return nil
	}); err != nil {
		t.Fatalf("second UpdateFields() error = %v", err)
	}

	doc = nil
	if err := s.ReadField(&doc); err != nil {
		t.Fatalf("ReadField() error = %v", err)
	}
	if doc["phase"] != "planned" || doc["name"] != "op1" {
		t.Fatalf("merge lost fields: %#v", doc)
	}
}

func TestStore_ReadField_MissingDocument(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "missing.json"))

	var doc map[string]any
	err := s.ReadField(&doc)
	if !os.IsNotExist(err) {
		t.Fatalf("expected os.ErrNotExist, got %v", err)
	}
}

func TestStore_ReadField_Corrupt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := New(path)

	var doc map[string]any
	err := s.ReadField(&doc)
	if err == nil {
		t.Fatal("expected an error for corrupt document")
	}
}

func TestStore_UpdateFields_AbortDoesNotWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	s := New(path)

	if err := s.UpdateFields("test", func(doc map[string]any) error {
		doc["phase"] = "init"
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	wantErr := os.ErrInvalid
	err := s.UpdateFields("test", func(doc map[string]any) error {
		doc["phase"] = "should-not-stick"
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("expected abort error to propagate, got %v", err)
	}

	var doc map[string]any
	if err := s.ReadField(&doc); err != nil {
		t.Fatal(err)
	}
	if doc["phase"] != "init" {
		t.Fatalf("aborted update should not have been written: %#v", doc)
	}
}

func TestStore_NoPartialReadsDuringWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	s := New(path)

	if err := s.BulkReplace("test", map[string]any{"v": 1}); err != nil {
		t.Fatal(err)
	}

	// Simulate a reader racing a writer: the file on disk is always valid
	// JSON because writes only ever land via rename.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var v map[string]any
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("document on disk was not valid JSON: %v", err)
	}
}

func TestDocLock_BreaksStaleHolder(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, "doc.lock")
	l := NewDocLock(lockPath)

	// Simulate a lock held by a dead process.
	stale := LockInfo{PID: 999999999, Owner: "dead-owner"}
	data, _ := json.Marshal(stale)
	if err := os.WriteFile(lockPath, data, 0o644); err != nil {
		t.Fatal(err)
	}

	release, err := l.Acquire("me", AcquireOpts{MaxRetries: 2, BaseDelay: 0})
	if err != nil {
		t.Fatalf("Acquire() should break a stale lock, got error: %v", err)
	}
	release()
}

func TestSingletonPIDFile_AcquireAndRelease(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "daemon.pid")

	ok, err := AcquireSingletonPIDFile(path)
	if err != nil || !ok {
		t.Fatalf("expected to acquire, got ok=%v err=%v", ok, err)
	}

	ok, err = AcquireSingletonPIDFile(path)
	if err != nil || !ok {
		t.Fatalf("expected re-acquire by same process to succeed, got ok=%v err=%v", ok, err)
	}

	if err := ReleaseSingletonPIDFile(path); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected pid file removed, stat err=%v", err)
	}
}

func TestSingletonPIDFile_RejectsLiveOtherHolder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "daemon.pid")

	if err := os.WriteFile(path, []byte("1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	ok, err := AcquireSingletonPIDFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected PID 1 to be treated as a live holder")
	}
}

package atomicstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/foreman-run/foreman/internal/fmerrors"
)

// Store reads and writes a single JSON document at Path under the
// protection of a lock at Path+".lock". All writes go to a sibling temp
// file, fsync, then rename over the target.
type Store struct {
	path string
	lock *DocLock
}

// New returns a Store for the document at path.
func New(path string) *Store {
	return &Store{path: path, lock: NewDocLock(path + ".lock")}
}

// Path returns the document path this store guards.
func (s *Store) Path() string { return s.path }

// ReadRaw reads the document's raw bytes. Returns os.ErrNotExist if the
// document has never been written.
func (s *Store) ReadRaw() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, fmt.Errorf("io: reading %s: %w", s.path, err)
	}
	return data, nil
}

// ReadField unmarshals the document into out. out must be a pointer.
// Returns os.ErrNotExist if the document does not exist yet.
func (s *Store) ReadField(out any) error {
	data, err := s.ReadRaw()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %s: %v", fmerrors.ErrCorrupt, s.path, err)
	}
	return nil
}

// UpdateFields acquires the document lock, loads the current document as a
// generic map (treating a missing document as empty), applies fn to mutate
// that map in place, and atomically writes the result back. fn receives the
// decoded document and may return an error to abort the update without
// writing anything.
func (s *Store) UpdateFields(owner string, fn func(doc map[string]any) error) error {
	release, err := s.lock.Acquire(owner, DefaultAcquireOpts())
	if err != nil {
		return err
	}
	defer release()

	doc := map[string]any{}
	data, err := s.ReadRaw()
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if err == nil {
		if uErr := json.Unmarshal(data, &doc); uErr != nil {
			return fmt.Errorf("%w: %s: %v", fmerrors.ErrCorrupt, s.path, uErr)
		}
	}

	if err := fn(doc); err != nil {
		return err
	}

	return s.writeAtomic(doc)
}

// BulkReplace atomically overwrites the document with doc, bypassing the
// read-modify step. Still serialized by the document lock.
func (s *Store) BulkReplace(owner string, doc any) error {
	release, err := s.lock.Acquire(owner, DefaultAcquireOpts())
	if err != nil {
		return err
	}
	defer release()
	return s.writeAtomic(doc)
}

func (s *Store) writeAtomic(doc any) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", s.path, err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("io: creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("io: creating temp file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("io: writing %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("io: fsync %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("io: closing %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("io: renaming %s to %s: %w", tmpPath, s.path, err)
	}
	return nil
}

// PathFor returns the canonical document path for a named resource rooted
// at base (e.g. operations/<name>/state.json).
func PathFor(base string, parts ...string) string {
	return filepath.Join(append([]string{base}, parts...)...)
}

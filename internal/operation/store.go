package operation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/foreman-run/foreman/internal/atomicstore"
	"github.com/foreman-run/foreman/internal/schema"
)

// Store is the per-operation document store, a thin API over atomicstore
// that also mediates schema migration on every access.
type Store struct {
	root string // <build-root>/operations
}

// NewStore returns a Store rooted at buildRoot/operations.
func NewStore(buildRoot string) *Store {
	return &Store{root: filepath.Join(buildRoot, "operations")}
}

func (s *Store) docStore(name string) *atomicstore.Store {
	return atomicstore.New(filepath.Join(s.root, name, "state.json"))
}

// Create writes a brand-new operation document. Fails if one already
// exists for this name.
func (s *Store) Create(op *Operation) error {
	path := filepath.Join(s.root, op.Name, "state.json")
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("operation %q already exists", op.Name)
	}
	raw, err := toDoc(op)
	if err != nil {
		return err
	}
	return s.docStore(op.Name).BulkReplace(op.Name, raw)
}

// Read loads an operation by name, migrating its document in place if its
// schema version is behind current. The read itself takes no lock; the
// migrated document is written back with BulkReplace, which locks on its own.
func (s *Store) Read(name string) (*Operation, error) {
	ds := s.docStore(name)

	var doc map[string]any
	if err := ds.ReadField(&doc); err != nil {
		return nil, err
	}

	if schema.Migrate(doc) {
		if err := ds.BulkReplace(name, doc); err != nil {
			return nil, fmt.Errorf("writing migrated document: %w", err)
		}
	}

	return fromDoc(doc)
}

// UpdateFields applies a field-merge mutation to the operation's document,
// migrating first if needed. fn receives the already-migrated generic doc.
func (s *Store) UpdateFields(name string, fn func(doc map[string]any) error) error {
	ds := s.docStore(name)
	return ds.UpdateFields(name, func(doc map[string]any) error {
		schema.Migrate(doc)
		return fn(doc)
	})
}

// List returns the names of every operation with a document on disk.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.root, e.Name(), "state.json")); err == nil {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Delete removes an operation's entire directory (state, logs). Per spec,
// this is only used to prune cancelled operations; a cancelled operation
// otherwise remains on disk for audit.
func (s *Store) Delete(name string) error {
	return os.RemoveAll(filepath.Join(s.root, name))
}

func toDoc(op *Operation) (map[string]any, error) {
	b, err := json.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("marshaling operation: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func fromDoc(doc map[string]any) (*Operation, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshaling document: %w", err)
	}
	var op Operation
	if err := json.Unmarshal(b, &op); err != nil {
		return nil, fmt.Errorf("decoding operation: %w", err)
	}
	return &op, nil
}

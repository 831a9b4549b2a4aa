package mergequeue

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/foreman-run/foreman/internal/atomicstore"
)

const documentVersion = 1

// Store is the queue document store: a single JSON document under one
// queue-wide lock, mutated only through filter-expression updates.
type Store struct {
	doc  *atomicstore.Store
	lock *atomicstore.DocLock
}

// NewStore returns a Store rooted at buildRoot/mergeq/queue.json, guarded
// by buildRoot/mergeq/.queue.lock.
func NewStore(buildRoot string) *Store {
	root := filepath.Join(buildRoot, "mergeq")
	return &Store{
		doc:  atomicstore.New(filepath.Join(root, "queue.json")),
		lock: atomicstore.NewDocLock(filepath.Join(root, ".queue.lock")),
	}
}

func (s *Store) withDoc(owner string, fn func(doc *Document) error) error {
	release, err := s.lock.Acquire(owner, atomicstore.DefaultAcquireOpts())
	if err != nil {
		return err
	}
	defer release()

	var doc Document
	if err := s.doc.ReadField(&doc); err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		doc = Document{Version: documentVersion}
	}
	if doc.Version == 0 {
		doc.Version = documentVersion
	}

	if err := fn(&doc); err != nil {
		return err
	}
	return s.doc.BulkReplace(owner, doc)
}

// Enqueue adds a pending entry for operationName, unless an active
// (pending or processing) entry for it already exists (no-op), or unless
// a terminal entry for it exists, in which case that entry is superseded
// by a fresh pending one (a retry).
func (s *Store) Enqueue(idPrefix string, entry Entry) (*Entry, error) {
	var result *Entry
	err := s.withDoc("enqueue", func(doc *Document) error {
		for _, e := range doc.Entries {
			if e.Operation == entry.Operation && activeStatuses[e.Status] {
				result = e
				return nil
			}
		}

		now := time.Now().UTC()
		entry.ID = GenerateID(idPrefix, entry.Operation)
		entry.Status = StatusPending
		entry.EnqueuedAt = now
		entry.UpdatedAt = now

		// Supersede any terminal entry for the same operation by dropping it.
		kept := doc.Entries[:0]
		for _, e := range doc.Entries {
			if e.Operation == entry.Operation && !activeStatuses[e.Status] {
				continue
			}
			kept = append(kept, e)
		}
		doc.Entries = append(kept, &entry)
		result = &entry
		return nil
	})
	return result, err
}

// UpdateStatus sets the status (and updated_at) of the entry for
// operationName, and applies any additional field mutations via mutate.
func (s *Store) UpdateStatus(operationName string, status Status, mutate func(e *Entry)) error {
	return s.withDoc("update-status", func(doc *Document) error {
		for _, e := range doc.Entries {
			if e.Operation == operationName {
				e.Status = status
				e.UpdatedAt = time.Now().UTC()
				if mutate != nil {
					mutate(e)
				}
				return nil
			}
		}
		return fmt.Errorf("no queue entry for operation %q", operationName)
	})
}

// FindNextPending returns the highest-priority pending entry in queue
// order, or nil if none are pending. cmp orders candidates; DefaultOrder
// is used when cmp is nil.
func (s *Store) FindNextPending(cmp Comparator) (*Entry, error) {
	var found *Entry
	err := s.withDoc("find-next-pending", func(doc *Document) error {
		pending := filterByStatus(doc.Entries, StatusPending)
		if len(pending) == 0 {
			return nil
		}
		if cmp == nil {
			cmp = DefaultOrder
		}
		sort.SliceStable(pending, func(i, j int) bool {
			return cmp(pending[i], pending[j])
		})
		found = pending[0]
		return nil
	})
	return found, err
}

// List returns entries, optionally filtered by status ("" means all).
func (s *Store) List(status Status) ([]*Entry, error) {
	var entries []*Entry
	err := s.withDoc("list", func(doc *Document) error {
		if status == "" {
			entries = append(entries, doc.Entries...)
			return nil
		}
		entries = filterByStatus(doc.Entries, status)
		return nil
	})
	return entries, err
}

// RemoveStale drops entries for which isStale returns true, invoking
// onRemoved with each removed entry so the caller can reconcile the
// associated operation's phase.
func (s *Store) RemoveStale(isStale func(e *Entry) (bool, error), onRemoved func(e *Entry)) error {
	return s.withDoc("remove-stale", func(doc *Document) error {
		kept := doc.Entries[:0]
		for _, e := range doc.Entries {
			stale, err := isStale(e)
			if err != nil {
				return err
			}
			if stale {
				if onRemoved != nil {
					onRemoved(e)
				}
				continue
			}
			kept = append(kept, e)
		}
		doc.Entries = kept
		return nil
	})
}

// AddIssueLink records the tracker issue id associated with an entry.
func (s *Store) AddIssueLink(operationName, issueID string) error {
	return s.withDoc("add-issue-link", func(doc *Document) error {
		for _, e := range doc.Entries {
			if e.Operation == operationName {
				e.IssueID = issueID
				e.UpdatedAt = time.Now().UTC()
				return nil
			}
		}
		return fmt.Errorf("no queue entry for operation %q", operationName)
	})
}

func filterByStatus(entries []*Entry, status Status) []*Entry {
	var out []*Entry
	for _, e := range entries {
		if e.Status == status {
			out = append(out, e)
		}
	}
	return out
}

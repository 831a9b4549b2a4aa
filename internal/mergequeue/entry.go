// Package mergequeue implements the merge queue store (C7) and the
// single-consumer merge daemon (C8): the serialization point through
// which completed operations are integrated into the shared branch.
package mergequeue

import "time"

// MergeType distinguishes an entry naming a known operation from a
// "bare-branch" entry that only names a branch path.
type MergeType string

const (
	MergeTypeOperation MergeType = "operation"
	MergeTypeBranch    MergeType = "branch"
)

// Status is the lifecycle of one queue entry.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusConflict   Status = "conflict"
	StatusResumed    Status = "resumed"
)

// activeStatuses are the statuses the enqueue no-op check treats as "work
// already in flight for this operation".
var activeStatuses = map[Status]bool{StatusPending: true, StatusProcessing: true}

// Entry is one item in the merge queue document.
type Entry struct {
	ID              string    `json:"id"`
	Operation       string    `json:"operation"`
	MergeType       MergeType `json:"merge_type"`
	Priority        int       `json:"priority"`
	Status          Status    `json:"status"`
	EnqueuedAt      time.Time `json:"enqueued_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	Worktree        string    `json:"worktree,omitempty"`
	IssueID         string    `json:"issue_id,omitempty"`
	ConflictRetried bool      `json:"conflict_retried,omitempty"`
}

// Document is the whole persisted queue: one JSON document under a
// single lock path, mutated only via filter-expression updates.
type Document struct {
	Version int      `json:"version"`
	Entries []*Entry `json:"entries"`
}

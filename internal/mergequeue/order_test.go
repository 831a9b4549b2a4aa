package mergequeue

import (
	"testing"
	"time"
)

func TestDefaultOrder_PriorityBeatsAge(t *testing.T) {
	now := time.Now()
	older := &Entry{Priority: 5, EnqueuedAt: now.Add(-time.Hour)}
	higherPriorityNewer := &Entry{Priority: 1, EnqueuedAt: now}

	if !DefaultOrder(higherPriorityNewer, older) {
		t.Fatal("expected higher-priority (lower number) entry to sort first regardless of age")
	}
}

func TestDefaultOrder_FIFOWithinSamePriority(t *testing.T) {
	now := time.Now()
	earlier := &Entry{Priority: 3, EnqueuedAt: now.Add(-time.Minute)}
	later := &Entry{Priority: 3, EnqueuedAt: now}

	if !DefaultOrder(earlier, later) {
		t.Fatal("expected earlier-enqueued entry to sort first within the same priority")
	}
}

func TestScoreOrder_RetryPenaltyDemotesEntry(t *testing.T) {
	now := time.Now()
	cfg := DefaultScoreConfig()
	fresh := &Entry{Priority: 2, EnqueuedAt: now}
	retried := &Entry{Priority: 2, EnqueuedAt: now, ConflictRetried: true}

	cmp := ScoreOrder(cfg, now)
	if !cmp(fresh, retried) {
		t.Fatal("expected a non-retried entry to outrank an otherwise identical retried one")
	}
}

package mergequeue

import "time"

// Comparator reports whether a should be dequeued before b. FindNextPending
// sorts pending entries with it and takes the first result.
type Comparator func(a, b *Entry) bool

// DefaultOrder is the mandatory default ordering: priority ascending (lower
// number is more urgent), then enqueued_at ascending (FIFO within a
// priority band).
func DefaultOrder(a, b *Entry) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.EnqueuedAt.Before(b.EnqueuedAt)
}

// ScoreConfig tunes ScoreOrder, an optional alternate comparator that
// trades strict FIFO-within-priority for a weighted score favoring old
// entries and penalizing repeated conflict retries. The daemon always
// dispatches with DefaultOrder; ScoreOrder takes effect only for callers
// that pass it to FindNextPending themselves.
type ScoreConfig struct {
	BaseScore       float64
	PriorityWeight  float64 // multiplied by (maxPriority - priority)
	MaxPriority     int
	AgeWeight       float64 // points per hour since enqueued_at
	RetryPenalty    float64 // subtracted once if conflict_retried
	MaxRetryPenalty float64
}

// DefaultScoreConfig mirrors the weights of the priority-scoring formula
// this comparator is adapted from, scaled to this queue's single-retry
// conflict model instead of an unbounded retry counter.
func DefaultScoreConfig() ScoreConfig {
	return ScoreConfig{
		BaseScore:       1000,
		PriorityWeight:  100,
		MaxPriority:     4,
		AgeWeight:       1,
		RetryPenalty:    50,
		MaxRetryPenalty: 50,
	}
}

// Score computes e's priority score at now under cfg. Higher scores sort
// first.
func (cfg ScoreConfig) Score(e *Entry, now time.Time) float64 {
	score := cfg.BaseScore

	bonus := cfg.MaxPriority - e.Priority
	if bonus < 0 {
		bonus = 0
	}
	if bonus > cfg.MaxPriority {
		bonus = cfg.MaxPriority
	}
	score += cfg.PriorityWeight * float64(bonus)

	if age := now.Sub(e.EnqueuedAt).Hours(); age > 0 {
		score += cfg.AgeWeight * age
	}

	if e.ConflictRetried {
		penalty := cfg.RetryPenalty
		if penalty > cfg.MaxRetryPenalty {
			penalty = cfg.MaxRetryPenalty
		}
		score -= penalty
	}

	return score
}

// ScoreOrder builds a Comparator from cfg evaluated at now.
func ScoreOrder(cfg ScoreConfig, now time.Time) Comparator {
	return func(a, b *Entry) bool {
		return cfg.Score(a, now) > cfg.Score(b, now)
	}
}

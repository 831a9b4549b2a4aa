package status

import "github.com/foreman-run/foreman/internal/tracker"

// TrackerClient is the subset of tracker.Tracker a BlockerCache needs.
type TrackerClient interface {
	ShowBatch(ids []string) ([]*tracker.Ticket, error)
}

// BlockerCache resolves an operation's epic's blockers with at most two
// tracker round trips for an entire status view, regardless of how many
// operations are displayed: one batch call for the epics themselves, one
// batch call for the union of their blocked_by references. Every lookup
// after that hits the in-memory map.
type BlockerCache struct {
	tr       TrackerClient
	epics    map[string]*tracker.Ticket
	blockers map[string]*tracker.Ticket
	primed   bool
}

// NewBlockerCache returns an empty cache; call Prime before Blockers.
func NewBlockerCache(tr TrackerClient) *BlockerCache {
	return &BlockerCache{tr: tr, epics: map[string]*tracker.Ticket{}, blockers: map[string]*tracker.Ticket{}}
}

// Prime fetches every epic in epicIDs in one call, then every ticket any
// of them names in blocked_by in a second call. Safe to call once per
// view render; a repeat call fetches again and overwrites the cached
// tickets it returns, while entries from earlier calls stay in the cache.
func (c *BlockerCache) Prime(epicIDs []string) error {
	ids := dedup(epicIDs)
	if len(ids) == 0 {
		c.primed = true
		return nil
	}
	epics, err := c.tr.ShowBatch(ids)
	if err != nil {
		return err
	}
	var blockedBy []string
	for _, e := range epics {
		c.epics[e.ID] = e
		blockedBy = append(blockedBy, e.BlockedBy...)
	}
	blockedBy = dedup(blockedBy)
	if len(blockedBy) > 0 {
		blockers, err := c.tr.ShowBatch(blockedBy)
		if err != nil {
			return err
		}
		for _, b := range blockers {
			c.blockers[b.ID] = b
		}
	}
	c.primed = true
	return nil
}

// Blockers returns the open blocker tickets for epicID's epic, resolved
// entirely from the primed cache.
func (c *BlockerCache) Blockers(epicID string) []*tracker.Ticket {
	epic, ok := c.epics[epicID]
	if !ok {
		return nil
	}
	var open []*tracker.Ticket
	for _, id := range epic.BlockedBy {
		if b, ok := c.blockers[id]; ok && b.IsOpen() {
			open = append(open, b)
		}
	}
	return open
}

func dedup(ids []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

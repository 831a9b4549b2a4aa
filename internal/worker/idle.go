package worker

import (
	"github.com/fsnotify/fsnotify"
)

// idleWatch tracks how many consecutive poll ticks have passed since a
// worktree last saw a filesystem event, backing the idle-detection timer
// from spec §5 ("if the session's tracked artifact has not changed for N
// consecutive poll ticks, the monitor emits an idle-complete event").
type idleWatch struct {
	watcher *fsnotify.Watcher
	ticks   int
}

func newIdleWatch(worktree string) *idleWatch {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil
	}
	if err := watcher.Add(worktree); err != nil {
		watcher.Close()
		return nil
	}
	return &idleWatch{watcher: watcher}
}

// poll drains any pending filesystem events (any one resets the idle
// counter to zero), then returns the updated consecutive-idle tick count.
func (w *idleWatch) poll() int {
	drained := false
	for {
		select {
		case _, ok := <-w.watcher.Events:
			if !ok {
				return w.ticks
			}
			drained = true
		default:
			if drained {
				w.ticks = 0
			} else {
				w.ticks++
			}
			return w.ticks
		}
	}
}

func (w *idleWatch) close() {
	if w != nil && w.watcher != nil {
		w.watcher.Close()
	}
}

// idleWatchOf returns the cached watcher for a worktree, creating one on
// first use. A worktree that cannot be watched (already gone, permission
// denied) is simply never flagged idle; the no-progress crash path is the
// fallback detector in that case.
func (s *Supervisor) idleWatchOf(worktree string) *idleWatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idle == nil {
		s.idle = map[string]*idleWatch{}
	}
	w, ok := s.idle[worktree]
	if !ok {
		w = newIdleWatch(worktree)
		s.idle[worktree] = w
	}
	return w
}

func (s *Supervisor) clearIdleWatch(worktree string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.idle[worktree]; ok {
		w.close()
		delete(s.idle, worktree)
	}
}

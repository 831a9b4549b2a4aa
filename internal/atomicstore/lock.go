// Package atomicstore provides crash-safe, lock-protected JSON document
// storage: the substrate every other package in this module builds on.
//
// Writers never mutate a document in place. A write goes to a sibling temp
// file in the same directory, is fsynced, then renamed over the target, so
// a reader always observes either the old document or the new one, never a
// partial one. Every mutation is additionally serialized by an advisory
// lock file recording the owning process, with stale-holder detection so a
// crashed process never wedges the document permanently.
package atomicstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/foreman-run/foreman/internal/fmerrors"
)

// LockInfo records who holds a document lock.
type LockInfo struct {
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
	Owner      string    `json:"owner"`
}

// DocLock is an advisory lock over a single document's lock file.
type DocLock struct {
	path string
}

// NewDocLock returns a lock guarding lockPath. lockPath is conventionally
// the document's path with a ".lock" suffix.
func NewDocLock(lockPath string) *DocLock {
	return &DocLock{path: lockPath}
}

// AcquireOpts tunes retry behavior for Acquire.
type AcquireOpts struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// DefaultAcquireOpts mirrors the teacher's bounded exponential backoff for
// identity locks, generalized to any document lock.
func DefaultAcquireOpts() AcquireOpts {
	return AcquireOpts{MaxRetries: 8, BaseDelay: 25 * time.Millisecond}
}

// Acquire blocks (with bounded exponential backoff) until the lock is held
// by this process, a stale holder is broken and retaken, or the retry
// budget is exhausted, in which case it returns fmerrors.ErrLockContention.
func (l *DocLock) Acquire(owner string, opts AcquireOpts) (func(), error) {
	delay := opts.BaseDelay
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		ok, err := l.tryAcquire(owner)
		if err != nil {
			return nil, err
		}
		if ok {
			return func() { _ = l.release() }, nil
		}
		if attempt == opts.MaxRetries {
			break
		}
		time.Sleep(delay)
		delay *= 2
	}
	return nil, fmt.Errorf("acquiring lock %s: %w", l.path, fmerrors.ErrLockContention)
}

// tryAcquire makes a single attempt: if the lock file is absent, or present
// but held by a dead PID, it is (re)written for this process and true is
// returned. If held by a live process other than this one, false is
// returned without blocking.
func (l *DocLock) tryAcquire(owner string) (bool, error) {
	info, err := l.read()
	if err != nil {
		if os.IsNotExist(err) {
			return l.write(owner) == nil, nil
		}
		return false, fmt.Errorf("reading lock %s: %w", l.path, err)
	}

	if info.PID == os.Getpid() {
		return l.write(owner) == nil, nil
	}

	if !processAlive(info.PID) {
		// Stale holder: break the lock and retake it.
		_ = l.release()
		return l.write(owner) == nil, nil
	}

	return false, nil
}

func (l *DocLock) read() (*LockInfo, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, err
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("%w: %v", fmerrors.ErrCorrupt, err)
	}
	return &info, nil
}

func (l *DocLock) write(owner string) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("creating lock directory: %w", err)
	}
	info := LockInfo{PID: os.Getpid(), AcquiredAt: time.Now().UTC(), Owner: owner}
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshaling lock info: %w", err)
	}
	return os.WriteFile(l.path, data, 0o644)
}

func (l *DocLock) release() error {
	err := os.Remove(l.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing lock file: %w", err)
	}
	return nil
}

// IsStale reports whether the current holder's process is no longer live.
// Used by callers that want to detect and break a stale lock without going
// through the full Acquire/retry path (e.g. a doctor-style diagnostic).
func (l *DocLock) IsStale() (bool, error) {
	info, err := l.read()
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return !processAlive(info.PID), nil
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return isProcessAlive(proc)
}

// IsPIDFileLive reports whether path names a PID belonging to a live
// process, without claiming or modifying the file.
func IsPIDFileLive(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	var pid int
	if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil {
		return false
	}
	return processAlive(pid)
}

// AcquireSingletonPIDFile enforces a process-wide singleton: if path names
// a live process's PID, it returns false (another instance is running).
// Otherwise it writes the current PID to path and returns true. Unlike
// DocLock, this never retries or blocks — the caller (a daemon's startup
// path) exits immediately on contention rather than waiting.
func AcquireSingletonPIDFile(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		var pid int
		if _, scanErr := fmt.Sscanf(string(data), "%d", &pid); scanErr == nil && pid != os.Getpid() && processAlive(pid) {
			return false, nil
		}
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("reading pid file %s: %w", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("creating pid file directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644); err != nil {
		return false, fmt.Errorf("writing pid file %s: %w", path, err)
	}
	return true, nil
}

// ReleaseSingletonPIDFile removes the PID file on clean daemon shutdown.
func ReleaseSingletonPIDFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing pid file %s: %w", path, err)
	}
	return nil
}

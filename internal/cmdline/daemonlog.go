package cmdline

import (
	"log"
	"os"
	"path/filepath"
)

// DaemonLog is the daemon-wide diagnostic log shared by the merge queue
// daemon and the worker supervisors, distinct from any single operation's
// per-operation event log (internal/operation) and from the JSONL activity
// feed (internal/events). A plain stdlib *log.Logger, the way the
// teacher's daemon package logs (daemon.Daemon{logger *log.Logger}).
type DaemonLog struct {
	logger *log.Logger
	file   *os.File
}

// NewDaemonLog opens buildRoot/logs/<name>.log for append, creating
// directories as needed. A nil *DaemonLog is never returned; a failure to
// open the file falls back to a logger writing to stderr so callers never
// need a nil check.
func NewDaemonLog(buildRoot, name string) *DaemonLog {
	path := filepath.Join(buildRoot, "logs", name+".log")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &DaemonLog{logger: log.New(os.Stderr, "", log.LstdFlags)}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return &DaemonLog{logger: log.New(os.Stderr, "", log.LstdFlags)}
	}
	return &DaemonLog{logger: log.New(f, "", log.LstdFlags|log.LUTC), file: f}
}

// Append writes one "event: details" line.
func (l *DaemonLog) Append(event, details string) {
	l.logger.Printf("%s: %s", event, details)
}

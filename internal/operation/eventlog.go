package operation

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// EventLog is the append-only, line-oriented log for one operation's
// transitions and significant events:
//
//	[YYYY-MM-DDTHH:MM:SSZ] <event>: <details>
//
// Rotation is delegated to lumberjack, which the wider retrieved pack
// (untoldecay-BeadsLog) already depends on for exactly this kind of
// size-bounded, generation-capped log file.
type EventLog struct {
	mu     sync.Mutex
	writer *lumberjack.Logger
}

const (
	// maxLogSizeMB is the rotation threshold referenced by spec §3's
	// "Event log" section ("rotation is triggered when a log exceeds a
	// size threshold").
	maxLogSizeMB = 5
	// maxBackups is the fixed number of rotated generations kept.
	maxBackups = 5
)

// OpenEventLog opens (creating directories as needed) the event log file
// for the named operation rooted at buildRoot/operations/<name>/logs.
func OpenEventLog(buildRoot, name string) *EventLog {
	path := filepath.Join(buildRoot, "operations", name, "logs", "events.log")
	return &EventLog{
		writer: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxLogSizeMB,
			MaxBackups: maxBackups,
			Compress:   false,
		},
	}
}

// Append writes one timestamped event line. Best-effort: a logging failure
// never blocks a transition, since the event log is a diagnostic aid, not
// the system of record for operation state.
func (l *EventLog) Append(event, details string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	line := fmt.Sprintf("[%s] %s: %s\n", time.Now().UTC().Format("2006-01-02T15:04:05Z"), event, details)
	if err := os.MkdirAll(filepath.Dir(l.writer.Filename), 0o755); err != nil {
		return
	}
	_, _ = l.writer.Write([]byte(line))
}

// Close flushes and closes the underlying file handle.
func (l *EventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writer.Close()
}

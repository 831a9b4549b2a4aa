//go:build unix

package atomicstore

import (
	"os"
	"syscall"
)

// isProcessAlive probes liveness via signal 0, which the kernel delivers
// without actually signaling the process.
func isProcessAlive(p *os.Process) bool {
	return p.Signal(syscall.Signal(0)) == nil
}

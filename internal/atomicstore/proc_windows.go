//go:build windows

package atomicstore

import "os"

// isProcessAlive approximates liveness on Windows, where FindProcess always
// succeeds and Signal(0) is not a reliable probe.
func isProcessAlive(p *os.Process) bool {
	err := p.Signal(os.Signal(nil))
	return err == nil
}

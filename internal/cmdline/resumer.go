package cmdline

import "github.com/foreman-run/foreman/internal/mergequeue"

// backgroundResumer satisfies depgraph.Resumer / mergequeue.Resumer. The
// worker supervisors already poll every non-terminal operation each tick,
// so "resume in background" only needs to log the request; the next poll
// picks the operation back up once its session is gone and its phase
// allows relaunch.
type backgroundResumer struct {
	log *DaemonLog
}

func newBackgroundResumer(log *DaemonLog) *backgroundResumer {
	return &backgroundResumer{log: log}
}

func (r *backgroundResumer) ResumeInBackground(operationName string) error {
	if r.log != nil {
		r.log.Append("resume_requested", operationName)
	}
	return nil
}

var _ mergequeue.Resumer = (*backgroundResumer)(nil)

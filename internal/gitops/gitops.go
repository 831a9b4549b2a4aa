// Package gitops wraps the git subprocess calls the merge queue daemon
// needs: workspace synchronization, conflict detection, the fast-forward
// -> rebase -> merge-commit strategy cascade, and push/verify retries.
// Git itself is out of scope; this package only shapes the subset of
// operations spec'd for the core into typed Go.
package gitops

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/foreman-run/foreman/internal/fmerrors"
)

// ErrMergeConflict signals a merge (test or real) left unmerged paths.
var ErrMergeConflict = errors.New("merge conflict")

// Git wraps git operations rooted at a shared-checkout working directory.
type Git struct {
	workDir string
}

// New returns a Git wrapper operating in workDir.
func New(workDir string) *Git {
	return &Git{workDir: workDir}
}

func (g *Git) run(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = g.workDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", g.wrapError(err, stdout.String(), stderr.String(), args)
	}
	return strings.TrimSpace(stdout.String()), nil
}

func (g *Git) wrapError(err error, stdout, stderr string, args []string) error {
	stderr = strings.TrimSpace(stderr)
	if strings.Contains(stdout, "CONFLICT") || strings.Contains(stderr, "CONFLICT") {
		return ErrMergeConflict
	}
	if strings.Contains(stderr, "unknown revision") || strings.Contains(stderr, "bad revision") ||
		strings.Contains(stderr, "not a valid ref") {
		return fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), stderr, fmerrors.ErrRefMissing)
	}
	if stderr != "" {
		return fmt.Errorf("git %s: %s", strings.Join(args, " "), stderr)
	}
	return fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
}

// Fetch fetches the given remote.
func (g *Git) Fetch(remote string) error {
	_, err := g.run("fetch", remote)
	return err
}

// Checkout switches the working tree to ref.
func (g *Git) Checkout(ref string) error {
	_, err := g.run("checkout", ref)
	return err
}

// DiscardUncommitted resets the working tree hard to HEAD and removes
// untracked files, so a prior failed attempt never leaks into the next
// merge cycle.
func (g *Git) DiscardUncommitted() error {
	if _, err := g.run("reset", "--hard", "HEAD"); err != nil {
		return err
	}
	_, err := g.run("clean", "-fd")
	return err
}

// ResetToRemote hard-resets branch to remote/branch even if the local and
// remote histories have diverged (the shared branch may have been
// force-updated by an administrative push).
func (g *Git) ResetToRemote(remote, branch string) error {
	_, err := g.run("reset", "--hard", remote+"/"+branch)
	return err
}

// BranchExists reports whether a local branch exists.
func (g *Git) BranchExists(name string) (bool, error) {
	_, err := g.run("show-ref", "--verify", "--quiet", "refs/heads/"+name)
	if err != nil {
		if strings.Contains(err.Error(), "exit status 1") {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// RemoteBranchExists reports whether branch exists on remote, distinguishing
// "it's simply absent" (false, nil) from a genuine lookup failure (false,
// err) as required for is_stale's ref-missing-vs-lookup-failed distinction.
func (g *Git) RemoteBranchExists(remote, branch string) (bool, error) {
	out, err := g.run("ls-remote", "--heads", remote, branch)
	if err != nil {
		return false, err
	}
	return out != "", nil
}

// DeleteBranch removes a local branch.
func (g *Git) DeleteBranch(name string, force bool) error {
	flag := "-d"
	if force {
		flag = "-D"
	}
	_, err := g.run("branch", flag, name)
	return err
}

// DeleteRemoteBranch removes a branch on remote.
func (g *Git) DeleteRemoteBranch(remote, branch string) error {
	_, err := g.run("push", remote, "--delete", branch)
	return err
}

// CheckConflicts performs a dry-run three-way merge check of source into
// the currently checked-out branch that leaves the working tree as it was:
// merge --no-commit, inspect for conflicts, then unconditionally undo.
// Returns the conflicting file list (nil if clean).
func (g *Git) CheckConflicts(source string) ([]string, error) {
	_, mergeErr := g.run("merge", "--no-commit", "--no-ff", source)
	if mergeErr == nil {
		// Clean merge would have been staged; undo it, we only wanted to know.
		_, _ = g.run("reset", "--hard", "HEAD")
		return nil, nil
	}

	files, convErr := g.GetConflictingFiles()
	_ = g.AbortMerge()
	if convErr == nil && len(files) > 0 {
		return files, nil
	}
	if errors.Is(mergeErr, ErrMergeConflict) {
		return files, nil
	}
	return nil, mergeErr
}

// GetConflictingFiles lists paths with unresolved merge conflicts.
func (g *Git) GetConflictingFiles() ([]string, error) {
	out, err := g.run("diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// AbortMerge aborts a merge in progress.
func (g *Git) AbortMerge() error {
	_, err := g.run("merge", "--abort")
	return err
}

// AbortRebase aborts a rebase in progress.
func (g *Git) AbortRebase() error {
	_, err := g.run("rebase", "--abort")
	return err
}

// MergeFastForward fast-forwards the current branch to branch, failing if
// that is not possible.
func (g *Git) MergeFastForward(branch string) error {
	_, err := g.run("merge", "--ff-only", branch)
	return err
}

// Rebase replays the currently checked-out branch onto onto.
func (g *Git) Rebase(onto string) error {
	_, err := g.run("rebase", onto)
	return err
}

// MergeCommit performs a non-fast-forward merge commit of branch into the
// current branch, using message.
func (g *Git) MergeCommit(branch, message string) error {
	_, err := g.run("merge", "--no-ff", "-m", message, branch)
	return err
}

// GetBranchCommitMessage returns the subject+body of branch's tip commit,
// used to preserve the original commit message through a merge.
func (g *Git) GetBranchCommitMessage(branch string) (string, error) {
	return g.run("log", "-1", "--format=%B", branch)
}

// Rev resolves ref to a commit hash.
func (g *Git) Rev(ref string) (string, error) {
	return g.run("rev-parse", ref)
}

// IsAncestor reports whether ancestor is an ancestor of descendant.
func (g *Git) IsAncestor(ancestor, descendant string) (bool, error) {
	_, err := g.run("merge-base", "--is-ancestor", ancestor, descendant)
	if err != nil {
		if strings.Contains(err.Error(), "exit status 1") {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Status summarizes the working tree's porcelain status.
type Status struct {
	Modified  []string
	Added     []string
	Deleted   []string
	Untracked []string
}

// Clean reports whether the tree has no tracked changes (untracked files
// don't count as "unclean" for merge-gating purposes).
func (s *Status) Clean() bool {
	return len(s.Modified) == 0 && len(s.Added) == 0 && len(s.Deleted) == 0
}

// GetStatus parses `git status --porcelain` into a Status.
func (g *Git) GetStatus() (*Status, error) {
	out, err := g.run("status", "--porcelain")
	if err != nil {
		return nil, err
	}
	var s Status
	if out == "" {
		return &s, nil
	}
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 3 {
			continue
		}
		code := line[:2]
		file := line[3:]
		switch {
		case code == "??":
			s.Untracked = append(s.Untracked, file)
		case strings.Contains(code, "M"):
			s.Modified = append(s.Modified, file)
		case strings.Contains(code, "A"):
			s.Added = append(s.Added, file)
		case strings.Contains(code, "D"):
			s.Deleted = append(s.Deleted, file)
		}
	}
	return &s, nil
}

// HasUncommittedTrackedChanges reports whether the tree has any tracked
// (non-untracked) modification: the session exit contract blocks on this,
// but never on untracked files alone.
func (g *Git) HasUncommittedTrackedChanges() (bool, error) {
	s, err := g.GetStatus()
	if err != nil {
		return false, err
	}
	return !s.Clean(), nil
}

// Push pushes branch to remote, optionally with --force.
func (g *Git) Push(remote, branch string, force bool) error {
	args := []string{"push", remote, branch}
	if force {
		args = append(args, "--force")
	}
	_, err := g.run(args...)
	return err
}

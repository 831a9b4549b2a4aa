package transition

import (
	"errors"
	"testing"

	"github.com/foreman-run/foreman/internal/fmerrors"
	"github.com/foreman-run/foreman/internal/operation"
)

func newEngine(t *testing.T) (*Engine, *operation.Store) {
	t.Helper()
	dir := t.TempDir()
	store := operation.NewStore(dir)
	return NewEngine(store, nil), store
}

func TestTransition_LegalPath(t *testing.T) {
	eng, store := newEngine(t)
	op := operation.New("op1", operation.KindFeature, true)
	if err := store.Create(op); err != nil {
		t.Fatal(err)
	}

	steps := []operation.Phase{
		operation.PhasePlanned, operation.PhaseQueued, operation.PhaseExecuting,
	}
	for _, to := range steps {
		if err := eng.Transition("op1", to, Options{}); err != nil {
			t.Fatalf("transition to %s: %v", to, err)
		}
	}

	if err := eng.Transition("op1", operation.PhaseCompleted, Options{}); err != nil {
		t.Fatal(err)
	}
	if err := eng.Transition("op1", operation.PhasePendingMerge, Options{
		WorktreeExists: func(string) bool { return true },
	}); err != nil {
		t.Fatal(err)
	}
	if err := eng.Transition("op1", operation.PhaseMerged, Options{MergeCommit: "deadbeef"}); err != nil {
		t.Fatal(err)
	}

	got, err := store.Read("op1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Phase != operation.PhaseMerged || got.MergeCommit != "deadbeef" || got.MergedAt == nil {
		t.Fatalf("unexpected final state: %#v", got)
	}
}

func TestTransition_RejectsIllegalJump(t *testing.T) {
	eng, store := newEngine(t)
	op := operation.New("op1", operation.KindFeature, false)
	if err := store.Create(op); err != nil {
		t.Fatal(err)
	}

	err := eng.Transition("op1", operation.PhaseExecuting, Options{})
	if !errors.Is(err, fmerrors.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestTransition_RejectsFromTerminal(t *testing.T) {
	eng, store := newEngine(t)
	op := operation.New("op1", operation.KindFeature, false)
	if err := store.Create(op); err != nil {
		t.Fatal(err)
	}
	if err := eng.Transition("op1", operation.PhaseCancelled, Options{}); err != nil {
		t.Fatal(err)
	}
	if err := eng.Transition("op1", operation.PhasePlanned, Options{}); !errors.Is(err, fmerrors.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition from terminal phase, got %v", err)
	}
}

func TestTransition_HeldBlocksNonExceptedTargets(t *testing.T) {
	eng, store := newEngine(t)
	op := operation.New("op1", operation.KindFeature, false)
	if err := store.Create(op); err != nil {
		t.Fatal(err)
	}
	if err := eng.Hold("op1"); err != nil {
		t.Fatal(err)
	}

	if err := eng.Transition("op1", operation.PhasePlanned, Options{}); !errors.Is(err, fmerrors.ErrHeld) {
		t.Fatalf("expected ErrHeld, got %v", err)
	}

	// failed is allowed despite hold.
	if err := eng.Transition("op1", operation.PhaseFailed, Options{FailureReason: "boom"}); err != nil {
		t.Fatalf("failed transition should be permitted while held: %v", err)
	}
}

func TestTransition_HoldIsIdempotent(t *testing.T) {
	eng, store := newEngine(t)
	op := operation.New("op1", operation.KindFeature, false)
	if err := store.Create(op); err != nil {
		t.Fatal(err)
	}
	if err := eng.Hold("op1"); err != nil {
		t.Fatal(err)
	}
	if err := eng.Hold("op1"); err != nil {
		t.Fatal(err)
	}
	got, err := store.Read("op1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Held || got.HeldAt == nil {
		t.Fatalf("expected held with held_at set, got %#v", got)
	}
}

func TestTransition_MergedRequiresMergeCommit(t *testing.T) {
	eng, store := newEngine(t)
	op := operation.New("op1", operation.KindFeature, false)
	if err := store.Create(op); err != nil {
		t.Fatal(err)
	}
	for _, to := range []operation.Phase{operation.PhasePlanned, operation.PhaseQueued, operation.PhaseExecuting, operation.PhaseCompleted} {
		if err := eng.Transition("op1", to, Options{}); err != nil {
			t.Fatal(err)
		}
	}
	if err := eng.Transition("op1", operation.PhaseMerged, Options{}); err == nil {
		t.Fatal("expected error transitioning to merged without a merge commit")
	}
}

func TestResumeTarget(t *testing.T) {
	cases := []struct {
		name string
		op   *operation.Operation
		want operation.Phase
	}{
		{"epic set", &operation.Operation{EpicID: "E1"}, operation.PhaseQueued},
		{"plan file only", &operation.Operation{PlanFile: "plan.md"}, operation.PhasePlanned},
		{"neither", &operation.Operation{}, operation.PhaseInit},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := ResumeTarget(c.op); got != c.want {
				t.Fatalf("ResumeTarget() = %s, want %s", got, c.want)
			}
		})
	}
}

func TestTransition_ResumeFromFailed(t *testing.T) {
	eng, store := newEngine(t)
	op := operation.New("op1", operation.KindFeature, false)
	op.EpicID = "E1"
	if err := store.Create(op); err != nil {
		t.Fatal(err)
	}
	if err := eng.Transition("op1", operation.PhaseFailed, Options{FailureReason: "boom"}); err != nil {
		t.Fatal(err)
	}
	if err := eng.Resume("op1"); err != nil {
		t.Fatal(err)
	}
	got, err := store.Read("op1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Phase != operation.PhaseQueued || got.FailureReason != "" {
		t.Fatalf("unexpected post-resume state: %#v", got)
	}
}

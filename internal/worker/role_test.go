package worker

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadRoleDefinition_BuiltinExecutor(t *testing.T) {
	dir := t.TempDir()
	def, err := LoadRoleDefinition(dir, "executor")
	if err != nil {
		t.Fatal(err)
	}
	if def.Role != "executor" {
		t.Fatalf("role = %q, want executor", def.Role)
	}
	if def.Session.Pattern == "" {
		t.Fatal("expected a built-in session pattern")
	}
	if def.Health.ConsecutiveFailures != 2 {
		t.Fatalf("consecutive_failures = %d, want 2", def.Health.ConsecutiveFailures)
	}
}

func TestLoadRoleDefinition_UnknownRole(t *testing.T) {
	if _, err := LoadRoleDefinition(t.TempDir(), "nonexistent"); err == nil {
		t.Fatal("expected an error for an unknown role")
	}
}

func TestLoadRoleDefinition_OverrideMergesWithoutReplacing(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "roles"), 0o755); err != nil {
		t.Fatal(err)
	}
	override := `
role = "executor"

[session]
start_command = "exec custom-agent"

[env]
EXTRA = "yes"
`
	if err := os.WriteFile(filepath.Join(dir, "roles", "executor.toml"), []byte(override), 0o644); err != nil {
		t.Fatal(err)
	}

	def, err := LoadRoleDefinition(dir, "executor")
	if err != nil {
		t.Fatal(err)
	}
	if def.Session.StartCommand != "exec custom-agent" {
		t.Fatalf("start_command = %q", def.Session.StartCommand)
	}
	if def.Session.Pattern == "" {
		t.Fatal("expected built-in pattern to survive the override merge")
	}
	if def.Env["EXTRA"] != "yes" {
		t.Fatalf("expected merged env to include override var, got %v", def.Env)
	}
	if def.Env["V0_OP"] == "" {
		t.Fatalf("expected built-in env vars to survive the merge, got %v", def.Env)
	}
}

func TestExpandPattern(t *testing.T) {
	got := ExpandPattern("fm-exec-{name}", TemplateVars{Name: "op1"})
	if got != "fm-exec-op1" {
		t.Fatalf("ExpandPattern = %q", got)
	}
}

func TestExpandEnv_IncludesFixedAgentRuntimeVars(t *testing.T) {
	def, err := LoadRoleDefinition(t.TempDir(), "executor")
	if err != nil {
		t.Fatal(err)
	}
	env := ExpandEnv(def, TemplateVars{
		Operation: "op1", PlanLabel: "plan-op1", Worktree: "/tmp/op1",
		Remote: "origin", SharedBranch: "main",
	})
	for _, key := range []string{"V0_OP", "V0_PLAN_LABEL", "V0_WORKTREE", "V0_REMOTE", "V0_SHARED_BRANCH"} {
		if env[key] == "" {
			t.Errorf("expected %s to be set, env=%v", key, env)
		}
	}
}

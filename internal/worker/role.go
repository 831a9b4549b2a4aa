package worker

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed roles/*.toml
var builtinRolesFS embed.FS

// RoleDefinition describes how a worker kind's agent session is launched
// and monitored: its tmux session shape, environment, and health/idle
// thresholds. Two roles ship built in: "executor" drives an operation's
// work, "resolver" handles a conflicting merge.
type RoleDefinition struct {
	Role    string            `toml:"role"`
	Session RoleSessionConfig `toml:"session"`
	Env     map[string]string `toml:"env,omitempty"`
	Health  RoleHealthConfig  `toml:"health"`
}

// RoleSessionConfig is the tmux session shape for a role.
type RoleSessionConfig struct {
	// Pattern is the tmux session name, templated with {name}, {operation},
	// {worktree}, {plan_label}.
	Pattern string `toml:"pattern"`
	// WorkDir is the session's working directory, templated the same way.
	WorkDir string `toml:"work_dir"`
	// NeedsPreSync requires a reset-to-remote before the session launches.
	NeedsPreSync bool `toml:"needs_pre_sync"`
	// StartCommand is run inside the freshly created session.
	StartCommand string `toml:"start_command,omitempty"`
}

// RoleHealthConfig holds health-check and idle-detection thresholds.
type RoleHealthConfig struct {
	PingTimeout         Duration `toml:"ping_timeout"`
	ConsecutiveFailures int      `toml:"consecutive_failures"`
	KillCooldown        Duration `toml:"kill_cooldown"`
	StuckThreshold      Duration `toml:"stuck_threshold"`
}

// Duration wraps time.Duration for clean TOML text (de)serialization.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func (d Duration) String() string { return d.Duration.String() }

// LoadRoleDefinition loads role from its embedded built-in default, merged
// with an optional override at buildRoot/roles/<role>.toml. The override
// only needs to specify the fields it changes.
func LoadRoleDefinition(buildRoot, role string) (*RoleDefinition, error) {
	def, err := loadBuiltinRole(role)
	if err != nil {
		return nil, err
	}

	overridePath := filepath.Join(buildRoot, "roles", role+".toml")
	if override, err := loadRoleFile(overridePath); err == nil {
		mergeRoleDefinition(def, override)
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	return def, nil
}

func loadBuiltinRole(role string) (*RoleDefinition, error) {
	data, err := builtinRolesFS.ReadFile("roles/" + role + ".toml")
	if err != nil {
		return nil, fmt.Errorf("role %q has no built-in default: %w", role, err)
	}
	var def RoleDefinition
	if err := toml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parsing built-in role %s: %w", role, err)
	}
	return &def, nil
}

func loadRoleFile(path string) (*RoleDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var def RoleDefinition
	if err := toml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &def, nil
}

// mergeRoleDefinition applies every non-zero field of override onto base.
func mergeRoleDefinition(base, override *RoleDefinition) {
	if override.Session.Pattern != "" {
		base.Session.Pattern = override.Session.Pattern
	}
	if override.Session.WorkDir != "" {
		base.Session.WorkDir = override.Session.WorkDir
	}
	if override.Session.NeedsPreSync {
		base.Session.NeedsPreSync = true
	}
	if override.Session.StartCommand != "" {
		base.Session.StartCommand = override.Session.StartCommand
	}
	if override.Env != nil {
		if base.Env == nil {
			base.Env = make(map[string]string)
		}
		for k, v := range override.Env {
			base.Env[k] = v
		}
	}
	if override.Health.PingTimeout.Duration != 0 {
		base.Health.PingTimeout = override.Health.PingTimeout
	}
	if override.Health.ConsecutiveFailures != 0 {
		base.Health.ConsecutiveFailures = override.Health.ConsecutiveFailures
	}
	if override.Health.KillCooldown.Duration != 0 {
		base.Health.KillCooldown = override.Health.KillCooldown
	}
	if override.Health.StuckThreshold.Duration != 0 {
		base.Health.StuckThreshold = override.Health.StuckThreshold
	}
}

// TemplateVars are the placeholder values available when expanding a role's
// session pattern/work dir/env entries.
type TemplateVars struct {
	Name         string
	Operation    string
	Worktree     string
	PlanLabel    string
	Remote       string
	SharedBranch string
}

// ExpandPattern substitutes {name}, {operation}, {worktree}, {plan_label},
// {remote}, and {shared_branch} in pattern.
func ExpandPattern(pattern string, v TemplateVars) string {
	r := strings.NewReplacer(
		"{name}", v.Name,
		"{operation}", v.Operation,
		"{worktree}", v.Worktree,
		"{plan_label}", v.PlanLabel,
		"{remote}", v.Remote,
		"{shared_branch}", v.SharedBranch,
	)
	return r.Replace(pattern)
}

// ExpandEnv expands every value in def.Env against v, plus the fixed
// V0_OP/V0_PLAN_LABEL/V0_WORKTREE/V0_REMOTE/V0_SHARED_BRANCH variables the
// agent runtime contract requires regardless of role.
func ExpandEnv(def *RoleDefinition, v TemplateVars) map[string]string {
	env := map[string]string{
		"V0_OP":            v.Operation,
		"V0_PLAN_LABEL":    v.PlanLabel,
		"V0_WORKTREE":      v.Worktree,
		"V0_REMOTE":        v.Remote,
		"V0_SHARED_BRANCH": v.SharedBranch,
	}
	for k, pattern := range def.Env {
		env[k] = ExpandPattern(pattern, v)
	}
	return env
}

// Package fmconfig provides the core's configuration types and
// serialization: a single config.json at the build root plus an optional
// local override file, merged shallowly with local winning.
package fmconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// CurrentConfigVersion is the schema version this package writes.
const CurrentConfigVersion = 1

// Config is the behavioral configuration for one build root: merge queue
// daemon tuning, worker supervision tuning, and the tracker/git
// coordinates the daemon operates against.
type Config struct {
	Type    string `json:"type"` // "foreman-config"
	Version int    `json:"version"`

	Remote       string `json:"remote"`        // git remote name, e.g. "origin"
	SharedBranch string `json:"shared_branch"` // branch the merge daemon integrates into

	MergeQueue *MergeQueueConfig `json:"merge_queue,omitempty"`
	Worker     *WorkerConfig     `json:"worker,omitempty"`
}

// MergeQueueConfig tunes the merge queue daemon (component C8).
type MergeQueueConfig struct {
	// PollInterval is the daemon's poll cycle period, e.g. "30s".
	PollInterval string `json:"poll_interval,omitempty"`

	// LockMaxRetries and LockBaseDelay describe document-lock acquisition
	// backoff; LockBaseDelay is a duration string, e.g. "25ms". The lock
	// code does not read them: document locks always use
	// atomicstore.DefaultAcquireOpts.
	LockMaxRetries int    `json:"lock_max_retries,omitempty"`
	LockBaseDelay  string `json:"lock_base_delay,omitempty"`

	// PushRetries and VerifyRetries bound the post-merge push/ancestor
	// verification retry loops.
	PushRetries   int `json:"push_retries,omitempty"`
	VerifyRetries int `json:"verify_retries,omitempty"`

	// RequireRemote additionally verifies merge_commit is an ancestor of
	// the remote's shared branch, not just the local one.
	RequireRemote bool `json:"require_remote"`

	// DeleteMergedBranches controls whether a merged operation's remote
	// branch is deleted after a successful merge.
	DeleteMergedBranches bool `json:"delete_merged_branches"`
}

// DefaultMergeQueueConfig returns the daemon's out-of-the-box tuning.
func DefaultMergeQueueConfig() *MergeQueueConfig {
	return &MergeQueueConfig{
		PollInterval:          "30s",
		LockMaxRetries:        8,
		LockBaseDelay:         "25ms",
		PushRetries:          3,
		VerifyRetries:        3,
		RequireRemote:        true,
		DeleteMergedBranches: true,
	}
}

// PollIntervalDuration parses PollInterval, falling back to 30s on a
// missing or unparseable value.
func (c *MergeQueueConfig) PollIntervalDuration() time.Duration {
	if c == nil || c.PollInterval == "" {
		return 30 * time.Second
	}
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// LockBaseDelayDuration parses LockBaseDelay, falling back to 25ms.
func (c *MergeQueueConfig) LockBaseDelayDuration() time.Duration {
	if c == nil || c.LockBaseDelay == "" {
		return 25 * time.Millisecond
	}
	d, err := time.ParseDuration(c.LockBaseDelay)
	if err != nil {
		return 25 * time.Millisecond
	}
	return d
}

// WorkerConfig tunes the supervisor poller (component C9).
type WorkerConfig struct {
	// PollInterval is the supervision loop's check period, e.g. "5s".
	PollInterval string `json:"poll_interval,omitempty"`

	// CrashThreshold is loaded and saved but not read by the supervisor,
	// which always stops after the second consecutive no-progress crash.
	CrashThreshold int `json:"crash_threshold,omitempty"`

	// BackoffBaseSeconds and BackoffCapSeconds tune relaunch backoff:
	// base * 2^(count-1), capped.
	BackoffBaseSeconds int `json:"backoff_base_seconds,omitempty"`
	BackoffCapSeconds  int `json:"backoff_cap_seconds,omitempty"`

	// IdleTicks is how many consecutive unchanged-artifact poll ticks
	// before the idle-watch kills a session.
	IdleTicks int `json:"idle_ticks,omitempty"`
}

// DefaultWorkerConfig returns the supervisor's out-of-the-box tuning.
func DefaultWorkerConfig() *WorkerConfig {
	return &WorkerConfig{
		PollInterval:       "5s",
		CrashThreshold:     2,
		BackoffBaseSeconds: 5,
		BackoffCapSeconds:  300,
		IdleTicks:          12,
	}
}

// PollIntervalDuration parses PollInterval, falling back to 5s.
func (c *WorkerConfig) PollIntervalDuration() time.Duration {
	if c == nil || c.PollInterval == "" {
		return 5 * time.Second
	}
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// BackoffDelay returns 5*2^(count-1) seconds capped at BackoffCapSeconds,
// for the count'th consecutive crash (count >= 1).
func (c *WorkerConfig) BackoffDelay(count int) time.Duration {
	base, ceiling := 5, 300
	if c != nil {
		if c.BackoffBaseSeconds > 0 {
			base = c.BackoffBaseSeconds
		}
		if c.BackoffCapSeconds > 0 {
			ceiling = c.BackoffCapSeconds
		}
	}
	if count < 1 {
		count = 1
	}
	seconds := base
	for i := 1; i < count; i++ {
		seconds *= 2
		if seconds >= ceiling {
			seconds = ceiling
			break
		}
	}
	return time.Duration(seconds) * time.Second
}

// Default returns a Config with every sub-section populated by its
// defaults, for a build root with no config.json yet.
func Default() *Config {
	return &Config{
		Type:         "foreman-config",
		Version:      CurrentConfigVersion,
		Remote:       "origin",
		SharedBranch: "main",
		MergeQueue:   DefaultMergeQueueConfig(),
		Worker:       DefaultWorkerConfig(),
	}
}

func validate(c *Config) error {
	if c.Type != "" && c.Type != "foreman-config" {
		return fmt.Errorf("unexpected config type %q", c.Type)
	}
	if c.Remote == "" {
		return fmt.Errorf("config: remote must not be empty")
	}
	if c.SharedBranch == "" {
		return fmt.Errorf("config: shared_branch must not be empty")
	}
	return nil
}

// Save writes c to path as indented JSON.
func Save(path string, c *Config) error {
	if err := validate(c); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Load reads the config at path. Missing sub-sections (merge_queue,
// worker) are filled with their defaults so callers never see a nil
// pointer for a present file written by an older version of this package.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := validate(&c); err != nil {
		return nil, err
	}
	if c.MergeQueue == nil {
		c.MergeQueue = DefaultMergeQueueConfig()
	}
	if c.Worker == nil {
		c.Worker = DefaultWorkerConfig()
	}
	return &c, nil
}

// LoadOrDefault loads path if present, else returns Default(). A
// corrupt file is still surfaced as an error.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return Load(path)
}

// LoadWithLocalOverride loads path, then shallow-merges localPath on top
// if present: any non-zero field in the local override replaces the
// corresponding base field. Mirrors the wisp-style "local config wins"
// convention for per-developer overrides that should not be committed.
func LoadWithLocalOverride(path, localPath string) (*Config, error) {
	base, err := LoadOrDefault(path)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(localPath); err != nil {
		if os.IsNotExist(err) {
			return base, nil
		}
		return nil, err
	}
	local, err := Load(localPath)
	if err != nil {
		return nil, err
	}
	mergeOverride(base, local)
	return base, nil
}

func mergeOverride(base, local *Config) {
	if local.Remote != "" {
		base.Remote = local.Remote
	}
	if local.SharedBranch != "" {
		base.SharedBranch = local.SharedBranch
	}
	if local.MergeQueue != nil {
		base.MergeQueue = local.MergeQueue
	}
	if local.Worker != nil {
		base.Worker = local.Worker
	}
}

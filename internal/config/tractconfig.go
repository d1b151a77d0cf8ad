// Package config loads a tract's on-disk configuration: the token-budget
// policy, storage path, and default LLM/tokenizer settings a Tract.open
// call needs before any commit is read (spec §6 construction).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// BudgetMode mirrors engine.BudgetMode without importing the engine
// package, so config stays a leaf dependency.
type BudgetMode string

const (
	BudgetWarn     BudgetMode = "warn"
	BudgetReject   BudgetMode = "reject"
	BudgetCallback BudgetMode = "callback"
)

// TokenBudgetConfig is the on-disk form of spec §6's
// TokenBudgetConfig{max_tokens, mode, callback?} -- Callback is a runtime
// concern supplied by Tract.open's caller, not persisted.
type TokenBudgetConfig struct {
	MaxTokens int        `yaml:"max_tokens"`
	Mode      BudgetMode `yaml:"mode"`
}

// TractConfig is the subset of a tract's configuration persisted to
// .tract/config.yaml, read before the store is opened (mirrors the
// teacher's startup-settings-in-yaml split between bootstrap flags read
// before the database opens and everything else stored in SQLite).
type TractConfig struct {
	TractID          string            `yaml:"tract_id"`
	StoragePath      string            `yaml:"storage_path"`
	DefaultBranch    string            `yaml:"default_branch"`
	Budget           TokenBudgetConfig `yaml:"budget"`
	TokenizerModel   string            `yaml:"tokenizer_model"`
	OrphanRetentionDays int            `yaml:"orphan_retention_days"`
}

// DefaultConfig returns the zero-configuration tract: no budget policy,
// main as the default branch, cl100k_base-compatible tokenizer.
func DefaultConfig() TractConfig {
	return TractConfig{
		DefaultBranch:       "main",
		TokenizerModel:       "gpt-4",
		OrphanRetentionDays: 7,
	}
}

// Load reads dir/config.yaml (if present) and layers environment
// overrides on top via viper, mirroring the teacher's
// "env vars take precedence over config file values" rule.
func Load(dir string) (TractConfig, error) {
	cfg := DefaultConfig()
	path := filepath.Join(dir, "config.yaml")

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}

	v := viper.New()
	v.SetEnvPrefix("TRACT")
	v.AutomaticEnv()
	if v.IsSet("budget_max_tokens") {
		cfg.Budget.MaxTokens = v.GetInt("budget_max_tokens")
	}
	if v.IsSet("budget_mode") {
		cfg.Budget.Mode = BudgetMode(v.GetString("budget_mode"))
	}
	if v.IsSet("default_branch") {
		cfg.DefaultBranch = v.GetString("default_branch")
	}
	return cfg, nil
}

// Save writes cfg to dir/config.yaml, creating dir if needed.
func Save(dir string, cfg TractConfig) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("config: mkdir %s: %w", dir, err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// FindUp walks parent directories of start looking for a .tract directory,
// the way the teacher's config resolution walks up from cwd looking for
// .beads. Returns "" if none is found.
func FindUp(start string) string {
	dir := start
	for {
		candidate := filepath.Join(dir, ".tract")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// retentionCutoff is a small helper so gc's age comparisons and config's
// persisted day counts share one notion of "days old".
func retentionCutoff(days int, now time.Time) time.Time {
	return now.AddDate(0, 0, -days)
}

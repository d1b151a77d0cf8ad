package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tractvcs/tract/internal/config"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, config.DefaultConfig(), cfg)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	cfg := config.TractConfig{
		TractID:             "tract-1",
		StoragePath:         "/var/tract/data.db",
		DefaultBranch:       "trunk",
		Budget:              config.TokenBudgetConfig{MaxTokens: 4000, Mode: config.BudgetReject},
		TokenizerModel:      "cl100k_base",
		OrphanRetentionDays: 14,
	}
	require.NoError(t, config.Save(dir, cfg))

	loaded, err := config.Load(dir)
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)

	require.FileExists(t, filepath.Join(dir, "config.yaml"))
}

func TestLoadEnvOverridesTakePrecedence(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, config.Save(dir, config.TractConfig{DefaultBranch: "main", Budget: config.TokenBudgetConfig{MaxTokens: 100, Mode: config.BudgetWarn}}))

	t.Setenv("TRACT_BUDGET_MAX_TOKENS", "9000")
	t.Setenv("TRACT_DEFAULT_BRANCH", "env-branch")

	cfg, err := config.Load(dir)
	require.NoError(t, err)
	require.Equal(t, 9000, cfg.Budget.MaxTokens)
	require.Equal(t, "env-branch", cfg.DefaultBranch)
}

func TestFindUpLocatesNearestTractDir(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".tract"), 0o755))
	nested := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	found := config.FindUp(nested)
	require.Equal(t, filepath.Join(root, ".tract"), found)
}

func TestFindUpReturnsEmptyWhenNoneExists(t *testing.T) {
	found := config.FindUp(t.TempDir())
	require.Empty(t, found)
}

package config_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tractvcs/tract/internal/config"
	"github.com/tractvcs/tract/internal/model"
)

func TestLoadRegistryMissingFileIsEmpty(t *testing.T) {
	registry, err := config.LoadRegistry(t.TempDir())
	require.NoError(t, err)
	require.Empty(t, registry.Entries)
}

func TestSaveThenLoadRegistryRoundTrips(t *testing.T) {
	dir := t.TempDir()
	registry := model.NewRegistry()
	registry.Register("x-ticket", model.RegistryEntry{
		DefaultRole:    model.RoleUser,
		RequiredFields: []string{"summary", "priority"},
	})

	require.NoError(t, config.SaveRegistry(dir, registry))

	loaded, err := config.LoadRegistry(dir)
	require.NoError(t, err)
	require.Len(t, loaded.Entries, 1)
	entry, ok := loaded.Entries["x-ticket"]
	require.True(t, ok)
	require.Equal(t, model.RoleUser, entry.DefaultRole)
	require.ElementsMatch(t, []string{"summary", "priority"}, entry.RequiredFields)
}

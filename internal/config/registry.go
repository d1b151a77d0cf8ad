package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/tractvcs/tract/internal/model"
)

// registryFile is the on-disk TOML form of a tract's custom content-type
// registry (spec §4.A "custom tags"): one [[types]] table per registered
// type, since each needs its own required-field list and default role.
type registryFile struct {
	Types []registryEntryFile `toml:"types"`
}

type registryEntryFile struct {
	Tag            string   `toml:"tag"`
	DefaultRole    string   `toml:"default_role"`
	RequiredFields []string `toml:"required_fields"`
}

// LoadRegistry reads dir/registry.toml into a model.Registry. A missing
// file yields an empty registry, not an error.
func LoadRegistry(dir string) (*model.Registry, error) {
	registry := model.NewRegistry()
	path := filepath.Join(dir, "registry.toml")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return registry, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var file registryFile
	if _, err := toml.Decode(string(data), &file); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	for _, e := range file.Types {
		registry.Register(model.ContentType(e.Tag), model.RegistryEntry{
			DefaultRole:    model.Role(e.DefaultRole),
			RequiredFields: e.RequiredFields,
		})
	}
	return registry, nil
}

// SaveRegistry writes registry to dir/registry.toml.
func SaveRegistry(dir string, registry *model.Registry) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("config: mkdir %s: %w", dir, err)
	}
	file := registryFile{}
	for tag, entry := range registry.Entries {
		file.Types = append(file.Types, registryEntryFile{
			Tag:            string(tag),
			DefaultRole:    string(entry.DefaultRole),
			RequiredFields: entry.RequiredFields,
		})
	}

	path := filepath.Join(dir, "registry.toml")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(file); err != nil {
		return fmt.Errorf("config: encode %s: %w", path, err)
	}
	return nil
}

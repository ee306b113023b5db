package devices

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/KevinKickass/vprocontrol/internal/types"
	"gopkg.in/yaml.v3"
)

type InventoryLoader struct {
	validator   *Validator
	searchPaths []string
}

func NewInventoryLoader(searchPaths []string) (*InventoryLoader, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create validator: %w", err)
	}

	return &InventoryLoader{
		validator:   validator,
		searchPaths: searchPaths,
	}, nil
}

// Load reads an inventory file (.json, .yaml or .yml). Relative paths are
// tried in each search path, then as given.
func (l *InventoryLoader) Load(path string) ([]types.DeviceDefinition, error) {
	data, foundPath, err := l.read(path)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(foundPath)) {
	case ".yaml", ".yml":
		if data, err = yamlToJSON(data); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", foundPath, err)
		}
	}

	return l.Parse(data, foundPath)
}

// Parse validates and decodes a JSON inventory document. source is used in
// error messages only.
func (l *InventoryLoader) Parse(data []byte, source string) ([]types.DeviceDefinition, error) {
	if err := l.validator.ValidateInventory(data); err != nil {
		return nil, fmt.Errorf("validation failed for %s: %w", source, err)
	}

	var inv types.Inventory
	if err := json.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("failed to unmarshal inventory: %w", err)
	}

	return inventoryDevices(inv), nil
}

func (l *InventoryLoader) read(path string) ([]byte, string, error) {
	if !filepath.IsAbs(path) {
		for _, searchPath := range l.searchPaths {
			fullPath := filepath.Join(searchPath, path)
			if data, err := os.ReadFile(fullPath); err == nil {
				return data, fullPath, nil
			}
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("inventory not found: %s (searched in: %v): %w", path, l.searchPaths, err)
	}
	return data, path, nil
}

// inventoryDevices merges both inventory layouts. Legacy entries come last,
// sorted by name.
func inventoryDevices(inv types.Inventory) []types.DeviceDefinition {
	defs := append([]types.DeviceDefinition(nil), inv.Devices...)

	names := make([]string, 0, len(inv.VPro))
	for name := range inv.VPro {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		defs = append(defs, types.DeviceDefinition{Name: name, Host: inv.VPro[name]})
	}
	return defs
}

func yamlToJSON(data []byte) ([]byte, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// MillRegistry describes the mills an operator may connect to, loaded from
// an optional YAML file. It is the source of per-variable hard bounds and
// engineering units; variables absent from the file fall back to backend
// metadata only.
type MillRegistry struct {
	Mills map[string]MillEntry `yaml:"mills"`
}

// MillEntry holds static configuration for one mill.
type MillEntry struct {
	DisplayName string                   `yaml:"display_name"`
	Variables   map[string]VariableEntry `yaml:"variables"`
}

// VariableEntry holds the physical limits and unit for one process variable.
type VariableEntry struct {
	Unit string     `yaml:"unit"`
	Hard [2]float64 `yaml:"hard"` // [low, high]
}

// LoadMills reads a mill registry YAML file. Returns nil (not an error) if
// path is empty or the file does not exist.
func LoadMills(path string) (*MillRegistry, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var reg MillRegistry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", path, err)
	}
	for mill, entry := range reg.Mills {
		for id, v := range entry.Variables {
			if v.Hard[0] >= v.Hard[1] {
				return nil, fmt.Errorf("mill %s variable %s: hard bounds [%g, %g] are not a valid interval",
					mill, id, v.Hard[0], v.Hard[1])
			}
		}
	}
	return &reg, nil
}

// HardBounds returns the configured hard bounds for a variable of a mill.
// Safe to call on a nil registry.
func (r *MillRegistry) HardBounds(mill, id string) (low, high float64, ok bool) {
	if r == nil {
		return 0, 0, false
	}
	entry, ok := r.Mills[mill]
	if !ok {
		return 0, 0, false
	}
	v, ok := entry.Variables[id]
	if !ok {
		return 0, 0, false
	}
	return v.Hard[0], v.Hard[1], true
}

// Unit returns the engineering unit for a variable, or "" when unknown.
func (r *MillRegistry) Unit(mill, id string) string {
	if r == nil {
		return ""
	}
	if entry, ok := r.Mills[mill]; ok {
		return entry.Variables[id].Unit
	}
	return ""
}

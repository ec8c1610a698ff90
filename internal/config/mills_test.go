package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const millsYAML = `
mills:
  Mill01:
    display_name: "Mill 1"
    variables:
      Ore:
        unit: "t/h"
        hard: [60, 90]
      PSI80:
        unit: "%"
        hard: [25, 35]
`

func writeMills(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mills.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadMills(t *testing.T) {
	reg, err := LoadMills(writeMills(t, millsYAML))
	require.NoError(t, err)
	require.NotNil(t, reg)

	low, high, ok := reg.HardBounds("Mill01", "Ore")
	require.True(t, ok)
	assert.Equal(t, 60.0, low)
	assert.Equal(t, 90.0, high)
	assert.Equal(t, "t/h", reg.Unit("Mill01", "Ore"))

	_, _, ok = reg.HardBounds("Mill01", "Nope")
	assert.False(t, ok)
	_, _, ok = reg.HardBounds("Mill09", "Ore")
	assert.False(t, ok)
}

func TestLoadMillsMissingFile(t *testing.T) {
	reg, err := LoadMills("")
	require.NoError(t, err)
	assert.Nil(t, reg)

	reg, err = LoadMills(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Nil(t, reg)
}

func TestLoadMillsRejectsInvalidInterval(t *testing.T) {
	bad := `
mills:
  Mill01:
    variables:
      Ore:
        hard: [90, 60]
`
	_, err := LoadMills(writeMills(t, bad))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Ore")
}

func TestNilRegistryIsSafe(t *testing.T) {
	var reg *MillRegistry
	_, _, ok := reg.HardBounds("Mill01", "Ore")
	assert.False(t, ok)
	assert.Empty(t, reg.Unit("Mill01", "Ore"))
}

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, "http://localhost:8500", cfg.BackendURL)
	assert.Equal(t, 300, cfg.MaxPolls)
	assert.NotZero(t, cfg.PollInterval)
	assert.NotZero(t, cfg.SliderDebounce)
}
